package models

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies the upstream provider a raw record came from.
type Source string

const (
	SourceWebAnalytics Source = "web_analytics"
	SourcePayments     Source = "payments"
)

// RawMetricRecord is a single (day, source, metric) observation as returned
// by a fetcher. Records are immutable once returned and are discarded after
// datamart assembly.
type RawMetricRecord struct {
	Date       time.Time
	Source     Source
	MetricName string
	Value      decimal.Decimal
}

// ErrEmptyRange is returned for caller-supplied ranges where start > end.
// This is a programming error and is never retried.
var ErrEmptyRange = errors.New("empty date range: start after end")

// DateRange is an inclusive [Start, End] span of calendar days.
// Both bounds are normalized to midnight UTC.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: DayUTC(start), End: DayUTC(end)}
	if r.Start.After(r.End) {
		return DateRange{}, ErrEmptyRange
	}
	return r, nil
}

// LastNDays returns the trailing n-day window ending yesterday relative to now.
func LastNDays(n int, now time.Time) DateRange {
	end := DayUTC(now).AddDate(0, 0, -1)
	return DateRange{Start: end.AddDate(0, 0, -(n - 1)), End: end}
}

// Days reports the number of calendar days covered, inclusive.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

func (r DateRange) Contains(t time.Time) bool {
	d := DayUTC(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

func (r DateRange) String() string {
	return r.Start.Format("2006-01-02") + ".." + r.End.Format("2006-01-02")
}

func DayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// KpiRow is one day of joined KPIs. ConversionRate and RevenuePerSession are
// NaN when Sessions is zero: the metric is undefined, not zero. LtvCacRatio
// is a placeholder column and is always NaN, no data source computes it.
type KpiRow struct {
	Date              time.Time
	Sessions          int
	NewUsers          int
	GrossRevenue      decimal.Decimal
	Transactions      int
	ConversionRate    float64
	RevenuePerSession float64
	LtvCacRatio       float64
}

// MarshalJSON encodes NaN ratio cells as null so the row survives
// encoding/json, which rejects NaN. Dashboard consumers treat null as
// "undefined metric".
func (k KpiRow) MarshalJSON() ([]byte, error) {
	type row struct {
		Date              string   `json:"date"`
		Sessions          int      `json:"sessions"`
		NewUsers          int      `json:"new_users"`
		GrossRevenue      string   `json:"gross_revenue"`
		Transactions      int      `json:"transactions"`
		ConversionRate    *float64 `json:"conversion_rate"`
		RevenuePerSession *float64 `json:"revenue_per_session"`
		LtvCacRatio       *float64 `json:"ltv_cac_ratio"`
	}
	return json.Marshal(row{
		Date:              k.Date.Format("2006-01-02"),
		Sessions:          k.Sessions,
		NewUsers:          k.NewUsers,
		GrossRevenue:      k.GrossRevenue.StringFixed(2),
		Transactions:      k.Transactions,
		ConversionRate:    nanToNil(k.ConversionRate),
		RevenuePerSession: nanToNil(k.RevenuePerSession),
		LtvCacRatio:       nanToNil(k.LtvCacRatio),
	})
}

func nanToNil(f float64) *float64 {
	if math.IsNaN(f) {
		return nil
	}
	return &f
}

// KpiDatamart is the assembled per-day KPI table: exactly one row per date in
// Range, dates strictly increasing, no gaps.
type KpiDatamart struct {
	Range DateRange `json:"range"`
	Rows  []KpiRow  `json:"rows"`
}

// Priority tags an action item.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// ParsePriority maps free-form model output to a Priority tag.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "h":
		return PriorityHigh, true
	case "medium", "med", "m":
		return PriorityMedium, true
	case "low", "l":
		return PriorityLow, true
	}
	return "", false
}

type ActionItem struct {
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
}

// InsightReport is the model-written recommendation set for one datamart
// snapshot. Regeneration produces a new, generally different, report.
type InsightReport struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Narrative   string       `json:"narrative"`
	ActionItems []ActionItem `json:"action_items"`
}

// RunStatus is the outcome of a single pipeline run.
type RunStatus string

const (
	RunSuccess  RunStatus = "success"
	RunDegraded RunStatus = "degraded" // datamart persisted, insights unavailable
	RunFailed   RunStatus = "failed"   // no artifacts produced
)

// RunResult is the structured outcome handed back to callers; the CLI maps it
// to a process exit code, the HTTP surface to a status code.
type RunResult struct {
	RunID       string    `json:"run_id"`
	Status      RunStatus `json:"status"`
	Range       DateRange `json:"-"`
	RangeStart  string    `json:"range_start"`
	RangeEnd    string    `json:"range_end"`
	Rows        int       `json:"rows"`
	ActionItems int       `json:"action_items"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Error       string    `json:"error,omitempty"`
}
