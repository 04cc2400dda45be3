// Package datamart assembles the per-day KPI table from raw fetcher records.
package datamart

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/insightops/kpipulse/internal/models"
)

// Build joins raw records on date and computes derived ratios. The result has
// exactly one row per day in the range, ascending: days with no source data
// still produce a zero-valued row. Ratios are NaN when sessions is zero
// (undefined metric, not an error), and ltv_cac_ratio is always NaN, a
// reserved column no source computes.
//
// Build is deterministic: identical records and range yield an identical
// datamart.
func Build(records []models.RawMetricRecord, r models.DateRange) (*models.KpiDatamart, error) {
	if r.Start.After(r.End) {
		return nil, models.ErrEmptyRange
	}

	type key struct {
		date   time.Time
		source models.Source
		metric string
	}
	part := make(map[key]decimal.Decimal, len(records))
	for _, rec := range records {
		if !r.Contains(rec.Date) {
			continue
		}
		k := key{date: models.DayUTC(rec.Date), source: rec.Source, metric: rec.MetricName}
		part[k] = part[k].Add(rec.Value)
	}

	lookup := func(d time.Time, src models.Source, metric string) decimal.Decimal {
		return part[key{date: d, source: src, metric: metric}]
	}

	rows := make([]models.KpiRow, 0, r.Days())
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		sessions := int(lookup(d, models.SourceWebAnalytics, "sessions").IntPart())
		newUsers := int(lookup(d, models.SourceWebAnalytics, "new_users").IntPart())
		revenue := lookup(d, models.SourcePayments, "gross_revenue")
		transactions := int(lookup(d, models.SourcePayments, "transactions").IntPart())

		conv := math.NaN()
		rps := math.NaN()
		if sessions > 0 {
			conv = round4(float64(transactions) / float64(sessions))
			rps = round4(revenue.InexactFloat64() / float64(sessions))
		}

		rows = append(rows, models.KpiRow{
			Date:              d,
			Sessions:          sessions,
			NewUsers:          newUsers,
			GrossRevenue:      revenue,
			Transactions:      transactions,
			ConversionRate:    conv,
			RevenuePerSession: rps,
			LtvCacRatio:       math.NaN(),
		})
	}

	return &models.KpiDatamart{Range: r, Rows: rows}, nil
}

func round4(f float64) float64 { return math.Round(f*10000) / 10000 }
