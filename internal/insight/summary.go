package insight

import (
	"fmt"
	"math"
	"strings"

	"github.com/insightops/kpipulse/internal/models"
)

const trendWindow = 7

// Summarize renders a compact textual summary of the datamart for the model
// prompt: per-metric mean/min/max plus a first-week vs last-week trend label.
// NaN cells are skipped, they mean "undefined", not zero.
func Summarize(dm *models.KpiDatamart) string {
	var b strings.Builder
	fmt.Fprintf(&b, "KPI summary for %s to %s (%d days):\n",
		dm.Range.Start.Format("2006-01-02"), dm.Range.End.Format("2006-01-02"), len(dm.Rows))

	metrics := []struct {
		name      string
		value     func(models.KpiRow) float64
		withTotal bool
	}{
		{"sessions", func(r models.KpiRow) float64 { return float64(r.Sessions) }, false},
		{"new_users", func(r models.KpiRow) float64 { return float64(r.NewUsers) }, false},
		{"gross_revenue", func(r models.KpiRow) float64 { return r.GrossRevenue.InexactFloat64() }, true},
		{"conversion_rate", func(r models.KpiRow) float64 { return r.ConversionRate }, false},
		{"revenue_per_session", func(r models.KpiRow) float64 { return r.RevenuePerSession }, false},
	}

	for _, m := range metrics {
		series := make([]float64, 0, len(dm.Rows))
		for _, row := range dm.Rows {
			v := m.value(row)
			if math.IsNaN(v) {
				continue
			}
			series = append(series, v)
		}
		if len(series) == 0 {
			fmt.Fprintf(&b, "- %s: no data\n", m.name)
			continue
		}
		if m.withTotal {
			fmt.Fprintf(&b, "- %s: mean=%.2f min=%.2f max=%.2f total=%.2f trend=%s\n",
				m.name, mean(series), minOf(series), maxOf(series), sum(series), Trend(series, trendWindow))
		} else {
			fmt.Fprintf(&b, "- %s: mean=%.2f min=%.2f max=%.2f trend=%s\n",
				m.name, mean(series), minOf(series), maxOf(series), Trend(series, trendWindow))
		}
	}
	return b.String()
}

// Trend compares the mean of the last window against the first window.
// Moves within ±5% are reported as stable.
func Trend(series []float64, window int) string {
	if len(series) < 2*window {
		return "insufficient data"
	}
	past := mean(series[:window])
	recent := mean(series[len(series)-window:])
	if past == 0 {
		return "stable"
	}
	change := (recent - past) / past
	switch {
	case change > 0.05:
		return "increasing"
	case change < -0.05:
		return "decreasing"
	default:
		return "stable"
	}
}

func mean(s []float64) float64 { return sum(s) / float64(len(s)) }

func sum(s []float64) float64 {
	var t float64
	for _, v := range s {
		t += v
	}
	return t
}

func minOf(s []float64) float64 {
	m := s[0]
	for _, v := range s[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(s []float64) float64 {
	m := s[0]
	for _, v := range s[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
