package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/insightops/kpipulse/internal/models"
	"github.com/insightops/kpipulse/internal/utils"
)

// WebAnalyticsClient pulls daily session and new-user counts from the
// web-analytics reporting API.
type WebAnalyticsClient struct {
	c          HTTPClient
	baseURL    string
	propertyID string
	bo         utils.Backoff
	log        *slog.Logger
}

func NewWebAnalytics(c HTTPClient, baseURL, propertyID string, bo utils.Backoff, log *slog.Logger) *WebAnalyticsClient {
	return &WebAnalyticsClient{c: c, baseURL: baseURL, propertyID: propertyID, bo: bo, log: log}
}

func (w *WebAnalyticsClient) Name() models.Source { return models.SourceWebAnalytics }

type webReportResp struct {
	Rows []struct {
		Date     string `json:"date"`
		Sessions int64  `json:"sessions"`
		NewUsers int64  `json:"new_users"`
	} `json:"rows"`
}

func (w *WebAnalyticsClient) Fetch(ctx context.Context, r models.DateRange) ([]models.RawMetricRecord, error) {
	if w.propertyID == "" {
		return nil, errors.New("web_analytics: property id not configured")
	}

	url := fmt.Sprintf("%s/v1/properties/%s/report?start=%s&end=%s",
		w.baseURL, w.propertyID,
		r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))

	var resp webReportResp
	err := w.bo.Do(ctx, func(int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return utils.Permanent(err)
		}
		resp = webReportResp{}
		return getJSON(ctx, w.c, req, &resp, models.SourceWebAnalytics, r)
	})
	if err != nil {
		return nil, err
	}

	records := make([]models.RawMetricRecord, 0, 2*len(resp.Rows))
	for _, row := range resp.Rows {
		d, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			w.log.Warn("skipping row with bad date", slog.String("date", row.Date))
			continue
		}
		if !r.Contains(d) {
			continue
		}
		records = append(records,
			models.RawMetricRecord{
				Date: models.DayUTC(d), Source: models.SourceWebAnalytics,
				MetricName: "sessions", Value: decimal.NewFromInt(row.Sessions),
			},
			models.RawMetricRecord{
				Date: models.DayUTC(d), Source: models.SourceWebAnalytics,
				MetricName: "new_users", Value: decimal.NewFromInt(row.NewUsers),
			},
		)
	}
	w.log.Info("fetched web analytics",
		slog.Int("days", len(resp.Rows)), slog.String("range", r.String()))
	return records, nil
}
