package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/insightops/kpipulse/internal/models"
	"github.com/insightops/kpipulse/internal/utils"
)

const paymentsPageLimit = 100

// PaymentsClient pulls payment records from the transactions API and rolls
// them up to per-day gross revenue and transaction counts. Only succeeded
// captures count; failed and pending payments are excluded.
type PaymentsClient struct {
	c       HTTPClient
	baseURL string
	apiKey  string
	bo      utils.Backoff
	log     *slog.Logger
}

func NewPayments(c HTTPClient, baseURL, apiKey string, bo utils.Backoff, log *slog.Logger) *PaymentsClient {
	return &PaymentsClient{c: c, baseURL: baseURL, apiKey: apiKey, bo: bo, log: log}
}

func (p *PaymentsClient) Name() models.Source { return models.SourcePayments }

type paymentsPage struct {
	Data []struct {
		ID      string `json:"id"`
		Created int64  `json:"created"` // unix seconds
		Amount  int64  `json:"amount"`  // minor currency units
		Status  string `json:"status"`
	} `json:"data"`
	HasMore bool `json:"has_more"`
}

func (p *PaymentsClient) Fetch(ctx context.Context, r models.DateRange) ([]models.RawMetricRecord, error) {
	if p.apiKey == "" {
		return nil, errors.New("payments: api key not configured")
	}

	type dayAgg struct {
		revenue      decimal.Decimal
		transactions int64
	}
	byDay := map[time.Time]*dayAgg{}

	startingAfter := ""
	for page := 0; ; page++ {
		u := p.pageURL(r, startingAfter)

		var resp paymentsPage
		err := p.bo.Do(ctx, func(int) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return utils.Permanent(err)
			}
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
			resp = paymentsPage{}
			return getJSON(ctx, p.c, req, &resp, models.SourcePayments, r)
		})
		if err != nil {
			return nil, err
		}

		for _, tx := range resp.Data {
			if tx.Status != "succeeded" {
				continue
			}
			d := models.DayUTC(time.Unix(tx.Created, 0))
			if !r.Contains(d) {
				continue
			}
			agg, ok := byDay[d]
			if !ok {
				agg = &dayAgg{}
				byDay[d] = agg
			}
			agg.revenue = agg.revenue.Add(decimal.New(tx.Amount, -2))
			agg.transactions++
		}

		if !resp.HasMore || len(resp.Data) == 0 {
			break
		}
		startingAfter = resp.Data[len(resp.Data)-1].ID
		p.log.Debug("fetching next payments page",
			slog.Int("page", page+1), slog.String("starting_after", startingAfter))
	}

	days := make([]time.Time, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	records := make([]models.RawMetricRecord, 0, 2*len(days))
	for _, d := range days {
		agg := byDay[d]
		records = append(records,
			models.RawMetricRecord{
				Date: d, Source: models.SourcePayments,
				MetricName: "gross_revenue", Value: agg.revenue,
			},
			models.RawMetricRecord{
				Date: d, Source: models.SourcePayments,
				MetricName: "transactions", Value: decimal.NewFromInt(agg.transactions),
			},
		)
	}
	p.log.Info("fetched payments",
		slog.Int("days", len(days)), slog.String("range", r.String()))
	return records, nil
}

func (p *PaymentsClient) pageURL(r models.DateRange, startingAfter string) string {
	// End of the last day, inclusive.
	endOfRange := r.End.AddDate(0, 0, 1).Add(-time.Second)

	q := url.Values{}
	q.Set("status", "succeeded")
	q.Set("created_gte", strconv.FormatInt(r.Start.Unix(), 10))
	q.Set("created_lte", strconv.FormatInt(endOfRange.Unix(), 10))
	q.Set("limit", strconv.Itoa(paymentsPageLimit))
	if startingAfter != "" {
		q.Set("starting_after", startingAfter)
	}
	return fmt.Sprintf("%s/v1/payments?%s", p.baseURL, q.Encode())
}
