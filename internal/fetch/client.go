package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/insightops/kpipulse/internal/models"
	"github.com/insightops/kpipulse/internal/utils"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

func NewHTTPClient(timeout time.Duration) HTTPClient {
	return &http.Client{Timeout: timeout}
}

// Source is the fetcher contract: return one RawMetricRecord per (day, metric)
// observed inside the range. Fetchers never truncate the range on their own.
type Source interface {
	Name() models.Source
	Fetch(ctx context.Context, r models.DateRange) ([]models.RawMetricRecord, error)
}

// getJSON performs one attempt: classify the HTTP status into the error
// taxonomy, then decode the body. Permanent errors stop the retry loop.
func getJSON(ctx context.Context, c HTTPClient, req *http.Request, v any, src models.Source, requested models.DateRange) error {
	resp, err := c.Do(req.WithContext(ctx))
	if err != nil {
		return err // transport error, retryable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("%s: decoding response: %w", src, err)
		}
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return utils.Permanent(&AuthError{Source: src, Status: resp.StatusCode})
	case http.StatusTooManyRequests:
		return &RateLimitedError{Source: src, RetryAfter: retryAfter(resp)}
	case http.StatusUnprocessableEntity, http.StatusRequestedRangeNotSatisfiable:
		if e := rangeUnavailable(body, src, requested); e != nil {
			return utils.Permanent(e)
		}
	}
	return fmt.Errorf("%s: non-2xx: %d body=%s", src, resp.StatusCode, string(body))
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// rangeUnavailable parses the provider's history-limit payload:
//
//	{"error":"range_unavailable","available_start":"2024-01-01","available_end":"2024-06-30"}
func rangeUnavailable(body []byte, src models.Source, requested models.DateRange) *RangeUnavailableError {
	if gjson.GetBytes(body, "error").String() != "range_unavailable" {
		return nil
	}
	start, err1 := time.Parse("2006-01-02", gjson.GetBytes(body, "available_start").String())
	end, err2 := time.Parse("2006-01-02", gjson.GetBytes(body, "available_end").String())
	if err1 != nil || err2 != nil {
		return nil
	}
	avail, err := models.NewDateRange(start, end)
	if err != nil {
		return nil
	}
	return &RangeUnavailableError{Source: src, Requested: requested, Available: avail}
}
