package fetch

import (
	"fmt"
	"time"

	"github.com/insightops/kpipulse/internal/models"
)

// AuthError means the provider rejected our credentials. Never retried.
type AuthError struct {
	Source models.Source
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed (status %d)", e.Source, e.Status)
}

// RateLimitedError carries the provider's retry-after hint when one was
// supplied; zero means no hint.
type RateLimitedError struct {
	Source     models.Source
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Source, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Source)
}

// Delay implements utils.DelayHint so the retry loop honors the provider's
// requested pause.
func (e *RateLimitedError) Delay() time.Duration { return e.RetryAfter }

// RangeUnavailableError means the requested window exceeds the provider's
// history; Available names the usable sub-range. The fetcher never silently
// truncates.
type RangeUnavailableError struct {
	Source    models.Source
	Requested models.DateRange
	Available models.DateRange
}

func (e *RangeUnavailableError) Error() string {
	return fmt.Sprintf("%s: range %s unavailable, provider supports %s",
		e.Source, e.Requested, e.Available)
}
