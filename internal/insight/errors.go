package insight

import (
	"errors"
	"fmt"
)

// ErrModelUnavailable wraps service errors and timeouts from the
// language-model provider. A run degrades on it; the datamart is still
// persisted.
var ErrModelUnavailable = errors.New("model service unavailable")

// MalformedResponseError means the model replied but not in the expected
// narrative + action-item shape. Surfaced to the caller, never silently
// degraded into an empty report. Not retried.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed model response: %s", e.Reason)
}
