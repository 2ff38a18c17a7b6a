package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrChannelUnavailable marks a channel that is private or does not exist.
// The channel is skipped and recorded as failed; the run continues.
var ErrChannelUnavailable = errors.New("channel is private or does not exist")

// ErrOCRUnavailable marks the absence of the OCR capability. Callers
// degrade to an empty text field instead of failing.
var ErrOCRUnavailable = errors.New("ocr capability unavailable")

// RateLimitError is the transient rate-limit signal from the message
// source. The whole channel fetch is retried after RetryAfter.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// AsRateLimit unwraps err into a RateLimitError if it carries one.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// StageError is the only error class that escapes a pipeline stage. It
// halts the remaining job graph and triggers the failure hook.
type StageError struct {
	Job   string
	Stage string
	RunID string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed (job=%s run=%s): %v", e.Stage, e.Job, e.RunID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
