package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// RetryableError wraps transient outbound failures: timeouts, 5xx,
// platform rate limiting. The job layer re-enqueues these with backoff.
type RetryableError struct {
	Op     string
	Status int
	Err    error
}

func (e *RetryableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: transient failure (HTTP %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// PermanentError wraps failures that will not succeed on retry: validation
// rejections, revoked tokens. Terminal for a job.
type PermanentError struct {
	Op     string
	Status int
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: permanent failure (HTTP %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: permanent failure: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// classify maps an outcome to the retryable/permanent taxonomy. Network
// errors and context deadlines count as retryable; a canceled context is
// passed through untouched so shutdown isn't misreported as a send failure.
func classify(op string, status int, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &RetryableError{Op: op, Err: err}
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return &RetryableError{Op: op, Status: status, Err: errors.New(http.StatusText(status))}
	default:
		return &PermanentError{Op: op, Status: status, Err: errors.New(http.StatusText(status))}
	}
}
