package lead

import (
	"errors"
	"fmt"
	"time"
)

// TransientError marks an error as retryable by the worker pool.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RateLimitedError is a transient failure caused by the target API's rate
// limit. RetryAfter carries the server-provided delay hint, 0 when absent.
type RateLimitedError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e == nil || e.Err == nil {
		return "rate limited"
	}
	return e.Err.Error()
}

func (e *RateLimitedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RetryAfterHint implements the worker pool's delay-hint interface.
func (e *RateLimitedError) RetryAfterHint() time.Duration {
	if e == nil {
		return 0
	}
	return e.RetryAfter
}

// AuthError is a fatal credential failure. It is never retried and
// escalates straight to the orchestrator's error state.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	if e == nil {
		return "auth error"
	}
	if e.Err == nil {
		return fmt.Sprintf("auth failed: op=%s", e.Op)
	}
	return fmt.Sprintf("auth failed: op=%s: %s", e.Op, e.Err.Error())
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MissingFieldError is a per-record validation failure: a field required
// for personalization is absent, so the record is skipped rather than sent
// to the generation backend with broken tokens.
type MissingFieldError struct {
	RecordID string
	Field    string
}

func (e *MissingFieldError) Error() string {
	if e == nil {
		return "missing required field"
	}
	return fmt.Sprintf("record %s: missing required field %q", e.RecordID, e.Field)
}

// StageError is a stage-level failure (exhausted retries on a required
// call, or auth). The orchestrator keeps the partial results accumulated
// before the failure; StageError only identifies the stage and cause.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return "stage failed"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s failed", e.Stage)
	}
	return fmt.Sprintf("%s failed: %s", e.Stage, e.Err.Error())
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var rl *RateLimitedError
	return errors.As(err, &rl)
}
