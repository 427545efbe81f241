package webclient

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// AttemptFunc performs one HTTP exchange.
type AttemptFunc func() (status int, body []byte, err error)

// DoWithRetry retries the attempt function on transient errors (429/5xx) or non-nil errors.
func DoWithRetry(ctx context.Context, attempts int, initialDelay time.Duration, fn AttemptFunc) (int, []byte, error) {
	var status int
	var body []byte
	err := Retry(ctx, attempts, initialDelay, func(error) bool { return true }, func() error {
		var err error
		status, body, err = fn()
		if err != nil {
			return err
		}
		if status == 429 || status >= 500 {
			return &StatusError{Status: status}
		}
		return nil
	})
	var se *StatusError
	if errors.As(err, &se) && se.Status == status {
		return status, body, nil
	}
	return status, body, err
}

// StatusError is a transient HTTP status seen on the last attempt.
type StatusError struct{ Status int }

func (e *StatusError) Error() string { return "transient status " + strconv.Itoa(e.Status) }

// Retry calls fn up to attempts times, waiting initialDelay and doubling it
// (capped at 30s) between calls, while retryable accepts the error.
func Retry(ctx context.Context, attempts int, initialDelay time.Duration, retryable func(error) bool, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	if initialDelay <= 0 {
		initialDelay = 2 * time.Second
	}
	delay := initialDelay
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	return err
}
