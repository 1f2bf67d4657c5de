package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// ErrPanicked wraps a recovered panic value.
var ErrPanicked = errors.New("worker panicked")

// Safe runs fn and converts a panic into an error wrapping ErrPanicked.
func Safe(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPanicked, r, debug.Stack())
		}
	}()
	return fn()
}

// Each runs fn for every item with at most limit calls in flight. Items are
// isolated from each other: an error or panic in one does not stop the
// rest. The returned slice holds the error of item i at index i.
func Each[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) error) []error {
	errs := make([]error, len(items))
	if len(items) == 0 {
		return errs
	}
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			errs[i] = Safe(func() error { return fn(ctx, item) })
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying inside Retry.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryPolicy bounds Retry.
type RetryPolicy struct {
	Attempts uint64
	Base     time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy is used for terminal job status writes.
var DefaultRetryPolicy = RetryPolicy{Attempts: 4, Base: 200 * time.Millisecond, Max: 5 * time.Second}

// Retry calls fn until it succeeds, returns a Permanent error, the policy is
// exhausted or ctx is done. The last error is returned unwrapped.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	b := retry.NewExponential(policy.Base)
	b = retry.WithCappedDuration(policy.Max, b)
	b = retry.WithMaxRetries(policy.Attempts, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		return retry.RetryableError(err)
	})
}
