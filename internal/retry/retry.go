// Package retry runs an operation under an explicit backoff Policy.
//
// A Policy is plain data: initial wait, maximum wait, multiplier, a total
// time budget, an optional attempt cap, and the set of error kinds it applies
// to. Do executes a function until it succeeds, the error is not one the
// policy applies to, or the policy is exhausted.
//
//	err := retry.Do(ctx, retry.Policy{
//	    Name:        "tcp-ready",
//	    InitialWait: 50 * time.Millisecond,
//	    MaxWait:     time.Second,
//	    Multiplier:  2,
//	    Timeout:     3 * time.Second,
//	}, func(ctx context.Context) error {
//	    return dial(ctx)
//	})
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// ErrExhausted is matched by every error returned when a policy runs out of
// attempts or time.
var ErrExhausted = errors.New("retry: policy exhausted")

// Policy describes how an operation is retried.
type Policy struct {
	// Name identifies the policy in errors and logs.
	Name string

	// InitialWait is the wait after the first failed attempt.
	InitialWait time.Duration

	// MaxWait caps a single wait.
	MaxWait time.Duration

	// Multiplier grows the wait after each failure.
	// Default: 2
	Multiplier float64

	// Timeout is the total time budget. Zero means no budget.
	Timeout time.Duration

	// Attempts caps the number of attempts. Zero means unlimited, in which
	// case Timeout must bound the loop.
	Attempts int

	// Jitter scales each wait by a random factor in [0.5, 1.5).
	Jitter bool

	// RetryIf reports whether err is a kind this policy applies to.
	// Nil applies to every error.
	RetryIf func(err error) bool
}

// ExhaustedError reports the last failure of an exhausted policy.
type ExhaustedError struct {
	Policy   string
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempt(s) in %v: %v",
		e.Policy, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

// Unwrap exposes both ErrExhausted and the last underlying error.
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Err}
}

// On returns a RetryIf matcher for the given error kinds.
func On(kinds ...error) func(error) bool {
	return func(err error) bool {
		for _, k := range kinds {
			if errors.Is(err, k) {
				return true
			}
		}
		return false
	}
}

// Wait returns the un-jittered wait after the n-th failed attempt (n >= 1).
func (p Policy) Wait(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	wait := float64(p.InitialWait) * math.Pow(mult, float64(n-1))
	if p.MaxWait > 0 && wait > float64(p.MaxWait) {
		return p.MaxWait
	}
	if wait > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(wait)
}

func (p Policy) applies(err error) bool {
	if p.RetryIf == nil {
		return true
	}
	return p.RetryIf(err)
}

func (p Policy) name() string {
	if p.Name == "" {
		return "retry"
	}
	return p.Name
}

// Do calls fn until it returns nil or the policy gives up.
//
// fn receives a context that expires when the policy's time budget does.
// Errors the policy does not apply to are returned unchanged. Cancellation of
// ctx returns ctx.Err().
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	start := time.Now()

	attemptCtx := ctx
	var deadline time.Time
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
		deadline, _ = attemptCtx.Deadline()
	}

	for attempt := 1; ; attempt++ {
		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		exhausted := func() error {
			return &ExhaustedError{
				Policy:   p.name(),
				Attempts: attempt,
				Elapsed:  time.Since(start),
				Err:      err,
			}
		}

		if attemptCtx.Err() != nil {
			return exhausted()
		}
		if !p.applies(err) {
			return err
		}
		if p.Attempts > 0 && attempt >= p.Attempts {
			return exhausted()
		}

		wait := p.Wait(attempt)
		if p.Jitter {
			wait = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if !deadline.IsZero() && wait >= time.Until(deadline) {
			// No room left for another attempt inside the budget.
			return exhausted()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
