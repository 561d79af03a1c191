package transport

import (
	"context"
	"time"
)

// SpeculativeExecutionPolicy controls when the executor fires a parallel
// retry against a different host to cut tail latency on a slow attempt.
// It is only ever consulted for idempotent statements.
type SpeculativeExecutionPolicy interface {
	// Delay is how long the executor waits for the current attempt before
	// firing the next one in parallel.
	Delay() time.Duration
	// MaxAttempts bounds how many extra attempts may run concurrently with
	// the first one. Zero disables speculative execution entirely.
	MaxAttempts() int
}

// SimpleSpeculativeExecutionPolicy fires up to MaxAttempts extra attempts,
// each Delay after the previous one started.
type SimpleSpeculativeExecutionPolicy struct {
	delay       time.Duration
	maxAttempts int
}

func NewSimpleSpeculativeExecutionPolicy(delay time.Duration, maxAttempts int) SpeculativeExecutionPolicy {
	return SimpleSpeculativeExecutionPolicy{delay: delay, maxAttempts: maxAttempts}
}

func (p SimpleSpeculativeExecutionPolicy) Delay() time.Duration { return p.delay }
func (p SimpleSpeculativeExecutionPolicy) MaxAttempts() int     { return p.maxAttempts }

// NoSpeculativeExecution never fires a speculative attempt.
var NoSpeculativeExecution SpeculativeExecutionPolicy = SimpleSpeculativeExecutionPolicy{}

// RunSpeculative races attempt(ctx, 0), attempt(ctx, 1), ... against each
// other: attempt 0 starts immediately, and a further attempt is launched
// every policy.Delay() until policy.MaxAttempts() extra attempts are in
// flight. The first attempt to succeed wins; every other attempt's context
// is cancelled so it can abandon its stream ID at its next suspension point.
// Non-idempotent statements, or a nil/disabled policy, always run as a
// single plain attempt.
func RunSpeculative(
	ctx context.Context,
	policy SpeculativeExecutionPolicy,
	idempotent bool,
	attempt func(ctx context.Context, attemptNo int) (QueryResult, error),
) (QueryResult, error) {
	if !idempotent || policy == nil || policy.MaxAttempts() == 0 {
		return attempt(ctx, 0)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		res QueryResult
		err error
	}
	resultCh := make(chan outcome, policy.MaxAttempts()+1)

	launch := func(n int) {
		go func() {
			res, err := attempt(ctx, n)
			select {
			case resultCh <- outcome{res, err}:
			case <-ctx.Done():
			}
		}()
	}

	launch(0)
	launched, pending := 1, 1
	var lastErr error

	timerCh := time.After(policy.Delay())
	for {
		select {
		case o := <-resultCh:
			pending--
			if o.err == nil {
				return o.res, nil
			}
			lastErr = o.err
			if pending == 0 && launched > policy.MaxAttempts() {
				return QueryResult{}, lastErr
			}

		case <-timerCh:
			timerCh = nil
			if launched <= policy.MaxAttempts() {
				launch(launched)
				pending++
				launched++
				if launched <= policy.MaxAttempts() {
					timerCh = time.After(policy.Delay())
				}
			}

		case <-ctx.Done():
			return QueryResult{}, ctx.Err()
		}
	}
}
