package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSpeculativeNonIdempotentRunsOnce(t *testing.T) {
	var calls int32
	attempt := func(ctx context.Context, n int) (QueryResult, error) {
		atomic.AddInt32(&calls, 1)
		return QueryResult{}, nil
	}

	_, err := RunSpeculative(context.Background(), NewSimpleSpeculativeExecutionPolicy(time.Millisecond, 3), false, attempt)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestRunSpeculativeNilPolicyRunsOnce(t *testing.T) {
	var calls int32
	attempt := func(ctx context.Context, n int) (QueryResult, error) {
		atomic.AddInt32(&calls, 1)
		return QueryResult{}, nil
	}

	_, err := RunSpeculative(context.Background(), nil, true, attempt)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestRunSpeculativeFirstAttemptWinsWithoutWaiting(t *testing.T) {
	attempt := func(ctx context.Context, n int) (QueryResult, error) {
		return QueryResult{}, nil
	}

	start := time.Now()
	_, err := RunSpeculative(context.Background(), NewSimpleSpeculativeExecutionPolicy(time.Hour, 3), true, attempt)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunSpeculativeLaunchesExtraAttemptAfterDelay(t *testing.T) {
	var calls int32
	attempt := func(ctx context.Context, n int) (QueryResult, error) {
		c := atomic.AddInt32(&calls, 1)
		if n == 0 {
			<-ctx.Done()
			return QueryResult{}, ctx.Err()
		}
		_ = c
		return QueryResult{}, nil
	}

	_, err := RunSpeculative(context.Background(), NewSimpleSpeculativeExecutionPolicy(10*time.Millisecond, 2), true, attempt)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestRunSpeculativeAllAttemptsFail(t *testing.T) {
	wantErr := errors.New("attempt failed")
	attempt := func(ctx context.Context, n int) (QueryResult, error) {
		return QueryResult{}, wantErr
	}

	_, err := RunSpeculative(context.Background(), NewSimpleSpeculativeExecutionPolicy(time.Millisecond, 2), true, attempt)
	assert.ErrorIs(t, err, wantErr)
}

func TestRunSpeculativeContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempt := func(ctx context.Context, n int) (QueryResult, error) {
		<-ctx.Done()
		return QueryResult{}, ctx.Err()
	}

	_, err := RunSpeculative(ctx, NewSimpleSpeculativeExecutionPolicy(time.Millisecond, 2), true, attempt)
	assert.ErrorIs(t, err, context.Canceled)
}
