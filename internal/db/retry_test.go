package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Do(t *testing.T) {
	deadlock := &pq.Error{Code: "40P01"}

	tests := []struct {
		name      string
		attempts  int
		failures  int
		failWith  error
		wantCalls int
		wantErr   error
	}{
		{"succeeds first time", 3, 0, nil, 1, nil},
		{"recovers after transient failures", 3, 2, deadlock, 3, nil},
		{"exhausts attempts", 3, 10, deadlock, 3, ErrRetriesExhausted},
		{"single attempt", 1, 10, deadlock, 1, ErrRetriesExhausted},
		{"zero attempts still runs once", 0, 10, deadlock, 1, ErrRetriesExhausted},
		{"domain error returned as is", 5, 10, ErrNotFound, 1, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := RetryPolicy{MaxAttempts: tt.attempts, BaseDelay: time.Millisecond}
			calls := 0
			err := policy.Do(context.Background(), func() error {
				calls++
				if calls <= tt.failures {
					return tt.failWith
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRetryPolicy_ExhaustedKeepsCause(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}

	err := policy.Do(context.Background(), func() error { return &pq.Error{Code: "40001"} })
	require.ErrorIs(t, err, ErrRetriesExhausted)
	var pqErr *pq.Error
	require.True(t, errors.As(err, &pqErr))
	assert.Equal(t, pq.ErrorCode("40001"), pqErr.Code)
}

func TestRetryPolicy_BackoffHonoursContext(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	err := policy.Do(ctx, func() error {
		calls++
		return &pq.Error{Code: "55P03"}
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second)
}
