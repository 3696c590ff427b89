package payroll_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payrollx/internal/domain/payroll"
	"payrollx/internal/platform/lease"
)

func leasedCoordinator(locker lease.Locker, ttl time.Duration) *payroll.Coordinator {
	return payroll.NewCoordinator(payroll.Config{CallTimeout: time.Millisecond, LeaseTTL: ttl}, payroll.Deps{Locker: locker})
}

func TestWithLeaseRenewsWhileWorkRuns(t *testing.T) {
	locker := lease.NewMemory()
	coord := leasedCoordinator(locker, 150*time.Millisecond)
	ctx := context.Background()

	err := coord.WithLease(ctx, "run-1", func(ctx context.Context) error {
		time.Sleep(400 * time.Millisecond)
		_, err := locker.Acquire(ctx, "payroll-run:run-1", time.Minute)
		assert.ErrorIs(t, err, lease.ErrHeld, "lease expired while work was still running")
		return ctx.Err()
	})
	require.NoError(t, err)

	held, err := locker.Acquire(ctx, "payroll-run:run-1", time.Minute)
	require.NoError(t, err, "lease not released after work finished")
	_ = held.Release(ctx)
}

func TestWithLeaseStopsWorkWhenLeaseIsLost(t *testing.T) {
	var offset atomic.Int64
	start := time.Now()
	locker := lease.NewMemory().WithClock(func() time.Time {
		return start.Add(time.Duration(offset.Load()))
	})
	coord := leasedCoordinator(locker, 30*time.Millisecond)
	ctx := context.Background()

	err := coord.WithLease(ctx, "run-1", func(ctx context.Context) error {
		// another worker takes the run over once the claim looks expired
		deadline := time.Now().Add(2 * time.Second)
		for {
			offset.Add(int64(time.Hour))
			if _, err := locker.Acquire(context.Background(), "payroll-run:run-1", time.Hour); err == nil {
				break
			}
			if time.Now().After(deadline) {
				return errors.New("takeover never succeeded")
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return errors.New("work was not cancelled after the lease was lost")
		}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, payroll.ErrRunBusy)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, payroll.Retryable(err))
}
