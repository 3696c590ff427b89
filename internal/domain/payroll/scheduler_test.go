package payroll_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payrollx/internal/domain/payroll"
)

func newScheduler(h *harness) *payroll.Scheduler {
	return payroll.NewScheduler(h.coord, h.store, payroll.SchedulerConfig{Concurrency: 2}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunDueIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.draft(t, 100)
	second := h.draft(t, 200)
	req := payroll.DraftRequest{OrganizationID: "org-1", Currency: "USDC", Items: []payroll.DraftItem{
		{EmployeeID: "emp-blocked", Amount: decimal.NewFromInt(50)},
	}}
	unapproved, err := h.coord.CreateDraft(ctx, req)
	require.NoError(t, err)
	h.dir.approvals["emp-blocked"] = payroll.ApprovalNotApproved

	future, err := h.coord.CreateDraft(ctx, payroll.DraftRequest{
		OrganizationID: "org-1",
		Currency:       "USDC",
		ScheduledAt:    time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		Items:          []payroll.DraftItem{{EmployeeID: "emp-9", Amount: decimal.NewFromInt(5)}},
	})
	require.NoError(t, err)

	report, err := newScheduler(h).RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Considered)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)

	assert.Equal(t, payroll.RunStatusProcessing, h.load(t, first.ID).Status)
	assert.Equal(t, payroll.RunStatusProcessing, h.load(t, second.ID).Status)
	assert.Equal(t, payroll.RunStatusDraft, h.load(t, unapproved.ID).Status)
	assert.Equal(t, payroll.RunStatusDraft, h.load(t, future.ID).Status)
}

func TestRunDuePicksUpDeferredPendingRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.draft(t, 100)

	h.tx.down = true
	sched := newScheduler(h)
	report, err := sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, payroll.RunStatusPending, h.load(t, run.ID).Status)

	h.tx.down = false
	report, err = sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, payroll.RunStatusProcessing, h.load(t, run.ID).Status)
}

func TestRunDueSkipsLeasedRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.draft(t, 100)

	held, err := h.locker.Acquire(ctx, "payroll-run:"+run.ID, time.Minute)
	require.NoError(t, err)
	defer held.Release(ctx)

	report, err := newScheduler(h).RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, payroll.RunStatusDraft, h.load(t, run.ID).Status)
}

func TestRetryFailedRedispatchesOnlyEligibleItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.draft(t, 100, 200)
	_, err := h.coord.RequestExecution(ctx, run.ID)
	require.NoError(t, err)
	_, err = h.coord.OnItemResult(ctx, key(run, 0), payroll.Success{Signature: "sig1"})
	require.NoError(t, err)
	_, err = h.coord.OnItemResult(ctx, key(run, 1), payroll.Failure{Reason: "timeout"})
	require.NoError(t, err)
	require.Equal(t, payroll.RunStatusFailed, h.load(t, run.ID).Status)

	report, err := newScheduler(h).RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Considered)
	assert.Equal(t, 1, report.Succeeded)

	after := h.load(t, run.ID)
	assert.Equal(t, payroll.RunStatusProcessing, after.Status)
	assert.Equal(t, payroll.ItemStatusCompleted, after.Items[0].Status)
	assert.Equal(t, payroll.ItemStatusDispatched, after.Items[1].Status)
	assert.Len(t, h.tx.Submitted(), 3)

	_, err = h.coord.OnItemResult(ctx, key(run, 1), payroll.Success{Signature: "sig2"})
	require.NoError(t, err)
	assert.Equal(t, payroll.RunStatusCompleted, h.load(t, run.ID).Status)

	report, err = newScheduler(h).RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Considered)
}
