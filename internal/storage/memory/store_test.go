package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payrollx/internal/domain/payroll"
	"payrollx/internal/storage/storetest"
)

func sampleRun(id string, status payroll.RunStatus, scheduled time.Time, items ...payroll.Item) payroll.Run {
	for i := range items {
		items[i].RunID = id
		if items[i].Amount.IsZero() {
			items[i].Amount = decimal.NewFromInt(10)
		}
	}
	return payroll.Run{
		ID:             id,
		OrganizationID: "org-1",
		Status:         status,
		ScheduledAt:    scheduled,
		Currency:       "USDC",
		Version:        1,
		CreatedAt:      scheduled,
		Items:          items,
	}
}

func TestSaveComparesVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	run := sampleRun("r1", payroll.RunStatusDraft, time.Now(), payroll.Item{ID: "i1", Status: payroll.ItemStatusPending})
	require.NoError(t, s.Create(ctx, run))

	run.Status = payroll.RunStatusPending
	require.NoError(t, s.Save(ctx, run, 1))

	err := s.Save(ctx, run, 1)
	assert.True(t, errors.Is(err, payroll.ErrVersionConflict), "got %v", err)

	loaded, err := s.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Version)
	assert.Equal(t, payroll.RunStatusPending, loaded.Status)

	_, err = s.Load(ctx, "missing")
	assert.True(t, errors.Is(err, payroll.ErrRunNotFound))
	assert.True(t, errors.Is(s.Save(ctx, sampleRun("missing", payroll.RunStatusDraft, time.Now()), 1), payroll.ErrRunNotFound))
}

func TestLoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Create(ctx, sampleRun("r1", payroll.RunStatusDraft, time.Now(), payroll.Item{ID: "i1", Status: payroll.ItemStatusPending})))

	loaded, _ := s.Load(ctx, "r1")
	loaded.Items[0].Status = payroll.ItemStatusCompleted

	again, _ := s.Load(ctx, "r1")
	assert.Equal(t, payroll.ItemStatusPending, again.Items[0].Status)
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	s := New()
	runs := []payroll.Run{
		sampleRun("due", payroll.RunStatusDraft, now.Add(-time.Hour), payroll.Item{ID: "a", Status: payroll.ItemStatusPending}),
		sampleRun("future", payroll.RunStatusDraft, now.Add(time.Hour), payroll.Item{ID: "b", Status: payroll.ItemStatusPending}),
		sampleRun("pending", payroll.RunStatusPending, now.Add(-2*time.Hour), payroll.Item{ID: "c", Status: payroll.ItemStatusPending}),
		sampleRun("failed", payroll.RunStatusFailed, now.Add(-3*time.Hour),
			payroll.Item{ID: "d", Status: payroll.ItemStatusFailed, RetryCount: 1},
			payroll.Item{ID: "e", Status: payroll.ItemStatusFailed, RetryCount: 3},
			payroll.Item{ID: "f", Status: payroll.ItemStatusCompleted, TxSignature: "sig"},
		),
		sampleRun("cancelled", payroll.RunStatusCancelled, now.Add(-4*time.Hour), payroll.Item{ID: "g", Status: payroll.ItemStatusFailed, RetryCount: 1}),
	}
	for _, run := range runs {
		require.NoError(t, s.Create(ctx, run))
	}

	due, err := s.ListDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"pending", "due"}, due)

	retry, err := s.ListRetryable(ctx, 3, 10)
	require.NoError(t, err)
	assert.Equal(t, []payroll.RetryGroup{{RunID: "failed", ItemIDs: []string{"d"}}}, retry)

	exhausted, err := s.ListExhausted(ctx, "", 3, 10)
	require.NoError(t, err)
	require.Len(t, exhausted, 1)
	assert.Equal(t, "e", exhausted[0].ID)

	other, err := s.ListExhausted(ctx, "org-2", 3, 10)
	require.NoError(t, err)
	assert.Empty(t, other)

	page, total, err := s.List(ctx, "org-1", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "due", page[0].ID)
}

func TestContract(t *testing.T) {
	storetest.Run(t, New())
}
