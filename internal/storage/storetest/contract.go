// Package storetest holds the behaviour every payroll.StoreAPI backend must
// share. Backend tests call Run with a fresh, empty store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payrollx/internal/domain/payroll"
)

var base = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newRun(id string, status payroll.RunStatus, scheduled time.Time, statuses ...payroll.ItemStatus) payroll.Run {
	run := payroll.Run{
		ID:             id,
		OrganizationID: "org-1",
		Status:         status,
		ScheduledAt:    scheduled,
		Currency:       "USDC",
		Version:        1,
		CreatedAt:      scheduled,
		UpdatedAt:      scheduled,
	}
	for i, s := range statuses {
		item := payroll.Item{
			ID:         fmt.Sprintf("%s-item-%d", id, i),
			RunID:      id,
			EmployeeID: fmt.Sprintf("emp-%d", i),
			Amount:     decimal.RequireFromString("100.25"),
			Status:     s,
			UpdatedAt:  scheduled,
		}
		if s == payroll.ItemStatusCompleted {
			item.TxSignature = "sig-" + item.ID
		}
		run.Items = append(run.Items, item)
	}
	run.TotalAmount = run.Sum()
	return run
}

func Run(t *testing.T, store payroll.StoreAPI) {
	t.Run("RoundTrip", func(t *testing.T) { roundTrip(t, store) })
	t.Run("CompareAndSwap", func(t *testing.T) { compareAndSwap(t, store) })
	t.Run("Queries", func(t *testing.T) { queries(t, store) })
}

func roundTrip(t *testing.T, store payroll.StoreAPI) {
	ctx := context.Background()
	run := newRun("rt", payroll.RunStatusDraft, base, payroll.ItemStatusPending, payroll.ItemStatusPending)
	require.NoError(t, store.Create(ctx, run))

	loaded, err := store.Load(ctx, "rt")
	require.NoError(t, err)
	assert.Equal(t, run.ID, loaded.ID)
	assert.Equal(t, payroll.RunStatusDraft, loaded.Status)
	assert.True(t, run.TotalAmount.Equal(loaded.TotalAmount), "total %s", loaded.TotalAmount)
	assert.True(t, base.Equal(loaded.ScheduledAt))
	assert.Equal(t, int64(1), loaded.Version)
	require.Len(t, loaded.Items, 2)
	for i, item := range loaded.Items {
		assert.Equal(t, run.Items[i].ID, item.ID)
		assert.Equal(t, "rt", item.RunID)
		assert.True(t, run.Items[i].Amount.Equal(item.Amount))
		assert.Equal(t, payroll.ItemStatusPending, item.Status)
	}

	_, err = store.Load(ctx, "missing")
	assert.True(t, errors.Is(err, payroll.ErrRunNotFound), "got %v", err)
}

func compareAndSwap(t *testing.T, store payroll.StoreAPI) {
	ctx := context.Background()
	run := newRun("cas", payroll.RunStatusPending, base, payroll.ItemStatusPending)
	require.NoError(t, store.Create(ctx, run))

	run.Status = payroll.RunStatusProcessing
	run.SourceWallet = "treasury"
	run.Items[0].Status = payroll.ItemStatusDispatched
	run.Items[0].DestinationWallet = "wallet-0"
	run.UpdatedAt = base.Add(time.Minute)
	require.NoError(t, store.Save(ctx, run, 1))

	stale := run
	stale.Status = payroll.RunStatusCancelled
	err := store.Save(ctx, stale, 1)
	assert.True(t, errors.Is(err, payroll.ErrVersionConflict), "got %v", err)

	loaded, err := store.Load(ctx, "cas")
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Version)
	assert.Equal(t, payroll.RunStatusProcessing, loaded.Status)
	assert.Equal(t, "treasury", loaded.SourceWallet)
	assert.Equal(t, payroll.ItemStatusDispatched, loaded.Items[0].Status)
	assert.Equal(t, "wallet-0", loaded.Items[0].DestinationWallet)

	loaded.Items[0].Status = payroll.ItemStatusFailed
	loaded.Items[0].RetryCount = 1
	loaded.Items[0].LastError = "timeout"
	loaded.Status = payroll.RunStatusFailed
	require.NoError(t, store.Save(ctx, loaded, 2))
	again, err := store.Load(ctx, "cas")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Items[0].RetryCount)
	assert.Equal(t, "timeout", again.Items[0].LastError)

	missing := newRun("ghost", payroll.RunStatusDraft, base, payroll.ItemStatusPending)
	err = store.Save(ctx, missing, 1)
	assert.True(t, errors.Is(err, payroll.ErrRunNotFound), "got %v", err)
}

func queries(t *testing.T, store payroll.StoreAPI) {
	ctx := context.Background()
	now := base.Add(24 * time.Hour)

	due := newRun("q-due", payroll.RunStatusDraft, now.Add(-time.Hour), payroll.ItemStatusPending)
	due.OrganizationID = "org-q"
	future := newRun("q-future", payroll.RunStatusDraft, now.Add(time.Hour), payroll.ItemStatusPending)
	future.OrganizationID = "org-q"
	failed := newRun("q-failed", payroll.RunStatusFailed, now.Add(-3*time.Hour),
		payroll.ItemStatusFailed, payroll.ItemStatusFailed, payroll.ItemStatusCompleted)
	failed.OrganizationID = "org-q"
	failed.Items[0].RetryCount = 1
	failed.Items[1].RetryCount = 3
	for _, run := range []payroll.Run{due, future, failed} {
		require.NoError(t, store.Create(ctx, run))
	}

	ids, err := store.ListDue(ctx, now, 100)
	require.NoError(t, err)
	assert.Contains(t, ids, "q-due")
	assert.NotContains(t, ids, "q-future")
	assert.NotContains(t, ids, "q-failed")

	groups, err := store.ListRetryable(ctx, 3, 100)
	require.NoError(t, err)
	var found *payroll.RetryGroup
	for i := range groups {
		if groups[i].RunID == "q-failed" {
			found = &groups[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, []string{"q-failed-item-0"}, found.ItemIDs)

	itemIDs := func(items []payroll.Item) []string {
		var ids []string
		for _, item := range items {
			ids = append(ids, item.ID)
		}
		return ids
	}
	exhausted, err := store.ListExhausted(ctx, "", 3, 100)
	require.NoError(t, err)
	assert.Contains(t, itemIDs(exhausted), "q-failed-item-1")
	assert.NotContains(t, itemIDs(exhausted), "q-failed-item-0")

	exhausted, err = store.ListExhausted(ctx, "org-q", 3, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"q-failed-item-1"}, itemIDs(exhausted))

	exhausted, err = store.ListExhausted(ctx, "org-elsewhere", 3, 100)
	require.NoError(t, err)
	assert.Empty(t, exhausted)

	runs, total, err := store.List(ctx, "org-q", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, runs, 2)
	assert.Equal(t, "q-future", runs[0].ID)
	assert.Len(t, runs[1].Items, 1)
}
