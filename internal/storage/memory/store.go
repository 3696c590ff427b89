package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"payrollx/internal/domain/payroll"
)

// Store keeps runs in process memory. Every read and write copies the run
// so callers never share item slices with the store.
type Store struct {
	mu   sync.RWMutex
	runs map[string]payroll.Run
}

func New() *Store {
	return &Store{runs: map[string]payroll.Run{}}
}

func (s *Store) Create(_ context.Context, run payroll.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("payroll run %s already exists", run.ID)
	}
	if run.Version == 0 {
		run.Version = 1
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *Store) Load(_ context.Context, runID string) (payroll.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return payroll.Run{}, fmt.Errorf("%w: %s", payroll.ErrRunNotFound, runID)
	}
	return run.Clone(), nil
}

func (s *Store) Save(_ context.Context, run payroll.Run, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("%w: %s", payroll.ErrRunNotFound, run.ID)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: run %s at version %d, expected %d", payroll.ErrVersionConflict, run.ID, current.Version, expectedVersion)
	}
	next := run.Clone()
	next.Version = expectedVersion + 1
	next.CreatedAt = current.CreatedAt
	s.runs[run.ID] = next
	return nil
}

func (s *Store) List(_ context.Context, organizationID string, limit, offset int) ([]payroll.Run, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []payroll.Run
	for _, run := range s.runs {
		if organizationID == "" || run.OrganizationID == organizationID {
			all = append(all, run)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	if offset > total {
		offset = total
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	out := make([]payroll.Run, len(all))
	for i, run := range all {
		out[i] = run.Clone()
	}
	return out, total, nil
}

func (s *Store) ListDue(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []payroll.Run
	for _, run := range s.runs {
		switch {
		case run.Status == payroll.RunStatusDraft && !run.ScheduledAt.After(now):
			due = append(due, run)
		case run.Status == payroll.RunStatusPending:
			due = append(due, run)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	ids := make([]string, 0, len(due))
	for _, run := range due {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, run.ID)
	}
	return ids, nil
}

func (s *Store) ListRetryable(_ context.Context, maxRetries, limit int) ([]payroll.RetryGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var groups []payroll.RetryGroup
	for _, run := range s.runs {
		if run.Status != payroll.RunStatusProcessing && run.Status != payroll.RunStatusFailed {
			continue
		}
		group := payroll.RetryGroup{RunID: run.ID}
		for _, item := range run.Items {
			if item.Status == payroll.ItemStatusFailed && item.RetryCount < maxRetries {
				group.ItemIDs = append(group.ItemIDs, item.ID)
			}
		}
		if len(group.ItemIDs) > 0 {
			groups = append(groups, group)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].RunID < groups[j].RunID })
	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}
	return groups, nil
}

func (s *Store) ListExhausted(_ context.Context, organizationID string, maxRetries, limit int) ([]payroll.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []payroll.Item
	for _, run := range s.runs {
		if organizationID != "" && run.OrganizationID != organizationID {
			continue
		}
		for _, item := range run.Items {
			if item.Status == payroll.ItemStatusFailed && item.RetryCount >= maxRetries {
				items = append(items, item)
			}
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].RunID == items[j].RunID {
			return items[i].ID < items[j].ID
		}
		return items[i].RunID < items[j].RunID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Ping lets the memory driver report ready like the SQL backends.
func (s *Store) Ping(context.Context) error {
	return nil
}
