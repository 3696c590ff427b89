package payroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	JobRunTrigger   = "payroll_run_trigger"
	JobRetryTrigger = "payroll_retry_trigger"
)

type SchedulerConfig struct {
	Concurrency int
	BatchSize   int
}

// TickReport is stored as the job_runs details of every trigger tick.
type TickReport struct {
	Considered int `json:"considered"`
	Succeeded  int `json:"succeeded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`

	mu sync.Mutex
}

func (r *TickReport) add(outcome tickOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch outcome {
	case tickSucceeded:
		r.Succeeded++
	case tickSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

type tickOutcome int

const (
	tickSucceeded tickOutcome = iota
	tickSkipped
	tickFailed
)

// Scheduler discovers due and retryable runs and hands each one to the
// Coordinator on a bounded pool. One run's failure never stops the others.
type Scheduler struct {
	coord       *Coordinator
	store       StoreAPI
	log         *slog.Logger
	now         func() time.Time
	concurrency int
	batchSize   int
}

func NewScheduler(coord *Coordinator, store StoreAPI, cfg SchedulerConfig, log *slog.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		coord:       coord,
		store:       store,
		log:         log,
		now:         coord.now,
		concurrency: cfg.Concurrency,
		batchSize:   cfg.BatchSize,
	}
}

// RunDue approves and dispatches Draft runs whose time has come, and
// re-dispatches Pending runs left behind by an unavailable dispatch.
func (s *Scheduler) RunDue(ctx context.Context) (*TickReport, error) {
	ids, err := s.store.ListDue(ctx, s.now(), s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list due payroll runs: %w", err)
	}
	report := &TickReport{Considered: len(ids)}
	s.fanOut(ctx, ids, report, s.runDue)
	s.log.Info("payroll run trigger finished", "considered", report.Considered, "succeeded", report.Succeeded, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

func (s *Scheduler) runDue(ctx context.Context, runID string) error {
	return s.coord.WithLease(ctx, runID, func(ctx context.Context) error {
		run, err := s.store.Load(ctx, runID)
		if err != nil {
			return err
		}
		switch run.Status {
		case RunStatusDraft:
			if run.ScheduledAt.After(s.now()) {
				return errSkip
			}
			if _, err := s.coord.Execute(ctx, runID); err != nil {
				return err
			}
		case RunStatusPending:
		default:
			return errSkip
		}
		_, err = s.coord.BeginDispatch(ctx, runID)
		return err
	})
}

// RetryFailed re-dispatches failed items that still have retries left,
// one BeginDispatch per parent run.
func (s *Scheduler) RetryFailed(ctx context.Context) (*TickReport, error) {
	groups, err := s.store.ListRetryable(ctx, s.coord.cfg.MaxRetries, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list retryable payroll items: %w", err)
	}
	ids := make([]string, len(groups))
	items := 0
	for i, g := range groups {
		ids[i] = g.RunID
		items += len(g.ItemIDs)
	}
	report := &TickReport{Considered: len(ids)}
	s.fanOut(ctx, ids, report, func(ctx context.Context, runID string) error {
		_, err := s.coord.BeginDispatch(ctx, runID)
		return err
	})
	s.log.Info("payroll retry trigger finished", "runs", report.Considered, "items", items, "succeeded", report.Succeeded, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

var errSkip = errors.New("run no longer eligible")

func (s *Scheduler) fanOut(ctx context.Context, ids []string, report *TickReport, process func(context.Context, string) error) {
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, runID := range ids {
		runID := runID
		g.Go(func() error {
			if ctx.Err() != nil {
				report.add(tickSkipped)
				return nil
			}
			report.add(s.classify(runID, process(ctx, runID)))
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) classify(runID string, err error) tickOutcome {
	switch {
	case err == nil:
		return tickSucceeded
	case errors.Is(err, errSkip):
		return tickSkipped
	case errors.Is(err, ErrRunBusy):
		s.log.Debug("payroll run skipped, lease held", "runId", runID)
		return tickSkipped
	case Retryable(err):
		s.log.Warn("payroll run deferred", "runId", runID, "err", err)
		return tickSkipped
	}
	s.log.Warn("payroll run processing failed", "runId", runID, "err", err)
	return tickFailed
}
