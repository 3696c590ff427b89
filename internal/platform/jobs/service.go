package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Recorder persists one row per job execution. Begin returns an id that
// Finish receives; an empty id skips the update.
type Recorder interface {
	Begin(ctx context.Context, jobType string) (string, error)
	Finish(ctx context.Context, id, status string, detailsJSON []byte) error
}

type Service struct {
	rec       Recorder
	log       *slog.Logger
	queue     chan job
	schedules []schedule
	once      sync.Once
}

type job struct {
	Type string
	Run  func(context.Context) (any, error)
}

type schedule struct {
	jobType  string
	interval time.Duration
	run      func(context.Context) (any, error)
}

func New(rec Recorder, log *slog.Logger) *Service {
	if rec == nil {
		rec = NopRecorder{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		rec:   rec,
		log:   log,
		queue: make(chan job, 128),
	}
}

// Every registers a ticker-driven job. Intervals <= 0 disable it.
func (s *Service) Every(jobType string, interval time.Duration, run func(context.Context) (any, error)) {
	if interval <= 0 {
		s.log.Info("job disabled", "jobType", jobType)
		return
	}
	s.schedules = append(s.schedules, schedule{jobType: jobType, interval: interval, run: run})
}

// Start launches the worker and every registered ticker. Ticks go through
// one worker, so a job never overlaps itself.
func (s *Service) Start(ctx context.Context) {
	s.once.Do(func() {
		go s.worker(ctx)
		for _, sc := range s.schedules {
			go s.tick(ctx, sc)
		}
	})
}

func (s *Service) Enqueue(jobType string, run func(context.Context) (any, error)) {
	select {
	case s.queue <- job{Type: jobType, Run: run}:
	default:
		s.log.Warn("job queue full", "jobType", jobType)
	}
}

func (s *Service) RunNow(ctx context.Context, jobType string, run func(context.Context) (any, error)) (any, error) {
	return s.runJob(ctx, job{Type: jobType, Run: run})
}

func (s *Service) tick(ctx context.Context, sc schedule) {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Enqueue(sc.jobType, sc.run)
		}
	}
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				s.log.Warn("job run failed", "jobType", j.Type, "err", err)
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	runID, err := s.rec.Begin(ctx, j.Type)
	if err != nil {
		s.log.Warn("job run insert failed", "jobType", j.Type, "err", err)
	}

	details, err := j.Run(ctx)
	status := StatusCompleted
	if err != nil {
		status = StatusFailed
	}
	detailsJSON, marshalErr := json.Marshal(details)
	if marshalErr != nil {
		s.log.Warn("job details marshal failed", "err", marshalErr)
		detailsJSON = []byte("{}")
	}
	if runID != "" {
		if updErr := s.rec.Finish(context.WithoutCancel(ctx), runID, status, detailsJSON); updErr != nil {
			s.log.Warn("job run update failed", "jobType", j.Type, "err", updErr)
		}
	}
	return details, err
}

type NopRecorder struct{}

func (NopRecorder) Begin(context.Context, string) (string, error) { return "", nil }

func (NopRecorder) Finish(context.Context, string, string, []byte) error { return nil }
