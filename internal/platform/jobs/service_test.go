package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memRecorder struct {
	mu       sync.Mutex
	begun    []string
	finished map[string]string
	details  map[string]string
}

func (m *memRecorder) Begin(_ context.Context, jobType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.begun = append(m.begun, jobType)
	return jobType + "-run", nil
}

func (m *memRecorder) Finish(_ context.Context, id, status string, detailsJSON []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[id] = status
	m.details[id] = string(detailsJSON)
	return nil
}

func TestRunNowRecordsOutcome(t *testing.T) {
	rec := &memRecorder{finished: map[string]string{}, details: map[string]string{}}
	svc := New(rec, nil)

	out, err := svc.RunNow(context.Background(), "ok", func(context.Context) (any, error) {
		return map[string]int{"considered": 2}, nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.(map[string]int)["considered"] != 2 {
		t.Fatalf("unexpected details %v", out)
	}
	if rec.finished["ok-run"] != StatusCompleted {
		t.Fatalf("expected completed, got %q", rec.finished["ok-run"])
	}
	if rec.details["ok-run"] != `{"considered":2}` {
		t.Fatalf("unexpected details json %s", rec.details["ok-run"])
	}

	_, err = svc.RunNow(context.Background(), "bad", func(context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if rec.finished["bad-run"] != StatusFailed {
		t.Fatalf("expected failed, got %q", rec.finished["bad-run"])
	}
}

func TestEveryTicks(t *testing.T) {
	svc := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{}, 4)
	svc.Every("tick", 5*time.Millisecond, func(context.Context) (any, error) {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil, nil
	})
	svc.Every("disabled", 0, func(context.Context) (any, error) {
		t.Error("disabled job ran")
		return nil, nil
	})
	svc.Start(ctx)

	for i := 0; i < 2; i++ {
		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatalf("job did not tick")
		}
	}
}
