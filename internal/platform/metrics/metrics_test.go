package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCollectorCounters(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Inc(ItemsDispatched, 2)
		}()
	}
	wg.Wait()
	if got := c.Count(ItemsDispatched); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if got := c.Count(Anomalies); got != 0 {
		t.Fatalf("expected 0 for unknown counter, got %d", got)
	}
}

func TestCollectorSnapshot(t *testing.T) {
	c := New()
	c.Record(200, 10*time.Millisecond)
	c.Record(503, 30*time.Millisecond)
	c.Inc(LeaseSkips, 1)

	snap := c.Snapshot()
	if snap["requestsTotal"].(uint64) != 2 {
		t.Fatalf("expected 2 requests, got %v", snap["requestsTotal"])
	}
	if snap["errorsTotal"].(uint64) != 1 {
		t.Fatalf("expected 1 error, got %v", snap["errorsTotal"])
	}
	if snap["avgDurationMs"].(float64) != 20 {
		t.Fatalf("expected avg 20, got %v", snap["avgDurationMs"])
	}
	payroll := snap["payroll"].(map[string]int64)
	if payroll[LeaseSkips] != 1 {
		t.Fatalf("expected lease skip counter 1, got %v", payroll)
	}
}
