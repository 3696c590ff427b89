package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter names reported by the payroll engine.
const (
	RunsExecuted        = "runsExecuted"
	RunsCancelled       = "runsCancelled"
	ItemsDispatched     = "itemsDispatched"
	ItemsRejected       = "itemsRejected"
	ItemsCompleted      = "itemsCompleted"
	ItemsFailed         = "itemsFailed"
	DuplicateResults    = "duplicateResults"
	Anomalies           = "completionAnomalies"
	LeaseSkips          = "leaseSkips"
	VersionConflicts    = "versionConflicts"
	DispatchUnavailable = "dispatchUnavailable"
)

type Collector struct {
	totalRequests   uint64
	errorRequests   uint64
	totalDurationMs uint64

	mu       sync.RWMutex
	counters map[string]*atomic.Int64
}

func New() *Collector {
	return &Collector{counters: map[string]*atomic.Int64{}}
}

func (c *Collector) Record(status int, duration time.Duration) {
	atomic.AddUint64(&c.totalRequests, 1)
	if status >= 500 {
		atomic.AddUint64(&c.errorRequests, 1)
	}
	atomic.AddUint64(&c.totalDurationMs, uint64(duration.Milliseconds()))
}

func (c *Collector) Inc(name string, delta int64) {
	c.mu.RLock()
	counter, ok := c.counters[name]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		if counter, ok = c.counters[name]; !ok {
			counter = &atomic.Int64{}
			c.counters[name] = counter
		}
		c.mu.Unlock()
	}
	counter.Add(delta)
}

func (c *Collector) Count(name string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if counter, ok := c.counters[name]; ok {
		return counter.Load()
	}
	return 0
}

func (c *Collector) Snapshot() map[string]any {
	total := atomic.LoadUint64(&c.totalRequests)
	errs := atomic.LoadUint64(&c.errorRequests)
	totalMs := atomic.LoadUint64(&c.totalDurationMs)
	avg := float64(0)
	if total > 0 {
		avg = float64(totalMs) / float64(total)
	}
	out := map[string]any{
		"requestsTotal":   total,
		"errorsTotal":     errs,
		"avgDurationMs":   avg,
		"totalDurationMs": totalMs,
	}

	c.mu.RLock()
	payroll := make(map[string]int64, len(c.counters))
	for name, counter := range c.counters {
		payroll[name] = counter.Load()
	}
	c.mu.RUnlock()
	out["payroll"] = payroll
	return out
}
