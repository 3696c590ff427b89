package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"payrollx/internal/transport/http/api"
	"payrollx/internal/transport/http/shared"
)

type RateLimitKeyFunc func(r *http.Request) string

type RateLimitOption func(*windowLimiter)

func WithKeyFunc(fn RateLimitKeyFunc) RateLimitOption {
	return func(l *windowLimiter) {
		if fn != nil {
			l.key = fn
		}
	}
}

// windowLimiter counts requests per key in fixed windows. Expired windows
// are swept once the table passes sweepAt entries.
type windowLimiter struct {
	limit  int
	window time.Duration
	key    RateLimitKeyFunc
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*counterWindow
	sweepAt int
}

type counterWindow struct {
	hits    int
	resetAt time.Time
}

type verdict struct {
	allowed   bool
	remaining int
	resetIn   time.Duration
}

func newWindowLimiter(limit int, window time.Duration, key RateLimitKeyFunc) *windowLimiter {
	if key == nil {
		key = actorOrIPKey
	}
	return &windowLimiter{
		limit:   limit,
		window:  window,
		key:     key,
		now:     time.Now,
		windows: map[string]*counterWindow{},
		sweepAt: 1024,
	}
}

func (l *windowLimiter) take(key string) verdict {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.windows) >= l.sweepAt {
		for k, w := range l.windows {
			if now.After(w.resetAt) {
				delete(l.windows, k)
			}
		}
		if len(l.windows) >= l.sweepAt {
			l.sweepAt *= 2
		}
	}

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &counterWindow{resetAt: now.Add(l.window)}
		l.windows[key] = w
	}
	w.hits++
	return verdict{
		allowed:   w.hits <= l.limit,
		remaining: max(l.limit-w.hits, 0),
		resetIn:   w.resetAt.Sub(now),
	}
}

// admit writes the rate limit headers and answers 429 when the caller is
// over budget. A non-positive limit disables the limiter.
func (l *windowLimiter) admit(w http.ResponseWriter, r *http.Request) bool {
	if l.limit <= 0 {
		return true
	}
	key := l.key(r)
	if key == "" {
		key = clientIPKey(r)
	}
	v := l.take(key)

	resetSec := ceilSeconds(v.resetIn)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(v.remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.Itoa(resetSec))
	if v.allowed {
		return true
	}

	w.Header().Set("Retry-After", strconv.Itoa(max(resetSec, 1)))
	slog.Warn("rate limit exceeded", "key", key, "method", r.Method, "path", r.URL.Path, "limit", l.limit)
	api.Fail(w, http.StatusTooManyRequests, "rate_limited", "too many requests", GetRequestID(r.Context()))
	return false
}

func RateLimit(limit int, window time.Duration, opts ...RateLimitOption) func(http.Handler) http.Handler {
	l := newWindowLimiter(limit, window, actorOrIPKey)
	for _, opt := range opts {
		opt(l)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.admit(w, r) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

type mutationRule struct {
	match   func(path string) bool
	limiter *windowLimiter
}

// SensitiveMutationRateLimit gives execute and cancel a per-actor budget of
// half the base limit. Settlement callbacks get a per-IP budget four times
// the base, since one run settles many items in a burst.
func SensitiveMutationRateLimit(baseLimit int, window time.Duration) func(http.Handler) http.Handler {
	rules := []mutationRule{
		{
			match:   func(path string) bool { return path == "/payroll/results" },
			limiter: newWindowLimiter(max(baseLimit*4, 1), window, clientIPKey),
		},
		{
			match:   isRunCommand,
			limiter: newWindowLimiter(max(baseLimit/2, 1), window, actorOrIPKey),
		},
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				path := strings.TrimPrefix(r.URL.Path, "/api/v1")
				for _, rule := range rules {
					if rule.match(path) {
						if !rule.limiter.admit(w, r) {
							return
						}
						break
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isRunCommand(path string) bool {
	rest, ok := strings.CutPrefix(path, "/payroll/runs/")
	if !ok {
		return false
	}
	_, command, found := strings.Cut(rest, "/")
	return found && (command == "execute" || command == "cancel")
}

func actorOrIPKey(r *http.Request) string {
	if actor, ok := GetActor(r.Context()); ok && actor.ID != "" {
		return "actor:" + actor.ID
	}
	return clientIPKey(r)
}

func clientIPKey(r *http.Request) string {
	return "ip:" + shared.ClientIP(r)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
