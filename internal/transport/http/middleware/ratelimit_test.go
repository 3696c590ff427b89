package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payrollx/internal/domain/auth"
	"payrollx/internal/requestctx"
)

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

type hit struct {
	method string
	path   string
	remote string
	actor  string
}

func (p hit) send(h http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(p.method, p.path, nil)
	req.RemoteAddr = p.remote
	if p.actor != "" {
		req = req.WithContext(requestctx.WithActor(context.Background(), auth.Actor{ID: p.actor, Role: auth.RoleOperator}))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitKeys(t *testing.T) {
	cases := []struct {
		name   string
		first  hit
		second hit
		want   int
	}{
		{
			name:   "same actor from two addresses",
			first:  hit{http.MethodPost, "/api/v1/payroll/runs", "198.51.100.11:2222", "ops-1"},
			second: hit{http.MethodPost, "/api/v1/payroll/runs", "198.51.100.12:3333", "ops-1"},
			want:   http.StatusTooManyRequests,
		},
		{
			name:   "anonymous callers share their address",
			first:  hit{http.MethodPost, "/api/v1/payroll/runs", "203.0.113.10:4444", ""},
			second: hit{http.MethodPost, "/api/v1/payroll/runs", "203.0.113.10:5555", ""},
			want:   http.StatusTooManyRequests,
		},
		{
			name:   "different actors are counted apart",
			first:  hit{http.MethodPost, "/api/v1/payroll/runs", "203.0.113.20:1000", "ops-1"},
			second: hit{http.MethodPost, "/api/v1/payroll/runs", "203.0.113.20:1000", "ops-2"},
			want:   http.StatusNoContent,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := RateLimit(1, time.Minute)(http.HandlerFunc(noContent))
			if rec := tc.first.send(h); rec.Code != http.StatusNoContent {
				t.Fatalf("expected first request to pass, got %d", rec.Code)
			}
			if rec := tc.second.send(h); rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestRateLimitWindowResetAndHeaders(t *testing.T) {
	h := RateLimit(1, 40*time.Millisecond)(http.HandlerFunc(noContent))
	p := hit{http.MethodPost, "/api/v1/payroll/runs", "192.0.2.20:1111", ""}

	if rec := p.send(h); rec.Code != http.StatusNoContent || rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected first request to pass with no budget left, got %d remaining=%q", rec.Code, rec.Header().Get("X-RateLimit-Remaining"))
	}
	rec := p.send(h)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After of 1, got %q", rec.Header().Get("Retry-After"))
	}

	time.Sleep(50 * time.Millisecond)
	if rec := p.send(h); rec.Code != http.StatusNoContent {
		t.Fatalf("expected request after window reset to pass, got %d", rec.Code)
	}
}

func TestWindowLimiterSweepsExpiredKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newWindowLimiter(1, time.Second, nil)
	l.now = func() time.Time { return now }
	l.sweepAt = 2

	l.take("a")
	l.take("b")
	now = now.Add(2 * time.Second)
	l.take("c")

	if len(l.windows) != 1 {
		t.Fatalf("expected expired windows to be swept, have %d", len(l.windows))
	}
}

func TestSensitiveMutationRateLimitScope(t *testing.T) {
	h := SensitiveMutationRateLimit(4, time.Minute)(http.HandlerFunc(noContent))

	read := hit{http.MethodGet, "/api/v1/payroll/runs/run-1", "198.51.100.40:8888", ""}
	for i := 0; i < 6; i++ {
		if rec := read.send(h); rec.Code != http.StatusNoContent {
			t.Fatalf("expected read %d to bypass sensitive limits, got %d", i+1, rec.Code)
		}
	}

	execute := hit{http.MethodPost, "/api/v1/payroll/runs/run-1/execute", "198.51.100.41:9999", "ops-2"}
	cancel := hit{http.MethodPost, "/api/v1/payroll/runs/run-2/cancel", "198.51.100.41:9999", "ops-2"}
	if rec := execute.send(h); rec.Code != http.StatusNoContent {
		t.Fatalf("expected execute to pass, got %d", rec.Code)
	}
	if rec := cancel.send(h); rec.Code != http.StatusNoContent {
		t.Fatalf("expected cancel to pass, got %d", rec.Code)
	}
	if rec := execute.send(h); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected third run command to be throttled, got %d", rec.Code)
	}
}

func TestSensitiveMutationRateLimitCallbackScope(t *testing.T) {
	h := SensitiveMutationRateLimit(1, time.Minute)(http.HandlerFunc(noContent))
	callback := hit{http.MethodPost, "/api/v1/payroll/results", "198.51.100.50:7777", ""}

	for i := 0; i < 4; i++ {
		if rec := callback.send(h); rec.Code != http.StatusNoContent {
			t.Fatalf("expected callback %d to pass, got %d", i+1, rec.Code)
		}
	}
	if rec := callback.send(h); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected fifth callback to be throttled, got %d", rec.Code)
	}
}

func TestIsRunCommand(t *testing.T) {
	for path, want := range map[string]bool{
		"/payroll/runs/run-1/execute": true,
		"/payroll/runs/run-1/cancel":  true,
		"/payroll/runs/run-1":         false,
		"/payroll/runs":               false,
		"/payroll/runs/run-1/items":   false,
	} {
		if got := isRunCommand(path); got != want {
			t.Fatalf("isRunCommand(%q) = %v, want %v", path, got, want)
		}
	}
}
