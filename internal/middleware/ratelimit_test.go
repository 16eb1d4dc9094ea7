package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Strob0t/iotbridge/internal/config"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(rps float64, burst int) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(config.Rate{RequestsPerSecond: rps, Burst: burst, MaxIdleTime: time.Minute})
	rl.now = clock.now
	return rl, clock
}

func hit(h http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/devices/dev-1/enroll", http.NoBody)
	req.RemoteAddr = addr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestRateLimiterBurst(t *testing.T) {
	rl, _ := newTestLimiter(1, 5)
	h := rl.Handler(okHandler())

	for i := range 5 {
		if rec := hit(h, "192.168.1.1:4000"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := hit(h, "192.168.1.1:4000")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl, clock := newTestLimiter(2, 1)
	h := rl.Handler(okHandler())

	if rec := hit(h, "10.0.0.1:1"); rec.Code != http.StatusOK {
		t.Fatalf("first: %d", rec.Code)
	}
	if rec := hit(h, "10.0.0.1:1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second: %d", rec.Code)
	}
	clock.advance(500 * time.Millisecond)
	if rec := hit(h, "10.0.0.1:1"); rec.Code != http.StatusOK {
		t.Errorf("after refill: %d", rec.Code)
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	rl, _ := newTestLimiter(1, 1)
	h := rl.Handler(okHandler())

	hit(h, "10.0.0.1:1")
	if rec := hit(h, "10.0.0.2:1"); rec.Code != http.StatusOK {
		t.Errorf("other client limited: %d", rec.Code)
	}
}

func TestRateLimiterIgnoresForwardedFor(t *testing.T) {
	rl, _ := newTestLimiter(1, 1)
	h := rl.Handler(okHandler())

	hit(h, "10.0.0.1:1")
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "10.0.0.1:2"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("spoofed header bypassed limit: %d", rec.Code)
	}
}

func TestRateLimiterEvict(t *testing.T) {
	rl, clock := newTestLimiter(1, 1)
	h := rl.Handler(okHandler())
	hit(h, "10.0.0.1:1")
	hit(h, "10.0.0.2:1")

	clock.advance(30 * time.Second)
	hit(h, "10.0.0.2:1")
	clock.advance(45 * time.Second)
	rl.evict()

	if rl.Len() != 1 {
		t.Errorf("expected 1 bucket after eviction, got %d", rl.Len())
	}
}
