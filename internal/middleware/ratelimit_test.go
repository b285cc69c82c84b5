package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func request(h http.Handler, addr string) int {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = addr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiter_BurstThenReject(t *testing.T) {
	l := NewRateLimiter(0.001, 2)
	h := l.Handler(okHandler())

	for i := 0; i < 2; i++ {
		if code := request(h, "10.0.0.1:5000"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, code)
		}
	}
	if code := request(h, "10.0.0.1:5001"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after burst, got %d", code)
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	l := NewRateLimiter(0.001, 1)
	h := l.Handler(okHandler())

	request(h, "10.0.0.1:5000")
	if code := request(h, "10.0.0.2:5000"); code != http.StatusOK {
		t.Errorf("second client should not share a bucket, got %d", code)
	}
}

func TestRateLimiter_DisabledPassesThrough(t *testing.T) {
	l := NewRateLimiter(0, 1)
	h := l.Handler(okHandler())
	for i := 0; i < 10; i++ {
		if code := request(h, "10.0.0.1:5000"); code != http.StatusOK {
			t.Fatalf("expected 200 with limiting disabled, got %d", code)
		}
	}
}

func TestRateLimiter_SweepDropsIdle(t *testing.T) {
	l := NewRateLimiter(1, 1)
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.limiter("10.0.0.1")
	now = now.Add(5 * time.Minute)
	l.limiter("10.0.0.2")
	l.sweep()

	if _, ok := l.visitors["10.0.0.1"]; ok {
		t.Error("idle visitor should be dropped")
	}
	if _, ok := l.visitors["10.0.0.2"]; !ok {
		t.Error("recent visitor should be kept")
	}
}
