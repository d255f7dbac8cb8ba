package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitBlocksAfterLimitPerUser(t *testing.T) {
	store, _ := newRedisStore(t)
	policy := NewRateLimitPolicy("payment-initiate", time.Minute, 2)
	handler := RateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate/o-1", nil)
		req = req.WithContext(WithIdentity(req.Context(), "user-1", "customer"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		switch {
		case i < 2 && rec.Code != http.StatusOK:
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		case i == 2 && rec.Code != http.StatusTooManyRequests:
			t.Fatalf("expected 429 after limit, got %d", rec.Code)
		}
	}

	other := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate/o-1", nil)
	other = other.WithContext(WithIdentity(other.Context(), "user-2", "customer"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("other users keep their own window, got %d", rec.Code)
	}
}

func TestRateLimitWindowResets(t *testing.T) {
	store, srv := newRedisStore(t)
	policy := NewRateLimitPolicy("verify", time.Minute, 1)
	handler := RateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify/TXN", nil)
		req.RemoteAddr = "10.0.0.9:4242"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(); code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("expected second request limited, got %d", code)
	}
	srv.FastForward(2 * time.Minute)
	if code := send(); code != http.StatusOK {
		t.Fatalf("expected window reset, got %d", code)
	}
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	called := false
	handler := RateLimit(NewRateLimitPolicy("off", 0, 0), nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatalf("expected pass-through")
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
	req.RemoteAddr = "10.0.0.2:1234"
	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("unexpected client ip %q", got)
	}
}

func TestRateLimitRetryAfterReflectsRemainingWindow(t *testing.T) {
	store, srv := newRedisStore(t)
	policy := NewRateLimitPolicy("payment-callback", time.Minute, 1)
	handler := RateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/payments/success", nil)
		r.Header.Set("X-Real-IP", "198.51.100.4")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		return rec
	}

	req()
	srv.FastForward(45 * time.Second)
	rec := req()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "15" {
		t.Fatalf("expected Retry-After 15, got %q", got)
	}
}
