package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func testLimiterConfig(generalBurst, mutationBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    generalBurst,
		MutationRate:    1,
		MutationBurst:   mutationBurst,
		CleanupInterval: time.Minute,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestAs(method, userID, remoteAddr string) *http.Request {
	req := httptest.NewRequest(method, "/users/1", nil)
	req.RemoteAddr = remoteAddr
	if userID != "" {
		req = req.WithContext(ContextWithUserID(req.Context(), userID))
	}
	return req
}

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := range 5 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(http.MethodGet, "user-1", "192.0.2.1:1234"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestAs(http.MethodGet, "user-1", "192.0.2.1:1234"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(http.MethodGet, "user-1", "192.0.2.1:1234"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want positive integer", resp.Header.Get("Retry-After"))
	}
}

func TestRateLimitMiddleware_KeysByUserThenIP(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	// 同一IPでもユーザーが異なれば独立に制限される
	for _, userID := range []string{"user-1", "user-2", ""} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(http.MethodGet, userID, "192.0.2.1:1234"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("user %q: status = %d, want %d", userID, w.Result().StatusCode, http.StatusOK)
		}
	}

	// 匿名は同一IPで制限される（ポートは無視）
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(http.MethodGet, "", "192.0.2.1:5678"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}

	if got := rl.GeneralLimiterCount(); got != 3 {
		t.Errorf("GeneralLimiterCount = %d, want 3", got)
	}
}

func TestMutationMiddleware_SkipsSafeMethods(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(100, 1))
	defer rl.Stop()

	handler := rl.MutationMiddleware()(okHandler())

	for range 3 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(http.MethodGet, "user-1", "192.0.2.1:1"))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("GET should not be limited by mutation limiter, status = %d", w.Result().StatusCode)
		}
	}
	if rl.MutationLimiterCount() != 0 {
		t.Error("GET must not create mutation limiter entries")
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(http.MethodPost, "user-1", "192.0.2.1:1"))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("first POST status = %d", w.Result().StatusCode)
	}
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(http.MethodPost, "user-1", "192.0.2.1:1"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("second POST status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(10, 10))
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAs(http.MethodGet, "user-1", "192.0.2.1:1"))
	if rl.GeneralLimiterCount() != 1 {
		t.Fatalf("GeneralLimiterCount = %d, want 1", rl.GeneralLimiterCount())
	}

	rl.general.sweep(time.Now().Add(time.Hour), rl.config.CleanupInterval*2)

	if rl.GeneralLimiterCount() != 0 {
		t.Errorf("GeneralLimiterCount after cleanup = %d, want 0", rl.GeneralLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 1))
	rl.Stop()
	rl.Stop()
}

func TestNewRateLimiterConfig(t *testing.T) {
	cfg := NewRateLimiterConfig(120, 20)
	if cfg.GeneralRate != 2 || cfg.GeneralBurst != 120 {
		t.Errorf("general = %v/%d", cfg.GeneralRate, cfg.GeneralBurst)
	}
	if cfg.MutationBurst != 20 {
		t.Errorf("MutationBurst = %d, want 20", cfg.MutationBurst)
	}
}
