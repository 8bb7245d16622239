package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     2,
		GeneralBurst:    5,
		BidRate:         1,
		BidBurst:        2,
		LoginRate:       1,
		LoginBurst:      2,
		CleanupInterval: 1 * time.Minute,
	}
}

func authedRequest(userKey string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	return req.WithContext(ContextWithUserKey(req.Context(), userKey))
}

// --- GeneralMiddleware のテスト ---

func TestGeneralMiddleware_AllowsRequestsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handlerCallCount := 0
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, authedRequest("user-1"))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}
	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestGeneralMiddleware_RejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, authedRequest("user-1"))
	}

	// バーストを使い切った6番目は429
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest("user-1"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want positive integer", resp.Header.Get("Retry-After"))
	}
}

func TestGeneralMiddleware_PerUserIsolation(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// user-1がバーストを使い切る
	for i := 0; i < 6; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, authedRequest("user-1"))
	}

	// user-2には影響しない
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest("user-2"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("user-2 status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestGeneralMiddleware_Unauthenticated_Returns401(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// --- BidMiddleware のテスト ---

func TestBidMiddleware_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	general := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	bid := rl.BidMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// 入札枠（バースト2）を使い切る
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		bid.ServeHTTP(w, authedRequest("user-1"))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("bid request %d: status = %d", i, w.Result().StatusCode)
		}
	}

	w := httptest.NewRecorder()
	bid.ServeHTTP(w, authedRequest("user-1"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("bid status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}

	// API全般の枠は独立して残っている
	w = httptest.NewRecorder()
	general.ServeHTTP(w, authedRequest("user-1"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("general status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

// --- LoginMiddleware のテスト ---

func ipRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/login", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestLoginMiddleware_RejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.LoginMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内（2リクエスト）は通る
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, ipRequest("10.0.0.1:1111"))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, ipRequest("10.0.0.1:1111"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want positive integer", resp.Header.Get("Retry-After"))
	}
}

func TestLoginMiddleware_PerIPIsolation(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.LoginMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// 10.0.0.1がバーストを使い切る
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, ipRequest("10.0.0.1:1111"))
	}

	// ポートが違っても同じIPなら同じ枠
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, ipRequest("10.0.0.1:9999"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("same IP status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}

	// 別IPには影響しない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, ipRequest("10.0.0.2:2222"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("other IP status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	if rl.LoginLimiterCount() != 2 {
		t.Errorf("login limiter count = %d, want 2", rl.LoginLimiterCount())
	}
}

func TestLoginMiddleware_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	login := rl.LoginMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	general := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// ログイン枠（バースト2）を使い切る
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		login.ServeHTTP(w, ipRequest("10.0.0.1:1111"))
	}

	// 認証済みAPIの枠は独立して残っている
	w := httptest.NewRecorder()
	general.ServeHTTP(w, authedRequest("user-1"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("general status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_CleanupRemovesStaleEntries(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.CleanupInterval = 10 * time.Millisecond

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest("user-stale"))

	if rl.GeneralLimiterCount() != 1 {
		t.Fatalf("limiter count = %d, want 1", rl.GeneralLimiterCount())
	}

	// TTL（CleanupInterval * 2）を超えてクリーンアップが走るまで待つ
	deadline := time.Now().Add(2 * time.Second)
	for rl.GeneralLimiterCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if rl.GeneralLimiterCount() != 0 {
		t.Errorf("limiter count = %d, want 0 after cleanup", rl.GeneralLimiterCount())
	}
}

func TestRateLimiter_StopTerminatesCleanup(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())

	done := make(chan struct{})
	go func() {
		rl.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
