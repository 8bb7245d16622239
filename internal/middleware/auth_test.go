package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// --- モック定義 ---

type mockTokenVerifier struct {
	verifyTokenFn func(token string) (string, error)
}

func (m *mockTokenVerifier) VerifyToken(token string) (string, error) {
	if m.verifyTokenFn != nil {
		return m.verifyTokenFn(token)
	}
	return "", errors.New("invalid token")
}

func passingVerifier(wantToken, userKey string) *mockTokenVerifier {
	return &mockTokenVerifier{
		verifyTokenFn: func(token string) (string, error) {
			if token == wantToken {
				return userKey, nil
			}
			return "", errors.New("invalid token")
		},
	}
}

// --- AuthMiddleware のテスト ---

func TestAuthMiddleware_ValidToken_InjectsUserKey(t *testing.T) {
	mw := NewAuthMiddleware(passingVerifier("valid-token", "02abc"))

	var capturedKey string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userKey, err := UserKeyFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		capturedKey = userKey
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("X-Access-Token", "valid-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if capturedKey != "02abc" {
		t.Errorf("userKey = %q, want %q", capturedKey, "02abc")
	}
}

func TestAuthMiddleware_BearerFallback(t *testing.T) {
	mw := NewAuthMiddleware(passingVerifier("bearer-token", "02def"))

	var capturedKey string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedKey, _ = UserKeyFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer bearer-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if capturedKey != "02def" {
		t.Errorf("userKey = %q, want %q", capturedKey, "02def")
	}
}

// X-Access-TokenがあればAuthorizationより優先されることを検証
func TestAuthMiddleware_AccessTokenHeaderTakesPrecedence(t *testing.T) {
	mw := NewAuthMiddleware(passingVerifier("primary", "02abc"))

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("X-Access-Token", "primary")
	req.Header.Set("Authorization", "Bearer secondary")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestAuthMiddleware_NoToken_Returns401(t *testing.T) {
	mw := NewAuthMiddleware(&mockTokenVerifier{})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_InvalidToken_Returns401(t *testing.T) {
	mw := NewAuthMiddleware(&mockTokenVerifier{})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("X-Access-Token", "forged")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// --- OptionalAuthMiddleware のテスト ---

func TestOptionalAuthMiddleware_NoToken_PassesThroughUnauthenticated(t *testing.T) {
	mw := NewOptionalAuthMiddleware(&mockTokenVerifier{})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := UserKeyFromContext(r.Context()); err == nil {
			t.Error("expected no user key in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestOptionalAuthMiddleware_ValidToken_InjectsUserKey(t *testing.T) {
	mw := NewOptionalAuthMiddleware(passingVerifier("valid-token", "02abc"))

	var capturedKey string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedKey, _ = UserKeyFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("X-Access-Token", "valid-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if capturedKey != "02abc" {
		t.Errorf("userKey = %q, want %q", capturedKey, "02abc")
	}
}

// 不正なトークンは黙って無視せず401で拒否することを検証
func TestOptionalAuthMiddleware_InvalidToken_Returns401(t *testing.T) {
	mw := NewOptionalAuthMiddleware(&mockTokenVerifier{})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("X-Access-Token", "forged")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// --- コンテキストヘルパーのテスト ---

func TestUserKeyFromContext_NoValue_ReturnsError(t *testing.T) {
	ctx := context.Background()
	_, err := UserKeyFromContext(ctx)
	if err == nil {
		t.Error("expected error for missing user key in context")
	}
}

func TestUserKeyFromContext_ValidValue_ReturnsUserKey(t *testing.T) {
	ctx := ContextWithUserKey(context.Background(), "02456")
	userKey, err := UserKeyFromContext(ctx)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if userKey != "02456" {
		t.Errorf("userKey = %q, want %q", userKey, "02456")
	}
}
