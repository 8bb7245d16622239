package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chandlerchaos/plebeian-market/internal/auth"
	"github.com/chandlerchaos/plebeian-market/internal/model"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	createChallengeFn      func(ctx context.Context) (*auth.Challenge, error)
	handleWalletResponseFn func(ctx context.Context, k1, keyHex, sigHex string) error
	pollFn                 func(ctx context.Context, k1 string) (string, error)
	verifyTokenFn          func(token string) (string, error)
}

func (m *mockAuthService) CreateChallenge(ctx context.Context) (*auth.Challenge, error) {
	if m.createChallengeFn != nil {
		return m.createChallengeFn(ctx)
	}
	return &auth.Challenge{K1: "aa11", LNURL: "lnurl1...", QRCode: "data:image/png;base64,..."}, nil
}

func (m *mockAuthService) HandleWalletResponse(ctx context.Context, k1, keyHex, sigHex string) error {
	if m.handleWalletResponseFn != nil {
		return m.handleWalletResponseFn(ctx, k1, keyHex, sigHex)
	}
	return nil
}

func (m *mockAuthService) Poll(ctx context.Context, k1 string) (string, error) {
	if m.pollFn != nil {
		return m.pollFn(ctx, k1)
	}
	return "", nil
}

func (m *mockAuthService) VerifyToken(token string) (string, error) {
	if m.verifyTokenFn != nil {
		return m.verifyTokenFn(token)
	}
	return "02abc", nil
}

// --- GET /api/login（チャレンジ発行）テスト ---

func TestAuthHandler_Login_NoK1_CreatesChallenge(t *testing.T) {
	svc := &mockAuthService{
		createChallengeFn: func(ctx context.Context) (*auth.Challenge, error) {
			return &auth.Challenge{K1: "deadbeef", LNURL: "lnurl1abc", QRCode: "data:image/png;base64,xyz"}, nil
		},
	}

	h := NewAuthHandler(svc, &mockUserService{})

	req := httptest.NewRequest(http.MethodGet, "/api/login", nil)
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body auth.Challenge
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.K1 != "deadbeef" {
		t.Errorf("k1 = %q, want %q", body.K1, "deadbeef")
	}
	if body.LNURL != "lnurl1abc" {
		t.Errorf("lnurl = %q, want %q", body.LNURL, "lnurl1abc")
	}
	if body.QRCode == "" {
		t.Error("qr is empty")
	}
}

// --- GET /api/login?k1=..&key=..&sig=..（ウォレット応答）テスト ---

func TestAuthHandler_Login_WalletResponse_OK(t *testing.T) {
	var gotK1, gotKey, gotSig string
	svc := &mockAuthService{
		handleWalletResponseFn: func(ctx context.Context, k1, keyHex, sigHex string) error {
			gotK1, gotKey, gotSig = k1, keyHex, sigHex
			return nil
		},
	}

	h := NewAuthHandler(svc, &mockUserService{})

	req := httptest.NewRequest(http.MethodGet, "/api/login?k1=aa11&key=02ff&sig=3045", nil)
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "OK" {
		t.Errorf("status = %q, want %q", body["status"], "OK")
	}
	if _, ok := body["reason"]; ok {
		t.Error("reason should be omitted on success")
	}

	if gotK1 != "aa11" || gotKey != "02ff" || gotSig != "3045" {
		t.Errorf("service received (%q, %q, %q)", gotK1, gotKey, gotSig)
	}
}

func TestAuthHandler_Login_WalletResponse_VerificationFailed(t *testing.T) {
	svc := &mockAuthService{
		handleWalletResponseFn: func(ctx context.Context, k1, keyHex, sigHex string) error {
			return model.NewVerificationFailedError()
		},
	}

	h := NewAuthHandler(svc, &mockUserService{})

	req := httptest.NewRequest(http.MethodGet, "/api/login?k1=aa11&key=02ff&sig=bad", nil)
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ERROR" {
		t.Errorf("status = %q, want %q", body["status"], "ERROR")
	}
	if body["reason"] == "" {
		t.Error("reason is empty")
	}
}

// --- GET /api/login?k1=..（ポーリング）テスト ---

func TestAuthHandler_Login_Poll_Pending(t *testing.T) {
	svc := &mockAuthService{
		pollFn: func(ctx context.Context, k1 string) (string, error) {
			return "", nil
		},
	}

	h := NewAuthHandler(svc, &mockUserService{})

	req := httptest.NewRequest(http.MethodGet, "/api/login?k1=aa11", nil)
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Success {
		t.Error("success = true, want false")
	}
	if body.Token != "" {
		t.Errorf("token = %q, want empty", body.Token)
	}
}

func TestAuthHandler_Login_Poll_CompletedReturnsTokenAndUser(t *testing.T) {
	svc := &mockAuthService{
		pollFn: func(ctx context.Context, k1 string) (string, error) {
			if k1 != "aa11" {
				t.Errorf("k1 = %q, want %q", k1, "aa11")
			}
			return "jwt-token", nil
		},
		verifyTokenFn: func(token string) (string, error) {
			if token != "jwt-token" {
				t.Errorf("token = %q, want %q", token, "jwt-token")
			}
			return "02abc", nil
		},
	}
	users := &mockUserService{
		getByKeyFn: func(ctx context.Context, userKey string) (*model.User, error) {
			if userKey != "02abc" {
				t.Errorf("userKey = %q, want %q", userKey, "02abc")
			}
			return &model.User{Key: "02abc", Nym: "satoshi"}, nil
		},
	}

	h := NewAuthHandler(svc, users)

	req := httptest.NewRequest(http.MethodGet, "/api/login?k1=aa11", nil)
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !body.Success {
		t.Error("success = false, want true")
	}
	if body.Token != "jwt-token" {
		t.Errorf("token = %q, want %q", body.Token, "jwt-token")
	}
	if body.User == nil || body.User.Key != "02abc" {
		t.Errorf("user = %+v, want key 02abc", body.User)
	}
}

func TestAuthHandler_Login_Poll_UnknownChallenge(t *testing.T) {
	svc := &mockAuthService{
		pollFn: func(ctx context.Context, k1 string) (string, error) {
			return "", model.NewVerificationFailedError()
		},
	}

	h := NewAuthHandler(svc, &mockUserService{})

	req := httptest.NewRequest(http.MethodGet, "/api/login?k1=unknown", nil)
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}
