// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chandlerchaos/plebeian-market/internal/auth"
	"github.com/chandlerchaos/plebeian-market/internal/middleware"
	"github.com/chandlerchaos/plebeian-market/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	// CreateChallenge は新しいログインチャレンジを発行する。
	CreateChallenge(ctx context.Context) (*auth.Challenge, error)
	// HandleWalletResponse はウォレットからの署名付き応答を処理する。
	HandleWalletResponse(ctx context.Context, k1, keyHex, sigHex string) error
	// Poll はチャレンジの状態を確認し、署名済みならセッショントークンを返す。
	Poll(ctx context.Context, k1 string) (string, error)
	// VerifyToken はセッショントークンを検証し、ユーザー鍵を返す。
	VerifyToken(token string) (string, error)
}

// UserGetter はユーザー取得のためのインターフェース。
// ログイン完了レスポンスにユーザー情報を含めるために使用する。
type UserGetter interface {
	GetByKey(ctx context.Context, userKey string) (*model.User, error)
}

// AuthHandler はLNURL-auth認証のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	users   UserGetter
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, users UserGetter) *AuthHandler {
	return &AuthHandler{
		service: service,
		users:   users,
	}
}

// walletResponse はLNURL-authウォレットへの応答フォーマット（LUD-04）。
type walletResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// pollResponse はブラウザのポーリングへの応答。
type pollResponse struct {
	Success bool          `json:"success"`
	Token   string        `json:"token,omitempty"`
	User    *userResponse `json:"user,omitempty"`
}

// Login はログインエンドポイントを処理する。同じパスが3つの役割を持つ:
//
//	GET /api/login                     → 新しいチャレンジの発行（ブラウザ）
//	GET /api/login?k1=..&key=..&sig=.. → ウォレットからの署名応答（LUD-04）
//	GET /api/login?k1=..               → ブラウザのポーリング
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	k1 := q.Get("k1")

	if k1 == "" {
		challenge, err := h.service.CreateChallenge(r.Context())
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, challenge)
		return
	}

	key, sig := q.Get("key"), q.Get("sig")
	if key != "" && sig != "" {
		h.handleWallet(w, r, k1, key, sig)
		return
	}

	h.handlePoll(w, r, k1)
}

// handleWallet はウォレットからの署名応答を処理する。
// ウォレット向けにはLUD-04の{"status": ...}フォーマットで応答する。
func (h *AuthHandler) handleWallet(w http.ResponseWriter, r *http.Request, k1, key, sig string) {
	if err := h.service.HandleWalletResponse(r.Context(), k1, key, sig); err != nil {
		reason := "login failed"
		status := http.StatusBadRequest
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			reason = apiErr.Message
			status = middleware.StatusForAPIError(apiErr)
		}
		writeJSON(w, status, walletResponse{Status: "ERROR", Reason: reason})
		return
	}
	writeJSON(w, http.StatusOK, walletResponse{Status: "OK"})
}

// handlePoll はブラウザのポーリングを処理する。
// ウォレットの応答待ちの間は{"success": false}を返し続ける。
func (h *AuthHandler) handlePoll(w http.ResponseWriter, r *http.Request, k1 string) {
	token, err := h.service.Poll(r.Context(), k1)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if token == "" {
		writeJSON(w, http.StatusOK, pollResponse{Success: false})
		return
	}

	userKey, err := h.service.VerifyToken(token)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	user, err := h.users.GetByKey(r.Context(), userKey)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	resp := pollResponse{Success: true, Token: token}
	if user != nil {
		ur := toUserResponse(user)
		resp.User = &ur
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// decodeJSON はリクエストボディをデコードする。
// 失敗時はバリデーションエラーを書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("body", "リクエストボディが不正です"))
		return false
	}
	return true
}
