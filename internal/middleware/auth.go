// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/chandlerchaos/plebeian-market/internal/model"
)

// accessTokenHeader はクライアントがセッショントークンを渡すヘッダー。
// Authorization: Bearerもフォールバックとして受け付ける。
const accessTokenHeader = "X-Access-Token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userKeyContextKey はリクエストコンテキストにユーザー鍵を格納するためのキー。
var userKeyContextKey = contextKey("user_key")

// TokenVerifier はセッショントークンの検証に必要なインターフェース。
// auth.Serviceの部分集合として定義する。
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// tokenFromRequest はリクエストからセッショントークンを取り出す。
// X-Access-Tokenヘッダーを優先し、Authorization: Bearerにフォールバックする。
func tokenFromRequest(r *http.Request) string {
	if token := r.Header.Get(accessTokenHeader); token != "" {
		return token
	}
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	return ""
}

// NewAuthMiddleware はセッショントークンを検証し、認証済みユーザー鍵を
// リクエストコンテキストに注入するミドルウェアを返す。
// トークンの欠落・検証失敗には401 Unauthorizedを返す。
func NewAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			userKey, err := verifier.VerifyToken(token)
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			ctx := context.WithValue(r.Context(), userKeyContextKey, userKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewOptionalAuthMiddleware はトークンが付いていれば検証してユーザー鍵を注入し、
// 付いていなければ未認証のまま通すミドルウェアを返す。
// 不正なトークンは無視せず401を返す。
func NewOptionalAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			userKey, err := verifier.VerifyToken(token)
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			ctx := context.WithValue(r.Context(), userKeyContextKey, userKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserKeyFromContext はリクエストコンテキストからユーザー鍵を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserKeyFromContext(ctx context.Context) (string, error) {
	userKey, ok := ctx.Value(userKeyContextKey).(string)
	if !ok || userKey == "" {
		return "", fmt.Errorf("user key not found in context")
	}
	return userKey, nil
}

// ContextWithUserKey はコンテキストにユーザー鍵を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserKey(ctx context.Context, userKey string) context.Context {
	return context.WithValue(ctx, userKeyContextKey, userKey)
}
