package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/chandlerchaos/plebeian-market/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// StatusForAPIError はエラーコードに対応するHTTPステータスコードを返す。
func StatusForAPIError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeAuctionStarted,
		model.ErrCodeAuctionNotRunning:
		return http.StatusForbidden
	case model.ErrCodeAuctionNotFound,
		model.ErrCodeUserNotFound,
		model.ErrCodeTweetNotFound,
		model.ErrCodeTwitterUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeConflict,
		model.ErrCodeTwitterUsernameTaken:
		return http.StatusConflict
	case model.ErrCodeExternalFailure:
		return http.StatusBadGateway
	default:
		// VALIDATION_ERROR、VERIFICATION_FAILED、BID_TOO_LOW等
		return http.StatusBadRequest
	}
}

// WriteError はエラーを統一フォーマットで書き込む。
// APIErrorはコードに応じたステータスで、それ以外はログに残して500で返す。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusForAPIError(apiErr), apiErr)
		return
	}
	slog.Error("unhandled error", slog.String("error", err.Error()))
	WriteInternalServerError(w)
}
