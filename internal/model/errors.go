// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, auction, payment, external, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeVerificationFailed   = "VERIFICATION_FAILED"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeAuctionNotFound      = "AUCTION_NOT_FOUND"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeAuctionNotRunning    = "AUCTION_NOT_RUNNING"
	ErrCodeAuctionStarted       = "AUCTION_STARTED"
	ErrCodeBidTooLow            = "BID_TOO_LOW"
	ErrCodeFeaturedMixedEdit    = "FEATURED_MIXED_EDIT"
	ErrCodeTweetNotFound        = "TWEET_NOT_FOUND"
	ErrCodeTweetWithoutPhotos   = "TWEET_WITHOUT_PHOTOS"
	ErrCodeTwitterUserNotFound  = "TWITTER_USER_NOT_FOUND"
	ErrCodeTwitterUsernameTaken = "TWITTER_USERNAME_TAKEN"
	ErrCodeTwitterNotLiked      = "TWITTER_NOT_LIKED"
	ErrCodeExternalFailure      = "EXTERNAL_FAILURE"
	ErrCodeConflict             = "CONFLICT"
)

// NewValidationError は入力検証エラーを生成する。
// fieldには最初に違反が見つかったフィールド名を指定する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です: %s（%s）", field, reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewVerificationFailedError はログイン検証失敗エラーを生成する。
// チャレンジ不在・期限切れ・鍵不一致・署名不正のいずれの場合も同一のメッセージを返し、
// 攻撃者にチャレンジの内部状態を漏らさない。
func NewVerificationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeVerificationFailed,
		Message:  "検証に失敗しました。",
		Category: "auth",
		Action:   "もう一度最初からログインをやり直してください。",
	}
}

// NewUnauthorizedError は認証・認可エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "ログイン状態と権限を確認してください。",
	}
}

// NewAuctionNotFoundError はオークション未検出エラーを生成する。
func NewAuctionNotFoundError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeAuctionNotFound,
		Message:  fmt.Sprintf("指定されたオークションが見つかりません: %s", key),
		Category: "auction",
		Action:   "オークションキーを確認してください。",
	}
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewAuctionNotRunningError は開催中でないオークションへの入札エラーを生成する。
func NewAuctionNotRunningError() *APIError {
	return &APIError{
		Code:     ErrCodeAuctionNotRunning,
		Message:  "オークションは開催中ではありません。",
		Category: "auction",
		Action:   "開催中のオークションにのみ入札できます。",
	}
}

// NewAuctionStartedError は開始済みオークションの編集エラーを生成する。
func NewAuctionStartedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuctionStarted,
		Message:  "開始済みのオークションは編集できません。",
		Category: "auction",
		Action:   "開始前のオークションのみ編集できます。",
	}
}

// NewBidTooLowError は入札額不足エラーを生成する。
// floorには現在上回るべき額（開始価格または現在の最高入札額）を指定する。
func NewBidTooLowError(floor int64) *APIError {
	return &APIError{
		Code:     ErrCodeBidTooLow,
		Message:  fmt.Sprintf("入札額は %d を上回る必要があります。", floor),
		Category: "auction",
		Action:   "現在の最高入札額より高い額で入札してください。",
	}
}

// NewFeaturedMixedEditError はis_featuredと他フィールドの同時変更エラーを生成する。
func NewFeaturedMixedEditError() *APIError {
	return &APIError{
		Code:     ErrCodeFeaturedMixedEdit,
		Message:  "is_featuredを変更する場合、同一リクエストで他のフィールドは変更できません。",
		Category: "validation",
		Action:   "is_featuredの変更は単独のリクエストで行ってください。",
	}
}

// NewTweetNotFoundError はオークション告知ツイート未検出エラーを生成する。
func NewTweetNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeTweetNotFound,
		Message:  "オークションキーを含むツイートが見つかりません。",
		Category: "external",
		Action:   "オークションキーを含むツイートを投稿してから再度お試しください。",
	}
}

// NewTweetWithoutPhotosError は画像なしツイートのエラーを生成する。
func NewTweetWithoutPhotosError() *APIError {
	return &APIError{
		Code:     ErrCodeTweetWithoutPhotos,
		Message:  "ツイートに画像が添付されていません。",
		Category: "external",
		Action:   "商品画像を添付したツイートを投稿してください。",
	}
}

// NewTwitterUserNotFoundError はTwitterプロフィール未検出エラーを生成する。
func NewTwitterUserNotFoundError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeTwitterUserNotFound,
		Message:  fmt.Sprintf("Twitterプロフィールが見つかりません: %s", username),
		Category: "external",
		Action:   "Twitterユーザー名を確認してください。",
	}
}

// NewTwitterUsernameTakenError はTwitterユーザー名重複エラーを生成する。
func NewTwitterUsernameTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeTwitterUsernameTaken,
		Message:  "このTwitterユーザー名は既に登録されています。",
		Category: "validation",
		Action:   "別のユーザー名を指定するか、サポートに問い合わせてください。",
	}
}

// NewTwitterNotLikedError は検証ツイート未Likeエラーを生成する。
func NewTwitterNotLikedError() *APIError {
	return &APIError{
		Code:     ErrCodeTwitterNotLiked,
		Message:  "検証ツイートへのLikeが確認できません。",
		Category: "validation",
		Action:   "検証ツイートをLikeしてから再度お試しください。",
	}
}

// NewExternalFailureError は外部コラボレータ呼び出し失敗エラーを生成する。
// 詳細（reason）はログにのみ記録し、ユーザーには操作単位の概要を返す。
func NewExternalFailureError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodeExternalFailure,
		Message:  fmt.Sprintf("外部サービスの呼び出しに失敗しました: %s", operation),
		Category: "external",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewConflictError は状態前提条件の競合エラーを生成する。
func NewConflictError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  fmt.Sprintf("操作が現在の状態と競合しています: %s", reason),
		Category: "system",
		Action:   "最新の状態を取得してから再度お試しください。",
	}
}

// IsAPIErrorCode はerrが指定コードのAPIErrorかを判定する。
func IsAPIErrorCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
