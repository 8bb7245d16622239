package handler

import (
	"context"
	"net/http"

	"github.com/chandlerchaos/plebeian-market/internal/middleware"
	"github.com/chandlerchaos/plebeian-market/internal/model"
	"github.com/chandlerchaos/plebeian-market/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetByKey(ctx context.Context, userKey string) (*model.User, error)
	UpdateProfile(ctx context.Context, userKey string, input user.UpdateProfileInput) (*model.User, error)
	VerifyTwitter(ctx context.Context, userKey string) (*model.User, error)
	ListNotifications(ctx context.Context, userKey string) ([]*model.UserNotification, error)
	UpdateNotifications(ctx context.Context, userKey string, settings []user.NotificationSetting) error
}

// UserHandler はユーザープロフィールのHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	Key                     string  `json:"key"`
	Nym                     string  `json:"nym"`
	ContributionPercent     float64 `json:"contribution_percent"`
	TwitterUsername         string  `json:"twitter_username"`
	TwitterUsernameVerified bool    `json:"twitter_username_verified"`
	TwitterProfileImageURL  string  `json:"twitter_profile_image_url"`
	IsModerator             bool    `json:"is_moderator"`
}

// updateProfileRequest はプロフィール更新リクエストのボディ。
// 省略されたフィールドは変更なしを表す。
type updateProfileRequest struct {
	Nym                 *string  `json:"nym"`
	TwitterUsername     *string  `json:"twitter_username"`
	ContributionPercent *float64 `json:"contribution_percent"`
}

// Me は自分のプロフィールを返す。
// GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userKey, err := middleware.UserKeyFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	u, err := h.service.GetByKey(r.Context(), userKey)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// UpdateMe は自分のプロフィールを更新する。
// POST /api/users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userKey, err := middleware.UserKeyFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.service.UpdateProfile(r.Context(), userKey, user.UpdateProfileInput{
		Nym:                 req.Nym,
		TwitterUsername:     req.TwitterUsername,
		ContributionPercent: req.ContributionPercent,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// VerifyTwitter はTwitterアカウントの所有検証を実行する。
// PUT /api/users/me/verify-twitter
func (h *UserHandler) VerifyTwitter(w http.ResponseWriter, r *http.Request) {
	userKey, err := middleware.UserKeyFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	u, err := h.service.VerifyTwitter(r.Context(), userKey)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// notificationResponse は通知設定1件のAPIレスポンス。
type notificationResponse struct {
	NotificationType            string `json:"notification_type"`
	NotificationTypeDescription string `json:"notification_type_description"`
	Action                      string `json:"action"`
	ActionDescription           string `json:"action_description"`
}

// updateNotificationsRequest は通知設定更新リクエストのボディ。
type updateNotificationsRequest struct {
	Notifications []struct {
		NotificationType string `json:"notification_type"`
		Action           string `json:"action"`
	} `json:"notifications"`
}

// Notifications は自分の通知設定を返す。
// GET /api/users/me/notifications
func (h *UserHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	userKey, err := middleware.UserKeyFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	list, err := h.service.ListNotifications(r.Context(), userKey)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	notifications := make([]notificationResponse, 0, len(list))
	for _, n := range list {
		notifications = append(notifications, notificationResponse{
			NotificationType:            string(n.Type),
			NotificationTypeDescription: n.Type.Description(),
			Action:                      string(n.Action),
			ActionDescription:           n.Action.Description(),
		})
	}
	writeJSON(w, http.StatusOK, map[string][]notificationResponse{"notifications": notifications})
}

// UpdateNotifications は自分の通知設定を更新する。
// PUT /api/users/me/notifications
func (h *UserHandler) UpdateNotifications(w http.ResponseWriter, r *http.Request) {
	userKey, err := middleware.UserKeyFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req updateNotificationsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	settings := make([]user.NotificationSetting, 0, len(req.Notifications))
	for _, n := range req.Notifications {
		settings = append(settings, user.NotificationSetting{
			Type:   model.NotificationType(n.NotificationType),
			Action: model.NotificationAction(n.Action),
		})
	}

	if err := h.service.UpdateNotifications(r.Context(), userKey, settings); err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct{}{})
}

// toUserResponse はmodel.UserからAPIレスポンスに変換する。
func toUserResponse(u *model.User) userResponse {
	return userResponse{
		Key:                     u.Key,
		Nym:                     u.Nym,
		ContributionPercent:     u.ContributionPercent,
		TwitterUsername:         u.TwitterUsername,
		TwitterUsernameVerified: u.TwitterUsernameVerified,
		TwitterProfileImageURL:  u.TwitterProfileImageURL,
		IsModerator:             u.IsModerator,
	}
}
