// Package user はユーザープロフィールとTwitterアカウント検証のビジネスロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chandlerchaos/plebeian-market/internal/model"
	"github.com/chandlerchaos/plebeian-market/internal/repository"
	"github.com/chandlerchaos/plebeian-market/internal/security"
	"github.com/chandlerchaos/plebeian-market/internal/storage"
	"github.com/chandlerchaos/plebeian-market/internal/twitter"
)

// UpdateProfileInput はプロフィール更新の入力。
// nil のフィールドは変更なしを表す。
type UpdateProfileInput struct {
	Nym                 *string
	TwitterUsername     *string
	ContributionPercent *float64
}

// ServiceConfig はユーザーサービスの設定。
type ServiceConfig struct {
	// PlatformTwitterUser は検証ツイートを固定しているプラットフォーム公式アカウント。
	PlatformTwitterUser string
}

// Service はユーザーに関するビジネスロジックを提供する。
type Service struct {
	userRepo         repository.UserRepository
	notificationRepo repository.NotificationRepository
	twitter          twitter.ClientService
	blobs            storage.BlobStoreService
	sanitizer        security.ContentSanitizerService
	config           ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	notificationRepo repository.NotificationRepository,
	twitterClient twitter.ClientService,
	blobs storage.BlobStoreService,
	sanitizer security.ContentSanitizerService,
	config ServiceConfig,
) *Service {
	return &Service{
		userRepo:         userRepo,
		notificationRepo: notificationRepo,
		twitter:          twitterClient,
		blobs:            blobs,
		sanitizer:        sanitizer,
		config:           config,
	}
}

// GetByKey はLightning公開鍵でユーザーを取得する。
func (s *Service) GetByKey(ctx context.Context, userKey string) (*model.User, error) {
	user, err := s.userRepo.FindByKey(ctx, userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateProfile はプロフィールを更新する。
//
// nymは現時点で編集不可のため、指定されるとVALIDATION_ERRORを返す。
// Twitterユーザー名の変更時はプロフィール存在確認・プロフィール画像の取り込み・
// 検証状態のリセットを行う。
func (s *Service) UpdateProfile(ctx context.Context, userKey string, input UpdateProfileInput) (*model.User, error) {
	user, err := s.GetByKey(ctx, userKey)
	if err != nil {
		return nil, err
	}

	if input.Nym != nil {
		return nil, model.NewValidationError("nym", "現在は変更できません")
	}

	if input.ContributionPercent != nil {
		percent := *input.ContributionPercent
		if percent < 0 || percent > 100 {
			return nil, model.NewValidationError("contribution_percent", "0以上100以下で指定してください")
		}
		user.ContributionPercent = percent
	}

	if input.TwitterUsername != nil {
		username := s.sanitizer.SanitizeText(strings.TrimPrefix(*input.TwitterUsername, "@"))
		if username == "" {
			return nil, model.NewValidationError("twitter_username", "空にはできません")
		}

		if !strings.EqualFold(username, user.TwitterUsername) {
			if err := s.adoptTwitterUsername(ctx, user, username); err != nil {
				return nil, err
			}
		}
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// adoptTwitterUsername は新しいTwitterユーザー名を取り込む。
// プロフィール画像はストレージ経由で配信し、Twitterのホスト名を露出させない。
func (s *Service) adoptTwitterUsername(ctx context.Context, user *model.User, username string) error {
	profile, err := s.twitter.GetProfile(ctx, username)
	if err != nil {
		return model.NewExternalFailureError("Twitterプロフィールの取得")
	}
	if profile == nil {
		return model.NewTwitterUserNotFoundError(username)
	}

	imageURL := ""
	if profile.ProfileImageURL != "" {
		imageURL, err = s.blobs.FetchAndStore(ctx, profile.ProfileImageURL, "profiles/"+user.ID)
		if err != nil {
			slog.Error("failed to store profile image",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			return model.NewExternalFailureError("プロフィール画像の保存")
		}
	}

	// 検証ツイートはプラットフォーム公式アカウントの固定ツイート
	platform, err := s.twitter.GetProfile(ctx, s.config.PlatformTwitterUser)
	if err != nil || platform == nil || platform.PinnedTweetID == "" {
		return model.NewExternalFailureError("検証ツイートの取得")
	}

	user.TwitterUsername = profile.Username
	user.TwitterProfileImageURL = imageURL
	user.TwitterUsernameVerified = false
	user.TwitterVerificationTweetID = platform.PinnedTweetID

	return nil
}

// NotificationSetting は通知設定1件の入力。
type NotificationSetting struct {
	Type   model.NotificationType
	Action model.NotificationAction
}

// ListNotifications はユーザーの通知設定を全種別分返す。
// 保存されていない種別は既定の配信方法で補完する。
func (s *Service) ListNotifications(ctx context.Context, userKey string) ([]*model.UserNotification, error) {
	user, err := s.GetByKey(ctx, userKey)
	if err != nil {
		return nil, err
	}

	stored, err := s.notificationRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	byType := make(map[model.NotificationType]*model.UserNotification, len(stored))
	for _, n := range stored {
		byType[n.Type] = n
	}

	notifications := make([]*model.UserNotification, 0, len(model.NotificationTypes))
	for _, t := range model.NotificationTypes {
		if n, ok := byType[t]; ok {
			notifications = append(notifications, n)
			continue
		}
		notifications = append(notifications, &model.UserNotification{
			UserID: user.ID,
			Type:   t,
			Action: model.DefaultNotificationAction,
		})
	}
	return notifications, nil
}

// UpdateNotifications は通知設定を保存する。
// 全件の検証を通過した場合のみ書き込む。
func (s *Service) UpdateNotifications(ctx context.Context, userKey string, settings []NotificationSetting) error {
	user, err := s.GetByKey(ctx, userKey)
	if err != nil {
		return err
	}

	for _, setting := range settings {
		if !setting.Type.Valid() {
			return model.NewValidationError("notification_type", "不明な通知種別です")
		}
		if !setting.Action.Valid() {
			return model.NewValidationError("action", "不明な配信方法です")
		}
	}

	for _, setting := range settings {
		n := &model.UserNotification{
			UserID: user.ID,
			Type:   setting.Type,
			Action: setting.Action,
		}
		if err := s.notificationRepo.Upsert(ctx, n); err != nil {
			return fmt.Errorf("failed to save notification: %w", err)
		}
	}
	return nil
}

// VerifyTwitter はユーザーが検証ツイートにいいねしたことを確認し、検証済みにする。
func (s *Service) VerifyTwitter(ctx context.Context, userKey string) (*model.User, error) {
	user, err := s.GetByKey(ctx, userKey)
	if err != nil {
		return nil, err
	}

	if user.TwitterUsername == "" || user.TwitterVerificationTweetID == "" {
		return nil, model.NewValidationError("twitter_username", "先にTwitterユーザー名を設定してください")
	}
	if user.TwitterUsernameVerified {
		return user, nil
	}

	liked, err := s.twitter.HasLiked(ctx, user.TwitterVerificationTweetID, user.TwitterUsername)
	if err != nil {
		return nil, model.NewExternalFailureError("いいねの確認")
	}
	if !liked {
		return nil, model.NewTwitterNotLikedError()
	}

	user.TwitterUsernameVerified = true
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}

	slog.Info("twitter account verified",
		slog.String("user_id", user.ID),
		slog.String("twitter_username", user.TwitterUsername),
	)
	return user, nil
}
