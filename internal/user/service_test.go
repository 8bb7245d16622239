package user

import (
	"context"
	"errors"
	"testing"

	"github.com/chandlerchaos/plebeian-market/internal/model"
	"github.com/chandlerchaos/plebeian-market/internal/security"
	"github.com/chandlerchaos/plebeian-market/internal/twitter"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn          func(ctx context.Context, id string) (*model.User, error)
	findByKeyFn         func(ctx context.Context, key string) (*model.User, error)
	findOrCreateByKeyFn func(ctx context.Context, key string) (*model.User, error)
	updateFn            func(ctx context.Context, user *model.User) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByKey(ctx context.Context, key string) (*model.User, error) {
	if m.findByKeyFn != nil {
		return m.findByKeyFn(ctx, key)
	}
	return nil, nil
}

func (m *mockUserRepo) FindOrCreateByKey(ctx context.Context, key string) (*model.User, error) {
	if m.findOrCreateByKeyFn != nil {
		return m.findOrCreateByKeyFn(ctx, key)
	}
	return nil, nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *model.User) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, user)
	}
	return nil
}

type mockNotificationRepo struct {
	listByUserFn func(ctx context.Context, userID string) ([]*model.UserNotification, error)
	upsertFn     func(ctx context.Context, notification *model.UserNotification) error
}

func (m *mockNotificationRepo) ListByUser(ctx context.Context, userID string) ([]*model.UserNotification, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockNotificationRepo) Upsert(ctx context.Context, notification *model.UserNotification) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, notification)
	}
	return nil
}

type mockTwitterClient struct {
	getProfileFn       func(ctx context.Context, username string) (*twitter.Profile, error)
	getAuctionTweetsFn func(ctx context.Context, userID string) ([]twitter.AuctionTweet, error)
	hasLikedFn         func(ctx context.Context, tweetID, username string) (bool, error)
}

func (m *mockTwitterClient) GetProfile(ctx context.Context, username string) (*twitter.Profile, error) {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx, username)
	}
	return nil, nil
}

func (m *mockTwitterClient) GetAuctionTweets(ctx context.Context, userID string) ([]twitter.AuctionTweet, error) {
	if m.getAuctionTweetsFn != nil {
		return m.getAuctionTweetsFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockTwitterClient) HasLiked(ctx context.Context, tweetID, username string) (bool, error) {
	if m.hasLikedFn != nil {
		return m.hasLikedFn(ctx, tweetID, username)
	}
	return false, nil
}

type mockBlobStore struct {
	fetchAndStoreFn func(ctx context.Context, sourceURL, key string) (string, error)
}

func (m *mockBlobStore) FetchAndStore(ctx context.Context, sourceURL, key string) (string, error) {
	if m.fetchAndStoreFn != nil {
		return m.fetchAndStoreFn(ctx, sourceURL, key)
	}
	return "https://storage.example.com/" + key, nil
}

// --- テストヘルパー ---

func strPtr(s string) *string { return &s }
func floatPtr(f float64) *float64 { return &f }

func existingUser() *model.User {
	return &model.User{
		ID:                  "user-1",
		Key:                 "02abc",
		ContributionPercent: 3.0,
	}
}

func newTestService(userRepo *mockUserRepo, tw *mockTwitterClient, blobs *mockBlobStore) *Service {
	return newTestServiceWithNotifications(userRepo, &mockNotificationRepo{}, tw, blobs)
}

func newTestServiceWithNotifications(userRepo *mockUserRepo, notifications *mockNotificationRepo, tw *mockTwitterClient, blobs *mockBlobStore) *Service {
	return NewService(userRepo, notifications, tw, blobs, security.NewContentSanitizer(), ServiceConfig{
		PlatformTwitterUser: "PlebeianMarket",
	})
}

func platformProfile() *twitter.Profile {
	return &twitter.Profile{
		ID:            "1",
		Username:      "PlebeianMarket",
		PinnedTweetID: "pinned-999",
	}
}

func wantAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIErrorではないエラー: %v", err)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %s, want %s", apiErr.Code, code)
	}
}

// --- UpdateProfile のテスト ---

func TestService_UpdateProfile_RejectsNymChange(t *testing.T) {
	userRepo := &mockUserRepo{
		findByKeyFn: func(_ context.Context, _ string) (*model.User, error) {
			return existingUser(), nil
		},
	}
	s := newTestService(userRepo, &mockTwitterClient{}, &mockBlobStore{})

	_, err := s.UpdateProfile(context.Background(), "02abc", UpdateProfileInput{Nym: strPtr("newname")})
	if err == nil {
		t.Fatal("nym変更でエラーが返らなかった")
	}
	wantAPIError(t, err, model.ErrCodeValidation)
}

func TestService_UpdateProfile_SetsContributionPercent(t *testing.T) {
	var updated *model.User
	userRepo := &mockUserRepo{
		findByKeyFn: func(_ context.Context, _ string) (*model.User, error) {
			return existingUser(), nil
		},
		updateFn: func(_ context.Context, user *model.User) error {
			updated = user
			return nil
		},
	}
	s := newTestService(userRepo, &mockTwitterClient{}, &mockBlobStore{})

	_, err := s.UpdateProfile(context.Background(), "02abc", UpdateProfileInput{ContributionPercent: floatPtr(5.0)})
	if err != nil {
		t.Fatalf("UpdateProfile がエラーを返した: %v", err)
	}
	if updated == nil || updated.ContributionPercent != 5.0 {
		t.Errorf("contribution_percent が更新されていない: %+v", updated)
	}
}

func TestService_UpdateProfile_RejectsOutOfRangePercent(t *testing.T) {
	userRepo := &mockUserRepo{
		findByKeyFn: func(_ context.Context, _ string) (*model.User, error) {
			return existingUser(), nil
		},
	}
	s := newTestService(userRepo, &mockTwitterClient{}, &mockBlobStore{})

	for _, percent := range []float64{-1, 101} {
		_, err := s.UpdateProfile(context.Background(), "02abc", UpdateProfileInput{ContributionPercent: floatPtr(percent)})
		if err == nil {
			t.Errorf("percent=%v でエラーが返らなかった", percent)
		}
	}
}

func TestService_UpdateProfile_TwitterUsername(t *testing.T) {
	var updated *model.User
	userRepo := &mockUserRepo{
		findByKeyFn: func(_ context.Context, _ string) (*model.User, error) {
			user := existingUser()
			user.TwitterUsernameVerified = true
			return user, nil
		},
		updateFn: func(_ context.Context, user *model.User) error {
			updated = user
			return nil
		},
	}
	var storedURL string
	blobs := &mockBlobStore{
		fetchAndStoreFn: func(_ context.Context, sourceURL, key string) (string, error) {
			storedURL = sourceURL
			return "https://storage.example.com/" + key, nil
		},
	}
	tw := &mockTwitterClient{
		getProfileFn: func(_ context.Context, username string) (*twitter.Profile, error) {
			if username == "PlebeianMarket" {
				return platformProfile(), nil
			}
			return &twitter.Profile{
				ID:              "42",
				Username:        "satoshi",
				ProfileImageURL: "https://pbs.twimg.com/profile_images/42/photo.jpg",
			}, nil
		},
	}
	s := newTestService(userRepo, tw, blobs)

	// 先頭の@は取り除かれる
	_, err := s.UpdateProfile(context.Background(), "02abc", UpdateProfileInput{TwitterUsername: strPtr("@satoshi")})
	if err != nil {
		t.Fatalf("UpdateProfile がエラーを返した: %v", err)
	}

	if updated.TwitterUsername != "satoshi" {
		t.Errorf("TwitterUsername = %s, want satoshi", updated.TwitterUsername)
	}
	// ユーザー名変更で検証状態はリセットされる
	if updated.TwitterUsernameVerified {
		t.Error("検証状態がリセットされていない")
	}
	if updated.TwitterVerificationTweetID != "pinned-999" {
		t.Errorf("検証ツイートID = %s, want pinned-999", updated.TwitterVerificationTweetID)
	}
	if storedURL != "https://pbs.twimg.com/profile_images/42/photo.jpg" {
		t.Errorf("取り込まれた画像URL = %s", storedURL)
	}
	// プロフィール画像はストレージの公開URLに差し替えられる
	if updated.TwitterProfileImageURL != "https://storage.example.com/profiles/user-1" {
		t.Errorf("プロフィール画像URL = %s", updated.TwitterProfileImageURL)
	}
}

func TestService_UpdateProfile_TwitterUserNotFound(t *testing.T) {
	userRepo := &mockUserRepo{
		findByKeyFn: func(_ context.Context, _ string) (*model.User, error) {
			return existingUser(), nil
		},
	}
	tw := &mockTwitterClient{
		getProfileFn: func(_ context.Context, _ string) (*twitter.Profile, error) {
			return nil, nil
		},
	}
	s := newTestService(userRepo, tw, &mockBlobStore{})

	_, err := s.UpdateProfile(context.Background(), "02abc", UpdateProfileInput{TwitterUsername: strPtr("nosuchuser")})
	if err == nil {
		t.Fatal("不在ユーザーでエラーが返らなかった")
	}
	wantAPIError(t, err, model.ErrCodeTwitterUserNotFound)
}

func TestService_UpdateProfile_ImageFetchFailureAborts(t *testing.T) {
	updateCalled := false
	userRepo := &mockUserRepo{
		findByKeyFn: func(_ context.Context, _ string) (*model.User, error) {
			return existingUser(), nil
		},
		updateFn: func(_ context.Context, _ *model.User) error {
			updateCalled = true
			return nil
		},
	}
	tw := &mockTwitterClient{
		getProfileFn: func(_ context.Context, _ string) (*twitter.Profile, error) {
			return &twitter.Profile{ID: "42", Username: "satoshi", ProfileImageURL: "https://pbs.twimg.com/x.jpg"}, nil
		},
	}
	blobs := &mockBlobStore{
		fetchAndStoreFn: func(_ context.Context, _, _ string) (string, error) {
			return "", errors.New("storage down")
		},
	}
	s := newTestService(userRepo, tw, blobs)

	_, err := s.UpdateProfile(context.Background(), "02abc", UpdateProfileInput{TwitterUsername: strPtr("satoshi")})
	if err == nil {
		t.Fatal("画像取り込み失敗でエラーが返らなかった")
	}
	wantAPIError(t, err, model.ErrCodeExternalFailure)
	if updateCalled {
		t.Error("失敗時にユーザーが更新されている")
	}
}

func TestService_UpdateProfile_RejectsEmptyUsername(t *testing.T) {
	userRepo := &mockUserRepo{
		findByKeyFn: func(_ context.Context, _ string) (*model.User, error) {
			return existingUser(), nil
		},
	}
	s := newTestService(userRepo, &mockTwitterClient{}, &mockBlobStore{})

	for _, username := range []string{"", "@", "  "} {
		_, err := s.UpdateProfile(context.Background(), "02abc", UpdateProfileInput{TwitterUsername: strPtr(username)})
		if err == nil {
			t.Errorf("username=%q でエラーが返らなかった", username)
		}
	}
}

// --- VerifyTwitter のテスト ---

func verifiableUser() *model.User {
	user := existingUser()
	user.TwitterUsername = "satoshi"
	user.TwitterVerificationTweetID = "pinned-999"
	return user
}

func TestService_VerifyTwitter_Success(t *testing.T) {
	var updated *model.User
	userRepo := &mockUserRepo{
		findByKeyFn: func(_ context.Context, _ string) (*model.User, error) {
			return verifiableUser(), nil
		},
		updateFn: func(_ context.Context, user *model.User) error {
			updated = user
			return nil
		},
	}
	tw := &mockTwitterClient{
		hasLikedFn: func(_ context.Context, tweetID, username string) (bool, error) {
			if tweetID != "pinned-999" {
				t.Errorf("tweetID = %s, want pinned-999", tweetID)
			}
			return username == "satoshi", nil
		},
	}
	s := newTestService(userRepo, tw, &mockBlobStore{})

	user, err := s.VerifyTwitter(context.Background(), "02abc")
	if err != nil {
		t.Fatalf("VerifyTwitter がエラーを返した: %v", err)
	}
	if !user.TwitterUsernameVerified {
		t.Error("検証済みになっていない")
	}
	if updated == nil || !updated.TwitterUsernameVerified {
		t.Error("検証状態が保存されていない")
	}
}

func TestService_VerifyTwitter_NotLiked(t *testing.T) {
	userRepo := &mockUserRepo{
		findByKeyFn: func(_ context.Context, _ string) (*model.User, error) {
			return verifiableUser(), nil
		},
	}
	s := newTestService(userRepo, &mockTwitterClient{}, &mockBlobStore{})

	_, err := s.VerifyTwitter(context.Background(), "02abc")
	if err == nil {
		t.Fatal("未いいねでエラーが返らなかった")
	}
	wantAPIError(t, err, model.ErrCodeTwitterNotLiked)
}

func TestService_VerifyTwitter_RequiresUsername(t *testing.T) {
	userRepo := &mockUserRepo{
		findByKeyFn: func(_ context.Context, _ string) (*model.User, error) {
			return existingUser(), nil
		},
	}
	s := newTestService(userRepo, &mockTwitterClient{}, &mockBlobStore{})

	_, err := s.VerifyTwitter(context.Background(), "02abc")
	if err == nil {
		t.Fatal("ユーザー名未設定でエラーが返らなかった")
	}
	wantAPIError(t, err, model.ErrCodeValidation)
}

// 検証済みユーザーの再検証は何もせず成功する
func TestService_VerifyTwitter_AlreadyVerified(t *testing.T) {
	updateCalled := false
	userRepo := &mockUserRepo{
		findByKeyFn: func(_ context.Context, _ string) (*model.User, error) {
			user := verifiableUser()
			user.TwitterUsernameVerified = true
			return user, nil
		},
		updateFn: func(_ context.Context, _ *model.User) error {
			updateCalled = true
			return nil
		},
	}
	s := newTestService(userRepo, &mockTwitterClient{}, &mockBlobStore{})

	user, err := s.VerifyTwitter(context.Background(), "02abc")
	if err != nil {
		t.Fatalf("VerifyTwitter がエラーを返した: %v", err)
	}
	if !user.TwitterUsernameVerified {
		t.Error("検証済みフラグが落ちている")
	}
	if updateCalled {
		t.Error("冪等な再検証で更新が走った")
	}
}

func TestService_GetByKey_NotFound(t *testing.T) {
	s := newTestService(&mockUserRepo{}, &mockTwitterClient{}, &mockBlobStore{})

	_, err := s.GetByKey(context.Background(), "02missing")
	if err == nil {
		t.Fatal("不在ユーザーでエラーが返らなかった")
	}
	wantAPIError(t, err, model.ErrCodeUserNotFound)
}

func TestService_ListNotifications_FillsDefaults(t *testing.T) {
	userRepo := &mockUserRepo{
		findByKeyFn: func(_ context.Context, _ string) (*model.User, error) {
			return existingUser(), nil
		},
	}
	notifications := &mockNotificationRepo{
		listByUserFn: func(_ context.Context, userID string) ([]*model.UserNotification, error) {
			return []*model.UserNotification{
				{UserID: userID, Type: model.NotificationNewBid, Action: model.NotificationActionTwitterDM},
			}, nil
		},
	}
	s := newTestServiceWithNotifications(userRepo, notifications, &mockTwitterClient{}, &mockBlobStore{})

	list, err := s.ListNotifications(context.Background(), "02abc")
	if err != nil {
		t.Fatalf("ListNotifications がエラーを返した: %v", err)
	}
	if len(list) != len(model.NotificationTypes) {
		t.Fatalf("len = %d, want %d", len(list), len(model.NotificationTypes))
	}

	actions := make(map[model.NotificationType]model.NotificationAction, len(list))
	for _, n := range list {
		actions[n.Type] = n.Action
	}
	// 保存済みの種別はその値、未保存の種別は既定値で補完される
	if actions[model.NotificationNewBid] != model.NotificationActionTwitterDM {
		t.Errorf("NEW_BID action = %v, want TWITTER_DM", actions[model.NotificationNewBid])
	}
	if actions[model.NotificationAuctionEnd] != model.DefaultNotificationAction {
		t.Errorf("AUCTION_END action = %v, want default", actions[model.NotificationAuctionEnd])
	}
	if actions[model.NotificationAuctionEnd10Min] != model.DefaultNotificationAction {
		t.Errorf("AUCTION_END_10MIN action = %v, want default", actions[model.NotificationAuctionEnd10Min])
	}
}

func TestService_UpdateNotifications_UpsertsEach(t *testing.T) {
	userRepo := &mockUserRepo{
		findByKeyFn: func(_ context.Context, _ string) (*model.User, error) {
			return existingUser(), nil
		},
	}
	var saved []*model.UserNotification
	notifications := &mockNotificationRepo{
		upsertFn: func(_ context.Context, n *model.UserNotification) error {
			saved = append(saved, n)
			return nil
		},
	}
	s := newTestServiceWithNotifications(userRepo, notifications, &mockTwitterClient{}, &mockBlobStore{})

	err := s.UpdateNotifications(context.Background(), "02abc", []NotificationSetting{
		{Type: model.NotificationAuctionEnd, Action: model.NotificationActionTwitterDM},
		{Type: model.NotificationNewBid, Action: model.NotificationActionNone},
	})
	if err != nil {
		t.Fatalf("UpdateNotifications がエラーを返した: %v", err)
	}
	if len(saved) != 2 {
		t.Fatalf("upsert回数 = %d, want 2", len(saved))
	}
	if saved[0].UserID != "user-1" || saved[0].Type != model.NotificationAuctionEnd {
		t.Errorf("保存内容が不正: %+v", saved[0])
	}
}

func TestService_UpdateNotifications_RejectsUnknownValues(t *testing.T) {
	userRepo := &mockUserRepo{
		findByKeyFn: func(_ context.Context, _ string) (*model.User, error) {
			return existingUser(), nil
		},
	}
	upsertCalled := false
	notifications := &mockNotificationRepo{
		upsertFn: func(_ context.Context, _ *model.UserNotification) error {
			upsertCalled = true
			return nil
		},
	}
	s := newTestServiceWithNotifications(userRepo, notifications, &mockTwitterClient{}, &mockBlobStore{})

	tests := []NotificationSetting{
		{Type: "AUCTION_START", Action: model.NotificationActionNone},
		{Type: model.NotificationNewBid, Action: "EMAIL"},
	}
	for _, setting := range tests {
		err := s.UpdateNotifications(context.Background(), "02abc", []NotificationSetting{
			{Type: model.NotificationAuctionEnd, Action: model.NotificationActionTwitterDM},
			setting,
		})
		if err == nil {
			t.Errorf("setting=%+v でエラーが返らなかった", setting)
		}
		wantAPIError(t, err, model.ErrCodeValidation)
	}
	if upsertCalled {
		t.Error("検証エラー時に書き込みが走った")
	}
}
