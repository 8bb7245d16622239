// Package auction はオークションエンジンのビジネスロジックを提供する。
//
// ライフサイクル: 作成（下書き）→ 告知ツイート確認によるアクティベーション →
// 入札 → 終了後の遅延精算。終了処理のバックグラウンドジョブは持たず、
// 終了したオークションの精算は次の閲覧時に高々一度だけ実行される。
package auction

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/chandlerchaos/plebeian-market/internal/lightning"
	"github.com/chandlerchaos/plebeian-market/internal/lnurl"
	"github.com/chandlerchaos/plebeian-market/internal/metrics"
	"github.com/chandlerchaos/plebeian-market/internal/model"
	"github.com/chandlerchaos/plebeian-market/internal/repository"
	"github.com/chandlerchaos/plebeian-market/internal/security"
	"github.com/chandlerchaos/plebeian-market/internal/storage"
	"github.com/chandlerchaos/plebeian-market/internal/twitter"
)

// CreateInput はオークション作成の入力。
type CreateInput struct {
	Title         string
	Description   string
	DurationHours int
	StartingBid   int64
	ReserveBid    int64
}

// EditInput はオークション編集の入力。nilのフィールドは変更なしを表す。
// Featuredとそれ以外のフィールドを同時に指定することはできない。
type EditInput struct {
	Title         *string
	Description   *string
	DurationHours *int
	StartingBid   *int64
	ReserveBid    *int64
	Featured      *model.FeaturedState
}

// BidResult は入札の受理結果。
// 入札はデポジットインボイスの支払いとセットで有効になる。
type BidResult struct {
	Bid            *model.Bid
	PaymentRequest string
	QRCode         string
}

// ViewResult はオークション閲覧の結果。
type ViewResult struct {
	Auction   *model.Auction
	Bids      []*model.Bid
	Media     []*model.Media
	Following bool
}

// ServiceConfig はオークションサービスの設定。
type ServiceConfig struct {
	BidInvoiceAmount          int64         // 入札デポジットの固定額（sats）
	BidInvoiceExpiry          time.Duration
	ContributionInvoiceExpiry time.Duration
	MinimumContributionAmount int64 // これ未満のコントリビューションは請求しない
}

// createKeyRetries はオークションキー衝突時の再試行回数。
// キーは総数から決定的に導出されるため、衝突は並行作成時にしか起きない。
const createKeyRetries = 3

// Service はオークションに関するビジネスロジックを提供する。
type Service struct {
	auctionRepo     repository.AuctionRepository
	userRepo        repository.UserRepository
	bidRepo         repository.BidRepository
	mediaRepo       repository.MediaRepository
	userAuctionRepo repository.UserAuctionRepository
	twitter         twitter.ClientService
	blobs           storage.BlobStoreService
	invoicer        lightning.InvoicerService
	sanitizer       security.ContentSanitizerService
	collector       metrics.MetricsCollector
	config          ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	auctionRepo repository.AuctionRepository,
	userRepo repository.UserRepository,
	bidRepo repository.BidRepository,
	mediaRepo repository.MediaRepository,
	userAuctionRepo repository.UserAuctionRepository,
	twitterClient twitter.ClientService,
	blobs storage.BlobStoreService,
	invoicer lightning.InvoicerService,
	sanitizer security.ContentSanitizerService,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	return &Service{
		auctionRepo:     auctionRepo,
		userRepo:        userRepo,
		bidRepo:         bidRepo,
		mediaRepo:       mediaRepo,
		userAuctionRepo: userAuctionRepo,
		twitter:         twitterClient,
		blobs:           blobs,
		invoicer:        invoicer,
		sanitizer:       sanitizer,
		collector:       collector,
		config:          config,
	}
}

// requireUser は公開鍵でユーザーを取得する。
func (s *Service) requireUser(ctx context.Context, userKey string) (*model.User, error) {
	user, err := s.userRepo.FindByKey(ctx, userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// requireAuction は公開キーでオークションを取得する。
func (s *Service) requireAuction(ctx context.Context, key string) (*model.Auction, error) {
	auction, err := s.auctionRepo.FindByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to find auction: %w", err)
	}
	if auction == nil {
		return nil, model.NewAuctionNotFoundError(key)
	}
	return auction, nil
}

// validateFields は作成・編集共通のフィールド検証を行う。
// 最初に違反が見つかったフィールドのVALIDATION_ERRORを返す。
func validateFields(title, description string, durationHours int, startingBid, reserveBid int64) error {
	if title == "" {
		return model.NewValidationError("title", "必須です")
	}
	if description == "" {
		return model.NewValidationError("description", "必須です")
	}
	if durationHours <= 0 {
		return model.NewValidationError("duration_hours", "1以上で指定してください")
	}
	if startingBid < 0 {
		return model.NewValidationError("starting_bid", "0以上で指定してください")
	}
	if reserveBid < startingBid {
		return model.NewValidationError("reserve_bid", "開始額以上で指定してください")
	}
	return nil
}

// Create はオークションを下書き状態で作成する。
// 公開キーは作成時点の総数から決定的に導出される。並行作成で衝突した場合のみ再試行する。
func (s *Service) Create(ctx context.Context, sellerKey string, input CreateInput) (*model.Auction, error) {
	seller, err := s.requireUser(ctx, sellerKey)
	if err != nil {
		return nil, err
	}

	title := s.sanitizer.SanitizeText(input.Title)
	description := s.sanitizer.SanitizeDescription(input.Description)

	if err := validateFields(title, description, input.DurationHours, input.StartingBid, input.ReserveBid); err != nil {
		return nil, err
	}

	var auction *model.Auction
	for attempt := 0; attempt < createKeyRetries; attempt++ {
		count, err := s.auctionRepo.Count(ctx)
		if err != nil {
			return nil, err
		}

		auction = &model.Auction{
			ID:            uuid.New().String(),
			Key:           model.GenerateAuctionKey(count),
			SellerID:      seller.ID,
			Title:         title,
			Description:   description,
			StartingBid:   input.StartingBid,
			ReserveBid:    input.ReserveBid,
			DurationHours: input.DurationHours,
			CreatedAt:     time.Now(),
		}

		err = s.auctionRepo.Create(ctx, auction)
		if err == nil {
			slog.Info("auction created",
				slog.String("auction_id", auction.ID),
				slog.String("key", auction.Key),
				slog.String("seller_id", seller.ID),
			)
			return auction, nil
		}
		if !model.IsAPIErrorCode(err, model.ErrCodeConflict) {
			return nil, err
		}
	}

	return nil, model.NewConflictError("オークションキーの採番が混み合っています。再度お試しください")
}

// Activate はオークションの告知ツイートを確認し、オークションを開始する。
//
// 出品者のTwitterアカウントの最近の投稿からこのオークションのURLを含むツイートを
// 新しい順に探し、添付写真を全てストレージに取り込んだ上で開始する。
// 写真の取り込みが一つでも失敗した場合は何もコミットしない。
// 告知ツイートの存在はアカウントの所有証明を兼ねるため、成功時に出品者の
// Twitterアカウントを検証済みにする。
func (s *Service) Activate(ctx context.Context, key, sellerKey string) (*model.Auction, error) {
	seller, err := s.requireUser(ctx, sellerKey)
	if err != nil {
		return nil, err
	}
	auction, err := s.requireAuction(ctx, key)
	if err != nil {
		return nil, err
	}
	if auction.SellerID != seller.ID {
		return nil, model.NewUnauthorizedError()
	}
	if seller.TwitterUsername == "" {
		return nil, model.NewValidationError("twitter_username", "先にTwitterユーザー名を設定してください")
	}

	profile, err := s.twitter.GetProfile(ctx, seller.TwitterUsername)
	if err != nil {
		return nil, model.NewExternalFailureError("Twitterプロフィールの取得")
	}
	if profile == nil {
		return nil, model.NewTwitterUserNotFoundError(seller.TwitterUsername)
	}

	// プロフィール画像はユーザー名設定時から変わっていることがあるので取り直す。
	// 画像の更新失敗でアクティベーション自体は止めない。
	profileImageURL := seller.TwitterProfileImageURL
	if profile.ProfileImageURL != "" {
		url, err := s.blobs.FetchAndStore(ctx, profile.ProfileImageURL, "profiles/"+seller.ID)
		if err != nil {
			slog.Warn("failed to refresh profile image",
				slog.String("user_id", seller.ID),
				slog.String("error", err.Error()),
			)
		} else {
			profileImageURL = url
		}
	}

	tweets, err := s.twitter.GetAuctionTweets(ctx, profile.ID)
	if err != nil {
		return nil, model.NewExternalFailureError("ツイートの取得")
	}

	// 新しい順に走査し、このオークションのURLを含む最初のツイートを採用する
	var announcement *twitter.AuctionTweet
	for i := range tweets {
		tw := &tweets[i]
		if tw.AuctionKey != auction.Key {
			continue
		}
		if announcement == nil || tw.CreatedAt.After(announcement.CreatedAt) {
			announcement = tw
		}
	}
	if announcement == nil {
		return nil, model.NewTweetNotFoundError()
	}
	if len(announcement.Photos) == 0 {
		return nil, model.NewTweetWithoutPhotosError()
	}

	// 写真を全て取り込んでからDBに触る。途中失敗で中途半端なメディアを残さない。
	media := make([]*model.Media, 0, len(announcement.Photos))
	for i, photo := range announcement.Photos {
		storageKey := "auctions/" + auction.ID + "/" + strconv.Itoa(i)
		publicURL, err := s.blobs.FetchAndStore(ctx, photo.URL, storageKey)
		if err != nil {
			slog.Error("failed to store auction photo",
				slog.String("auction_id", auction.ID),
				slog.String("source_url", photo.URL),
				slog.String("error", err.Error()),
			)
			return nil, model.NewExternalFailureError("写真の保存")
		}
		media = append(media, &model.Media{
			ID:              uuid.New().String(),
			AuctionID:       auction.ID,
			TwitterMediaKey: photo.MediaKey,
			URL:             publicURL,
			StorageKey:      storageKey,
			Position:        i,
		})
	}

	now := time.Now()
	end := now.Add(time.Duration(auction.DurationHours) * time.Hour)
	auction.TwitterID = announcement.ID
	auction.StartDate = &now
	auction.EndDate = &end

	if err := s.auctionRepo.Activate(ctx, auction, media); err != nil {
		return nil, err
	}

	if !seller.TwitterUsernameVerified || seller.TwitterProfileImageURL != profileImageURL {
		seller.TwitterUsernameVerified = true
		seller.TwitterProfileImageURL = profileImageURL
		if err := s.userRepo.Update(ctx, seller); err != nil {
			return nil, err
		}
	}

	slog.Info("auction activated",
		slog.String("auction_id", auction.ID),
		slog.String("key", auction.Key),
		slog.String("tweet_id", announcement.ID),
		slog.Time("end_date", end),
	)
	return auction, nil
}

// PlaceBid は入札を受け付け、デポジットインボイスを返す。
//
// 額の下限チェックと入札行の挿入はオークション行のロック下で行われるため、
// 同時入札が同じ下限を見て両方受理されることはない。
func (s *Service) PlaceBid(ctx context.Context, key, buyerKey string, amount int64) (*BidResult, error) {
	buyer, err := s.requireUser(ctx, buyerKey)
	if err != nil {
		return nil, err
	}

	bid, err := s.auctionRepo.CreateBidTx(ctx, key, func(a *model.Auction, topBid *model.Bid) (*model.Bid, error) {
		now := time.Now()
		if !a.Started(now) || a.Ended(now) {
			return nil, model.NewAuctionNotRunningError()
		}

		floor := a.StartingBid
		if topBid != nil && topBid.Amount > floor {
			floor = topBid.Amount
		}
		if amount <= floor {
			return nil, model.NewBidTooLowError(floor)
		}

		memo := fmt.Sprintf("bid deposit: auction %s", a.Key)
		paymentRequest, err := s.invoicer.CreateInvoice(ctx, s.config.BidInvoiceAmount, memo, s.config.BidInvoiceExpiry)
		if err != nil {
			slog.Error("failed to create bid invoice",
				slog.String("auction_key", a.Key),
				slog.String("error", err.Error()),
			)
			return nil, model.NewExternalFailureError("インボイスの発行")
		}
		s.collector.RecordInvoiceRequested(metrics.InvoiceKindBidDeposit)

		return &model.Bid{
			ID:             uuid.New().String(),
			AuctionID:      a.ID,
			BuyerID:        buyer.ID,
			Amount:         amount,
			PaymentRequest: paymentRequest,
			CreatedAt:      now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	qr, err := lnurl.QRCodeBase64(bid.PaymentRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to generate qr code: %w", err)
	}

	s.collector.RecordBidPlaced()
	slog.Info("bid placed",
		slog.String("auction_key", key),
		slog.String("bid_id", bid.ID),
		slog.Int64("amount", bid.Amount),
	)
	return &BidResult{Bid: bid, PaymentRequest: bid.PaymentRequest, QRCode: qr}, nil
}

// View はオークションを閲覧する。viewerKeyは未ログインなら空。
//
// 終了済みで精算未開始のオークションを見つけた場合、その場で精算を実行する。
// 実行は行ロック下での再チェック付きで、並行する閲覧があっても高々一度になる。
func (s *Service) View(ctx context.Context, key, viewerKey string) (*ViewResult, error) {
	auction, err := s.requireAuction(ctx, key)
	if err != nil {
		return nil, err
	}

	if auction.Ended(time.Now()) && !auction.SettlementStarted() {
		if err := s.settle(ctx, key); err != nil {
			return nil, err
		}
		// 精算結果を反映した状態を読み直す
		auction, err = s.requireAuction(ctx, key)
		if err != nil {
			return nil, err
		}
	}

	bids, err := s.bidRepo.ListByAuction(ctx, auction.ID)
	if err != nil {
		return nil, err
	}
	media, err := s.mediaRepo.ListByAuction(ctx, auction.ID)
	if err != nil {
		return nil, err
	}

	result := &ViewResult{Auction: auction, Bids: bids, Media: media}

	if viewerKey != "" {
		viewer, err := s.userRepo.FindByKey(ctx, viewerKey)
		if err != nil {
			return nil, fmt.Errorf("failed to find viewer: %w", err)
		}
		if viewer != nil {
			ua, err := s.userAuctionRepo.Find(ctx, viewer.ID, auction.ID)
			if err != nil {
				return nil, err
			}
			result.Following = ua != nil && ua.Following
		}
	}

	return result, nil
}

// settle は終了オークションの精算を実行する。
//
// 行ロック下で精算開始済みかを再チェックするため、並行するViewの間でも
// 落札者の確定とインボイスの発行は高々一度しか起きない。
// 最高入札がリザーブ未満の場合は何も書かない。この状態は終端で、
// 以降の再評価は副作用なしに同じ結論に達する。
func (s *Service) settle(ctx context.Context, key string) error {
	return s.auctionRepo.SettleTx(ctx, key, func(a *model.Auction, topBid *model.Bid) (*repository.SettlementUpdate, error) {
		if a.SettlementStarted() {
			// 並行する閲覧が先に精算した
			return nil, nil
		}
		if topBid == nil || topBid.Amount < a.ReserveBid {
			s.collector.RecordSettlement(metrics.SettlementNoWinner)
			slog.Info("auction ended without winner",
				slog.String("auction_key", a.Key),
				slog.Int64("reserve_bid", a.ReserveBid),
			)
			return nil, nil
		}

		seller, err := s.userRepo.FindByID(ctx, a.SellerID)
		if err != nil {
			return nil, fmt.Errorf("failed to find seller: %w", err)
		}
		if seller == nil {
			return nil, model.NewUserNotFoundError()
		}

		contribution := int64(math.Floor(seller.ContributionPercent / 100 * float64(topBid.Amount)))
		now := time.Now()

		if contribution < s.config.MinimumContributionAmount {
			// 少額は請求せず、その場で落札確定まで進める
			s.collector.RecordSettlement(metrics.SettlementNoContribution)
			slog.Info("auction settled without contribution",
				slog.String("auction_key", a.Key),
				slog.String("winning_bid_id", topBid.ID),
				slog.Int64("contribution", contribution),
			)
			return &repository.SettlementUpdate{
				WinningBidID:            topBid.ID,
				ContributionAmount:      0,
				ContributionRequestedAt: &now,
				ContributionSettledAt:   &now,
			}, nil
		}

		memo := fmt.Sprintf("contribution: auction %s", a.Key)
		paymentRequest, err := s.invoicer.CreateInvoice(ctx, contribution, memo, s.config.ContributionInvoiceExpiry)
		if err != nil {
			slog.Error("failed to create contribution invoice",
				slog.String("auction_key", a.Key),
				slog.String("error", err.Error()),
			)
			return nil, model.NewExternalFailureError("インボイスの発行")
		}

		s.collector.RecordInvoiceRequested(metrics.InvoiceKindContribution)
		s.collector.RecordSettlement(metrics.SettlementContributionRequested)

		// 落札者の確定はコントリビューションの支払い確認後。ここでは請求だけ記録する。
		slog.Info("contribution requested",
			slog.String("auction_key", a.Key),
			slog.Int64("contribution", contribution),
		)
		return &repository.SettlementUpdate{
			ContributionAmount:         contribution,
			ContributionPaymentRequest: paymentRequest,
			ContributionRequestedAt:    &now,
		}, nil
	})
}

// Edit はオークションを編集する。
//
// is_featuredの変更は他のフィールドと混在できない。featured単独の変更は
// モデレーターのみ、いつでも可能。それ以外の編集は出品者のみ、開始前に限る。
func (s *Service) Edit(ctx context.Context, key, actorKey string, input EditInput) (*model.Auction, error) {
	actor, err := s.requireUser(ctx, actorKey)
	if err != nil {
		return nil, err
	}
	auction, err := s.requireAuction(ctx, key)
	if err != nil {
		return nil, err
	}

	otherFields := input.Title != nil || input.Description != nil ||
		input.DurationHours != nil || input.StartingBid != nil || input.ReserveBid != nil

	if input.Featured != nil {
		if otherFields {
			return nil, model.NewFeaturedMixedEditError()
		}
		if !actor.IsModerator {
			return nil, model.NewUnauthorizedError()
		}
		if err := s.auctionRepo.UpdateFeatured(ctx, auction.ID, *input.Featured); err != nil {
			return nil, err
		}
		auction.Featured = *input.Featured
		slog.Info("auction featured state changed",
			slog.String("auction_key", key),
			slog.String("moderator_id", actor.ID),
		)
		return auction, nil
	}

	if auction.SellerID != actor.ID {
		return nil, model.NewUnauthorizedError()
	}
	if auction.Started(time.Now()) {
		return nil, model.NewAuctionStartedError()
	}

	if input.Title != nil {
		auction.Title = s.sanitizer.SanitizeText(*input.Title)
	}
	if input.Description != nil {
		auction.Description = s.sanitizer.SanitizeDescription(*input.Description)
	}
	if input.DurationHours != nil {
		auction.DurationHours = *input.DurationHours
	}
	if input.StartingBid != nil {
		auction.StartingBid = *input.StartingBid
	}
	if input.ReserveBid != nil {
		auction.ReserveBid = *input.ReserveBid
	}

	if err := validateFields(auction.Title, auction.Description, auction.DurationHours, auction.StartingBid, auction.ReserveBid); err != nil {
		return nil, err
	}

	if err := s.auctionRepo.Update(ctx, auction); err != nil {
		return nil, err
	}
	return auction, nil
}

// Remove はオークションを削除する。出品者のみ、どの段階でも可能。
func (s *Service) Remove(ctx context.Context, key, actorKey string) error {
	actor, err := s.requireUser(ctx, actorKey)
	if err != nil {
		return err
	}
	auction, err := s.requireAuction(ctx, key)
	if err != nil {
		return err
	}
	if auction.SellerID != actor.ID {
		return model.NewUnauthorizedError()
	}

	if err := s.auctionRepo.Delete(ctx, auction.ID); err != nil {
		return err
	}

	slog.Info("auction removed",
		slog.String("auction_key", key),
		slog.String("seller_id", actor.ID),
	)
	return nil
}

// Follow はフォロー状態を設定する。冪等。
func (s *Service) Follow(ctx context.Context, userKey, key string, enabled bool) error {
	user, err := s.requireUser(ctx, userKey)
	if err != nil {
		return err
	}
	auction, err := s.requireAuction(ctx, key)
	if err != nil {
		return err
	}
	return s.userAuctionRepo.Upsert(ctx, user.ID, auction.ID, enabled)
}

// ListFeatured はおすすめ掲載対象のオークション一覧を返す。
func (s *Service) ListFeatured(ctx context.Context) ([]*model.Auction, error) {
	return s.auctionRepo.ListFeatured(ctx, time.Now())
}

// ListBySeller は出品者自身のオークション一覧を返す。
func (s *Service) ListBySeller(ctx context.Context, sellerKey string) ([]*model.Auction, error) {
	seller, err := s.requireUser(ctx, sellerKey)
	if err != nil {
		return nil, err
	}
	return s.auctionRepo.ListBySeller(ctx, seller.ID)
}
