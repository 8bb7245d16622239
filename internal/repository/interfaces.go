// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/chandlerchaos/plebeian-market/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByKey はLightning公開鍵でユーザーを検索する。見つからない場合はnilを返す。
	FindByKey(ctx context.Context, key string) (*model.User, error)

	// FindOrCreateByKey は公開鍵でユーザーを検索し、存在しなければ作成する。
	// 初回ログイン時のアカウント遅延作成に使用する。
	// 同一鍵での同時呼び出しでも1ユーザーのみ作成される（unique制約＋再検索）。
	FindOrCreateByKey(ctx context.Context, key string) (*model.User, error)

	// Update はユーザーのプロフィールフィールドを更新する。
	// twitter_usernameのunique制約違反はmodel.ErrCodeTwitterUsernameTakenの
	// APIErrorとして返す。
	Update(ctx context.Context, user *model.User) error
}

// ChallengeRepository はログインチャレンジ（k1）の永続化インターフェース。
type ChallengeRepository interface {
	// Create はチャレンジを作成する。
	Create(ctx context.Context, challenge *model.LoginChallenge) error

	// FindByK1 は指定k1のチャレンジを取得する。見つからない場合はnilを返す。
	FindByK1(ctx context.Context, k1 string) (*model.LoginChallenge, error)

	// BindKey はチャレンジに公開鍵を束縛する。
	// 鍵が未束縛、または同一鍵が既に束縛されている場合のみ成功する（冪等）。
	// 異なる鍵が束縛済みの場合はfalseを返す。
	BindKey(ctx context.Context, k1, key string) (bool, error)

	// Consume はチャレンジを削除し、削除した行を返す。
	// 既に消費済み（行が存在しない）場合はnilを返す。
	// DELETE ... RETURNINGの単一文で行うため、並行Pollでも高々一度しか成功しない。
	Consume(ctx context.Context, k1 string) (*model.LoginChallenge, error)
}

// SettlementUpdate は終了オークションの精算で書き込むフィールドをまとめた構造体。
type SettlementUpdate struct {
	WinningBidID               string
	ContributionAmount         int64
	ContributionPaymentRequest string
	ContributionRequestedAt    *time.Time
	ContributionSettledAt      *time.Time
}

// AuctionRepository はオークションデータの永続化インターフェース。
// 入札と精算のread-then-writeは行ロック付きトランザクションのコールバックで提供し、
// 同一オークションへの並行操作を直列化する（§入札の単調増加・精算の高々一度）。
type AuctionRepository interface {
	// Count は総オークション数を返す。公開キーの決定的導出に使用する。
	Count(ctx context.Context) (int64, error)

	// Create はオークションを作成する。
	// keyのunique制約違反はmodel.ErrCodeConflictのAPIErrorとして返す。
	Create(ctx context.Context, auction *model.Auction) error

	// FindByKey は公開キーでオークションを取得する。見つからない場合はnilを返す。
	FindByKey(ctx context.Context, key string) (*model.Auction, error)

	// Update はオークションの編集可能フィールドを更新する。
	Update(ctx context.Context, auction *model.Auction) error

	// UpdateFeatured はis_featuredのみを更新する。
	UpdateFeatured(ctx context.Context, auctionID string, state model.FeaturedState) error

	// Delete は指定IDのオークションを削除する。関連する入札・メディアはCASCADE削除される。
	Delete(ctx context.Context, auctionID string) error

	// ListBySeller は売り手のオークション一覧を作成日時降順で返す。
	ListBySeller(ctx context.Context, sellerID string) ([]*model.Auction, error)

	// ListFeatured はおすすめ掲載対象のオークションを返す。
	// モデレーターが明示的に掲載指定したもの、または未指定かつ開催期間中のもの。
	ListFeatured(ctx context.Context, now time.Time) ([]*model.Auction, error)

	// Activate はアクティベーションを1トランザクションで適用する。
	// 開始・終了日時とツイートIDを設定し、既存メディアを削除して新メディアを挿入する。
	Activate(ctx context.Context, auction *model.Auction, media []*model.Media) error

	// CreateBidTx はオークション行をロックした上でfnを呼び出し、
	// fnが返した入札を同一トランザクションで挿入する。
	// fnには行ロック取得後の最新のオークションと現在の最高入札（なければnil）が渡される。
	// fnがエラーを返した場合は全体をロールバックする。
	CreateBidTx(ctx context.Context, auctionKey string, fn func(a *model.Auction, topBid *model.Bid) (*model.Bid, error)) (*model.Bid, error)

	// SettleTx はオークション行をロックした上でfnを呼び出し、
	// fnが返した精算フィールドを同一トランザクションで書き込む。
	// fnが(nil, nil)を返した場合は何も書き込まずにコミットする。
	// 行ロックにより、並行するviewの精算副作用は高々一度しか実行されない。
	SettleTx(ctx context.Context, auctionKey string, fn func(a *model.Auction, topBid *model.Bid) (*SettlementUpdate, error)) error
}

// BidRepository は入札データの読み取りインターフェース。
// 書き込みはAuctionRepository.CreateBidTxを通してのみ行う。
type BidRepository interface {
	// ListByAuction はオークションの入札一覧を額の降順で返す。
	ListByAuction(ctx context.Context, auctionID string) ([]*model.Bid, error)
}

// MediaRepository はメディアデータの読み取りインターフェース。
// 書き込みはAuctionRepository.Activateを通してのみ行う。
type MediaRepository interface {
	// ListByAuction はオークションのメディア一覧をposition昇順で返す。
	ListByAuction(ctx context.Context, auctionID string) ([]*model.Media, error)
}

// NotificationRepository はユーザー通知設定の永続化インターフェース。
type NotificationRepository interface {
	// ListByUser はユーザーの保存済み通知設定を返す。
	// 保存されていない種別の既定値補完はサービス層で行う。
	ListByUser(ctx context.Context, userID string) ([]*model.UserNotification, error)

	// Upsert は通知設定を冪等にUPSERTする。
	Upsert(ctx context.Context, notification *model.UserNotification) error
}

// UserAuctionRepository はオークションフォロー状態の永続化インターフェース。
type UserAuctionRepository interface {
	// Upsert はフォロー状態を冪等にUPSERTする。
	Upsert(ctx context.Context, userID, auctionID string, following bool) error

	// Find はフォロー状態を取得する。レコードがない場合はnilを返す。
	Find(ctx context.Context, userID, auctionID string) (*model.UserAuction, error)
}
