package model

import (
	"strings"
	"time"
)

// FeaturedState はおすすめ掲載フラグの3値状態を表す。
// nullable booleanではなく明示的な3値で扱い、掲載クエリのOR条件を明確にする。
type FeaturedState int

const (
	// FeaturedAuto はモデレーター未設定の状態。開催中なら自動的に掲載される。
	FeaturedAuto FeaturedState = iota
	// FeaturedYes はモデレーターが明示的に掲載を指定した状態。
	FeaturedYes
	// FeaturedNo はモデレーターが明示的に非掲載を指定した状態。
	FeaturedNo
)

// FeaturedStateFromBoolPtr はDBのnullable boolean表現から3値状態に変換する。
func FeaturedStateFromBoolPtr(b *bool) FeaturedState {
	switch {
	case b == nil:
		return FeaturedAuto
	case *b:
		return FeaturedYes
	default:
		return FeaturedNo
	}
}

// BoolPtr は3値状態をDBのnullable boolean表現に変換する。
func (s FeaturedState) BoolPtr() *bool {
	switch s {
	case FeaturedYes:
		v := true
		return &v
	case FeaturedNo:
		v := false
		return &v
	default:
		return nil
	}
}

// Auction はオークションを表す。
// ライフサイクル: Draft →（告知ツイート確認で）Active →（終了後）精算へ。
// StartDate/EndDateはアクティベーション時にのみ設定される。
type Auction struct {
	ID       string
	Key      string // 短い公開識別子。作成時点の総オークション数から決定的に導出される。
	SellerID string

	Title         string
	Description   string
	StartingBid   int64 // sats
	ReserveBid    int64 // sats。これを下回る最高入札では落札者を選ばない。
	DurationHours int

	StartDate *time.Time
	EndDate   *time.Time

	TwitterID string // アクティベーションに使われた告知ツイートのID

	Featured FeaturedState

	// 精算フィールド。WinningBidIDは高々一度だけ設定される。
	WinningBidID               string
	ContributionAmount         *int64
	ContributionPaymentRequest string
	ContributionRequestedAt    *time.Time
	ContributionSettledAt      *time.Time

	CreatedAt time.Time
}

// Started はオークションが開始済みかを返す。アクティベーション前は常にfalse。
func (a *Auction) Started(now time.Time) bool {
	return a.StartDate != nil && !now.Before(*a.StartDate)
}

// Ended はオークションが終了済みかを返す。アクティベーション前は常にfalse。
func (a *Auction) Ended(now time.Time) bool {
	return a.EndDate != nil && !now.Before(*a.EndDate)
}

// SettlementStarted は精算処理が既に始まっているか（落札者確定またはインボイス発行済み）を返す。
// viewの精算副作用はこの条件が偽の場合にのみ、高々一度だけ実行される。
func (a *Auction) SettlementStarted() bool {
	return a.WinningBidID != "" || a.ContributionPaymentRequest != ""
}

// auctionKeyAlphabet は紛らわしい文字（0/1/l/o）を除いた32文字。
const auctionKeyAlphabet = "23456789abcdefghijkmnpqrstuvwxyz"

// GenerateAuctionKey は作成時点の総オークション数から公開キーを導出する。
// count+1を基数32で符号化するだけなので、乱数なしで単調・衝突なしが保証される。
func GenerateAuctionKey(count int64) string {
	n := count + 1
	var sb strings.Builder
	for n > 0 {
		sb.WriteByte(auctionKeyAlphabet[n%32])
		n /= 32
	}
	// 基数変換の桁は下位から得られるので反転する
	b := []byte(sb.String())
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// Bid は入札を表す。
// PaymentRequestは入札デポジット用のLightningインボイス。
type Bid struct {
	ID             string
	AuctionID      string
	BuyerID        string
	Amount         int64 // sats
	PaymentRequest string
	CreatedAt      time.Time
}

// Media はオークションに紐づく画像を表す。
// アクティベーションのたびに告知ツイートの画像で丸ごと置き換えられる。
type Media struct {
	ID              string
	AuctionID       string
	TwitterMediaKey string
	URL             string
	StorageKey      string
	Position        int
}

// UserAuction はユーザーごとのオークションフォロー状態を表す。
type UserAuction struct {
	UserID    string
	AuctionID string
	Following bool
}
