package model

import "time"

// User はマーケットプレイス利用者を表す。
// keyはLightningウォレットのlinking keyで、恒久的なユーザー識別子となる。
// 初回ログイン成功時に遅延作成される。
type User struct {
	ID  string
	Key string // secp256k1公開鍵（hex）。不変・一意。

	Nym string // 表示名。現時点では編集不可。

	// 落札額のうち売り手がコントリビューションとして support する割合（%）
	ContributionPercent float64

	// Twitterアカウント連携。検証ツイートへのLikeで証明されるまでは未検証扱い。
	TwitterUsername             string
	TwitterUsernameVerified     bool
	TwitterProfileImageURL      string
	TwitterVerificationTweetID  string

	IsModerator bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LoginChallenge は一度きりのログインチャレンジ（k1）を表す。
// ウォレットによる署名でKeyが束縛され、セッショントークンと交換された時点で削除される。
// 期限切れは遅延評価で、CreatedAtから有効期間を過ぎた行は不在として扱う。
type LoginChallenge struct {
	K1        string // 32バイトのランダム値（hex、64文字）。主キー。
	Key       string // 署名検証後に束縛される公開鍵。未束縛なら空。
	CreatedAt time.Time
}

// ExpiredAt は指定の有効期間におけるチャレンジの失効判定を行う。
func (c *LoginChallenge) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.CreatedAt) > ttl
}
