// Package auth はLNURL-auth認証フローとセッショントークン管理を提供する。
//
// ログインはLUD-04のchallenge/responseで行う。サーバーがチャレンジ（k1）を発行し、
// Lightningウォレットがk1への署名を返すことで公開鍵の所有を証明する。
// ブラウザは同じk1でポーリングし、署名確認後にJWTセッショントークンを受け取る。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/golang-jwt/jwt/v5"

	"github.com/chandlerchaos/plebeian-market/internal/lnurl"
	"github.com/chandlerchaos/plebeian-market/internal/metrics"
	"github.com/chandlerchaos/plebeian-market/internal/model"
	"github.com/chandlerchaos/plebeian-market/internal/repository"
)

// Challenge はログインチャレンジの発行結果。
// LNURLはウォレットに読み取らせるbech32文字列、QRCodeはそのPNG（base64）。
type Challenge struct {
	K1     string `json:"k1"`
	LNURL  string `json:"lnurl"`
	QRCode string `json:"qr"`
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SecretKey       []byte        // JWT署名鍵
	TokenLifetime   time.Duration // セッショントークンの有効期間
	ChallengeExpiry time.Duration // チャレンジの有効期間
	BaseURL         string        // LNURLに埋め込む外部公開URL
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	challengeRepo repository.ChallengeRepository
	userRepo      repository.UserRepository
	collector     metrics.MetricsCollector
	config        ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	challengeRepo repository.ChallengeRepository,
	userRepo repository.UserRepository,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	return &Service{
		challengeRepo: challengeRepo,
		userRepo:      userRepo,
		collector:     collector,
		config:        config,
	}
}

// CreateChallenge は新しいログインチャレンジを発行する。
// k1は32バイトの乱数をhex符号化した64文字。
func (s *Service) CreateChallenge(ctx context.Context) (*Challenge, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate k1: %w", err)
	}
	k1 := hex.EncodeToString(raw)

	challenge := &model.LoginChallenge{
		K1:        k1,
		CreatedAt: time.Now(),
	}
	if err := s.challengeRepo.Create(ctx, challenge); err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}

	callbackURL := s.config.BaseURL + "/api/login?tag=login&k1=" + k1
	encoded, err := lnurl.Encode(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lnurl: %w", err)
	}

	qr, err := lnurl.QRCodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to generate qr code: %w", err)
	}

	s.collector.RecordChallengeCreated()
	return &Challenge{K1: k1, LNURL: encoded, QRCode: qr}, nil
}

// HandleWalletResponse はウォレットからの署名付き応答を処理する。
//
// 失敗理由（チャレンジ不在・期限切れ・署名不正・鍵不一致）は呼び出し元に区別させない。
// どの失敗でも同じmodel.ErrCodeVerificationFailedを返し、チャレンジの存在を
// 探られないようにする。詳細はサーバーログにのみ残す。
func (s *Service) HandleWalletResponse(ctx context.Context, k1, keyHex, sigHex string) error {
	// hex形式の検証は入力エラーとして区別する。チャレンジの存在とは無関係のため。
	if raw, err := hex.DecodeString(k1); err != nil || len(raw) != 32 {
		return model.NewValidationError("k1", "64文字のhexで指定してください")
	}
	if _, err := hex.DecodeString(keyHex); err != nil || keyHex == "" {
		return model.NewValidationError("key", "hexで指定してください")
	}
	if _, err := hex.DecodeString(sigHex); err != nil || sigHex == "" {
		return model.NewValidationError("sig", "hexで指定してください")
	}

	challenge, err := s.challengeRepo.FindByK1(ctx, k1)
	if err != nil {
		return fmt.Errorf("failed to find challenge: %w", err)
	}
	if challenge == nil {
		slog.Warn("wallet response for unknown challenge", slog.String("k1", k1))
		return model.NewVerificationFailedError()
	}

	now := time.Now()
	if challenge.ExpiredAt(now, s.config.ChallengeExpiry) {
		// 期限切れチャレンジは掃除してから失敗を返す
		if _, err := s.challengeRepo.Consume(ctx, k1); err != nil {
			return fmt.Errorf("failed to consume expired challenge: %w", err)
		}
		slog.Warn("wallet response for expired challenge", slog.String("k1", k1))
		return model.NewVerificationFailedError()
	}

	if challenge.Key != "" && challenge.Key != keyHex {
		// 同一k1に別の鍵で応答が来るのは不審。調査用にログを残す。
		slog.Warn("wallet response with mismatched key",
			slog.String("k1", k1),
			slog.String("bound_key", challenge.Key),
			slog.String("presented_key", keyHex),
		)
		return model.NewVerificationFailedError()
	}

	if err := verifySignature(k1, keyHex, sigHex); err != nil {
		slog.Warn("wallet response with invalid signature",
			slog.String("k1", k1),
			slog.String("error", err.Error()),
		)
		return model.NewVerificationFailedError()
	}

	bound, err := s.challengeRepo.BindKey(ctx, k1, keyHex)
	if err != nil {
		return fmt.Errorf("failed to bind key: %w", err)
	}
	if !bound {
		// FindByK1とBindKeyの間に別の鍵が束縛された場合
		slog.Warn("wallet response lost bind race", slog.String("k1", k1))
		return model.NewVerificationFailedError()
	}

	slog.Info("wallet response verified", slog.String("k1", k1))
	return nil
}

// verifySignature はk1への署名をsecp256k1公開鍵で検証する。
// LNURL-authの慣習に従い、k1のバイト列そのものをダイジェストとして検証する。
func verifySignature(k1, keyHex, sigHex string) error {
	k1Bytes, err := hex.DecodeString(k1)
	if err != nil {
		return fmt.Errorf("invalid k1 hex: %w", err)
	}
	if len(k1Bytes) != 32 {
		return fmt.Errorf("invalid k1 length: %d", len(k1Bytes))
	}

	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return fmt.Errorf("invalid key hex: %w", err)
	}
	pubKey, err := secp256k1.ParsePubKey(keyBytes)
	if err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}

	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	sig, err := secpecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("invalid DER signature: %w", err)
	}

	if !sig.Verify(k1Bytes, pubKey) {
		return fmt.Errorf("signature does not verify")
	}

	return nil
}

// Poll はブラウザからのポーリングを処理する。
// ウォレットの署名がまだ届いていない場合は("", nil)を返す。
// 署名済みの場合はユーザーを検索または作成し、チャレンジを消費して
// セッショントークンを返す。
func (s *Service) Poll(ctx context.Context, k1 string) (string, error) {
	challenge, err := s.challengeRepo.FindByK1(ctx, k1)
	if err != nil {
		return "", fmt.Errorf("failed to find challenge: %w", err)
	}
	if challenge == nil {
		return "", model.NewVerificationFailedError()
	}

	now := time.Now()
	if challenge.ExpiredAt(now, s.config.ChallengeExpiry) {
		if _, err := s.challengeRepo.Consume(ctx, k1); err != nil {
			return "", fmt.Errorf("failed to consume expired challenge: %w", err)
		}
		return "", model.NewVerificationFailedError()
	}

	if challenge.Key == "" {
		// ウォレットの応答待ち
		return "", nil
	}

	user, err := s.userRepo.FindOrCreateByKey(ctx, challenge.Key)
	if err != nil {
		return "", fmt.Errorf("failed to find or create user: %w", err)
	}

	// 消費に成功した側のポーリングだけがトークンを受け取る
	consumed, err := s.challengeRepo.Consume(ctx, k1)
	if err != nil {
		return "", fmt.Errorf("failed to consume challenge: %w", err)
	}
	if consumed == nil {
		return "", model.NewVerificationFailedError()
	}

	token, err := s.issueToken(user.Key, now)
	if err != nil {
		return "", fmt.Errorf("failed to issue token: %w", err)
	}

	s.collector.RecordLoginCompleted()
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("k1", k1),
	)
	return token, nil
}

// issueToken はユーザー鍵を主体とするHS256署名のJWTを発行する。
func (s *Service) issueToken(userKey string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"user_key": userKey,
		"exp":      now.Add(s.config.TokenLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.config.SecretKey)
}

// VerifyToken はセッショントークンを検証し、主体のユーザー鍵を返す。
// 署名不正・期限切れ・主体欠落はいずれもmodel.ErrCodeUnauthorizedを返す。
func (s *Service) VerifyToken(tokenString string) (string, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.config.SecretKey, nil
	})
	if err != nil || !parsed.Valid {
		return "", model.NewUnauthorizedError()
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", model.NewUnauthorizedError()
	}
	userKey, ok := claims["user_key"].(string)
	if !ok || userKey == "" {
		return "", model.NewUnauthorizedError()
	}

	return userKey, nil
}
