// Package config は環境変数からのアプリケーション設定読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	SecretKey           string        // セッショントークン（JWT）の署名鍵
	TokenLifetime       time.Duration // セッショントークンの有効期間
	ChallengeExpiry     time.Duration // ログインチャレンジ（k1）の有効期間
	ChallengeRatePerMin int           // チャレンジ発行のレート制限（req/min/IP）

	// Lightning (LND)
	LNDAddress                string
	LNDMacaroonHex            string
	BidInvoiceAmount          int64         // 入札デポジットインボイスの固定額（sats）
	BidInvoiceExpiry          time.Duration // 入札インボイスの有効期間
	ContributionInvoiceExpiry time.Duration // コントリビューションインボイスの有効期間
	MinimumContributionAmount int64         // この額未満のコントリビューションは請求しない（sats）

	// Twitter
	TwitterBearerToken string
	TwitterUser        string // 検証ツイートを固定しているプラットフォーム公式アカウント

	// Storage
	StorageURL    string
	StorageAPIKey string
	StorageBucket string

	// Fetch（メディア・プロフィール画像の取得）
	FetchTimeout time.Duration
	FetchMaxSize int64

	// Rate Limit
	RateLimitGeneral int
	RateLimitBid     int

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SecretKey = os.Getenv("SECRET_KEY")
	if cfg.SecretKey == "" {
		missing = append(missing, "SECRET_KEY")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.TokenLifetime = getEnvDuration("TOKEN_LIFETIME", 24*time.Hour)
	cfg.ChallengeExpiry = getEnvDuration("LNAUTH_EXPIRE_MINUTES", 10*time.Minute)
	cfg.ChallengeRatePerMin = getEnvInt("RATE_LIMIT_LOGIN", 30)

	cfg.LNDAddress = getEnvString("LND_REST_ADDRESS", "https://localhost:8080")
	cfg.LNDMacaroonHex = getEnvString("LND_MACAROON_HEX", "")
	cfg.BidInvoiceAmount = getEnvInt64("LND_BID_INVOICE_AMOUNT", 50)
	cfg.BidInvoiceExpiry = getEnvDuration("LND_BID_INVOICE_EXPIRY", 15*time.Minute)
	cfg.ContributionInvoiceExpiry = getEnvDuration("LND_CONTRIBUTION_INVOICE_EXPIRY", 24*time.Hour)
	cfg.MinimumContributionAmount = getEnvInt64("MINIMUM_CONTRIBUTION_AMOUNT", 10)

	cfg.TwitterBearerToken = getEnvString("TWITTER_BEARER_TOKEN", "")
	cfg.TwitterUser = getEnvString("TWITTER_USER", "PlebeianMarket")

	cfg.StorageURL = getEnvString("STORAGE_URL", "")
	cfg.StorageAPIKey = getEnvString("STORAGE_API_KEY", "")
	cfg.StorageBucket = getEnvString("STORAGE_BUCKET", "media")

	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitBid = getEnvInt("RATE_LIMIT_BID", 20)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

// getEnvDuration は時間値の環境変数を読み込む。
// "10m"等のGo duration表記に加え、後方互換のため素の整数を分として解釈する。
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if !strings.ContainsAny(v, "smh") {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i) * time.Minute
		}
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
