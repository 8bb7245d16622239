// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/chandlerchaos/plebeian-market/internal/auction"
	"github.com/chandlerchaos/plebeian-market/internal/auth"
	"github.com/chandlerchaos/plebeian-market/internal/config"
	"github.com/chandlerchaos/plebeian-market/internal/database"
	"github.com/chandlerchaos/plebeian-market/internal/handler"
	"github.com/chandlerchaos/plebeian-market/internal/lightning"
	"github.com/chandlerchaos/plebeian-market/internal/logger"
	"github.com/chandlerchaos/plebeian-market/internal/metrics"
	"github.com/chandlerchaos/plebeian-market/internal/middleware"
	"github.com/chandlerchaos/plebeian-market/internal/repository"
	"github.com/chandlerchaos/plebeian-market/internal/security"
	"github.com/chandlerchaos/plebeian-market/internal/storage"
	"github.com/chandlerchaos/plebeian-market/internal/twitter"
	"github.com/chandlerchaos/plebeian-market/internal/user"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	challengeRepo := repository.NewPostgresChallengeRepo(db)
	auctionRepo := repository.NewPostgresAuctionRepo(db)
	bidRepo := repository.NewPostgresBidRepo(db)
	mediaRepo := repository.NewPostgresMediaRepo(db)
	userAuctionRepo := repository.NewPostgresUserAuctionRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)

	// 3. セキュリティ・メトリクスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 外部サービスクライアントの初期化
	twitterClient := twitter.NewClient(
		&http.Client{Timeout: 10 * time.Second},
		slog.Default(),
		cfg.TwitterBearerToken,
	)
	lndClient := lightning.NewClient(
		&http.Client{Timeout: 10 * time.Second},
		slog.Default(),
		cfg.LNDAddress,
		cfg.LNDMacaroonHex,
	)
	blobs := storage.NewBlobStore(storage.Config{
		StorageURL:    cfg.StorageURL,
		StorageAPIKey: cfg.StorageAPIKey,
		Bucket:        cfg.StorageBucket,
		FetchTimeout:  cfg.FetchTimeout,
		FetchMaxSize:  cfg.FetchMaxSize,
	}, ssrfGuard)

	// 5. ドメインサービスの初期化
	authService := auth.NewService(challengeRepo, userRepo, collector, auth.ServiceConfig{
		SecretKey:       []byte(cfg.SecretKey),
		TokenLifetime:   cfg.TokenLifetime,
		ChallengeExpiry: cfg.ChallengeExpiry,
		BaseURL:         cfg.BaseURL,
	})

	userService := user.NewService(userRepo, notificationRepo, twitterClient, blobs, sanitizer, user.ServiceConfig{
		PlatformTwitterUser: cfg.TwitterUser,
	})

	auctionService := auction.NewService(
		auctionRepo, userRepo, bidRepo, mediaRepo, userAuctionRepo,
		twitterClient, blobs, lndClient, sanitizer, collector,
		auction.ServiceConfig{
			BidInvoiceAmount:          cfg.BidInvoiceAmount,
			BidInvoiceExpiry:          cfg.BidInvoiceExpiry,
			ContributionInvoiceExpiry: cfg.ContributionInvoiceExpiry,
			MinimumContributionAmount: cfg.MinimumContributionAmount,
		},
	)

	// 6. ルーターの構築
	// configのレート制限はreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.BidRate = rate.Limit(float64(cfg.RateLimitBid) / 60.0)
	rateLimiterCfg.BidBurst = cfg.RateLimitBid
	rateLimiterCfg.LoginRate = rate.Limit(float64(cfg.ChallengeRatePerMin) / 60.0)
	rateLimiterCfg.LoginBurst = cfg.ChallengeRatePerMin

	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Collector:         collector,
		TokenVerifier:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		HealthChecker: db,
		Gatherer:      registry,

		AuthService:    authService,
		UserService:    userService,
		AuctionService: auctionService,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthcheck エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthcheck", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
