package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chandlerchaos/plebeian-market/internal/metrics"
	"github.com/chandlerchaos/plebeian-market/internal/middleware"
)

// HealthChecker はヘルスチェックで疎通確認する依存のインターフェース。
// *sql.DBがそのまま満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Collector         metrics.MetricsCollector
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック・メトリクス
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer

	// サービス
	AuthService    AuthServiceInterface
	UserService    UserServiceInterface
	AuctionService AuctionServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → Recovery → SecurityHeaders → Logging →（認証ルートのみ）Auth → RateLimit(General)
//
// ログインとおすすめ一覧は認証不要。オークション詳細は認証任意で、
// トークンがあればフォロー状態の解決に使われる。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Collector))

	authHandler := NewAuthHandler(deps.AuthService, deps.UserService)
	userHandler := NewUserHandler(deps.UserService)
	auctionHandler := NewAuctionHandler(deps.AuctionService)

	// --- 認証不要のルート ---

	r.Get("/healthcheck", newHealthcheckHandler(deps.HealthChecker))
	r.Handle("/metrics", metrics.Handler(deps.Gatherer))

	// LNURL-auth。ウォレットとブラウザの両方がこのエンドポイントを叩く。
	// 未認証でチャレンジ行を作るのでIP単位のレート制限をかける
	r.With(deps.RateLimiter.LoginMiddleware()).Get("/api/login", authHandler.Login)

	r.Get("/api/auctions/featured", auctionHandler.Featured)

	// --- 認証任意のルート ---

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOptionalAuthMiddleware(deps.TokenVerifier))

		r.Get("/api/auctions/{key}", auctionHandler.Get)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// プロフィール管理
		r.Get("/api/users/me", userHandler.Me)
		r.Post("/api/users/me", userHandler.UpdateMe)
		r.Put("/api/users/me/verify-twitter", userHandler.VerifyTwitter)
		r.Get("/api/users/me/notifications", userHandler.Notifications)
		r.Put("/api/users/me/notifications", userHandler.UpdateNotifications)

		// オークション管理
		// GET /api/auctions/{key} は認証任意グループ側に登録済み
		r.Get("/api/auctions", auctionHandler.List)
		r.Post("/api/auctions", auctionHandler.Create)
		r.Put("/api/auctions/{key}", auctionHandler.Update)
		r.Delete("/api/auctions/{key}", auctionHandler.Delete)
		r.Put("/api/auctions/{key}/follow", auctionHandler.Follow)
		r.Put("/api/auctions/{key}/start-twitter", auctionHandler.StartTwitter)

		// POST /api/auctions/{key}/bids - 入札（入札専用レート制限を追加）
		r.With(deps.RateLimiter.BidMiddleware()).Post("/api/auctions/{key}/bids", auctionHandler.PlaceBid)
	})

	return r
}

// newHealthcheckHandler はDB疎通を含むヘルスチェックハンドラーを返す。
func newHealthcheckHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := checker.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
