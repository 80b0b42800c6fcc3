package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/pinshare/internal/metrics"
	"github.com/hitoshi/pinshare/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	UserFinder        middleware.UserFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 運用
	HealthChecker    HealthChecker
	MetricsGatherer  prometheus.Gatherer
	MetricsCollector middleware.StatusRecorder

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// コンテンツ
	PinService      PinServiceInterface
	Feed            FeedInterface
	FavoriteService FavoriteServiceInterface

	// モデレーション
	ModerationService ModerationServiceInterface
	UserSearcher      UserSearcher
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Metrics → Recovery → SecurityHeaders → CORS
//	  /api/*: OptionalSession → RateLimit(General) → CSRF
//	    ログイン必須ルート: Session
//	      書き込み系: RateLimit(Write)
//
// /health、/metrics、/raw/{id}、/auth/* はセッション不要。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	if deps.MetricsCollector != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.MetricsCollector))
	}
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CSRFConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	pinHandler := NewPinHandler(deps.PinService, deps.Feed, deps.FavoriteService)
	modHandler := NewModerationHandler(deps.ModerationService, deps.UserSearcher)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// 生データ取得は表示制御を行わない
	r.Get("/raw/{id}", pinHandler.Raw)

	r.Route("/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- API ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewOptionalSessionMiddleware(deps.SessionFinder, deps.UserFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		// 未ログインでも閲覧できるルート
		r.Get("/pins", pinHandler.ListPins)
		r.Get("/pins/{id}", pinHandler.GetPin)
		r.Post("/pins/{id}/views", pinHandler.RecordView)
		r.Get("/pins/{id}/comments", pinHandler.ListComments)

		// ログイン必須のルート
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, deps.UserFinder))

			r.Get("/pins/{id}/favorite", pinHandler.GetFavorite)
			r.Put("/pins/{id}/favorite", pinHandler.PutFavorite)
			r.Get("/favorites", pinHandler.ListFavorites)
			r.Get("/reports/check", modHandler.CheckReport)

			// 書き込み系は専用レート制限を追加
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.WriteMiddleware())
				r.Post("/pins", pinHandler.CreatePin)
				r.Post("/pins/{id}/comments", pinHandler.CreateComment)
				r.Post("/reports", modHandler.Report)
			})

			// 管理者ルート（権限はサービス層でストアから判定する）
			r.Route("/admin", func(r chi.Router) {
				r.Get("/users", modHandler.SearchUsers)
				r.Post("/users/{id}/actions", modHandler.UserAction)
				r.Post("/pins/{id}/takedown", modHandler.TakedownPin)
			})
		})
	})

	return r
}
