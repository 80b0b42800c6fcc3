package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/pinshare/internal/config"
	"github.com/hitoshi/pinshare/internal/content"
	"github.com/hitoshi/pinshare/internal/database"
	"github.com/hitoshi/pinshare/internal/favorite"
	"github.com/hitoshi/pinshare/internal/feed"
	"github.com/hitoshi/pinshare/internal/handler"
	"github.com/hitoshi/pinshare/internal/identity"
	"github.com/hitoshi/pinshare/internal/logger"
	"github.com/hitoshi/pinshare/internal/metrics"
	"github.com/hitoshi/pinshare/internal/middleware"
	"github.com/hitoshi/pinshare/internal/moderation"
	"github.com/hitoshi/pinshare/internal/repository"
	"github.com/hitoshi/pinshare/internal/security"
	"github.com/hitoshi/pinshare/internal/worker/cleanup"
)

// errPostgresRequired はPostgreSQLバックエンドでのみ実行可能なコマンドのエラー。
var errPostgresRequired = errors.New("this command requires STORAGE_BACKEND=postgres")

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// SIGINTまたはSIGTERMでキャンセルされるコンテキストでRunContextを呼び出す。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, w, args)
}

// RunContext はコマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// 長時間動作するモードはctxのキャンセルで停止する。
func RunContext(ctx context.Context, w io.Writer, args []string) error {
	inv, err := ParseCommand(args)
	if err != nil {
		return err
	}
	cmd := inv.Command

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
		slog.String("storage", cfg.StorageBackend),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandPromote, CommandDemote:
		return runPromote(ctx, cfg, inv.Args[0], cmd == CommandPromote)
	default:
		return runServe(ctx, cfg)
	}
}

// storage はバックエンドごとのリポジトリ一式を保持する。
type storage struct {
	users     repository.UserRepository
	sessions  repository.SessionRepository
	pins      repository.PinRepository
	comments  repository.CommentRepository
	favorites repository.FavoriteRepository
	reports   repository.ReportRepository

	health handler.HealthChecker // memoryバックエンドではnil
	close  func() error
}

// openStorage は設定されたバックエンドのリポジトリを初期化する。
// postgresの場合は接続確認まで行う。
func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.StorageBackend == config.StorageMemory {
		store := repository.NewMemoryStore()
		slog.Warn("using in-memory storage; data is lost on restart")
		return &storage{
			users:     store.Users(),
			sessions:  store.Sessions(),
			pins:      store.Pins(),
			comments:  store.Comments(),
			favorites: store.Favorites(),
			reports:   store.Reports(),
			close:     func() error { return nil },
		}, nil
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}

	slog.Info("database connection established")

	return &storage{
		users:     repository.NewPostgresUserRepo(db),
		sessions:  repository.NewPostgresSessionRepo(db),
		pins:      repository.NewPostgresPinRepo(db),
		comments:  repository.NewPostgresCommentRepo(db),
		favorites: repository.NewPostgresFavoriteRepo(db),
		reports:   repository.NewPostgresReportRepo(db),
		health:    db,
		close:     db.Close,
	}, nil
}

// server はワイヤリング済みのHTTPハンドラーと、停止が必要な部品を保持する。
type server struct {
	handler     http.Handler
	identity    *identity.Service
	rateLimiter *middleware.RateLimiter
	collector   *metrics.Collector
}

// newServer は全依存関係をワイヤリングしてルーターを構築する。
func newServer(cfg *config.Config, st *storage, reg *prometheus.Registry) *server {
	collector := metrics.NewCollector(reg)

	// 1. ドメインサービスの初期化
	identitySvc := identity.NewService(st.users, st.sessions, identity.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
		BcryptCost:    cfg.BcryptCost,
	})
	contentSvc := content.NewService(st.pins, st.comments, security.NewTextSanitizer(), collector,
		content.ServiceConfig{ListLimit: cfg.FeedLimit},
	)
	favoriteSvc := favorite.NewService(st.favorites, st.pins)
	moderationSvc := moderation.NewService(st.pins, st.comments, st.reports, st.users, identitySvc, collector)
	projector := feed.NewProjector(contentSvc, favoriteSvc)

	// 2. レート制限（configはreq/min単位なのでreq/secに変換する）
	rlCfg := middleware.DefaultRateLimiterConfig()
	rlCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rlCfg.GeneralBurst = cfg.RateLimitGeneral
	rlCfg.WriteRate = rate.Limit(float64(cfg.RateLimitWrite) / 60.0)
	rlCfg.WriteBurst = cfg.RateLimitWrite
	rateLimiter := middleware.NewRateLimiter(rlCfg)

	// 3. ルーターの構築
	deps := &handler.RouterDeps{
		SessionFinder:     st.sessions,
		UserFinder:        st.users,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       cfg.SessionMaxAge,
		},
		RateLimiter: rateLimiter,

		Logger:           slog.Default(),
		HealthChecker:    st.health,
		MetricsGatherer:  reg,
		MetricsCollector: collector,

		AuthService: identitySvc,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		PinService:      contentSvc,
		Feed:            projector,
		FavoriteService: favoriteSvc,

		ModerationService: moderationSvc,
		UserSearcher:      identitySvc,
	}

	return &server{
		handler:     handler.NewRouter(deps),
		identity:    identitySvc,
		rateLimiter: rateLimiter,
		collector:   collector,
	}
}

// newRegistry はプロセス・ランタイムのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
// memoryバックエンドでは期限切れセッションの削除も同一プロセスで行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	srv := newServer(cfg, st, newRegistry())
	defer srv.rateLimiter.Stop()

	if cfg.StorageBackend == config.StorageMemory {
		job := cleanup.NewCleanupJob(st.sessions, slog.Default(), srv.collector)
		go job.Start(ctx, cfg.SessionCleanupInterval)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// SESSION_CLEANUP_INTERVALごとに期限切れセッションを削除し、ctxのキャンセルで停止する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.StorageBackend != config.StoragePostgres {
		return errPostgresRequired
	}
	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	collector := metrics.NewCollector(newRegistry())
	job := cleanup.NewCleanupJob(st.sessions, slog.Default(), collector)

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	// ブロッキング
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.StorageBackend != config.StoragePostgres {
		return errPostgresRequired
	}
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runPromote はユーザーの管理者権限を付与または剥奪する。
func runPromote(ctx context.Context, cfg *config.Config, username string, admin bool) error {
	if cfg.StorageBackend != config.StoragePostgres {
		return errPostgresRequired
	}
	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	svc := identity.NewService(st.users, st.sessions, identity.ServiceConfig{BcryptCost: cfg.BcryptCost})
	if _, err := svc.Promote(ctx, username, admin); err != nil {
		return fmt.Errorf("failed to change admin role of %q: %w", username, err)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
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
