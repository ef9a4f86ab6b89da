package app

import (
	"context"
	"database/sql"
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

	"github.com/hitoshi/campusboard/internal/comment"
	"github.com/hitoshi/campusboard/internal/config"
	"github.com/hitoshi/campusboard/internal/database"
	"github.com/hitoshi/campusboard/internal/handler"
	"github.com/hitoshi/campusboard/internal/logger"
	"github.com/hitoshi/campusboard/internal/metrics"
	"github.com/hitoshi/campusboard/internal/middleware"
	"github.com/hitoshi/campusboard/internal/post"
	"github.com/hitoshi/campusboard/internal/repository"
	"github.com/hitoshi/campusboard/internal/security"
	"github.com/hitoshi/campusboard/internal/thread"
	"github.com/hitoshi/campusboard/internal/vote"
	"github.com/hitoshi/campusboard/internal/worker/audit"
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

	// 3. LOG_LEVELを反映する
	logger.SetLevel(cfg.LogLevel)

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
		slog.String("log_level", cfg.LogLevel),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// connectDatabase はDB接続を開き、到達性を確認する。
func connectDatabase(cfg *config.Config) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newRegistry はアプリケーションのメトリクスとGo/プロセスのメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// newRouter はリポジトリ、サービス、ハンドラーをワイヤリングしたルーターを返す。
// 返したRateLimiterは呼び出し側でStopする。
func newRouter(cfg *config.Config, db *sql.DB, reg *prometheus.Registry, mc metrics.MetricsCollector) (http.Handler, *middleware.RateLimiter) {
	log := slog.Default()

	// 1. リポジトリの初期化
	postRepo := repository.NewPostgresPostRepo(db)
	commentRepo := repository.NewPostgresCommentRepo(db)
	voteRepo := repository.NewPostgresVoteRepo(db)

	// 2. ドメインサービスの初期化
	sanitizer := security.NewTextSanitizer()

	postService := post.NewService(postRepo, cfg.MaskingKey, sanitizer, post.Options{
		PageSize:    cfg.PostsPageSize,
		MaxTextSize: cfg.PostMaxSize,
		MaxAttempts: cfg.PostCreateMaxAttempts,
	}, mc, log)

	assembler := thread.NewAssembler(
		commentRepo,
		nil, // リクエスト間でロックを共有しないようmath/rand/v2の既定の乱数源を使う
		thread.Policy{
			PageSize:        cfg.ThreadPageSize,
			MaxPerExpansion: cfg.ThreadMaxPerExpansion,
			MinGuaranteed:   cfg.ThreadMinGuaranteed,
			K:               cfg.ThreadSamplingK,
			MaxExpanded:     cfg.ThreadMaxExpanded,
		},
		mc, log,
	)
	commentService := comment.NewService(commentRepo, assembler, cfg.MaskingKey, sanitizer, comment.Options{
		MaxTextSize: cfg.CommentMaxSize,
		MaxDepth:    cfg.CommentMaxDepth,
		MaxAttempts: cfg.TxMaxAttempts,
	}, mc, log)

	voteService := vote.NewService(voteRepo, cfg.MaskingKey, cfg.TxMaxAttempts, mc, log)

	// 3. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.VoteRateLimiterConfig(cfg.RateLimitVote))

	deps := &handler.RouterDeps{
		HealthChecker:     db,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            log,

		MetricsCollector: mc,
		MetricsHandler:   metrics.Handler(reg),

		PostService:    postService,
		CommentService: commentService,
		VoteService:    voteService,
	}

	return handler.NewRouter(deps), rateLimiter
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := connectDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	reg, mc := newRegistry()
	router, rateLimiter := newRouter(cfg, db, reg, mc)
	defer rateLimiter.Stop()

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

// runWorker はワーカーモードで起動する。
// DB接続を開き、投票台帳の検査ジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := connectDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	_, mc := newRegistry()

	job := audit.NewAuditJob(repository.NewPostgresLedgerRepo(db), mc, slog.Default())
	if cfg.AuditBatchSize > 0 {
		job.BatchSize = cfg.AuditBatchSize
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("audit_interval", cfg.AuditInterval),
		slog.Int("audit_batch_size", job.BatchSize),
	)

	// 検査ジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.AuditInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version.Version)),
	)
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
