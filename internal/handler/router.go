package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campusboard/internal/metrics"
	"github.com/hitoshi/campusboard/internal/middleware"
	"github.com/hitoshi/campusboard/internal/model"
)

// HealthChecker はヘルスチェックでDB接続を確認するためのインターフェース。
// *sql.DB が満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// メトリクス（MetricsHandlerがnilの場合は/metricsを公開しない）
	MetricsCollector metrics.MetricsCollector
	MetricsHandler   http.Handler

	// ドメインサービス
	PostService    PostServiceInterface
	CommentService CommentServiceInterface
	VoteService    VoteServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Identity → Logging
//
// 書き込み系のルートには RequireUser → RateLimit(General) を追加し、
// 投票ルートにはさらに RateLimit(Vote) を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewIdentityMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.MetricsCollector))

	postHandler := NewPostHandler(deps.PostService)
	commentHandler := NewCommentHandler(deps.CommentService)
	voteHandler := NewVoteHandler(deps.VoteService)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 読み取り（匿名可） ---
	r.Get("/api/posts", postHandler.ListPosts)
	r.Get("/api/posts/hottest", postHandler.ListHottest)
	r.Get("/api/comments", commentHandler.ListComments)

	// --- 書き込み（ユーザー識別が必要） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewRequireUserMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/api/posts", postHandler.CreatePost)
		r.Post("/api/comments", commentHandler.CreateComment)
		r.Delete("/api/comments/{id}", commentHandler.DeleteComment)

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.VoteMiddleware())

			r.Put("/api/posts/{id}/vote", voteHandler.Vote(model.ContentKindPost))
			r.Put("/api/comments/{id}/vote", voteHandler.Vote(model.ContentKindComment))
		})
	})

	return r
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status string `json:"status"`
}

// healthHandler はDB接続を確認するヘルスチェックハンドラーを返す。
// checkerがnilの場合はプロセスの生存のみを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
