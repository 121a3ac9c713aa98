package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/nearverify/internal/middleware"
)

// HealthChecker は依存先（セッションストア）の疎通を確認する。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthCheckFunc は関数をHealthCheckerとして使うためのアダプタ。
type HealthCheckFunc func(ctx context.Context) error

// Ping はf(ctx)を呼ぶ。
func (f HealthCheckFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	TrustProxyHeaders bool
	RateLimiter       *middleware.RateLimiter
	StatusObserver    middleware.StatusObserver
	WebhookSecret     string
	AdminAPIKey       string

	// サービス
	StatusService  StatusServiceInterface
	SessionService SessionServiceInterface
	AccountService AccountServiceInterface

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → (RealIP) → Recovery → SecurityHeaders → CORS → Logging
//
// ステータス、セッション作成、アカウント参照はクライアントIP単位でレート制限する。
// 結果コールバックは共有シークレット、キャッシュ無効化は管理APIキーで保護する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusObserver))

	statusHandler := NewStatusHandler(deps.StatusService)
	sessionHandler := NewSessionHandler(deps.SessionService)
	accountHandler := NewAccountHandler(deps.AccountService)

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/verification", func(r chi.Router) {
		r.With(deps.RateLimiter.StatusMiddleware()).Get("/status", statusHandler.GetStatus)

		r.Route("/sessions", func(r chi.Router) {
			r.With(deps.RateLimiter.SessionMiddleware()).Post("/", sessionHandler.CreateSession)
			r.With(middleware.NewSharedSecretMiddleware(middleware.WebhookSecretHeader, deps.WebhookSecret)).
				Post("/{sessionId}/result", sessionHandler.SubmitResult)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Use(deps.RateLimiter.AccountsMiddleware())
			r.Get("/", accountHandler.ListAccounts)
			r.Get("/{accountId}", accountHandler.GetAccount)
		})

		r.With(middleware.NewBearerTokenMiddleware(deps.AdminAPIKey)).
			Post("/cache/invalidate", accountHandler.InvalidateCache)
	})

	return r
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status string `json:"status"`
}

// healthHandler は /health のハンドラーを返す。
// checker が nil の場合はプロセスの生存のみを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.Ping(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
