package handler

import (
	"log/slog"
	"net/http"

	"github.com/NYTimes/gziphandler"
	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/postboard/internal/metrics"
	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/view"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger          *slog.Logger
	Metrics         metrics.MetricsCollector
	SessionResolver middleware.SessionResolver
	CSRF            middleware.CSRFConfig
	RateLimiter     *middleware.RateLimiter

	// ページ描画
	Renderer *view.Renderer

	// 認証
	Identity   IdentityClient
	AuthConfig AuthHandlerConfig

	// ユーザー
	Backend BackendClient
	Avatars AvatarFetcher

	// /metrics のハンドラー。nilの場合はルートを登録しない。
	MetricsHandler http.Handler
}

// NewRouter は全ページのルーティングとミドルウェアチェーンを構成したhttp.Handlerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Gzip → RequestID → Logging → Recovery → SecurityHeaders
//	  → Session → CSRF → RateLimit(General) → RateLimit(Mutation, POSTのみ)
//
// /health と /metrics はセッション解決の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware(func(w http.ResponseWriter, req *http.Request) {
		deps.Renderer.RenderError(w, req, model.NewInternalError(nil))
	}))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.Get("/health", Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.Identity, deps.Renderer, deps.AuthConfig)
	userHandler := NewUserHandler(deps.Backend, deps.Avatars, deps.Renderer)

	// --- セッション解決を伴うルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		mutation := deps.RateLimiter.MutationMiddleware()

		r.Get("/", authHandler.Home)
		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

		// 認証
		r.Get("/signup", page(deps.Renderer, authHandler.SignupForm))
		r.With(mutation).Post("/signup", page(deps.Renderer, authHandler.Signup))
		r.Get("/auth/callback", page(deps.Renderer, authHandler.Callback))
		r.With(mutation).Post("/auth/signout", authHandler.Signout)
		r.Get("/complete-profile", page(deps.Renderer, authHandler.CompleteProfile))

		// ユーザー
		r.Route("/users/{userId}", func(r chi.Router) {
			r.Get("/", page(deps.Renderer, userHandler.Show))
			r.Get("/avatar", userHandler.Avatar)
			r.Get("/edit", page(deps.Renderer, userHandler.Edit))
			r.With(mutation).Post("/edit", page(deps.Renderer, userHandler.Update))
		})
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		deps.Renderer.RenderError(w, req, &model.PageError{
			Status:  http.StatusNotFound,
			Title:   "ページが見つかりません",
			Message: "お探しのページは存在しないか、移動した可能性があります。",
		})
	})

	return gziphandler.GzipHandler(r)
}
