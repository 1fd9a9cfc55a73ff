package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/postboard/internal/backend"
	"github.com/hitoshi/postboard/internal/config"
	"github.com/hitoshi/postboard/internal/handler"
	"github.com/hitoshi/postboard/internal/identity"
	"github.com/hitoshi/postboard/internal/logger"
	"github.com/hitoshi/postboard/internal/metrics"
	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/security"
	"github.com/hitoshi/postboard/internal/view"
)

// shutdownTimeout はグレースフルシャットダウンの最大待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込みの失敗もJSONで出力できるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定のログレベルで再構成する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

// Server は依存関係を組み立て済みのHTTPハンドラーと、その終了処理をまとめたもの。
type Server struct {
	Handler     http.Handler
	rateLimiter *middleware.RateLimiter
}

// Close はバックグラウンドで動作するリソースを停止する。
func (s *Server) Close() {
	s.rateLimiter.Stop()
}

// NewServer は設定から全依存関係をワイヤリングし、ルーターを構築する。
func NewServer(cfg *config.Config, reg *prometheus.Registry) (*Server, error) {
	collector := metrics.NewCollector(reg)

	// 1. IdPクライアントとセッション解決
	identityClient := identity.NewClient(identity.ClientConfig{
		BaseURL:          cfg.IdentityURL,
		APIKey:           cfg.IdentityAPIKey,
		AllowedProviders: cfg.OAuthProviders,
	}, &http.Client{Timeout: cfg.IdentityTimeout}, collector)

	cookies := identity.CookieConfig{
		Domain: cfg.CookieDomain,
		Secure: cfg.CookieSecure,
		MaxAge: cfg.SessionMaxAge,
	}
	resolver := identity.NewResolver(identityClient, cookies, collector)

	// 2. バックエンドAPIクライアント
	backendClient := backend.NewClient(
		cfg.BackendAPIURL,
		&http.Client{Timeout: cfg.BackendTimeout},
		slog.Default(),
		collector,
	)

	// 3. 描画とセキュリティ
	sanitizer := security.NewContentSanitizer()
	renderer, err := view.NewRenderer(sanitizer)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	avatars := security.NewImageFetcher(cfg.AvatarTimeout, cfg.AvatarMaxSize)

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitMutation))

	defaultProvider := "google"
	if len(cfg.OAuthProviders) > 0 {
		defaultProvider = cfg.OAuthProviders[0]
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:          slog.Default(),
		Metrics:         collector,
		SessionResolver: resolver,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,

		Renderer: renderer,

		Identity: identityClient,
		AuthConfig: handler.AuthHandlerConfig{
			RedirectURL:     cfg.OAuthRedirectURL,
			DefaultProvider: defaultProvider,
			Cookies:         cookies,
		},

		Backend: backendClient,
		Avatars: avatars,

		MetricsHandler: metrics.Handler(reg),
	})

	return &Server{Handler: router, rateLimiter: rateLimiter}, nil
}

// runServe はWebサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, w io.Writer) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(CommandServe)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := NewServer(cfg, reg)
	if err != nil {
		return err
	}
	defer srv.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	slog.Info("web server starting", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down web server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("web server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
