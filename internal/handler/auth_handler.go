package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/postboard/internal/identity"
	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/view"
)

// IdentityClient は認証フローに必要なIdPの操作。
type IdentityClient interface {
	SignInWithOAuth(provider, redirectTo string) (*identity.OAuthStart, error)
	ExchangeCode(ctx context.Context, code, verifier string) (*identity.Tokens, error)
	SignOut(ctx context.Context, accessToken string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	RedirectURL     string // OAuthコールバックURL
	DefaultProvider string
	Cookies         identity.CookieConfig
}

// AuthHandler はサインアップ・OAuthコールバック・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	identity IdentityClient
	renderer *view.Renderer
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(client IdentityClient, renderer *view.Renderer, config AuthHandlerConfig) *AuthHandler {
	if config.DefaultProvider == "" {
		config.DefaultProvider = "google"
	}
	return &AuthHandler{
		identity: client,
		renderer: renderer,
		config:   config,
	}
}

// Home はログイン状態に応じてマイページまたはサインアップページにリダイレクトする。
// GET /
func (h *AuthHandler) Home(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session.Authenticated() {
		http.Redirect(w, r, "/users/"+url.PathEscape(session.UserID()), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/signup", http.StatusSeeOther)
}

// SignupForm はサインアップページを表示する。
// GET /signup
func (h *AuthHandler) SignupForm(w http.ResponseWriter, r *http.Request) error {
	session := middleware.SessionFromContext(r.Context())
	if session.Authenticated() {
		http.Redirect(w, r, safeNext(r.URL.Query().Get("next"), "/users/"+url.PathEscape(session.UserID())), http.StatusSeeOther)
		return nil
	}

	return h.renderer.Render(w, r, http.StatusOK, view.PageSignup, "新規登録・ログイン", &view.Signup{
		Provider: h.config.DefaultProvider,
		Next:     safeNext(r.URL.Query().Get("next"), ""),
	})
}

// Signup はOAuthフローを開始し、プロバイダーの認可ページにリダイレクトする。
// POST /signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) error {
	provider := strings.ToLower(strings.TrimSpace(r.PostFormValue("provider")))
	if provider == "" {
		provider = h.config.DefaultProvider
	}
	next := safeNext(r.PostFormValue("next"), "")

	start, err := h.identity.SignInWithOAuth(provider, h.callbackURL(next))
	if err != nil {
		if errors.Is(err, identity.ErrUnsupportedProvider) {
			return h.renderer.Render(w, r, http.StatusBadRequest, view.PageSignup, "新規登録・ログイン", &view.Signup{
				Provider: h.config.DefaultProvider,
				Next:     next,
				Error:    "このログイン方法には対応していません。",
			})
		}
		return fmt.Errorf("failed to start oauth flow: %w", err)
	}

	http.SetCookie(w, h.config.Cookies.VerifierCookie(start.Verifier))
	http.Redirect(w, r, start.URL, http.StatusSeeOther)
	return nil
}

// Callback はOAuthコールバックを処理し、認可コードをセッションに交換する。
// GET /auth/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		slog.Warn("oauth provider returned error",
			slog.String("error", providerErr),
			slog.String("description", q.Get("error_description")),
		)
		return callbackError("ログインがキャンセルされたか、失敗しました。")
	}

	code := q.Get("code")
	if code == "" {
		return callbackError("認可コードがありません。")
	}

	verifierCookie, err := r.Cookie(identity.VerifierCookie)
	if err != nil || verifierCookie.Value == "" {
		return callbackError("ログインの有効期限が切れました。もう一度お試しください。")
	}

	tokens, err := h.identity.ExchangeCode(r.Context(), code, verifierCookie.Value)
	if err != nil {
		if errors.Is(err, identity.ErrUnauthorized) {
			return &model.PageError{
				Status:  http.StatusUnauthorized,
				Title:   "ログインに失敗しました",
				Message: "認証に失敗しました。もう一度お試しください。",
				Err:     err,
			}
		}
		return fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	for _, c := range h.config.Cookies.SessionCookies(tokens) {
		http.SetCookie(w, c)
	}
	http.SetCookie(w, h.config.Cookies.ClearVerifierCookie())

	if tokens.User != nil {
		slog.Info("user signed in", slog.String("user_id", tokens.User.ID))
	}

	http.Redirect(w, r, safeNext(q.Get("next"), "/"), http.StatusSeeOther)
	return nil
}

// Signout はIdPのセッションを破棄し、セッションCookieを削除する。
// POST /auth/signout
// IdP側のエラーはログに記録するのみで、Cookieは必ず削除する。
func (h *AuthHandler) Signout(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session.AccessToken != "" {
		if err := h.identity.SignOut(r.Context(), session.AccessToken); err != nil {
			slog.Warn("failed to sign out from identity provider",
				slog.String("user_id", session.UserID()),
				slog.String("error", err.Error()),
			)
		}
	}

	for _, c := range h.config.Cookies.ClearSessionCookies() {
		http.SetCookie(w, c)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// CompleteProfile はプロフィール未作成のユーザー向けの案内ページを表示する。
// GET /complete-profile
func (h *AuthHandler) CompleteProfile(w http.ResponseWriter, r *http.Request) error {
	session := middleware.SessionFromContext(r.Context())
	if !session.Authenticated() {
		return model.ErrAuthenticationAbsent
	}

	return h.renderer.Render(w, r, http.StatusOK, view.PageCompleteProfile, "プロフィールを作成してください", &view.CompleteProfile{
		Email: session.Identity.Email,
	})
}

// callbackURL はnextを引き継いだOAuthコールバックURLを返す。
func (h *AuthHandler) callbackURL(next string) string {
	if next == "" {
		return h.config.RedirectURL
	}
	u, err := url.Parse(h.config.RedirectURL)
	if err != nil {
		return h.config.RedirectURL
	}
	q := u.Query()
	q.Set("next", next)
	u.RawQuery = q.Encode()
	return u.String()
}

func callbackError(message string) *model.PageError {
	return &model.PageError{
		Status:  http.StatusBadRequest,
		Title:   "ログインに失敗しました",
		Message: message,
	}
}

// safeNext は同一オリジン内のパスのみを許可し、それ以外はfallbackを返す。
// オープンリダイレクト対策。
func safeNext(next, fallback string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return fallback
	}
	return next
}
