package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/postboard/internal/metrics"
	"github.com/hitoshi/postboard/internal/model"
)

const (
	// AccessTokenCookie はIdPのアクセストークンを保持するCookie名。
	AccessTokenCookie = "access_token"
	// RefreshTokenCookie はIdPのリフレッシュトークンを保持するCookie名。
	RefreshTokenCookie = "refresh_token"
	// VerifierCookie はOAuthコールバックまでPKCEのcode_verifierを保持するCookie名。
	VerifierCookie = "oauth_code_verifier"

	verifierMaxAge = 600 // 10分

	// expiryLeeway は期限切れ直前のアクセストークンを先にリフレッシュするための猶予。
	expiryLeeway = 10 * time.Second
)

// Provider はセッション解決に必要なIdPの操作。
type Provider interface {
	GetUser(ctx context.Context, accessToken string) (*User, error)
	Refresh(ctx context.Context, refreshToken string) (*Tokens, error)
}

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Domain string
	Secure bool
	MaxAge int // 秒
}

func (c CookieConfig) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// SessionCookies はトークンをセッションCookieに変換する。
func (c CookieConfig) SessionCookies(tokens *Tokens) []*http.Cookie {
	return []*http.Cookie{
		c.cookie(AccessTokenCookie, tokens.AccessToken, c.MaxAge),
		c.cookie(RefreshTokenCookie, tokens.RefreshToken, c.MaxAge),
	}
}

// ClearSessionCookies はセッションCookieを失効させるCookieを返す。
func (c CookieConfig) ClearSessionCookies() []*http.Cookie {
	return []*http.Cookie{
		c.cookie(AccessTokenCookie, "", -1),
		c.cookie(RefreshTokenCookie, "", -1),
	}
}

// VerifierCookie はPKCEのcode_verifierを保持する短命なCookieを返す。
func (c CookieConfig) VerifierCookie(verifier string) *http.Cookie {
	return c.cookie(VerifierCookie, verifier, verifierMaxAge)
}

// ClearVerifierCookie はcode_verifierのCookieを失効させる。
func (c CookieConfig) ClearVerifierCookie() *http.Cookie {
	return c.cookie(VerifierCookie, "", -1)
}

// Session はリクエストごとに解決されたセッション。
// Cookiesはレスポンスに必ず付与しなければならないSet-Cookieの内容。
type Session struct {
	Identity    *model.Identity
	AccessToken string
	Cookies     []*http.Cookie
}

// Authenticated はIdentityが解決済みかを返す。
func (s *Session) Authenticated() bool {
	return s != nil && s.Identity != nil
}

// UserID は認証済みの場合にユーザーIDを返す。未認証なら空文字列。
func (s *Session) UserID() string {
	if !s.Authenticated() {
		return ""
	}
	return s.Identity.ID
}

// Resolver はリクエストのCookieからセッションを解決する。
type Resolver struct {
	provider Provider
	cookies  CookieConfig
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewResolver はResolverを生成する。
func NewResolver(provider Provider, cookies CookieConfig, collector metrics.MetricsCollector) *Resolver {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Resolver{
		provider: provider,
		cookies:  cookies,
		metrics:  collector,
		now:      time.Now,
	}
}

// Resolve はリクエストのセッションを解決する。
// IdPのエラーは匿名として扱い、エラーを返すことはない。
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) *Session {
	access := cookieValue(req, AccessTokenCookie)
	refresh := cookieValue(req, RefreshTokenCookie)

	if access == "" && refresh == "" {
		r.metrics.RecordSessionResolution(metrics.SessionAnonymous)
		return &Session{}
	}

	if access != "" && !r.expired(access) {
		user, err := r.provider.GetUser(ctx, access)
		if err == nil {
			r.metrics.RecordSessionResolution(metrics.SessionAuthenticated)
			return &Session{Identity: toIdentity(user), AccessToken: access}
		}
		if !errors.Is(err, ErrUnauthorized) {
			return r.providerError("get_user", err)
		}
	}

	if refresh == "" {
		r.metrics.RecordSessionResolution(metrics.SessionExpired)
		return &Session{Cookies: r.cookies.ClearSessionCookies()}
	}

	tokens, err := r.provider.Refresh(ctx, refresh)
	if errors.Is(err, ErrUnauthorized) {
		slog.Info("session refresh rejected, clearing cookies")
		r.metrics.RecordSessionResolution(metrics.SessionExpired)
		return &Session{Cookies: r.cookies.ClearSessionCookies()}
	}
	if err != nil {
		return r.providerError("refresh", err)
	}

	// リフレッシュトークンはローテーションされるため、以降の失敗でも新しいCookieは必ず返す
	cookies := r.cookies.SessionCookies(tokens)
	user := tokens.User
	if user == nil {
		user, err = r.provider.GetUser(ctx, tokens.AccessToken)
		if err != nil {
			s := r.providerError("get_user", err)
			s.Cookies = cookies
			return s
		}
	}

	r.metrics.RecordSessionResolution(metrics.SessionRefreshed)
	return &Session{
		Identity:    toIdentity(user),
		AccessToken: tokens.AccessToken,
		Cookies:     cookies,
	}
}

func (r *Resolver) providerError(operation string, err error) *Session {
	slog.Warn("identity provider error, continuing as anonymous",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
	r.metrics.RecordSessionResolution(metrics.SessionProviderError)
	return &Session{}
}

// expired はアクセストークンのexpクレームを署名検証なしで読み取り、期限切れかを判定する。
// 読み取れないトークンは有効性の判断をIdPに委ねる。
func (r *Resolver) expired(token string) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !r.now().Add(expiryLeeway).Before(claims.ExpiresAt.Time)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func toIdentity(u *User) *model.Identity {
	return &model.Identity{ID: u.ID, Email: u.Email}
}
