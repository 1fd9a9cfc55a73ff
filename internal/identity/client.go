// Package identity は外部IdP（セッションCookieベースの認証サービス）との連携と、
// リクエストごとのセッション解決を提供する。
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"

	"github.com/hitoshi/postboard/internal/metrics"
)

// ErrUnauthorized はIdPがトークンを無効と判定したことを示す。
// ネットワーク障害などのプロバイダーエラーとは区別される。
var ErrUnauthorized = errors.New("identity provider rejected the token")

// ErrUnsupportedProvider は許可されていないOAuthプロバイダーが指定されたことを示す。
var ErrUnsupportedProvider = errors.New("unsupported oauth provider")

// maxResponseSize はIdPのレスポンスボディの上限。
const maxResponseSize = 1 * 1024 * 1024

var tracer = otel.Tracer("github.com/hitoshi/postboard/internal/identity")

// User はIdPの /user エンドポイントが返すユーザー情報。
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Tokens はIdPのトークンエンドポイントが返すセッション。
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	User         *User  `json:"user"`
}

// OAuthStart はOAuthサインイン開始時に生成される情報。
// VerifierはPKCEのcode_verifierで、コールバックまでCookieに保持する。
type OAuthStart struct {
	URL      string
	Verifier string
}

// ClientConfig はIdPクライアントの設定。
type ClientConfig struct {
	BaseURL          string   // 例: https://auth.example.com/auth/v1
	APIKey           string   // apikey ヘッダーに付与する公開キー
	AllowedProviders []string // 例: google
}

// Client はIdPのHTTP APIクライアント。
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	metrics    metrics.MetricsCollector
}

// NewClient はClientを生成する。
func NewClient(config ClientConfig, httpClient *http.Client, collector metrics.MetricsCollector) *Client {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Client{
		config:     config,
		httpClient: httpClient,
		metrics:    collector,
	}
}

// SignInWithOAuth はOAuthプロバイダーの認可URLを生成する。
// PKCEのcode_verifierを生成し、S256チャレンジをURLに含める。
// ネットワーク呼び出しは行わない。
func (c *Client) SignInWithOAuth(provider, redirectTo string) (*OAuthStart, error) {
	if !slices.Contains(c.config.AllowedProviders, provider) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}

	verifier := oauth2.GenerateVerifier()
	params := url.Values{
		"provider":              {provider},
		"redirect_to":           {redirectTo},
		"code_challenge":        {oauth2.S256ChallengeFromVerifier(verifier)},
		"code_challenge_method": {"s256"},
	}

	return &OAuthStart{
		URL:      c.config.BaseURL + "/authorize?" + params.Encode(),
		Verifier: verifier,
	}, nil
}

// ExchangeCode はOAuthコールバックの認可コードをセッショントークンに交換する。
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (*Tokens, error) {
	body := map[string]string{
		"auth_code":     code,
		"code_verifier": verifier,
	}
	var tokens Tokens
	if err := c.do(ctx, "exchange_code", http.MethodPost, "/token?grant_type=pkce", "", body, &tokens); err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, errors.New("empty access token in response")
	}
	return &tokens, nil
}

// Refresh はリフレッシュトークンで新しいセッショントークンを取得する。
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var tokens Tokens
	if err := c.do(ctx, "refresh", http.MethodPost, "/token?grant_type=refresh_token", "", body, &tokens); err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, errors.New("empty access token in response")
	}
	return &tokens, nil
}

// GetUser はアクセストークンに紐づくユーザーを取得する。
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	if err := c.do(ctx, "get_user", http.MethodGet, "/user", accessToken, nil, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, errors.New("empty user id in response")
	}
	return &user, nil
}

// SignOut はIdP側のセッションを破棄する。
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, "sign_out", http.MethodPost, "/logout", accessToken, nil, nil)
}

// do はIdPへのリクエストを実行し、レスポンスをoutにデコードする。
// 401/403、およびトークンエンドポイントの400はErrUnauthorizedとして返す。
func (c *Client) do(ctx context.Context, operation, method, path, accessToken string, in, out any) (err error) {
	ctx, span := tracer.Start(ctx, "identity."+operation)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", operation, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", operation, err)
	}
	req.Header.Set("apikey", c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordIdentityCall(operation, metrics.ResultTransportError)
		return fmt.Errorf("%s request failed: %w", operation, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.metrics.RecordIdentityCall(operation, metrics.ResultTransportError)
		return fmt.Errorf("failed to read %s response: %w", operation, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusBadRequest && method == http.MethodPost && path != "/logout":
		c.metrics.RecordIdentityCall(operation, metrics.ResultFailure)
		slog.Debug("identity provider rejected token",
			slog.String("operation", operation),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("%w: %s returned status %d", ErrUnauthorized, operation, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.metrics.RecordIdentityCall(operation, metrics.ResultFailure)
		return fmt.Errorf("%s failed with status %d: %s", operation, resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			c.metrics.RecordIdentityCall(operation, metrics.ResultTransportError)
			return fmt.Errorf("failed to parse %s response: %w", operation, err)
		}
	}

	c.metrics.RecordIdentityCall(operation, metrics.ResultSuccess)
	return nil
}
