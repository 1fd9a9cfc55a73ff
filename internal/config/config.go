// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend API
	BackendAPIURL  string        `env:"BACKEND_API_URL"`
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"10s"`

	// Identity provider
	IdentityURL     string        `env:"IDENTITY_URL"`
	IdentityAPIKey  string        `env:"IDENTITY_API_KEY"`
	IdentityTimeout time.Duration `env:"IDENTITY_TIMEOUT" envDefault:"5s"`

	// OAuth
	OAuthRedirectURL string   `env:"OAUTH_REDIRECT_URL"`
	OAuthProviders   []string `env:"OAUTH_PROVIDERS" envSeparator:"," envDefault:"google"`

	// Session
	SessionMaxAge int `env:"SESSION_MAX_AGE" envDefault:"604800"`

	// Rate Limit (req/min)
	RateLimitGeneral  int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitMutation int `env:"RATE_LIMIT_MUTATION" envDefault:"20"`

	// Avatar proxy
	AvatarTimeout time.Duration `env:"AVATAR_TIMEOUT" envDefault:"5s"`
	AvatarMaxSize int64         `env:"AVATAR_MAX_SIZE" envDefault:"2097152"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定のものをすべて列挙したエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	// Required fields
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"BACKEND_API_URL", cfg.BackendAPIURL},
		{"IDENTITY_URL", cfg.IdentityURL},
		{"IDENTITY_API_KEY", cfg.IdentityAPIKey},
		{"OAUTH_REDIRECT_URL", cfg.OAuthRedirectURL},
		{"BASE_URL", cfg.BaseURL},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// 0以下の上限値はすべてのリクエストを拒否してしまうため無効とする
	var invalid []string
	positive := []struct {
		name  string
		value int64
	}{
		{"RATE_LIMIT_GENERAL", int64(cfg.RateLimitGeneral)},
		{"RATE_LIMIT_MUTATION", int64(cfg.RateLimitMutation)},
		{"AVATAR_MAX_SIZE", cfg.AvatarMaxSize},
	}
	for _, p := range positive {
		if p.value <= 0 {
			invalid = append(invalid, p.name)
		}
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("environment variables must be positive: %v", invalid)
	}

	cfg.BackendAPIURL = strings.TrimRight(cfg.BackendAPIURL, "/")
	cfg.IdentityURL = strings.TrimRight(cfg.IdentityURL, "/")
	cfg.OAuthProviders = trimList(cfg.OAuthProviders)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}

// trimList はCSV分割後の空要素を除去する。
func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, strings.ToLower(v))
		}
	}
	return out
}
