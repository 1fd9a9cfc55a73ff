package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnvVars(t *testing.T) {
	t.Helper()
	t.Setenv("BACKEND_API_URL", "http://backend.internal:4000/")
	t.Setenv("IDENTITY_URL", "https://auth.example.com/auth/v1")
	t.Setenv("IDENTITY_API_KEY", "test-anon-key")
	t.Setenv("OAUTH_REDIRECT_URL", "https://postboard.example.com/auth/callback")
	t.Setenv("BASE_URL", "https://postboard.example.com")
}

func TestLoad_AllRequiredVarsSet_ReturnsConfig(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// 末尾スラッシュは除去される
	if cfg.BackendAPIURL != "http://backend.internal:4000" {
		t.Errorf("BackendAPIURL = %q, want %q", cfg.BackendAPIURL, "http://backend.internal:4000")
	}
	if cfg.IdentityURL != "https://auth.example.com/auth/v1" {
		t.Errorf("IdentityURL = %q", cfg.IdentityURL)
	}
	if cfg.IdentityAPIKey != "test-anon-key" {
		t.Errorf("IdentityAPIKey = %q", cfg.IdentityAPIKey)
	}
	if cfg.OAuthRedirectURL != "https://postboard.example.com/auth/callback" {
		t.Errorf("OAuthRedirectURL = %q", cfg.OAuthRedirectURL)
	}
	if !cfg.CookieSecure {
		t.Error("CookieSecure should be true for https BASE_URL")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.BackendTimeout != 10*time.Second {
		t.Errorf("BackendTimeout = %v, want %v", cfg.BackendTimeout, 10*time.Second)
	}
	if cfg.IdentityTimeout != 5*time.Second {
		t.Errorf("IdentityTimeout = %v, want %v", cfg.IdentityTimeout, 5*time.Second)
	}
	if len(cfg.OAuthProviders) != 1 || cfg.OAuthProviders[0] != "google" {
		t.Errorf("OAuthProviders = %v, want [google]", cfg.OAuthProviders)
	}
	if cfg.SessionMaxAge != 604800 {
		t.Errorf("SessionMaxAge = %d, want %d", cfg.SessionMaxAge, 604800)
	}
	if cfg.RateLimitGeneral != 120 {
		t.Errorf("RateLimitGeneral = %d, want %d", cfg.RateLimitGeneral, 120)
	}
	if cfg.RateLimitMutation != 20 {
		t.Errorf("RateLimitMutation = %d, want %d", cfg.RateLimitMutation, 20)
	}
	if cfg.AvatarMaxSize != 2097152 {
		t.Errorf("AvatarMaxSize = %d, want %d", cfg.AvatarMaxSize, 2097152)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "8080")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnvVars(t)

	t.Setenv("BACKEND_TIMEOUT", "3s")
	t.Setenv("OAUTH_PROVIDERS", "Google, github ,")
	t.Setenv("SESSION_MAX_AGE", "3600")
	t.Setenv("RATE_LIMIT_GENERAL", "60")
	t.Setenv("RATE_LIMIT_MUTATION", "5")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SERVER_PORT", "3000")
	t.Setenv("COOKIE_DOMAIN", "example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.BackendTimeout != 3*time.Second {
		t.Errorf("BackendTimeout = %v, want %v", cfg.BackendTimeout, 3*time.Second)
	}
	if strings.Join(cfg.OAuthProviders, ",") != "google,github" {
		t.Errorf("OAuthProviders = %v, want [google github]", cfg.OAuthProviders)
	}
	if cfg.SessionMaxAge != 3600 {
		t.Errorf("SessionMaxAge = %d, want %d", cfg.SessionMaxAge, 3600)
	}
	if cfg.RateLimitGeneral != 60 {
		t.Errorf("RateLimitGeneral = %d, want %d", cfg.RateLimitGeneral, 60)
	}
	if cfg.RateLimitMutation != 5 {
		t.Errorf("RateLimitMutation = %d, want %d", cfg.RateLimitMutation, 5)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.ServerPort != "3000" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "3000")
	}
	if cfg.CookieDomain != "example.com" {
		t.Errorf("CookieDomain = %q", cfg.CookieDomain)
	}
}

func TestLoad_HTTPBaseURL_CookieNotSecure(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("BASE_URL", "http://localhost:8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.CookieSecure {
		t.Error("CookieSecure should be false for http BASE_URL")
	}
}

func TestLoad_MissingRequired_ReturnsError(t *testing.T) {
	for _, name := range []string{
		"BACKEND_API_URL",
		"IDENTITY_URL",
		"IDENTITY_API_KEY",
		"OAUTH_REDIRECT_URL",
		"BASE_URL",
	} {
		t.Run(name, func(t *testing.T) {
			setRequiredEnvVars(t)
			t.Setenv(name, "")

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for missing %s, got nil", name)
			}
			if !strings.Contains(err.Error(), name) {
				t.Errorf("error %q should mention %s", err.Error(), name)
			}
		})
	}
}

func TestLoad_MissingMultiple_ListsAll(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("IDENTITY_URL", "")
	t.Setenv("OAUTH_REDIRECT_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, name := range []string{"IDENTITY_URL", "OAUTH_REDIRECT_URL"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q should mention %s", err.Error(), name)
		}
	}
}

func TestLoad_InvalidDuration_ReturnsError(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("BACKEND_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid BACKEND_TIMEOUT, got nil")
	}
}

func TestLoad_NonPositiveLimits_ListsAll(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("RATE_LIMIT_GENERAL", "0")
	t.Setenv("RATE_LIMIT_MUTATION", "-5")
	t.Setenv("AVATAR_MAX_SIZE", "0")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for non-positive limits, got nil")
	}
	for _, name := range []string{"RATE_LIMIT_GENERAL", "RATE_LIMIT_MUTATION", "AVATAR_MAX_SIZE"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q should mention %s", err.Error(), name)
		}
	}
}

func TestLoad_NonPositiveLimit_Single(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("RATE_LIMIT_MUTATION", "0")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for RATE_LIMIT_MUTATION=0, got nil")
	}
	if strings.Contains(err.Error(), "RATE_LIMIT_GENERAL") {
		t.Errorf("error %q should not mention RATE_LIMIT_GENERAL", err.Error())
	}
}
