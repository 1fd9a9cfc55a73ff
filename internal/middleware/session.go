// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/postboard/internal/identity"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey  = contextKey("user_id")
	sessionContextKey = contextKey("session")
)

// SessionResolver はリクエストからセッションを解決するインターフェース。
// identity.Resolverが実装する。
type SessionResolver interface {
	Resolve(ctx context.Context, r *http.Request) *identity.Session
}

// NewSessionMiddleware はCookieからセッションを解決し、リクエストコンテキストに注入するミドルウェアを返す。
// 未認証のリクエストも拒否せずに通す。認可は各ルートで判定する。
// リゾルバーが返したSet-Cookieはハンドラー実行前にレスポンスヘッダーへ書き込むため、
// 描画・リダイレクト・エラーのどの経路でも必ずレスポンスに含まれる。
func NewSessionMiddleware(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := resolver.Resolve(r.Context(), r)
			if session == nil {
				session = &identity.Session{}
			}

			for _, c := range session.Cookies {
				http.SetCookie(w, c)
			}

			ctx := ContextWithSession(r.Context(), session)
			if session.Authenticated() {
				ctx = ContextWithUserID(ctx, session.UserID())
				setLogUserID(ctx, session.UserID())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// セッションミドルウェアを通過していない場合は匿名セッションを返す。
func SessionFromContext(ctx context.Context) *identity.Session {
	if s, ok := ctx.Value(sessionContextKey).(*identity.Session); ok && s != nil {
		return s
	}
	return &identity.Session{}
}

// ContextWithSession はコンテキストにセッションを注入する。
func ContextWithSession(ctx context.Context, s *identity.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証済みのリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
