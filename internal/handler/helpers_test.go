package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/postboard/internal/identity"
	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/security"
	"github.com/hitoshi/postboard/internal/view"
)

// --- バックエンドのモック ---

type mockBackend struct {
	getUserFn       func(ctx context.Context, accessToken, userID string) (model.Outcome[model.Profile], error)
	updateUserFn    func(ctx context.Context, accessToken, userID string, update model.ProfileUpdate) (model.Outcome[model.Profile], error)
	listUserPostsFn func(ctx context.Context, accessToken, userID string, q model.PostQuery) (model.Outcome[[]model.Post], error)

	getUserCalls       int
	updateUserCalls    int
	listUserPostsCalls int
}

func (m *mockBackend) GetUser(ctx context.Context, accessToken, userID string) (model.Outcome[model.Profile], error) {
	m.getUserCalls++
	if m.getUserFn != nil {
		return m.getUserFn(ctx, accessToken, userID)
	}
	return model.Success(model.Profile{ID: userID, Name: "Aya"}), nil
}

func (m *mockBackend) UpdateUser(ctx context.Context, accessToken, userID string, update model.ProfileUpdate) (model.Outcome[model.Profile], error) {
	m.updateUserCalls++
	if m.updateUserFn != nil {
		return m.updateUserFn(ctx, accessToken, userID, update)
	}
	return model.Success(model.Profile{ID: userID, Name: update.Name}), nil
}

func (m *mockBackend) ListUserPosts(ctx context.Context, accessToken, userID string, q model.PostQuery) (model.Outcome[[]model.Post], error) {
	m.listUserPostsCalls++
	if m.listUserPostsFn != nil {
		return m.listUserPostsFn(ctx, accessToken, userID, q)
	}
	return model.Success([]model.Post{}), nil
}

func (m *mockBackend) totalCalls() int {
	return m.getUserCalls + m.updateUserCalls + m.listUserPostsCalls
}

// --- IdPのモック ---

type mockIdentity struct {
	signInWithOAuthFn func(provider, redirectTo string) (*identity.OAuthStart, error)
	exchangeCodeFn    func(ctx context.Context, code, verifier string) (*identity.Tokens, error)
	signOutFn         func(ctx context.Context, accessToken string) error

	exchangeCodeCalls int
	signOutCalls      int
}

func (m *mockIdentity) SignInWithOAuth(provider, redirectTo string) (*identity.OAuthStart, error) {
	if m.signInWithOAuthFn != nil {
		return m.signInWithOAuthFn(provider, redirectTo)
	}
	return &identity.OAuthStart{URL: "https://idp.example.com/authorize", Verifier: "verifier"}, nil
}

func (m *mockIdentity) ExchangeCode(ctx context.Context, code, verifier string) (*identity.Tokens, error) {
	m.exchangeCodeCalls++
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code, verifier)
	}
	return &identity.Tokens{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (m *mockIdentity) SignOut(ctx context.Context, accessToken string) error {
	m.signOutCalls++
	if m.signOutFn != nil {
		return m.signOutFn(ctx, accessToken)
	}
	return nil
}

// --- アバター取得のモック ---

type mockAvatars struct {
	fetchFn    func(ctx context.Context, url string) (*security.Image, error)
	fetchCalls int
}

func (m *mockAvatars) Fetch(ctx context.Context, url string) (*security.Image, error) {
	m.fetchCalls++
	if m.fetchFn != nil {
		return m.fetchFn(ctx, url)
	}
	return &security.Image{ContentType: "image/png", Data: []byte("png")}, nil
}

// staticResolver は常に同じセッションを返すSessionResolver。
type staticResolver struct {
	session *identity.Session
}

func (s staticResolver) Resolve(ctx context.Context, r *http.Request) *identity.Session {
	return s.session
}

// --- ヘルパー ---

func newTestRenderer(t *testing.T) *view.Renderer {
	t.Helper()
	r, err := view.NewRenderer(security.NewContentSanitizer())
	if err != nil {
		t.Fatalf("NewRenderer がエラーを返した: %v", err)
	}
	return r
}

// withSession はリクエストのコンテキストに指定のIdentityのセッションを設定する。
// identがnilの場合は匿名セッションになる。
func withSession(r *http.Request, ident *model.Identity) *http.Request {
	session := &identity.Session{Identity: ident}
	if ident != nil {
		session.AccessToken = "token-" + ident.ID
	}
	return r.WithContext(middleware.ContextWithSession(r.Context(), session))
}

// withChiURLParam はchiのURLパラメータをリクエストコンテキストに設定する。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func strPtr(s string) *string { return &s }
