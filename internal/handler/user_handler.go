package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/postboard/internal/authz"
	"github.com/hitoshi/postboard/internal/identity"
	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/security"
	"github.com/hitoshi/postboard/internal/view"
)

// genericSubmitError は送信処理で通信エラーなどが起きた場合に表示するメッセージ。
const genericSubmitError = "プロフィールを保存できませんでした。しばらく待ってから再度お試しください。"

// BackendClient はユーザーハンドラーが必要とするバックエンドAPIのインターフェース。
type BackendClient interface {
	GetUser(ctx context.Context, accessToken, userID string) (model.Outcome[model.Profile], error)
	UpdateUser(ctx context.Context, accessToken, userID string, update model.ProfileUpdate) (model.Outcome[model.Profile], error)
	ListUserPosts(ctx context.Context, accessToken, userID string, q model.PostQuery) (model.Outcome[[]model.Post], error)
}

// AvatarFetcher はアバター画像の取得に必要なインターフェース。
type AvatarFetcher interface {
	Fetch(ctx context.Context, url string) (*security.Image, error)
}

// UserHandler はユーザー詳細・プロフィール編集のHTTPハンドラー。
type UserHandler struct {
	backend  BackendClient
	avatars  AvatarFetcher
	renderer *view.Renderer
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(backend BackendClient, avatars AvatarFetcher, renderer *view.Renderer) *UserHandler {
	return &UserHandler{
		backend:  backend,
		avatars:  avatars,
		renderer: renderer,
	}
}

// Show はユーザーのプロフィールと投稿一覧を表示する。
// GET /users/{userId}
// 匿名閲覧では公開投稿のみ、ログイン中は自分の非公開投稿も含めて取得する。
func (h *UserHandler) Show(w http.ResponseWriter, r *http.Request) error {
	userID := chi.URLParam(r, "userId")
	session := middleware.SessionFromContext(r.Context())

	if err := authz.Authorize(authz.PublicRead, session.Identity, userID); err != nil {
		return err
	}

	profileOutcome, err := h.backend.GetUser(r.Context(), session.AccessToken, userID)
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}
	profile, failure := profileOutcome.Unwrap()
	if failure != nil {
		return model.NewBackendRejectionError(failure)
	}

	postsOutcome, err := h.backend.ListUserPosts(r.Context(), session.AccessToken, userID, authz.PostQueryFor(session.Identity))
	if err != nil {
		return fmt.Errorf("failed to load posts: %w", err)
	}
	posts, failure := postsOutcome.Unwrap()
	if failure != nil {
		return model.NewBackendRejectionError(failure)
	}

	return h.renderer.Render(w, r, http.StatusOK, view.PageUserDetail, profile.Name, &view.UserDetail{
		Profile: profile,
		Posts:   posts,
		IsOwner: authz.IsOwner(session.Identity, userID),
	})
}

// Edit はプロフィール編集フォームを表示する。
// GET /users/{userId}/edit
// プロフィールが未作成の場合は /complete-profile にリダイレクトする。
func (h *UserHandler) Edit(w http.ResponseWriter, r *http.Request) error {
	userID := chi.URLParam(r, "userId")
	session := middleware.SessionFromContext(r.Context())

	if err := authz.Authorize(authz.SelfOnly, session.Identity, userID); err != nil {
		return err
	}

	outcome, err := h.backend.GetUser(r.Context(), session.AccessToken, userID)
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}
	profile, failure := outcome.Unwrap()
	if failure != nil {
		if failure.IsNotFound() {
			http.Redirect(w, r, "/complete-profile", http.StatusSeeOther)
			return nil
		}
		return model.NewBackendRejectionError(failure)
	}

	return h.renderer.Render(w, r, http.StatusOK, view.PageProfileEdit, "プロフィールを編集", &view.ProfileEdit{
		UserID: userID,
		Name:   profile.Name,
		Bio:    profile.BioText(),
	})
}

// formResult はフォーム送信の結果。ErrorとRedirectのどちらか一方だけが設定される。
type formResult struct {
	Error    string `json:"error,omitempty"`
	Redirect string `json:"redirect,omitempty"`
	status   int
}

// Update はプロフィール編集フォームの送信を処理する。
// POST /users/{userId}/edit
// 失敗時は送信値を保持したままフォームを再表示し、成功時は詳細ページにリダイレクトする。
// Accept: application/json の場合は {error} または {redirect} をJSONで返す。
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) error {
	userID := chi.URLParam(r, "userId")
	session := middleware.SessionFromContext(r.Context())

	// 送信前に必ず本人確認を行い、不一致ならバックエンドを呼ばない
	if err := authz.Authorize(authz.SelfOnly, session.Identity, userID); err != nil {
		return err
	}

	update := model.ProfileUpdate{
		Name: strings.TrimSpace(r.PostFormValue("name")),
		Bio:  r.PostFormValue("bio"),
	}

	result := h.submitProfileEdit(r.Context(), session, userID, update)

	if middleware.WantsJSON(r) {
		status := http.StatusOK
		if result.Error != "" {
			status = result.status
		}
		middleware.WriteJSON(w, status, result)
		return nil
	}

	if result.Error == "" {
		http.Redirect(w, r, result.Redirect, http.StatusSeeOther)
		return nil
	}

	return h.renderer.Render(w, r, result.status, view.PageProfileEdit, "プロフィールを編集", &view.ProfileEdit{
		UserID: userID,
		Name:   update.Name,
		Bio:    update.Bio,
		Error:  result.Error,
	})
}

// submitProfileEdit はバックエンドにプロフィール更新を送信し、結果をformResultに変換する。
// 通信エラーや不正なレスポンス、panicも含めて、エラーを呼び出し元に伝搬させない。
func (h *UserHandler) submitProfileEdit(ctx context.Context, session *identity.Session, userID string, update model.ProfileUpdate) (result formResult) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic during profile submission",
				slog.Any("panic", rec),
				slog.String("user_id", userID),
			)
			result = formResult{Error: genericSubmitError, status: http.StatusBadGateway}
		}
	}()

	outcome, err := h.backend.UpdateUser(ctx, session.AccessToken, userID, update)
	if err != nil {
		slog.Error("profile submission failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return formResult{Error: genericSubmitError, status: http.StatusBadGateway}
	}

	if _, failure := outcome.Unwrap(); failure != nil {
		return formResult{Error: failure.Message, status: submitFailureStatus(failure)}
	}

	return formResult{Redirect: "/users/" + userID, status: http.StatusSeeOther}
}

// submitFailureStatus はフォーム送信時のFailureのステータスコードを返す。
// フォームの再表示は入力エラーとして扱うため、4xx以外は422に寄せる。
func submitFailureStatus(f *model.Failure) int {
	status := model.StatusForFailure(f)
	if status >= 500 {
		return http.StatusUnprocessableEntity
	}
	return status
}

// Avatar はプロフィールのアバター画像をプロキシして返す。
// GET /users/{userId}/avatar
// SSRF対策済みのクライアントで取得し、画像以外は返さない。
func (h *UserHandler) Avatar(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	session := middleware.SessionFromContext(r.Context())

	outcome, err := h.backend.GetUser(r.Context(), session.AccessToken, userID)
	if err != nil {
		slog.Error("failed to load profile for avatar",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	profile, failure := outcome.Unwrap()
	if failure != nil || !profile.HasAvatar() {
		http.NotFound(w, r)
		return
	}

	img, err := h.avatars.Fetch(r.Context(), *profile.AvatarURL)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, security.ErrNotImage) || errors.Is(err, security.ErrImageTooLarge) {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "failed to fetch avatar",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(img.Data)
}
