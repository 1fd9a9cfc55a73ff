// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/view"
)

// appHandler はエラーを返すページハンドラー。
// 返されたエラーはhandlePageErrorでエラーページに変換される。
type appHandler func(w http.ResponseWriter, r *http.Request) error

// page はappHandlerをエラー境界で包んだhttp.HandlerFuncを返す。
func page(renderer *view.Renderer, fn appHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			handlePageError(renderer, w, r, err)
		}
	}
}

// handlePageError はハンドラーから返されたエラーを適切なエラーページに変換する。
// 認可エラーは汎用の失敗ページ、バックエンドの拒否はそのメッセージ、
// それ以外は詳細を隠した500ページとして表示する。
func handlePageError(renderer *view.Renderer, w http.ResponseWriter, r *http.Request, err error) {
	pe := toPageError(err)

	attrs := []any{
		slog.Int("status", pe.Status),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.String("error", err.Error()),
	}
	if pe.Status >= 500 {
		slog.Error("page request failed", attrs...)
	} else {
		slog.Warn("page request rejected", attrs...)
	}

	if middleware.WantsJSON(r) {
		middleware.WriteErrorResponse(w, pe.Status, pe.Message)
		return
	}
	renderer.RenderError(w, r, pe)
}

// toPageError はエラーをPageErrorにマッピングする。
func toPageError(err error) *model.PageError {
	var pe *model.PageError
	if errors.As(err, &pe) {
		return pe
	}

	switch {
	case errors.Is(err, model.ErrAuthenticationAbsent):
		return model.NewUnauthenticatedError()
	case errors.Is(err, model.ErrAuthorizationMismatch):
		return model.NewForbiddenError()
	}

	var f *model.Failure
	if errors.As(err, &f) {
		return model.NewBackendRejectionError(f)
	}

	return model.NewInternalError(err)
}
