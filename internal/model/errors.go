package model

import (
	"errors"
	"fmt"
	"net/http"
)

// 認可エラー。どちらもバックエンド呼び出し前に判定され、汎用エラーページとして表示される。
var (
	// ErrAuthenticationAbsent は認証が必要なルートにIdentityが無いことを示す。
	ErrAuthenticationAbsent = errors.New("authentication required")
	// ErrAuthorizationMismatch はIdentityがリソースの所有者と一致しないことを示す。
	ErrAuthorizationMismatch = errors.New("identity does not own the requested resource")
)

// PageError はエラーページとして表示するページレベルの失敗を表す。
// 読み取りルートでバックエンドが拒否した場合などに使用する。
type PageError struct {
	Status  int    // HTTPステータスコード
	Title   string // ページ見出し
	Message string // ユーザー向けメッセージ
	Err     error  // 原因（ログ用）
}

// Error はerrorインターフェースを実装する。
func (e *PageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *PageError) Unwrap() error {
	return e.Err
}

// NewBackendRejectionError はバックエンドのFailureをページレベルの失敗に変換する。
func NewBackendRejectionError(f *Failure) *PageError {
	return &PageError{
		Status:  StatusForFailure(f),
		Title:   "エラーが発生しました",
		Message: f.Message,
		Err:     f,
	}
}

// NewUnauthenticatedError は未認証エラーページを生成する。
func NewUnauthenticatedError() *PageError {
	return &PageError{
		Status:  http.StatusUnauthorized,
		Title:   "ログインが必要です",
		Message: "このページを表示するにはログインしてください。",
		Err:     ErrAuthenticationAbsent,
	}
}

// NewForbiddenError は権限不足エラーページを生成する。
func NewForbiddenError() *PageError {
	return &PageError{
		Status:  http.StatusForbidden,
		Title:   "アクセスできません",
		Message: "このページを表示する権限がありません。",
		Err:     ErrAuthorizationMismatch,
	}
}

// NewInternalError は詳細を隠した内部エラーページを生成する。
func NewInternalError(err error) *PageError {
	return &PageError{
		Status:  http.StatusInternalServerError,
		Title:   "エラーが発生しました",
		Message: "内部エラーが発生しました。しばらく待ってから再度お試しください。",
		Err:     err,
	}
}

// StatusForFailure はFailureのコードからHTTPステータスコードにマッピングする。
func StatusForFailure(f *Failure) int {
	switch f.Code {
	case FailureCodeNotFound:
		return http.StatusNotFound
	case FailureCodeValidation:
		return http.StatusUnprocessableEntity
	case FailureCodeUnauthorized:
		return http.StatusUnauthorized
	case FailureCodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}
