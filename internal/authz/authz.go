// Package authz はルートごとの認可判定を提供する。
// 判定は常にバックエンド呼び出しの前に行う。
package authz

import "github.com/hitoshi/postboard/internal/model"

// Policy はルートに適用する認可ポリシー。
type Policy int

const (
	// None は誰でもアクセスできる。
	None Policy = iota
	// PublicRead は匿名でも閲覧できるが、ログイン中は可視範囲が広がる。
	PublicRead
	// SelfOnly はログイン中のユーザー本人のリソースにのみアクセスできる。
	SelfOnly
)

func (p Policy) String() string {
	switch p {
	case PublicRead:
		return "public_read"
	case SelfOnly:
		return "self_only"
	default:
		return "none"
	}
}

// Authorize はidentityがsubjectIDのリソースにpolicyの下でアクセスできるかを判定する。
// SelfOnlyでidentityが無い場合はErrAuthenticationAbsent、
// 本人でない場合はErrAuthorizationMismatchを返す。
func Authorize(policy Policy, identity *model.Identity, subjectID string) error {
	if policy != SelfOnly {
		return nil
	}
	if identity == nil {
		return model.ErrAuthenticationAbsent
	}
	if identity.ID != subjectID {
		return model.ErrAuthorizationMismatch
	}
	return nil
}

// PostQueryFor はPublicRead下での投稿一覧の可視性フィルタを返す。
func PostQueryFor(identity *model.Identity) model.PostQuery {
	if identity == nil {
		return model.PostQuery{PublicOnly: true}
	}
	return model.PostQuery{CurrentUserID: identity.ID}
}

// IsOwner はidentityがsubjectIDの所有者かを返す。表示の切り替えにのみ使う。
func IsOwner(identity *model.Identity, subjectID string) bool {
	return identity != nil && identity.ID == subjectID
}
