// Package model はドメインモデルを定義する。
package model

import "time"

// Profile はバックエンドAPIが所有するユーザープロフィールを表す。
// Webレイヤーは読み取りと name/bio の編集送信のみを行う。
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Bio       *string   `json:"bio"`
	AvatarURL *string   `json:"avatarUrl"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BioText はbioが未設定の場合に空文字列を返す。
func (p Profile) BioText() string {
	if p.Bio == nil {
		return ""
	}
	return *p.Bio
}

// HasAvatar はアバターURLが設定されているかを返す。
func (p Profile) HasAvatar() bool {
	return p.AvatarURL != nil && *p.AvatarURL != ""
}

// ProfileUpdate はプロフィール編集フォームからバックエンドに送信する内容。
type ProfileUpdate struct {
	Name string `json:"name"`
	Bio  string `json:"bio"`
}

// Identity は外部IdPのセッションから解決された認証済みプリンシパルを表す。
// リクエストごとに1回だけ解決され、永続化も変更もされない。
type Identity struct {
	ID    string
	Email string
}
