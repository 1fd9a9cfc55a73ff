package model

import "time"

// Post はバックエンドAPIが所有する投稿を表す。
// このレイヤーからは読み取り専用。
type Post struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	AuthorID   string    `json:"authorId"`
	IsPublic   bool      `json:"isPublic"`
	AuthorName *string   `json:"authorName"`
}

// PostQuery は投稿一覧取得時の可視性フィルタ。
// 匿名閲覧ではPublicOnlyを、ログイン中はCurrentUserIDを指定する。
type PostQuery struct {
	PublicOnly    bool
	CurrentUserID string
}
