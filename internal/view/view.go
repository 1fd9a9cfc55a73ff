// Package view はサーバー描画ページのテンプレートと描画処理を提供する。
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/security"
)

//go:embed templates/*.html
var templatesFS embed.FS

// ページテンプレート名。
const (
	PageUserDetail      = "user_detail"
	PageProfileEdit     = "profile_edit"
	PageSignup          = "signup"
	PageCompleteProfile = "complete_profile"
	PageError           = "error"
)

// excerptLength は投稿一覧カードに表示する抜粋の最大文字数。
const excerptLength = 140

var jst = time.FixedZone("Asia/Tokyo", 9*60*60)

// UserDetail はユーザー詳細ページの表示内容。
type UserDetail struct {
	Profile model.Profile
	Posts   []model.Post
	IsOwner bool
}

// ProfileEdit はプロフィール編集フォームの表示内容。
// NameとBioは再表示時に直前の送信値を保持する。
type ProfileEdit struct {
	UserID string
	Name   string
	Bio    string
	Error  string
}

// Signup はサインアップページの表示内容。
type Signup struct {
	Provider string
	Next     string
	Error    string
}

// CompleteProfile はプロフィール未作成ページの表示内容。
type CompleteProfile struct {
	Email string
}

// ErrorPage はエラーページの表示内容。
type ErrorPage struct {
	Status  int
	Title   string
	Message string
}

// layoutData はレイアウトテンプレートに渡す値。
type layoutData struct {
	Title     string
	Viewer    *model.Identity
	CSRFToken string
	Content   any
}

// Renderer は埋め込みテンプレートからページを描画する。
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer はテンプレートを解析してRendererを生成する。
func NewRenderer(sanitizer *security.ContentSanitizer) (*Renderer, error) {
	funcs := template.FuncMap{
		"formatDate": formatDate,
		"sanitize": func(s string) template.HTML {
			return template.HTML(sanitizer.Sanitize(s))
		},
		"excerpt": func(s string) string {
			return sanitizer.Excerpt(s, excerptLength)
		},
	}

	files, err := fs.Glob(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	pages := make(map[string]*template.Template)
	for _, file := range files {
		name := strings.TrimSuffix(path.Base(file), ".html")
		if name == "layout" {
			continue
		}
		t, err := template.New(name).Funcs(funcs).ParseFS(templatesFS, "templates/layout.html", file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = t
	}

	return &Renderer{pages: pages}, nil
}

// Render はページをバッファに描画してからレスポンスに書き込む。
// 描画に失敗した場合はレスポンスに何も書かずにエラーを返す。
func (v *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, page, title string, content any) error {
	t, ok := v.pages[page]
	if !ok {
		return fmt.Errorf("unknown page template: %s", page)
	}

	data := layoutData{
		Title:     title,
		Viewer:    middleware.SessionFromContext(r.Context()).Identity,
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Content:   content,
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("failed to render %s: %w", page, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Debug("failed to write response", slog.String("error", err.Error()))
	}
	return nil
}

// RenderError はエラーページを描画する。テンプレートの描画にも失敗した場合はプレーンテキストで返す。
func (v *Renderer) RenderError(w http.ResponseWriter, r *http.Request, pe *model.PageError) {
	content := &ErrorPage{Status: pe.Status, Title: pe.Title, Message: pe.Message}
	if err := v.Render(w, r, pe.Status, PageError, pe.Title, content); err != nil {
		slog.Error("failed to render error page", slog.String("error", err.Error()))
		http.Error(w, pe.Message, pe.Status)
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(jst).Format("2006年1月2日")
}
