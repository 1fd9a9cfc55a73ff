package middleware

import (
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"strings"
)

// ErrorResponseBody はJSONクライアント向けのエラーレスポンス。
// フォーム送信の失敗結果と同じ {error} 形式を使う。
type ErrorResponseBody struct {
	Error string `json:"error"`
}

// WantsJSON はリクエストがJSONレスポンスを要求しているかを判定する。
func WantsJSON(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == "application/json" {
			return true
		}
	}
	return false
}

// WriteJSON は値をJSONとして書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// WriteErrorResponse は {error} 形式のエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponseBody{Error: message})
}

// WriteInternalServerError は内部サーバーエラーのレスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, "内部エラーが発生しました。しばらく待ってから再度お試しください。")
}
