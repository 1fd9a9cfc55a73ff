package handler

import (
	"net/http"

	"github.com/hitoshi/postboard/internal/middleware"
)

// HealthResponse はヘルスチェックのレスポンスボディ。
type HealthResponse struct {
	Status string `json:"status"`
}

// Health はプロセスの生存確認に応答する。バックエンドやIdPへの疎通は確認しない。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}
