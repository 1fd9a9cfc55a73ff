// Package backend はプロフィールと投稿を所有するバックエンドAPIのクライアントを提供する。
// すべてのレスポンスは model.Classify で Success / Failure に分類される。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/postboard/internal/metrics"
	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/model"
)

// maxResponseSize はバックエンドのレスポンスボディの上限。
const maxResponseSize = 5 * 1024 * 1024

var tracer = otel.Tracer("github.com/hitoshi/postboard/internal/backend")

// Client はバックエンドAPIのクライアント。
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, collector metrics.MetricsCollector) *Client {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		logger:     logger,
		metrics:    collector,
	}
}

// GetUser はユーザーのプロフィールを取得する。
// GET /users/{userId}
func (c *Client) GetUser(ctx context.Context, accessToken, userID string) (model.Outcome[model.Profile], error) {
	return call[model.Profile](ctx, c, request{
		endpoint:    "get_user",
		method:      http.MethodGet,
		path:        "/users/" + url.PathEscape(userID),
		accessToken: accessToken,
	})
}

// UpdateUser はプロフィールの name と bio を更新する。
// PATCH /users/{userId}
func (c *Client) UpdateUser(ctx context.Context, accessToken, userID string, update model.ProfileUpdate) (model.Outcome[model.Profile], error) {
	return call[model.Profile](ctx, c, request{
		endpoint:    "update_user",
		method:      http.MethodPatch,
		path:        "/users/" + url.PathEscape(userID),
		accessToken: accessToken,
		body:        update,
	})
}

// ListUserPosts はユーザーの投稿一覧を取得する。
// GET /users/{userId}/posts?publicOnly=true または ?currentUserId={id}
func (c *Client) ListUserPosts(ctx context.Context, accessToken, userID string, q model.PostQuery) (model.Outcome[[]model.Post], error) {
	params := url.Values{}
	if q.PublicOnly {
		params.Set("publicOnly", "true")
	}
	if q.CurrentUserID != "" {
		params.Set("currentUserId", q.CurrentUserID)
	}

	path := "/users/" + url.PathEscape(userID) + "/posts"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	return call[[]model.Post](ctx, c, request{
		endpoint:    "list_user_posts",
		method:      http.MethodGet,
		path:        path,
		accessToken: accessToken,
	})
}

type request struct {
	endpoint    string
	method      string
	path        string
	accessToken string
	body        any
}

// call はリクエストを1回だけ実行し、レスポンスを分類する。
// ネットワーク障害と不正なレスポンスはerrorとして返す。リトライは行わない。
func call[T any](ctx context.Context, c *Client, r request) (out model.Outcome[T], err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "backend."+r.endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", r.method),
			attribute.String("backend.endpoint", r.endpoint),
		),
	)

	defer func() {
		result := metrics.ResultSuccess
		switch {
		case err != nil:
			result = metrics.ResultTransportError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.logger.Error("backend call failed",
				slog.String("endpoint", r.endpoint),
				slog.String("error", err.Error()),
			)
		case out.IsFailure():
			result = metrics.ResultFailure
		}
		c.metrics.RecordBackendCall(r.endpoint, result, time.Since(start))
		span.End()
	}()

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return out, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.accessToken)
	}
	if id := middleware.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(middleware.RequestIDHeader, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("%s request failed: %w", r.endpoint, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return out, fmt.Errorf("failed to read %s response: %w", r.endpoint, err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
	if ok && len(bytes.TrimSpace(raw)) == 0 {
		// 本文なしの成功は更新系のみ許容する。読み取り系では空の値を描画しない。
		if resp.StatusCode == http.StatusNoContent || r.method == http.MethodPatch {
			var zero T
			return model.Success(zero), nil
		}
		return out, fmt.Errorf("%s returned empty body with status %d", r.endpoint, resp.StatusCode)
	}

	out, err = model.Classify[T](raw)
	if err != nil {
		if f := failureForStatus(resp.StatusCode); f != nil {
			return model.Fail[T](f), nil
		}
		return out, fmt.Errorf("%s returned status %d: %w", r.endpoint, resp.StatusCode, err)
	}

	if !ok && !out.IsFailure() {
		if f := failureForStatus(resp.StatusCode); f != nil {
			return model.Fail[T](f), nil
		}
		return model.Outcome[T]{}, fmt.Errorf("%s returned unexpected status %d", r.endpoint, resp.StatusCode)
	}

	// {"error": "..."} 形式はcodeを持たないため、ステータスから補う
	if !ok {
		if _, f := out.Unwrap(); f != nil && f.Code == "" {
			if byStatus := failureForStatus(resp.StatusCode); byStatus != nil {
				f.Code = byStatus.Code
			}
		}
	}

	return out, nil
}

// failureForStatus はエラーペイロードを伴わない4xxレスポンスをFailureに変換する。
// 5xxは変換せず、呼び出し元で転送エラーとして扱う。
func failureForStatus(status int) *model.Failure {
	switch status {
	case http.StatusNotFound:
		return &model.Failure{Code: model.FailureCodeNotFound, Message: "リソースが見つかりません。"}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &model.Failure{Code: model.FailureCodeValidation, Message: "入力内容に誤りがあります。"}
	case http.StatusUnauthorized:
		return &model.Failure{Code: model.FailureCodeUnauthorized, Message: "ログインが必要です。"}
	case http.StatusForbidden:
		return &model.Failure{Code: model.FailureCodeForbidden, Message: "この操作は許可されていません。"}
	default:
		return nil
	}
}
