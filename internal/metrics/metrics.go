// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// バックエンド呼び出し結果のラベル値。
const (
	ResultSuccess        = "success"
	ResultFailure        = "failure"
	ResultTransportError = "transport_error"
)

// セッション解決結果のラベル値。
const (
	SessionAnonymous     = "anonymous"
	SessionAuthenticated = "authenticated"
	SessionRefreshed     = "refreshed"
	SessionExpired       = "expired"
	SessionProviderError = "provider_error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// APIクライアントやミドルウェアから利用する。
type MetricsCollector interface {
	RecordBackendCall(endpoint, result string, duration time.Duration)
	RecordIdentityCall(operation, result string)
	RecordSessionResolution(result string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	backendCalls   *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	identityCalls  *prometheus.CounterVec
	sessions       *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postboard_backend_calls_total",
			Help: "バックエンドAPI呼び出しの結果別合計数",
		}, []string{"endpoint", "result"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postboard_backend_latency_seconds",
			Help:    "バックエンドAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		identityCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postboard_identity_calls_total",
			Help: "IdP呼び出しの結果別合計数",
		}, []string{"operation", "result"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postboard_session_resolutions_total",
			Help: "セッション解決の結果別合計数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postboard_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.backendCalls,
		c.backendLatency,
		c.identityCalls,
		c.sessions,
		c.httpStatus,
	)

	return c
}

// RecordBackendCall はバックエンドAPI呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordBackendCall(endpoint, result string, duration time.Duration) {
	c.backendCalls.WithLabelValues(endpoint, result).Inc()
	c.backendLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordIdentityCall はIdP呼び出しの結果を記録する。
func (c *Collector) RecordIdentityCall(operation, result string) {
	c.identityCalls.WithLabelValues(operation, result).Inc()
}

// RecordSessionResolution はセッション解決の結果を記録する。
func (c *Collector) RecordSessionResolution(result string) {
	c.sessions.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordBackendCall(string, string, time.Duration) {}
func (Nop) RecordIdentityCall(string, string)               {}
func (Nop) RecordSessionResolution(string)                  {}
func (Nop) RecordHTTPStatus(int)                            {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// ルーターの /metrics にマウントして使用する。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
