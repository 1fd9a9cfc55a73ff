package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric はレジストリから指定名・ラベルのメトリクスを探すヘルパー。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return m
			}
		}
	}
	return nil
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordBackendCall_CountsByEndpointAndResult はエンドポイントと結果ごとに集計されることを検証する。
func TestRecordBackendCall_CountsByEndpointAndResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBackendCall("get_user", ResultSuccess, 20*time.Millisecond)
	c.RecordBackendCall("get_user", ResultSuccess, 30*time.Millisecond)
	c.RecordBackendCall("get_user", ResultFailure, 10*time.Millisecond)

	m := findMetric(t, reg, "postboard_backend_calls_total", map[string]string{"endpoint": "get_user", "result": ResultSuccess})
	if m == nil {
		t.Fatal("postboard_backend_calls_total{get_user,success} not found")
	}
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("success count = %v, want 2", v)
	}

	m = findMetric(t, reg, "postboard_backend_calls_total", map[string]string{"endpoint": "get_user", "result": ResultFailure})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Error("failure count should be 1")
	}

	h := findMetric(t, reg, "postboard_backend_latency_seconds", map[string]string{"endpoint": "get_user"})
	if h == nil {
		t.Fatal("postboard_backend_latency_seconds not found")
	}
	if n := h.GetHistogram().GetSampleCount(); n != 3 {
		t.Errorf("latency sample count = %d, want 3", n)
	}
}

// TestRecordSessionResolution_IncrementsCounter はセッション解決カウンタが増加することを検証する。
func TestRecordSessionResolution_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionResolution(SessionAnonymous)
	c.RecordSessionResolution(SessionRefreshed)
	c.RecordSessionResolution(SessionRefreshed)

	m := findMetric(t, reg, "postboard_session_resolutions_total", map[string]string{"result": SessionRefreshed})
	if m == nil || m.GetCounter().GetValue() != 2 {
		t.Error("refreshed count should be 2")
	}
}

// TestRecordHTTPStatus_LabelsByCode はステータスコード別に集計されることを検証する。
func TestRecordHTTPStatus_LabelsByCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(303)
	c.RecordHTTPStatus(200)

	m := findMetric(t, reg, "postboard_http_status_total", map[string]string{"status_code": "200"})
	if m == nil || m.GetCounter().GetValue() != 2 {
		t.Error("status 200 count should be 2")
	}
	m = findMetric(t, reg, "postboard_http_status_total", map[string]string{"status_code": "303"})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Error("status 303 count should be 1")
	}
}

// TestRecordIdentityCall_IncrementsCounter はIdP呼び出しカウンタが増加することを検証する。
func TestRecordIdentityCall_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordIdentityCall("get_user", ResultTransportError)

	m := findMetric(t, reg, "postboard_identity_calls_total", map[string]string{"operation": "get_user", "result": ResultTransportError})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Error("identity call count should be 1")
	}
}
