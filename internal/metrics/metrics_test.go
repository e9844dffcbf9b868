package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric はラベルが一致するメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("メトリクスの収集に失敗: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("メトリクス %s%v が見つからない", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

func TestRecordProxy(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordProxy("auth", 200, 10*time.Millisecond)
	c.RecordProxy("auth", 200, 20*time.Millisecond)
	c.RecordProxy("auth", 404, 5*time.Millisecond)

	ok := findMetric(t, reg, "bookshop_gateway_requests_total", map[string]string{"service": "auth", "code": "200"})
	if got := ok.GetCounter().GetValue(); got != 2 {
		t.Errorf("requests_total{auth,200} = %v, want 2", got)
	}
	notFound := findMetric(t, reg, "bookshop_gateway_requests_total", map[string]string{"service": "auth", "code": "404"})
	if got := notFound.GetCounter().GetValue(); got != 1 {
		t.Errorf("requests_total{auth,404} = %v, want 1", got)
	}
	latency := findMetric(t, reg, "bookshop_gateway_request_duration_seconds", map[string]string{"service": "auth"})
	if got := latency.GetHistogram().GetSampleCount(); got != 3 {
		t.Errorf("レイテンシのサンプル数 = %d, want 3", got)
	}
}

func TestRecordProxyFailure(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordProxyFailure("cart", ReasonConnection)

	m := findMetric(t, reg, "bookshop_gateway_failures_total", map[string]string{"service": "cart", "reason": ReasonConnection})
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("failures_total = %v, want 1", got)
	}
}

func TestRecordNotify(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordNotifySent("VerificationRequested")
	c.RecordNotifyFailed("VerificationRequested")
	c.RecordNotifyDropped("PasswordResetRequested")
	c.RecordNotifyDropped("PasswordResetRequested")

	tests := []struct {
		name  string
		label string
		want  float64
	}{
		{name: "bookshop_notify_sent_total", label: "VerificationRequested", want: 1},
		{name: "bookshop_notify_failed_total", label: "VerificationRequested", want: 1},
		{name: "bookshop_notify_dropped_total", label: "PasswordResetRequested", want: 2},
	}
	for _, tt := range tests {
		m := findMetric(t, reg, tt.name, map[string]string{"event_type": tt.label})
		if got := m.GetCounter().GetValue(); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordProxy("book", 200, time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `bookshop_gateway_requests_total{code="200",service="book"} 1`) {
		t.Errorf("レスポンスに転送数が含まれていない:\n%s", body)
	}
}
