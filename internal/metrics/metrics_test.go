package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{502, "5xx"},
	}
	for _, tt := range tests {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestMiddleware_CountsRequestsByBucket(t *testing.T) {
	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	labels2xx := map[string]string{"method": "GET", "path": "/ping", "status": "2xx"}
	labels5xx := map[string]string{"method": "GET", "path": "/boom", "status": "5xx"}
	before2xx := counterValue(t, "paymesh_http_requests_total", labels2xx)
	before5xx := counterValue(t, "paymesh_http_requests_total", labels5xx)

	for _, path := range []string{"/ping", "/ping", "/boom"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := counterValue(t, "paymesh_http_requests_total", labels2xx) - before2xx; got != 2 {
		t.Errorf("expected 2 new 2xx requests, got %v", got)
	}
	if got := counterValue(t, "paymesh_http_requests_total", labels5xx) - before5xx; got != 1 {
		t.Errorf("expected 1 new 5xx request, got %v", got)
	}
}

func TestHandler_ExposesRegisteredMetrics(t *testing.T) {
	TransactionsTotal.WithLabelValues("settled").Inc()

	r := gin.New()
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("metrics endpoint: %d", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{
		"paymesh_transactions_total",
		"paymesh_pending_queue_depth",
		"paymesh_audit_backlog",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
