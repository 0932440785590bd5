package metrics

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.Registry())
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.llmRequestsTotal)
	assert.NotNil(t, collector.nodeExecutionsTotal)
	assert.NotNil(t, collector.sessionOpsTotal)
}

func TestNewCollector_Twice(t *testing.T) {
	// 独立 Registry，重复创建不会冲突
	assert.NotPanics(t, func() {
		NewCollector("cicoach", nil)
		NewCollector("cicoach", nil)
	})
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	collector.RecordHTTPRequest("GET", "/health", 200, 100*time.Millisecond, 0, 64)
	collector.RecordHTTPRequest("GET", "/health", 204, 50*time.Millisecond, 0, 0)
	collector.RecordHTTPRequest("POST", "/api/v1/sessions", 503, time.Second, 10, 20)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/health", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/sessions", "5xx")))
}

func TestCollector_RecordLLMRequest(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	collector.RecordLLMRequest("openai", "gpt-4o-mini", "success", 500*time.Millisecond, 100, 50)
	collector.RecordLLMRequest("openai", "gpt-4o-mini", "error", time.Second, 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.llmRequestsTotal.WithLabelValues("openai", "gpt-4o-mini", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.llmRequestsTotal.WithLabelValues("openai", "gpt-4o-mini", "error")))
	assert.Equal(t, 100.0, testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("openai", "gpt-4o-mini", "prompt")))
	assert.Equal(t, 50.0, testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("openai", "gpt-4o-mini", "completion")))
}

func TestCollector_CoachGraph(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	collector.RecordNodeExecution("supervisor", "success", 10*time.Millisecond)
	collector.RecordNodeExecution("sipoc", "error", 20*time.Millisecond)
	collector.RecordRouteDecision("sipoc")
	collector.RecordRouteDecision("sipoc")
	collector.RecordRouteDecision("idle")
	collector.RecordTurn("success")
	collector.SetActiveSessions(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.nodeExecutionsTotal.WithLabelValues("sipoc", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.routeDecisions.WithLabelValues("sipoc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.routeDecisions.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.turnsTotal.WithLabelValues("success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.activeSessions))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.nodeExecutionDuration))
}

func TestCollector_SessionAndDB(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	collector.RecordSessionOperation("redis", "load", "not_found", time.Millisecond)
	collector.RecordDBStats("sqlite", sql.DBStats{OpenConnections: 4, Idle: 1})

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.sessionOpsTotal.WithLabelValues("redis", "load", "not_found")))
	assert.Equal(t, 4.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("sqlite")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("sqlite")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordLLMRequest("openai", "gpt-4o", "success", 500*time.Millisecond, 100, 50)
			collector.RecordRouteDecision("problem")
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/test", "2xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.routeDecisions.WithLabelValues("problem")))
}

func TestCollector_Handler(t *testing.T) {
	collector := NewCollector("cicoach", zap.NewNop())
	collector.RecordRouteDecision("fishbone")

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `cicoach_coach_route_decisions_total{route="fishbone"} 1`))
	assert.Contains(t, body, "go_goroutines")
}

func TestStatusCode(t *testing.T) {
	tests := map[int]string{200: "2xx", 301: "3xx", 404: "4xx", 500: "5xx", 100: "unknown"}
	for code, want := range tests {
		assert.Equal(t, want, statusCode(code), code)
	}
}
