package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestCollector_ObserveReply(t *testing.T) {
	c := NewCollector("intake")

	c.ObserveReply("fallback", "high", true)
	c.ObserveReply("fallback", "high", true)
	c.ObserveReply("model", "low", false)

	body := scrape(t, c)
	assert.Contains(t, body, `intake_triage_replies_total{band="high",source="fallback"} 2`)
	assert.Contains(t, body, `intake_triage_replies_total{band="low",source="model"} 1`)
	assert.Contains(t, body, "intake_triage_safety_escalations_total 2")
}

func TestCollector_ObserveRequest(t *testing.T) {
	c := NewCollector("intake")
	c.ObserveRequest(http.MethodGet, "/healthz", http.StatusOK, 3*time.Millisecond)

	assert.Contains(t, scrape(t, c), `intake_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}
