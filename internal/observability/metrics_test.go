package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/meridian-compliance/meridian/internal/lifecycle"
)

func TestObserveDecisionCountsByOutcome(t *testing.T) {
	m := NewMetrics()
	m.ObserveDecision("risk-map", "validate", true)
	m.ObserveDecision("risk-map", "validate", true)
	m.ObserveDecision("risk-map", "validate", false)

	allowed := testutil.ToFloat64(m.decisionsTotal.WithLabelValues("risk-map", "validate", "allowed"))
	denied := testutil.ToFloat64(m.decisionsTotal.WithLabelValues("risk-map", "validate", "denied"))
	require.Equal(t, 2.0, allowed)
	require.Equal(t, 1.0, denied)
}

func TestRecordEventCountsTransitions(t *testing.T) {
	m := NewMetrics()
	m.RecordEvent(context.Background(), lifecycle.Event{Module: "scorecard", Action: "validate"})
	require.Equal(t, 1.0, testutil.ToFloat64(m.transitionsTotal.WithLabelValues("scorecard", "validate")))
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	m := NewMetrics()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("unknown", "418")))
}

func TestMetricsEndpointExposesRegistry(t *testing.T) {
	m := NewMetrics()
	m.ObserveDecision("corrective-plan", "create", true)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "meridian_permission_decisions_total"))
}

func TestNilMetricsIsInert(t *testing.T) {
	var m *Metrics
	m.ObserveDecision("x", "y", true)
	m.RecordEvent(context.Background(), lifecycle.Event{})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
