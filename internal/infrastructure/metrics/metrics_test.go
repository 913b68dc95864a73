package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

func TestMetrics_RegistraObservaciones(t *testing.T) {
	m := New(nil)
	m.ObserveAuthorityCall("submit", "authorized", 120*time.Millisecond)
	m.ObserveAuthorityCall("submit", "authorized", 80*time.Millisecond)
	m.ObserveAuthorityRetry("submit")
	m.ObserveCircuitState(1)
	m.ObserveTransition(entity.StatusDraft, entity.StatusSubmitted)
	m.ObserveLedgerConflict()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuthorityCalls.WithLabelValues("submit", "authorized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthorityRetries.WithLabelValues("submit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitState))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentTransitions.WithLabelValues("draft", "submitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerConflicts))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AuthorityLatency))
}

func TestMetrics_NilEsSeguro(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAuthorityCall("query", "not_found", time.Second)
		m.ObserveAuthorityRetry("query")
		m.ObserveCircuitState(2)
		m.ObserveTransition(entity.StatusSubmitted, entity.StatusAuthorized)
		m.ObserveLedgerConflict()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New(nil)
	m.ObserveLedgerConflict()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "fiscal_ledger_conflicts_total 1")
}
