// Package metrics expone las métricas Prometheus del motor de emisión:
// llamadas a la autoridad, veredictos, reintentos, circuit breaker,
// transiciones de estado y conflictos del libro de eventos.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

// Metrics contiene los colectores registrados.
type Metrics struct {
	registry prometheus.Gatherer

	// Llamadas a la autoridad por operación y veredicto final
	AuthorityCalls *prometheus.CounterVec
	// Duración total (con reintentos) por operación
	AuthorityLatency *prometheus.HistogramVec
	// Reintentos por operación
	AuthorityRetries *prometheus.CounterVec
	// Estado del circuit breaker: 0 cerrado, 1 abierto, 2 semiabierto
	CircuitState prometheus.Gauge

	DocumentTransitions *prometheus.CounterVec
	LedgerConflicts     prometheus.Counter
}

// New registra las métricas en reg. Con reg nil usa un registro propio.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		AuthorityCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscal_authority_calls_total",
			Help: "Llamadas a la autoridad por operación y veredicto",
		}, []string{"operation", "verdict"}),

		AuthorityLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fiscal_authority_call_duration_seconds",
			Help:    "Duración de las llamadas a la autoridad, incluidos los reintentos",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),

		AuthorityRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscal_authority_retries_total",
			Help: "Reintentos de llamadas a la autoridad",
		}, []string{"operation"}),

		CircuitState: f.NewGauge(prometheus.GaugeOpts{
			Name: "fiscal_authority_circuit_state",
			Help: "Estado del circuit breaker (0 cerrado, 1 abierto, 2 semiabierto)",
		}),

		DocumentTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscal_document_transitions_total",
			Help: "Transiciones del ciclo de vida de los documentos",
		}, []string{"from", "to"}),

		LedgerConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "fiscal_ledger_conflicts_total",
			Help: "Conflictos de concurrencia al anexar eventos",
		}),
	}
}

// Handler devuelve el handler HTTP de exposición del registro.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAuthorityCall registra una llamada terminada a la autoridad.
func (m *Metrics) ObserveAuthorityCall(operation, verdict string, d time.Duration) {
	if m == nil {
		return
	}
	m.AuthorityCalls.WithLabelValues(operation, verdict).Inc()
	m.AuthorityLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveAuthorityRetry registra un reintento.
func (m *Metrics) ObserveAuthorityRetry(operation string) {
	if m != nil {
		m.AuthorityRetries.WithLabelValues(operation).Inc()
	}
}

// ObserveCircuitState registra el estado actual del circuit breaker.
func (m *Metrics) ObserveCircuitState(state int) {
	if m != nil {
		m.CircuitState.Set(float64(state))
	}
}

// ObserveTransition implementa billing.IssuanceMetrics.
func (m *Metrics) ObserveTransition(from, to entity.DocumentStatus) {
	if m != nil {
		m.DocumentTransitions.WithLabelValues(string(from), string(to)).Inc()
	}
}

// ObserveLedgerConflict implementa billing.IssuanceMetrics.
func (m *Metrics) ObserveLedgerConflict() {
	if m != nil {
		m.LedgerConflicts.Inc()
	}
}
