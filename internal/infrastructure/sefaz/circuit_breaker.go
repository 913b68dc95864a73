package sefaz

import (
	"errors"
	"sync"
	"time"
)

// ── Circuit Breaker ───────────────────────────────────────────────────────────
// Cerrado → Abierto → Semiabierto. Mientras está abierto las llamadas a la
// autoridad fallan de inmediato; tras OpenTimeout se permite una sonda.

// CBState estado del circuit breaker.
type CBState int

const (
	CBClosed   CBState = iota // operación normal
	CBOpen                    // falla rápido
	CBHalfOpen                // una sonda a la vez
)

// String nombre legible (health, logs y métricas).
func (s CBState) String() string {
	switch s {
	case CBClosed:
		return "closed"
	case CBOpen:
		return "open"
	case CBHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen lo devuelve Execute cuando el circuito está abierto.
var ErrCircuitOpen = errors.New("sefaz: circuit breaker abierto")

// CircuitBreakerConfig parámetros ajustables.
type CircuitBreakerConfig struct {
	FailureThreshold int           // fallas consecutivas para abrir (default: 5)
	SuccessThreshold int           // éxitos consecutivos en semiabierto para cerrar (default: 2)
	OpenTimeout      time.Duration // tiempo abierto antes de sondear (default: 60s)
}

// DefaultCBConfig valores por defecto para la autoridad.
func DefaultCBConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      60 * time.Second,
	}
}

// CircuitBreaker implementación segura para uso concurrente.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CBState
	failureCount     int
	successCount     int
	probing          bool
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	now              func() time.Time
	onChange         func(CBState)
}

// NewCircuitBreaker crea el breaker en estado cerrado.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 60 * time.Second
	}
	return &CircuitBreaker{
		state:            CBClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		openTimeout:      cfg.OpenTimeout,
		now:              time.Now,
	}
}

// OnStateChange registra un observador de cambios de estado (se invoca bajo lock).
func (cb *CircuitBreaker) OnStateChange(fn func(CBState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onChange = fn
}

// State devuelve el estado actual.
func (cb *CircuitBreaker) State() CBState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	return cb.state
}

// refresh abierto → semiabierto cuando venció el plazo (bajo lock).
func (cb *CircuitBreaker) refresh() {
	if cb.state == CBOpen && cb.now().Sub(cb.lastFailureTime) >= cb.openTimeout {
		cb.setState(CBHalfOpen)
		cb.successCount = 0
		cb.probing = false
	}
}

// Execute ejecuta fn a través del breaker. Con el circuito abierto (o con una
// sonda ya en curso en semiabierto) devuelve ErrCircuitOpen sin llamar a fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	cb.refresh()
	switch {
	case cb.state == CBOpen:
		cb.mu.Unlock()
		return ErrCircuitOpen
	case cb.state == CBHalfOpen && cb.probing:
		cb.mu.Unlock()
		return ErrCircuitOpen
	case cb.state == CBHalfOpen:
		cb.probing = true
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
	if err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

// onFailure registra una falla (bajo lock).
func (cb *CircuitBreaker) onFailure() {
	cb.failureCount++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CBClosed:
		if cb.failureCount >= cb.failureThreshold {
			cb.setState(CBOpen)
			cb.successCount = 0
		}
	case CBHalfOpen:
		// La sonda falló: vuelve a abrirse
		cb.setState(CBOpen)
		cb.failureCount = 0
	}
}

// onSuccess registra un éxito (bajo lock).
func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case CBClosed:
		cb.failureCount = 0
	case CBHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.setState(CBClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	}
}

func (cb *CircuitBreaker) setState(s CBState) {
	if cb.state == s {
		return
	}
	cb.state = s
	if cb.onChange != nil {
		cb.onChange(s)
	}
}
