package sefaz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/jhoicas/fiscal-api/internal/application/billing"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
	pkgfiscal "github.com/jhoicas/fiscal-api/pkg/fiscal"
)

const tracerName = "github.com/jhoicas/fiscal-api/internal/infrastructure/sefaz"

// AuthorityTransport habla con la autoridad. Un error indica falla de
// transporte (reintentable); una respuesta es siempre un veredicto.
type AuthorityTransport interface {
	Submit(ctx context.Context, accessKey string, payload []byte) (*fiscal.AuthorityResponse, error)
	QueryStatus(ctx context.Context, accessKey string) (*fiscal.AuthorityResponse, error)
	Cancel(ctx context.Context, req fiscal.CancelRequest) (*fiscal.AuthorityResponse, error)
	Correct(ctx context.Context, req fiscal.CorrectionRequest) (*fiscal.AuthorityResponse, error)
	VoidRange(ctx context.Context, req fiscal.VoidRangeRequest) (*fiscal.AuthorityResponse, error)
}

// LedgerReader lectura del libro de eventos para el reenvío idempotente.
type LedgerReader interface {
	FindByKind(ctx context.Context, documentID string, kind entity.EventKind) ([]entity.FiscalEvent, error)
}

// CallMetrics métricas de las llamadas; implementada por metrics.Metrics.
type CallMetrics interface {
	ObserveAuthorityCall(operation, verdict string, d time.Duration)
	ObserveAuthorityRetry(operation string)
	ObserveCircuitState(state int)
}

// ClientConfig política de reintentos del cliente.
type ClientConfig struct {
	Environment    string
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
}

// DefaultClientConfig 3 intentos, backoff 500ms..5s, 15s por intento.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Environment:    EnvTest,
		MaxAttempts:    3,
		BaseBackoff:    500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		AttemptTimeout: 15 * time.Second,
	}
}

// busyError la autoridad respondió "servicio paralizado" (108/109); se reintenta.
type busyError struct {
	Code   string
	Reason string
}

func (e *busyError) Error() string {
	return fmt.Sprintf("sefaz: servicio no disponible [%s]: %s", e.Code, e.Reason)
}

var errEmptyResponse = errors.New("sefaz: respuesta vacía del transporte")

// AuthorityClient cliente de la autoridad con reintentos, circuit breaker,
// deduplicación por clave y reenvío idempotente. Nunca devuelve error: el
// agotamiento se expresa con el veredicto service_unavailable.
type AuthorityClient struct {
	cfg       ClientConfig
	transport AuthorityTransport
	ledger    LedgerReader
	breaker   *CircuitBreaker
	metrics   CallMetrics
	log       zerolog.Logger
	tracer    trace.Tracer
	group     singleflight.Group
	now       func() time.Time
}

// NewAuthorityClient crea el cliente. ledger, breaker y metrics pueden ser nil.
func NewAuthorityClient(cfg ClientConfig, transport AuthorityTransport, ledger LedgerReader,
	breaker *CircuitBreaker, metrics CallMetrics, log zerolog.Logger) *AuthorityClient {
	def := DefaultClientConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if breaker != nil && metrics != nil {
		breaker.OnStateChange(func(s CBState) { metrics.ObserveCircuitState(int(s)) })
	}
	return &AuthorityClient{
		cfg:       cfg,
		transport: transport,
		ledger:    ledger,
		breaker:   breaker,
		metrics:   metrics,
		log:       log.With().Str("component", "authority_client").Str("environment", cfg.Environment).Logger(),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
}

// CircuitState estado del breaker para el health check ("closed" sin breaker).
func (c *AuthorityClient) CircuitState() string {
	if c.breaker == nil {
		return CBClosed.String()
	}
	return c.breaker.State().String()
}

// ── Operaciones ───────────────────────────────────────────────────────────────

// Submit envía el XML firmado. Si el libro ya tiene una autorización para el
// documento devuelve ese veredicto sin llamar a la autoridad. Los envíos
// concurrentes de la misma clave comparten una sola llamada. Un rechazo por
// duplicidad (204) se resuelve consultando el estado de la clave.
func (c *AuthorityClient) Submit(ctx context.Context, doc *entity.Document, payload []byte) *fiscal.AuthorityResponse {
	key := doc.AccessKey
	if resp := c.authorizationFromLedger(ctx, doc); resp != nil {
		return resp
	}
	return c.shared(ctx, "submit:"+key, key, func(fctx context.Context) *fiscal.AuthorityResponse {
		resp := c.call(fctx, OpSubmit, key, func(actx context.Context) (*fiscal.AuthorityResponse, error) {
			return c.transport.Submit(actx, key, payload)
		})
		if resp.Verdict == fiscal.VerdictRejected && resp.Code == pkgfiscal.StatusDuplicate {
			c.log.Info().Str("access_key", key).Msg("duplicidad informada por la autoridad; consultando estado")
			if q := c.QueryStatus(fctx, key); q.Verdict == fiscal.VerdictAuthorized {
				return q
			}
		}
		return resp
	})
}

// QueryStatus consulta el último estado conocido de la clave. Un rechazo que
// no es denegación corresponde a la consulta y no al documento: se informa
// como service_unavailable para que el documento siga pendiente.
func (c *AuthorityClient) QueryStatus(ctx context.Context, accessKey string) *fiscal.AuthorityResponse {
	resp := c.call(ctx, OpQuery, accessKey, func(actx context.Context) (*fiscal.AuthorityResponse, error) {
		return c.transport.QueryStatus(actx, accessKey)
	})
	if resp.Verdict != fiscal.VerdictRejected || pkgfiscal.DenialStatusCodes[resp.Code] {
		return resp
	}
	c.log.Warn().Str("access_key", accessKey).Str("code", resp.Code).Str("reason", resp.Reason).
		Msg("consulta rechazada por la autoridad; el documento sigue pendiente")
	pending := fiscal.Unavailable(accessKey, resp.Attempts, &fiscal.AuthorityRejection{Code: resp.Code, Reason: resp.Reason}, resp.ReceivedAt)
	pending.Code = resp.Code
	return pending
}

// Cancel solicita el evento de cancelación.
func (c *AuthorityClient) Cancel(ctx context.Context, req fiscal.CancelRequest) *fiscal.AuthorityResponse {
	return c.shared(ctx, "cancel:"+req.AccessKey, req.AccessKey, func(fctx context.Context) *fiscal.AuthorityResponse {
		return c.call(fctx, OpCancel, req.AccessKey, func(actx context.Context) (*fiscal.AuthorityResponse, error) {
			return c.transport.Cancel(actx, req)
		})
	})
}

// Correct registra una carta de corrección.
func (c *AuthorityClient) Correct(ctx context.Context, req fiscal.CorrectionRequest) *fiscal.AuthorityResponse {
	flight := fmt.Sprintf("correct:%s:%d", req.AccessKey, req.Sequence)
	return c.shared(ctx, flight, req.AccessKey, func(fctx context.Context) *fiscal.AuthorityResponse {
		return c.call(fctx, OpCorrect, req.AccessKey, func(actx context.Context) (*fiscal.AuthorityResponse, error) {
			return c.transport.Correct(actx, req)
		})
	})
}

// VoidRange solicita la inutilización de un rango de números.
func (c *AuthorityClient) VoidRange(ctx context.Context, req fiscal.VoidRangeRequest) *fiscal.AuthorityResponse {
	key := req.IdempotencyKey()
	return c.shared(ctx, key, key, func(fctx context.Context) *fiscal.AuthorityResponse {
		return c.call(fctx, OpVoidRange, key, func(actx context.Context) (*fiscal.AuthorityResponse, error) {
			return c.transport.VoidRange(actx, req)
		})
	})
}

// shared ejecuta fn una sola vez por flight. La llamada no depende del
// contexto de quien la inició: corre con un contexto propio acotado por
// flightTimeout, y cada llamador deja de esperar cuando vence el suyo.
func (c *AuthorityClient) shared(ctx context.Context, flight, key string, fn func(fctx context.Context) *fiscal.AuthorityResponse) *fiscal.AuthorityResponse {
	ch := c.group.DoChan(flight, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout())
		defer cancel()
		return fn(fctx), nil
	})
	select {
	case r := <-ch:
		return copyResponse(r.Val)
	case <-ctx.Done():
		select {
		case r := <-ch:
			return copyResponse(r.Val)
		default:
		}
		return fiscal.Unavailable(key, 0, ctx.Err(), c.now())
	}
}

// flightTimeout cota de una llamada completa: todos los intentos con su
// backoff, dos veces para cubrir la consulta que sigue a una duplicidad.
func (c *AuthorityClient) flightTimeout() time.Duration {
	return 2 * time.Duration(c.cfg.MaxAttempts) * (c.cfg.AttemptTimeout + c.cfg.MaxBackoff)
}

// ── Reintentos ────────────────────────────────────────────────────────────────

type attemptFunc func(ctx context.Context) (*fiscal.AuthorityResponse, error)

// call ejecuta fn con timeout por intento y backoff exponencial acotado. Los
// veredictos finales no se reintentan; fallas de transporte y 108/109 sí.
func (c *AuthorityClient) call(ctx context.Context, op, key string, fn attemptFunc) *fiscal.AuthorityResponse {
	ctx, span := c.tracer.Start(ctx, "sefaz."+op, trace.WithAttributes(
		attribute.String("fiscal.operation", op),
		attribute.String("fiscal.access_key", key),
		attribute.String("fiscal.environment", c.cfg.Environment),
	))
	defer span.End()

	start := c.now()
	attempts := 0
	var lastErr error
	for i := 0; i < c.cfg.MaxAttempts; i++ {
		if i > 0 {
			if c.metrics != nil {
				c.metrics.ObserveAuthorityRetry(op)
			}
			if err := sleepCtx(ctx, c.backoff(i)); err != nil {
				lastErr = joinCause(lastErr, err)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			lastErr = joinCause(lastErr, err)
			break
		}
		attempts++
		resp, err := c.attempt(ctx, fn)
		if err == nil {
			resp.Attempts = attempts
			if resp.AccessKey == "" {
				resp.AccessKey = key
			}
			if resp.ReceivedAt.IsZero() {
				resp.ReceivedAt = c.now()
			}
			c.finish(span, op, resp, start)
			return resp
		}
		lastErr = err
		c.log.Warn().Err(err).Str("operation", op).Str("access_key", key).Int("attempt", attempts).
			Msg("llamada a la autoridad fallida")
		if errors.Is(err, ErrCircuitOpen) {
			break
		}
	}

	resp := fiscal.Unavailable(key, attempts, lastErr, c.now())
	c.log.Error().Err(lastErr).Str("operation", op).Str("access_key", key).Int("attempts", attempts).
		Msg("autoridad no disponible; el documento queda pendiente de consulta")
	c.finish(span, op, resp, start)
	return resp
}

// attempt un intento a través del breaker, con su propio timeout.
func (c *AuthorityClient) attempt(ctx context.Context, fn attemptFunc) (*fiscal.AuthorityResponse, error) {
	var resp *fiscal.AuthorityResponse
	run := func() error {
		actx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()
		r, err := fn(actx)
		if err != nil {
			return err
		}
		if r == nil {
			return errEmptyResponse
		}
		if r.Verdict == fiscal.VerdictUnavailable {
			return &busyError{Code: r.Code, Reason: r.Reason}
		}
		resp = r
		return nil
	}
	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(run)
	} else {
		err = run()
	}
	return resp, err
}

// backoff BaseBackoff × 2^(n−1), acotado por MaxBackoff.
func (c *AuthorityClient) backoff(n int) time.Duration {
	d := c.cfg.BaseBackoff << uint(n-1)
	if d <= 0 || d > c.cfg.MaxBackoff {
		return c.cfg.MaxBackoff
	}
	return d
}

func (c *AuthorityClient) finish(span trace.Span, op string, resp *fiscal.AuthorityResponse, start time.Time) {
	span.SetAttributes(
		attribute.String("fiscal.verdict", string(resp.Verdict)),
		attribute.String("fiscal.code", resp.Code),
		attribute.Int("fiscal.attempts", resp.Attempts),
	)
	if resp.Verdict == fiscal.VerdictUnavailable {
		span.SetStatus(codes.Error, resp.Reason)
	}
	if c.metrics != nil {
		c.metrics.ObserveAuthorityCall(op, string(resp.Verdict), c.now().Sub(start))
	}
}

// authorizationFromLedger veredicto sintetizado a partir de una autorización ya registrada.
func (c *AuthorityClient) authorizationFromLedger(ctx context.Context, doc *entity.Document) *fiscal.AuthorityResponse {
	if c.ledger == nil || doc.ID == "" {
		return nil
	}
	events, err := c.ledger.FindByKind(ctx, doc.ID, entity.EventAuthorization)
	if err != nil {
		c.log.Warn().Err(err).Str("document_id", doc.ID).Msg("no se pudo leer el libro; se consulta a la autoridad")
		return nil
	}
	if len(events) == 0 {
		return nil
	}
	ev := events[0]
	c.log.Info().Str("document_id", doc.ID).Str("access_key", doc.AccessKey).Str("protocol", ev.ProtocolNumber).
		Msg("reenvío de un documento ya autorizado; se devuelve la autorización registrada")
	if c.metrics != nil {
		c.metrics.ObserveAuthorityCall(OpSubmit, string(fiscal.VerdictAuthorized), 0)
	}
	return &fiscal.AuthorityResponse{
		Verdict:        fiscal.VerdictAuthorized,
		AccessKey:      doc.AccessKey,
		ProtocolNumber: ev.ProtocolNumber,
		Code:           ev.Code,
		Reason:         ev.Reason,
		ReceivedAt:     ev.OccurredAt,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// joinCause conserva la última falla de transporte junto al error del contexto.
func joinCause(last, err error) error {
	if last == nil {
		return err
	}
	return errors.Join(last, err)
}

// copyResponse evita que los llamadores que compartieron una llamada muten la misma respuesta.
func copyResponse(v any) *fiscal.AuthorityResponse {
	resp, _ := v.(*fiscal.AuthorityResponse)
	if resp == nil {
		return fiscal.Unavailable("", 0, errEmptyResponse, time.Now())
	}
	cp := *resp
	return &cp
}

var _ billing.Authority = (*AuthorityClient)(nil)
