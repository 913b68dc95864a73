// Package redis publica los avisos de cuentas por cobrar en una lista de Redis
// consumida por el módulo de cobranzas.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jhoicas/fiscal-api/internal/application/billing"
)

const (
	// DefaultQueue lista donde se encolan los avisos.
	DefaultQueue = "jobs:receivables"
	// DLQPrefix prefijo de la lista de avisos que no pudieron encolarse.
	DLQPrefix = "dlq:"

	jobType = "receivable.created"
)

var _ billing.ReceivableNotifier = (*Notifier)(nil)

// Job sobre genérico de las tareas encoladas.
type Job struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DLQEntry aviso fallido con metadatos para inspección manual.
type DLQEntry struct {
	OriginalQueue string          `json:"original_queue"`
	JobType       string          `json:"job_type"`
	Payload       json.RawMessage `json:"payload"`
	Reason        string          `json:"reason"`
	FailedAt      string          `json:"failed_at"` // ISO 8601
	Attempts      int             `json:"attempts"`
}

// Notifier implementa billing.ReceivableNotifier con LPUSH.
type Notifier struct {
	rdb      goredis.UniversalClient
	queue    string
	attempts int
	backoff  time.Duration
	log      zerolog.Logger
}

// NewClient crea y valida la conexión.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return rdb, nil
}

// NewNotifier construye el publicador. queue vacío usa DefaultQueue.
func NewNotifier(rdb goredis.UniversalClient, queue string, log zerolog.Logger) *Notifier {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Notifier{rdb: rdb, queue: queue, attempts: 3, backoff: 100 * time.Millisecond, log: log}
}

// NotifyReceivable encola el aviso. Reintenta el LPUSH y, si se agotan los
// intentos, lo deja en la DLQ y devuelve el error.
func (n *Notifier) NotifyReceivable(ctx context.Context, ev billing.ReceivableCreated) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: serializar aviso: %w", err)
	}
	encoded, err := json.Marshal(Job{Type: jobType, Payload: payload})
	if err != nil {
		return fmt.Errorf("redis: serializar job: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= n.attempts; attempt++ {
		if lastErr = n.rdb.LPush(ctx, n.queue, encoded).Err(); lastErr == nil {
			n.log.Debug().Str("queue", n.queue).Str("document_id", ev.DocumentID).Msg("aviso de cobro encolado")
			return nil
		}
		if attempt == n.attempts {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = n.attempts
		case <-time.After(n.backoff * time.Duration(attempt)):
		}
	}
	n.sendToDLQ(ctx, payload, lastErr.Error())
	return fmt.Errorf("redis: encolar aviso %s: %w", ev.DocumentID, lastErr)
}

func (n *Notifier) sendToDLQ(ctx context.Context, payload json.RawMessage, reason string) {
	entry := DLQEntry{
		OriginalQueue: n.queue,
		JobType:       jobType,
		Payload:       payload,
		Reason:        reason,
		FailedAt:      time.Now().UTC().Format(time.RFC3339),
		Attempts:      n.attempts,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		n.log.Error().Err(err).Str("queue", n.queue).Msg("dlq: serializar entrada")
		return
	}
	dlqKey := DLQPrefix + n.queue
	if err := n.rdb.LPush(context.WithoutCancel(ctx), dlqKey, data).Err(); err != nil {
		n.log.Error().Err(err).Str("dlq_key", dlqKey).Msg("dlq: no se pudo guardar el aviso")
		return
	}
	n.log.Warn().Str("queue", n.queue).Str("reason", reason).Int("attempts", n.attempts).Msg("dlq: aviso movido a la cola de fallidos")
}

// QueueLength cantidad de avisos pendientes, para monitoreo.
func (n *Notifier) QueueLength(ctx context.Context) (int64, error) {
	return n.rdb.LLen(ctx, n.queue).Result()
}

// DLQLength cantidad de avisos en la DLQ, para monitoreo.
func (n *Notifier) DLQLength(ctx context.Context) (int64, error) {
	return n.rdb.LLen(ctx, DLQPrefix+n.queue).Result()
}
