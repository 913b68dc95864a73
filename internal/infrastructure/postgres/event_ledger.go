package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
)

var _ repository.EventLedger = (*EventLedger)(nil)

// EventLedger libro de eventos de solo anexado sobre fiscal_events. La tabla
// rechaza UPDATE/DELETE por trigger y (document_id, sequence) es único.
type EventLedger struct {
	q Querier
}

// NewEventLedger construye el adaptador. Pasar pool o tx (Querier).
func NewEventLedger(q Querier) *EventLedger {
	return &EventLedger{q: q}
}

const eventColumns = `id, document_id, sequence, kind, occurred_at, protocol_number, code, reason,
	justification, referenced_protocol, created_at`

// Append inserta el evento solo si su secuencia es la última + 1. Una
// inserción concurrente con la misma secuencia choca con el índice único.
func (l *EventLedger) Append(ctx context.Context, documentID string, ev *entity.FiscalEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.DocumentID = documentID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO fiscal_events (` + eventColumns + `)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		WHERE (SELECT COALESCE(MAX(sequence), 0) FROM fiscal_events WHERE document_id = $2) = $3 - 1`
	tag, err := l.q.Exec(ctx, query,
		ev.ID, documentID, ev.Sequence, ev.Kind, ev.OccurredAt,
		nullIfEmpty(ev.ProtocolNumber), nullIfEmpty(ev.Code), nullIfEmpty(ev.Reason),
		nullIfEmpty(ev.Justification), nullIfEmpty(ev.ReferencedProtocol), ev.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return l.conflict(ctx, documentID, ev.Sequence)
		}
		return fmt.Errorf("append event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return l.conflict(ctx, documentID, ev.Sequence)
	}
	return nil
}

func (l *EventLedger) conflict(ctx context.Context, documentID string, got int) error {
	last, err := l.LastSequence(ctx, documentID)
	if err != nil {
		// La transacción puede estar abortada tras la violación; se informa sin el esperado exacto.
		last = got - 1
	}
	return &fiscal.ConcurrentModificationError{DocumentID: documentID, Expected: last + 1, Got: got}
}

// History eventos del documento en orden de secuencia.
func (l *EventLedger) History(ctx context.Context, documentID string) ([]entity.FiscalEvent, error) {
	return l.query(ctx, `SELECT `+eventColumns+` FROM fiscal_events WHERE document_id = $1 ORDER BY sequence`, documentID)
}

// LastSequence devuelve 0 si el documento no tiene eventos.
func (l *EventLedger) LastSequence(ctx context.Context, documentID string) (int, error) {
	var last int
	err := l.q.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM fiscal_events WHERE document_id = $1`, documentID).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	return last, nil
}

// FindByKind eventos del documento de un tipo, en orden de secuencia.
func (l *EventLedger) FindByKind(ctx context.Context, documentID string, kind entity.EventKind) ([]entity.FiscalEvent, error) {
	return l.query(ctx,
		`SELECT `+eventColumns+` FROM fiscal_events WHERE document_id = $1 AND kind = $2 ORDER BY sequence`,
		documentID, kind)
}

func (l *EventLedger) query(ctx context.Context, query string, args ...any) ([]entity.FiscalEvent, error) {
	rows, err := l.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var out []entity.FiscalEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanEvent(row pgx.Row) (entity.FiscalEvent, error) {
	var ev entity.FiscalEvent
	var protocol, code, reason, justification, referenced *string
	err := row.Scan(
		&ev.ID, &ev.DocumentID, &ev.Sequence, &ev.Kind, &ev.OccurredAt,
		&protocol, &code, &reason, &justification, &referenced, &ev.CreatedAt,
	)
	if err != nil {
		return ev, err
	}
	ev.ProtocolNumber = derefStr(protocol)
	ev.Code = derefStr(code)
	ev.Reason = derefStr(reason)
	ev.Justification = derefStr(justification)
	ev.ReferencedProtocol = derefStr(referenced)
	return ev, nil
}
