package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
)

var _ repository.EventLedger = (*EventLedger)(nil)

var nowFunc = time.Now

// EventLedger libro de eventos en memoria, de solo anexado.
type EventLedger struct {
	store *Store
	inTx  bool
	now   func() time.Time
}

// NewEventLedger construye el libro sobre store.
func NewEventLedger(store *Store) *EventLedger {
	return &EventLedger{store: store, now: nowFunc}
}

func (l *EventLedger) Append(_ context.Context, documentID string, ev *entity.FiscalEvent) error {
	return l.store.access(l.inTx, func(d *state) error {
		events := d.events[documentID]
		expected := len(events) + 1
		if ev.Sequence != expected {
			return &fiscal.ConcurrentModificationError{DocumentID: documentID, Expected: expected, Got: ev.Sequence}
		}
		if ev.ID == "" {
			ev.ID = uuid.New().String()
		}
		ev.DocumentID = documentID
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = l.now()
		}
		d.events[documentID] = append(events, *ev)
		return nil
	})
}

func (l *EventLedger) History(_ context.Context, documentID string) ([]entity.FiscalEvent, error) {
	var out []entity.FiscalEvent
	err := l.store.access(l.inTx, func(d *state) error {
		out = append([]entity.FiscalEvent(nil), d.events[documentID]...)
		return nil
	})
	return out, err
}

func (l *EventLedger) LastSequence(_ context.Context, documentID string) (int, error) {
	var last int
	err := l.store.access(l.inTx, func(d *state) error {
		last = len(d.events[documentID])
		return nil
	})
	return last, err
}

func (l *EventLedger) FindByKind(_ context.Context, documentID string, kind entity.EventKind) ([]entity.FiscalEvent, error) {
	var out []entity.FiscalEvent
	err := l.store.access(l.inTx, func(d *state) error {
		for _, ev := range d.events[documentID] {
			if ev.Kind == kind {
				out = append(out, ev)
			}
		}
		return nil
	})
	return out, err
}
