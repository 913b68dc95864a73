package repository

import (
	"context"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

// EventLedger libro de eventos fiscales de solo anexado. No existen operaciones
// de modificación ni borrado.
type EventLedger interface {
	// Append anexa ev con la secuencia indicada en ev.Sequence, que debe ser la
	// última registrada + 1. En otro caso devuelve ConcurrentModificationError y
	// el libro queda sin cambios.
	Append(ctx context.Context, documentID string, ev *entity.FiscalEvent) error
	// History devuelve una copia de los eventos del documento en orden de secuencia.
	History(ctx context.Context, documentID string) ([]entity.FiscalEvent, error)
	// LastSequence devuelve 0 si el documento no tiene eventos.
	LastSequence(ctx context.Context, documentID string) (int, error)
	// FindByKind eventos del documento de un tipo, en orden de secuencia.
	FindByKind(ctx context.Context, documentID string, kind entity.EventKind) ([]entity.FiscalEvent, error)
}
