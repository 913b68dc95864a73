package repository

import (
	"context"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

// DocumentFilter criterios de listado de documentos de un emisor.
type DocumentFilter struct {
	IssuerID string
	Status   entity.DocumentStatus // vacío = todos
	Limit    int
	Offset   int
}

// DocumentRepository define el puerto de persistencia para Document y sus líneas.
type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.Document) error
	// Update reemplaza cabecera y líneas si doc.Version coincide con la almacenada
	// e incrementa Version. Ante discrepancia devuelve ConcurrentModificationError.
	Update(ctx context.Context, doc *entity.Document) error
	// GetByID devuelve domain.ErrNotFound si no existe.
	GetByID(ctx context.Context, id string) (*entity.Document, error)
	GetByAccessKey(ctx context.Context, accessKey string) (*entity.Document, error)
	List(ctx context.Context, f DocumentFilter) ([]*entity.Document, error)
	// FindInRange documentos de la serie cuyo número está en [from, to].
	FindInRange(ctx context.Context, issuerID, docKind string, series int, from, to int64) ([]*entity.Document, error)
	// Delete elimina un borrador; cualquier otro estado es InvalidTransitionError.
	Delete(ctx context.Context, id string) error
}
