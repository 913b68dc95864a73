package repository

import (
	"context"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

// SeriesRepository contador de numeración por (emisor, modelo, serie).
// Es el único escritor del contador: dos llamadas nunca reciben el mismo número.
type SeriesRepository interface {
	// Next reserva y devuelve el próximo número (el primero es 1).
	Next(ctx context.Context, issuerID, docKind string, series int) (int64, error)
	// AdvancePast garantiza que el próximo número sea mayor que number.
	AdvancePast(ctx context.Context, issuerID, docKind string, series int, number int64) error
	// Current devuelve el estado del contador (NextNumber = 1 si nunca se usó).
	Current(ctx context.Context, issuerID, docKind string, series int) (*entity.Series, error)
}

// VoidedRangeRepository registros de inutilización de numeración.
type VoidedRangeRepository interface {
	// Create devuelve domain.ErrDuplicate si el rango se solapa con otro registrado.
	Create(ctx context.Context, r *entity.VoidedRange) error
	GetByID(ctx context.Context, id string) (*entity.VoidedRange, error)
	ListBySeries(ctx context.Context, issuerID, docKind string, series int) ([]*entity.VoidedRange, error)
}

// IssuerRepository perfiles de emisor (tenants).
type IssuerRepository interface {
	Create(ctx context.Context, issuer *entity.Issuer) error
	GetByID(ctx context.Context, id string) (*entity.Issuer, error)
	GetByTaxID(ctx context.Context, taxID string) (*entity.Issuer, error)
	Update(ctx context.Context, issuer *entity.Issuer) error
}
