package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
)

var (
	_ repository.SeriesRepository      = (*SeriesRepo)(nil)
	_ repository.VoidedRangeRepository = (*VoidedRangeRepo)(nil)
)

// SeriesRepo contadores de numeración en document_series. El upsert toma el
// lock de la fila, así que dos emisiones concurrentes nunca obtienen el mismo número.
type SeriesRepo struct {
	q Querier
}

// NewSeriesRepository construye el adaptador. Pasar pool o tx (Querier).
func NewSeriesRepository(q Querier) *SeriesRepo {
	return &SeriesRepo{q: q}
}

// Next reserva y devuelve el próximo número (el primero es 1).
func (r *SeriesRepo) Next(ctx context.Context, issuerID, docKind string, series int) (int64, error) {
	query := `
		INSERT INTO document_series (issuer_id, doc_kind, series, next_number, updated_at)
		VALUES ($1, $2, $3, 2, now())
		ON CONFLICT (issuer_id, doc_kind, series)
		DO UPDATE SET next_number = document_series.next_number + 1, updated_at = now()
		RETURNING next_number - 1`
	var n int64
	if err := r.q.QueryRow(ctx, query, issuerID, docKind, series).Scan(&n); err != nil {
		return 0, fmt.Errorf("next number: %w", err)
	}
	return n, nil
}

// AdvancePast garantiza next_number > number; nunca retrocede.
func (r *SeriesRepo) AdvancePast(ctx context.Context, issuerID, docKind string, series int, number int64) error {
	query := `
		INSERT INTO document_series (issuer_id, doc_kind, series, next_number, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (issuer_id, doc_kind, series)
		DO UPDATE SET next_number = GREATEST(document_series.next_number, EXCLUDED.next_number),
		              updated_at  = now()`
	if _, err := r.q.Exec(ctx, query, issuerID, docKind, series, number+1); err != nil {
		return fmt.Errorf("advance series: %w", err)
	}
	return nil
}

// Current devuelve el estado del contador (NextNumber = 1 si nunca se usó).
func (r *SeriesRepo) Current(ctx context.Context, issuerID, docKind string, series int) (*entity.Series, error) {
	s := &entity.Series{IssuerID: issuerID, DocKind: docKind, Series: series, NextNumber: 1}
	err := r.q.QueryRow(ctx,
		`SELECT next_number, updated_at FROM document_series WHERE issuer_id = $1 AND doc_kind = $2 AND series = $3`,
		issuerID, docKind, series,
	).Scan(&s.NextNumber, &s.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get series: %w", err)
	}
	return s, nil
}

// VoidedRangeRepo registros de inutilización en voided_ranges. El solapamiento
// lo impide un constraint EXCLUDE sobre int8range.
type VoidedRangeRepo struct {
	q Querier
}

// NewVoidedRangeRepository construye el adaptador. Pasar pool o tx (Querier).
func NewVoidedRangeRepository(q Querier) *VoidedRangeRepo {
	return &VoidedRangeRepo{q: q}
}

const rangeColumns = `id, issuer_id, issuer_tax_id, doc_kind, series, from_number, to_number,
	justification, protocol_number, voided_at, created_at`

// Create devuelve domain.ErrDuplicate si el rango se solapa con otro registrado.
func (r *VoidedRangeRepo) Create(ctx context.Context, vr *entity.VoidedRange) error {
	if vr.ID == "" {
		vr.ID = uuid.New().String()
	}
	if vr.CreatedAt.IsZero() {
		vr.CreatedAt = time.Now()
	}
	_, err := r.q.Exec(ctx, `INSERT INTO voided_ranges (`+rangeColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		vr.ID, vr.IssuerID, vr.IssuerTaxID, vr.DocKind, vr.Series, vr.From, vr.To,
		vr.Justification, nullIfEmpty(vr.ProtocolNumber), vr.VoidedAt, vr.CreatedAt,
	)
	if err != nil {
		if isExclusionViolation(err) || isUniqueViolation(err) {
			return fmt.Errorf("%w: rango %d-%d ya inutilizado", domain.ErrDuplicate, vr.From, vr.To)
		}
		return fmt.Errorf("insert voided range: %w", err)
	}
	return nil
}

// GetByID obtiene un rango por ID.
func (r *VoidedRangeRepo) GetByID(ctx context.Context, id string) (*entity.VoidedRange, error) {
	vr, err := scanRange(r.q.QueryRow(ctx, `SELECT `+rangeColumns+` FROM voided_ranges WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get voided range: %w", err)
	}
	return vr, nil
}

// ListBySeries rangos de la serie ordenados por número inicial.
func (r *VoidedRangeRepo) ListBySeries(ctx context.Context, issuerID, docKind string, series int) ([]*entity.VoidedRange, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+rangeColumns+` FROM voided_ranges WHERE issuer_id = $1 AND doc_kind = $2 AND series = $3 ORDER BY from_number`,
		issuerID, docKind, series)
	if err != nil {
		return nil, fmt.Errorf("list voided ranges: %w", err)
	}
	defer rows.Close()
	var out []*entity.VoidedRange
	for rows.Next() {
		vr, err := scanRange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan voided range: %w", err)
		}
		out = append(out, vr)
	}
	return out, rows.Err()
}

func scanRange(row pgx.Row) (*entity.VoidedRange, error) {
	var vr entity.VoidedRange
	var protocol *string
	if err := row.Scan(
		&vr.ID, &vr.IssuerID, &vr.IssuerTaxID, &vr.DocKind, &vr.Series, &vr.From, &vr.To,
		&vr.Justification, &protocol, &vr.VoidedAt, &vr.CreatedAt,
	); err != nil {
		return nil, err
	}
	vr.ProtocolNumber = derefStr(protocol)
	return &vr, nil
}
