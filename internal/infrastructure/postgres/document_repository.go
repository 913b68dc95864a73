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
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
)

var _ repository.DocumentRepository = (*DocumentRepo)(nil)

// DocumentRepo implementación de DocumentRepository (usable con pool o tx).
// Cabecera y líneas se escriben siempre en la misma transacción.
type DocumentRepo struct {
	q Querier
}

// NewDocumentRepository construye el adaptador. Pasar pool o tx (Querier).
func NewDocumentRepository(q Querier) *DocumentRepo {
	return &DocumentRepo{q: q}
}

const documentColumns = `
	id, issuer_id, doc_kind, series, number, region_code, emission_mode, numeric_code,
	access_key, status, issuer_snapshot, recipient,
	lines_total, surcharges, discounts, tax_total, total,
	payment_means, due_date, notes, issued_at,
	submitted_at, protocol_number, authorized_at, rejection_code, rejection_reason,
	cancelled_at, cancel_protocol, reissued_from, signed_payload, version,
	created_at, updated_at`

// Create persiste cabecera y líneas. Número o clave repetidos → domain.ErrDuplicate.
func (r *DocumentRepo) Create(ctx context.Context, doc *entity.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		        $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33)`
	return inTx(ctx, r.q, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query,
			doc.ID, doc.IssuerID, doc.DocKind, doc.Series, doc.Number, doc.RegionCode, doc.EmissionMode, doc.NumericCode,
			nullIfEmpty(doc.AccessKey), doc.Status, doc.Issuer, doc.Recipient,
			doc.LinesTotal, doc.Surcharges, doc.Discounts, doc.TaxTotal, doc.Total,
			nullIfEmpty(doc.PaymentMeans), doc.DueDate, nullIfEmpty(doc.Notes), doc.IssuedAt,
			doc.SubmittedAt, nullIfEmpty(doc.ProtocolNumber), doc.AuthorizedAt, nullIfEmpty(doc.RejectionCode), nullIfEmpty(doc.RejectionReason),
			doc.CancelledAt, nullIfEmpty(doc.CancelProtocol), nullIfEmpty(doc.ReissuedFrom), doc.SignedPayload, doc.Version,
			doc.CreatedAt, doc.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: documento %s (%s)", domain.ErrDuplicate, doc.ID, constraintName(err))
			}
			return fmt.Errorf("insert document: %w", err)
		}
		return insertLines(ctx, tx, doc)
	})
}

// Update reemplaza cabecera y líneas si la versión coincide; incrementa doc.Version.
func (r *DocumentRepo) Update(ctx context.Context, doc *entity.Document) error {
	return inTx(ctx, r.q, func(tx pgx.Tx) error {
		var version int
		var accessKey *string
		err := tx.QueryRow(ctx, `SELECT version, access_key FROM documents WHERE id = $1 FOR UPDATE`, doc.ID).
			Scan(&version, &accessKey)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock document: %w", err)
		}
		if version != doc.Version {
			return &fiscal.ConcurrentModificationError{DocumentID: doc.ID, Expected: version, Got: doc.Version}
		}
		if accessKey != nil && *accessKey != doc.AccessKey {
			return &fiscal.InvalidInputError{Field: "access_key", Value: doc.AccessKey, Reason: "la clave de acceso es inmutable"}
		}

		updatedAt := time.Now()
		query := `
			UPDATE documents
			SET access_key       = $2,
			    status           = $3,
			    issuer_snapshot  = $4,
			    recipient        = $5,
			    lines_total      = $6,
			    surcharges       = $7,
			    discounts        = $8,
			    tax_total        = $9,
			    total            = $10,
			    payment_means    = $11,
			    due_date         = $12,
			    notes            = $13,
			    issued_at        = $14,
			    submitted_at     = $15,
			    protocol_number  = $16,
			    authorized_at    = $17,
			    rejection_code   = $18,
			    rejection_reason = $19,
			    cancelled_at     = $20,
			    cancel_protocol  = $21,
			    signed_payload   = $22,
			    numeric_code     = $23,
			    version          = version + 1,
			    updated_at       = $24
			WHERE id = $1 AND version = $25`
		tag, err := tx.Exec(ctx, query,
			doc.ID, nullIfEmpty(doc.AccessKey), doc.Status, doc.Issuer, doc.Recipient,
			doc.LinesTotal, doc.Surcharges, doc.Discounts, doc.TaxTotal, doc.Total,
			nullIfEmpty(doc.PaymentMeans), doc.DueDate, nullIfEmpty(doc.Notes), doc.IssuedAt,
			doc.SubmittedAt, nullIfEmpty(doc.ProtocolNumber), doc.AuthorizedAt,
			nullIfEmpty(doc.RejectionCode), nullIfEmpty(doc.RejectionReason),
			doc.CancelledAt, nullIfEmpty(doc.CancelProtocol), doc.SignedPayload, doc.NumericCode,
			updatedAt, doc.Version,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: clave de acceso %s", domain.ErrDuplicate, doc.AccessKey)
			}
			return fmt.Errorf("update document: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return &fiscal.ConcurrentModificationError{DocumentID: doc.ID, Expected: version, Got: doc.Version}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM document_lines WHERE document_id = $1`, doc.ID); err != nil {
			return fmt.Errorf("delete document lines: %w", err)
		}
		if err := insertLines(ctx, tx, doc); err != nil {
			return err
		}
		doc.Version++
		doc.UpdatedAt = updatedAt
		return nil
	})
}

// GetByID obtiene un documento completo por ID.
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*entity.Document, error) {
	return r.getOne(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
}

// GetByAccessKey obtiene un documento por su clave de acceso.
func (r *DocumentRepo) GetByAccessKey(ctx context.Context, accessKey string) (*entity.Document, error) {
	return r.getOne(ctx, `SELECT `+documentColumns+` FROM documents WHERE access_key = $1`, accessKey)
}

func (r *DocumentRepo) getOne(ctx context.Context, query, arg string) (*entity.Document, error) {
	doc, err := scanDocument(r.q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if err := r.loadLines(ctx, []*entity.Document{doc}); err != nil {
		return nil, err
	}
	return doc, nil
}

// List documentos del emisor, más recientes primero.
func (r *DocumentRepo) List(ctx context.Context, f repository.DocumentFilter) ([]*entity.Document, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE issuer_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`
	return r.queryDocuments(ctx, query, f.IssuerID, string(f.Status), limit, f.Offset)
}

// FindInRange documentos de la serie cuyo número está en [from, to], ordenados por número.
func (r *DocumentRepo) FindInRange(ctx context.Context, issuerID, docKind string, series int, from, to int64) ([]*entity.Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE issuer_id = $1 AND doc_kind = $2 AND series = $3 AND number BETWEEN $4 AND $5
		ORDER BY number`
	return r.queryDocuments(ctx, query, issuerID, docKind, series, from, to)
}

// Delete elimina un borrador (las líneas caen por ON DELETE CASCADE).
func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	var status entity.DocumentStatus
	err := r.q.QueryRow(ctx, `SELECT status FROM documents WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get document status: %w", err)
	}
	if status != entity.StatusDraft {
		return &fiscal.InvalidTransitionError{From: status, To: "deleted"}
	}
	tag, err := r.q.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND status = $2`, id, entity.StatusDraft)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &fiscal.InvalidTransitionError{From: entity.StatusSubmitted, To: "deleted"}
	}
	return nil
}

func (r *DocumentRepo) queryDocuments(ctx context.Context, query string, args ...any) ([]*entity.Document, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var out []*entity.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if err := r.loadLines(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// loadLines carga las líneas de todos los documentos con una sola consulta.
func (r *DocumentRepo) loadLines(ctx context.Context, docs []*entity.Document) error {
	if len(docs) == 0 {
		return nil
	}
	byID := make(map[string]*entity.Document, len(docs))
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
		ids = append(ids, d.ID)
	}
	query := `
		SELECT id, document_id, item_number, product_code, description, ncm, cfop, unit,
		       quantity, unit_price, discount, total, taxes
		FROM document_lines
		WHERE document_id = ANY($1)
		ORDER BY document_id, item_number`
	rows, err := r.q.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("list document lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l entity.DocumentLine
		var ncm, cfop *string
		if err := rows.Scan(
			&l.ID, &l.DocumentID, &l.ItemNumber, &l.ProductCode, &l.Description, &ncm, &cfop, &l.Unit,
			&l.Quantity, &l.UnitPrice, &l.Discount, &l.Total, &l.Taxes,
		); err != nil {
			return fmt.Errorf("scan document line: %w", err)
		}
		l.NCM, l.CFOP = derefStr(ncm), derefStr(cfop)
		if d := byID[l.DocumentID]; d != nil {
			d.Lines = append(d.Lines, l)
		}
	}
	return rows.Err()
}

func insertLines(ctx context.Context, tx pgx.Tx, doc *entity.Document) error {
	query := `
		INSERT INTO document_lines (id, document_id, item_number, product_code, description, ncm, cfop, unit,
		                            quantity, unit_price, discount, total, taxes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	batch := &pgx.Batch{}
	for i := range doc.Lines {
		l := &doc.Lines[i]
		if l.ID == "" {
			l.ID = uuid.New().String()
		}
		l.DocumentID = doc.ID
		if l.ItemNumber == 0 {
			l.ItemNumber = i + 1
		}
		taxes := l.Taxes
		if taxes == nil {
			taxes = []entity.TaxComponent{}
		}
		batch.Queue(query,
			l.ID, l.DocumentID, l.ItemNumber, l.ProductCode, l.Description, nullIfEmpty(l.NCM), nullIfEmpty(l.CFOP), l.Unit,
			l.Quantity, l.UnitPrice, l.Discount, l.Total, taxes,
		)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert document lines: %w", err)
	}
	return nil
}

func scanDocument(row pgx.Row) (*entity.Document, error) {
	var d entity.Document
	var accessKey, paymentMeans, notes, protocol, rejCode, rejReason, cancelProtocol, reissuedFrom *string
	err := row.Scan(
		&d.ID, &d.IssuerID, &d.DocKind, &d.Series, &d.Number, &d.RegionCode, &d.EmissionMode, &d.NumericCode,
		&accessKey, &d.Status, &d.Issuer, &d.Recipient,
		&d.LinesTotal, &d.Surcharges, &d.Discounts, &d.TaxTotal, &d.Total,
		&paymentMeans, &d.DueDate, &notes, &d.IssuedAt,
		&d.SubmittedAt, &protocol, &d.AuthorizedAt, &rejCode, &rejReason,
		&d.CancelledAt, &cancelProtocol, &reissuedFrom, &d.SignedPayload, &d.Version,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.AccessKey = derefStr(accessKey)
	d.PaymentMeans = derefStr(paymentMeans)
	d.Notes = derefStr(notes)
	d.ProtocolNumber = derefStr(protocol)
	d.RejectionCode = derefStr(rejCode)
	d.RejectionReason = derefStr(rejReason)
	d.CancelProtocol = derefStr(cancelProtocol)
	d.ReissuedFrom = derefStr(reissuedFrom)
	return &d, nil
}
