package billing

import (
	"context"
	"fmt"

	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
)

// PDFUseCase genera la representación gráfica (PDF) de un documento fiscal.
// Solo se permite para documentos autorizados o cancelados: antes de la
// autorización no existe protocolo que imprimir.
type PDFUseCase struct {
	documents repository.DocumentRepository
	ledger    repository.EventLedger
	renderer  DocumentRenderer
}

// NewPDFUseCase construye el caso de uso inyectando sus dependencias.
func NewPDFUseCase(documents repository.DocumentRepository, ledger repository.EventLedger, renderer DocumentRenderer) *PDFUseCase {
	return &PDFUseCase{documents: documents, ledger: ledger, renderer: renderer}
}

// Render recupera el documento y su historial y genera el PDF.
//
// Retorna:
//   - (pdfBytes, filename, nil)  si todo sale bien.
//   - domain.ErrNotFound         si el documento no existe.
//   - domain.ErrForbidden        si el documento no pertenece al emisor del token.
//   - domain.ErrInvalidInput     si el documento no está autorizado ni cancelado.
func (uc *PDFUseCase) Render(ctx context.Context, issuerID, id string) (pdfBytes []byte, filename string, err error) {
	// ── 1. Cargar documento ───────────────────────────────────────────────────
	doc, err := uc.documents.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if doc.IssuerID != issuerID {
		return nil, "", domain.ErrForbidden
	}

	// ── 2. Validar estado ─────────────────────────────────────────────────────
	if doc.Status != entity.StatusAuthorized && doc.Status != entity.StatusCancelled {
		return nil, "", fmt.Errorf("%w: el documento está en estado %s, solo se imprimen documentos autorizados o cancelados",
			domain.ErrInvalidInput, doc.Status)
	}

	// ── 3. Historial (cancelación y cartas de corrección) ─────────────────────
	history, err := uc.ledger.History(ctx, doc.ID)
	if err != nil {
		return nil, "", fmt.Errorf("pdf: historial: %w", err)
	}

	// ── 4. Generar ────────────────────────────────────────────────────────────
	pdfBytes, err = uc.renderer.Render(ctx, doc, history)
	if err != nil {
		return nil, "", fmt.Errorf("pdf: generar: %w", err)
	}
	return pdfBytes, fmt.Sprintf("%s-%s.pdf", doc.DocKind, doc.AccessKey), nil
}
