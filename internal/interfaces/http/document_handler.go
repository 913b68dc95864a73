package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/fiscal-api/internal/application/billing"
	"github.com/jhoicas/fiscal-api/internal/application/dto"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
)

// DocumentHandler expone el ciclo de vida de los documentos fiscales.
// Todas las rutas se acotan al emisor del token.
type DocumentHandler struct {
	svc *billing.IssuanceService
	pdf *billing.PDFUseCase
}

// NewDocumentHandler construye el handler. pdf puede ser nil (sin representación gráfica).
func NewDocumentHandler(svc *billing.IssuanceService, pdf *billing.PDFUseCase) *DocumentHandler {
	return &DocumentHandler{svc: svc, pdf: pdf}
}

// ── Borradores ────────────────────────────────────────────────────────────────

// Create crea un borrador y reserva su número.
// POST /api/documents
func (h *DocumentHandler) Create(c *fiber.Ctx) error {
	var in dto.DocumentRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	doc, err := h.svc.CreateDraft(c.UserContext(), GetIssuerID(c), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewDocumentResponse(doc))
}

// Update reemplaza el contenido de un borrador.
// PUT /api/documents/:id
func (h *DocumentHandler) Update(c *fiber.Ctx) error {
	var in dto.DocumentRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	doc, err := h.svc.UpdateDraft(c.UserContext(), GetIssuerID(c), c.Params("id"), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.NewDocumentResponse(doc))
}

// Delete elimina un borrador.
// DELETE /api/documents/:id
func (h *DocumentHandler) Delete(c *fiber.Ctx) error {
	if err := h.svc.DeleteDraft(c.UserContext(), GetIssuerID(c), c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Validate ejecuta todas las reglas y devuelve la lista completa de violaciones.
// POST /api/documents/:id/validate
func (h *DocumentHandler) Validate(c *fiber.Ctx) error {
	res, err := h.svc.Validate(c.UserContext(), GetIssuerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	violations := res.Violations
	if violations == nil {
		violations = []fiscal.Violation{}
	}
	return c.JSON(dto.ValidationResponse{Valid: res.Valid(), Violations: violations, ValidatedAt: res.ValidatedAt})
}

// ── Autoridad ─────────────────────────────────────────────────────────────────

// Submit envía el documento a la autoridad.
// POST /api/documents/:id/submit
//
// 200 autorizado, 202 autoridad no disponible (queda submitted), 422 rechazado.
func (h *DocumentHandler) Submit(c *fiber.Ctx) error {
	out, err := h.svc.Submit(c.UserContext(), GetIssuerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return writeOutcome(c, out)
}

// Reconcile consulta el estado de un documento submitted.
// POST /api/documents/:id/reconcile
func (h *DocumentHandler) Reconcile(c *fiber.Ctx) error {
	out, err := h.svc.Reconcile(c.UserContext(), GetIssuerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return writeOutcome(c, out)
}

// Cancel cancela un documento autorizado.
// POST /api/documents/:id/cancel
func (h *DocumentHandler) Cancel(c *fiber.Ctx) error {
	var in dto.JustificationRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	out, err := h.svc.Cancel(c.UserContext(), GetIssuerID(c), c.Params("id"), in.Justification)
	if err != nil {
		return writeError(c, err)
	}
	return writeOutcome(c, out)
}

// Correct registra una carta de corrección.
// POST /api/documents/:id/corrections
func (h *DocumentHandler) Correct(c *fiber.Ctx) error {
	var in dto.CorrectionRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	out, err := h.svc.Correct(c.UserContext(), GetIssuerID(c), c.Params("id"), in.Text)
	if err != nil {
		return writeError(c, err)
	}
	return writeOutcome(c, out)
}

// Reissue crea un borrador nuevo a partir de un documento rechazado.
// POST /api/documents/:id/reissue
func (h *DocumentHandler) Reissue(c *fiber.Ctx) error {
	doc, err := h.svc.Reissue(c.UserContext(), GetIssuerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewDocumentResponse(doc))
}

// Batch envía varios documentos con paralelismo acotado.
// POST /api/documents/batch
func (h *DocumentHandler) Batch(c *fiber.Ctx) error {
	var in dto.BatchRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	if err := dto.Check(in); err != nil {
		return writeError(c, err)
	}
	results := h.svc.IssueBatch(c.UserContext(), GetIssuerID(c), in.DocumentIDs, in.Parallelism)
	items := make([]dto.BatchItemResponse, 0, len(results))
	for _, r := range results {
		item := dto.BatchItemResponse{DocumentID: r.DocumentID}
		if r.Err != nil {
			item.Error = r.Err.Error()
		}
		if r.Outcome != nil {
			item.Status = string(r.Outcome.Document.Status)
			if r.Outcome.Response != nil {
				item.Verdict = string(r.Outcome.Response.Verdict)
				item.Code = r.Outcome.Response.Code
			}
		}
		items = append(items, item)
	}
	return c.JSON(items)
}

// VoidRange inutiliza un rango de números nunca emitidos.
// POST /api/voided-ranges
func (h *DocumentHandler) VoidRange(c *fiber.Ctx) error {
	var in dto.VoidRangeRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	vr, err := h.svc.VoidRange(c.UserContext(), GetIssuerID(c), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewVoidedRangeResponse(vr))
}

// ── Lecturas ──────────────────────────────────────────────────────────────────

// List documentos del emisor. Filtros: status, limit, offset.
// GET /api/documents
func (h *DocumentHandler) List(c *fiber.Ctx) error {
	page := dto.PageRequest{Limit: c.QueryInt("limit", 0), Offset: c.QueryInt("offset", 0)}
	page.DefaultPage()
	docs, err := h.svc.ListDocuments(c.UserContext(), repository.DocumentFilter{
		IssuerID: GetIssuerID(c),
		Status:   entity.DocumentStatus(c.Query("status")),
		Limit:    page.Limit,
		Offset:   page.Offset,
	})
	if err != nil {
		return writeError(c, err)
	}
	out := make([]dto.DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, dto.NewDocumentResponse(d))
	}
	return c.JSON(fiber.Map{"items": out, "page": dto.PageResponse{Limit: page.Limit, Offset: page.Offset}})
}

// Get detalle del documento.
// GET /api/documents/:id
func (h *DocumentHandler) Get(c *fiber.Ctx) error {
	doc, err := h.svc.GetDocument(c.UserContext(), GetIssuerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.NewDocumentResponse(doc))
}

// XML documento serializado (firmado si ya fue enviado).
// GET /api/documents/:id/xml
func (h *DocumentHandler) XML(c *fiber.Ctx) error {
	payload, err := h.svc.GetSerialized(c.UserContext(), GetIssuerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/xml; charset=utf-8")
	return c.Send(payload)
}

// AccessKey clave de acceso asignada o la vista previa de un borrador.
// GET /api/documents/:id/access-key
func (h *DocumentHandler) AccessKey(c *fiber.Ctx) error {
	key, assigned, err := h.svc.GetAccessKey(c.UserContext(), GetIssuerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.AccessKeyResponse{AccessKey: key, Formatted: fiscal.FormatAccessKey(key), Assigned: assigned})
}

// History eventos fiscales del documento en orden de secuencia.
// GET /api/documents/:id/events
func (h *DocumentHandler) History(c *fiber.Ctx) error {
	events, err := h.svc.History(c.UserContext(), GetIssuerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.NewEventResponses(events))
}

// PDF representación gráfica del documento autorizado o cancelado.
// GET /api/documents/:id/pdf
func (h *DocumentHandler) PDF(c *fiber.Ctx) error {
	if h.pdf == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(dto.ErrorResponse{Code: "PDF_DISABLED", Message: "representación gráfica no configurada"})
	}
	pdfBytes, filename, err := h.pdf.Render(c.UserContext(), GetIssuerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, "inline; filename="+strconv.Quote(filename))
	return c.Send(pdfBytes)
}

// writeOutcome respuesta de una operación que pasó por la autoridad.
func writeOutcome(c *fiber.Ctx, out *billing.Outcome) error {
	doc := dto.NewDocumentResponse(out.Document)
	if out.Response != nil {
		switch out.Response.Verdict {
		case fiscal.VerdictRejected:
			return c.Status(fiber.StatusUnprocessableEntity).JSON(AuthorityErrorResponse{
				Code:          "AUTHORITY_REJECTED",
				Message:       out.Response.Reason,
				AuthorityCode: out.Response.Code,
				Document:      &doc,
			})
		case fiscal.VerdictUnavailable:
			return c.Status(fiber.StatusAccepted).JSON(dto.OperationResponse{Document: doc, Authority: dto.NewAuthorityResult(out.Response)})
		}
	}
	return c.JSON(dto.OperationResponse{Document: doc, Authority: dto.NewAuthorityResult(out.Response)})
}
