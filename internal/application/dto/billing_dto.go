package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
)

// AddressInput dirección de una parte.
type AddressInput struct {
	Street     string `json:"street"`
	Number     string `json:"number"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district,omitempty"`
	CityCode   string `json:"city_code,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// PartyInput datos fiscales del destinatario (o del emisor al registrarlo).
type PartyInput struct {
	Kind                  string       `json:"kind"` // individual | organization
	TaxID                 string       `json:"tax_id"`
	LegalName             string       `json:"legal_name"`
	TradeName             string       `json:"trade_name,omitempty"`
	StateRegistration     string       `json:"state_registration,omitempty"`
	MunicipalRegistration string       `json:"municipal_registration,omitempty"`
	Email                 string       `json:"email,omitempty"`
	Address               AddressInput `json:"address"`
}

// TaxInput tributo de una línea. Base vacía toma el total de la línea.
type TaxInput struct {
	Category string          `json:"category"`
	Base     decimal.Decimal `json:"base"`
	Rate     decimal.Decimal `json:"rate"`
}

// LineInput ítem del documento.
type LineInput struct {
	ProductCode string          `json:"product_code"`
	Description string          `json:"description"`
	NCM         string          `json:"ncm,omitempty"`
	CFOP        string          `json:"cfop,omitempty"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	Taxes       []TaxInput      `json:"taxes,omitempty"`
}

// DocumentRequest body de POST /api/documents y PUT /api/documents/:id.
// DocKind y Series solo se consideran al crear; vacíos toman los del emisor.
type DocumentRequest struct {
	DocKind      string          `json:"doc_kind,omitempty"`
	Series       *int            `json:"series,omitempty"`
	IssuedAt     *time.Time      `json:"issued_at,omitempty"`
	Recipient    PartyInput      `json:"recipient"`
	Lines        []LineInput     `json:"lines"`
	Surcharges   decimal.Decimal `json:"surcharges"`
	Discounts    decimal.Decimal `json:"discounts"`
	PaymentMeans string          `json:"payment_means,omitempty"`
	DueDate      string          `json:"due_date,omitempty"` // AAAA-MM-DD
	Notes        string          `json:"notes,omitempty"`
}

// JustificationRequest body de POST /api/documents/:id/cancel.
type JustificationRequest struct {
	Justification string `json:"justification"`
}

// CorrectionRequest body de POST /api/documents/:id/corrections.
type CorrectionRequest struct {
	Text string `json:"text"`
}

// VoidRangeRequest body de POST /api/voided-ranges.
type VoidRangeRequest struct {
	DocKind       string `json:"doc_kind"`
	Series        int    `json:"series"`
	From          int64  `json:"from"`
	To            int64  `json:"to"`
	Justification string `json:"justification"`
}

// BatchRequest body de POST /api/documents/batch.
type BatchRequest struct {
	DocumentIDs []string `json:"document_ids" validate:"required,min=1,dive,required"`
	Parallelism int      `json:"parallelism,omitempty"`
}

// ── Respuestas ────────────────────────────────────────────────────────────────

// TaxResponse tributo calculado.
type TaxResponse struct {
	Category string          `json:"category"`
	Base     decimal.Decimal `json:"base"`
	Rate     decimal.Decimal `json:"rate"`
	Value    decimal.Decimal `json:"value"`
}

// LineResponse línea calculada.
type LineResponse struct {
	ItemNumber  int             `json:"item_number"`
	ProductCode string          `json:"product_code"`
	Description string          `json:"description"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	Taxes       []TaxResponse   `json:"taxes,omitempty"`
}

// PartyResponse instantánea de una parte.
type PartyResponse struct {
	Kind      string `json:"kind"`
	TaxID     string `json:"tax_id"`
	LegalName string `json:"legal_name"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
}

// DocumentResponse documento para GET /api/documents/:id.
type DocumentResponse struct {
	ID              string          `json:"id"`
	IssuerID        string          `json:"issuer_id"`
	DocKind         string          `json:"doc_kind"`
	Series          int             `json:"series"`
	Number          int64           `json:"number"`
	Status          string          `json:"status"`
	AccessKey       string          `json:"access_key,omitempty"`
	AccessKeyGroups string          `json:"access_key_formatted,omitempty"` // Grupos de 4 dígitos
	Issuer          PartyResponse   `json:"issuer"`
	Recipient       PartyResponse   `json:"recipient"`
	Lines           []LineResponse  `json:"lines"`
	LinesTotal      decimal.Decimal `json:"lines_total"`
	Surcharges      decimal.Decimal `json:"surcharges"`
	Discounts       decimal.Decimal `json:"discounts"`
	TaxTotal        decimal.Decimal `json:"tax_total"`
	Total           decimal.Decimal `json:"total"`
	PaymentMeans    string          `json:"payment_means,omitempty"`
	DueDate         string          `json:"due_date,omitempty"`
	IssuedAt        time.Time       `json:"issued_at"`
	ProtocolNumber  string          `json:"protocol_number,omitempty"`
	AuthorizedAt    *time.Time      `json:"authorized_at,omitempty"`
	RejectionCode   string          `json:"rejection_code,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	ReissuedFrom    string          `json:"reissued_from,omitempty"`
	Version         int             `json:"version"`
}

// AuthorityResult veredicto de la autoridad con el código crudo.
type AuthorityResult struct {
	Verdict        string    `json:"verdict"`
	Code           string    `json:"code,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	ProtocolNumber string    `json:"protocol_number,omitempty"`
	Attempts       int       `json:"attempts,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}

// OperationResponse documento y veredicto de una operación ante la autoridad.
type OperationResponse struct {
	Document  DocumentResponse `json:"document"`
	Authority *AuthorityResult `json:"authority,omitempty"`
}

// EventResponse evento del libro.
type EventResponse struct {
	Sequence           int       `json:"sequence"`
	Kind               string    `json:"kind"`
	OccurredAt         time.Time `json:"occurred_at"`
	ProtocolNumber     string    `json:"protocol_number,omitempty"`
	Code               string    `json:"code,omitempty"`
	Reason             string    `json:"reason,omitempty"`
	Justification      string    `json:"justification,omitempty"`
	ReferencedProtocol string    `json:"referenced_protocol,omitempty"`
}

// ValidationResponse resultado de POST /api/documents/:id/validate.
type ValidationResponse struct {
	Valid       bool               `json:"valid"`
	Violations  []fiscal.Violation `json:"violations"`
	ValidatedAt time.Time          `json:"validated_at"`
}

// VoidedRangeResponse registro de inutilización.
type VoidedRangeResponse struct {
	ID             string    `json:"id"`
	DocKind        string    `json:"doc_kind"`
	Series         int       `json:"series"`
	From           int64     `json:"from"`
	To             int64     `json:"to"`
	ProtocolNumber string    `json:"protocol_number"`
	VoidedAt       time.Time `json:"voided_at"`
}

// BatchItemResponse resultado por documento del envío en lote.
type BatchItemResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status,omitempty"`
	Verdict    string `json:"verdict,omitempty"`
	Code       string `json:"code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// AccessKeyResponse clave de acceso de un documento.
type AccessKeyResponse struct {
	AccessKey string `json:"access_key"`
	Formatted string `json:"formatted"`
	Assigned  bool   `json:"assigned"` // false = vista previa de un borrador
}

// ── Mapeos ────────────────────────────────────────────────────────────────────

// NewDocumentResponse mapea la entidad a la respuesta.
func NewDocumentResponse(d *entity.Document) DocumentResponse {
	out := DocumentResponse{
		ID:              d.ID,
		IssuerID:        d.IssuerID,
		DocKind:         d.DocKind,
		Series:          d.Series,
		Number:          d.Number,
		Status:          string(d.Status),
		AccessKey:       d.AccessKey,
		Issuer:          newPartyResponse(d.Issuer),
		Recipient:       newPartyResponse(d.Recipient),
		Lines:           make([]LineResponse, 0, len(d.Lines)),
		LinesTotal:      d.LinesTotal,
		Surcharges:      d.Surcharges,
		Discounts:       d.Discounts,
		TaxTotal:        d.TaxTotal,
		Total:           d.Total,
		PaymentMeans:    d.PaymentMeans,
		IssuedAt:        d.IssuedAt,
		ProtocolNumber:  d.ProtocolNumber,
		AuthorizedAt:    d.AuthorizedAt,
		RejectionCode:   d.RejectionCode,
		RejectionReason: d.RejectionReason,
		CancelledAt:     d.CancelledAt,
		ReissuedFrom:    d.ReissuedFrom,
		Version:         d.Version,
	}
	if d.AccessKey != "" {
		out.AccessKeyGroups = fiscal.FormatAccessKey(d.AccessKey)
	}
	if d.DueDate != nil {
		out.DueDate = d.DueDate.In(fiscal.FiscalZone).Format("2006-01-02")
	}
	for _, l := range d.Lines {
		lr := LineResponse{
			ItemNumber: l.ItemNumber, ProductCode: l.ProductCode, Description: l.Description, Unit: l.Unit,
			Quantity: l.Quantity, UnitPrice: l.UnitPrice, Discount: l.Discount, Total: l.Total,
		}
		for _, t := range l.Taxes {
			lr.Taxes = append(lr.Taxes, TaxResponse{Category: t.Category, Base: t.Base, Rate: t.Rate, Value: t.Value})
		}
		out.Lines = append(out.Lines, lr)
	}
	return out
}

func newPartyResponse(p entity.Party) PartyResponse {
	return PartyResponse{
		Kind:      string(p.Kind),
		TaxID:     p.TaxID,
		LegalName: p.LegalName,
		City:      p.Address.City,
		State:     p.Address.State,
	}
}

// NewAuthorityResult mapea la respuesta de la autoridad; nil si no hubo llamada.
func NewAuthorityResult(r *fiscal.AuthorityResponse) *AuthorityResult {
	if r == nil {
		return nil
	}
	return &AuthorityResult{
		Verdict:        string(r.Verdict),
		Code:           r.Code,
		Reason:         r.Reason,
		ProtocolNumber: r.ProtocolNumber,
		Attempts:       r.Attempts,
		ReceivedAt:     r.ReceivedAt,
	}
}

// NewEventResponses mapea la historia del documento.
func NewEventResponses(events []entity.FiscalEvent) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, EventResponse{
			Sequence:           e.Sequence,
			Kind:               string(e.Kind),
			OccurredAt:         e.OccurredAt,
			ProtocolNumber:     e.ProtocolNumber,
			Code:               e.Code,
			Reason:             e.Reason,
			Justification:      e.Justification,
			ReferencedProtocol: e.ReferencedProtocol,
		})
	}
	return out
}

// NewVoidedRangeResponse mapea un registro de inutilización.
func NewVoidedRangeResponse(r *entity.VoidedRange) VoidedRangeResponse {
	return VoidedRangeResponse{
		ID:             r.ID,
		DocKind:        r.DocKind,
		Series:         r.Series,
		From:           r.From,
		To:             r.To,
		ProtocolNumber: r.ProtocolNumber,
		VoidedAt:       r.VoidedAt,
	}
}
