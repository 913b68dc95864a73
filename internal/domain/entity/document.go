package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentStatus estado del documento fiscal en su ciclo de vida.
type DocumentStatus string

// Estados del documento fiscal.
const (
	StatusDraft      DocumentStatus = "draft"      // Editable; reserva número de la serie
	StatusSubmitted  DocumentStatus = "submitted"  // Enviado a la autoridad; inmutable
	StatusAuthorized DocumentStatus = "authorized" // Autorizado con número de protocolo
	StatusRejected   DocumentStatus = "rejected"   // Rechazado; terminal para la clave
	StatusCancelled  DocumentStatus = "cancelled"  // Cancelado después de autorizado
	StatusVoided     DocumentStatus = "voided"     // Número inutilizado sin emitir
)

// Document representa la cabecera de un documento fiscal electrónico.
// Los totales se calculan a partir de las líneas; nunca se asignan a mano.
type Document struct {
	ID           string
	IssuerID     string // Empresa emisora (tenant)
	DocKind      string // Modelo: "55" NF-e, "65" NFC-e
	Series       int
	Number       int64
	RegionCode   string // Código IBGE de la UF del emisor
	EmissionMode string // tpEmis
	NumericCode  string // Código numérico de 8 dígitos de la clave
	AccessKey    string // 44 dígitos; inmutable una vez asignada
	Status       DocumentStatus

	Issuer    Party
	Recipient Party
	Lines     []DocumentLine

	LinesTotal decimal.Decimal // Σ totales de línea
	Surcharges decimal.Decimal // Flete, seguro y otros cargos globales
	Discounts  decimal.Decimal // Descuento global
	TaxTotal   decimal.Decimal // Σ tributos de las líneas (informativo)
	Total      decimal.Decimal // LinesTotal + Surcharges - Discounts

	PaymentMeans string
	DueDate      *time.Time
	Notes        string
	IssuedAt     time.Time // Fecha de emisión

	SubmittedAt     *time.Time
	ProtocolNumber  string     // Solo en authorized / cancelled
	AuthorizedAt    *time.Time
	RejectionCode   string // Solo en rejected
	RejectionReason string
	CancelledAt     *time.Time
	CancelProtocol  string // Protocolo del evento de cancelación
	ReissuedFrom    string // ID del documento rechazado que originó este borrador

	SignedPayload []byte // XML firmado enviado a la autoridad
	Version       int    // Control optimista sobre la fila
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsFrozen indica si el documento ya no admite cambios de contenido.
func (d *Document) IsFrozen() bool {
	return d.Status != StatusDraft
}

// Clone devuelve una copia profunda (líneas, tributos y punteros de fecha).
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Issuer = d.Issuer.Clone()
	c.Recipient = d.Recipient.Clone()
	if d.Lines != nil {
		c.Lines = make([]DocumentLine, len(d.Lines))
		for i, l := range d.Lines {
			c.Lines[i] = l.Clone()
		}
	}
	c.DueDate = cloneTime(d.DueDate)
	c.SubmittedAt = cloneTime(d.SubmittedAt)
	c.AuthorizedAt = cloneTime(d.AuthorizedAt)
	c.CancelledAt = cloneTime(d.CancelledAt)
	if d.SignedPayload != nil {
		c.SignedPayload = append([]byte(nil), d.SignedPayload...)
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
