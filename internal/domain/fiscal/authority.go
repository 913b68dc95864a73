package fiscal

import (
	"fmt"
	"time"
)

// Verdict resultado interpretado de una respuesta de la autoridad.
type Verdict string

const (
	VerdictAuthorized  Verdict = "authorized"
	VerdictRejected    Verdict = "rejected"
	VerdictCancelled   Verdict = "cancelled"
	VerdictRegistered  Verdict = "registered" // Evento (corrección, inutilización) registrado
	VerdictNotFound    Verdict = "not_found"
	VerdictUnavailable Verdict = "service_unavailable"
)

// AuthorityResponse respuesta de la autoridad. Code y Reason son los valores
// crudos de su tabla de códigos y nunca se reescriben.
type AuthorityResponse struct {
	Verdict        Verdict
	AccessKey      string
	ProtocolNumber string
	Code           string
	Reason         string
	ReceivedAt     time.Time
	Attempts       int
	Cause          error // Último error de transporte cuando Verdict es service_unavailable
}

// Final indica si el veredicto permite avanzar el estado del documento.
func (r *AuthorityResponse) Final() bool {
	switch r.Verdict {
	case VerdictAuthorized, VerdictRejected, VerdictCancelled, VerdictRegistered:
		return true
	}
	return false
}

// Err convierte rechazos e indisponibilidad en errores tipados; nil en otro caso.
func (r *AuthorityResponse) Err() error {
	switch r.Verdict {
	case VerdictRejected:
		return &AuthorityRejection{Code: r.Code, Reason: r.Reason}
	case VerdictUnavailable:
		return &AuthorityUnavailableError{Attempts: r.Attempts, Cause: r.Cause}
	}
	return nil
}

// Unavailable construye la respuesta service_unavailable que se entrega al
// llamador al agotar los reintentos o vencer su plazo.
func Unavailable(accessKey string, attempts int, cause error, at time.Time) *AuthorityResponse {
	reason := "autoridad no disponible"
	if cause != nil {
		reason = cause.Error()
	}
	return &AuthorityResponse{
		Verdict:    VerdictUnavailable,
		AccessKey:  accessKey,
		Reason:     reason,
		ReceivedAt: at,
		Attempts:   attempts,
		Cause:      cause,
	}
}

// CancelRequest solicitud de evento de cancelación.
type CancelRequest struct {
	AccessKey      string
	IssuerTaxID    string
	ProtocolNumber string // Protocolo de la autorización que se cancela
	Justification  string
	Sequence       int // Secuencia del evento en el libro del documento
	RequestedAt    time.Time
}

// CorrectionRequest solicitud de carta de corrección.
type CorrectionRequest struct {
	AccessKey   string
	IssuerTaxID string
	Text        string
	Sequence    int
	RequestedAt time.Time
}

// VoidRangeRequest solicitud de inutilización de un rango de números.
type VoidRangeRequest struct {
	IssuerTaxID   string
	RegionCode    string
	DocKind       string
	Series        int
	From          int64
	To            int64
	Year          int
	Justification string
	RequestedAt   time.Time
}

// IdempotencyKey clave estable de la solicitud de inutilización.
func (r VoidRangeRequest) IdempotencyKey() string {
	return fmt.Sprintf("void:%s:%s:%03d:%d-%d", r.IssuerTaxID, r.DocKind, r.Series, r.From, r.To)
}
