package fiscal

import (
	"fmt"
	"strings"
	"time"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

// transitions transiciones legales del ciclo de vida. Cualquier par ausente
// produce InvalidTransitionError.
var transitions = map[entity.DocumentStatus]map[entity.DocumentStatus]bool{
	entity.StatusDraft: {
		entity.StatusSubmitted: true,
		entity.StatusVoided:    true, // solo por inutilización de un rango que contiene el número
	},
	entity.StatusSubmitted: {
		entity.StatusAuthorized: true,
		entity.StatusRejected:   true,
	},
	entity.StatusAuthorized: {
		entity.StatusCancelled: true,
	},
}

// CheckTransition devuelve InvalidTransitionError si from → to no está permitida.
func CheckTransition(from, to entity.DocumentStatus) error {
	if transitions[from][to] {
		return nil
	}
	return &InvalidTransitionError{From: from, To: to}
}

// Clock fuente de tiempo inyectable.
type Clock func() time.Time

// Lifecycle máquina de estados del documento. Cada método valida antes de
// mutar: ante error el documento queda intacto. Los eventos devueltos no traen
// Sequence; la asigna quien los anexa al libro (última + 1).
type Lifecycle struct {
	validator *Validator
	now       Clock
}

// NewLifecycle construye la máquina de estados.
func NewLifecycle(validator *Validator, clock Clock) *Lifecycle {
	if clock == nil {
		clock = time.Now
	}
	return &Lifecycle{validator: validator, now: clock}
}

// Validator devuelve el motor de validación asociado.
func (l *Lifecycle) Validator() *Validator { return l.validator }

// Now devuelve la hora del reloj inyectado.
func (l *Lifecycle) Now() time.Time { return l.now() }

// Submit draft → submitted. Exige una validación aceptada sobre el estado
// actual del documento, asigna la clave si falta y congela las partes.
func (l *Lifecycle) Submit(doc *entity.Document, result *ValidationResult) error {
	if err := CheckTransition(doc.Status, entity.StatusSubmitted); err != nil {
		return err
	}
	if !result.Valid() {
		return &ValidationFailure{Result: result}
	}
	if result.DocumentDigest != DocumentDigest(doc) {
		stale := &ValidationResult{ValidatedAt: result.ValidatedAt}
		stale.add("document", RuleStaleValidation, "el documento cambió después de validarse")
		return &ValidationFailure{Result: stale}
	}
	key := doc.AccessKey
	if key == "" {
		var err error
		if key, err = GenerateAccessKey(AccessKeyParamsFor(doc)); err != nil {
			return err
		}
	}
	now := l.now()
	doc.AccessKey = key
	doc.Status = entity.StatusSubmitted
	doc.SubmittedAt = &now
	doc.Issuer.FrozenAt = &now
	doc.Recipient.FrozenAt = &now
	doc.UpdatedAt = now
	return nil
}

// Authorize submitted → authorized a partir de una respuesta de la autoridad.
func (l *Lifecycle) Authorize(doc *entity.Document, resp *AuthorityResponse) (*entity.FiscalEvent, error) {
	if err := CheckTransition(doc.Status, entity.StatusAuthorized); err != nil {
		return nil, err
	}
	if err := expectVerdict(resp, VerdictAuthorized); err != nil {
		return nil, err
	}
	if resp.ProtocolNumber == "" {
		return nil, fmt.Errorf("fiscal: autorización sin número de protocolo")
	}
	at := responseTime(resp, l.now)
	doc.Status = entity.StatusAuthorized
	doc.ProtocolNumber = resp.ProtocolNumber
	doc.AuthorizedAt = &at
	doc.UpdatedAt = l.now()
	return &entity.FiscalEvent{
		DocumentID:     doc.ID,
		Kind:           entity.EventAuthorization,
		OccurredAt:     at,
		ProtocolNumber: resp.ProtocolNumber,
		Code:           resp.Code,
		Reason:         resp.Reason,
	}, nil
}

// Reject submitted → rejected. El número queda consumido: un reenvío corregido
// debe usar un número nuevo.
func (l *Lifecycle) Reject(doc *entity.Document, resp *AuthorityResponse) (*entity.FiscalEvent, error) {
	if err := CheckTransition(doc.Status, entity.StatusRejected); err != nil {
		return nil, err
	}
	if err := expectVerdict(resp, VerdictRejected); err != nil {
		return nil, err
	}
	at := responseTime(resp, l.now)
	doc.Status = entity.StatusRejected
	doc.RejectionCode = resp.Code
	doc.RejectionReason = resp.Reason
	doc.UpdatedAt = l.now()
	return &entity.FiscalEvent{
		DocumentID: doc.ID,
		Kind:       entity.EventRejection,
		OccurredAt: at,
		Code:       resp.Code,
		Reason:     resp.Reason,
	}, nil
}

// ApplyVerdict aplica una respuesta final de envío (autorización o rechazo).
func (l *Lifecycle) ApplyVerdict(doc *entity.Document, resp *AuthorityResponse) (*entity.FiscalEvent, error) {
	switch resp.Verdict {
	case VerdictAuthorized:
		return l.Authorize(doc, resp)
	case VerdictRejected:
		return l.Reject(doc, resp)
	}
	return nil, fmt.Errorf("fiscal: el veredicto %s no avanza el estado del documento", resp.Verdict)
}

// PrepareCancellation valida la solicitud de cancelación antes de llamar a la autoridad.
func (l *Lifecycle) PrepareCancellation(doc *entity.Document, justification string) error {
	if err := CheckTransition(doc.Status, entity.StatusCancelled); err != nil {
		return err
	}
	res, err := l.validator.ValidateCancellation(doc, justification, l.now())
	if err != nil {
		return err
	}
	if !res.Valid() {
		return &ValidationFailure{Result: res}
	}
	return nil
}

// Cancel authorized → cancelled. El evento referencia el protocolo de la autorización previa.
// El plazo se controla en PrepareCancellation, antes de llamar a la autoridad; una
// cancelación ya confirmada se registra aunque el plazo haya vencido entretanto.
func (l *Lifecycle) Cancel(doc *entity.Document, justification string, resp *AuthorityResponse) (*entity.FiscalEvent, error) {
	if err := CheckTransition(doc.Status, entity.StatusCancelled); err != nil {
		return nil, err
	}
	res, err := l.validator.ValidateCancellation(doc, justification, l.now())
	if err != nil {
		return nil, err
	}
	if res = res.without(RuleWindowExpired); !res.Valid() {
		return nil, &ValidationFailure{Result: res}
	}
	if err := expectVerdict(resp, VerdictCancelled); err != nil {
		return nil, err
	}
	at := responseTime(resp, l.now)
	ev := &entity.FiscalEvent{
		DocumentID:         doc.ID,
		Kind:               entity.EventCancellation,
		OccurredAt:         at,
		ProtocolNumber:     resp.ProtocolNumber,
		Code:               resp.Code,
		Reason:             resp.Reason,
		Justification:      strings.TrimSpace(justification),
		ReferencedProtocol: doc.ProtocolNumber,
	}
	doc.Status = entity.StatusCancelled
	doc.CancelledAt = &at
	doc.CancelProtocol = resp.ProtocolNumber
	doc.UpdatedAt = l.now()
	return ev, nil
}

// PrepareCorrection valida una carta de corrección antes de llamar a la autoridad.
func (l *Lifecycle) PrepareCorrection(doc *entity.Document, text string) error {
	res, err := l.validator.ValidateCorrection(doc, text, l.now())
	if err != nil {
		return err
	}
	if res.Has(RuleInvalidStatus) {
		return &InvalidTransitionError{From: doc.Status, To: entity.StatusAuthorized}
	}
	if !res.Valid() {
		return &ValidationFailure{Result: res}
	}
	return nil
}

// Correct registra una carta de corrección. No cambia el estado.
func (l *Lifecycle) Correct(doc *entity.Document, text string, resp *AuthorityResponse) (*entity.FiscalEvent, error) {
	if err := l.PrepareCorrection(doc, text); err != nil {
		return nil, err
	}
	if err := expectVerdict(resp, VerdictRegistered); err != nil {
		return nil, err
	}
	doc.UpdatedAt = l.now()
	return &entity.FiscalEvent{
		DocumentID:         doc.ID,
		Kind:               entity.EventCorrection,
		OccurredAt:         responseTime(resp, l.now),
		ProtocolNumber:     resp.ProtocolNumber,
		Code:               resp.Code,
		Reason:             resp.Reason,
		Justification:      strings.TrimSpace(text),
		ReferencedProtocol: doc.ProtocolNumber,
	}, nil
}

// Void draft → voided cuando el número del borrador cae en un rango inutilizado.
func (l *Lifecycle) Void(doc *entity.Document, justification string, resp *AuthorityResponse) (*entity.FiscalEvent, error) {
	if err := CheckTransition(doc.Status, entity.StatusVoided); err != nil {
		return nil, err
	}
	if err := expectVerdict(resp, VerdictRegistered); err != nil {
		return nil, err
	}
	at := responseTime(resp, l.now)
	doc.Status = entity.StatusVoided
	doc.UpdatedAt = l.now()
	return &entity.FiscalEvent{
		DocumentID:     doc.ID,
		Kind:           entity.EventRangeVoiding,
		OccurredAt:     at,
		ProtocolNumber: resp.ProtocolNumber,
		Code:           resp.Code,
		Reason:         resp.Reason,
		Justification:  strings.TrimSpace(justification),
	}, nil
}

// RangeVoidingEvent evento del registro de inutilización (sin documento asociado).
func RangeVoidingEvent(rangeID, justification string, resp *AuthorityResponse, clock Clock) *entity.FiscalEvent {
	return &entity.FiscalEvent{
		DocumentID:     rangeID,
		Kind:           entity.EventRangeVoiding,
		OccurredAt:     responseTime(resp, clock),
		ProtocolNumber: resp.ProtocolNumber,
		Code:           resp.Code,
		Reason:         resp.Reason,
		Justification:  strings.TrimSpace(justification),
	}
}

func expectVerdict(resp *AuthorityResponse, want Verdict) error {
	if resp == nil {
		return fmt.Errorf("fiscal: respuesta de la autoridad ausente")
	}
	if resp.Verdict != want {
		if err := resp.Err(); err != nil {
			return err
		}
		return fmt.Errorf("fiscal: veredicto %s inesperado (se esperaba %s)", resp.Verdict, want)
	}
	return nil
}

func responseTime(resp *AuthorityResponse, clock Clock) time.Time {
	if resp != nil && !resp.ReceivedAt.IsZero() {
		return resp.ReceivedAt
	}
	if clock == nil {
		return time.Now()
	}
	return clock()
}
