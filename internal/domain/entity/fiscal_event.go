package entity

import "time"

// EventKind tipo de evento del ciclo de vida.
type EventKind string

const (
	EventAuthorization EventKind = "authorization"
	EventRejection     EventKind = "rejection"
	EventCancellation  EventKind = "cancellation"
	EventCorrection    EventKind = "correction"
	EventRangeVoiding  EventKind = "range-voiding"
)

// FiscalEvent registro inmutable de un hecho relevante del documento.
// Sequence es por documento: empieza en 1, estrictamente creciente y sin huecos.
type FiscalEvent struct {
	ID                 string
	DocumentID         string
	Sequence           int
	Kind               EventKind
	OccurredAt         time.Time
	ProtocolNumber     string // Protocolo de la autoridad, si aplica
	Code               string // Código crudo de la autoridad
	Reason             string // Motivo crudo de la autoridad
	Justification      string // Obligatoria en cancelación y corrección
	ReferencedProtocol string // Protocolo de la autorización previa (cancelación)
	CreatedAt          time.Time
}
