package entity

import "time"

// Estados del emisor.
const (
	IssuerActive    = "active"
	IssuerSuspended = "suspended"
)

// Issuer emisor registrado (tenant). Su perfil se copia como instantánea en
// cada documento al crear el borrador.
type Issuer struct {
	ID            string
	Profile       Party  // Datos fiscales vivos del emisor
	RegionCode    string // Código IBGE de la UF
	EmissionMode  string // Forma de emisión por defecto
	DefaultKind   string // Modelo por defecto
	DefaultSeries int
	Status        string // active, suspended
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active indica si el emisor puede emitir documentos.
func (i *Issuer) Active() bool {
	return i != nil && i.Status == IssuerActive
}
