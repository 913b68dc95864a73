package entity

import "time"

// PartyKind tipo de persona.
type PartyKind string

const (
	PartyIndividual   PartyKind = "individual"   // Persona física (11 dígitos)
	PartyOrganization PartyKind = "organization" // Persona jurídica (14 dígitos)
)

// Party es la instantánea del emisor o del destinatario embebida en el documento.
// Es una copia por valor: cambios posteriores en el registro vivo no la afectan.
type Party struct {
	Kind                  PartyKind
	TaxID                 string
	LegalName             string
	TradeName             string
	StateRegistration     string
	MunicipalRegistration string
	Email                 string
	Address               Address
	FrozenAt              *time.Time // Momento en que la instantánea quedó congelada (submit)
}

// Address dirección de la parte.
type Address struct {
	Street     string
	Number     string
	Complement string
	District   string
	CityCode   string // Código IBGE del municipio
	City       string
	State      string // Sigla de la UF
	PostalCode string
	Country    string
}

// Clone copia la instantánea.
func (p Party) Clone() Party {
	c := p
	c.FrozenAt = cloneTime(p.FrozenAt)
	return c
}
