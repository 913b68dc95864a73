package entity

import "time"

// Series flujo de numeración de un emisor para un modelo de documento.
// NextNumber es el próximo número a asignar; solo avanza.
type Series struct {
	IssuerID   string
	DocKind    string
	Series     int
	NextNumber int64
	UpdatedAt  time.Time
}

// VoidedRange rango de números nunca emitidos inutilizado ante la autoridad.
type VoidedRange struct {
	ID             string
	IssuerID       string
	IssuerTaxID    string
	DocKind        string
	Series         int
	From           int64
	To             int64
	Justification  string
	ProtocolNumber string
	VoidedAt       time.Time
	CreatedAt      time.Time
}
