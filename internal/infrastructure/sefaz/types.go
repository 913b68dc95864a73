// Package sefaz implementa la integración con la autoridad fiscal: XML del
// documento, firma, transporte SOAP, autoridad simulada y cliente con reintentos.
package sefaz

import (
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
)

// Namespace y versión del leiaute del documento.
const (
	NsNFe         = "http://www.portalfiscal.inf.br/nfe"
	LayoutVersion = "4.00"
	EventVersion  = "1.00"
)

// Ambientes de la autoridad.
const (
	EnvDev  = "dev"  // Sin autoridad real: FakeAuthority
	EnvTest = "test" // Homologación
	EnvProd = "prod" // Producción
)

// Operaciones del transporte (etiquetas de métricas y trazas).
const (
	OpSubmit    = "submit"
	OpQuery     = "query"
	OpCancel    = "cancel"
	OpCorrect   = "correct"
	OpVoidRange = "void_range"
)

// DocumentBuildContext datos necesarios para serializar un documento.
type DocumentBuildContext struct {
	Document   *entity.Document
	Validation *fiscal.ValidationResult
	// Environment "1" producción, "2" homologación (tpAmb).
	Environment string
}
