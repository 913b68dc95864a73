// Package fiscal contiene catálogos y validaciones alineados al Manual de
// Orientação do Contribuinte (NF-e/NFC-e v4.00) usados por el motor de emisión.
package fiscal

// =============================================================================
// Modelo del documento (campo ide/mod)
// =============================================================================

const (
	DocKindNFe  = "55" // Nota Fiscal Eletrônica
	DocKindNFCe = "65" // Nota Fiscal de Consumidor Eletrônica
)

// ValidDocKinds modelos de documento admitidos.
var ValidDocKinds = map[string]bool{
	DocKindNFe:  true,
	DocKindNFCe: true,
}

// =============================================================================
// Forma de emisión (campo ide/tpEmis)
// =============================================================================

const (
	EmissionNormal           = "1" // Emisión normal
	EmissionContingencyFS    = "2" // Contingencia FS-IA
	EmissionContingencySVCAN = "6" // Contingencia SVC-AN
	EmissionContingencySVCRS = "7" // Contingencia SVC-RS
	EmissionOffline          = "9" // Contingencia off-line NFC-e
)

// ValidEmissionModes formas de emisión admitidas.
var ValidEmissionModes = map[string]bool{
	EmissionNormal:           true,
	EmissionContingencyFS:    true,
	EmissionContingencySVCAN: true,
	EmissionContingencySVCRS: true,
	EmissionOffline:          true,
}

// =============================================================================
// Ambiente (campo ide/tpAmb)
// =============================================================================

const (
	EnvironmentProduction   = "1"
	EnvironmentHomologation = "2"
)

// =============================================================================
// Códigos de UF (IBGE) usados como código de región en la clave de acceso.
// =============================================================================

// RegionCodes mapea la sigla de la UF a su código IBGE de 2 dígitos.
var RegionCodes = map[string]string{
	"RO": "11", "AC": "12", "AM": "13", "RR": "14", "PA": "15", "AP": "16", "TO": "17",
	"MA": "21", "PI": "22", "CE": "23", "RN": "24", "PB": "25", "PE": "26", "AL": "27",
	"SE": "28", "BA": "29",
	"MG": "31", "ES": "32", "RJ": "33", "SP": "35",
	"PR": "41", "SC": "42", "RS": "43",
	"MS": "50", "MT": "51", "GO": "52", "DF": "53",
}

// RegionCodeForState devuelve el código IBGE de la UF o "" si no existe.
func RegionCodeForState(uf string) string {
	return RegionCodes[uf]
}

// =============================================================================
// Categorías de tributo. El orden de TaxCategoryOrder es el orden del grupo
// <imposto> en el XML y no debe alterarse.
// =============================================================================

const (
	TaxICMS   = "ICMS"
	TaxIPI    = "IPI"
	TaxPIS    = "PIS"
	TaxCOFINS = "COFINS"
	TaxISSQN  = "ISSQN"
)

// TaxCategoryOrder orden canónico de los tributos dentro de cada línea.
var TaxCategoryOrder = []string{TaxICMS, TaxIPI, TaxPIS, TaxCOFINS, TaxISSQN}

// ValidTaxCategories categorías de tributo admitidas.
var ValidTaxCategories = map[string]bool{
	TaxICMS: true, TaxIPI: true, TaxPIS: true, TaxCOFINS: true, TaxISSQN: true,
}

// TaxCategoryRank devuelve la posición canónica de la categoría (o -1).
func TaxCategoryRank(category string) int {
	for i, c := range TaxCategoryOrder {
		if c == category {
			return i
		}
	}
	return -1
}

// =============================================================================
// Medios de pago (campo pag/detPag/tPag)
// =============================================================================

const (
	PaymentCash        = "01" // Dinheiro
	PaymentCheck       = "02" // Cheque
	PaymentCreditCard  = "03" // Cartão de crédito
	PaymentDebitCard   = "04" // Cartão de débito
	PaymentStoreCredit = "05" // Crédito loja
	PaymentBoleto      = "15" // Boleto bancário
	PaymentPIX         = "17" // Pagamento instantâneo (PIX)
	PaymentNone        = "90" // Sem pagamento
	PaymentOther       = "99" // Outros
)

// ValidPaymentMeans medios de pago admitidos.
var ValidPaymentMeans = map[string]bool{
	PaymentCash: true, PaymentCheck: true, PaymentCreditCard: true, PaymentDebitCard: true,
	PaymentStoreCredit: true, PaymentBoleto: true, PaymentPIX: true, PaymentNone: true, PaymentOther: true,
}

// =============================================================================
// Códigos de estado de la autoridad (cStat). Solo los que el motor interpreta;
// cualquier otro código se conserva tal cual en el evento.
// =============================================================================

const (
	StatusAuthorized         = "100" // Autorizado o uso da NF-e
	StatusCancelled          = "101" // Cancelamento de NF-e homologado
	StatusRangeVoided        = "102" // Inutilização de número homologado
	StatusBatchReceived      = "103" // Lote recebido com sucesso
	StatusBatchProcessing    = "105" // Lote em processamento
	StatusServiceUnavailable = "108" // Serviço paralisado momentaneamente
	StatusServiceStopped     = "109" // Serviço paralisado sem previsão
	StatusDenied             = "110" // Uso denegado
	StatusEventRegistered    = "135" // Evento registrado e vinculado a NF-e
	StatusDeniedIssuer       = "301" // Uso denegado: irregularidade fiscal do emitente
	StatusDeniedRecipient    = "302" // Uso denegado: irregularidade fiscal do destinatário
	StatusDeniedNotEnabled   = "303" // Uso denegado: destinatário não habilitado na UF
	StatusDuplicate          = "204" // Duplicidade de NF-e
	StatusInvalidSignature   = "297" // Assinatura difere do calculado
	StatusNotFound           = "217" // NF-e não consta na base de dados
	StatusAlreadyCancelled   = "218" // NF-e já está cancelada
	StatusProtocolMismatch   = "222" // Protocolo de autorização difere do cadastrado
	StatusSchemaError        = "225" // Falha no schema XML
	StatusCancelWindow       = "501" // Prazo de cancelamento superior ao previsto
	StatusInvalidKey         = "236" // Chave de acesso com dígito verificador inválido
)

// TransientStatusCodes códigos que indican indisponibilidad temporal (se reintenta).
var TransientStatusCodes = map[string]bool{
	StatusServiceUnavailable: true,
	StatusServiceStopped:     true,
}

// PendingStatusCodes acuse de un lote aún sin resultado: no es veredicto.
var PendingStatusCodes = map[string]bool{
	StatusBatchReceived:   true,
	StatusBatchProcessing: true,
}

// DenialStatusCodes denegación de uso: el único rechazo que una consulta de
// estado informa sobre el documento mismo.
var DenialStatusCodes = map[string]bool{
	StatusDenied:           true,
	StatusDeniedIssuer:     true,
	StatusDeniedRecipient:  true,
	StatusDeniedNotEnabled: true,
}

// =============================================================================
// Tipos de evento (campo tpEvento) enviados a la autoridad.
// =============================================================================

const (
	EventTypeCancellation = "110111"
	EventTypeCorrection   = "110110"
)
