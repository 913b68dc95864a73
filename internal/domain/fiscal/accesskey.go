// Package fiscal contiene el núcleo del motor de emisión: clave de acceso,
// motor de validación, cálculo de totales y máquina de estados del documento.
package fiscal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

// AccessKeyLength longitud de la clave de acceso (43 dígitos + verificador).
const AccessKeyLength = 44

// FiscalZone huso horario fijo del emisor (UTC-3). Fechas de clave y XML se
// expresan siempre en este huso, nunca en el del host.
var FiscalZone = time.FixedZone("-03:00", -3*60*60)

// AccessKeyParams campos de la clave de acceso, en el orden de concatenación.
// Cada valor se normaliza (se quitan espacios, '.', '/', '-') y se rellena
// con ceros a la izquierda hasta su ancho fijo.
type AccessKeyParams struct {
	RegionCode   string // 2 dígitos: código IBGE de la UF
	Period       string // 4 dígitos: AAMM de emisión
	IssuerTaxID  string // 14 dígitos: identificación del emisor
	DocKind      string // 2 dígitos: modelo
	Series       string // 3 dígitos
	Number       string // 9 dígitos
	EmissionMode string // 1 dígito
	NumericCode  string // 8 dígitos de relleno arbitrario
}

type keyField struct {
	name  string
	width int
	value func(p *AccessKeyParams) string
}

// accessKeyLayout orden y ancho fijo de cada campo (2+4+14+2+3+9+1+8 = 43).
var accessKeyLayout = []keyField{
	{"region_code", 2, func(p *AccessKeyParams) string { return p.RegionCode }},
	{"period", 4, func(p *AccessKeyParams) string { return p.Period }},
	{"issuer_tax_id", 14, func(p *AccessKeyParams) string { return p.IssuerTaxID }},
	{"doc_kind", 2, func(p *AccessKeyParams) string { return p.DocKind }},
	{"series", 3, func(p *AccessKeyParams) string { return p.Series }},
	{"number", 9, func(p *AccessKeyParams) string { return p.Number }},
	{"emission_mode", 1, func(p *AccessKeyParams) string { return p.EmissionMode }},
	{"numeric_code", 8, func(p *AccessKeyParams) string { return p.NumericCode }},
}

var keySeparators = strings.NewReplacer(" ", "", ".", "", "/", "", "-", "")

// GenerateAccessKey concatena los campos rellenados y agrega el dígito verificador.
// Nunca trunca: un campo más largo que su ancho devuelve InvalidInputError.
func GenerateAccessKey(p AccessKeyParams) (string, error) {
	var sb strings.Builder
	sb.Grow(AccessKeyLength)
	for _, f := range accessKeyLayout {
		raw := f.value(&p)
		v := keySeparators.Replace(raw)
		if v == "" {
			return "", &InvalidInputError{Field: f.name, Value: raw, Reason: "vacío"}
		}
		if !isDigits(v) {
			return "", &InvalidInputError{Field: f.name, Value: raw, Reason: "contiene caracteres no numéricos"}
		}
		if len(v) > f.width {
			return "", &InvalidInputError{Field: f.name, Value: raw,
				Reason: fmt.Sprintf("excede el ancho de %d dígitos", f.width)}
		}
		sb.WriteString(strings.Repeat("0", f.width-len(v)))
		sb.WriteString(v)
	}
	base := sb.String()
	dv, err := ComputeCheckDigit(base)
	if err != nil {
		return "", err
	}
	return base + strconv.Itoa(dv), nil
}

// ComputeCheckDigit calcula el dígito verificador módulo 11: se recorre la base
// de derecha a izquierda con pesos 2..9 cíclicos; resto 0 o 1 → 0, si no 11 − resto.
func ComputeCheckDigit(base string) (int, error) {
	if len(base) != AccessKeyLength-1 {
		return 0, &InvalidInputError{Field: "base", Value: base,
			Reason: fmt.Sprintf("se esperaban %d dígitos, se recibieron %d", AccessKeyLength-1, len(base))}
	}
	if !isDigits(base) {
		return 0, &InvalidInputError{Field: "base", Value: base, Reason: "contiene caracteres no numéricos"}
	}
	sum, weight := 0, 2
	for i := len(base) - 1; i >= 0; i-- {
		sum += int(base[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	r := sum % 11
	if r < 2 {
		return 0, nil
	}
	return 11 - r, nil
}

// VerifyAccessKey indica si la clave (con o sin separadores) tiene 44 dígitos
// y un dígito verificador correcto.
func VerifyAccessKey(key string) bool {
	k := keySeparators.Replace(key)
	if len(k) != AccessKeyLength || !isDigits(k) {
		return false
	}
	dv, err := ComputeCheckDigit(k[:AccessKeyLength-1])
	if err != nil {
		return false
	}
	return int(k[AccessKeyLength-1]-'0') == dv
}

// ParseAccessKey descompone una clave válida en sus campos.
func ParseAccessKey(key string) (AccessKeyParams, error) {
	k := keySeparators.Replace(key)
	if !VerifyAccessKey(k) {
		return AccessKeyParams{}, &InvalidInputError{Field: "access_key", Value: key, Reason: "clave de acceso inválida"}
	}
	var p AccessKeyParams
	pos := 0
	parts := make([]string, len(accessKeyLayout))
	for i, f := range accessKeyLayout {
		parts[i] = k[pos : pos+f.width]
		pos += f.width
	}
	p.RegionCode, p.Period, p.IssuerTaxID, p.DocKind = parts[0], parts[1], parts[2], parts[3]
	p.Series, p.Number, p.EmissionMode, p.NumericCode = parts[4], parts[5], parts[6], parts[7]
	return p, nil
}

// FormatAccessKey agrupa la clave en bloques de 4 dígitos para la representación impresa.
func FormatAccessKey(key string) string {
	k := keySeparators.Replace(key)
	var sb strings.Builder
	for i := 0; i < len(k); i += 4 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		end := i + 4
		if end > len(k) {
			end = len(k)
		}
		sb.WriteString(k[i:end])
	}
	return sb.String()
}

// AccessKeyParamsFor arma los parámetros de la clave a partir del documento.
func AccessKeyParamsFor(doc *entity.Document) AccessKeyParams {
	return AccessKeyParams{
		RegionCode:   doc.RegionCode,
		Period:       doc.IssuedAt.In(FiscalZone).Format("0601"),
		IssuerTaxID:  doc.Issuer.TaxID,
		DocKind:      doc.DocKind,
		Series:       strconv.Itoa(doc.Series),
		Number:       strconv.FormatInt(doc.Number, 10),
		EmissionMode: doc.EmissionMode,
		NumericCode:  doc.NumericCode,
	}
}

// AssignAccessKey asigna la clave si el documento aún no la tiene.
// Una clave ya asignada es inmutable y no se recalcula.
func AssignAccessKey(doc *entity.Document) error {
	if doc == nil {
		return ErrStructural
	}
	if doc.AccessKey != "" {
		return nil
	}
	key, err := GenerateAccessKey(AccessKeyParamsFor(doc))
	if err != nil {
		return err
	}
	doc.AccessKey = key
	return nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
