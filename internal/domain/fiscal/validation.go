package fiscal

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	pkgfiscal "github.com/jhoicas/fiscal-api/pkg/fiscal"
)

// Identificadores de regla devueltos en cada violación.
const (
	RuleRequired                    = "required"
	RuleFormat                      = "format"
	RuleTaxIDLength                 = "tax_id_length"
	RuleTaxIDCheckDigit             = "tax_id_check_digit"
	RuleRegionMismatch              = "region_mismatch"
	RuleNoLines                     = "no_lines"
	RuleNonPositiveQuantity         = "non_positive_quantity"
	RuleNegativeAmount              = "negative_amount"
	RuleLineTotalMismatch           = "line_total_mismatch"
	RuleTaxValueMismatch            = "tax_value_mismatch"
	RuleDuplicateTax                = "duplicate_tax"
	RuleLinesTotalMismatch          = "lines_total_mismatch"
	RuleTaxTotalMismatch            = "tax_total_mismatch"
	RuleTotalMismatch               = "total_mismatch"
	RuleFutureEmission              = "future_emission"
	RuleAuthorizationBeforeEmission = "authorization_before_emission"
	RuleDueBeforeEmission           = "due_before_emission"
	RuleInvalidStatus               = "invalid_status"
	RuleJustificationTooShort       = "justification_min_length"
	RuleJustificationTooLong        = "justification_max_length"
	RuleWindowExpired               = "cancellation_window_expired"
	RuleStaleValidation             = "stale_validation"
	RuleInvalidRange                = "invalid_range"
)

// Límites de textos y rangos.
const (
	MaxJustificationLength = 255
	MaxCorrectionLength    = 1000
	MaxRangeSize           = 10000
)

// Violation incumplimiento de una regla sobre un campo.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s [%s]: %s", v.Field, v.Rule, v.Message)
}

// ValidationResult lista completa de violaciones de una validación.
// DocumentDigest identifica el estado exacto del documento que se validó.
type ValidationResult struct {
	Violations     []Violation `json:"violations"`
	DocumentDigest string      `json:"document_digest,omitempty"`
	ValidatedAt    time.Time   `json:"validated_at"`
}

// Valid indica que no hubo violaciones.
func (r *ValidationResult) Valid() bool {
	return r != nil && len(r.Violations) == 0
}

// Has indica si alguna violación corresponde a la regla.
func (r *ValidationResult) Has(rule string) bool {
	if r == nil {
		return false
	}
	for _, v := range r.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

// without copia del resultado sin las violaciones de la regla.
func (r *ValidationResult) without(rule string) *ValidationResult {
	out := &ValidationResult{DocumentDigest: r.DocumentDigest, ValidatedAt: r.ValidatedAt}
	for _, v := range r.Violations {
		if v.Rule != rule {
			out.Violations = append(out.Violations, v)
		}
	}
	return out
}

func (r *ValidationResult) add(field, rule, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{Field: field, Rule: rule, Message: fmt.Sprintf(format, args...)})
}

// ValidationConfig parámetros configurables del motor de validación.
type ValidationConfig struct {
	Tolerance              decimal.Decimal // Tolerancia de redondeo (0.01)
	ClockSkew              time.Duration   // Margen para fechas de emisión futuras
	MinJustificationLength int             // Longitud mínima de justificaciones
	CancellationWindow     time.Duration   // Plazo desde la autorización para cancelar (0 = sin límite)
}

// DefaultValidationConfig valores por defecto.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		Tolerance:              decimal.RequireFromString("0.01"),
		ClockSkew:              5 * time.Minute,
		MinJustificationLength: 15,
		CancellationWindow:     24 * time.Hour,
	}
}

// Validator motor de validación. Sin estado mutable: seguro para uso concurrente.
type Validator struct {
	cfg ValidationConfig
}

// NewValidator construye el validador completando valores no positivos con los por defecto.
func NewValidator(cfg ValidationConfig) *Validator {
	def := DefaultValidationConfig()
	if !cfg.Tolerance.IsPositive() {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.ClockSkew < 0 {
		cfg.ClockSkew = def.ClockSkew
	}
	if cfg.MinJustificationLength <= 0 {
		cfg.MinJustificationLength = def.MinJustificationLength
	}
	return &Validator{cfg: cfg}
}

// Config devuelve la configuración efectiva.
func (v *Validator) Config() ValidationConfig { return v.cfg }

// Validate aplica todas las reglas y devuelve la lista completa de violaciones.
// Solo retorna error ante fallas estructurales (documento nulo o sin emisor asociado).
func (v *Validator) Validate(doc *entity.Document, now time.Time) (*ValidationResult, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: documento nulo", ErrStructural)
	}
	if doc.IssuerID == "" {
		return nil, fmt.Errorf("%w: documento sin emisor asociado", ErrStructural)
	}
	res := &ValidationResult{ValidatedAt: now}

	v.validateIdentity(res, doc)
	v.validateParty(res, "issuer", doc.Issuer, true)
	v.validateParty(res, "recipient", doc.Recipient, false)
	if doc.Issuer.Address.State != "" && doc.RegionCode != "" &&
		pkgfiscal.RegionCodeForState(doc.Issuer.Address.State) != doc.RegionCode {
		res.add("region_code", RuleRegionMismatch, "el código de región %s no corresponde a la UF %s del emisor",
			doc.RegionCode, doc.Issuer.Address.State)
	}
	v.validateLines(res, doc)
	v.validateTotals(res, doc)
	v.validateDates(res, doc, now)

	res.DocumentDigest = DocumentDigest(doc)
	return res, nil
}

func (v *Validator) validateIdentity(res *ValidationResult, doc *entity.Document) {
	if !pkgfiscal.ValidDocKinds[doc.DocKind] {
		res.add("doc_kind", RuleFormat, "modelo de documento %q no admitido", doc.DocKind)
	}
	if doc.Series < 0 || doc.Series > 999 {
		res.add("series", RuleFormat, "la serie debe estar entre 0 y 999")
	}
	if doc.Number < 1 || doc.Number > 999_999_999 {
		res.add("number", RuleFormat, "el número debe estar entre 1 y 999999999")
	}
	if len(doc.RegionCode) != 2 || !isDigits(doc.RegionCode) {
		res.add("region_code", RuleFormat, "el código de región debe tener 2 dígitos")
	}
	if !pkgfiscal.ValidEmissionModes[doc.EmissionMode] {
		res.add("emission_mode", RuleFormat, "forma de emisión %q no admitida", doc.EmissionMode)
	}
	if len(doc.NumericCode) != 8 || !isDigits(doc.NumericCode) {
		res.add("numeric_code", RuleFormat, "el código numérico debe tener 8 dígitos")
	}
	if doc.PaymentMeans != "" && !pkgfiscal.ValidPaymentMeans[doc.PaymentMeans] {
		res.add("payment_means", RuleFormat, "medio de pago %q no admitido", doc.PaymentMeans)
	}
	if doc.AccessKey != "" && !VerifyAccessKey(doc.AccessKey) {
		res.add("access_key", RuleFormat, "la clave de acceso asignada no es válida")
	}
}

func (v *Validator) validateParty(res *ValidationResult, prefix string, p entity.Party, issuer bool) {
	if strings.TrimSpace(p.LegalName) == "" {
		res.add(prefix+".legal_name", RuleRequired, "razón social obligatoria")
	}
	digits := pkgfiscal.ExtractDigits(p.TaxID)
	switch p.Kind {
	case entity.PartyIndividual:
		if len(digits) != pkgfiscal.IndividualTaxIDLength {
			res.add(prefix+".tax_id", RuleTaxIDLength, "persona física requiere %d dígitos, se recibieron %d",
				pkgfiscal.IndividualTaxIDLength, len(digits))
		} else if err := pkgfiscal.ValidateIndividualTaxID(p.TaxID); err != nil {
			res.add(prefix+".tax_id", RuleTaxIDCheckDigit, "%v", err)
		}
	case entity.PartyOrganization:
		if len(digits) != pkgfiscal.OrganizationTaxIDLength {
			res.add(prefix+".tax_id", RuleTaxIDLength, "persona jurídica requiere %d dígitos, se recibieron %d",
				pkgfiscal.OrganizationTaxIDLength, len(digits))
		} else if err := pkgfiscal.ValidateOrganizationTaxID(p.TaxID); err != nil {
			res.add(prefix+".tax_id", RuleTaxIDCheckDigit, "%v", err)
		}
	default:
		res.add(prefix+".kind", RuleRequired, "tipo de persona obligatorio (individual u organization)")
	}
	if len(keySeparators.Replace(p.TaxID)) != len(digits) {
		res.add(prefix+".tax_id", RuleFormat, "la identificación contiene caracteres no numéricos")
	}
	a := p.Address
	if strings.TrimSpace(a.Street) == "" {
		res.add(prefix+".address.street", RuleRequired, "dirección obligatoria")
	}
	if strings.TrimSpace(a.City) == "" {
		res.add(prefix+".address.city", RuleRequired, "municipio obligatorio")
	}
	if pkgfiscal.RegionCodeForState(a.State) == "" {
		res.add(prefix+".address.state", RuleFormat, "UF %q inválida", a.State)
	}
	if issuer {
		if a.CityCode == "" || !isDigits(a.CityCode) || len(a.CityCode) != 7 {
			res.add(prefix+".address.city_code", RuleFormat, "código de municipio de 7 dígitos obligatorio")
		}
		if strings.TrimSpace(p.StateRegistration) == "" {
			res.add(prefix+".state_registration", RuleRequired, "inscripción estatal obligatoria para el emisor")
		}
	}
}

func (v *Validator) validateLines(res *ValidationResult, doc *entity.Document) {
	if len(doc.Lines) == 0 {
		res.add("lines", RuleNoLines, "el documento debe tener al menos una línea")
		return
	}
	tol := v.cfg.Tolerance
	for i, l := range doc.Lines {
		f := func(name string) string { return fmt.Sprintf("lines[%d].%s", i, name) }
		if strings.TrimSpace(l.Description) == "" {
			res.add(f("description"), RuleRequired, "descripción obligatoria")
		}
		if !l.Quantity.IsPositive() {
			res.add(f("quantity"), RuleNonPositiveQuantity, "la cantidad debe ser mayor a cero")
		}
		if l.UnitPrice.IsNegative() {
			res.add(f("unit_price"), RuleNegativeAmount, "el precio unitario no puede ser negativo")
		}
		if l.Discount.IsNegative() {
			res.add(f("discount"), RuleNegativeAmount, "el descuento no puede ser negativo")
		}
		expected := l.Quantity.Mul(l.UnitPrice).Sub(l.Discount)
		if !withinTolerance(l.Total, expected, tol) {
			res.add(f("total"), RuleLineTotalMismatch, "total %s no coincide con cantidad × precio − descuento (%s)",
				l.Total.StringFixed(2), expected.StringFixed(2))
		}
		seen := make(map[string]bool, len(l.Taxes))
		for j, t := range l.Taxes {
			tf := fmt.Sprintf("lines[%d].taxes[%d]", i, j)
			if !pkgfiscal.ValidTaxCategories[t.Category] {
				res.add(tf+".category", RuleFormat, "categoría de tributo %q no admitida", t.Category)
			}
			if seen[t.Category] {
				res.add(tf+".category", RuleDuplicateTax, "tributo %s repetido en la línea", t.Category)
			}
			seen[t.Category] = true
			if t.Rate.IsNegative() || t.Base.IsNegative() {
				res.add(tf, RuleNegativeAmount, "base y alícuota no pueden ser negativas")
			}
			expectedTax := t.Base.Mul(t.Rate).Div(hundred)
			if !withinTolerance(t.Value, expectedTax, tol) {
				res.add(tf+".value", RuleTaxValueMismatch, "valor %s no coincide con base × alícuota (%s)",
					t.Value.StringFixed(2), expectedTax.StringFixed(2))
			}
		}
	}
}

func (v *Validator) validateTotals(res *ValidationResult, doc *entity.Document) {
	tol := v.cfg.Tolerance
	if doc.Surcharges.IsNegative() {
		res.add("surcharges", RuleNegativeAmount, "los cargos no pueden ser negativos")
	}
	if doc.Discounts.IsNegative() {
		res.add("discounts", RuleNegativeAmount, "el descuento global no puede ser negativo")
	}
	sumLines := decimal.Zero
	sumTaxes := decimal.Zero
	for _, l := range doc.Lines {
		sumLines = sumLines.Add(l.Total)
		for _, t := range l.Taxes {
			sumTaxes = sumTaxes.Add(t.Value)
		}
	}
	if !withinTolerance(doc.LinesTotal, sumLines, tol) {
		res.add("lines_total", RuleLinesTotalMismatch, "total de líneas %s no coincide con la suma (%s)",
			doc.LinesTotal.StringFixed(2), sumLines.StringFixed(2))
	}
	if !withinTolerance(doc.TaxTotal, sumTaxes, tol) {
		res.add("tax_total", RuleTaxTotalMismatch, "total de tributos %s no coincide con la suma (%s)",
			doc.TaxTotal.StringFixed(2), sumTaxes.StringFixed(2))
	}
	expected := sumLines.Add(doc.Surcharges).Sub(doc.Discounts)
	if !withinTolerance(doc.Total, expected, tol) {
		res.add("total", RuleTotalMismatch, "total %s no coincide con líneas + cargos − descuentos (%s)",
			doc.Total.StringFixed(2), expected.StringFixed(2))
	}
}

func (v *Validator) validateDates(res *ValidationResult, doc *entity.Document, now time.Time) {
	if doc.IssuedAt.IsZero() {
		res.add("issued_at", RuleRequired, "fecha de emisión obligatoria")
		return
	}
	if doc.IssuedAt.After(now.Add(v.cfg.ClockSkew)) {
		res.add("issued_at", RuleFutureEmission, "la fecha de emisión %s está en el futuro",
			doc.IssuedAt.In(FiscalZone).Format(time.RFC3339))
	}
	if doc.AuthorizedAt != nil && doc.AuthorizedAt.Before(doc.IssuedAt) {
		res.add("authorized_at", RuleAuthorizationBeforeEmission, "la autorización no puede ser anterior a la emisión")
	}
	if doc.DueDate != nil && doc.DueDate.In(FiscalZone).Format("2006-01-02") < doc.IssuedAt.In(FiscalZone).Format("2006-01-02") {
		res.add("due_date", RuleDueBeforeEmission, "el vencimiento no puede ser anterior a la emisión")
	}
}

// ValidateCancellation regla cruzada de cancelación: el documento debe estar
// autorizado, dentro del plazo, y la justificación debe alcanzar la longitud mínima.
func (v *Validator) ValidateCancellation(doc *entity.Document, justification string, now time.Time) (*ValidationResult, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: documento nulo", ErrStructural)
	}
	res := &ValidationResult{ValidatedAt: now}
	if doc.Status != entity.StatusAuthorized {
		res.add("status", RuleInvalidStatus, "solo se cancela un documento autorizado (estado actual: %s)", doc.Status)
	}
	if doc.ProtocolNumber == "" {
		res.add("protocol_number", RuleRequired, "el documento no tiene protocolo de autorización")
	}
	v.checkJustification(res, "justification", justification, MaxJustificationLength)
	if v.cfg.CancellationWindow > 0 && doc.AuthorizedAt != nil &&
		now.Sub(*doc.AuthorizedAt) > v.cfg.CancellationWindow {
		res.add("authorized_at", RuleWindowExpired, "plazo de cancelación de %s vencido", v.cfg.CancellationWindow)
	}
	return res, nil
}

// ValidateCorrection reglas de la carta de corrección: documento autorizado y texto válido.
func (v *Validator) ValidateCorrection(doc *entity.Document, text string, now time.Time) (*ValidationResult, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: documento nulo", ErrStructural)
	}
	res := &ValidationResult{ValidatedAt: now}
	if doc.Status != entity.StatusAuthorized {
		res.add("status", RuleInvalidStatus, "solo se corrige un documento autorizado (estado actual: %s)", doc.Status)
	}
	v.checkJustification(res, "correction", text, MaxCorrectionLength)
	return res, nil
}

// ValidateVoidRange reglas de la inutilización de un rango de números.
func (v *Validator) ValidateVoidRange(docKind string, series int, from, to int64, justification string, now time.Time) *ValidationResult {
	res := &ValidationResult{ValidatedAt: now}
	if !pkgfiscal.ValidDocKinds[docKind] {
		res.add("doc_kind", RuleFormat, "modelo de documento %q no admitido", docKind)
	}
	if series < 0 || series > 999 {
		res.add("series", RuleFormat, "la serie debe estar entre 0 y 999")
	}
	if from < 1 || to < from || to > 999_999_999 {
		res.add("range", RuleInvalidRange, "rango %d-%d inválido", from, to)
	} else if to-from+1 > MaxRangeSize {
		res.add("range", RuleInvalidRange, "el rango no puede superar %d números", MaxRangeSize)
	}
	v.checkJustification(res, "justification", justification, MaxJustificationLength)
	return res
}

func (v *Validator) checkJustification(res *ValidationResult, field, text string, limit int) {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if n < v.cfg.MinJustificationLength {
		res.add(field, RuleJustificationTooShort, "longitud mínima no alcanzada: %d de %d caracteres",
			n, v.cfg.MinJustificationLength)
	}
	if n > limit {
		res.add(field, RuleJustificationTooLong, "longitud máxima de %d caracteres superada", limit)
	}
}
