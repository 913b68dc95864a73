package fiscal

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

// DocumentDigest SHA-256 (hex) del contenido fiscal del documento: partes,
// líneas, totales y fechas. Excluye estado, clave de acceso y metadatos de la
// autoridad, de modo que el resumen obtenido al validar sigue siendo comparable
// después de asignar la clave.
func DocumentDigest(doc *entity.Document) string {
	var sb strings.Builder
	w := func(fields ...string) {
		for _, f := range fields {
			sb.WriteString(f)
			sb.WriteByte('|')
		}
		sb.WriteByte('\n')
	}
	w(doc.IssuerID, doc.DocKind, strconv.Itoa(doc.Series), strconv.FormatInt(doc.Number, 10),
		doc.RegionCode, doc.EmissionMode, doc.NumericCode)
	writeParty(w, doc.Issuer)
	writeParty(w, doc.Recipient)
	for _, l := range doc.Lines {
		w(strconv.Itoa(l.ItemNumber), l.ProductCode, l.Description, l.NCM, l.CFOP, l.Unit,
			fixed(l.Quantity, 4), fixed(l.UnitPrice, 4), fixed(l.Discount, 2), fixed(l.Total, 2))
		for _, t := range l.Taxes {
			w(t.Category, fixed(t.Base, 2), fixed(t.Rate, 4), fixed(t.Value, 2))
		}
	}
	w(fixed(doc.LinesTotal, 2), fixed(doc.Surcharges, 2), fixed(doc.Discounts, 2),
		fixed(doc.TaxTotal, 2), fixed(doc.Total, 2))
	w(doc.PaymentMeans, formatOptionalDate(doc.DueDate), doc.Notes, doc.IssuedAt.UTC().Format(time.RFC3339))
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func writeParty(w func(...string), p entity.Party) {
	a := p.Address
	w(string(p.Kind), p.TaxID, p.LegalName, p.TradeName, p.StateRegistration, p.MunicipalRegistration, p.Email)
	w(a.Street, a.Number, a.Complement, a.District, a.CityCode, a.City, a.State, a.PostalCode, a.Country)
}

func fixed(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.In(FiscalZone).Format("2006-01-02")
}
