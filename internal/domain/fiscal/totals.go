package fiscal

import (
	"github.com/shopspring/decimal"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

var hundred = decimal.NewFromInt(100)

// ComputeLine recalcula el total de la línea (cantidad × precio − descuento) y
// el valor de cada tributo (base × alícuota / 100). Una base vacía toma el total.
func ComputeLine(l *entity.DocumentLine) {
	l.Total = l.Quantity.Mul(l.UnitPrice).Sub(l.Discount).Round(2)
	for i := range l.Taxes {
		t := &l.Taxes[i]
		if t.Base.IsZero() {
			t.Base = l.Total
		}
		t.Value = t.Base.Mul(t.Rate).Div(hundred).Round(2)
	}
}

// ComputeTotals numera las líneas, las recalcula y deriva los totales del documento:
// Total = Σ totales de línea + cargos − descuentos.
func ComputeTotals(doc *entity.Document) {
	linesTotal := decimal.Zero
	taxTotal := decimal.Zero
	for i := range doc.Lines {
		l := &doc.Lines[i]
		l.ItemNumber = i + 1
		ComputeLine(l)
		linesTotal = linesTotal.Add(l.Total)
		for _, t := range l.Taxes {
			taxTotal = taxTotal.Add(t.Value)
		}
	}
	doc.LinesTotal = linesTotal.Round(2)
	doc.TaxTotal = taxTotal.Round(2)
	doc.Total = doc.LinesTotal.Add(doc.Surcharges).Sub(doc.Discounts).Round(2)
}

// withinTolerance indica si |a − b| ≤ tol.
func withinTolerance(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tol)
}
