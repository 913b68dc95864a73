package entity

import "github.com/shopspring/decimal"

// DocumentLine representa un ítem gravado del documento.
// Total = Quantity × UnitPrice − Discount, siempre recalculado.
type DocumentLine struct {
	ID          string
	DocumentID  string
	ItemNumber  int    // nItem, desde 1
	ProductCode string
	Description string
	NCM         string // Clasificación fiscal de la mercancía
	CFOP        string // Código fiscal de operación
	Unit        string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
	Taxes       []TaxComponent
}

// TaxComponent desglose de un tributo sobre la línea.
type TaxComponent struct {
	Category string          // ICMS, IPI, PIS, COFINS, ISSQN
	Base     decimal.Decimal
	Rate     decimal.Decimal // Porcentaje (18.00 = 18 %)
	Value    decimal.Decimal
}

// Clone copia la línea incluyendo su slice de tributos.
func (l DocumentLine) Clone() DocumentLine {
	c := l
	c.Taxes = append([]TaxComponent(nil), l.Taxes...)
	return c
}
