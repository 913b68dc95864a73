// Package pdf implementa la representación gráfica del documento fiscal
// autorizado (DANFE simplificado).
//
// Layout de la página A4:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  HEADER: Razón social + CNPJ  │  Modelo / Serie / Número    │
//	│  ─────────────────────────────────────────────────────────  │
//	│  CLAVE DE ACCESO: código de barras + grupos de 4 dígitos     │
//	│  PROTOCOLO: número + fecha de autorización                   │
//	│  ─────────────────────────────────────────────────────────  │
//	│  DESTINATARIO: Nombre + CPF/CNPJ + dirección                 │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TABLA: Código | Descripción | Cant | V.Unit | Desc | Total  │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TOTALES: Productos / Cargos / Descuentos / Tributos / TOTAL │
//	│  ─────────────────────────────────────────────────────────  │
//	│  EVENTOS: cancelación y cartas de corrección                 │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	appbilling "github.com/jhoicas/fiscal-api/internal/application/billing"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
)

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 0, Green: 70, Blue: 127}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
	colorAlert   = &props.Color{Red: 180, Green: 30, Blue: 30}
)

// ── Renderer ──────────────────────────────────────────────────────────────────

var _ appbilling.DocumentRenderer = (*MarotoRenderer)(nil)

// MarotoRenderer implementa billing.DocumentRenderer usando Maroto v2.
type MarotoRenderer struct{}

// NewMarotoRenderer construye el generador.
func NewMarotoRenderer() *MarotoRenderer { return &MarotoRenderer{} }

// Render genera el PDF y devuelve sus bytes.
func (g *MarotoRenderer) Render(_ context.Context, doc *entity.Document, history []entity.FiscalEvent) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("pdf: documento nil")
	}
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle("Documento fiscal "+doc.AccessKey, true).
		WithAuthor(doc.Issuer.LegalName, true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(headerRow(doc))
	if doc.Status == entity.StatusCancelled {
		m.AddRows(cancelledBanner())
	}
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(accessKeyRows(doc)...)
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(recipientRow(doc.Recipient))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))

	m.AddRows(tableHeaderRow())
	m.AddRows(tableDetailRows(doc.Lines)...)

	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(totalsRow(doc))

	if rows := eventRows(history); len(rows) > 0 {
		m.AddRows(line.NewRow(3))
		m.AddRows(line.NewRow(1, props.Line{Color: colorGray, Thickness: 0.3}))
		m.AddRows(rows...)
	}
	if doc.Notes != "" {
		m.AddRows(row.New(10).Add(col.New(12).Add(
			text.New("Información complementaria: "+doc.Notes, props.Text{Size: 7, Color: colorGray, Top: 2}),
		)))
	}

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar documento: %w", err)
	}
	return out.GetBytes(), nil
}

// ── Secciones ─────────────────────────────────────────────────────────────────

// headerRow: emisor (izq) y modelo/serie/número/fecha (der).
func headerRow(doc *entity.Document) core.Row {
	number := fmt.Sprintf("N° %09d  Serie %03d", doc.Number, doc.Series)
	issued := doc.IssuedAt.In(fiscal.FiscalZone).Format("02/01/2006 15:04")

	return row.New(20).Add(
		col.New(7).Add(
			text.New(doc.Issuer.LegalName, props.Text{
				Style: fontstyle.Bold, Size: 12, Color: colorPrimary, Top: 1,
			}),
			text.New("CNPJ: "+formatTaxID(doc.Issuer.TaxID), props.Text{
				Size: 8, Top: 8, Color: colorGray,
			}),
			text.New(addressLine(doc.Issuer.Address), props.Text{
				Size: 7, Top: 13, Color: colorGray,
			}),
		),
		col.New(5).Add(
			text.New(kindLabel(doc.DocKind), props.Text{
				Style: fontstyle.Bold, Size: 8, Align: align.Right, Color: colorPrimary, Top: 1,
			}),
			text.New(number, props.Text{
				Style: fontstyle.Bold, Size: 10, Align: align.Right, Top: 7,
			}),
			text.New("Emisión: "+issued, props.Text{
				Size: 8, Align: align.Right, Top: 14, Color: colorGray,
			}),
		),
	)
}

func cancelledBanner() core.Row {
	return row.New(9).Add(col.New(12).Add(
		text.New("DOCUMENTO CANCELADO - SIN VALOR FISCAL", props.Text{
			Style: fontstyle.Bold, Size: 12, Align: align.Center, Color: colorAlert, Top: 2,
		}),
	))
}

// accessKeyRows: código de barras Code128 de la clave, la clave agrupada y el protocolo.
func accessKeyRows(doc *entity.Document) []core.Row {
	rows := []core.Row{
		row.New(6).Add(col.New(12).Add(
			text.New("CLAVE DE ACCESO", props.Text{Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1}),
		)),
		row.New(16).Add(col.New(12).Add(
			code.NewBar(doc.AccessKey, props.Barcode{Percent: 90, Center: true}),
		)),
		row.New(6).Add(col.New(12).Add(
			text.New(fiscal.FormatAccessKey(doc.AccessKey), props.Text{
				Style: fontstyle.Bold, Size: 9, Align: align.Center, Top: 1,
			}),
		)),
	}
	if doc.ProtocolNumber != "" {
		authorized := ""
		if doc.AuthorizedAt != nil {
			authorized = doc.AuthorizedAt.In(fiscal.FiscalZone).Format("02/01/2006 15:04:05")
		}
		rows = append(rows, row.New(6).Add(col.New(12).Add(
			text.New(fmt.Sprintf("Protocolo de autorización: %s   %s", doc.ProtocolNumber, authorized), props.Text{
				Size: 8, Align: align.Center, Top: 1, Color: colorGray,
			}),
		)))
	}
	return rows
}

// recipientRow: datos del destinatario.
func recipientRow(p entity.Party) core.Row {
	label := "CPF"
	if p.Kind == entity.PartyOrganization {
		label = "CNPJ"
	}
	return row.New(18).Add(
		col.New(12).Add(
			text.New("DESTINATARIO", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(p.LegalName, props.Text{
				Style: fontstyle.Bold, Size: 10, Top: 6,
			}),
			text.New(fmt.Sprintf("%s: %s   |   Email: %s", label, formatTaxID(p.TaxID), nonEmpty(p.Email, "-")), props.Text{
				Size: 8, Top: 11, Color: colorGray,
			}),
			text.New(addressLine(p.Address), props.Text{Size: 7, Top: 15, Color: colorGray}),
		),
	)
}

// tableHeaderRow: cabecera de la tabla de ítems.
func tableHeaderRow() core.Row {
	h := func(label string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 8, Align: a, Color: colorPrimary, Top: 2, Left: 1, Right: 1,
		}))
	}
	return row.New(8).Add(
		h("Código", 2, align.Left),
		h("Descripción", 4, align.Left),
		h("Cant.", 1, align.Right),
		h("V. Unit.", 2, align.Right),
		h("Desc.", 1, align.Right),
		h("Total", 2, align.Right),
	)
}

// tableDetailRows: una fila por ítem.
func tableDetailRows(lines []entity.DocumentLine) []core.Row {
	cell := func(s string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(s, props.Text{Size: 8, Align: a, Top: 1, Left: 1, Right: 1}))
	}
	out := make([]core.Row, 0, len(lines))
	for _, l := range lines {
		out = append(out, row.New(7).Add(
			cell(l.ProductCode, 2, align.Left),
			cell(l.Description, 4, align.Left),
			cell(l.Quantity.String(), 1, align.Right),
			cell(money(l.UnitPrice), 2, align.Right),
			cell(money(l.Discount), 1, align.Right),
			cell(money(l.Total), 2, align.Right),
		))
	}
	return out
}

// totalsRow: bloque de totales alineado a la derecha.
func totalsRow(doc *entity.Document) core.Row {
	label := func(s string) core.Component {
		return text.New(s, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Right: 2})
	}
	value := func(s string) core.Component {
		return text.New(s, props.Text{Size: 9, Align: align.Right, Right: 1})
	}
	grand := props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right, Color: colorPrimary, Top: 20}

	return row.New(28).Add(
		col.New(6),
		col.New(3).Add(
			label("Productos:"),
			text.New("Cargos:", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Right: 2, Top: 5}),
			text.New("Descuentos:", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Right: 2, Top: 10}),
			text.New("Tributos:", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Right: 2, Top: 15}),
			text.New("TOTAL:", grand),
		),
		col.New(3).Add(
			value("R$ "+money(doc.LinesTotal)),
			text.New("R$ "+money(doc.Surcharges), props.Text{Size: 9, Align: align.Right, Right: 1, Top: 5}),
			text.New("R$ "+money(doc.Discounts), props.Text{Size: 9, Align: align.Right, Right: 1, Top: 10}),
			text.New("R$ "+money(doc.TaxTotal), props.Text{Size: 9, Align: align.Right, Right: 1, Top: 15}),
			text.New("R$ "+money(doc.Total), grand),
		),
	)
}

// eventRows: cancelación y cartas de corrección registradas en el libro.
func eventRows(history []entity.FiscalEvent) []core.Row {
	var rows []core.Row
	for _, ev := range history {
		var title string
		switch ev.Kind {
		case entity.EventCancellation:
			title = "CANCELACIÓN"
		case entity.EventCorrection:
			title = "CARTA DE CORRECCIÓN"
		default:
			continue
		}
		when := ev.OccurredAt.In(fiscal.FiscalZone).Format("02/01/2006 15:04")
		rows = append(rows, row.New(12).Add(col.New(12).Add(
			text.New(fmt.Sprintf("%s #%d  %s  Protocolo %s", title, ev.Sequence, when, nonEmpty(ev.ProtocolNumber, "-")), props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(ev.Justification, props.Text{Size: 7.5, Color: colorGray, Top: 6}),
		)))
	}
	if len(rows) == 0 {
		return nil
	}
	header := row.New(6).Add(col.New(12).Add(
		text.New("EVENTOS REGISTRADOS", props.Text{Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1}),
	))
	return append([]core.Row{header}, rows...)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func kindLabel(kind string) string {
	if kind == "65" {
		return "NOTA FISCAL DE CONSUMIDOR ELECTRÓNICA (65)"
	}
	return "NOTA FISCAL ELECTRÓNICA (55)"
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func addressLine(a entity.Address) string {
	parts := make([]string, 0, 4)
	street := strings.TrimSpace(strings.Join([]string{a.Street, a.Number}, ", "))
	for _, p := range []string{strings.Trim(street, ", "), a.District, a.City, a.State} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " - ")
}

// formatTaxID aplica la máscara de CPF (11) o CNPJ (14); otro largo se devuelve tal cual.
// Ej: "78393592000146" → "78.393.592/0001-46"
func formatTaxID(s string) string {
	switch len(s) {
	case 11:
		return s[0:3] + "." + s[3:6] + "." + s[6:9] + "-" + s[9:]
	case 14:
		return s[0:2] + "." + s[2:5] + "." + s[5:8] + "/" + s[8:12] + "-" + s[12:]
	}
	return s
}

// money formatea con dos decimales, coma decimal y puntos de miles.
// Ej: 1234567.8 → "1.234.567,80"
func money(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")
	n := len(intPart)
	buf := make([]byte, 0, n+n/3+3)
	for i, c := range []byte(intPart) {
		if i > 0 && (n-i)%3 == 0 {
			buf = append(buf, '.')
		}
		buf = append(buf, c)
	}
	out := string(buf) + "," + frac
	if neg {
		return "-" + out
	}
	return out
}
