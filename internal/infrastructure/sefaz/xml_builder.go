package sefaz

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
	pkgfiscal "github.com/jhoicas/fiscal-api/pkg/fiscal"
)

const (
	timestampLayout = "2006-01-02T15:04:05-07:00"
	dateLayout      = "2006-01-02"
	countryCode     = "1058"
	countryName     = "Brasil"
	processVersion  = "fiscal-api 1.0"
)

// XMLBuilderService construye el XML del documento (sin firma). La salida es
// byte a byte idéntica para el mismo estado del documento.
type XMLBuilderService struct {
	environment string
}

// NewXMLBuilderService crea el servicio para el ambiente indicado ("1" producción, "2" homologación).
func NewXMLBuilderService(environment string) *XMLBuilderService {
	if environment == "" {
		environment = pkgfiscal.EnvironmentHomologation
	}
	return &XMLBuilderService{environment: environment}
}

// Serialize implementa billing.Serializer.
func (s *XMLBuilderService) Serialize(doc *entity.Document, result *fiscal.ValidationResult) ([]byte, error) {
	return s.Build(&DocumentBuildContext{Document: doc, Validation: result, Environment: s.environment})
}

// Build genera el XML. Falla con SerializationError si el documento no fue
// validado en su estado actual o no tiene clave de acceso válida.
func (s *XMLBuilderService) Build(ctx *DocumentBuildContext) ([]byte, error) {
	if ctx == nil || ctx.Document == nil {
		return nil, &fiscal.SerializationError{Reason: "falta el documento en el contexto"}
	}
	doc := ctx.Document
	switch {
	case ctx.Validation == nil:
		return nil, &fiscal.SerializationError{Reason: "documento no validado"}
	case !ctx.Validation.Valid():
		return nil, &fiscal.SerializationError{Reason: fmt.Sprintf("la validación tiene %d violación(es)", len(ctx.Validation.Violations))}
	case ctx.Validation.DocumentDigest != fiscal.DocumentDigest(doc):
		return nil, &fiscal.SerializationError{Reason: "el documento cambió después de validarse"}
	case doc.AccessKey == "":
		return nil, &fiscal.SerializationError{Reason: "documento sin clave de acceso"}
	case !fiscal.VerifyAccessKey(doc.AccessKey):
		return nil, &fiscal.SerializationError{Reason: "clave de acceso inválida: " + doc.AccessKey}
	}
	env := ctx.Environment
	if env == "" {
		env = s.environment
	}

	var buf bytes.Buffer
	w := newXMLWriter(&buf)
	// Sin indentación: el XML se firma tal como se emite.
	w.start("NFe", attr("xmlns", NsNFe))
	w.start("infNFe", attr("Id", "NFe"+doc.AccessKey), attr("versao", LayoutVersion))

	s.writeIde(w, doc, env)
	s.writeEmit(w, doc.Issuer)
	s.writeDest(w, doc.Recipient)
	for _, line := range doc.Lines {
		s.writeDet(w, line)
	}
	s.writeTotal(w, doc)
	s.writeCobr(w, doc)
	s.writePag(w, doc)
	if notes := sanitizeText(doc.Notes); notes != "" {
		w.start("infAdic")
		w.leaf("infCpl", notes)
		w.end("infAdic")
	}

	w.end("infNFe")
	w.end("NFe")
	if err := w.flush(); err != nil {
		return nil, &fiscal.SerializationError{Reason: "codificar XML", Err: err}
	}
	return buf.Bytes(), nil
}

// ── Secciones ──────────────────────────────────────────────────────────────────

func (s *XMLBuilderService) writeIde(w *xmlWriter, doc *entity.Document, env string) {
	w.start("ide")
	w.leaf("cUF", doc.RegionCode)
	w.leaf("cNF", doc.NumericCode)
	w.leaf("natOp", "VENDA")
	w.leaf("mod", doc.DocKind)
	w.leaf("serie", strconv.Itoa(doc.Series))
	w.leaf("nNF", strconv.FormatInt(doc.Number, 10))
	w.leaf("dhEmi", doc.IssuedAt.In(fiscal.FiscalZone).Format(timestampLayout))
	w.leaf("tpNF", "1")
	w.leaf("idDest", destinationIndicator(doc))
	w.leaf("cMunFG", doc.Issuer.Address.CityCode)
	w.leaf("tpImp", "1")
	w.leaf("tpEmis", doc.EmissionMode)
	w.leaf("cDV", doc.AccessKey[len(doc.AccessKey)-1:])
	w.leaf("tpAmb", env)
	w.leaf("finNFe", "1")
	w.leaf("indFinal", finalConsumerIndicator(doc.Recipient))
	w.leaf("indPres", "1")
	w.leaf("procEmi", "0")
	w.leaf("verProc", processVersion)
	w.end("ide")
}

func (s *XMLBuilderService) writeEmit(w *xmlWriter, p entity.Party) {
	w.start("emit")
	writeTaxID(w, p)
	w.leaf("xNome", sanitizeText(p.LegalName))
	w.leafIf("xFant", sanitizeText(p.TradeName))
	writeAddress(w, "enderEmit", p.Address)
	w.leaf("IE", digitsOnly(p.StateRegistration))
	w.leafIf("IM", digitsOnly(p.MunicipalRegistration))
	w.leaf("CRT", "3")
	w.end("emit")
}

func (s *XMLBuilderService) writeDest(w *xmlWriter, p entity.Party) {
	w.start("dest")
	writeTaxID(w, p)
	w.leaf("xNome", sanitizeText(p.LegalName))
	writeAddress(w, "enderDest", p.Address)
	if ie := digitsOnly(p.StateRegistration); ie != "" {
		w.leaf("indIEDest", "1")
		w.leaf("IE", ie)
	} else {
		w.leaf("indIEDest", "9")
	}
	w.leafIf("email", strings.TrimSpace(p.Email))
	w.end("dest")
}

func (s *XMLBuilderService) writeDet(w *xmlWriter, l entity.DocumentLine) {
	w.start("det", attr("nItem", strconv.Itoa(l.ItemNumber)))
	w.start("prod")
	w.leaf("cProd", sanitizeText(l.ProductCode))
	w.leaf("cEAN", "SEM GTIN")
	w.leaf("xProd", sanitizeText(l.Description))
	w.leaf("NCM", nonEmpty(digitsOnly(l.NCM), "00000000"))
	w.leaf("CFOP", nonEmpty(digitsOnly(l.CFOP), "5102"))
	unit := nonEmpty(sanitizeText(l.Unit), "UN")
	w.leaf("uCom", unit)
	w.leaf("qCom", quantity(l.Quantity))
	w.leaf("vUnCom", quantity(l.UnitPrice))
	w.leaf("vProd", money(l.Quantity.Mul(l.UnitPrice)))
	w.leaf("cEANTrib", "SEM GTIN")
	w.leaf("uTrib", unit)
	w.leaf("qTrib", quantity(l.Quantity))
	w.leaf("vUnTrib", quantity(l.UnitPrice))
	if l.Discount.IsPositive() {
		w.leaf("vDesc", money(l.Discount))
	}
	w.leaf("indTot", "1")
	w.end("prod")

	w.start("imposto")
	for _, t := range sortedTaxes(l.Taxes) {
		w.start(t.Category)
		w.leaf("vBC", money(t.Base))
		w.leaf("p"+t.Category, rate(t.Rate))
		w.leaf("v"+t.Category, money(t.Value))
		w.end(t.Category)
	}
	w.end("imposto")
	w.end("det")
}

func (s *XMLBuilderService) writeTotal(w *xmlWriter, doc *entity.Document) {
	gross := decimal.Zero
	lineDiscounts := decimal.Zero
	bases := map[string]decimal.Decimal{}
	values := map[string]decimal.Decimal{}
	for _, l := range doc.Lines {
		gross = gross.Add(l.Quantity.Mul(l.UnitPrice).Round(2))
		lineDiscounts = lineDiscounts.Add(l.Discount)
		for _, t := range l.Taxes {
			bases[t.Category] = bases[t.Category].Add(t.Base)
			values[t.Category] = values[t.Category].Add(t.Value)
		}
	}
	w.start("total")
	w.start("ICMSTot")
	w.leaf("vBC", money(bases[pkgfiscal.TaxICMS]))
	w.leaf("vICMS", money(values[pkgfiscal.TaxICMS]))
	w.leaf("vProd", money(gross))
	w.leaf("vFrete", money(doc.Surcharges))
	w.leaf("vDesc", money(lineDiscounts.Add(doc.Discounts)))
	w.leaf("vIPI", money(values[pkgfiscal.TaxIPI]))
	w.leaf("vPIS", money(values[pkgfiscal.TaxPIS]))
	w.leaf("vCOFINS", money(values[pkgfiscal.TaxCOFINS]))
	w.leaf("vTotTrib", money(doc.TaxTotal))
	w.leaf("vNF", money(doc.Total))
	w.end("ICMSTot")
	w.end("total")
}

func (s *XMLBuilderService) writeCobr(w *xmlWriter, doc *entity.Document) {
	if doc.DueDate == nil {
		return
	}
	w.start("cobr")
	w.start("dup")
	w.leaf("nDup", "001")
	w.leaf("dVenc", doc.DueDate.In(fiscal.FiscalZone).Format(dateLayout))
	w.leaf("vDup", money(doc.Total))
	w.end("dup")
	w.end("cobr")
}

func (s *XMLBuilderService) writePag(w *xmlWriter, doc *entity.Document) {
	w.start("pag")
	w.start("detPag")
	w.leaf("tPag", nonEmpty(doc.PaymentMeans, pkgfiscal.PaymentOther))
	w.leaf("vPag", money(doc.Total))
	w.end("detPag")
	w.end("pag")
}

func writeTaxID(w *xmlWriter, p entity.Party) {
	if p.Kind == entity.PartyOrganization {
		w.leaf("CNPJ", digitsOnly(p.TaxID))
		return
	}
	w.leaf("CPF", digitsOnly(p.TaxID))
}

func writeAddress(w *xmlWriter, tag string, a entity.Address) {
	w.start(tag)
	w.leaf("xLgr", sanitizeText(a.Street))
	w.leaf("nro", nonEmpty(sanitizeText(a.Number), "SN"))
	w.leafIf("xCpl", sanitizeText(a.Complement))
	w.leaf("xBairro", nonEmpty(sanitizeText(a.District), "CENTRO"))
	w.leafIf("cMun", digitsOnly(a.CityCode))
	w.leaf("xMun", sanitizeText(a.City))
	w.leaf("UF", strings.ToUpper(strings.TrimSpace(a.State)))
	w.leafIf("CEP", digitsOnly(a.PostalCode))
	w.leaf("cPais", countryCode)
	w.leaf("xPais", countryName)
	w.end(tag)
}

func destinationIndicator(doc *entity.Document) string {
	if strings.EqualFold(doc.Issuer.Address.State, doc.Recipient.Address.State) {
		return "1"
	}
	return "2"
}

func finalConsumerIndicator(p entity.Party) string {
	if p.Kind == entity.PartyIndividual {
		return "1"
	}
	return "0"
}

// sortedTaxes ordena los tributos según el catálogo (ICMS, IPI, PIS, COFINS, ISSQN).
func sortedTaxes(taxes []entity.TaxComponent) []entity.TaxComponent {
	out := append([]entity.TaxComponent(nil), taxes...)
	sort.SliceStable(out, func(i, j int) bool {
		return pkgfiscal.TaxCategoryRank(out[i].Category) < pkgfiscal.TaxCategoryRank(out[j].Category)
	})
	return out
}

func money(d decimal.Decimal) string    { return d.StringFixed(2) }
func quantity(d decimal.Decimal) string { return d.StringFixed(4) }
func rate(d decimal.Decimal) string     { return d.StringFixed(4) }

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// ── Lectura ────────────────────────────────────────────────────────────────────

// ParsePayloadAccessKey devuelve la clave de acceso del atributo Id de infNFe.
func ParsePayloadAccessKey(payload []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(payload); err != nil {
		return "", fmt.Errorf("sefaz: parsear XML: %w", err)
	}
	inf := doc.FindElement("//infNFe")
	if inf == nil {
		return "", fmt.Errorf("sefaz: el XML no contiene infNFe")
	}
	key := strings.TrimPrefix(inf.SelectAttrValue("Id", ""), "NFe")
	if !fiscal.VerifyAccessKey(key) {
		return "", fmt.Errorf("sefaz: clave de acceso inválida en infNFe: %q", key)
	}
	return key, nil
}

// ── Escritor ───────────────────────────────────────────────────────────────────

// xmlWriter envuelve xml.Encoder y conserva el primer error.
type xmlWriter struct {
	enc *xml.Encoder
	err error
}

func newXMLWriter(buf *bytes.Buffer) *xmlWriter {
	return &xmlWriter{enc: xml.NewEncoder(buf)}
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func (w *xmlWriter) token(t xml.Token) {
	if w.err == nil {
		w.err = w.enc.EncodeToken(t)
	}
}

func (w *xmlWriter) start(name string, attrs ...xml.Attr) {
	w.token(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (w *xmlWriter) end(name string) {
	w.token(xml.EndElement{Name: xml.Name{Local: name}})
}

func (w *xmlWriter) leaf(name, value string) {
	w.start(name)
	w.token(xml.CharData(value))
	w.end(name)
}

// leafIf omite el elemento cuando value está vacío.
func (w *xmlWriter) leafIf(name, value string) {
	if value != "" {
		w.leaf(name, value)
	}
}

func (w *xmlWriter) flush() error {
	if w.err != nil {
		return w.err
	}
	return w.enc.Flush()
}
