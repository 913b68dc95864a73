package sefaz

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
	pkgfiscal "github.com/jhoicas/fiscal-api/pkg/fiscal"
)

// ── Constantes del web service ─────────────────────────────────────────────────

const (
	soap12NS = "http://www.w3.org/2003/05/soap-envelope"
	wsdlNS   = "http://www.portalfiscal.inf.br/nfe/wsdl/"

	svcAuthorization = "NFeAutorizacao4"
	svcQuery         = "NFeConsultaProtocolo4"
	svcEvent         = "NFeRecepcaoEvento4"
	svcVoid          = "NFeInutilizacao4"

	eventTimestampLayout = "2006-01-02T15:04:05-07:00"
	maxResponseBytes     = 1 << 20
)

// ── Implementación SOAP ────────────────────────────────────────────────────────

// HTTPTransport implementa AuthorityTransport sobre SOAP 1.2. Una falla de red,
// un HTTP 5xx o un SOAP Fault se devuelven como error (reintentable); cualquier
// cStat se traduce a un veredicto.
type HTTPTransport struct {
	baseURL     string
	environment string // tpAmb: "1" producción, "2" homologación
	httpClient  *http.Client
}

// NewHTTPTransport construye el transporte. env es EnvTest o EnvProd. Con
// httpClient nil se usa uno con timeout de 60 s (el cliente aplica además el
// timeout por intento vía contexto).
func NewHTTPTransport(baseURL, env string, httpClient *http.Client) *HTTPTransport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	tpAmb := pkgfiscal.EnvironmentHomologation
	if env == EnvProd {
		tpAmb = pkgfiscal.EnvironmentProduction
	}
	return &HTTPTransport{
		baseURL:     strings.TrimRight(baseURL, "/"),
		environment: tpAmb,
		httpClient:  httpClient,
	}
}

// ── Estructuras SOAP ──────────────────────────────────────────────────────────

type soapEnvelope struct {
	XMLName xml.Name `xml:"soap12:Envelope"`
	XmlnsS  string   `xml:"xmlns:soap12,attr"`
	Body    soapBody `xml:"soap12:Body"`
}

type soapBody struct {
	Content interface{}
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "soap12:Body"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// nfeDadosMsg mensaje del servicio; Inner se escribe tal cual.
type nfeDadosMsg struct {
	XMLName xml.Name `xml:"nfeDadosMsg"`
	Xmlns   string   `xml:"xmlns,attr"`
	Inner   string   `xml:",innerxml"`
}

// ── Operaciones ───────────────────────────────────────────────────────────────

// Submit envía el lote síncrono con el documento firmado.
func (t *HTTPTransport) Submit(ctx context.Context, accessKey string, payload []byte) (*fiscal.AuthorityResponse, error) {
	var buf bytes.Buffer
	w := newXMLWriter(&buf)
	w.start("enviNFe", attr("xmlns", NsNFe), attr("versao", LayoutVersion))
	w.leaf("idLote", batchID(accessKey))
	w.leaf("indSinc", "1")
	if err := w.flush(); err != nil {
		return nil, fmt.Errorf("soap: construir enviNFe: %w", err)
	}
	buf.Write(stripXMLDeclaration(payload))
	w.end("enviNFe")
	if err := w.flush(); err != nil {
		return nil, fmt.Errorf("soap: construir enviNFe: %w", err)
	}
	return t.do(ctx, OpSubmit, svcAuthorization, accessKey, buf.String())
}

// QueryStatus consulta la situación de la clave.
func (t *HTTPTransport) QueryStatus(ctx context.Context, accessKey string) (*fiscal.AuthorityResponse, error) {
	var buf bytes.Buffer
	w := newXMLWriter(&buf)
	w.start("consSitNFe", attr("xmlns", NsNFe), attr("versao", LayoutVersion))
	w.leaf("tpAmb", t.environment)
	w.leaf("xServ", "CONSULTAR")
	w.leaf("chNFe", accessKey)
	w.end("consSitNFe")
	if err := w.flush(); err != nil {
		return nil, fmt.Errorf("soap: construir consSitNFe: %w", err)
	}
	return t.do(ctx, OpQuery, svcQuery, accessKey, buf.String())
}

// Cancel envía el evento de cancelación (110111).
func (t *HTTPTransport) Cancel(ctx context.Context, req fiscal.CancelRequest) (*fiscal.AuthorityResponse, error) {
	inner, err := t.eventMessage(req.AccessKey, req.IssuerTaxID, pkgfiscal.EventTypeCancellation, req.Sequence, req.RequestedAt,
		func(w *xmlWriter) {
			w.leaf("descEvento", "Cancelamento")
			w.leaf("nProt", req.ProtocolNumber)
			w.leaf("xJust", sanitizeText(req.Justification))
		})
	if err != nil {
		return nil, err
	}
	return t.do(ctx, OpCancel, svcEvent, req.AccessKey, inner)
}

// Correct envía la carta de corrección (110110).
func (t *HTTPTransport) Correct(ctx context.Context, req fiscal.CorrectionRequest) (*fiscal.AuthorityResponse, error) {
	inner, err := t.eventMessage(req.AccessKey, req.IssuerTaxID, pkgfiscal.EventTypeCorrection, req.Sequence, req.RequestedAt,
		func(w *xmlWriter) {
			w.leaf("descEvento", "Carta de Correcao")
			w.leaf("xCorrecao", sanitizeText(req.Text))
			w.leaf("xCondUso", correctionTerms)
		})
	if err != nil {
		return nil, err
	}
	return t.do(ctx, OpCorrect, svcEvent, req.AccessKey, inner)
}

// VoidRange envía la inutilización del rango.
func (t *HTTPTransport) VoidRange(ctx context.Context, req fiscal.VoidRangeRequest) (*fiscal.AuthorityResponse, error) {
	year := fmt.Sprintf("%02d", req.Year%100)
	taxID := digitsOnly(req.IssuerTaxID)
	id := fmt.Sprintf("ID%s%s%s%s%03d%09d%09d", req.RegionCode, year, taxID, req.DocKind, req.Series, req.From, req.To)

	var buf bytes.Buffer
	w := newXMLWriter(&buf)
	w.start("inutNFe", attr("xmlns", NsNFe), attr("versao", LayoutVersion))
	w.start("infInut", attr("Id", id))
	w.leaf("tpAmb", t.environment)
	w.leaf("xServ", "INUTILIZAR")
	w.leaf("cUF", req.RegionCode)
	w.leaf("ano", year)
	w.leaf("CNPJ", taxID)
	w.leaf("mod", req.DocKind)
	w.leaf("serie", strconv.Itoa(req.Series))
	w.leaf("nNFIni", strconv.FormatInt(req.From, 10))
	w.leaf("nNFFin", strconv.FormatInt(req.To, 10))
	w.leaf("xJust", sanitizeText(req.Justification))
	w.end("infInut")
	w.end("inutNFe")
	if err := w.flush(); err != nil {
		return nil, fmt.Errorf("soap: construir inutNFe: %w", err)
	}
	return t.do(ctx, OpVoidRange, svcVoid, "", buf.String())
}

const correctionTerms = "A Carta de Correcao e disciplinada pelo paragrafo 1o-A do art. 7o do Convenio S/N, " +
	"de 15 de dezembro de 1970 e pode ser utilizada para regularizacao de erro ocorrido na emissao de documento fiscal, " +
	"desde que o erro nao esteja relacionado com: I - as variaveis que determinam o valor do imposto tais como: " +
	"base de calculo, aliquota, diferenca de preco, quantidade, valor da operacao ou da prestacao; " +
	"II - a correcao de dados cadastrais que implique mudanca do remetente ou do destinatario; " +
	"III - a data de emissao ou de saida."

func (t *HTTPTransport) eventMessage(key, issuerTaxID, eventType string, seq int, at time.Time, detail func(*xmlWriter)) (string, error) {
	if seq <= 0 {
		seq = 1
	}
	if at.IsZero() {
		at = time.Now()
	}
	region := ""
	if len(key) >= 2 {
		region = key[:2]
	}
	var buf bytes.Buffer
	w := newXMLWriter(&buf)
	w.start("envEvento", attr("xmlns", NsNFe), attr("versao", EventVersion))
	w.leaf("idLote", batchID(key))
	w.start("evento", attr("versao", EventVersion))
	w.start("infEvento", attr("Id", fmt.Sprintf("ID%s%s%02d", eventType, key, seq)))
	w.leaf("cOrgao", region)
	w.leaf("tpAmb", t.environment)
	w.leaf("CNPJ", digitsOnly(issuerTaxID))
	w.leaf("chNFe", key)
	w.leaf("dhEvento", at.In(fiscal.FiscalZone).Format(eventTimestampLayout))
	w.leaf("tpEvento", eventType)
	w.leaf("nSeqEvento", strconv.Itoa(seq))
	w.leaf("verEvento", EventVersion)
	w.start("detEvento", attr("versao", EventVersion))
	detail(w)
	w.end("detEvento")
	w.end("infEvento")
	w.end("evento")
	w.end("envEvento")
	if err := w.flush(); err != nil {
		return "", fmt.Errorf("soap: construir envEvento: %w", err)
	}
	return buf.String(), nil
}

// ── HTTP ──────────────────────────────────────────────────────────────────────

func (t *HTTPTransport) do(ctx context.Context, op, service, key, inner string) (*fiscal.AuthorityResponse, error) {
	envelope := soapEnvelope{
		XmlnsS: soap12NS,
		Body:   soapBody{Content: nfeDadosMsg{Xmlns: wsdlNS + service, Inner: inner}},
	}
	payload, err := xml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("soap: serializar envelope: %w", err)
	}

	url := t.baseURL + "/" + service
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("soap: crear request: %w", err)
	}
	req.Header.Set("Content-Type", `application/soap+xml; charset=utf-8; action="`+wsdlNS+service+`"`)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("soap: timeout o cancelación: %w", ctx.Err())
		}
		return nil, fmt.Errorf("soap: llamada HTTP fallida: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("soap: leer respuesta: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("soap: HTTP %d de %s", resp.StatusCode, service)
	}
	return parseResponse(op, key, raw)
}

// parseResponse busca cStat/xMotivo/nProt en el retorno. Se prefiere el
// protocolo del documento (infProt) o del evento (retEvento) al estado del lote.
func parseResponse(op, key string, raw []byte) (*fiscal.AuthorityResponse, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("soap: respuesta no es XML: %w", err)
	}
	if fault := doc.FindElement("//Fault"); fault != nil {
		reason := "sin detalle"
		if el := fault.FindElement(".//Text"); el != nil {
			reason = strings.TrimSpace(el.Text())
		} else if el := fault.FindElement(".//faultstring"); el != nil {
			reason = strings.TrimSpace(el.Text())
		}
		return nil, fmt.Errorf("soap: SOAP Fault: %s", reason)
	}

	var status *etree.Element
	if op == OpQuery {
		// La situación de la clave está en la raíz del retorno, no en protNFe.
		status = doc.FindElement("//retConsSitNFe")
	}
	if status == nil {
		status = doc.FindElement("//infProt")
	}
	if status == nil {
		status = doc.FindElement("//retEvento/infEvento")
	}
	if status == nil {
		status = doc.FindElement("//infInut")
	}
	if status == nil {
		status = doc.FindElement("//nfeResultMsg/*")
	}
	if status == nil || status.FindElement(".//cStat") == nil {
		return nil, fmt.Errorf("soap: respuesta sin cStat")
	}

	text := func(tag string) string {
		if el := status.FindElement(".//" + tag); el != nil {
			return strings.TrimSpace(el.Text())
		}
		return ""
	}
	code := text("cStat")
	resp := &fiscal.AuthorityResponse{
		Verdict:        verdictFor(op, code),
		AccessKey:      key,
		ProtocolNumber: text("nProt"),
		Code:           code,
		Reason:         text("xMotivo"),
	}
	if k := text("chNFe"); k != "" {
		resp.AccessKey = k
	}
	if ts := text("dhRecbto"); ts != "" {
		if at, err := time.Parse(eventTimestampLayout, ts); err == nil {
			resp.ReceivedAt = at
		}
	} else if ts := text("dhRegEvento"); ts != "" {
		if at, err := time.Parse(eventTimestampLayout, ts); err == nil {
			resp.ReceivedAt = at
		}
	}
	return resp, nil
}

// verdictFor traduce cStat al veredicto según la operación.
func verdictFor(op, code string) fiscal.Verdict {
	switch {
	case pkgfiscal.TransientStatusCodes[code], pkgfiscal.PendingStatusCodes[code]:
		return fiscal.VerdictUnavailable
	case op == OpQuery:
		return queryVerdict(code)
	}
	switch code {
	case pkgfiscal.StatusAuthorized:
		return fiscal.VerdictAuthorized
	case pkgfiscal.StatusCancelled, "151", "155":
		return fiscal.VerdictCancelled
	case pkgfiscal.StatusEventRegistered, "136":
		if op == OpCancel {
			return fiscal.VerdictCancelled
		}
		return fiscal.VerdictRegistered
	case pkgfiscal.StatusRangeVoided:
		return fiscal.VerdictRegistered
	}
	return fiscal.VerdictRejected
}

// queryVerdict una consulta solo informa autorizado, cancelado, no encontrado
// o denegado. Cualquier otro código rechaza la consulta misma y no dice nada
// del documento, que sigue pendiente.
func queryVerdict(code string) fiscal.Verdict {
	switch {
	case code == pkgfiscal.StatusAuthorized:
		return fiscal.VerdictAuthorized
	case code == pkgfiscal.StatusCancelled, code == "151", code == "155":
		return fiscal.VerdictCancelled
	case code == pkgfiscal.StatusNotFound:
		return fiscal.VerdictNotFound
	case pkgfiscal.DenialStatusCodes[code]:
		return fiscal.VerdictRejected
	}
	return fiscal.VerdictUnavailable
}

// batchID identificador de lote de 15 dígitos derivado de la clave.
func batchID(key string) string {
	d := digitsOnly(key)
	if len(d) > 15 {
		d = d[len(d)-15:]
	}
	if d == "" {
		d = strconv.FormatInt(time.Now().UnixNano()%1e15, 10)
	}
	return d
}

func stripXMLDeclaration(payload []byte) []byte {
	p := bytes.TrimSpace(payload)
	if bytes.HasPrefix(p, []byte("<?xml")) {
		if i := bytes.Index(p, []byte("?>")); i >= 0 {
			p = bytes.TrimSpace(p[i+2:])
		}
	}
	return p
}

var _ AuthorityTransport = (*HTTPTransport)(nil)
