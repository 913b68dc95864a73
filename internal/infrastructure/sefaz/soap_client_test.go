package sefaz

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
)

const testKey = "41251178393592000146558900034818141671768595"

// soapServer responde con el cuerpo indicado por servicio y guarda los requests.
type soapServer struct {
	mu       sync.Mutex
	bodies   map[string]string
	status   int
	received map[string][]byte
	actions  map[string]string
}

func newSOAPServer(t *testing.T, bodies map[string]string) (*soapServer, *httptest.Server) {
	t.Helper()
	s := &soapServer{bodies: bodies, status: http.StatusOK, received: map[string][]byte{}, actions: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		service := strings.TrimPrefix(r.URL.Path, "/")
		raw, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.received[service] = raw
		s.actions[service] = r.Header.Get("Content-Type")
		status := s.status
		body := s.bodies[service]
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *soapServer) set(status int, service, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	if body != "" {
		s.bodies[service] = body
	}
}

func (s *soapServer) last(service string) ([]byte, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received[service], s.actions[service]
}

func soapResult(inner string) string {
	return `<?xml version="1.0" encoding="utf-8"?><soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body>` +
		`<nfeResultMsg xmlns="http://www.portalfiscal.inf.br/nfe/wsdl/NFeAutorizacao4">` + inner + `</nfeResultMsg></soap:Body></soap:Envelope>`
}

func TestHTTPTransport_SubmitAutorizado(t *testing.T) {
	s, srv := newSOAPServer(t, map[string]string{
		svcAuthorization: soapResult(`<retEnviNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00"><tpAmb>2</tpAmb><cStat>104</cStat><xMotivo>Lote processado</xMotivo>` +
			`<protNFe versao="4.00"><infProt><tpAmb>2</tpAmb><chNFe>` + testKey + `</chNFe><dhRecbto>2025-11-10T12:05:00-03:00</dhRecbto>` +
			`<nProt>141250000012345</nProt><cStat>100</cStat><xMotivo>Autorizado o uso da NF-e</xMotivo></infProt></protNFe></retEnviNFe>`),
	})
	tr := NewHTTPTransport(srv.URL+"/", EnvTest, srv.Client())

	payload := `<?xml version="1.0"?><NFe xmlns="http://www.portalfiscal.inf.br/nfe"><infNFe Id="NFe` + testKey + `"/></NFe>`
	resp, err := tr.Submit(context.Background(), testKey, []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, fiscal.VerdictAuthorized, resp.Verdict)
	assert.Equal(t, "100", resp.Code)
	assert.Equal(t, "141250000012345", resp.ProtocolNumber)
	assert.Equal(t, "Autorizado o uso da NF-e", resp.Reason)
	assert.True(t, resp.ReceivedAt.Equal(time.Date(2025, 11, 10, 15, 5, 0, 0, time.UTC)))

	// El documento viaja dentro de enviNFe, sin la declaración XML.
	raw, action := s.last(svcAuthorization)
	sent := etree.NewDocument()
	require.NoError(t, sent.ReadFromBytes(raw))
	envi := sent.FindElement("//enviNFe")
	require.NotNil(t, envi)
	assert.Equal(t, "1", envi.FindElement("./indSinc").Text())
	assert.NotNil(t, envi.FindElement("./NFe/infNFe"))
	assert.NotContains(t, string(raw), "<?xml version=\"1.0\"?><NFe")
	assert.Contains(t, action, wsdlNS+svcAuthorization)
}

func TestHTTPTransport_RechazoConservaCodigo(t *testing.T) {
	_, srv := newSOAPServer(t, map[string]string{
		svcAuthorization: soapResult(`<retEnviNFe><cStat>104</cStat><protNFe><infProt><cStat>539</cStat>` +
			`<xMotivo>Rejeicao: Duplicidade de NF-e, com diferenca na Chave de Acesso</xMotivo></infProt></protNFe></retEnviNFe>`),
	})
	resp, err := NewHTTPTransport(srv.URL, EnvTest, srv.Client()).Submit(context.Background(), testKey, []byte("<NFe/>"))
	require.NoError(t, err)
	assert.Equal(t, fiscal.VerdictRejected, resp.Verdict)
	assert.Equal(t, "539", resp.Code)
	assert.Equal(t, "Rejeicao: Duplicidade de NF-e, com diferenca na Chave de Acesso", resp.Reason)
}

func TestHTTPTransport_ConsultaUsaElEstadoDeLaRaiz(t *testing.T) {
	_, srv := newSOAPServer(t, map[string]string{
		svcQuery: soapResult(`<retConsSitNFe><tpAmb>2</tpAmb><cStat>101</cStat><xMotivo>Cancelamento de NF-e homologado</xMotivo>` +
			`<chNFe>` + testKey + `</chNFe><protNFe><infProt><nProt>141250000012345</nProt><cStat>100</cStat></infProt></protNFe></retConsSitNFe>`),
	})
	resp, err := NewHTTPTransport(srv.URL, EnvProd, srv.Client()).QueryStatus(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, fiscal.VerdictCancelled, resp.Verdict)
	assert.Equal(t, "101", resp.Code)
}

func TestHTTPTransport_EventosEInutilizacion(t *testing.T) {
	s, srv := newSOAPServer(t, map[string]string{
		svcEvent: soapResult(`<retEnvEvento><cStat>128</cStat><retEvento><infEvento><cStat>135</cStat>` +
			`<xMotivo>Evento registrado e vinculado a NF-e</xMotivo><nProt>141250000099999</nProt>` +
			`<dhRegEvento>2025-11-10T13:00:00-03:00</dhRegEvento></infEvento></retEvento></retEnvEvento>`),
		svcVoid: soapResult(`<retInutNFe><infInut><cStat>102</cStat><xMotivo>Inutilizacao de numero homologado</xMotivo>` +
			`<nProt>141250000077777</nProt></infInut></retInutNFe>`),
	})
	tr := NewHTTPTransport(srv.URL, EnvTest, srv.Client())
	at := time.Date(2025, 11, 10, 13, 0, 0, 0, fiscal.FiscalZone)

	cancel, err := tr.Cancel(context.Background(), fiscal.CancelRequest{
		AccessKey: testKey, IssuerTaxID: "78.393.592/0001-46", ProtocolNumber: "141250000012345",
		Justification: "Erro na emissão do pedido", Sequence: 1, RequestedAt: at,
	})
	require.NoError(t, err)
	assert.Equal(t, fiscal.VerdictCancelled, cancel.Verdict)
	assert.Equal(t, "141250000099999", cancel.ProtocolNumber)

	sent := etree.NewDocument()
	raw, _ := s.last(svcEvent)
	require.NoError(t, sent.ReadFromBytes(raw))
	inf := sent.FindElement("//infEvento")
	require.NotNil(t, inf)
	assert.Equal(t, "ID110111"+testKey+"01", inf.SelectAttrValue("Id", ""))
	assert.Equal(t, "78393592000146", inf.FindElement("./CNPJ").Text())
	assert.Equal(t, "2025-11-10T13:00:00-03:00", inf.FindElement("./dhEvento").Text())
	assert.Equal(t, "Erro na emissao do pedido", inf.FindElement("./detEvento/xJust").Text())

	corr, err := tr.Correct(context.Background(), fiscal.CorrectionRequest{
		AccessKey: testKey, IssuerTaxID: "78393592000146", Text: "Endereço de entrega: Rua B, 20", Sequence: 2, RequestedAt: at,
	})
	require.NoError(t, err)
	assert.Equal(t, fiscal.VerdictRegistered, corr.Verdict)

	void, err := tr.VoidRange(context.Background(), fiscal.VoidRangeRequest{
		IssuerTaxID: "78393592000146", RegionCode: "41", DocKind: "55", Series: 1, From: 10, To: 12, Year: 2025,
		Justification: "Falha no sistema de numeracao",
	})
	require.NoError(t, err)
	assert.Equal(t, fiscal.VerdictRegistered, void.Verdict)
	assert.Equal(t, "102", void.Code)

	raw, _ = s.last(svcVoid)
	sent = etree.NewDocument()
	require.NoError(t, sent.ReadFromBytes(raw))
	assert.Equal(t, "ID41257839359200014655001000000010000000012",
		sent.FindElement("//infInut").SelectAttrValue("Id", ""))
}

func TestHTTPTransport_FallasDeTransporteSonErrores(t *testing.T) {
	s, srv := newSOAPServer(t, map[string]string{svcQuery: "servidor caído"})
	tr := NewHTTPTransport(srv.URL, EnvTest, srv.Client())

	s.set(http.StatusServiceUnavailable, svcQuery, "")
	_, err := tr.QueryStatus(context.Background(), testKey)
	assert.ErrorContains(t, err, "HTTP 503")

	s.set(http.StatusOK, svcQuery, "")
	_, err = tr.QueryStatus(context.Background(), testKey)
	assert.Error(t, err, "respuesta que no es XML")

	s.set(http.StatusOK, svcQuery, `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body><soap:Fault>` +
		`<soap:Reason><soap:Text>Certificado no autorizado</soap:Text></soap:Reason></soap:Fault></soap:Body></soap:Envelope>`)
	_, err = tr.QueryStatus(context.Background(), testKey)
	assert.ErrorContains(t, err, "Certificado no autorizado")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.QueryStatus(ctx, testKey)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerdictFor(t *testing.T) {
	cases := []struct {
		op, code string
		want     fiscal.Verdict
	}{
		{OpSubmit, "100", fiscal.VerdictAuthorized},
		{OpQuery, "101", fiscal.VerdictCancelled},
		{OpQuery, "217", fiscal.VerdictNotFound},
		{OpCancel, "217", fiscal.VerdictRejected},
		{OpCancel, "135", fiscal.VerdictCancelled},
		{OpCorrect, "135", fiscal.VerdictRegistered},
		{OpVoidRange, "102", fiscal.VerdictRegistered},
		{OpSubmit, "108", fiscal.VerdictUnavailable},
		{OpSubmit, "109", fiscal.VerdictUnavailable},
		{OpSubmit, "204", fiscal.VerdictRejected},
		{OpSubmit, "103", fiscal.VerdictUnavailable},
		{OpSubmit, "105", fiscal.VerdictUnavailable},
		{OpQuery, "100", fiscal.VerdictAuthorized},
		{OpQuery, "110", fiscal.VerdictRejected},
		{OpQuery, "302", fiscal.VerdictRejected},
		{OpQuery, "105", fiscal.VerdictUnavailable},
		{OpQuery, "226", fiscal.VerdictUnavailable},
		{OpQuery, "252", fiscal.VerdictUnavailable},
		{OpQuery, "656", fiscal.VerdictUnavailable},
		{OpQuery, "999", fiscal.VerdictUnavailable},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, verdictFor(c.op, c.code), "%s/%s", c.op, c.code)
	}
}
