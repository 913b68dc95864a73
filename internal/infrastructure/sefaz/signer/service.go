// Firma XMLDSig envelopada del documento: Reference a #NFe{clave} sobre infNFe,
// Signature como último hijo de la raíz.

package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/fiscal-api/internal/application/billing"
	pkgfiscal "github.com/jhoicas/fiscal-api/pkg/fiscal"
)

// DigitalSignatureService firma el XML del documento con RSA-SHA256.
type DigitalSignatureService struct{}

// NewDigitalSignatureService crea el servicio.
func NewDigitalSignatureService() *DigitalSignatureService {
	return &DigitalSignatureService{}
}

// Sign calcula el digest de infNFe, firma SignedInfo y agrega <Signature> al final de la raíz.
func (s *DigitalSignatureService) Sign(xmlBytes []byte, cert tls.Certificate) ([]byte, error) {
	if len(xmlBytes) == 0 {
		return nil, fmt.Errorf("firma: XML vacío")
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("firma: el certificado debe incluir llave privada RSA")
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("firma: certificado vacío")
	}
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("firma: parsear certificado: %w", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("firma: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("firma: documento sin raíz")
	}
	if root.FindElement("Signature") != nil {
		return nil, fmt.Errorf("firma: el documento ya está firmado")
	}

	// 1) Digest del elemento firmado (C14N).
	id, digestB64, err := signedElementDigest(root)
	if err != nil {
		return nil, err
	}

	// 2) SignedInfo canonicalizado y firmado.
	signedInfoXML := buildSignedInfo(id, digestB64)
	canonicalSignedInfo, err := canonicalizeXML([]byte(signedInfoXML))
	if err != nil {
		return nil, fmt.Errorf("firma: canonicalizar SignedInfo: %w", err)
	}
	signHash := sha256.Sum256(canonicalSignedInfo)
	signatureValue, err := rsa.SignPKCS1v15(nil, priv, crypto.SHA256, signHash[:])
	if err != nil {
		return nil, fmt.Errorf("firma: firmar SignedInfo: %w", err)
	}

	// 3) Signature completa con KeyInfo.
	signatureXML := buildFullSignature(signedInfoXML,
		base64.StdEncoding.EncodeToString(signatureValue),
		base64.StdEncoding.EncodeToString(x509Cert.Raw))

	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return nil, fmt.Errorf("firma: parsear Signature: %w", err)
	}
	root.AddChild(sigDoc.Root())

	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, fmt.Errorf("firma: escribir XML: %w", err)
	}
	return out.Bytes(), nil
}

// signedElementDigest devuelve el Id de infNFe y el SHA-256 (Base64) de su forma
// canónica. El namespace heredado de la raíz se declara en la copia.
func signedElementDigest(root *etree.Element) (id, digestB64 string, err error) {
	el := root.FindElement(".//" + SignedElement)
	if el == nil {
		return "", "", fmt.Errorf("firma: no se encontró %s", SignedElement)
	}
	id = el.SelectAttrValue("Id", "")
	if id == "" {
		return "", "", fmt.Errorf("firma: %s sin atributo Id", SignedElement)
	}
	cp := el.Copy()
	if cp.SelectAttr("xmlns") == nil {
		if ns := root.SelectAttrValue("xmlns", ""); ns != "" {
			cp.CreateAttr("xmlns", ns)
		}
	}
	sub := etree.NewDocument()
	sub.SetRoot(cp)
	raw, err := sub.WriteToBytes()
	if err != nil {
		return "", "", fmt.Errorf("firma: serializar %s: %w", SignedElement, err)
	}
	canonical, err := canonicalizeXML(raw)
	if err != nil {
		return "", "", fmt.Errorf("firma: canonicalizar %s: %w", SignedElement, err)
	}
	sum := sha256.Sum256(canonical)
	return id, base64.StdEncoding.EncodeToString(sum[:]), nil
}

func canonicalizeXML(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func buildSignedInfo(id, digestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<SignedInfo xmlns="` + NamespaceDS + `">`)
	sb.WriteString(`<CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<SignatureMethod Algorithm="` + AlgRSASHA256 + `"/>`)
	sb.WriteString(`<Reference URI="#` + escapeXML(id) + `">`)
	sb.WriteString(`<Transforms><Transform Algorithm="` + TransformEnveloped + `"/>`)
	sb.WriteString(`<Transform Algorithm="` + AlgC14N + `"/></Transforms>`)
	sb.WriteString(`<DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<DigestValue>` + digestB64 + `</DigestValue>`)
	sb.WriteString(`</Reference>`)
	sb.WriteString(`</SignedInfo>`)
	return sb.String()
}

func buildFullSignature(signedInfoXML, signatureValueB64, certB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<Signature xmlns="` + NamespaceDS + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<SignatureValue>` + signatureValueB64 + `</SignatureValue>`)
	sb.WriteString(`<KeyInfo><X509Data><X509Certificate>` + certB64 + `</X509Certificate></X509Data></KeyInfo>`)
	sb.WriteString(`</Signature>`)
	return sb.String()
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// ── Adaptador ──────────────────────────────────────────────────────────────────

// CertSigner firma payloads con el certificado del emisor. Sin certificado
// (ambiente dev) devuelve el payload sin cambios.
type CertSigner struct {
	svc  *DigitalSignatureService
	cert *tls.Certificate
}

// NewCertSigner crea el firmador; cert puede ser nil.
func NewCertSigner(cert *tls.Certificate) *CertSigner {
	return &CertSigner{svc: NewDigitalSignatureService(), cert: cert}
}

// SignPayload implementa billing.PayloadSigner.
func (c *CertSigner) SignPayload(payload []byte) ([]byte, error) {
	if c.cert == nil {
		return payload, nil
	}
	return c.svc.Sign(payload, *c.cert)
}

var (
	_ pkgfiscal.Signer      = (*DigitalSignatureService)(nil)
	_ billing.PayloadSigner = (*CertSigner)(nil)
)
