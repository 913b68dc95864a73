// Package fiscal: interfaz para firma digital XMLDSig del documento.

package fiscal

import "crypto/tls"

// Signer firma el XML del documento y devuelve el XML con la firma envelopada.
type Signer interface {
	// Sign toma el XML sin firma y el certificado con llave privada, y retorna
	// el XML con el nodo Signature como último hijo del elemento raíz.
	Sign(xmlBytes []byte, cert tls.Certificate) ([]byte, error)
}
