// certcheck diagnostica el certificado A1 configurado para firmar documentos:
// lo carga con la misma ruta y contraseña que la API (AUTHORITY_CERT_*),
// muestra titular y vigencia y firma un XML de prueba.
package main

import (
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/jhoicas/fiscal-api/internal/infrastructure/sefaz/signer"
	"github.com/jhoicas/fiscal-api/pkg/config"
)

const sampleXML = `<NFe xmlns="http://www.portalfiscal.inf.br/nfe"><infNFe Id="NFe41251178393592000146558900034818141671768595" versao="4.00"><ide><cUF>41</cUF></ide></infNFe></NFe>`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fail("configuración", err)
	}
	path := cfg.Authority.CertPath
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if path == "" {
		fail("certificado", fmt.Errorf("AUTHORITY_CERT_PATH vacío"))
	}

	fmt.Printf("Leyendo %s\n", path)
	cert, err := signer.LoadCertificate(path, cfg.Authority.CertPassword, cfg.Authority.CertKeyPath)
	if err != nil {
		fail("carga (ruta, contraseña o formato)", err)
	}
	leaf := cert.Leaf
	if leaf == nil {
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			fail("certificado X.509", err)
		}
	}

	digest, issuer, serial := signer.CertDigest(leaf)
	fmt.Printf("Titular:   %s\n", leaf.Subject.String())
	fmt.Printf("Emisor:    %s\n", issuer)
	fmt.Printf("Serie:     %s\n", serial)
	fmt.Printf("SHA-256:   %s\n", digest)
	fmt.Printf("Vigencia:  %s → %s\n", leaf.NotBefore.Format(time.DateOnly), leaf.NotAfter.Format(time.DateOnly))

	if left := time.Until(leaf.NotAfter); left <= 0 {
		fail("vigencia", fmt.Errorf("certificado vencido el %s", leaf.NotAfter.Format(time.DateOnly)))
	} else if left < 30*24*time.Hour {
		fmt.Printf("ATENCIÓN: vence en %d días\n", int(left.Hours()/24))
	}

	if _, err := signer.NewCertSigner(cert).SignPayload([]byte(sampleXML)); err != nil {
		fail("firma de prueba", err)
	}
	fmt.Println("OK: el certificado carga y firma correctamente")
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "ERROR en %s: %v\n", step, err)
	os.Exit(1)
}
