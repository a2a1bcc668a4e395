package cli

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"time"

	"golang.org/x/crypto/acme/autocert"
)

// GenerateSelfSignedCert writes <host>.crt and <host>.key to the working
// directory, valid for one year.
func GenerateSelfSignedCert(host string) error {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate private key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: host},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{host},
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %v", err)
	}

	certPath := host + ".crt"
	certOut, err := os.Create(certPath)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %v", certPath, err)
	}
	pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	certOut.Close()

	keyPath := host + ".key"
	keyOut, err := os.Create(keyPath)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %v", keyPath, err)
	}
	keyBytes, _ := x509.MarshalECPrivateKey(priv)
	pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
	keyOut.Close()

	fmt.Printf("Generated self-signed cert: %s and %s\n", certPath, keyPath)
	return nil
}

// GenerateACMECert obtains a certificate for domain via ACME and writes
// <domain>.crt and <domain>.key. Port 80 must be reachable for the
// http-01 challenge.
func GenerateACMECert(domain string) error {
	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Cache:      autocert.DirCache("certs"),
		HostPolicy: autocert.HostWhitelist(domain),
	}

	// Temporary HTTP server answering ACME challenges
	srv := &http.Server{Addr: ":80", Handler: m.HTTPHandler(nil)}
	go srv.ListenAndServe()
	defer srv.Close()
	fmt.Println("Started HTTP server on port 80 for the ACME challenge. If you are running behind Docker or a firewall, ensure port 80 is reachable.")

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: domain})
	if err != nil {
		return fmt.Errorf("failed to obtain certificate: %v", err)
	}

	certPath := domain + ".crt"
	certOut, err := os.Create(certPath)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %v", certPath, err)
	}
	for _, der := range cert.Certificate {
		pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der})
	}
	certOut.Close()

	key, ok := cert.PrivateKey.(*ecdsa.PrivateKey)
	if !ok {
		return fmt.Errorf("unexpected private key type %T", cert.PrivateKey)
	}
	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %v", err)
	}
	keyPath := domain + ".key"
	keyOut, err := os.Create(keyPath)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %v", keyPath, err)
	}
	pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
	keyOut.Close()

	fmt.Printf("Obtained TLS certificate: %s and %s\n", certPath, keyPath)
	return nil
}
