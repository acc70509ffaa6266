package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// SelfSignedValidity is how long generated certificates stay valid.
const SelfSignedValidity = 365 * 24 * time.Hour

// SelfSignedCert generates a self-signed certificate to use for https
// servers where chain of trust does not matter, for example an unprovisioned
// node that the control plane reaches by IP address.
//
// hosts may contain DNS names and IP addresses; they are added as SANs.
//
// Returns:
//   - Certificate in PEM format
//   - PKCS#8 private key in PEM format
//   - Error if key generation or signing fails
func SelfSignedCert(hosts []string) ([]byte, []byte, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "node-bootstrap"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(SelfSignedValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if host != "" {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	certASN1, err := x509.CreateCertificate(rand.Reader, template, template,
		privateKey.Public(), privateKey)
	if err != nil {
		return nil, nil, err
	}

	privkeyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, nil, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certASN1})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privkeyBytes})
	return certPEM, keyPEM, nil
}

// WriteSelfSignedCert generates a self-signed certificate and writes it and
// its key to the given paths, creating parent directories as needed.
func WriteSelfSignedCert(certPath, keyPath string, hosts []string) error {
	certPEM, keyPEM, err := SelfSignedCert(hosts)
	if err != nil {
		return fmt.Errorf("could not generate certificate: %w", err)
	}

	fileWrites := []struct {
		path    string
		content []byte
		mode    os.FileMode
	}{
		{certPath, certPEM, 0644},
		{keyPath, keyPEM, 0600},
	}

	for _, fw := range fileWrites {
		if err := os.MkdirAll(filepath.Dir(fw.path), 0700); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", fw.path, err)
		}
		if err := os.WriteFile(fw.path, fw.content, fw.mode); err != nil {
			return fmt.Errorf("failed to write %s: %w", fw.path, err)
		}
	}

	return nil
}
