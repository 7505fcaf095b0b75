// Package cert generates and loads the self-signed TLS certificate that
// protects the node's local action-surface HTTP API (see package action).
package cert

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
	"net"
	"os"
	"time"
)

// certValidity is how long a generated self-signed certificate remains
// valid before the node must regenerate it.
const certValidity = 14 * 30 * 24 * time.Hour

// IsOutdated reports whether the certificate at certPath has expired, or
// does not cover one of the given IP addresses or hosts.
func IsOutdated(certPath string, ipAddrs []net.IP, dnsNames []string, now time.Time) (bool, error) {
	certBytes, err := os.ReadFile(certPath)
	if err != nil {
		return false, err
	}

	block, _ := pem.Decode(certBytes)
	if block == nil {
		return false, fmt.Errorf("cert: no PEM data found in %s", certPath)
	}

	parsed, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return false, err
	}

	if now.After(parsed.NotAfter) {
		return true, nil
	}

	existingIPs := make(map[string]struct{}, len(parsed.IPAddresses))
	for _, ip := range parsed.IPAddresses {
		existingIPs[ip.String()] = struct{}{}
	}
	for _, ip := range ipAddrs {
		if _, ok := existingIPs[ip.String()]; !ok {
			return true, nil
		}
	}

	existingNames := make(map[string]struct{}, len(parsed.DNSNames))
	for _, name := range parsed.DNSNames {
		existingNames[name] = struct{}{}
	}
	for _, name := range dnsNames {
		if _, ok := existingNames[name]; !ok {
			return true, nil
		}
	}

	return false, nil
}

// GenCertPair generates a self-signed certificate/key pair valid for the
// given hosts and IPs, and writes them out in PEM form to certPath/keyPath.
func GenCertPair(org, certPath, keyPath string, ipAddrs []net.IP, dnsNames []string) error {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("cert: generating key: %w", err)
	}

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return fmt.Errorf("cert: generating serial number: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{org},
			CommonName:   org,
		},
		NotBefore: now.Add(-time.Hour),
		NotAfter:  now.Add(certValidity),

		KeyUsage: x509.KeyUsageKeyEncipherment |
			x509.KeyUsageDigitalSignature |
			x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           ipAddrs,
		DNSNames:              dnsNames,
	}

	derBytes, err := x509.CreateCertificate(
		rand.Reader, &template, &template, &priv.PublicKey, priv,
	)
	if err != nil {
		return fmt.Errorf("cert: creating certificate: %w", err)
	}

	certBuf := pem.EncodeToMemory(&pem.Block{
		Type: "CERTIFICATE", Bytes: derBytes,
	})

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("cert: marshaling key: %w", err)
	}
	keyBuf := pem.EncodeToMemory(&pem.Block{
		Type: "EC PRIVATE KEY", Bytes: keyBytes,
	})

	if err := os.WriteFile(certPath, certBuf, 0644); err != nil {
		return err
	}
	if err := os.WriteFile(keyPath, keyBuf, 0600); err != nil {
		return err
	}

	return nil
}

// LoadCert loads a tls.Certificate suitable for use as a server certificate
// from the given cert/key PEM files.
func LoadCert(certPath, keyPath string) (tls.Certificate, error) {
	return tls.LoadX509KeyPair(certPath, keyPath)
}
