// Package tlsload resolves a *tls.Config from a certificate/key pair on
// disk, auto-detecting PEM vs PKCS#12 by file extension and content, and
// fails fast (before any listener opens) on any parse error.
package tlsload

import (
	"crypto/tls"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// Options names the certificate material to load. PassphraseFile, when
// set, is read for the PKCS#12 import password; PEM keys are assumed
// unencrypted, matching spec.md §4.4's scope (no encrypted-PEM support).
type Options struct {
	CertFile       string
	KeyFile        string // PEM private key, or a PKCS#12 bundle when CertFile == KeyFile
	PassphraseFile string
}

// Load resolves cert/key material into a tls.Config carrying exactly one
// certificate. Every failure here is meant to be fatal-before-bind, the
// same way tspages/cmd/tspages/main.go treats ListenTLS/LocalClient setup
// failures as unrecoverable startup errors.
func Load(o Options) (*tls.Config, error) {
	if o.CertFile == "" {
		return nil, fmt.Errorf("tls: no certificate file configured")
	}

	certData, err := os.ReadFile(o.CertFile)
	if err != nil {
		return nil, fmt.Errorf("tls: reading certificate %s: %w", o.CertFile, err)
	}

	if looksLikePKCS12(o.CertFile, certData) {
		cert, err := loadPKCS12(certData, o.PassphraseFile)
		if err != nil {
			return nil, fmt.Errorf("tls: loading PKCS#12 bundle %s: %w", o.CertFile, err)
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
	}

	if o.KeyFile == "" {
		return nil, fmt.Errorf("tls: PEM certificate %s requires a separate --ssl-key file", o.CertFile)
	}
	keyData, err := os.ReadFile(o.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tls: reading key %s: %w", o.KeyFile, err)
	}

	cert, err := loadPEMKeyPair(certData, keyData)
	if err != nil {
		return nil, fmt.Errorf("tls: loading PEM key pair (%s, %s): %w", o.CertFile, o.KeyFile, err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

// looksLikePKCS12 combines an extension hint with content probing: a
// ".p12"/".pfx" extension decides PKCS#12 and a ".pem"/".crt"/".cert"
// extension decides PEM, without looking at the content; any other file
// that doesn't begin with a PEM "-----BEGIN" block is assumed to be
// DER/PKCS#12.
func looksLikePKCS12(path string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		return true
	case ".pem", ".crt", ".cert":
		return false
	}
	block, _ := pem.Decode(data)
	return block == nil
}

func loadPEMKeyPair(certPEM, keyPEM []byte) (tls.Certificate, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, err
	}
	return cert, nil
}

func loadPKCS12(data []byte, passphraseFile string) (tls.Certificate, error) {
	password := ""
	if passphraseFile != "" {
		raw, err := os.ReadFile(passphraseFile)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("reading passphrase file: %w", err)
		}
		password = strings.TrimRight(string(raw), "\r\n")
	}

	privateKey, certificate, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return tls.Certificate{}, err
	}

	chain := [][]byte{certificate.Raw}
	for _, ca := range caCerts {
		chain = append(chain, ca.Raw)
	}

	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  privateKey,
		Leaf:        certificate,
	}, nil
}
