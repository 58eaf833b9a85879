package tlsload

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func generateSelfSigned(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatal(err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

func TestLoad_PEM_Succeeds(t *testing.T) {
	certPEM, keyPEM := generateSelfSigned(t)
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")
	if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(Options{CertFile: certPath, KeyFile: keyPath})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("got %d certificates, want 1", len(cfg.Certificates))
	}
}

func TestLoad_MissingCertFile_Fails(t *testing.T) {
	if _, err := Load(Options{CertFile: "/nonexistent/server.crt", KeyFile: "/nonexistent/server.key"}); err == nil {
		t.Fatal("expected error for missing certificate file")
	}
}

func TestLoad_PEMWithoutKeyFile_Fails(t *testing.T) {
	certPEM, _ := generateSelfSigned(t)
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.pem")
	if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(Options{CertFile: certPath}); err == nil {
		t.Fatal("expected error when PEM certificate has no accompanying key file")
	}
}

func TestLooksLikePKCS12_ExtensionHint(t *testing.T) {
	if !looksLikePKCS12("bundle.p12", []byte("anything")) {
		t.Error(".p12 extension should be detected as PKCS#12")
	}
	if !looksLikePKCS12("bundle.pfx", []byte("anything")) {
		t.Error(".pfx extension should be detected as PKCS#12")
	}
	if looksLikePKCS12("server.pem", []byte("-----BEGIN CERTIFICATE-----")) {
		t.Error(".pem extension should never be detected as PKCS#12")
	}
}

func TestLooksLikePKCS12_ContentProbe(t *testing.T) {
	pemData := []byte("-----BEGIN CERTIFICATE-----\nMIIB...\n-----END CERTIFICATE-----\n")
	if looksLikePKCS12("server.chain", pemData) {
		t.Error("PEM content should not be detected as PKCS#12 even with an ambiguous extension")
	}
	if !looksLikePKCS12("server.bundle", []byte{0x30, 0x82, 0x01, 0x02}) {
		t.Error("non-PEM binary content with an ambiguous extension should be probed as PKCS#12")
	}
}
