package certutil

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGenerateSelfSigned(t *testing.T) {
	cert, err := GenerateSelfSigned(DefaultOptions("tuic.example.com"))
	if err != nil {
		t.Fatalf("GenerateSelfSigned failed: %v", err)
	}

	if cert.Certificate.Subject.CommonName != "tuic.example.com" {
		t.Errorf("CommonName = %q, want tuic.example.com", cert.Certificate.Subject.CommonName)
	}
	if cert.Certificate.Subject.String() != cert.Certificate.Issuer.String() {
		t.Error("self-signed cert should have same subject and issuer")
	}
	if err := cert.Certificate.VerifyHostname("localhost"); err != nil {
		t.Errorf("VerifyHostname(localhost): %v", err)
	}
	if err := cert.Certificate.VerifyHostname("127.0.0.1"); err != nil {
		t.Errorf("VerifyHostname(127.0.0.1): %v", err)
	}
	if len(cert.Certificate.ExtKeyUsage) != 1 || cert.Certificate.ExtKeyUsage[0] != x509.ExtKeyUsageServerAuth {
		t.Errorf("ExtKeyUsage = %v, want server auth", cert.Certificate.ExtKeyUsage)
	}
}

func TestGenerateSelfSigned_RequiresCommonName(t *testing.T) {
	if _, err := GenerateSelfSigned(Options{ValidFor: time.Hour}); err == nil {
		t.Error("GenerateSelfSigned should fail without a common name")
	}
}

func TestSaveAndLoadCert(t *testing.T) {
	cert, err := GenerateSelfSigned(DefaultOptions("save-test"))
	if err != nil {
		t.Fatalf("GenerateSelfSigned failed: %v", err)
	}

	dir := t.TempDir()
	certPath := filepath.Join(dir, "nested", "server.crt")
	keyPath := filepath.Join(dir, "nested", "server.key")

	if err := cert.SaveToFiles(certPath, keyPath); err != nil {
		t.Fatalf("SaveToFiles failed: %v", err)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("stat key: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("key permissions = %o, want 600", perm)
	}

	loaded, err := LoadCert(certPath, keyPath)
	if err != nil {
		t.Fatalf("LoadCert failed: %v", err)
	}
	if loaded.Fingerprint() != cert.Fingerprint() {
		t.Error("loaded certificate fingerprint mismatch")
	}
	if !loaded.PrivateKey.Equal(cert.PrivateKey) {
		t.Error("loaded private key mismatch")
	}
}

func TestParseCert_Invalid(t *testing.T) {
	cert, err := GenerateSelfSigned(DefaultOptions("parse-test"))
	if err != nil {
		t.Fatalf("GenerateSelfSigned failed: %v", err)
	}

	if _, err := ParseCert([]byte("not pem"), cert.KeyPEM); err == nil {
		t.Error("ParseCert should fail on invalid certificate PEM")
	}
	if _, err := ParseCert(cert.CertPEM, []byte("not pem")); err == nil {
		t.Error("ParseCert should fail on invalid key PEM")
	}
}

func TestFingerprint(t *testing.T) {
	cert, err := GenerateSelfSigned(DefaultOptions("fp-test"))
	if err != nil {
		t.Fatalf("GenerateSelfSigned failed: %v", err)
	}

	fp := cert.Fingerprint()
	if !strings.HasPrefix(fp, "sha256:") {
		t.Errorf("fingerprint %q should start with sha256:", fp)
	}
	if len(fp) != len("sha256:")+64 {
		t.Errorf("fingerprint length = %d, want %d", len(fp), len("sha256:")+64)
	}
}

func TestTLSCertificate(t *testing.T) {
	cert, err := GenerateSelfSigned(DefaultOptions("tls-test"))
	if err != nil {
		t.Fatalf("GenerateSelfSigned failed: %v", err)
	}

	tlsCert, err := cert.TLSCertificate()
	if err != nil {
		t.Fatalf("TLSCertificate failed: %v", err)
	}
	if len(tlsCert.Certificate) != 1 {
		t.Errorf("certificate chain length = %d, want 1", len(tlsCert.Certificate))
	}
}

func TestIsExpiringSoon(t *testing.T) {
	opts := DefaultOptions("expiry-test")
	opts.ValidFor = 24 * time.Hour

	cert, err := GenerateSelfSigned(opts)
	if err != nil {
		t.Fatalf("GenerateSelfSigned failed: %v", err)
	}

	if !IsExpiringSoon(cert.Certificate, 48*time.Hour) {
		t.Error("cert valid for 24h should be expiring within 48h")
	}
	if IsExpiringSoon(cert.Certificate, time.Hour) {
		t.Error("cert valid for 24h should not be expiring within 1h")
	}
}
