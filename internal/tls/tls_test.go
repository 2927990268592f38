package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	standardtls "crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSelfSigned_DefaultHosts(t *testing.T) {
	t.Parallel()

	cert, err := SelfSigned()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	if leaf.Subject.CommonName != "localhost" {
		t.Errorf("CN: got %q, want localhost", leaf.Subject.CommonName)
	}
	if len(leaf.DNSNames) != 1 || leaf.DNSNames[0] != "localhost" {
		t.Errorf("DNS SANs: got %v", leaf.DNSNames)
	}
	if len(leaf.IPAddresses) != 2 {
		t.Errorf("IP SANs: got %v, want 127.0.0.1 and ::1", leaf.IPAddresses)
	}
	if got := leaf.NotAfter.Sub(time.Now()); got < certValidity-time.Hour || got > certValidity {
		t.Errorf("validity: got %v, want about %v", got, certValidity)
	}
	ecKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok || ecKey.Curve != elliptic.P256() {
		t.Errorf("expected an ECDSA P-256 key, got %T", leaf.PublicKey)
	}
}

func TestSelfSigned_CustomHosts(t *testing.T) {
	t.Parallel()

	cert, err := SelfSigned("merge.internal", "10.0.0.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	if leaf.Subject.CommonName != "merge.internal" {
		t.Errorf("CN: got %q", leaf.Subject.CommonName)
	}
	if err := leaf.VerifyHostname("10.0.0.5"); err != nil {
		t.Errorf("IP SAN: %v", err)
	}
	if err := leaf.VerifyHostname("merge.internal"); err != nil {
		t.Errorf("DNS SAN: %v", err)
	}
}

func TestServerConfig_SelfSigned(t *testing.T) {
	t.Parallel()

	cfg, err := ServerConfig("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("Certificates: got %d, want 1", len(cfg.Certificates))
	}
	if cfg.MinVersion != standardtls.VersionTLS12 {
		t.Errorf("MinVersion: got %d, want TLS 1.2", cfg.MinVersion)
	}
	if Mode("", "") != "self-signed" {
		t.Errorf("Mode: got %q", Mode("", ""))
	}
}

func TestServerConfig_FromFiles(t *testing.T) {
	t.Parallel()

	cert, err := SelfSigned("localhost")
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(cert.PrivateKey.(*ecdsa.PrivateKey))
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]}), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := ServerConfig(certFile, keyFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(cfg.Certificates[0].Certificate[0]) != string(cert.Certificate[0]) {
		t.Error("loaded certificate differs from the written one")
	}
	if Mode(certFile, keyFile) != "file" {
		t.Errorf("Mode: got %q", Mode(certFile, keyFile))
	}
}

func TestServerConfig_FileNotFound(t *testing.T) {
	t.Parallel()

	if _, err := ServerConfig("/nonexistent/cert.pem", "/nonexistent/key.pem"); err == nil {
		t.Error("expected error for nonexistent files, got nil")
	}
}

func TestServerConfig_ServesHTTPS(t *testing.T) {
	t.Parallel()

	cfg, err := ServerConfig("", "", "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	srv.TLS = cfg
	srv.StartTLS()
	t.Cleanup(srv.Close)

	leaf, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &standardtls.Config{RootCAs: pool}}}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("HTTPS request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("body: got %q", body)
	}
}
