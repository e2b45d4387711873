package identity

import (
	"crypto/x509"
	"testing"
)

func TestGenerateProducesMatchingFingerprint(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(id.Certificate.Certificate) != 1 {
		t.Fatalf("expected exactly one DER certificate")
	}
	cert, err := x509.ParseCertificate(id.Certificate.Certificate[0])
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	fp, err := FingerprintFromCertificate(cert)
	if err != nil {
		t.Fatalf("FingerprintFromCertificate: %v", err)
	}
	if fp != id.Fingerprint {
		t.Fatalf("fingerprint mismatch: cert gives %s, identity has %s", fp, id.Fingerprint)
	}
}

func TestGenerateYieldsDistinctFingerprintsPerCall(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a.Fingerprint == b.Fingerprint {
		t.Fatal("expected distinct keys to yield distinct fingerprints")
	}
}
