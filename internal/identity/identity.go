// Package identity generates the self-signed TLS certificate that backs a
// device's identity and derives its fingerprint by hashing only the
// certificate's SubjectPublicKeyInfo, not the whole certificate DER.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/localshare-go/localshare/internal/errs"
	"github.com/localshare-go/localshare/internal/protocol"
)

const (
	certSubject  = "LocalSend"
	certValidity = 365 * 24 * time.Hour
	rsaKeyBits   = 2048
)

// Identity bundles the process's self-signed certificate with the
// fingerprint derived from it. Fingerprint is stable only for the lifetime
// of the Identity value — a fresh one is generated per process unless the
// caller persists and reloads the key material itself.
type Identity struct {
	Certificate tls.Certificate
	Fingerprint protocol.Fingerprint
}

// Generate creates a fresh RSA-2048 self-signed certificate under the
// subject "LocalSend" valid for one year, and derives the fingerprint as
// hex(SHA-256(DER(subjectPublicKeyInfo))).
func Generate() (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("%w: generate key: %v", errs.ErrTlsInit, err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("%w: generate serial: %v", errs.ErrTlsInit, err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: certSubject},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("%w: create certificate: %v", errs.ErrTlsInit, err)
	}

	fp, err := FingerprintFromPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}

	return &Identity{Certificate: cert, Fingerprint: fp}, nil
}

// FingerprintFromPublicKey derives a Fingerprint from an RSA public key by
// hashing its DER-encoded SubjectPublicKeyInfo. This is the computation
// NewDeviceInfo's fingerprint and the wire identity must agree on.
func FingerprintFromPublicKey(pub *rsa.PublicKey) (protocol.Fingerprint, error) {
	spkiDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: marshal public key: %v", errs.ErrTlsInit, err)
	}
	return fingerprintFromSPKI(spkiDER)
}

// FingerprintFromCertificate recomputes the fingerprint of an already
// parsed certificate. The sender doesn't call this today — it connects
// with InsecureSkipVerify like the rest of the v2 HTTP clients, so there
// is no handshake-time certificate to check it against — but tests use it
// to assert that a generated Identity's Fingerprint matches
// hex(SHA-256(DER(SPKI))) of its own paired certificate.
func FingerprintFromCertificate(cert *x509.Certificate) (protocol.Fingerprint, error) {
	spkiDER, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return "", fmt.Errorf("%w: marshal public key: %v", errs.ErrTlsInit, err)
	}
	return fingerprintFromSPKI(spkiDER)
}

func fingerprintFromSPKI(spkiDER []byte) (protocol.Fingerprint, error) {
	sum := sha256.Sum256(spkiDER)
	return protocol.NewFingerprint(hex.EncodeToString(sum[:]))
}
