package mtls12

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"errors"
)

var errNotRSA = errors.New("certificate public key is not RSA")

// Verifier is the external X.509 chain verification capability named in
// spec.md §6. The core never parses certificate validity or builds trust
// chains itself; it only carries the opaque DER blobs the server sent and
// hands them to this collaborator.
type Verifier interface {
	VerifyChain(ctx context.Context, certs [][]byte) error
}

// Signer is the external signing capability named in spec.md §6. It
// signs the current handshake transcript for CertificateVerify and
// reports which signature algorithm it used, resolving the Open
// Question in spec.md §9: the async contract always carries both.
type Signer interface {
	Sign(ctx context.Context, transcript []byte) (algorithm SignatureAlgorithm, signature []byte, err error)
}

// CertificateKeyExtractor pulls the RSA public key out of the server's
// leaf certificate. This is a synchronous utility, not one of the two
// asynchronous suspension points in spec.md §5 — the core still treats
// the certificate bytes as opaque octets (spec.md §1's "core treats
// certificates as opaque octet strings"); it only needs the one public
// key, so the default implementation reaches for crypto/x509 rather than
// re-deriving ASN.1 parsing in the core.
type CertificateKeyExtractor interface {
	ExtractRSAPublicKey(der []byte) (*rsa.PublicKey, error)
}

type defaultKeyExtractor struct{}

func (defaultKeyExtractor) ExtractRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errBadCertificate(err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errBadCertificate(errNotRSA)
	}
	return pub, nil
}

// Config collects everything a caller supplies to establish one
// connection, per spec.md §6's "Construction inputs".
type Config struct {
	// ClientCertificates are the caller's own certificate chain, ordered
	// leaf-first, sent in the client's Certificate message. May be empty.
	ClientCertificates [][]byte

	// Verifier validates the server's certificate chain. If nil, a
	// default crypto/x509-based verifier is built from CAPool.
	Verifier Verifier

	// CAPool backs the default Verifier when Verifier is nil.
	CAPool *x509.CertPool

	// Signer produces the client's CertificateVerify signature. If nil
	// and ClientKey is set, a default RSA-PKCS1v15/SHA-256 signer over
	// ClientKey is used.
	Signer Signer

	// ClientKey backs the default Signer when Signer is nil.
	ClientKey *rsa.PrivateKey

	// KeyExtractor pulls the server's RSA public key out of its leaf
	// certificate. Defaults to a crypto/x509-based extractor.
	KeyExtractor CertificateKeyExtractor

	// Logger receives diagnostic output. Defaults to a no-op logger.
	Logger Logger
}

func (c *Config) verifier() Verifier {
	if c.Verifier != nil {
		return c.Verifier
	}
	return &ChainVerifier{Roots: c.CAPool}
}

func (c *Config) signer() Signer {
	if c.Signer != nil {
		return c.Signer
	}
	return &RSAPKCS1SHA256Signer{PrivateKey: c.ClientKey}
}

func (c *Config) keyExtractor() CertificateKeyExtractor {
	if c.KeyExtractor != nil {
		return c.KeyExtractor
	}
	return defaultKeyExtractor{}
}

func (c *Config) logger() Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return nopLogger{}
}
