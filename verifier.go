package mtls12

import (
	"context"
	"crypto/x509"
	"fmt"
)

// ChainVerifier is the default Verifier: it parses the server's DER
// certificate chain and runs the standard library's path validation
// against Roots. A nil Roots uses the host's system trust store, which
// is almost never what a caller testing against a private CA wants —
// most callers should set Roots explicitly.
type ChainVerifier struct {
	Roots *x509.CertPool

	// Intermediates, if set, is consulted alongside any intermediate
	// certificates the server itself sent when building the chain.
	Intermediates *x509.CertPool
}

func (v *ChainVerifier) VerifyChain(ctx context.Context, certs [][]byte) error {
	if len(certs) == 0 {
		return errBadCertificate(fmt.Errorf("empty certificate chain"))
	}

	leaf, err := x509.ParseCertificate(certs[0])
	if err != nil {
		return errBadCertificate(fmt.Errorf("parse leaf certificate: %w", err))
	}

	inter := x509.NewCertPool()
	if v.Intermediates != nil {
		inter = v.Intermediates.Clone()
	}
	for _, der := range certs[1:] {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return errBadCertificate(fmt.Errorf("parse intermediate certificate: %w", err))
		}
		inter.AddCert(cert)
	}

	_, err = leaf.Verify(x509.VerifyOptions{
		Roots:         v.Roots,
		Intermediates: inter,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	if err != nil {
		return errBadCertificate(fmt.Errorf("chain verification: %w", err))
	}
	return nil
}
