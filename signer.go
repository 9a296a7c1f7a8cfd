package mtls12

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// RSAPKCS1SHA256Signer is the default Signer: it signs the handshake
// transcript's SHA-256 digest with RSASSA-PKCS1-v1_5, the only signature
// scheme this client offers in CertificateRequest responses.
type RSAPKCS1SHA256Signer struct {
	PrivateKey *rsa.PrivateKey
}

func (s *RSAPKCS1SHA256Signer) Sign(ctx context.Context, transcript []byte) (SignatureAlgorithm, []byte, error) {
	if s.PrivateKey == nil {
		return SignatureAlgorithm{}, nil, errInternal(fmt.Errorf("no client private key configured"))
	}
	digest := sha256.Sum256(transcript)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.PrivateKey, crypto.SHA256, digest[:])
	if err != nil {
		return SignatureAlgorithm{}, nil, errInternal(fmt.Errorf("sign CertificateVerify: %w", err))
	}
	return RSAPKCS1SHA256, sig, nil
}
