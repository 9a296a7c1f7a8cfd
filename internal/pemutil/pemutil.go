// Package pemutil loads PEM-encoded certificates and RSA private keys
// for the cmd/tlsclient and cmd/tlsserver demos.
package pemutil

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// LoadCertificateDER reads a single PEM-encoded certificate from path
// and returns its raw DER bytes.
func LoadCertificateDER(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("pemutil: %s does not contain a PEM CERTIFICATE block", path)
	}
	return block.Bytes, nil
}

// LoadRSAPrivateKey reads a single PEM-encoded RSA private key
// (PKCS#1 "RSA PRIVATE KEY" or PKCS#8 "PRIVATE KEY") from path.
func LoadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("pemutil: %s does not contain a PEM block", path)
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("pemutil: %s is not an RSA private key", path)
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("pemutil: %s has unsupported PEM block type %q", path, block.Type)
	}
}

// LoadKeyPair is a convenience wrapper loading both halves of an
// identity at once.
func LoadKeyPair(certPath, keyPath string) (certDER []byte, key *rsa.PrivateKey, err error) {
	certDER, err = LoadCertificateDER(certPath)
	if err != nil {
		return nil, nil, err
	}
	key, err = LoadRSAPrivateKey(keyPath)
	if err != nil {
		return nil, nil, err
	}
	return certDER, key, nil
}
