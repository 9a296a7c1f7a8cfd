package mtls12

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// readUint8LengthPrefixed/readUint16LengthPrefixed/readUint24LengthPrefixed
// act like their cryptobyte.String counterparts but target a []byte
// instead of a cryptobyte.String, following the same helper pattern the
// standard library's own TLS handshake message codec uses.
func readUint8LengthPrefixed(s *cryptobyte.String, out *[]byte) bool {
	return s.ReadUint8LengthPrefixed((*cryptobyte.String)(out))
}

func readUint16LengthPrefixed(s *cryptobyte.String, out *[]byte) bool {
	return s.ReadUint16LengthPrefixed((*cryptobyte.String)(out))
}

func readUint24LengthPrefixed(s *cryptobyte.String, out *[]byte) bool {
	return s.ReadUint24LengthPrefixed((*cryptobyte.String)(out))
}

// buildHandshake wraps a handshake message body with its 4-octet header
// (1-octet type, 3-octet length).
func buildHandshake(ht HandshakeType, body []byte) []byte {
	var b cryptobyte.Builder
	b.AddUint8(uint8(ht))
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(body)
	})
	out, _ := b.Bytes()
	return out
}

// splitHandshake validates a full 4+length handshake message and returns
// its type and body. msg must already be known-complete (the fragment
// dispatcher guarantees this).
func splitHandshake(msg []byte) (HandshakeType, []byte, error) {
	s := cryptobyte.String(msg)
	var ht uint8
	var body cryptobyte.String
	if !s.ReadUint8(&ht) || !s.ReadUint24LengthPrefixed(&body) || !s.Empty() {
		return 0, nil, errDecode(fmt.Errorf("malformed handshake header"))
	}
	return HandshakeType(ht), []byte(body), nil
}

// --- ClientHello -----------------------------------------------------

func buildClientHello(random [randomLength]byte) []byte {
	var b cryptobyte.Builder
	b.AddUint16(uint16(VersionTLS12))
	b.AddBytes(random[:])
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {}) // empty session_id
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(TLS_RSA_WITH_AES_128_CBC_SHA[:])
	})
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint8(CompressionNull)
	})
	body, _ := b.Bytes()
	return buildHandshake(HandshakeClientHello, body)
}

// --- ServerHello -------------------------------------------------------

type serverHello struct {
	random    [randomLength]byte
	sessionID []byte
}

func parseServerHello(body []byte) (*serverHello, error) {
	s := cryptobyte.String(body)
	var version uint16
	var random []byte
	var sessionID []byte
	var cipherSuite []byte
	var compression uint8

	if !s.ReadUint16(&version) {
		return nil, errDecode(fmt.Errorf("truncated ServerHello"))
	}
	if ProtocolVersion(version) != VersionTLS12 {
		return nil, errProtocolVersion(fmt.Errorf("ServerHello version %#04x", version))
	}
	if !s.ReadBytes(&random, randomLength) {
		return nil, errDecode(fmt.Errorf("truncated ServerHello random"))
	}
	if !readUint8LengthPrefixed(&s, &sessionID) {
		return nil, errDecode(fmt.Errorf("truncated ServerHello session_id"))
	}
	if !s.ReadBytes(&cipherSuite, 2) {
		return nil, errDecode(fmt.Errorf("truncated ServerHello cipher_suite"))
	}
	if cipherSuite[0] != TLS_RSA_WITH_AES_128_CBC_SHA[0] || cipherSuite[1] != TLS_RSA_WITH_AES_128_CBC_SHA[1] {
		return nil, errHandshakeFailure(fmt.Errorf("unsupported cipher suite %v", cipherSuite))
	}
	if !s.ReadUint8(&compression) {
		return nil, errDecode(fmt.Errorf("truncated ServerHello compression_method"))
	}
	if compression != CompressionNull {
		return nil, errHandshakeFailure(fmt.Errorf("unsupported compression method %d", compression))
	}
	// Trailing extensions, if any, are ignored per spec.md §4.3.

	sh := &serverHello{sessionID: sessionID}
	copy(sh.random[:], random)
	return sh, nil
}

// --- Certificate ---------------------------------------------------

// buildCertificateList wraps an ordered list of DER certificate blobs in
// the handshake Certificate message's nested 3-octet-length framing.
func buildCertificateList(certs [][]byte) []byte {
	var b cryptobyte.Builder
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, cert := range certs {
			b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddBytes(cert)
			})
		}
	})
	body, _ := b.Bytes()
	return buildHandshake(HandshakeCertificate, body)
}

func parseCertificateList(body []byte) ([][]byte, error) {
	s := cryptobyte.String(body)
	var certList cryptobyte.String
	if !s.ReadUint24LengthPrefixed(&certList) || !s.Empty() {
		return nil, errDecode(fmt.Errorf("malformed Certificate message"))
	}
	var certs [][]byte
	for !certList.Empty() {
		var cert []byte
		if !readUint24LengthPrefixed(&certList, &cert) {
			return nil, errDecode(fmt.Errorf("malformed certificate entry"))
		}
		certs = append(certs, append([]byte(nil), cert...))
	}
	return certs, nil
}

// --- CertificateRequest -------------------------------------------------

type certificateRequest struct {
	certificateTypes    []byte
	signatureAlgorithms []SignatureAlgorithm
}

func parseCertificateRequest(body []byte) (*certificateRequest, error) {
	s := cryptobyte.String(body)
	var certTypes []byte
	var sigAlgs []byte
	var names []byte

	if !readUint8LengthPrefixed(&s, &certTypes) {
		return nil, errDecode(fmt.Errorf("truncated certificate_types"))
	}
	if !readUint16LengthPrefixed(&s, &sigAlgs) {
		return nil, errDecode(fmt.Errorf("truncated supported_signature_algorithms"))
	}
	if len(sigAlgs)%2 != 0 {
		return nil, errDecode(fmt.Errorf("odd supported_signature_algorithms length"))
	}
	if !readUint16LengthPrefixed(&s, &names) || !s.Empty() {
		return nil, errDecode(fmt.Errorf("truncated certificate_authorities"))
	}

	cr := &certificateRequest{certificateTypes: certTypes}
	for i := 0; i+1 < len(sigAlgs); i += 2 {
		cr.signatureAlgorithms = append(cr.signatureAlgorithms, SignatureAlgorithm{sigAlgs[i], sigAlgs[i+1]})
	}
	return cr, nil
}

// --- ServerHelloDone -----------------------------------------------------

func parseServerHelloDone(body []byte) error {
	if len(body) != 0 {
		return errDecode(fmt.Errorf("non-empty ServerHelloDone"))
	}
	return nil
}

func buildServerHelloDone() []byte {
	return buildHandshake(HandshakeServerHelloDone, nil)
}

// --- ClientKeyExchange ---------------------------------------------------

func buildClientKeyExchange(encryptedPreMasterSecret []byte) []byte {
	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(encryptedPreMasterSecret)
	})
	body, _ := b.Bytes()
	return buildHandshake(HandshakeClientKeyExchange, body)
}

func parseClientKeyExchange(body []byte) ([]byte, error) {
	s := cryptobyte.String(body)
	var enc []byte
	if !readUint16LengthPrefixed(&s, &enc) || !s.Empty() {
		return nil, errDecode(fmt.Errorf("malformed ClientKeyExchange"))
	}
	return enc, nil
}

// --- CertificateVerify ---------------------------------------------------

func buildCertificateVerify(alg SignatureAlgorithm, signature []byte) []byte {
	var b cryptobyte.Builder
	b.AddBytes(alg[:])
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(signature)
	})
	body, _ := b.Bytes()
	return buildHandshake(HandshakeCertificateVerify, body)
}

func parseCertificateVerify(body []byte) (SignatureAlgorithm, []byte, error) {
	s := cryptobyte.String(body)
	var alg []byte
	var sig []byte
	if !s.ReadBytes(&alg, 2) || !readUint16LengthPrefixed(&s, &sig) || !s.Empty() {
		return SignatureAlgorithm{}, nil, errDecode(fmt.Errorf("malformed CertificateVerify"))
	}
	return SignatureAlgorithm{alg[0], alg[1]}, sig, nil
}

// --- Finished ---------------------------------------------------------

func buildFinished(verifyData []byte) []byte {
	return buildHandshake(HandshakeFinished, verifyData)
}

func parseFinished(body []byte) ([]byte, error) {
	if len(body) != verifyDataLength {
		return nil, errDecode(fmt.Errorf("Finished length %d", len(body)))
	}
	return body, nil
}
