// Package mtls12 implements the client side of a minimal, mutually
// authenticated TLS 1.2 handshake over TLS_RSA_WITH_AES_128_CBC_SHA.
//
// It is intentionally narrow: one cipher suite, one protocol version, RSA
// key transport, no session resumption or renegotiation. See RFC 5246.
package mtls12

// ProtocolVersion is the two-octet {major, minor} pair carried in every
// record header and in ClientHello/ServerHello.
type ProtocolVersion uint16

// VersionTLS12 is the only protocol version this client speaks.
const VersionTLS12 ProtocolVersion = 0x0303

// ContentType identifies the payload carried by a record.
type ContentType uint8

const (
	ContentChangeCipherSpec ContentType = 20
	ContentAlert            ContentType = 21
	ContentHandshake        ContentType = 22
	ContentApplicationData  ContentType = 23
)

func (t ContentType) valid() bool {
	switch t {
	case ContentChangeCipherSpec, ContentAlert, ContentHandshake, ContentApplicationData:
		return true
	default:
		return false
	}
}

// HandshakeType identifies a handshake message within a Handshake record.
type HandshakeType uint8

const (
	HandshakeHelloRequest       HandshakeType = 0
	HandshakeClientHello        HandshakeType = 1
	HandshakeServerHello        HandshakeType = 2
	HandshakeCertificate        HandshakeType = 11
	HandshakeServerKeyExchange  HandshakeType = 12
	HandshakeCertificateRequest HandshakeType = 13
	HandshakeServerHelloDone    HandshakeType = 14
	HandshakeCertificateVerify  HandshakeType = 15
	HandshakeClientKeyExchange  HandshakeType = 16
	HandshakeFinished           HandshakeType = 20
)

// CipherSuite is the two-octet wire identifier of a TLS cipher suite.
type CipherSuite [2]byte

// TLS_RSA_WITH_AES_128_CBC_SHA is the only cipher suite this client offers
// or accepts.
var TLS_RSA_WITH_AES_128_CBC_SHA = CipherSuite{0x00, 0x2F}

// CompressionNull is the only compression method this client offers or
// accepts.
const CompressionNull = 0x00

// SignatureAlgorithm is the two-octet {hash, signature} pair used in
// CertificateVerify.
type SignatureAlgorithm [2]byte

// RSAPKCS1SHA256 is the algorithm pair the default Signer reports.
var RSAPKCS1SHA256 = SignatureAlgorithm{0x04, 0x01}

// AlertLevel and AlertDescription are the two octets of an Alert record.
type AlertLevel uint8

const (
	AlertLevelWarning AlertLevel = 1
	AlertLevelFatal   AlertLevel = 2
)

type AlertDescription uint8

const (
	AlertCloseNotify          AlertDescription = 0
	AlertUnexpectedMessage    AlertDescription = 10
	AlertBadRecordMAC         AlertDescription = 20
	AlertDecryptionFailed     AlertDescription = 21
	AlertHandshakeFailure     AlertDescription = 40
	AlertBadCertificate       AlertDescription = 42
	AlertDecodeError          AlertDescription = 50
	AlertDecryptError         AlertDescription = 51
	AlertProtocolVersion      AlertDescription = 70
	AlertInternalError        AlertDescription = 80
)

const (
	// maxPlaintextLength is the largest fragment a record may carry,
	// per RFC 5246 §6.2.1: 2^14 octets.
	maxPlaintextLength = 1 << 14
	// recordHeaderSize is the fixed 5-octet record header.
	recordHeaderSize = 5
	// randomLength is the length, in octets, of client/server random.
	randomLength = 32
	// masterSecretLength is the length, in octets, of the master secret.
	masterSecretLength = 48
	// preMasterSecretLength is the length, in octets, of the RSA
	// pre-master secret.
	preMasterSecretLength = 48
	// keyBlockLength is the total length, in octets, of the derived key
	// block: two 20-octet MAC keys, two 16-octet cipher keys, and a
	// 16-octet explicit-IV seed.
	keyBlockLength = 20 + 20 + 16 + 16 + 16
	// macKeyLength is the length of each HMAC-SHA1 MAC key.
	macKeyLength = 20
	// cipherKeyLength is the length of each AES-128 key.
	cipherKeyLength = 16
	// ivSeedLength is the length of the explicit-IV derivation seed.
	ivSeedLength = 16
	// macLength is the length of an HMAC-SHA1 digest.
	macLength = 20
	// verifyDataLength is the length of Finished.verify_data.
	verifyDataLength = 12
)
