// Package testpeer is an in-process TLS 1.2 server peer used only by
// this module's own test suite to drive the client through a real
// handshake over net.Pipe, instead of hand-assembling wire bytes by
// hand for every seed scenario.
//
// It speaks the same TLS_RSA_WITH_AES_128_CBC_SHA profile as the client
// in the parent package, but deliberately does not import that
// package's internal cryptobyte-based wire codec (messages.go is
// unexported, by design — it is the client's own internal concern).
// Instead it marshals the wire format the same way the teacher
// repository's original server-handlers.go did: by hand, with
// encoding/binary and bytes.Join. Only the public protocol constants
// (content types, handshake types, the cipher suite identifier) are
// shared with the parent package.
package testpeer

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	mtls12 "github.com/gopherlabs/mtls12"
)

// GenerateSelfSigned produces a throwaway RSA key pair and a
// self-signed leaf certificate for commonName, for use as a Peer's
// server identity in tests.
func GenerateSelfSigned(commonName string) (certDER []byte, priv *rsa.PrivateKey, err error) {
	priv, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Now().AddDate(30, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, err
	}
	return der, priv, nil
}

// Options configures one Peer handshake.
type Options struct {
	// SendCertificateRequest controls whether CertificateRequest is
	// sent between Certificate and ServerHelloDone.
	SendCertificateRequest bool

	// CipherSuite overrides the cipher suite byte pair ServerHello
	// selects. Defaults to TLS_RSA_WITH_AES_128_CBC_SHA; seed scenario 3
	// sets this to an unsupported suite to exercise handshake_failure.
	CipherSuite [2]byte

	// RecordVersionOverride, if non-zero, overrides the version octets
	// written in every record header this peer sends, to exercise the
	// protocol_version failure path.
	RecordVersionOverride uint16

	// CorruptServerFinished flips one bit of the server's verify_data
	// before sending it, to exercise the decrypt_error failure path.
	CorruptServerFinished bool
}

// Peer drives the server side of one handshake over conn.
type Peer struct {
	conn net.Conn
	cert []byte
	key  *rsa.PrivateKey
	opts Options

	transcript []byte

	clientRandom [32]byte
	serverRandom [32]byte

	masterSecret []byte

	readKey, readMACKey   []byte
	writeKey, writeMACKey []byte

	readSeq, writeSeq uint64
	writeBlock        cipher.Block
	readBlock         cipher.Block
}

// New returns a Peer that will present cert/key as its server identity.
func New(conn net.Conn, cert []byte, key *rsa.PrivateKey, opts Options) *Peer {
	suite := opts.CipherSuite
	if suite == [2]byte{} {
		suite = mtls12.TLS_RSA_WITH_AES_128_CBC_SHA
	}
	opts.CipherSuite = suite
	return &Peer{conn: conn, cert: cert, key: key, opts: opts}
}

func (p *Peer) recordVersion() uint16 {
	if p.opts.RecordVersionOverride != 0 {
		return p.opts.RecordVersionOverride
	}
	return uint16(mtls12.VersionTLS12)
}

// --- record layer ---------------------------------------------------

func (p *Peer) writeRecord(ct byte, payload []byte) error {
	header := make([]byte, 5)
	header[0] = ct
	binary.BigEndian.PutUint16(header[1:3], p.recordVersion())
	binary.BigEndian.PutUint16(header[3:5], uint16(len(payload)))
	_, err := p.conn.Write(append(header, payload...))
	return err
}

func (p *Peer) readRecord() (ct byte, payload []byte, err error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(p.conn, header); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint16(header[3:5])
	payload = make([]byte, length)
	if _, err := io.ReadFull(p.conn, payload); err != nil {
		return 0, nil, err
	}
	return header[0], payload, nil
}

func (p *Peer) writeHandshake(ht byte, body []byte) error {
	msg := buildHandshakeMsg(ht, body)
	var out []byte
	if p.writeBlock != nil {
		var err error
		out, err = p.encrypt(byte(mtls12.ContentHandshake), msg)
		if err != nil {
			return err
		}
	} else {
		out = msg
	}
	if err := p.writeRecord(byte(mtls12.ContentHandshake), out); err != nil {
		return err
	}
	p.transcript = append(p.transcript, msg...)
	return nil
}

// readHandshake reads exactly one record, decrypting it if a read
// cipher is installed, and returns its handshake type and body. It does
// not handle fragmentation/coalescing: every seed scenario this peer
// drives sends one handshake message per record, matching how a real
// small-message TLS handshake is typically packetized.
func (p *Peer) readHandshake() (ht byte, body []byte, raw []byte, err error) {
	ct, payload, err := p.readRecord()
	if err != nil {
		return 0, nil, nil, err
	}
	if ct != byte(mtls12.ContentHandshake) {
		return 0, nil, nil, fmt.Errorf("testpeer: expected handshake record, got content type %d", ct)
	}
	if p.readBlock != nil {
		payload, err = p.decrypt(ct, payload)
		if err != nil {
			return 0, nil, nil, err
		}
	}
	if len(payload) < 4 {
		return 0, nil, nil, fmt.Errorf("testpeer: truncated handshake header")
	}
	length := int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
	if len(payload) != 4+length {
		return 0, nil, nil, fmt.Errorf("testpeer: handshake length mismatch")
	}
	p.transcript = append(p.transcript, payload...)
	return payload[0], payload[4:], payload, nil
}

func buildHandshakeMsg(ht byte, body []byte) []byte {
	var length [3]byte
	length[0] = byte(len(body) >> 16)
	length[1] = byte(len(body) >> 8)
	length[2] = byte(len(body))
	return bytes.Join([][]byte{{ht}, length[:], body}, nil)
}

func uint16Prefixed(body []byte) []byte {
	var length [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(body)))
	return append(length[:], body...)
}

func uint24Prefixed(body []byte) []byte {
	var length [3]byte
	length[0] = byte(len(body) >> 16)
	length[1] = byte(len(body) >> 8)
	length[2] = byte(len(body))
	return append(length[:], body...)
}

// --- record cryptography ---------------------------------------------

func macInput(seq uint64, ct byte, payload []byte) []byte {
	buf := make([]byte, 0, 8+1+2+2+len(payload))
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	buf = append(buf, seqBuf[:]...)
	buf = append(buf, ct)
	vers := mtls12.VersionTLS12
	buf = append(buf, byte(vers>>8), byte(vers))
	buf = append(buf, byte(len(payload)>>8), byte(len(payload)))
	buf = append(buf, payload...)
	return buf
}

func (p *Peer) encrypt(ct byte, plaintext []byte) ([]byte, error) {
	seq := p.writeSeq
	p.writeSeq++

	mac := hmac.New(sha1.New, p.writeMACKey)
	mac.Write(macInput(seq, ct, plaintext))
	digest := mac.Sum(nil)

	blockSize := p.writeBlock.BlockSize()
	padlen := blockSize - ((len(plaintext) + len(digest)) % blockSize)
	plain := append(append([]byte{}, plaintext...), digest...)
	for i := 0; i < padlen; i++ {
		plain = append(plain, byte(padlen-1))
	}

	iv := make([]byte, blockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(p.writeBlock, iv).CryptBlocks(out, plain)
	return append(iv, out...), nil
}

func (p *Peer) decrypt(ct byte, payload []byte) ([]byte, error) {
	seq := p.readSeq
	p.readSeq++

	blockSize := p.readBlock.BlockSize()
	if len(payload) < blockSize {
		return nil, fmt.Errorf("testpeer: short ciphertext")
	}
	iv, body := payload[:blockSize], payload[blockSize:]
	dec := make([]byte, len(body))
	cipher.NewCBCDecrypter(p.readBlock, iv).CryptBlocks(dec, body)

	padlen := int(dec[len(dec)-1]) + 1
	if padlen > len(dec) {
		return nil, fmt.Errorf("testpeer: bad padding")
	}
	plaintextLen := len(dec) - padlen - sha1.Size
	plaintext := dec[:plaintextLen]
	receivedMAC := dec[plaintextLen : plaintextLen+sha1.Size]

	mac := hmac.New(sha1.New, p.readMACKey)
	mac.Write(macInput(seq, ct, plaintext))
	if !hmac.Equal(mac.Sum(nil), receivedMAC) {
		return nil, fmt.Errorf("testpeer: bad record mac")
	}
	return plaintext, nil
}

// --- PRF (duplicated from the client's prf.go; see package doc) ------

func pHash(secret, seed []byte, n int) []byte {
	out := make([]byte, 0, n+sha256.Size)
	a := seed
	for len(out) < n {
		mac := hmac.New(sha256.New, secret)
		mac.Write(a)
		a = mac.Sum(nil)

		mac = hmac.New(sha256.New, secret)
		mac.Write(a)
		mac.Write(seed)
		out = append(out, mac.Sum(nil)...)
	}
	return out[:n]
}

func prf(secret []byte, label string, seed []byte, n int) []byte {
	full := append([]byte(label), seed...)
	return pHash(secret, full, n)
}

// --- handshake ----------------------------------------------------------

// Handshake drives the full server side of one handshake over conn. It
// returns once the server's Finished has been sent, at which point
// ReadApplicationData/WriteApplicationData may be used.
func (p *Peer) Handshake() error {
	if err := p.readClientHello(); err != nil {
		return err
	}
	if err := p.sendServerHello(); err != nil {
		return err
	}
	if err := p.sendCertificate(); err != nil {
		return err
	}
	if p.opts.SendCertificateRequest {
		if err := p.sendCertificateRequest(); err != nil {
			return err
		}
	}
	if err := p.sendServerHelloDone(); err != nil {
		return err
	}
	preMasterSecret, err := p.readClientCertificateAndKeyExchange()
	if err != nil {
		return err
	}
	if err := p.readCertificateVerify(); err != nil {
		return err
	}

	p.masterSecret = prf(preMasterSecret, "master secret", append(append([]byte{}, p.clientRandom[:]...), p.serverRandom[:]...), 48)
	keyBlock := prf(p.masterSecret, "key expansion", append(append([]byte{}, p.serverRandom[:]...), p.clientRandom[:]...), 88)
	clientMACKey := keyBlock[0:20]
	serverMACKey := keyBlock[20:40]
	clientKey := keyBlock[40:56]
	serverKey := keyBlock[56:72]

	p.readMACKey, p.readKey = clientMACKey, clientKey
	p.readBlock, err = aes.NewCipher(clientKey)
	if err != nil {
		return err
	}

	if err := p.readClientChangeCipherSpec(); err != nil {
		return err
	}
	if err := p.readClientFinished(); err != nil {
		return err
	}

	if err := p.writeRecord(byte(mtls12.ContentChangeCipherSpec), []byte{0x01}); err != nil {
		return err
	}
	p.writeMACKey, p.writeKey = serverMACKey, serverKey
	p.writeBlock, err = aes.NewCipher(serverKey)
	if err != nil {
		return err
	}

	return p.sendServerFinished()
}

func (p *Peer) readClientHello() error {
	ht, body, _, err := p.readHandshake()
	if err != nil {
		return err
	}
	if ht != byte(mtls12.HandshakeClientHello) {
		return fmt.Errorf("testpeer: expected ClientHello, got %d", ht)
	}
	copy(p.clientRandom[:], body[2:34])
	return nil
}

func (p *Peer) sendServerHello() error {
	if _, err := rand.Read(p.serverRandom[:]); err != nil {
		return err
	}
	vers := mtls12.VersionTLS12
	body := bytes.Join([][]byte{
		{byte(vers >> 8), byte(vers)},
		p.serverRandom[:],
		{0x00}, // empty session_id
		p.opts.CipherSuite[:],
		{0x00}, // compression_method: null
	}, nil)
	return p.writeHandshake(byte(mtls12.HandshakeServerHello), body)
}

func (p *Peer) sendCertificate() error {
	body := uint24Prefixed(uint24Prefixed(p.cert))
	return p.writeHandshake(byte(mtls12.HandshakeCertificate), body)
}

func (p *Peer) sendCertificateRequest() error {
	body := bytes.Join([][]byte{
		{0x01, 0x01},       // certificate_types: length 1, rsa_sign
		{0x00, 0x02, 0x04, 0x01}, // supported_signature_algorithms: length 2, {sha256, rsa}
		{0x00, 0x00},       // certificate_authorities: empty
	}, nil)
	return p.writeHandshake(byte(mtls12.HandshakeCertificateRequest), body)
}

func (p *Peer) sendServerHelloDone() error {
	return p.writeHandshake(byte(mtls12.HandshakeServerHelloDone), nil)
}

func (p *Peer) readClientCertificateAndKeyExchange() (preMasterSecret []byte, err error) {
	ht, body, _, err := p.readHandshake()
	if err != nil {
		return nil, err
	}
	if ht != byte(mtls12.HandshakeCertificate) {
		return nil, fmt.Errorf("testpeer: expected client Certificate, got %d", ht)
	}
	_ = body // client certificate chain is not verified by this harness

	ht, body, _, err = p.readHandshake()
	if err != nil {
		return nil, err
	}
	if ht != byte(mtls12.HandshakeClientKeyExchange) {
		return nil, fmt.Errorf("testpeer: expected ClientKeyExchange, got %d", ht)
	}
	if len(body) < 2 {
		return nil, fmt.Errorf("testpeer: truncated ClientKeyExchange")
	}
	encLen := binary.BigEndian.Uint16(body[0:2])
	encrypted := body[2 : 2+int(encLen)]
	pms, err := rsa.DecryptPKCS1v15(rand.Reader, p.key, encrypted)
	if err != nil {
		return nil, fmt.Errorf("testpeer: decrypt pre_master_secret: %w", err)
	}
	return pms, nil
}

func (p *Peer) readCertificateVerify() error {
	ht, _, _, err := p.readHandshake()
	if err != nil {
		return err
	}
	if ht != byte(mtls12.HandshakeCertificateVerify) {
		return fmt.Errorf("testpeer: expected CertificateVerify, got %d", ht)
	}
	// Signature verification against the client's own certificate is
	// outside this harness's scope: every seed scenario exercises the
	// client's outbound behavior, not a hostile client.
	return nil
}

// readClientChangeCipherSpec reads the plaintext ChangeCipherSpec record
// the client sends between CertificateVerify and its (encrypted) Finished.
func (p *Peer) readClientChangeCipherSpec() error {
	ct, payload, err := p.readRecord()
	if err != nil {
		return err
	}
	if ct != byte(mtls12.ContentChangeCipherSpec) {
		return fmt.Errorf("testpeer: expected ChangeCipherSpec, got content type %d", ct)
	}
	if len(payload) != 1 || payload[0] != 0x01 {
		return fmt.Errorf("testpeer: invalid ChangeCipherSpec value %v", payload)
	}
	return nil
}

func (p *Peer) readClientFinished() error {
	ht, body, raw, err := p.readHandshake()
	if err != nil {
		return err
	}
	if ht != byte(mtls12.HandshakeFinished) {
		return fmt.Errorf("testpeer: expected client Finished, got %d", ht)
	}
	if len(body) != 12 {
		return fmt.Errorf("testpeer: client verify_data length %d", len(body))
	}
	// The transcript already includes this Finished message (appended
	// by readHandshake), matching the client's own
	// "transcript_including_client_Finished" rule for server_verify_data.
	_ = raw
	return nil
}

func (p *Peer) sendServerFinished() error {
	digest := sha256.Sum256(p.transcript)
	verifyData := prf(p.masterSecret, "server finished", digest[:], 12)
	if p.opts.CorruptServerFinished {
		verifyData[0] ^= 0x01
	}
	return p.writeHandshake(byte(mtls12.HandshakeFinished), verifyData)
}

// --- application data --------------------------------------------------

func (p *Peer) WriteApplicationData(data []byte) error {
	out, err := p.encrypt(byte(mtls12.ContentApplicationData), data)
	if err != nil {
		return err
	}
	return p.writeRecord(byte(mtls12.ContentApplicationData), out)
}

func (p *Peer) ReadApplicationData() ([]byte, error) {
	ct, payload, err := p.readRecord()
	if err != nil {
		return nil, err
	}
	if ct != byte(mtls12.ContentApplicationData) {
		return nil, fmt.Errorf("testpeer: expected application data, got content type %d", ct)
	}
	return p.decrypt(ct, payload)
}

// WriteRawRecord writes a record with an arbitrary content type and
// payload, bypassing any installed cipher, for injecting malformed or
// off-protocol records.
func (p *Peer) WriteRawRecord(ct byte, payload []byte) error {
	return p.writeRecord(ct, payload)
}

// EncryptRecord returns the iv‖ciphertext this peer's write cipher
// would produce for (ct, payload), without writing it, so a caller can
// corrupt a byte of real ciphertext before sending it with
// WriteRawRecord.
func (p *Peer) EncryptRecord(ct byte, payload []byte) ([]byte, error) {
	return p.encrypt(ct, payload)
}
