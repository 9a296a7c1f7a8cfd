package mtls12

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
)

// handshakeContext is the per-connection state the handshake root owns
// for the duration of the handshake, per spec.md §3. It is created when
// a Conn enters stHandshakeRoot and dropped when the handshake root's
// onExit fires, on the transition into Established.
type handshakeContext struct {
	transcript *Transcript

	clientRandom [randomLength]byte
	serverRandom [randomLength]byte
	sessionID    []byte

	preMasterSecret [preMasterSecretLength]byte

	serverPublicKey    *rsa.PublicKey
	serverCertificates [][]byte

	masterSecret []byte
	keyBlock     []byte

	explicitIVSeed [ivSeedLength]byte
}

func newHandshakeContext() *handshakeContext {
	return &handshakeContext{transcript: newTranscript()}
}

// appendTranscript records a handshake message's raw wire bytes, per the
// transcript rule in spec.md §4.3: HelloRequest and the inbound Finished
// are never appended; everything else is, immediately before (inbound)
// or immediately after (outbound) its handler runs.
func (c *Conn) appendTranscript(msg []byte) {
	c.hs.transcript.append(msg)
}

// writeHandshake wraps body in a handshake header, writes it as one
// Handshake record (encrypted if a write cipher is installed), and
// appends the wire bytes to the transcript.
func (c *Conn) writeHandshake(ht HandshakeType, body []byte) error {
	msg := buildHandshake(ht, body)
	if err := c.writeRecord(ContentHandshake, msg); err != nil {
		return err
	}
	c.appendTranscript(msg)
	return nil
}

// --- stStart -------------------------------------------------------------

func enterStart(c *Conn) error {
	if _, err := rand.Read(c.hs.clientRandom[:]); err != nil {
		return errInternal(fmt.Errorf("generate client_random: %w", err))
	}
	msg := buildClientHello(c.hs.clientRandom)
	if err := c.writeRecord(ContentHandshake, msg); err != nil {
		return err
	}
	c.appendTranscript(msg)
	c.cfg.logger().Debugf("conn %d: sent ClientHello", c.id)
	return nil
}

func onMessageStart(c *Conn, ct ContentType, raw []byte) error {
	ht, body, err := expectHandshake(ct, raw)
	if err != nil {
		return err
	}
	if ht != HandshakeServerHello {
		return errUnexpectedMessage(fmt.Errorf("expected ServerHello, got %d", ht))
	}
	sh, err := parseServerHello(body)
	if err != nil {
		return err
	}
	c.hs.serverRandom = sh.random
	c.hs.sessionID = sh.sessionID
	c.cfg.logger().Debugf("conn %d: received ServerHello", c.id)
	return c.transition(stServerCertificate)
}

// --- stServerCertificate --------------------------------------------------

func onMessageServerCertificate(c *Conn, ct ContentType, raw []byte) error {
	ht, body, err := expectHandshake(ct, raw)
	if err != nil {
		return err
	}
	if ht != HandshakeCertificate {
		return errUnexpectedMessage(fmt.Errorf("expected Certificate, got %d", ht))
	}
	certs, err := parseCertificateList(body)
	if err != nil {
		return err
	}
	if len(certs) == 0 {
		return errBadCertificate(fmt.Errorf("empty server certificate list"))
	}
	pub, err := c.cfg.keyExtractor().ExtractRSAPublicKey(certs[0])
	if err != nil {
		return err
	}
	c.hs.serverCertificates = certs
	c.hs.serverPublicKey = pub
	c.cfg.logger().Debugf("conn %d: received Certificate (%d certs)", c.id, len(certs))
	return c.transition(stCertificateRequest)
}

// --- stCertificateRequest --------------------------------------------------

func onMessageCertificateRequest(c *Conn, ct ContentType, raw []byte) error {
	ht, body, err := expectHandshake(ct, raw)
	if err != nil {
		return err
	}
	switch ht {
	case HandshakeCertificateRequest:
		if _, err := parseCertificateRequest(body); err != nil {
			return err
		}
		c.cfg.logger().Debugf("conn %d: received CertificateRequest", c.id)
		return c.transition(stServerHelloDone)
	case HandshakeServerHelloDone:
		// The server may skip CertificateRequest entirely; re-dispatch to
		// the next state's handler rather than duplicate its logic.
		if err := c.transition(stServerHelloDone); err != nil {
			return err
		}
		return onMessageServerHelloDone(c, ct, raw)
	default:
		return errUnexpectedMessage(fmt.Errorf("expected CertificateRequest or ServerHelloDone, got %d", ht))
	}
}

// --- stServerHelloDone --------------------------------------------------

func onMessageServerHelloDone(c *Conn, ct ContentType, raw []byte) error {
	ht, body, err := expectHandshake(ct, raw)
	if err != nil {
		return err
	}
	if ht != HandshakeServerHelloDone {
		return errUnexpectedMessage(fmt.Errorf("expected ServerHelloDone, got %d", ht))
	}
	if err := parseServerHelloDone(body); err != nil {
		return err
	}
	c.cfg.logger().Debugf("conn %d: received ServerHelloDone", c.id)

	if err := c.writeHandshake(HandshakeCertificate, certificateListBody(c.cfg.ClientCertificates)); err != nil {
		return err
	}

	preMasterSecret, encrypted, err := encryptPreMasterSecret(c.hs.serverPublicKey)
	if err != nil {
		return err
	}
	c.hs.preMasterSecret = preMasterSecret
	if err := c.writeHandshake(HandshakeClientKeyExchange, clientKeyExchangeBody(encrypted)); err != nil {
		return err
	}

	return c.transition(stVerifyServerCertificate)
}

// certificateListBody builds the Certificate message body without the
// 4-octet handshake header (writeHandshake adds that).
func certificateListBody(certs [][]byte) []byte {
	full := buildCertificateList(certs)
	_, body, _ := splitHandshake(full)
	return body
}

func clientKeyExchangeBody(encryptedPreMasterSecret []byte) []byte {
	full := buildClientKeyExchange(encryptedPreMasterSecret)
	_, body, _ := splitHandshake(full)
	return body
}

// encryptPreMasterSecret generates a fresh {0x03,0x03} || 46 random
// octets pre_master_secret and RSA-PKCS#1v1.5-encrypts it under the
// server's public key, per spec.md §3/§4.3 state 4.
func encryptPreMasterSecret(pub *rsa.PublicKey) ([preMasterSecretLength]byte, []byte, error) {
	var pms [preMasterSecretLength]byte
	vers := VersionTLS12
	pms[0], pms[1] = byte(vers>>8), byte(vers)
	if _, err := rand.Read(pms[2:]); err != nil {
		return pms, nil, errInternal(fmt.Errorf("generate pre_master_secret: %w", err))
	}
	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, pub, pms[:])
	if err != nil {
		return pms, nil, errInternal(fmt.Errorf("encrypt pre_master_secret: %w", err))
	}
	return pms, encrypted, nil
}

// --- stVerifyServerCertificate ------------------------------------------

func enterVerifyServerCertificate(c *Conn) error {
	c.beginVerify()
	return nil
}

// --- stCertificateVerify --------------------------------------------------

func enterCertificateVerify(c *Conn) error {
	c.beginSign()
	return nil
}

// finishCertificateVerify runs once the signer callback resolves: emits
// CertificateVerify, derives the master secret and key block, sends
// ChangeCipherSpec, installs the write cipher, and sends Finished.
func (c *Conn) finishCertificateVerify(alg SignatureAlgorithm, signature []byte) error {
	if err := c.writeHandshake(HandshakeCertificateVerify, certificateVerifyBody(alg, signature)); err != nil {
		return err
	}

	c.hs.masterSecret = masterSecret(c.hs.preMasterSecret[:], c.hs.clientRandom[:], c.hs.serverRandom[:])
	c.hs.keyBlock = deriveKeyBlock(c.hs.masterSecret, c.hs.clientRandom[:], c.hs.serverRandom[:])

	clientMACKey := c.hs.keyBlock[0:20]
	serverMACKey := c.hs.keyBlock[20:40]
	clientKey := c.hs.keyBlock[40:56]
	serverKey := c.hs.keyBlock[56:72]
	ivSeed := c.hs.keyBlock[72:88]
	copy(c.hs.explicitIVSeed[:], ivSeed)
	c.pendingServerMACKey = serverMACKey
	c.pendingServerKey = serverKey

	wc, err := newWriteCipher(clientKey, clientMACKey, c.hs.explicitIVSeed[:])
	if err != nil {
		return err
	}

	if err := c.writeRecord(ContentChangeCipherSpec, []byte{0x01}); err != nil {
		return err
	}
	c.wc = wc
	c.cfg.logger().Debugf("conn %d: installed write cipher, sent ChangeCipherSpec", c.id)

	verifyData := clientVerifyData(c.hs.masterSecret, c.hs.transcript.digest())
	if err := c.writeHandshake(HandshakeFinished, verifyData); err != nil {
		return err
	}

	return c.transition(stChangeCipherSpec)
}

func certificateVerifyBody(alg SignatureAlgorithm, signature []byte) []byte {
	full := buildCertificateVerify(alg, signature)
	_, body, _ := splitHandshake(full)
	return body
}

// --- stChangeCipherSpec --------------------------------------------------

func onMessageChangeCipherSpec(c *Conn, ct ContentType, raw []byte) error {
	if ct != ContentChangeCipherSpec {
		return errUnexpectedMessage(fmt.Errorf("expected ChangeCipherSpec, got content type %d", ct))
	}
	rc, err := newReadCipher(c.pendingServerKey, c.pendingServerMACKey)
	if err != nil {
		return err
	}
	c.rc = rc
	c.cfg.logger().Debugf("conn %d: installed read cipher", c.id)
	return c.transition(stServerFinished)
}

// --- stServerFinished --------------------------------------------------

func onMessageServerFinished(c *Conn, ct ContentType, raw []byte) error {
	ht, body, err := expectHandshake(ct, raw)
	if err != nil {
		return err
	}
	if ht != HandshakeFinished {
		return errUnexpectedMessage(fmt.Errorf("expected Finished, got %d", ht))
	}
	verifyData, err := parseFinished(body)
	if err != nil {
		return err
	}
	expected := serverVerifyData(c.hs.masterSecret, c.hs.transcript.digest())
	if !constantTimeEqual(verifyData, expected) {
		return errDecrypt(fmt.Errorf("server Finished verify_data mismatch"))
	}
	// Per spec.md §4.3 the inbound Finished is never appended to the
	// transcript, so no appendTranscript call here.
	c.cfg.logger().Debugf("conn %d: verified server Finished", c.id)
	return c.transition(stEstablished)
}

// --- stHandshakeRoot -------------------------------------------------

func exitHandshakeRoot(c *Conn) error {
	// The handshake secrets and transcript are no longer needed once
	// Established; drop them to reduce memory pressure on long-lived
	// connections, per spec.md §3's "implementer's choice" note.
	c.hs = nil
	c.pendingServerMACKey = nil
	c.pendingServerKey = nil
	return nil
}

// --- stEstablished -----------------------------------------------------

func enterEstablished(c *Conn) error {
	c.cfg.logger().Debugf("conn %d: handshake complete", c.id)
	if c.OnConnect != nil {
		c.OnConnect()
	}
	return nil
}

func onMessageEstablished(c *Conn, ct ContentType, raw []byte) error {
	if ct != ContentApplicationData {
		return errUnexpectedMessage(fmt.Errorf("unexpected content type %d in Established", ct))
	}
	c.deliverApplicationData(raw)
	return nil
}

// expectHandshake validates that raw is a complete Handshake-type
// message and splits it into its type and body. It does not touch the
// transcript: Conn.dispatch has already appended the inbound message
// before the handler runs, per the transcript rule.
func expectHandshake(ct ContentType, raw []byte) (HandshakeType, []byte, error) {
	if ct != ContentHandshake {
		return 0, nil, errUnexpectedMessage(fmt.Errorf("expected a handshake message, got content type %d", ct))
	}
	return splitHandshake(raw)
}

// nodes is the uniform handler table keyed by stateID, populated once
// at package init. It is read by Conn.transition.
//
// Built inside init() rather than as a direct map-literal initializer:
// the handlers referenced here transitively call Conn.transition, which
// reads nodes, and Go's dependency analysis for package-level var
// initializers follows that call graph, flagging it as an initialization
// cycle even though nodes is fully built before any handler runs.
var nodes map[stateID]stateNode

func init() {
	nodes = map[stateID]stateNode{
		stHandshakeRoot: {
			onExit: exitHandshakeRoot,
		},
		stStart: {
			onEnter:   enterStart,
			onMessage: onMessageStart,
		},
		stServerCertificate: {
			onMessage: onMessageServerCertificate,
		},
		stCertificateRequest: {
			onMessage: onMessageCertificateRequest,
		},
		stServerHelloDone: {
			onMessage: onMessageServerHelloDone,
		},
		stVerifyServerCertificate: {
			onEnter: enterVerifyServerCertificate,
		},
		stCertificateVerify: {
			onEnter: enterCertificateVerify,
		},
		stChangeCipherSpec: {
			onMessage: onMessageChangeCipherSpec,
		},
		stServerFinished: {
			onMessage: onMessageServerFinished,
		},
		stEstablished: {
			onEnter:   enterEstablished,
			onMessage: onMessageEstablished,
		},
	}
}
