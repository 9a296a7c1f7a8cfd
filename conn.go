package mtls12

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

var connIDCounter atomic.Uint64

// signResult carries the resolved output of an external Signer call back
// across the goroutine boundary to the connection's synchronous
// handshake driver.
type signResult struct {
	alg SignatureAlgorithm
	sig []byte
	err error
}

// Conn is one mutually authenticated TLS 1.2 client connection, per
// spec.md §4.4. It owns the transport, the record-layer buffers, the
// current handshake state, and the installed cipher handles.
//
// A Conn is single-threaded and cooperative per spec.md §5: Connect,
// Read, Write and the two suspension points never run concurrently with
// each other on the same Conn. Close may be called concurrently with
// any of them to cancel an in-progress handshake.
type Conn struct {
	id        uint64
	cfg       *Config
	transport net.Conn

	rr     *recordReader
	stager *fragmentStager
	state  stateID
	hs     *handshakeContext

	wc *writeCipher
	rc *readCipher

	// pendingServerMACKey/pendingServerKey hold the server-direction keys
	// from key_block between their derivation (at CertificateVerify) and
	// their installation into rc (on the server's ChangeCipherSpec).
	pendingServerMACKey []byte
	pendingServerKey    []byte

	verifyCh chan error
	signCh   chan signResult

	ctx    context.Context
	cancel context.CancelFunc

	appDataBuf []byte

	closeOnce sync.Once
	closeErr  error

	// OnConnect, if set, is invoked once when the handshake reaches
	// Established, per spec.md §6's "connect" event.
	OnConnect func()
}

// NewConn wraps transport in a handshake-ready Conn. cfg may be nil, in
// which case every collaborator defaults per Config's accessor methods.
func NewConn(transport net.Conn, cfg *Config) *Conn {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Conn{
		id:        connIDCounter.Add(1),
		cfg:       cfg,
		transport: transport,
		rr:        newRecordReader(),
		stager:    &fragmentStager{},
		state:     stRoot,
	}
}

// ID returns the connection's process-local identifier, for correlating
// log output across many connections.
func (c *Conn) ID() uint64 { return c.id }

// Connect drives the handshake to completion (Established) or returns
// the fatal error that aborted it. ctx bounds the two external-collaborator
// suspension points: canceling it aborts any outstanding verifier/signer
// call and causes late callbacks to be dropped. Transport reads and
// writes are not bounded by ctx; deadlines set on the transport bound
// them.
func (c *Conn) Connect(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.hs = newHandshakeContext()

	if err := c.transition(stStart); err != nil {
		return c.fail(err)
	}

	for c.state != stEstablished {
		var err error
		switch c.state {
		case stVerifyServerCertificate:
			err = c.awaitVerify()
		case stCertificateVerify:
			err = c.awaitSign()
		default:
			err = c.readDispatchOne()
		}
		if err != nil {
			return c.fail(err)
		}
	}
	return nil
}

// beginVerify is invoked from stVerifyServerCertificate's onEnter. It
// hands the server's certificate chain to the configured Verifier on a
// separate goroutine, since verification may itself be asynchronous
// (network-backed revocation checking, a remote signing service, etc.).
func (c *Conn) beginVerify() {
	ch := make(chan error, 1)
	c.verifyCh = ch
	certs := c.hs.serverCertificates
	verifier := c.cfg.verifier()
	go func() {
		ch <- verifier.VerifyChain(c.ctx, certs)
	}()
}

func (c *Conn) awaitVerify() error {
	select {
	case err := <-c.verifyCh:
		if err != nil {
			return errBadCertificate(fmt.Errorf("verify server certificate chain: %w", err))
		}
		return c.transition(stCertificateVerify)
	case <-c.ctx.Done():
		return errClosed(c.ctx.Err())
	}
}

// beginSign is invoked from stCertificateVerify's onEnter.
func (c *Conn) beginSign() {
	ch := make(chan signResult, 1)
	c.signCh = ch
	transcript := append([]byte(nil), c.hs.transcript.bytes()...)
	signer := c.cfg.signer()
	go func() {
		alg, sig, err := signer.Sign(c.ctx, transcript)
		ch <- signResult{alg: alg, sig: sig, err: err}
	}()
}

func (c *Conn) awaitSign() error {
	select {
	case res := <-c.signCh:
		if res.err != nil {
			return errInternal(fmt.Errorf("sign handshake transcript: %w", res.err))
		}
		return c.finishCertificateVerify(res.alg, res.sig)
	case <-c.ctx.Done():
		return errClosed(c.ctx.Err())
	}
}

// readDispatchOne delivers exactly one staged protocol message to the
// current state, pulling more transport bytes and detaching more
// records as needed to produce one. It is the sole place transport
// reads happen outside of the two suspension points.
func (c *Conn) readDispatchOne() error {
	buf := make([]byte, 4096)
	for {
		msg, ok, err := c.stager.extract()
		if err != nil {
			return err
		}
		if ok {
			return c.dispatch(c.stager.typ, msg)
		}

		ct, payload, err := c.rr.next()
		if err != nil {
			return err
		}
		if payload == nil {
			n, rerr := c.transport.Read(buf)
			if n > 0 {
				c.rr.feed(buf[:n])
			}
			if rerr != nil {
				return errClosed(fmt.Errorf("read transport: %w", rerr))
			}
			continue
		}

		if c.rc != nil {
			payload, err = c.rc.decrypt(ct, payload)
			if err != nil {
				return err
			}
		}
		if err := c.stager.stage(ct, payload); err != nil {
			return err
		}
	}
}

// dispatch applies the transcript rule and the HelloRequest/Alert
// central handling of spec.md §4.3/§7, then hands the message to the
// current state's onMessage.
func (c *Conn) dispatch(ct ContentType, raw []byte) error {
	if ct == ContentAlert {
		return c.handleAlert(raw)
	}

	if ct == ContentHandshake {
		ht, _, err := splitHandshake(raw)
		if err != nil {
			return err
		}
		if ht == HandshakeHelloRequest {
			c.cfg.logger().Debugf("conn %d: ignoring HelloRequest", c.id)
			return nil
		}
		if ht != HandshakeFinished {
			c.appendTranscript(raw)
		}
	}

	node, ok := nodes[c.state]
	if !ok || node.onMessage == nil {
		return errUnexpectedMessage(fmt.Errorf("unexpected content type %d in state %s", ct, c.state))
	}
	return node.onMessage(c, ct, raw)
}

func (c *Conn) handleAlert(raw []byte) error {
	if len(raw) != 2 {
		return errDecode(fmt.Errorf("malformed alert"))
	}
	level, desc := AlertLevel(raw[0]), AlertDescription(raw[1])
	if desc == AlertCloseNotify {
		return errClosed(fmt.Errorf("peer sent close_notify"))
	}
	if level == AlertLevelFatal {
		return errHandshakeFailure(fmt.Errorf("peer sent fatal alert %d", desc))
	}
	c.cfg.logger().Debugf("conn %d: received warning alert %d", c.id, desc)
	return nil
}

// fail aborts the connection: it cancels any outstanding suspension,
// attempts to notify the peer with a matching fatal Alert, and closes
// the transport, per spec.md §4.4/§7.
func (c *Conn) fail(err error) error {
	if c.cancel != nil {
		c.cancel()
	}
	alert := AlertInternalError
	if te, ok := err.(*Error); ok {
		alert = te.Alert
	}
	_ = c.writeRecord(ContentAlert, []byte{byte(AlertLevelFatal), byte(alert)})
	_ = c.transport.Close()
	c.cfg.logger().Errorf("conn %d: connection failed: %v", c.id, err)
	return err
}

// deliverApplicationData is called by the Established state's
// onMessage to hand decrypted ApplicationData to Read's buffer.
func (c *Conn) deliverApplicationData(raw []byte) {
	c.appDataBuf = append(c.appDataBuf, raw...)
}

// Write sends p as a single ApplicationData record. It fails with
// ErrNotReady before the handshake reaches Established and with
// ErrRecordOverflow if p exceeds the 2^14-octet plaintext limit — this
// core never fragments outgoing application data (see DESIGN.md).
func (c *Conn) Write(p []byte) (int, error) {
	if c.state != stEstablished {
		return 0, ErrNotReady
	}
	if len(p) > maxPlaintextLength {
		return 0, ErrRecordOverflow
	}
	if err := c.writeRecord(ContentApplicationData, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read returns the next available ApplicationData octets, blocking on
// the transport as needed. It fails with ErrNotReady before Established.
func (c *Conn) Read(p []byte) (int, error) {
	if c.state != stEstablished {
		return 0, ErrNotReady
	}
	for len(c.appDataBuf) == 0 {
		if err := c.readDispatchOne(); err != nil {
			return 0, err
		}
	}
	n := copy(p, c.appDataBuf)
	c.appDataBuf = c.appDataBuf[n:]
	return n, nil
}

// Close sends close_notify (best effort, per spec.md §9's Open Question
// resolution) and closes the transport. Safe to call more than once and
// concurrently with Connect/Read/Write, in which case any in-progress
// suspension point is canceled and its eventual callback is dropped.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.wc != nil {
			_ = c.writeRecord(ContentAlert, []byte{byte(AlertLevelWarning), byte(AlertCloseNotify)})
		}
		c.closeErr = c.transport.Close()
	})
	return c.closeErr
}

// writeRecord encrypts payload (if a write cipher is installed) and
// writes exactly one record to the transport, per spec.md §4.1 Outbound.
func (c *Conn) writeRecord(ct ContentType, payload []byte) error {
	out := payload
	if c.wc != nil {
		var err error
		out, err = c.wc.encrypt(ct, payload)
		if err != nil {
			return err
		}
	}
	header := encodeRecordHeader(ct, len(out))
	if _, err := c.transport.Write(append(header, out...)); err != nil {
		return errInternal(fmt.Errorf("write transport: %w", err))
	}
	return nil
}
