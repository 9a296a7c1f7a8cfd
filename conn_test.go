package mtls12_test

import (
	"context"
	"crypto/x509"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mtls12 "github.com/gopherlabs/mtls12"
	"github.com/gopherlabs/mtls12/internal/testpeer"
)

// testHarness wires a client Conn to a testpeer.Peer over net.Pipe and
// runs the server side on a background goroutine, since net.Pipe is
// synchronous and both sides of a handshake block on each other.
type testHarness struct {
	client   *mtls12.Conn
	peer     *testpeer.Peer
	peerDone chan error
}

func newTestHarness(t *testing.T, opts testpeer.Options) *testHarness {
	t.Helper()

	serverCertDER, serverKey, err := testpeer.GenerateSelfSigned("mtls12-test-server")
	require.NoError(t, err)
	clientCertDER, clientKey, err := testpeer.GenerateSelfSigned("mtls12-test-client")
	require.NoError(t, err)

	serverCert, err := x509.ParseCertificate(serverCertDER)
	require.NoError(t, err)
	roots := x509.NewCertPool()
	roots.AddCert(serverCert)

	clientTransport, serverTransport := net.Pipe()
	// net.Pipe is unbuffered and the client sets no transport deadlines of
	// its own, so bound the client side here: the best-effort Alert the
	// client writes once the peer has stopped reading (after a failed
	// handshake, or on Close) then times out instead of blocking forever.
	require.NoError(t, clientTransport.SetDeadline(time.Now().Add(5*time.Second)))

	peer := testpeer.New(serverTransport, serverCertDER, serverKey, opts)

	cfg := &mtls12.Config{
		ClientCertificates: [][]byte{clientCertDER},
		ClientKey:          clientKey,
		CAPool:             roots,
	}
	client := mtls12.NewConn(clientTransport, cfg)

	peerDone := make(chan error, 1)
	go func() { peerDone <- peer.Handshake() }()

	return &testHarness{client: client, peer: peer, peerDone: peerDone}
}

func (h *testHarness) waitPeer(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.peerDone:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for test peer handshake")
		return nil
	}
}

func TestConnectHappyPathAndApplicationData(t *testing.T) {
	h := newTestHarness(t, testpeer.Options{SendCertificateRequest: true})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.client.Connect(ctx))
	require.NoError(t, h.waitPeer(t))

	n, err := h.client.Write([]byte("hello server"))
	require.NoError(t, err)
	require.Equal(t, len("hello server"), n)

	got, err := h.peer.ReadApplicationData()
	require.NoError(t, err)
	require.Equal(t, []byte("hello server"), got)

	require.NoError(t, h.peer.WriteApplicationData([]byte("hello client")))
	buf := make([]byte, 64)
	n, err = h.client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte("hello client"), buf[:n])

	require.NoError(t, h.client.Close())
}

func TestConnectWithoutCertificateRequest(t *testing.T) {
	h := newTestHarness(t, testpeer.Options{SendCertificateRequest: false})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.client.Connect(ctx))
	require.NoError(t, h.waitPeer(t))
}

func TestConnectUnsupportedCipherSuiteFailsHandshake(t *testing.T) {
	h := newTestHarness(t, testpeer.Options{CipherSuite: [2]byte{0x00, 0x35}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.client.Connect(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, mtls12.ErrHandshakeFailure)
}

func TestConnectBadRecordVersionFailsHandshake(t *testing.T) {
	h := newTestHarness(t, testpeer.Options{RecordVersionOverride: 0x0301})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.client.Connect(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, mtls12.ErrProtocolVersion)
}

func TestConnectCorruptServerFinishedFailsHandshake(t *testing.T) {
	h := newTestHarness(t, testpeer.Options{CorruptServerFinished: true})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.client.Connect(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, mtls12.ErrDecryptError)
}

// neverVerifier never resolves, so a canceled context is the only way
// awaitVerify's select can return.
type neverVerifier struct{}

func (neverVerifier) VerifyChain(ctx context.Context, certs [][]byte) error {
	select {}
}

func TestConnectCancelDuringVerifyAbortsHandshake(t *testing.T) {
	serverCertDER, serverKey, err := testpeer.GenerateSelfSigned("mtls12-test-server")
	require.NoError(t, err)
	clientCertDER, clientKey, err := testpeer.GenerateSelfSigned("mtls12-test-client")
	require.NoError(t, err)

	clientTransport, serverTransport := net.Pipe()
	peer := testpeer.New(serverTransport, serverCertDER, serverKey, testpeer.Options{})
	go peer.Handshake()

	cfg := &mtls12.Config{
		ClientCertificates: [][]byte{clientCertDER},
		ClientKey:          clientKey,
		Verifier:           neverVerifier{},
	}
	client := mtls12.NewConn(clientTransport, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err = client.Connect(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, mtls12.ErrClosed)
}

func TestWriteBeforeEstablishedFails(t *testing.T) {
	clientTransport, _ := net.Pipe()

	client := mtls12.NewConn(clientTransport, &mtls12.Config{})
	_, err := client.Write([]byte("too early"))
	require.ErrorIs(t, err, mtls12.ErrNotReady)
}
