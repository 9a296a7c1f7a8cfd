// Command tlsserver is a minimal TLS_RSA_WITH_AES_128_CBC_SHA echo
// server for manually interop-testing cmd/tlsclient. It is built on the
// same test-only peer the automated suite drives over net.Pipe, here
// pointed at a real net.Listener instead.
package main

import (
	"crypto/rsa"
	"flag"
	"fmt"
	"log"
	"net"

	"github.com/gopherlabs/mtls12/internal/pemutil"
	"github.com/gopherlabs/mtls12/internal/testpeer"
)

func main() {
	addr := flag.String("addr", ":3137", "listen address")
	certFile := flag.String("cert", "server.crt", "server certificate (PEM)")
	keyFile := flag.String("key", "server.key", "server private key (PEM)")
	requireClientCert := flag.Bool("request-client-cert", true, "send CertificateRequest")
	flag.Parse()

	certDER, key, err := pemutil.LoadKeyPair(*certFile, *keyFile)
	if err != nil {
		log.Fatalf("load server identity: %v", err)
	}

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer listener.Close()
	fmt.Println("tlsserver listening on", *addr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Println("accept:", err)
			continue
		}
		go handle(conn, certDER, key, *requireClientCert)
	}
}

func handle(conn net.Conn, certDER []byte, key *rsa.PrivateKey, requireClientCert bool) {
	defer conn.Close()

	peer := testpeer.New(conn, certDER, key, testpeer.Options{
		SendCertificateRequest: requireClientCert,
	})
	if err := peer.Handshake(); err != nil {
		log.Println("handshake:", err)
		return
	}
	fmt.Println("handshake complete with", conn.RemoteAddr())

	for {
		data, err := peer.ReadApplicationData()
		if err != nil {
			log.Println("read:", err)
			return
		}
		fmt.Println("received:", string(data))
		if err := peer.WriteApplicationData(data); err != nil {
			log.Println("write:", err)
			return
		}
	}
}
