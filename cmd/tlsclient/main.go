// Command tlsclient dials a TLS 1.2 server speaking
// TLS_RSA_WITH_AES_128_CBC_SHA and exchanges a line-oriented echo
// session, mirroring the teacher repository's own client.go demo.
package main

import (
	"bufio"
	"context"
	"crypto/x509"
	"flag"
	"fmt"
	"log"
	"net"
	"os"

	mtls12 "github.com/gopherlabs/mtls12"
	"github.com/gopherlabs/mtls12/internal/pemutil"
)

func main() {
	addr := flag.String("addr", "localhost:3137", "server address")
	certFile := flag.String("cert", "client.crt", "client certificate (PEM)")
	keyFile := flag.String("key", "client.key", "client private key (PEM, PKCS#1 or PKCS#8 RSA)")
	caFile := flag.String("ca", "ca.crt", "CA bundle to verify the server against (PEM)")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	clientCertDER, clientKey, err := pemutil.LoadKeyPair(*certFile, *keyFile)
	if err != nil {
		log.Fatalf("load client identity: %v", err)
	}

	roots, err := loadCAPool(*caFile)
	if err != nil {
		log.Fatalf("load CA bundle: %v", err)
	}

	cfg := &mtls12.Config{
		ClientCertificates: [][]byte{clientCertDER},
		ClientKey:          clientKey,
		CAPool:             roots,
		Logger:             mtls12.NewStdLogger(),
	}

	tlsConn := mtls12.NewConn(conn, cfg)
	if err := tlsConn.Connect(context.Background()); err != nil {
		log.Fatalf("handshake: %v", err)
	}
	fmt.Println("Handshake complete. Enjoy your private echo chat!")

	reader := bufio.NewReader(os.Stdin)
	fmt.Println("Enter messages (type 'exit' to quit):")
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		message := line[:len(line)-1]
		if message == "exit" {
			return
		}

		if _, err := tlsConn.Write([]byte(message)); err != nil {
			log.Println("write:", err)
			return
		}

		buf := make([]byte, 4096)
		n, err := tlsConn.Read(buf)
		if err != nil {
			log.Println("read:", err)
			return
		}
		fmt.Println("Received from server:", string(buf[:n]))
	}
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
