package httpclient

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newLoopbackTLSCert generates a throwaway self-signed certificate for
// 127.0.0.1, the way a local test server needs one since there is no CA
// to hand out real certificates during a test run.
func newLoopbackTLSCert(t *testing.T) tls.Certificate {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// serveSequentialResponses accepts one TLS connection and writes each of
// responses in turn every time it reads a request up to the blank line
// terminator, the way the scenario's single-connection retry-then-success
// exchange requires.
func serveSequentialResponses(t *testing.T, responses []string) string {
	t.Helper()

	cert := newLoopbackTLSCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		for _, resp := range responses {
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if line == "\r\n" {
					break
				}
			}
			if _, err := conn.Write([]byte(resp)); err != nil {
				return
			}
		}
	}()

	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String()
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

// TestClientDoRetriesOnServerError reproduces the 503-then-200 scenario:
// one retry, final body "ABCD", and the retry counter incremented by
// exactly one.
func TestClientDoRetriesOnServerError(t *testing.T) {
	addr := serveSequentialResponses(t, []string{
		"HTTP/1.1 503 Slow Down\r\ncontent-length: 0\r\n\r\n",
		"HTTP/1.1 200 OK\r\ncontent-length: 4\r\n\r\nABCD",
	})
	host, port := splitHostPort(t, addr)

	client := NewClient(&tls.Config{InsecureSkipVerify: true}, nil)
	client.RequestTimeout = time.Second

	req := NewRequest("GET", "/file.txt")
	req.Retryable = true

	resp, err := client.Do(context.Background(), host, port, req)
	require.NoError(t, err)
	defer resp.Close()

	require.Equal(t, 200, resp.Code)

	body, err := resp.ReadAll()
	require.NoError(t, err)
	require.Equal(t, "ABCD", string(body))
	require.Equal(t, 1, client.Stats.Retries)
}

// TestClientDoChunkedBody reproduces the chunked-body scenario: two
// chunks of 32 and 16 bytes concatenate to 48 bytes, then EOF.
func TestClientDoChunkedBody(t *testing.T) {
	addr := serveSequentialResponses(t, []string{
		"HTTP/1.1 200 OK\r\ntransfer-encoding: chunked\r\n\r\n" +
			"20\r\n01234567890123456789012345678901\r\n" +
			"10\r\n0123456789012345\r\n" +
			"0\r\n\r\n",
	})
	host, port := splitHostPort(t, addr)

	client := NewClient(&tls.Config{InsecureSkipVerify: true}, nil)
	client.RequestTimeout = time.Second

	req := NewRequest("GET", "/file.txt")
	resp, err := client.Do(context.Background(), host, port, req)
	require.NoError(t, err)
	defer resp.Close()

	body, err := resp.ReadAll()
	require.NoError(t, err)
	require.Equal(t, 48, len(body))
	require.Equal(t, "01234567890123456789012345678901"+"0123456789012345", string(body))
}
