package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newLoopbackCert generates a throwaway self-signed certificate for
// 127.0.0.1, mirroring httpclient's test helper of the same shape.
func newLoopbackCert(t *testing.T) tls.Certificate {
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

func listenTLSEcho(t *testing.T) string {
	t.Helper()

	cert := newLoopbackCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				if _, werr := conn.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String()
}

func TestDialTLSHandshakesAndRoundTrips(t *testing.T) {
	addr := listenTLSEcho(t)

	sess, err := DialTLS(context.Background(), addr, &tls.Config{InsecureSkipVerify: true}, DefaultSocketOptions, time.Second)
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.Write(time.Second, []byte("hello")))

	buf := make([]byte, 5)
	n, err := sess.Read(time.Second, buf)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), buf[:n])
}

func TestDialTLSFailsOnUntrustedCert(t *testing.T) {
	addr := listenTLSEcho(t)

	_, err := DialTLS(context.Background(), addr, &tls.Config{}, DefaultSocketOptions, time.Second)
	require.Error(t, err)
}

func TestTLSSessionCloseIsIdempotent(t *testing.T) {
	addr := listenTLSEcho(t)

	sess, err := DialTLS(context.Background(), addr, &tls.Config{InsecureSkipVerify: true}, DefaultSocketOptions, time.Second)
	require.NoError(t, err)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
}

func TestTLSReadClassifiesCleanEOFPerOption(t *testing.T) {
	cert := newLoopbackCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		tc := conn.(*tls.Conn)
		_ = tc.Handshake() // complete the handshake, then send a clean close_notify with no data
		_ = tc.Close()
	}()

	sess, err := DialTLS(context.Background(), ln.Addr().String(), &tls.Config{InsecureSkipVerify: true}, DefaultSocketOptions, time.Second)
	require.NoError(t, err)
	defer sess.Close()

	buf := make([]byte, 4)
	_, err = sess.Read(time.Second, buf)
	require.Error(t, err)

	_, err = sess.Read(time.Second, buf, WithAllowCleanEOF())
	require.ErrorIs(t, err, io.EOF)
}
