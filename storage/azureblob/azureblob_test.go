package azureblob

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgbackrest/pgbackrest-sub008/httpclient"
	"github.com/pgbackrest/pgbackrest-sub008/ioerr"
	"github.com/pgbackrest/pgbackrest-sub008/iostream"
	"github.com/pgbackrest/pgbackrest-sub008/storage"
)

func TestAddressingDefaultsAccountEndpoint(t *testing.T) {
	s := New(Config{Account: "myaccount", Container: "mycontainer"}, httpclient.AzureSharedKeyCredentials{}, nil, nil)
	require.Equal(t, "myaccount.blob.core.windows.net", s.host())
	require.Equal(t, "/mycontainer/wal/000000010000000000000001", s.uriFor("wal/000000010000000000000001"))
}

func TestAddressingCustomEndpointAndPort(t *testing.T) {
	s := New(Config{Account: "a", Container: "c", Endpoint: "127.0.0.1", Port: 10000}, httpclient.AzureSharedKeyCredentials{}, nil, nil)
	require.Equal(t, "127.0.0.1", s.host())
	require.Equal(t, 10000, s.cfg.Port)
}

func TestPathCreateAndPathSyncAreNoops(t *testing.T) {
	s := New(Config{Account: "a", Container: "c"}, httpclient.AzureSharedKeyCredentials{}, nil, nil)
	require.NoError(t, s.PathCreate(context.Background(), "x", false, false, 0))
	require.NoError(t, s.PathSync(context.Background(), "x"))
}

func TestLinkCreateUnsupported(t *testing.T) {
	s := New(Config{Account: "a", Container: "c"}, httpclient.AzureSharedKeyCredentials{}, nil, nil)
	err := s.LinkCreate(context.Background(), "target", "link", storage.LinkSymbolic)
	require.Error(t, err)
	require.Equal(t, ioerr.KindAssert, ioerr.KindOf(err))
}

func TestSignAddsAuthorizationHeader(t *testing.T) {
	creds := httpclient.AzureSharedKeyCredentials{AccountName: "myaccount", AccountKey: "dGVzdGtleQ=="}
	s := New(Config{Account: "myaccount", Container: "mycontainer"}, creds, nil, nil)
	s.now = func() time.Time { return time.Date(2017, 6, 6, 12, 12, 12, 0, time.UTC) }

	req := httpclient.NewRequest("GET", s.uriFor("file"))
	require.NoError(t, s.sign(req))

	require.Contains(t, req.Headers["authorization"], "SharedKey myaccount:")
	require.Equal(t, "2020-10-02", req.Headers["x-ms-version"])
	require.NotEmpty(t, req.Headers["x-ms-date"])
}

func TestBlockIDForIsLittleEndianSequence(t *testing.T) {
	require.NotEqual(t, blockIDFor(0), blockIDFor(1))

	var zero [8]byte
	decodedZero, err := base64.StdEncoding.DecodeString(blockIDFor(0))
	require.NoError(t, err)
	require.Equal(t, zero[:], decodedZero)

	one, err := base64.StdEncoding.DecodeString(blockIDFor(1))
	require.NoError(t, err)
	require.Equal(t, byte(1), one[0])
	for i := 1; i < 8; i++ {
		require.Equal(t, byte(0), one[i])
	}
}

// --- End-to-end over a loopback TLS server ---

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

// serveSequentialResponses accepts one TLS connection and writes each
// response in turn after reading a request up to its blank-line
// terminator, draining the request body first when content-length says
// there is one.
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
			contentLength := 0
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if line == "\r\n" {
					break
				}
				const prefix = "content-length:"
				if len(line) > len(prefix) && (line[:len(prefix)] == prefix) {
					n, _ := strconv.Atoi(trimCRLF(line[len(prefix):]))
					contentLength = n
				}
			}
			if contentLength > 0 {
				buf := make([]byte, contentLength)
				if _, err := readFull(r, buf); err != nil {
					return
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

func trimCRLF(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == '\r' || s[len(s)-1] == '\n') {
		s = s[:len(s)-1]
	}
	return s
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

// TestNewWriteSinglePutSmallObject drives a small write through
// NewWrite/Close, asserting it issues exactly one PUT BlockBlob (no
// PutBlock/PutBlockList sequence) and succeeds when the server answers 201.
func TestNewWriteSinglePutSmallObject(t *testing.T) {
	addr := serveSequentialResponses(t, []string{
		"HTTP/1.1 201 Created\r\ncontent-length: 0\r\n\r\n",
	})
	host, port := splitHostPort(t, addr)

	client := httpclient.NewClient(&tls.Config{InsecureSkipVerify: true}, nil)
	client.RequestTimeout = time.Second

	creds := httpclient.AzureSharedKeyCredentials{AccountName: "account", AccountKey: "dGVzdGtleQ=="}
	s := New(Config{Account: "account", Container: "bucket", Endpoint: host, Port: port}, creds, client, nil)

	w, err := s.NewWrite(context.Background(), storage.WriteParams{Name: "file.txt"})
	require.NoError(t, err)

	buf := iostream.NewBuffer(16)
	buf.Cat([]byte("hello world"))
	require.NoError(t, w.Write(buf))

	require.NoError(t, w.Close())
}
