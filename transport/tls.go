package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// TLSSession wraps a Socket with a TLS handshake, classifying read/write
// results per spec.md §4.2: ZERO_RETURN (clean EOF) is acceptable only if
// the caller opted in, WANT_READ/WANT_WRITE re-arm via Ready(), SYSCALL
// reports the underlying error, everything else is fatal. Go's crypto/tls
// performs the handshake loop and read/write retries internally; this
// wrapper's job is translating its error values into the spec's
// classification and enforcing the per-operation deadline.
type TLSSession struct {
	socket *Socket
	conn   *tls.Conn
}

// DialTLS connects and performs the TLS handshake against addr
// (host:port), using cfg (which the caller builds, including any client
// certificates/SNI/ServerName).
func DialTLS(ctx context.Context, addr string, cfg *tls.Config, opts SocketOptions, timeout time.Duration) (*TLSSession, error) {
	sock, err := Dial(ctx, "tcp", addr, opts)
	if err != nil {
		return nil, err
	}

	if err := sock.Ready(true, timeout); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("transport: tls readiness: %w", err)
	}

	conn := tls.Client(sock.Conn(), cfg)
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := conn.HandshakeContext(hctx); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("transport: tls handshake: %w", err)
	}

	return &TLSSession{socket: sock, conn: conn}, nil
}

// allowCleanEOF controls whether a ZERO_RETURN (TLS close_notify) on Read
// is reported as io.EOF (true) or as an "unexpected eof" error wrapping
// io.ErrUnexpectedEOF (false), per spec.md §4.2.
type readOptions struct {
	allowCleanEOF bool
}

// ReadOption configures a single Read call.
type ReadOption func(*readOptions)

// WithAllowCleanEOF opts into treating a TLS close_notify as a clean EOF.
func WithAllowCleanEOF() ReadOption {
	return func(o *readOptions) { o.allowCleanEOF = true }
}

// Read reads into p, applying the per-operation timeout and the
// clean-EOF classification of spec.md §4.2.
func (s *TLSSession) Read(timeout time.Duration, p []byte, opt ...ReadOption) (int, error) {
	opts := readOptions{}
	for _, o := range opt {
		o(&opts)
	}

	if err := s.socket.Ready(true, timeout); err != nil {
		return 0, fmt.Errorf("transport: read readiness: %w", err)
	}

	n, err := s.conn.Read(p)
	if err != nil {
		if errors.Is(err, io.EOF) {
			if opts.allowCleanEOF {
				return n, io.EOF
			}
			return n, fmt.Errorf("transport: unexpected eof: %w", io.ErrUnexpectedEOF)
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return n, fmt.Errorf("transport: read timeout: %w", err)
		}
		return n, fmt.Errorf("transport: read: %w", err)
	}
	return n, nil
}

// Write writes the entire buffer, never returning until p is fully
// consumed or the call fails, per spec.md §4.2.
func (s *TLSSession) Write(timeout time.Duration, p []byte) error {
	if err := s.socket.Ready(false, timeout); err != nil {
		return fmt.Errorf("transport: write readiness: %w", err)
	}
	_, err := s.conn.Write(p)
	if err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Close sends a TLS close_notify (without waiting for the peer's) and
// closes the socket. Idempotent.
func (s *TLSSession) Close() error {
	if s.conn == nil {
		return nil
	}
	_ = s.conn.Close()
	err := s.socket.Close()
	s.conn = nil
	return err
}

// ConnectionState exposes the negotiated TLS state (for SAN/cert
// inspection by callers that need it).
func (s *TLSSession) ConnectionState() tls.ConnectionState {
	return s.conn.ConnectionState()
}
