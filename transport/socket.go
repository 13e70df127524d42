// Package transport implements spec.md's C4 (Socket / TLS Session): a
// blocking byte transport with poll-based readiness and per-operation
// timeouts, grounded on
// original_source/src/common/io/socket/{client,common}.c and
// src/common/io/tls/session.c.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// SocketOptions mirrors spec.md §4.2's socket-options struct, initialized
// once at process start (it is one of the few pieces of intra-process
// shared state the spec's concurrency model allows, per spec.md §5).
type SocketOptions struct {
	NoDelay          bool
	KeepAlive        bool
	KeepAliveCount   int
	KeepAliveIdle    time.Duration
	KeepAliveInterval time.Duration
}

// DefaultSocketOptions matches the spec's TCP_NODELAY + optional
// SO_KEEPALIVE defaults.
var DefaultSocketOptions = SocketOptions{
	NoDelay:           true,
	KeepAlive:         true,
	KeepAliveCount:    5,
	KeepAliveIdle:     30 * time.Second,
	KeepAliveInterval: 10 * time.Second,
}

// Socket wraps a net.Conn with the readiness/timeout discipline spec.md
// §4.2 requires: every read/write is preceded by a readiness check so a
// per-operation timeout can be enforced even though Go's net.Conn already
// multiplexes this via deadlines internally.
type Socket struct {
	conn net.Conn
	opts SocketOptions
}

// Dial opens one connection attempt to addr (host:port); address lookup
// takes whatever net.Dial's resolver returns first, and the caller (the
// HTTP client layer) is responsible for outer retry, per spec.md §4.2.
func Dial(ctx context.Context, network, addr string, opts SocketOptions) (*Socket, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: connect %s: %w", addr, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(opts.NoDelay); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("transport: set nodelay: %w", err)
		}
		if opts.KeepAlive {
			_ = tc.SetKeepAlive(true)
			_ = tc.SetKeepAlivePeriod(opts.KeepAliveInterval)
		}
	}

	return &Socket{conn: conn, opts: opts}, nil
}

// Ready enforces a per-operation timeout by setting a read or write
// deadline before the caller's blocking call, the idiomatic Go equivalent
// of spec.md's poll()-based ready() with EINTR retry (Go's net package
// already retries EINTR internally; the deadline is what turns a stuck
// syscall into a bounded wait).
func (s *Socket) Ready(forRead bool, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if forRead {
		return s.conn.SetReadDeadline(deadline)
	}
	return s.conn.SetWriteDeadline(deadline)
}

// Read implements io.Reader.
func (s *Socket) Read(p []byte) (int, error) { return s.conn.Read(p) }

// Write implements io.Writer.
func (s *Socket) Write(p []byte) (int, error) { return s.conn.Write(p) }

// Close closes the underlying connection. Idempotent.
func (s *Socket) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Conn exposes the underlying net.Conn, e.g. so the TLS layer can wrap it.
func (s *Socket) Conn() net.Conn { return s.conn }
