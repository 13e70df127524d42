// Package httpclient implements spec.md's C5 (HTTP Client): request/response
// over a reusable TLS session, with chunked encoding, connection-close
// handling, and class-based retry. Grounded on
// original_source/src/common/io/http/{client,response,session}.c.
package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/pgbackrest/pgbackrest-sub008/clock"
	"github.com/pgbackrest/pgbackrest-sub008/iostream"
	"github.com/pgbackrest/pgbackrest-sub008/log"
	"github.com/pgbackrest/pgbackrest-sub008/transport"
)

// Stats counts retry-relevant events, one of the handful of intra-process
// mutable structures spec.md §5 allows (accessed only from the thread that
// owns the client, same as the spec's statistics counter map).
type Stats struct {
	mu      sync.Mutex
	Retries int
}

func (s *Stats) incRetries() {
	s.mu.Lock()
	s.Retries++
	s.mu.Unlock()
}

// Session is a leased TLS session. It carries no done-flag of its own: a
// session with an unconsumed response body is not reusable, and
// Response.Close decides that when it hands the session back via Done.
type Session struct {
	host    string
	port    int
	tls     *transport.TLSSession
	timeout time.Duration
}

func (s *Session) key() string { return fmt.Sprintf("%s:%d", s.host, s.port) }

// Client holds a pool of Sessions keyed by (host, port), per spec.md
// §4.3's session lifecycle.
type Client struct {
	mu    sync.Mutex
	idle  map[string][]*Session
	tlsCfg *tls.Config
	opts  transport.SocketOptions
	clock clock.Clock
	log   log.Logger

	Stats Stats

	// RequestTimeout bounds a single request's total retry budget.
	RequestTimeout time.Duration
	// IOTimeout bounds each individual read/write readiness check.
	IOTimeout time.Duration
}

// NewClient returns a Client with the given TLS config (nil for a default
// config suitable for public endpoints).
func NewClient(tlsCfg *tls.Config, logger log.Logger) *Client {
	if tlsCfg == nil {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if logger == nil {
		logger = log.Nop{}
	}
	return &Client{
		idle:           map[string][]*Session{},
		tlsCfg:         tlsCfg,
		opts:           transport.DefaultSocketOptions,
		clock:          clock.Default,
		log:            logger,
		RequestTimeout: 30 * time.Second,
		IOTimeout:      10 * time.Second,
	}
}

// Open leases an idle session for (host, port) or dials a new one, per
// spec.md §4.3.
func (c *Client) Open(ctx context.Context, host string, port int) (*Session, error) {
	key := fmt.Sprintf("%s:%d", host, port)

	c.mu.Lock()
	if sessions := c.idle[key]; len(sessions) > 0 {
		s := sessions[len(sessions)-1]
		c.idle[key] = sessions[:len(sessions)-1]
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	cfg := c.tlsCfg.Clone()
	cfg.ServerName = host

	addr := fmt.Sprintf("%s:%d", host, port)
	tlsSess, err := transport.DialTLS(ctx, addr, cfg, c.opts, c.IOTimeout)
	if err != nil {
		return nil, fmt.Errorf("httpclient: dial %s: %w", addr, err)
	}

	return &Session{host: host, port: port, tls: tlsSess, timeout: c.IOTimeout}, nil
}

// Done returns session to the pool, per spec.md §4.3: if close is true it
// is closed and dropped instead of reused. Response.Close passes true when
// the server sent "connection: close" or the body was not fully read.
func (c *Client) Done(s *Session, close bool) {
	if s == nil {
		return
	}
	if close {
		_ = s.tls.Close()
		return
	}

	c.mu.Lock()
	c.idle[s.key()] = append(c.idle[s.key()], s)
	c.mu.Unlock()
}

// CloseIdle closes every pooled idle session (e.g. on process shutdown).
func (c *Client) CloseIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, sessions := range c.idle {
		for _, s := range sessions {
			_ = s.tls.Close()
		}
		delete(c.idle, key)
	}
}

// sessionReader adapts a Session's TLS read side to io.Reader for bufio.
type sessionReader struct {
	s *Session
}

func (r *sessionReader) Read(p []byte) (int, error) {
	return r.s.tls.Read(r.s.timeout, p, transport.WithAllowCleanEOF())
}

// sessionWriter adapts a Session's TLS write side to io.Writer.
type sessionWriter struct {
	s *Session
}

func (w *sessionWriter) Write(p []byte) (int, error) {
	return len(p), w.s.tls.Write(w.s.timeout, p)
}

// ioReaderOf wraps a Session for use as an iostream.IoRead driver, e.g. to
// read a response body through a decrypt/decompress filter chain.
func ioReaderOf(s *Session) *iostream.IoRead {
	return iostream.NewIoRead(&sessionReader{s: s}, nil)
}
