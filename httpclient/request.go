package httpclient

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/pgbackrest/pgbackrest-sub008/ioerr"
	"github.com/pgbackrest/pgbackrest-sub008/iostream"
	"golang.org/x/net/http/httpguts"
)

// Request is spec.md's HTTP request: verb, URI, query, headers, and an
// optional body. Headers are validated with httpguts the way a hand-rolled
// client still wants well-formed header tokens even without net/http's
// transport doing it implicitly.
type Request struct {
	Verb    string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    []byte

	// Retryable opts the request into retrying 5xx responses and other
	// failed attempts; connect failures are retried whether or not it is
	// set. Idempotent verbs (GET, HEAD, PUT, DELETE) default to retryable
	// in callers, POST typically does not.
	Retryable bool
}

// NewRequest builds a Request with an initialized header and query map.
func NewRequest(verb, path string) *Request {
	return &Request{Verb: strings.ToUpper(verb), Path: path, Query: url.Values{}, Headers: map[string]string{}}
}

// SetHeader sets a request header, validating the name/value are
// well-formed per RFC 7230 (rejecting embedded control characters that
// could enable header-line injection).
func (r *Request) SetHeader(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) {
		return ioerr.New(ioerr.KindFormat, fmt.Sprintf("invalid header name %q", name))
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return ioerr.New(ioerr.KindFormat, fmt.Sprintf("invalid header value for %q", name))
	}
	r.Headers[strings.ToLower(name)] = value
	return nil
}

// encodedURI renders the request line's path?query component.
func (r *Request) encodedURI() string {
	u := &url.URL{Path: r.Path}
	encoded := u.EscapedPath()
	if len(r.Query) > 0 {
		return encoded + "?" + r.Query.Encode()
	}
	return encoded
}

// writeTo serializes the request line, headers, and body onto w, per
// spec.md §4.3: "verb SP encoded_uri[?encoded_query] SP HTTP/1.1 CRLF",
// followed by header lines in sorted order (deterministic for signing and
// for tests), a blank line, then the body.
func (r *Request) writeTo(w *bufio.Writer, host string) error {
	if _, err := fmt.Fprintf(w, "%s %s HTTP/1.1\r\n", r.Verb, r.encodedURI()); err != nil {
		return fmt.Errorf("httpclient: write request line: %w", err)
	}

	headers := map[string]string{}
	for k, v := range r.Headers {
		headers[k] = v
	}
	headers["host"] = host
	if r.Body != nil {
		headers["content-length"] = strconv.Itoa(len(r.Body))
	}

	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := fmt.Fprintf(w, "%s:%s\r\n", name, headers[name]); err != nil {
			return fmt.Errorf("httpclient: write header: %w", err)
		}
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return fmt.Errorf("httpclient: write header terminator: %w", err)
	}

	if len(r.Body) > 0 {
		if _, err := w.Write(r.Body); err != nil {
			return fmt.Errorf("httpclient: write body: %w", err)
		}
	}

	return w.Flush()
}

// Do sends req to host:port and returns its Response, retrying connect
// failures within budget for every request, and 5xx responses and other
// failed attempts for Retryable requests, per spec.md §4.3. The returned Response must be closed by the
// caller, which also returns the underlying session to the pool.
func (c *Client) Do(ctx context.Context, host string, port int, req *Request) (*Response, error) {
	budget := c.RequestTimeout
	w := iostream.NewWaitClock(budget, c.clock)

	var lastErr error
	for {
		resp, err := c.attempt(ctx, host, port, req)
		if err == nil && (resp.Code < 500 || !req.Retryable) {
			return resp, nil
		}

		if err == nil {
			lastErr = ioerr.New(ioerr.KindService, fmt.Sprintf("server error %d: %s", resp.Code, resp.Message))
			_ = resp.Close()
		} else if !req.Retryable && !isConnectError(err) {
			return nil, err
		} else {
			lastErr = err
		}

		c.log.Warnf("httpclient: retrying %s %s: %v", req.Verb, req.Path, lastErr)
		c.Stats.incRetries()

		if !w.More() {
			return nil, fmt.Errorf("httpclient: %s %s failed after retries: %w", req.Verb, req.Path, lastErr)
		}
	}
}

// attempt performs a single request/response round trip.
func (c *Client) attempt(ctx context.Context, host string, port int, req *Request) (*Response, error) {
	sess, err := c.Open(ctx, host, port)
	if err != nil {
		return nil, ioerr.Wrap(ioerr.KindHostConnect, err, "connect %s:%d", host, port)
	}

	bw := bufio.NewWriter(&sessionWriter{s: sess})
	if err := req.writeTo(bw, host); err != nil {
		c.Done(sess, true)
		return nil, err
	}

	br := bufio.NewReader(&sessionReader{s: sess})
	resp, err := parseResponse(br, req.Verb == "HEAD")
	if err != nil {
		c.Done(sess, true)
		return nil, err
	}

	resp.client = c
	resp.session = sess
	return resp, nil
}

// isConnectError reports whether err represents a connection-establishment
// failure (as opposed to an application-level response), which is always
// retried regardless of the request's Retryable flag, per spec.md §4.3.
func isConnectError(err error) bool {
	return ioerr.Is(err, ioerr.KindHostConnect)
}
