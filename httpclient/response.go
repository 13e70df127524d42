package httpclient

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pgbackrest/pgbackrest-sub008/ioerr"
)

// Response is spec.md's HTTP response: code, message, headers (stored
// lowercased), and a content reader framed per spec.md §4.3. The
// post-refactor split (response owns body reading, not the client) is
// the design spec.md's Open Questions section specifies.
type Response struct {
	Code    int
	Message string
	Headers map[string]string

	client     *Client
	session    *Session
	body       io.Reader
	closeOnEOF bool
	consumed   bool
	closed     bool
}

// readStatusLine parses "HTTP/1.1 NNN reason\r\n" per spec.md §4.3.
func readStatusLine(r *bufio.Reader) (code int, message string, err error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, "", fmt.Errorf("httpclient: read status line: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")

	const prefix = "HTTP/1.1 "
	if !strings.HasPrefix(line, prefix) {
		return 0, "", ioerr.New(ioerr.KindFormat, fmt.Sprintf("malformed status line %q", line))
	}
	rest := line[len(prefix):]
	if len(rest) < 3 {
		return 0, "", ioerr.New(ioerr.KindFormat, fmt.Sprintf("malformed status line %q", line))
	}
	code, err = strconv.Atoi(rest[:3])
	if err != nil {
		return 0, "", ioerr.New(ioerr.KindFormat, fmt.Sprintf("malformed status code in %q", line))
	}
	message = strings.TrimPrefix(rest[3:], " ")
	return code, message, nil
}

// readHeaders parses headers until a blank line, lowercasing names per
// spec.md §4.3.
func readHeaders(r *bufio.Reader) (map[string]string, error) {
	headers := map[string]string{}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("httpclient: read header: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return headers, nil
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, ioerr.New(ioerr.KindFormat, fmt.Sprintf("malformed header line %q", line))
		}
		name := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		headers[name] = value
	}
}

// bodyFraming determines how the body is delimited per spec.md §4.3:
// chunked, fixed length, or close-delimited. content-length and
// transfer-encoding together is a format error; only "chunked" is an
// accepted transfer-encoding value.
func bodyFraming(headers map[string]string, headOnly bool) (chunked bool, length int64, closeDelim bool, err error) {
	te, hasTE := headers["transfer-encoding"]
	cl, hasCL := headers["content-length"]

	if hasTE && hasCL {
		return false, 0, false, ioerr.New(ioerr.KindFormat, "content-length and transfer-encoding are mutually exclusive")
	}

	if headOnly {
		return false, 0, false, nil
	}

	if hasTE {
		if !strings.EqualFold(strings.TrimSpace(te), "chunked") {
			return false, 0, false, ioerr.New(ioerr.KindFormat, fmt.Sprintf("unsupported transfer-encoding %q", te))
		}
		return true, 0, false, nil
	}

	if hasCL {
		n, perr := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if perr != nil || n < 0 {
			return false, 0, false, ioerr.New(ioerr.KindFormat, fmt.Sprintf("malformed content-length %q", cl))
		}
		return false, n, false, nil
	}

	return false, 0, true, nil
}

// parseResponse reads a status line, headers, and constructs the framed
// body reader, per spec.md §4.3. headOnly suppresses any body regardless
// of framing headers (HEAD responses).
func parseResponse(raw *bufio.Reader, headOnly bool) (*Response, error) {
	code, message, err := readStatusLine(raw)
	if err != nil {
		return nil, err
	}
	headers, err := readHeaders(raw)
	if err != nil {
		return nil, err
	}

	chunked, length, closeDelim, err := bodyFraming(headers, headOnly)
	if err != nil {
		return nil, err
	}

	closeOnEOF := strings.EqualFold(strings.TrimSpace(headers["connection"]), "close")

	resp := &Response{Code: code, Message: message, Headers: headers, closeOnEOF: closeOnEOF}

	switch {
	case headOnly:
		resp.body = io.LimitReader(raw, 0)
		resp.consumed = true
	case chunked:
		resp.body = newChunkedReader(raw)
	case closeDelim:
		resp.body = raw
		resp.closeOnEOF = true
	default:
		resp.body = io.LimitReader(raw, length)
		if length == 0 {
			resp.consumed = true
		}
	}

	return resp, nil
}

// Read reads response body bytes, per spec.md's content_read: IoRead.
func (r *Response) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if err == io.EOF {
		r.consumed = true
	}
	return n, err
}

// ReadAll drains the entire body, a convenience for callers that asked
// for return_content.
func (r *Response) ReadAll() ([]byte, error) {
	b, err := io.ReadAll(r.body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read body: %w", io.ErrUnexpectedEOF)
	}
	r.consumed = true
	return b, nil
}

// Close finishes the response. If the body was not fully consumed, the
// session cannot be reused, per spec.md's Session invariant.
func (r *Response) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	if r.client != nil && r.session != nil {
		r.client.Done(r.session, !r.consumed || r.closeOnEOF)
	}
	return nil
}

// HeaderNames returns the response's header names sorted, for stable
// logging/testing output.
func (r *Response) HeaderNames() []string {
	names := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// chunkedReader decodes HTTP/1.1 chunked transfer-encoding per spec.md
// §4.3: hex chunk-size line, that many bytes, a CRLF, repeated until a
// zero-size chunk ends the body (trailer headers, if any, are discarded).
type chunkedReader struct {
	r         *bufio.Reader
	remaining int64
	done      bool
}

func newChunkedReader(r *bufio.Reader) *chunkedReader {
	return &chunkedReader{r: r}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.done {
		return 0, io.EOF
	}

	if c.remaining == 0 {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return 0, fmt.Errorf("httpclient: read chunk size: %w", io.ErrUnexpectedEOF)
		}
		line = strings.TrimRight(line, "\r\n")
		if idx := strings.IndexByte(line, ';'); idx >= 0 {
			line = line[:idx]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
		if err != nil {
			return 0, ioerr.New(ioerr.KindFormat, fmt.Sprintf("malformed chunk size %q", line))
		}
		if size == 0 {
			// Discard trailer headers up to the blank line.
			for {
				tl, terr := c.r.ReadString('\n')
				if terr != nil {
					return 0, fmt.Errorf("httpclient: read chunk trailer: %w", io.ErrUnexpectedEOF)
				}
				if strings.TrimRight(tl, "\r\n") == "" {
					break
				}
			}
			c.done = true
			return 0, io.EOF
		}
		c.remaining = size
	}

	toRead := int64(len(p))
	if toRead > c.remaining {
		toRead = c.remaining
	}
	n, err := c.r.Read(p[:toRead])
	c.remaining -= int64(n)
	if err != nil {
		return n, fmt.Errorf("httpclient: read chunk data: %w", io.ErrUnexpectedEOF)
	}

	if c.remaining == 0 {
		// Consume the trailing CRLF after this chunk's data.
		crlf := make([]byte, 2)
		if _, err := io.ReadFull(c.r, crlf); err != nil {
			return n, fmt.Errorf("httpclient: read chunk terminator: %w", io.ErrUnexpectedEOF)
		}
	}

	return n, nil
}
