package remote

import (
	"context"
	"io"

	"github.com/pgbackrest/pgbackrest-sub008/iostream"
	"github.com/pgbackrest/pgbackrest-sub008/pack"
	"github.com/pgbackrest/pgbackrest-sub008/storage"
)

// remoteReadCloser pulls block records off the shared Conn and presents
// them as a plain io.Reader, buffering the tail of a record that didn't
// fit the caller's read buffer.
type remoteReadCloser struct {
	conn *Conn
	buf  []byte
	done bool
}

func (r *remoteReadCloser) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.done {
			return 0, io.EOF
		}
		block, err := r.conn.readStreamBlock()
		if err != nil {
			return 0, err
		}
		if block == nil {
			r.done = true
			return 0, io.EOF
		}
		r.buf = block
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// Close drains any remaining block records (if the caller stopped
// reading before EOF) so the shared Conn is left positioned at the next
// response boundary, then releases it.
func (r *remoteReadCloser) Close() error {
	for !r.done {
		block, err := r.conn.readStreamBlock()
		if err != nil {
			r.conn.endReadStream()
			return err
		}
		if block == nil {
			r.done = true
		}
	}
	r.conn.endReadStream()
	return nil
}

// NewRead opens a STORAGE_OPEN_READ stream on the shared connection, per
// spec.md §4.4's remote backend. The peer streams the file back as
// block records; a zero-length record ends the stream.
func (s *Storage) NewRead(ctx context.Context, params storage.ReadParams) (*iostream.IoRead, error) {
	req := pack.NewWriter()
	req.Str(params.Name).Bool(params.IgnoreMissing).I64(params.Offset).I64(params.Limit).Str(params.Version).Str(params.VersionID)

	ack, err := s.conn.beginStream(cmdOpenRead, req)
	if err != nil {
		return nil, err
	}

	exists, err := ack.Bool()
	if err != nil {
		s.conn.endReadStream()
		return nil, err
	}
	if !exists {
		s.conn.endReadStream()
		return iostream.NewIoRead(io.NopCloser(emptyReader{}), params.Filter), nil
	}

	return iostream.NewIoRead(&remoteReadCloser{conn: s.conn}, params.Filter), nil
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }
