package remote

import (
	"context"

	"github.com/pgbackrest/pgbackrest-sub008/iostream"
	"github.com/pgbackrest/pgbackrest-sub008/pack"
	"github.com/pgbackrest/pgbackrest-sub008/storage"
)

// remoteWriteCloser relays every Write call to the peer as one block
// record and sends the stream's terminating zero-length block on Close.
type remoteWriteCloser struct {
	conn *Conn
}

func (w *remoteWriteCloser) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := w.conn.writeStreamBlock(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *remoteWriteCloser) Close() error {
	_, err := w.conn.endWriteStream()
	return err
}

// NewWrite opens a STORAGE_OPEN_WRITE stream on the shared connection,
// per spec.md §4.4's remote backend. Every Write call becomes one block
// record; Close sends the terminating zero-length record and waits for
// the peer's final result.
func (s *Storage) NewWrite(ctx context.Context, params storage.WriteParams) (*iostream.IoWrite, error) {
	req := pack.NewWriter()
	req.Str(params.Name).
		U64(uint64(params.ModeFile)).
		U64(uint64(params.ModePath)).
		Str(params.User).
		Str(params.Group).
		I64(params.TimeModified.Unix()).
		Bool(params.CreatePath).
		Bool(params.SyncFile).
		Bool(params.SyncPath).
		Bool(params.Atomic).
		Bool(params.Truncate)

	if _, err := s.conn.beginStream(cmdOpenWrite, req); err != nil {
		return nil, err
	}

	return iostream.NewIoWrite(&remoteWriteCloser{conn: s.conn}, params.Filter), nil
}
