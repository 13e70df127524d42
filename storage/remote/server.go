package remote

import (
	"bufio"
	"context"
	"io"
	"time"

	"github.com/pgbackrest/pgbackrest-sub008/ioerr"
	"github.com/pgbackrest/pgbackrest-sub008/iostream"
	"github.com/pgbackrest/pgbackrest-sub008/pack"
	"github.com/pgbackrest/pgbackrest-sub008/storage"
)

// Server dispatches commands read from a Conn's wire format to a local
// backend, the peer-process side of protocol.go's RPC. It is what a
// pgBackRest remote/SSH-forked process runs against its own posix (or
// other) storage so the near side can reach it through Storage.
type Server struct {
	backend storage.Storage
	// pathBase is echoed back on STORAGE_FEATURE; callers that proxy a
	// rooted backend (e.g. posix under a repo path) set it so the near
	// side can display the peer's base path.
	pathBase string
}

// NewServer wraps backend for serving over a Conn.
func NewServer(backend storage.Storage, pathBase string) *Server {
	return &Server{backend: backend, pathBase: pathBase}
}

// Serve reads commands from r and writes responses to w until r is
// closed or a framing error occurs. It returns nil on a clean peer
// disconnect (a zero-length record where a command was expected).
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)

	for {
		body, err := readBlock(br)
		if err != nil {
			return err
		}
		if body == nil {
			return nil
		}

		req := pack.NewReader(body)
		cmd, err := req.StrID()
		if err != nil {
			return err
		}
		params, err := req.Pack()
		if err != nil {
			return err
		}

		if err := s.dispatch(ctx, cmd, params, br, w); err != nil {
			return err
		}
	}
}

func (s *Server) dispatch(ctx context.Context, cmd string, params *pack.Reader, br *bufio.Reader, w io.Writer) error {
	switch cmd {
	case cmdFeature:
		return s.handleFeature(w)
	case cmdInfo:
		return s.handleInfo(ctx, params, w)
	case cmdList:
		return s.handleList(ctx, params, w)
	case cmdPathCreate:
		return s.handlePathCreate(ctx, params, w)
	case cmdPathRemove:
		return s.handlePathRemove(ctx, params, w)
	case cmdPathSync:
		return s.handlePathSync(ctx, params, w)
	case cmdRemove:
		return s.handleRemove(ctx, params, w)
	case cmdLinkCreate:
		return s.handleLinkCreate(ctx, params, w)
	case cmdOpenRead:
		return s.handleOpenRead(ctx, params, w)
	case cmdOpenWrite:
		return s.handleOpenWrite(ctx, params, br, w)
	default:
		return sendErr(w, ioerr.New(ioerr.KindProtocol, "remote: unknown command "+cmd))
	}
}

func (s *Server) handleFeature(w io.Writer) error {
	result := pack.NewWriter()
	result.Str(s.pathBase).U64(uint64(s.backend.Features()))
	return sendOk(w, result)
}

func (s *Server) handleInfo(ctx context.Context, params *pack.Reader, w io.Writer) error {
	path, err := params.Str()
	if err != nil {
		return sendErr(w, err)
	}
	level, err := params.U64()
	if err != nil {
		return sendErr(w, err)
	}
	follow, err := params.Bool()
	if err != nil {
		return sendErr(w, err)
	}

	info, err := s.backend.Info(ctx, path, storage.InfoLevel(level), follow)
	if err != nil {
		return sendErr(w, err)
	}

	result := pack.NewWriter()
	result.Bool(info.Exists)
	if info.Exists {
		encodeInfo(result, info)
	}
	return sendOk(w, result)
}

func (s *Server) handleList(ctx context.Context, params *pack.Reader, w io.Writer) error {
	path, err := params.Str()
	if err != nil {
		return sendErr(w, err)
	}
	level, err := params.U64()
	if err != nil {
		return sendErr(w, err)
	}
	targetTimeUnix, err := params.I64()
	if err != nil {
		return sendErr(w, err)
	}

	var targetTime time.Time
	if targetTimeUnix != 0 {
		targetTime = time.Unix(targetTimeUnix, 0).UTC()
	}

	entries, err := s.backend.List(ctx, path, storage.InfoLevel(level), targetTime)
	if err != nil {
		return sendErr(w, err)
	}

	result := pack.NewWriter()
	for _, entry := range entries {
		sub := pack.NewWriter()
		encodeInfo(sub, entry.Info)
		result.Str(entry.Name).Pack(sub)
	}
	return sendOk(w, result)
}

func (s *Server) handlePathCreate(ctx context.Context, params *pack.Reader, w io.Writer) error {
	path, err := params.Str()
	if err != nil {
		return sendErr(w, err)
	}
	errorOnExists, err := params.Bool()
	if err != nil {
		return sendErr(w, err)
	}
	noParentCreate, err := params.Bool()
	if err != nil {
		return sendErr(w, err)
	}
	mode, err := params.U64()
	if err != nil {
		return sendErr(w, err)
	}

	if err := s.backend.PathCreate(ctx, path, errorOnExists, noParentCreate, uint32(mode)); err != nil {
		return sendErr(w, err)
	}
	return sendOk(w, pack.NewWriter())
}

func (s *Server) handlePathRemove(ctx context.Context, params *pack.Reader, w io.Writer) error {
	path, err := params.Str()
	if err != nil {
		return sendErr(w, err)
	}
	recurse, err := params.Bool()
	if err != nil {
		return sendErr(w, err)
	}

	if err := s.backend.PathRemove(ctx, path, recurse); err != nil {
		return sendErr(w, err)
	}
	return sendOk(w, pack.NewWriter())
}

func (s *Server) handlePathSync(ctx context.Context, params *pack.Reader, w io.Writer) error {
	path, err := params.Str()
	if err != nil {
		return sendErr(w, err)
	}

	if err := s.backend.PathSync(ctx, path); err != nil {
		return sendErr(w, err)
	}
	return sendOk(w, pack.NewWriter())
}

func (s *Server) handleRemove(ctx context.Context, params *pack.Reader, w io.Writer) error {
	path, err := params.Str()
	if err != nil {
		return sendErr(w, err)
	}
	errorOnMissing, err := params.Bool()
	if err != nil {
		return sendErr(w, err)
	}

	if err := s.backend.Remove(ctx, path, errorOnMissing); err != nil {
		return sendErr(w, err)
	}
	return sendOk(w, pack.NewWriter())
}

func (s *Server) handleLinkCreate(ctx context.Context, params *pack.Reader, w io.Writer) error {
	target, err := params.Str()
	if err != nil {
		return sendErr(w, err)
	}
	linkPath, err := params.Str()
	if err != nil {
		return sendErr(w, err)
	}
	linkType, err := params.U64()
	if err != nil {
		return sendErr(w, err)
	}

	if err := s.backend.LinkCreate(ctx, target, linkPath, storage.LinkType(linkType)); err != nil {
		return sendErr(w, err)
	}
	return sendOk(w, pack.NewWriter())
}

// handleOpenRead opens the backend's read stream and relays it to the
// near side as block records. The underlying Storage.NewRead already
// resolves IgnoreMissing into an empty stream, so the ack's leading
// Bool is always true here; it is kept in the wire format so a future
// backend that distinguishes "missing" from "empty" has somewhere to
// put that signal without a protocol change.
func (s *Server) handleOpenRead(ctx context.Context, params *pack.Reader, w io.Writer) error {
	name, err := params.Str()
	if err != nil {
		return sendErr(w, err)
	}
	ignoreMissing, err := params.Bool()
	if err != nil {
		return sendErr(w, err)
	}
	offset, err := params.I64()
	if err != nil {
		return sendErr(w, err)
	}
	limit, err := params.I64()
	if err != nil {
		return sendErr(w, err)
	}
	version, err := params.Str()
	if err != nil {
		return sendErr(w, err)
	}
	versionID, err := params.Str()
	if err != nil {
		return sendErr(w, err)
	}

	reader, err := s.backend.NewRead(ctx, storage.ReadParams{
		Name:          name,
		IgnoreMissing: ignoreMissing,
		Offset:        offset,
		Limit:         limit,
		Version:       version,
		VersionID:     versionID,
	})
	if err != nil {
		return sendErr(w, err)
	}
	defer reader.Close()

	ack := pack.NewWriter()
	ack.Bool(true)
	if err := sendOk(w, ack); err != nil {
		return err
	}

	buf := iostream.NewBuffer(64 * 1024)
	for {
		buf.Reset()
		eof, err := reader.Read(buf)
		if err != nil {
			return err
		}
		if buf.Used() > 0 {
			if err := writeBlock(w, buf.Bytes()); err != nil {
				return err
			}
		}
		if eof {
			break
		}
	}
	return writeBlock(w, nil)
}

// handleOpenWrite reads the near side's block-record stream until its
// terminating zero-length block, writing each chunk through the
// backend's write stream, then reports the final result.
func (s *Server) handleOpenWrite(ctx context.Context, params *pack.Reader, br *bufio.Reader, w io.Writer) error {
	name, err := params.Str()
	if err != nil {
		return sendErr(w, err)
	}
	modeFile, err := params.U64()
	if err != nil {
		return sendErr(w, err)
	}
	modePath, err := params.U64()
	if err != nil {
		return sendErr(w, err)
	}
	user, err := params.Str()
	if err != nil {
		return sendErr(w, err)
	}
	group, err := params.Str()
	if err != nil {
		return sendErr(w, err)
	}
	timeModifiedUnix, err := params.I64()
	if err != nil {
		return sendErr(w, err)
	}
	createPath, err := params.Bool()
	if err != nil {
		return sendErr(w, err)
	}
	syncFile, err := params.Bool()
	if err != nil {
		return sendErr(w, err)
	}
	syncPath, err := params.Bool()
	if err != nil {
		return sendErr(w, err)
	}
	atomic, err := params.Bool()
	if err != nil {
		return sendErr(w, err)
	}
	truncate, err := params.Bool()
	if err != nil {
		return sendErr(w, err)
	}

	writer, err := s.backend.NewWrite(ctx, storage.WriteParams{
		Name:         name,
		ModeFile:     uint32(modeFile),
		ModePath:     uint32(modePath),
		User:         user,
		Group:        group,
		TimeModified: time.Unix(timeModifiedUnix, 0).UTC(),
		CreatePath:   createPath,
		SyncFile:     syncFile,
		SyncPath:     syncPath,
		Atomic:       atomic,
		Truncate:     truncate,
	})
	if err != nil {
		return sendErr(w, err)
	}

	ack := pack.NewWriter()
	if err := sendOk(w, ack); err != nil {
		return err
	}

	for {
		chunk, err := readBlock(br)
		if err != nil {
			return err
		}
		if chunk == nil {
			break
		}
		buf := iostream.NewBuffer(len(chunk))
		buf.Cat(chunk)
		if err := writer.Write(buf); err != nil {
			return sendErr(w, err)
		}
	}

	if err := writer.Close(); err != nil {
		return sendErr(w, err)
	}
	return sendOk(w, pack.NewWriter())
}
