// Package spool implements spec.md §6's status-file protocol for async
// archiving: a producer drops a `<wal-segment>.ok` or `<wal-segment>.error`
// file in the spool's archive_out directory, and a consumer polls for it.
// Grounded on original_source/src/command/archive/common.c's
// archiveAsyncStatus.
package spool

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pgbackrest/pgbackrest-sub008/ioerr"
	"github.com/pgbackrest/pgbackrest-sub008/iostream"
	"github.com/pgbackrest/pgbackrest-sub008/log"
	"github.com/pgbackrest/pgbackrest-sub008/storage"
)

// OutDir is the spool subdirectory status files are written to and
// polled from, per spec.md §6's <SPOOL:ARCHIVE_OUT> path expression.
const OutDir = "archive_out"

// okExt and errExt are the two status-file suffixes a segment may carry.
const (
	okExt  = ".ok"
	errExt = ".error"
)

// Status is one parsed status file: Code is the decimal value on line 1
// (0 for plain success), Message is everything from line 2 on, trimmed.
type Status struct {
	Code    int
	Message string
}

// WriteOk writes a success (or manually-skipped-warning) status for
// segment into store's archive_out directory. An empty status means
// plain success; a non-zero Code with a Message marks a previously
// failed push that was manually cleared.
func WriteOk(ctx context.Context, store storage.Storage, segment string, status Status) error {
	return writeStatus(ctx, store, segment, okExt, status)
}

// WriteError writes a failure status for segment. Content must not be
// empty — an empty .error file is itself an assertion failure on read.
func WriteError(ctx context.Context, store storage.Storage, segment string, status Status) error {
	if status.Message == "" {
		return ioerr.New(ioerr.KindAssert, fmt.Sprintf("spool: status for '%s' has no content", segment))
	}
	return writeStatus(ctx, store, segment, errExt, status)
}

func writeStatus(ctx context.Context, store storage.Storage, segment, ext string, status Status) error {
	var content []byte
	if status.Message != "" {
		content = []byte(fmt.Sprintf("%d\n%s", status.Code, status.Message))
	}

	w, err := store.NewWrite(ctx, storage.WriteParams{
		Name:       OutDir + "/" + segment + ext,
		ModeFile:   0o640,
		CreatePath: true,
		Atomic:     true,
	})
	if err != nil {
		return err
	}

	if len(content) > 0 {
		buf := iostream.NewBuffer(len(content))
		buf.Cat(content)
		if err := w.Write(buf); err != nil {
			_ = w.Close()
			return err
		}
	}

	return w.Close()
}

var statusFileRe = regexp.MustCompile(`\.(ok|error)$`)

var timeZero time.Time

// Check looks for a <segment>.ok or <segment>.error file in store's
// archive_out directory, per archiveAsyncStatus. If none is found, ok is
// false and err is nil — the caller should keep waiting.
//
// If a .ok file is found, ok is true: empty content means plain success,
// non-zero-code content is logged as a warning (a previously-errored
// segment that was manually skipped) via logger.
//
// If a .error file is found: when confessOnError is false, ok is false
// and err is nil, so the error file is ignored and the segment reads as
// not yet pushed; when true, the file's code/message is
// returned as an ioerr.Error (via ioerr.New with KindAssert if the file
// itself is empty).
//
// More than one status file for segment is an assertion failure,
// mirroring a bug in the async producer process.
func Check(ctx context.Context, store storage.Storage, segment string, confessOnError bool, logger log.Logger) (ok bool, err error) {
	entries, err := store.List(ctx, OutDir, storage.LevelExists, timeZero)
	if err != nil {
		if ioerr.Is(err, ioerr.KindPathMissing) {
			return false, nil
		}
		return false, err
	}

	var match string
	count := 0
	for _, e := range entries {
		name := e.Name
		if !strings.HasPrefix(name, segment) {
			continue
		}
		rest := name[len(segment):]
		if !statusFileRe.MatchString(rest) {
			continue
		}
		count++
		match = name
	}

	if count == 0 {
		return false, nil
	}
	if count != 1 {
		return false, ioerr.New(ioerr.KindAssert, fmt.Sprintf("spool: multiple status files found in '%s' for WAL segment '%s'", OutDir, segment))
	}

	status, err := readStatus(ctx, store, match)
	if err != nil {
		return false, err
	}

	if strings.HasSuffix(match, okExt) {
		if status.Message != "" {
			if status.Code != 0 {
				if logger != nil {
					logger.Warnf("WAL segment '%s' was not pushed due to error [%d] and was manually skipped: %s", segment, status.Code, status.Message)
				}
			} else if logger != nil {
				logger.Warnf(status.Message)
			}
		}
		return true, nil
	}

	// .error file.
	if !confessOnError {
		return false, nil
	}
	if status.Message == "" {
		return false, ioerr.New(ioerr.KindAssert, fmt.Sprintf("spool: status file '%s' has no content", match))
	}
	return false, ioerr.New(codeKind(status.Code), status.Message)
}

// codeKind maps a status file's numeric code onto the closest taxonomy
// member; pgBackRest's status codes are its own process exit codes, which
// this module has no direct equivalent for, so anything nonzero surfaces
// as a generic ServiceError carrying the file's message (the numeric code
// itself is not kept), and zero as an AssertError.
func codeKind(code int) ioerr.Kind {
	if code == 0 {
		return ioerr.KindAssert
	}
	return ioerr.KindService
}

func readStatus(ctx context.Context, store storage.Storage, name string) (Status, error) {
	r, err := store.NewRead(ctx, storage.ReadParams{Name: OutDir + "/" + name})
	if err != nil {
		return Status{}, err
	}
	defer r.Close()

	var raw []byte
	buf := iostream.NewBuffer(4096)
	for {
		eof, err := r.Read(buf)
		if err != nil {
			return Status{}, err
		}
		raw = append(raw, buf.Bytes()...)
		buf.Reset()
		if eof {
			break
		}
	}

	if len(raw) == 0 {
		return Status{}, nil
	}

	content := string(raw)
	nl := strings.IndexByte(content, '\n')
	if nl < 0 {
		return Status{}, ioerr.New(ioerr.KindFormat, fmt.Sprintf("spool: %s content must have at least two lines", name))
	}

	message := strings.TrimSpace(content[nl+1:])
	if message == "" {
		return Status{}, ioerr.New(ioerr.KindFormat, fmt.Sprintf("spool: %s message must be > 0", name))
	}

	code, err := strconv.Atoi(strings.TrimSpace(content[:nl]))
	if err != nil {
		return Status{}, ioerr.Wrap(ioerr.KindFormat, err, "spool: %s code is not an integer", name)
	}

	return Status{Code: code, Message: message}, nil
}
