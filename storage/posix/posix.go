// Package posix implements spec.md's C7 POSIX filesystem storage backend.
// Grounded on backend/local/local.go's path-joining, mkdir-recursive, and
// Update/Open patterns, adapted to spec.md §4.4's atomic-write-via-.tmp
// and explicit storage-read retry rather than rclone's fs.Object model.
package posix

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pgbackrest/pgbackrest-sub008/ioerr"
	"github.com/pgbackrest/pgbackrest-sub008/iostream"
	"github.com/pgbackrest/pgbackrest-sub008/log"
	"github.com/pgbackrest/pgbackrest-sub008/storage"
)

const features = storage.FeaturePath | storage.FeatureHardlink | storage.FeatureSymlink | storage.FeatureInfoDetail | storage.FeatureTruncate

// Storage is a POSIX filesystem-rooted backend.
type Storage struct {
	root string
	log  log.Logger
}

// New returns a Storage rooted at root (an absolute base directory every
// path is joined against, mirroring local.Fs.localPath).
func New(root string, logger log.Logger) *Storage {
	if logger == nil {
		logger = log.Nop{}
	}
	return &Storage{root: root, log: logger}
}

func (s *Storage) Features() storage.Feature { return features }

func (s *Storage) resolve(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

func infoFromStat(fi fs.FileInfo) storage.Info {
	info := storage.Info{Exists: true, Size: fi.Size(), ModTime: fi.ModTime(), Mode: uint32(fi.Mode().Perm())}
	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		info.Type = storage.TypeLink
	case fi.IsDir():
		info.Type = storage.TypePath
	case fi.Mode()&(os.ModeNamedPipe|os.ModeSocket|os.ModeDevice) != 0:
		info.Type = storage.TypeSpecial
	default:
		info.Type = storage.TypeFile
	}
	return info
}

func (s *Storage) Info(ctx context.Context, path string, level storage.InfoLevel, follow bool) (storage.Info, error) {
	full := s.resolve(path)

	var fi fs.FileInfo
	var err error
	if follow {
		fi, err = os.Stat(full)
	} else {
		fi, err = os.Lstat(full)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return storage.Info{}, nil
		}
		return storage.Info{}, ioerr.Wrap(ioerr.KindFileOpen, err, "stat %s", path)
	}

	info := infoFromStat(fi)
	if level >= storage.LevelDetail {
		if info.Type == storage.TypeLink {
			target, lerr := os.Readlink(full)
			if lerr != nil {
				return storage.Info{}, ioerr.Wrap(ioerr.KindFileRead, lerr, "readlink %s", path)
			}
			info.LinkTarget = target
		}
	}
	return info, nil
}

func (s *Storage) List(ctx context.Context, path string, level storage.InfoLevel, targetTime time.Time) ([]storage.ListEntry, error) {
	full := s.resolve(path)

	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ioerr.Wrap(ioerr.KindPathMissing, err, "list %s", path)
		}
		return nil, ioerr.Wrap(ioerr.KindPathOpen, err, "list %s", path)
	}

	out := make([]storage.ListEntry, 0, len(entries))
	for _, e := range entries {
		info, err := s.Info(ctx, filepath.Join(path, e.Name()), level, false)
		if err != nil {
			return nil, err
		}
		out = append(out, storage.ListEntry{Name: e.Name(), Info: info})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// posixReadCloser wraps an *os.File with an offset/limit window so
// storage.Reopener can seek and re-bound it on retry.
type posixReadCloser struct {
	f *os.File
	r io.Reader
}

func (p *posixReadCloser) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *posixReadCloser) Close() error               { return p.f.Close() }

func (s *Storage) NewRead(ctx context.Context, params storage.ReadParams) (*iostream.IoRead, error) {
	full := s.resolve(params.Name)

	if params.IgnoreMissing {
		if _, err := os.Stat(full); err != nil && os.IsNotExist(err) {
			return iostream.NewIoRead(io.NopCloser(bytes.NewReader(nil)), params.Filter), nil
		}
	}

	reopen := func(ctx context.Context, offset, limit int64) (io.ReadCloser, error) {
		f, err := os.Open(full)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ioerr.Wrap(ioerr.KindFileMissing, err, "open %s", params.Name)
			}
			return nil, ioerr.Wrap(ioerr.KindFileOpen, err, "open %s", params.Name)
		}
		if offset > 0 {
			if _, err := f.Seek(offset, io.SeekStart); err != nil {
				_ = f.Close()
				return nil, ioerr.Wrap(ioerr.KindFileRead, err, "seek %s", params.Name)
			}
		}
		var r io.Reader = f
		if limit > 0 {
			r = io.LimitReader(f, limit)
		}
		return &posixReadCloser{f: f, r: r}, nil
	}

	return storage.NewRetryingRead(ctx, reopen, params, params.Filter)
}

// posixWriteCloser finalizes an atomic write on Close: fsync the temp
// file (if requested), rename it into place, then optionally fsync the
// containing directory, per spec.md §3's storage-write atomic lifecycle.
type posixWriteCloser struct {
	f        *os.File
	final    string
	tmp      string
	atomic   bool
	syncFile bool
	syncPath bool
	dir      string
	mtime    time.Time
}

func (w *posixWriteCloser) Write(b []byte) (int, error) { return w.f.Write(b) }

func (w *posixWriteCloser) Close() error {
	if w.syncFile {
		if err := w.f.Sync(); err != nil {
			_ = w.f.Close()
			return ioerr.Wrap(ioerr.KindFileSync, err, "sync %s", w.tmp)
		}
	}
	if err := w.f.Close(); err != nil {
		return ioerr.Wrap(ioerr.KindFileClose, err, "close %s", w.tmp)
	}

	if !w.mtime.IsZero() {
		_ = os.Chtimes(w.tmp, w.mtime, w.mtime)
	}

	if w.atomic {
		if err := os.Rename(w.tmp, w.final); err != nil {
			return ioerr.Wrap(ioerr.KindFileMove, err, "rename %s", w.tmp)
		}
	}

	if w.syncPath {
		d, err := os.Open(w.dir)
		if err != nil {
			return ioerr.Wrap(ioerr.KindPathSync, err, "open dir %s", w.dir)
		}
		defer d.Close()
		if err := d.Sync(); err != nil {
			return ioerr.Wrap(ioerr.KindPathSync, err, "sync dir %s", w.dir)
		}
	}
	return nil
}

func (s *Storage) NewWrite(ctx context.Context, params storage.WriteParams) (*iostream.IoWrite, error) {
	full := s.resolve(params.Name)
	dir := filepath.Dir(full)

	if params.CreatePath {
		if err := os.MkdirAll(dir, fs.FileMode(params.ModePath)); err != nil {
			return nil, ioerr.Wrap(ioerr.KindPathCreate, err, "mkdir %s", dir)
		}
	}

	target := full
	flags := os.O_WRONLY | os.O_CREATE
	if params.Truncate {
		flags |= os.O_TRUNC
	}
	if params.Atomic {
		target = full + ".tmp"
		flags |= os.O_TRUNC
	}

	mode := os.FileMode(params.ModeFile)
	if mode == 0 {
		mode = 0640
	}

	f, err := os.OpenFile(target, flags, mode)
	if err != nil {
		return nil, ioerr.Wrap(ioerr.KindFileOpen, err, "open %s", target)
	}
	s.log.Debugf("posix: opened %s for write (atomic=%v)", target, params.Atomic)

	wc := &posixWriteCloser{
		f: f, final: full, tmp: target, atomic: params.Atomic,
		syncFile: params.SyncFile, syncPath: params.SyncPath, dir: dir,
		mtime: params.TimeModified,
	}
	return iostream.NewIoWrite(wc, params.Filter), nil
}

func (s *Storage) PathCreate(ctx context.Context, path string, errorOnExists bool, noParentCreate bool, mode uint32) error {
	full := s.resolve(path)
	m := os.FileMode(mode)
	if m == 0 {
		m = 0750
	}

	var err error
	if noParentCreate {
		err = os.Mkdir(full, m)
	} else {
		err = os.MkdirAll(full, m)
	}
	if err != nil {
		if os.IsExist(err) {
			if errorOnExists {
				return ioerr.Wrap(ioerr.KindPathCreate, err, "path exists %s", path)
			}
			return nil
		}
		return ioerr.Wrap(ioerr.KindPathCreate, err, "mkdir %s", path)
	}
	return nil
}

func (s *Storage) PathRemove(ctx context.Context, path string, recurse bool) error {
	full := s.resolve(path)
	var err error
	if recurse {
		err = os.RemoveAll(full)
	} else {
		err = os.Remove(full)
	}
	if err != nil && !os.IsNotExist(err) {
		return ioerr.Wrap(ioerr.KindPathRemove, err, "rmdir %s", path)
	}
	return nil
}

func (s *Storage) PathSync(ctx context.Context, path string) error {
	full := s.resolve(path)
	d, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ioerr.Wrap(ioerr.KindPathOpen, err, "open %s", path)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return ioerr.Wrap(ioerr.KindPathSync, err, "sync %s", path)
	}
	return nil
}

func (s *Storage) Remove(ctx context.Context, path string, errorOnMissing bool) error {
	full := s.resolve(path)
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			if errorOnMissing {
				return ioerr.Wrap(ioerr.KindFileMissing, err, "remove %s", path)
			}
			return nil
		}
		return ioerr.Wrap(ioerr.KindFileRemove, err, "remove %s", path)
	}
	s.log.Debugf("posix: removed %s", path)
	return nil
}

func (s *Storage) LinkCreate(ctx context.Context, target, linkPath string, linkType storage.LinkType) error {
	full := s.resolve(linkPath)
	var err error
	if linkType == storage.LinkSymbolic {
		err = os.Symlink(target, full)
	} else {
		err = os.Link(s.resolve(target), full)
	}
	if err != nil {
		return fmt.Errorf("posix: link create %s: %w", linkPath, err)
	}
	return nil
}
