package remote

import (
	"context"
	"time"

	"github.com/pgbackrest/pgbackrest-sub008/ioerr"
	"github.com/pgbackrest/pgbackrest-sub008/pack"
	"github.com/pgbackrest/pgbackrest-sub008/storage"
)

// Storage proxies every C6 operation to a peer process over a Conn, per
// spec.md §4.4's remote backend. Unlike the other backends, its feature
// bitset is not known until the peer answers STORAGE_FEATURE, so New
// performs that handshake eagerly and can fail.
type Storage struct {
	conn     *Conn
	features storage.Feature
	pathBase string
}

// New opens a remote Storage over conn, blocking for the initial
// STORAGE_FEATURE handshake that tells this process which operations the
// peer's underlying backend actually supports.
func New(conn *Conn) (*Storage, error) {
	s := &Storage{conn: conn}

	result, err := s.conn.call(cmdFeature, pack.NewWriter())
	if err != nil {
		return nil, err
	}
	base, err := result.Str()
	if err != nil {
		return nil, err
	}
	features, err := result.U64()
	if err != nil {
		return nil, err
	}

	s.pathBase = base
	s.features = storage.Feature(features)
	return s, nil
}

func (s *Storage) Features() storage.Feature { return s.features }

func (s *Storage) Info(ctx context.Context, path string, level storage.InfoLevel, follow bool) (storage.Info, error) {
	req := pack.NewWriter()
	req.Str(path).U64(uint64(level)).Bool(follow)

	result, err := s.conn.call(cmdInfo, req)
	if err != nil {
		if ioerr.Is(err, ioerr.KindFileMissing) || ioerr.Is(err, ioerr.KindPathMissing) {
			return storage.Info{}, nil
		}
		return storage.Info{}, err
	}

	exists, err := result.Bool()
	if err != nil {
		return storage.Info{}, err
	}
	if !exists {
		return storage.Info{}, nil
	}
	return decodeInfo(result)
}

// decodeInfo reads an Info record written by encodeInfo. Fields beyond
// Exists are only present when Exists is true.
func decodeInfo(r *pack.Reader) (storage.Info, error) {
	info := storage.Info{Exists: true}

	typ, err := r.U64()
	if err != nil {
		return storage.Info{}, err
	}
	info.Type = storage.PathType(typ)

	modTime, err := r.I64()
	if err != nil {
		return storage.Info{}, err
	}
	info.ModTime = time.Unix(modTime, 0).UTC()

	if info.Type == storage.TypeFile {
		size, err := r.U64()
		if err != nil {
			return storage.Info{}, err
		}
		info.Size = int64(size)
	}

	versionID, err := r.Str()
	if err != nil {
		return storage.Info{}, err
	}
	info.VersionID = versionID

	mode, err := r.U64()
	if err != nil {
		return storage.Info{}, err
	}
	info.Mode = uint32(mode)

	user, err := r.Str()
	if err != nil {
		return storage.Info{}, err
	}
	info.User = user

	group, err := r.Str()
	if err != nil {
		return storage.Info{}, err
	}
	info.Group = group

	if info.Type == storage.TypeLink {
		target, err := r.Str()
		if err != nil {
			return storage.Info{}, err
		}
		info.LinkTarget = target
	}

	return info, nil
}

func encodeInfo(w *pack.Writer, info storage.Info) {
	w.U64(uint64(info.Type))
	w.I64(info.ModTime.Unix())
	if info.Type == storage.TypeFile {
		w.U64(uint64(info.Size))
	}
	w.Str(info.VersionID)
	w.U64(uint64(info.Mode))
	w.Str(info.User)
	w.Str(info.Group)
	if info.Type == storage.TypeLink {
		w.Str(info.LinkTarget)
	}
}

func (s *Storage) List(ctx context.Context, path string, level storage.InfoLevel, targetTime time.Time) ([]storage.ListEntry, error) {
	req := pack.NewWriter()
	req.Str(path).U64(uint64(level)).I64(targetTime.Unix())

	result, err := s.conn.call(cmdList, req)
	if err != nil {
		return nil, err
	}

	var entries []storage.ListEntry
	for !result.Done() {
		name, err := result.Str()
		if err != nil {
			return nil, err
		}
		sub, err := result.Pack()
		if err != nil {
			return nil, err
		}
		info, err := decodeInfo(sub)
		if err != nil {
			return nil, err
		}
		entries = append(entries, storage.ListEntry{Name: name, Info: info})
	}
	return entries, nil
}

func (s *Storage) PathCreate(ctx context.Context, path string, errorOnExists bool, noParentCreate bool, mode uint32) error {
	req := pack.NewWriter()
	req.Str(path).Bool(errorOnExists).Bool(noParentCreate).U64(uint64(mode))
	_, err := s.conn.call(cmdPathCreate, req)
	return err
}

func (s *Storage) PathRemove(ctx context.Context, path string, recurse bool) error {
	req := pack.NewWriter()
	req.Str(path).Bool(recurse)
	_, err := s.conn.call(cmdPathRemove, req)
	return err
}

func (s *Storage) PathSync(ctx context.Context, path string) error {
	req := pack.NewWriter()
	req.Str(path)
	_, err := s.conn.call(cmdPathSync, req)
	return err
}

func (s *Storage) Remove(ctx context.Context, path string, errorOnMissing bool) error {
	req := pack.NewWriter()
	req.Str(path).Bool(errorOnMissing)
	_, err := s.conn.call(cmdRemove, req)
	return err
}

func (s *Storage) LinkCreate(ctx context.Context, target, linkPath string, linkType storage.LinkType) error {
	req := pack.NewWriter()
	req.Str(target).Str(linkPath).U64(uint64(linkType))
	_, err := s.conn.call(cmdLinkCreate, req)
	return err
}

var _ storage.Storage = (*Storage)(nil)
