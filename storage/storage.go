// Package storage defines spec.md's C6 storage interface: a
// capability-tagged abstraction over POSIX, S3, Azure Blob, GCS, CIFS, and
// a peer "remote" RPC backend (storage/posix, storage/s3,
// storage/azureblob, storage/gcs, storage/cifs, storage/remote).
// Grounded on rclone's fs.Fs/fs.Object split, adapted to the spec's
// synchronous read/write-stream lifecycle rather than rclone's
// object-listing model.
package storage

import (
	"context"
	"time"

	"github.com/pgbackrest/pgbackrest-sub008/iostream"
)

// Feature is one bit of a backend's capability set, per spec.md §4.4.
type Feature uint

const (
	FeaturePath Feature = 1 << iota
	FeatureCompress
	FeatureHardlink
	FeatureSymlink
	FeatureInfoDetail
	FeatureVersioning
	FeatureTruncate
)

// Has reports whether bits contains feature.
func (f Feature) Has(feature Feature) bool { return f&feature != 0 }

// InfoLevel selects which Info fields a backend populates, per spec.md §3.
type InfoLevel int

const (
	LevelExists InfoLevel = iota
	LevelBasic
	LevelDetail
)

// PathType is the kind of entry Info describes.
type PathType int

const (
	TypeFile PathType = iota
	TypePath
	TypeLink
	TypeSpecial
)

// Info is spec.md §3's storage info record.
type Info struct {
	Exists     bool
	Type       PathType
	Size       int64
	ModTime    time.Time
	Mode       uint32
	User       string
	Group      string
	LinkTarget string
	VersionID  string
}

// LinkType distinguishes hard and symbolic links for LinkCreate.
type LinkType int

const (
	LinkHard LinkType = iota
	LinkSymbolic
)

// ReadParams configures NewRead, per spec.md §3's storage-read record.
//
// Filter, if non-nil, is the filter chain (spec.md §2/§4.1's C3 group —
// typically decompress/decrypt/hash in some combination) the returned
// IoRead decodes through as the caller drains it. A nil Filter is the
// common case: the raw backend bytes pass through unchanged.
type ReadParams struct {
	Name          string
	IgnoreMissing bool
	Offset        int64
	Limit         int64 // 0 means unbounded
	Version       string
	VersionID     string
	RetryAllowed  bool
	Filter        iostream.Processor
}

// WriteParams configures NewWrite, per spec.md §3's storage-write record.
//
// Filter, if non-nil, is the filter chain the returned IoWrite encodes
// through before bytes reach the backend — spec.md §2's defining
// interaction, where a filter group (hash, then optional compress, then
// optional encrypt) is attached ahead of a write opened via C6/C7.
type WriteParams struct {
	Name         string
	ModeFile     uint32
	ModePath     uint32
	User         string
	Group        string
	TimeModified time.Time
	CreatePath   bool
	SyncFile     bool
	SyncPath     bool
	Atomic       bool
	Truncate     bool
	Filter       iostream.Processor
}

// ListEntry is one item returned from List.
type ListEntry struct {
	Name string
	Info Info
}

// Storage is spec.md's C6 interface. Backends implement the subset their
// Features() bitset advertises; calling an operation outside that set
// either no-ops (where spec.md says to) or returns an AssertError, per
// backend-specific doc comments.
type Storage interface {
	// Features returns this backend's capability bitset.
	Features() Feature

	// Info stats path at the given level. follow is only meaningful when
	// the entry is a symlink.
	Info(ctx context.Context, path string, level InfoLevel, follow bool) (Info, error)

	// List enumerates path's direct children. targetTime, if non-zero,
	// asks a versioning-capable backend for the state as of that time.
	List(ctx context.Context, path string, level InfoLevel, targetTime time.Time) ([]ListEntry, error)

	// NewRead opens a read stream for params.Name. The returned IoRead
	// must be closed by the caller.
	NewRead(ctx context.Context, params ReadParams) (*iostream.IoRead, error)

	// NewWrite opens a write stream for params.Name. The returned IoWrite
	// must be closed by the caller to finalize (and, for atomic writes,
	// rename into place).
	NewWrite(ctx context.Context, params WriteParams) (*iostream.IoWrite, error)

	// PathCreate creates path (and, unless noParentCreate, its parents).
	PathCreate(ctx context.Context, path string, errorOnExists bool, noParentCreate bool, mode uint32) error

	// PathRemove removes path; if recurse, removes its contents first.
	PathRemove(ctx context.Context, path string, recurse bool) error

	// PathSync durably commits path's directory entry (a no-op for
	// backends without a path-hierarchy concept).
	PathSync(ctx context.Context, path string) error

	// Remove deletes a single file at path.
	Remove(ctx context.Context, path string, errorOnMissing bool) error

	// LinkCreate creates a link at linkPath pointing at target.
	LinkCreate(ctx context.Context, target, linkPath string, linkType LinkType) error
}

// PathExpression resolves a storage path expression containing <TAG>
// placeholders (e.g. "<REPO:ARCHIVE>/00000001...") against configured
// roots, per spec.md §6. Returns AssertError-shaped errors (via ioerr) for
// unknown tags.
type PathExpression func(tag string) (string, error)
