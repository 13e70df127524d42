// Package walfind implements spec.md's C8 component: a stateful scanner
// that locates a WAL segment's on-disk file (with its sha1 and optional
// compression/.partial decoration) inside a repository archive path,
// retrying with backoff until a timeout elapses.
// Grounded on original_source/src/command/archive/find.c's
// WalSegmentFind: the cached-prefix single-mode list/match-once
// strategy and the cached-unfiltered-list multi-mode strategy that
// drops matched/rejected entries off the head of the cache as the
// caller walks forward.
package walfind

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/pgbackrest/pgbackrest-sub008/ioerr"
	"github.com/pgbackrest/pgbackrest-sub008/iostream"
	"github.com/pgbackrest/pgbackrest-sub008/storage"
	"github.com/pgbackrest/pgbackrest-sub008/wal"
)

// Finder locates WAL segment files under
// .../archive/<archiveID>/<prefix>/ in storage, per spec.md §4.5.
type Finder struct {
	storage     storage.Storage
	archiveID   string
	single      bool
	timeout     time.Duration
	compressExt string

	prefix string
	list   []string // cached sorted (single-mode) or unfiltered (multi-mode) listing
	listed bool
}

// New returns a Finder. single optimizes for one-shot lookups by
// applying the match expression while listing; compressExt (without a
// leading dot), if non-empty, is tried as an optional extension on the
// matched filename.
func New(store storage.Storage, archiveID string, single bool, timeout time.Duration, compressExt string) *Finder {
	return &Finder{storage: store, archiveID: archiveID, single: single, timeout: timeout, compressExt: compressExt}
}

func (f *Finder) archivePath(prefix string) string {
	return "archive/" + f.archiveID + "/" + prefix
}

// Find locates segment's on-disk filename, retrying with backoff until
// f.timeout elapses. It returns ("", nil) if the timeout is zero and
// nothing is found yet; it raises an ArchiveTimeoutError if a positive
// timeout elapses with no match, and an ArchiveDuplicateError if more
// than one candidate matches.
func (f *Finder) Find(ctx context.Context, segment string) (string, error) {
	return f.find(ctx, segment, iostream.NewWait(f.timeout))
}

// FindWait is Find with an injected Wait, the seam tests use to avoid
// real sleeps.
func (f *Finder) FindWait(ctx context.Context, segment string, wait *iostream.Wait) (string, error) {
	return f.find(ctx, segment, wait)
}

func (f *Finder) find(ctx context.Context, segment string, wait *iostream.Wait) (string, error) {
	if !wal.IsSegment(segment) {
		return "", ioerr.New(ioerr.KindAssert, "walfind: not a valid segment name: "+segment)
	}

	prefix := wal.Prefix(segment)
	expression := wal.MatchExpression(segment, f.compressExt)
	re := regexp.MustCompile(expression)

	var result string
	for {
		if err := f.refresh(ctx, prefix, re); err != nil {
			return "", err
		}

		match, err := f.consumeMatch(re)
		if err != nil {
			return "", err
		}
		if match != "" {
			result = match
			break
		}

		if !wait.More() {
			break
		}
	}

	if result == "" && f.timeout != 0 {
		return "", ioerr.New(ioerr.KindArchiveTimeout, "WAL segment "+segment+" was not archived before the timeout")
	}
	return result, nil
}

// refresh (re)lists the archive path when the cache is stale: in
// single-mode whenever the prefix changed, in multi-mode whenever the
// cached list ran dry.
func (f *Finder) refresh(ctx context.Context, prefix string, re *regexp.Regexp) error {
	if f.single {
		if f.listed && prefix == f.prefix {
			return nil
		}
	} else if f.listed && len(f.list) > 0 {
		return nil
	}

	entries, err := f.storage.List(ctx, f.archivePath(prefix), storage.LevelExists, time.Time{})
	if err != nil {
		if ioerr.Is(err, ioerr.KindPathMissing) {
			entries = nil
		} else {
			return err
		}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if f.single && !re.MatchString(e.Name) {
			continue
		}
		names = append(names, e.Name)
	}
	sort.Strings(names)

	f.prefix = prefix
	f.list = names
	f.listed = true
	return nil
}

// consumeMatch returns exactly one matching name from the cache, or ""
// if none is ready yet. It is an error for more than one entry at the
// head of the (sorted, possibly pre-filtered) list to match.
func (f *Finder) consumeMatch(re *regexp.Regexp) (string, error) {
	if len(f.list) == 0 {
		return "", nil
	}

	if f.single {
		// List was already filtered to matches only at refresh time.
		match := len(f.list)
		if match > 1 {
			dup := append([]string(nil), f.list...)
			f.list = nil
			f.listed = false
			return "", ioerr.New(ioerr.KindArchiveDuplicate, "duplicates found in archive: "+joinComma(dup))
		}
		result := f.list[0]
		f.list = nil
		f.listed = false
		return result, nil
	}

	// Multi-mode: drop non-matching entries off the head, then count the
	// run of matches at the new head.
	for len(f.list) > 0 && !re.MatchString(f.list[0]) {
		f.list = f.list[1:]
	}

	match := 0
	for match < len(f.list) && re.MatchString(f.list[match]) {
		match++
	}

	if match > 1 {
		dup := append([]string(nil), f.list[:match]...)
		f.list = nil
		f.listed = false
		return "", ioerr.New(ioerr.KindArchiveDuplicate, "duplicates found in archive: "+joinComma(dup))
	}

	var result string
	if match == 1 {
		result = f.list[0]
		f.list = f.list[1:]
	}

	if len(f.list) == 0 {
		f.listed = false
	}
	return result, nil
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
