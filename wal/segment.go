// Package wal implements spec.md §4.5's WAL segment naming: the
// 24-hex-character TTTTTTTTLLLLLLLLSSSSSSSS name, its partial/
// compressed-extension variants, and the successor arithmetic archive
// push/get use to predict the next segment in a timeline.
// Grounded on original_source/src/command/archive/find.c's
// walIsSegment/walIsPartial usage and the archive-push segment-rollover
// behavior find.c's walSegmentFind callers rely on.
package wal

import (
	"fmt"
	"regexp"

	"github.com/pgbackrest/pgbackrest-sub008/ioerr"
)

// PartialExt is the suffix archive-push appends to a segment name that
// was pushed before a timeline switch completed it.
const PartialExt = ".partial"

// NameLen is the length of a segment name's hex portion
// (TTTTTTTTLLLLLLLLSSSSSSSS), excluding any .partial suffix.
const NameLen = 24

var segmentRe = regexp.MustCompile(`^[0-9A-Fa-f]{24}$`)

// PgVersion is a PostgreSQL version encoded the way pgBackRest does:
// major*10000 + minor*100 (e.g. 90200 for 9.2, 110000 for 11).
type PgVersion int

// Version93 is the first release where the final segment number of a
// log file depends on the actual segment size rather than a fixed
// 0xFF, per spec.md §8 scenario 2.
const Version93 PgVersion = 90300

// IsSegment reports whether name (with any .partial suffix stripped)
// is a well-formed 24-hex-character WAL segment name.
func IsSegment(name string) bool {
	return segmentRe.MatchString(StripPartial(name))
}

// IsPartial reports whether name carries the .partial suffix.
func IsPartial(name string) bool {
	return len(name) > len(PartialExt) && name[len(name)-len(PartialExt):] == PartialExt
}

// StripPartial removes a trailing .partial suffix, if present.
func StripPartial(name string) string {
	if IsPartial(name) {
		return name[:len(name)-len(PartialExt)]
	}
	return name
}

// Prefix returns a segment name's first 16 hex characters, the
// directory a repository shards segments under.
func Prefix(name string) string {
	return name[:16]
}

// Timeline, Log, and Segment split a well-formed name into its three
// 8-hex-character fields.
func Timeline(name string) string { return name[0:8] }
func Log(name string) string      { return name[8:16] }
func Segment(name string) string  { return name[16:24] }

// MatchExpression builds the regex a storage List call (or in-memory
// filter) uses to find name's on-disk form: a checksum suffix and an
// optional compression extension, per spec.md §4.5.
//
// compressExt, if non-empty, is tried as an optional trailing
// extension (e.g. "gz"); the dot is added here.
func MatchExpression(name string, compressExt string) string {
	partial := ""
	if IsPartial(name) {
		partial = regexp.QuoteMeta(PartialExt)
	}

	ext := ""
	if compressExt != "" {
		ext = `(\.` + regexp.QuoteMeta(compressExt) + `){0,1}`
	}

	return fmt.Sprintf(`^%s%s-[0-9a-f]{40}%s$`, regexp.QuoteMeta(StripPartial(name)[:NameLen]), partial, ext)
}

// Next computes the segment that chronologically follows name once
// segSize bytes of WAL have been written, per spec.md §8 scenario 2:
//
//	Next("0000000100000001000000FE", 16*1024*1024, 90200) == "000000010000000200000000"
//	Next("0000000100000001000000FE", 16*1024*1024, 90300) == "0000000100000001000000FF"
//	Next("000000010000006700000FFF", 1*1024*1024, 110000)  == "000000010000006800000000"
//
// Before PostgreSQL 9.3 every log file held a fixed 0xFF segments
// regardless of segment size; 9.3 introduced variable segment sizes,
// so the final segment of a log file became segSize-dependent.
func Next(name string, segSize uint64, pgVersion PgVersion) (string, error) {
	if !IsSegment(name) {
		return "", ioerr.New(ioerr.KindAssert, "wal: not a valid segment name: "+name)
	}

	var timeline, log, seg uint32
	if _, err := fmt.Sscanf(StripPartial(name), "%08X%08X%08X", &timeline, &log, &seg); err != nil {
		return "", ioerr.Wrap(ioerr.KindAssert, err, "wal: malformed segment name %s", name)
	}

	// Pre-9.3, segment 0xFF of every log file was never used: fixed
	// segment sizing meant the last in-range segment was 0xFE.
	maxSeg := uint32(0xFE)
	if pgVersion >= Version93 {
		segsPerLog := uint64(0x100000000) / segSize
		maxSeg = uint32(segsPerLog - 1)
	}

	seg++
	if seg > maxSeg {
		seg = 0
		log++
	}

	return fmt.Sprintf("%08X%08X%08X", timeline, log, seg), nil
}
