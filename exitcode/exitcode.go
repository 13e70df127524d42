// Package exitcode maps ioerr.Kind to process exit codes, per spec.md §7's
// "process exit code equals the error code" rule and the dedicated signal
// range, grounded on original_source/src/command/exit.c.
package exitcode

import "github.com/pgbackrest/pgbackrest-sub008/ioerr"

// Success is the exit code for a clean run.
const Success = 0

// SignalBase is the first code in the signal range; a process killed by
// signal N exits with SignalBase+N, mirroring exit.c's convention of
// keeping signal exits in a dedicated band above the ordinary error codes.
const SignalBase = 128

// codes assigns each taxonomy member a stable exit code. Values are
// arbitrary but stable within this module's lifetime; what matters is that
// every Kind maps to exactly one code and unknown kinds fall back to
// codeUnknown.
var codes = map[ioerr.Kind]int{
	ioerr.KindFileMissing:      1,
	ioerr.KindPathMissing:      2,
	ioerr.KindFileRead:         10,
	ioerr.KindFileWrite:        11,
	ioerr.KindFileOpen:         12,
	ioerr.KindFileClose:        13,
	ioerr.KindFileSync:         14,
	ioerr.KindFileMove:         15,
	ioerr.KindFileRemove:       16,
	ioerr.KindPathCreate:       17,
	ioerr.KindPathOpen:         18,
	ioerr.KindPathSync:         19,
	ioerr.KindPathRemove:       20,
	ioerr.KindProtocol:         30,
	ioerr.KindFormat:           31,
	ioerr.KindCrypto:           32,
	ioerr.KindService:          40,
	ioerr.KindAssert:           50,
	ioerr.KindArchiveTimeout:   60,
	ioerr.KindArchiveDuplicate: 61,
	ioerr.KindArchiveMismatch:  62,
	ioerr.KindExecute:          70,
	ioerr.KindHostConnect:      71,
	ioerr.KindOptionInvalid:    80,
}

const codeUnknown = 99

// ForKind returns the exit code for kind, or codeUnknown if kind is not in
// the table.
func ForKind(kind ioerr.Kind) int {
	if code, ok := codes[kind]; ok {
		return code
	}
	return codeUnknown
}

// ForError returns the exit code for err's Kind (via ioerr.KindOf), or
// Success if err is nil.
func ForError(err error) int {
	if err == nil {
		return Success
	}
	return ForKind(ioerr.KindOf(err))
}

// ForSignal returns the exit code for a process terminated by signal
// number sig.
func ForSignal(sig int) int {
	return SignalBase + sig
}
