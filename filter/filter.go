// Package filter implements spec.md's C3 (Filter Group): an ordered
// pipeline of transforms applied during a stream read or write. Grounded on
// the shape of rclone's backend/crypt/cipher.go (chunked transforms wrapped
// around a byte stream) and backend/compress/compress.go's handler-table
// pattern, generalized into the Filter/Group abstraction spec.md names.
package filter

import "github.com/pgbackrest/pgbackrest-sub008/iostream"

// Filter is a single transform with the three operations spec.md §3
// defines: Feed consumes input and produces output, a Feed with nil input
// is the flush that drains any buffered output with no further input, and
// Result returns an opaque value computed over everything fed (e.g. a
// digest).
//
// Feed may not consume all of input; callers must check InputSame() after
// every call and, if true, re-feed the same input buffer before accepting
// new bytes from the upstream source.
type Filter interface {
	// Name identifies the filter, e.g. "sha1", "gzip-compress", "aes-256-cbc-encrypt".
	Name() string

	// Feed transforms input into output. input is nil to signal
	// flush-on-close.
	Feed(input *iostream.Buffer, output *iostream.Buffer) error

	// InputSame reports whether the last Feed wants the same input buffer
	// fed again before new input is accepted (partial consumption).
	InputSame() bool

	// Done reports whether the filter has no more output to produce.
	Done() bool

	// Result returns the filter's opaque output-so-far, valid once Done
	// is true; hash filters return the digest, others typically nil.
	Result() interface{}
}
