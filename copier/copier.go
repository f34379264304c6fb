// Package copier copies data-directory files into a backup's file tree,
// either verbatim (every file in FULL mode, and non-relation files in any
// mode) or as a block-level delta against a page map (relation files in
// DIFF_PAGE mode).
//
// Verbatim copy's byte-counting/checksum bookkeeping follows the teacher's
// backends/filesystem.go rotation bookkeeping style (explicit open/stat/
// close, a running count of bytes written). The delta file's
// self-describing header-plus-records shape is the same framing idiom as
// the teacher's wal/record.go (magic, version, length-prefixed payload,
// trailing checksum) generalized from an append log to a flat sequence of
// page records.
package copier

import (
	"github.com/cespare/xxhash/v2"
)

// WriteSizeSkipped is recorded as a file entry's write size when the
// source file disappeared between the directory scan and the copy
// attempt. This is a normal outcome, not an error.
const WriteSizeSkipped = -1

// Result describes the outcome of copying one file, verbatim or delta.
type Result struct {
	// Size is the source file's size observed at copy time.
	Size int64
	// CRC is the xxhash64 checksum of the bytes actually written.
	CRC uint64
	// WriteSize is the number of bytes written to the destination, or
	// WriteSizeSkipped if the source vanished before it could be copied.
	WriteSize int64
	// Skipped is true when WriteSize is WriteSizeSkipped.
	Skipped bool
	// IsDelta is true when the file was written in the delta format
	// rather than copied byte-for-byte.
	IsDelta bool
	// BlocksEmitted and BlocksUnchanged are populated only by CopyDelta,
	// for the orchestrator's per-run block counters.
	BlocksEmitted   int
	BlocksUnchanged int
}

func newChecksum() *xxhash.Digest {
	return xxhash.New()
}
