// Package relid models relation identity, segment naming, log positions and
// timelines — the shared vocabulary that the scanner, WAL reader, copier
// and restorer all speak.
//
// Segment naming and the RELFILENODE/fork/segment triple are grounded on
// Chocapikk-pgdump-offline's pgdump/segment.go (GetSegmentNumberFromPath,
// the "segment 0 has no suffix" convention) and pgdump/pgdump.go's
// base/<dboid>/<filenode> path convention.
package relid

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// RelsegSize is the number of blocks per relation segment file before the
// server shards it with a numeric suffix. This matches PostgreSQL's
// default RELSEG_SIZE (1GiB segments / 8KiB blocks).
const RelsegSize = 1024 * 1024 * 1024 / BlockSize

// BlockSize is the page size assumed for relation files, matching
// PostgreSQL's default BLCKSZ.
const BlockSize = 8192

// Fork identifies one of a relation's auxiliary storage forks.
type Fork uint8

const (
	// ForkMain is the main data fork.
	ForkMain Fork = iota
	// ForkFSM is the free-space map fork.
	ForkFSM
	// ForkVM is the visibility-map fork.
	ForkVM
	// ForkInit is the init fork (unlogged relations).
	ForkInit
)

func (f Fork) String() string {
	switch f {
	case ForkMain:
		return "main"
	case ForkFSM:
		return "fsm"
	case ForkVM:
		return "vm"
	case ForkInit:
		return "init"
	default:
		return "unknown"
	}
}

// forkSuffix is the filename suffix the server appends for non-main forks.
func forkSuffix(f Fork) string {
	switch f {
	case ForkFSM:
		return "_fsm"
	case ForkVM:
		return "_vm"
	case ForkInit:
		return "_init"
	default:
		return ""
	}
}

// Identity is the (tablespace, database, relation) triple plus fork and
// segment number that uniquely names one on-disk relation segment file.
type Identity struct {
	SpcOID  uint32
	DBOID   uint32
	RelOID  uint32
	Fork    Fork
	Segment uint32
}

// SegmentPath returns the path of this segment's file relative to the data
// directory root. Segment 0 carries no numeric suffix; segment N>0 carries
// ".N", matching the real server's on-disk convention.
func (id Identity) SegmentPath() string {
	var dir string
	switch {
	case id.SpcOID == 0:
		dir = filepath.Join("base", fmt.Sprint(id.DBOID))
	default:
		// Tablespace-relative paths are resolved by the scanner, which
		// knows the tablespace's symlink target; relid only names the
		// filenode component.
		dir = filepath.Join("pg_tblspc", fmt.Sprint(id.SpcOID), fmt.Sprint(id.DBOID))
	}

	name := fmt.Sprint(id.RelOID) + forkSuffix(id.Fork)
	if id.Segment > 0 {
		name = fmt.Sprintf("%s.%d", name, id.Segment)
	}
	return filepath.Join(dir, name)
}

// ParseSegmentSuffix splits a relation filename into its base filenode name
// (with fork suffix, if any) and its segment number. Segment 0 is implied
// when there is no trailing ".N".
func ParseSegmentSuffix(basename string) (base string, segment uint32) {
	idx := strings.LastIndexByte(basename, '.')
	if idx < 0 {
		return basename, 0
	}
	n, err := strconv.ParseUint(basename[idx+1:], 10, 32)
	if err != nil {
		return basename, 0
	}
	return basename[:idx], uint32(n)
}

// ParseRelationPath is the inverse of Identity.SegmentPath for base/ and
// pg_tblspc/ paths; a global/ path parses to SpcOID and DBOID 0, which
// SegmentPath renders under base/0/. Given a path
// relative to the data directory root (forward-slash separated), it
// recovers the relation identity the scanner's "basename starts with a
// digit" rule already flagged as a relation file. It returns ok=false
// for any path that doesn't match one of the three recognized layouts,
// which the caller treats the same way the WAL reader treats a dirtied
// relation that no longer appears in the file list: silently skipped.
func ParseRelationPath(relPath string) (Identity, bool) {
	parts := strings.Split(relPath, "/")

	var spcOID, dbOID uint64
	var filename string
	var err error

	switch {
	case len(parts) == 3 && parts[0] == "base":
		dbOID, err = strconv.ParseUint(parts[1], 10, 32)
		filename = parts[2]
	case len(parts) == 2 && parts[0] == "global":
		filename = parts[1]
	case len(parts) == 4 && parts[0] == "pg_tblspc":
		spcOID, err = strconv.ParseUint(parts[1], 10, 32)
		if err == nil {
			dbOID, err = strconv.ParseUint(parts[2], 10, 32)
		}
		filename = parts[3]
	default:
		return Identity{}, false
	}
	if err != nil {
		return Identity{}, false
	}

	base, segment := ParseSegmentSuffix(filename)
	fork := ForkMain
	for f, suffix := range map[Fork]string{ForkFSM: "_fsm", ForkVM: "_vm", ForkInit: "_init"} {
		if strings.HasSuffix(base, suffix) {
			fork = f
			base = strings.TrimSuffix(base, suffix)
			break
		}
	}

	relOID, err := strconv.ParseUint(base, 10, 32)
	if err != nil {
		return Identity{}, false
	}

	return Identity{
		SpcOID:  uint32(spcOID),
		DBOID:   uint32(dbOID),
		RelOID:  uint32(relOID),
		Fork:    fork,
		Segment: segment,
	}, true
}

// BlockToSegment converts a global (whole-relation) block number into the
// segment it lives in and its block offset within that segment.
func BlockToSegment(globalBlock uint32) (segment uint32, localBlock uint32) {
	return globalBlock / RelsegSize, globalBlock % RelsegSize
}

// LSN is an opaque 64-bit monotonically increasing WAL stream offset.
type LSN uint64

// String renders the LSN the way the server does: two hex halves separated
// by "/". Grounded on Chocapikk-pgdump-offline's FormatLSN.
func (l LSN) String() string {
	return fmt.Sprintf("%X/%X", uint64(l)>>32, uint64(l)&0xFFFFFFFF)
}

// ParseLSN parses the "HI/LO" textual form the server returns from
// pg_backup_start/pg_backup_stop/pg_current_wal_lsn.
func ParseLSN(s string) (LSN, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid LSN %q", s)
	}
	hi, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid LSN %q: %w", s, err)
	}
	lo, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid LSN %q: %w", s, err)
	}
	return LSN(hi<<32 | lo), nil
}

// Timeline is the 32-bit identifier that increments each time the server
// performs point-in-time recovery.
type Timeline uint32

// WALFileName returns the 24-character hex filename the server uses for the
// WAL segment containing lsn on this timeline, given the segment size in
// bytes (typically 16MiB).
func WALFileName(tl Timeline, lsn LSN, segSize uint64) string {
	segNo := uint64(lsn) / segSize
	segPerLog := uint64(0x100000000) / segSize
	logNo := segNo / segPerLog
	seg := segNo % segPerLog
	return fmt.Sprintf("%08X%08X%08X", uint32(tl), uint32(logNo), uint32(seg))
}
