// Package catalog persists the list of backups taken into a backup path,
// one subdirectory per record, and arbitrates exclusive access to that
// path across invocations.
//
// The directory layout (one timestamp-named subdirectory per backup,
// `backup.ini` manifest, `file_database.txt` file list, `database/`
// subtree) and the read-modify-rename manifest write are grounded on the
// teacher's wal/segment.go scanSegments (glob, stat, sort-by-timestamp,
// reconstruct metadata from the filename) and the crash-safety posture
// carried throughout wal/wal.go and wal/recovery.go: never leave a
// half-written artifact where a reader can observe it.
package catalog

import (
	"time"

	"github.com/willibrandon/pgarman/relid"
)

// dirTimeFormat names a backup's directory by its start time, per §4.1.
const dirTimeFormat = "20060102T150405"

// Mode distinguishes a FULL backup (every file) from a DIFF_PAGE backup
// (only pages dirtied since a prior FULL).
type Mode int

const (
	// ModeFull captures every file of the data directory.
	ModeFull Mode = iota
	// ModeDiffPage captures only pages dirtied since a parent FULL backup.
	ModeDiffPage
)

func (m Mode) String() string {
	if m == ModeDiffPage {
		return "page"
	}
	return "full"
}

// ParseMode parses the "full"/"page" tokens used both on the command line
// and in the manifest.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "full":
		return ModeFull, true
	case "page":
		return ModeDiffPage, true
	default:
		return 0, false
	}
}

// Status tracks a backup record's place in its lifecycle. Transitions are
// monotone: RUNNING -> {DONE, ERROR}; DONE -> CORRUPT (via validate);
// any non-DELETED status -> DELETED (via retention or explicit delete).
type Status int

const (
	// StatusRunning marks a backup still in progress, or one whose process
	// died before reaching DONE or ERROR.
	StatusRunning Status = iota
	// StatusDone marks a backup that completed successfully.
	StatusDone
	// StatusError marks a backup that failed.
	StatusError
	// StatusDeleted marks a backup retired by retention or explicit delete.
	StatusDeleted
	// StatusCorrupt marks a DONE backup that failed a later validate.
	StatusCorrupt
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusDone:
		return "DONE"
	case StatusError:
		return "ERROR"
	case StatusDeleted:
		return "DELETED"
	case StatusCorrupt:
		return "CORRUPT"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus parses the manifest's status token.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "RUNNING":
		return StatusRunning, true
	case "DONE":
		return StatusDone, true
	case "ERROR":
		return StatusError, true
	case "DELETED":
		return StatusDeleted, true
	case "CORRUPT":
		return StatusCorrupt, true
	default:
		return 0, false
	}
}

// Record is one entry in the catalog: everything §3 "Backup record" names.
type Record struct {
	ID               int64 // start time, seconds since epoch
	Mode             Mode
	Status           Status
	Timeline         relid.Timeline
	StartLSN         relid.LSN
	StopLSN          relid.LSN
	RecoveryXID      uint32
	RecoveryTime     time.Time
	BlockSize        int
	WALBlockSize     int
	DataBytesRead    int64
	DataBytesWritten int64
	StartTime        time.Time
	EndTime          time.Time
}

// DirName is the record's subdirectory name under the catalog root.
func (r *Record) DirName() string {
	return r.StartTime.UTC().Format(dirTimeFormat)
}

// IsValidDiffParent reports whether r may serve as the parent of a
// DIFF_PAGE backup: it must be a DONE FULL record. Per §3's invariant, a
// record with status other than DONE is never a valid differential
// parent, regardless of mode.
func (r *Record) IsValidDiffParent() bool {
	return r.Mode == ModeFull && r.Status == StatusDone
}
