package copier

import (
	"time"

	"github.com/willibrandon/pgarman"
)

// awaitSafeMtime blocks until the wall clock has moved past mtime's
// second, so a file written in the same wall-clock second as the copy is
// guaranteed to show a strictly later mtime on its next write. Returns
// ErrClockRewind if the wall clock is observed to be behind mtime, which
// can only mean the system clock moved backwards.
func awaitSafeMtime(mtime time.Time) error {
	now := time.Now()
	if now.Before(mtime) {
		return pgarman.ErrClockRewind
	}
	for now.Unix() == mtime.Unix() {
		time.Sleep(10 * time.Millisecond)
		now = time.Now()
	}
	return nil
}
