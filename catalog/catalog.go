package catalog

import (
	"os"
	"path/filepath"
	"time"

	"github.com/willibrandon/pgarman"
	"github.com/willibrandon/pgarman/relid"
)

// BackupDirName is the subdirectory under the catalog root holding one
// directory per backup record.
const BackupDirName = "backup"

// Catalog roots every operation at a backup path: the lock file, the
// per-backup subdirectories, and (outside this package's remit) the
// pg_arman.ini defaults file.
type Catalog struct {
	root string
}

// New returns a Catalog rooted at path. The path itself must already
// exist; Init creates backup/ beneath it.
func New(root string) *Catalog {
	return &Catalog{root: root}
}

// Root returns the catalog's backup path.
func (c *Catalog) Root() string { return c.root }

// Init ensures the catalog's backup subdirectory exists, for the `init`
// command.
func (c *Catalog) Init() error {
	return os.MkdirAll(filepath.Join(c.root, BackupDirName), 0o755)
}

// NewRecordDir creates the directory for a new record (named by its
// start time) and returns its path, failing if one already exists for
// that second.
func (c *Catalog) NewRecordDir(r *Record) (string, error) {
	dir := filepath.Join(c.root, BackupDirName, r.DirName())
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", pgarman.NewError(pgarman.KindEnvironment, "catalog.NewRecordDir", err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", pgarman.NewError(pgarman.KindEnvironment, "catalog.NewRecordDir", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "database"), 0o755); err != nil {
		return "", pgarman.NewError(pgarman.KindEnvironment, "catalog.NewRecordDir", err)
	}
	return dir, nil
}

// RecordDir returns the on-disk directory for a record already named by
// its start time, without creating anything.
func (c *Catalog) RecordDir(r *Record) string {
	return filepath.Join(c.root, BackupDirName, r.DirName())
}

// WriteManifest performs the read-modify-rename manifest write for r, at
// the directory r.DirName() resolves to under this catalog.
func (c *Catalog) WriteManifest(r *Record) error {
	return writeIni(c.RecordDir(r), r)
}

// List returns every record in the catalog, most recent start time
// first. If timelineFilter is non-nil, only records on that timeline are
// returned. A record whose manifest still reads RUNNING is rewritten to
// ERROR in memory and on disk before being returned — per §7, any record
// found RUNNING after process death has no live lock holder and cannot
// be trusted.
func (c *Catalog) List(timelineFilter *relid.Timeline) ([]*Record, error) {
	backupRoot := filepath.Join(c.root, BackupDirName)
	dirEntries, err := os.ReadDir(backupRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, pgarman.NewError(pgarman.KindEnvironment, "catalog.List", err)
	}

	var records []*Record
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		dir := filepath.Join(backupRoot, de.Name())
		r, err := readIni(dir)
		if err != nil {
			continue // not a backup directory (e.g. stray file); skip it
		}
		if r.Status == StatusRunning {
			r.Status = StatusError
			r.EndTime = time.Now()
			_ = writeIni(dir, r) // best-effort; List must still report it
		}
		if timelineFilter != nil && r.Timeline != *timelineFilter {
			continue
		}
		records = append(records, r)
	}

	sortByStartTimeDesc(records)
	return records, nil
}

// LastDataBackup returns the most recent DONE FULL record on timeline,
// used to find the parent of a DIFF_PAGE backup.
func LastDataBackup(records []*Record, timeline relid.Timeline) (*Record, bool) {
	for _, r := range records {
		if r.Timeline == timeline && r.IsValidDiffParent() {
			return r, true
		}
	}
	return nil, false
}

// Delete marks backups eligible for retention as DELETED, following two
// independent policies joined by "keep if either retains" (§4.1):
//
//   - keep the keepGenerations most recent FULL backups (and every
//     DIFF_PAGE backup chained to a kept FULL);
//   - keep every backup less than keepDays old.
//
// A FULL backup is retained if either policy retains it; a DIFF_PAGE
// backup is retained if its parent FULL is retained (it cannot be
// restored without it). No file is deleted here — only the manifest's
// status is updated; physical sweep of DELETED directories is a separate
// call.
func (c *Catalog) Delete(keepGenerations int, keepDays int) error {
	// Both policies at their zero default mean retention is disabled
	// (real pg_arman treats keep-data-generations=0/keep-data-days=0 as
	// "unlimited"), not "keep nothing" — without this guard every
	// record, including the one a run just finished, would be marked
	// DELETED.
	if keepGenerations <= 0 && keepDays <= 0 {
		return nil
	}

	records, err := c.List(nil)
	if err != nil {
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -keepDays)
	retainByTimeline := make(map[relid.Timeline]int)

	keepFull := make(map[int64]bool)
	for _, r := range records {
		if r.Mode != ModeFull || r.Status != StatusDone {
			continue
		}
		retain := false
		if keepGenerations > 0 && retainByTimeline[r.Timeline] < keepGenerations {
			retain = true
		}
		if keepDays > 0 && r.StartTime.After(cutoff) {
			retain = true
		}
		if retain {
			retainByTimeline[r.Timeline]++
			keepFull[r.ID] = true
		}
	}

	parentOf := func(diff *Record) (*Record, bool) {
		var best *Record
		for _, r := range records {
			if r.Timeline != diff.Timeline || !r.IsValidDiffParent() {
				continue
			}
			if r.StartTime.After(diff.StartTime) {
				continue
			}
			if best == nil || r.StartTime.After(best.StartTime) {
				best = r
			}
		}
		return best, best != nil
	}

	for _, r := range records {
		if r.Status == StatusDeleted {
			continue
		}
		var retain bool
		switch r.Mode {
		case ModeFull:
			retain = keepFull[r.ID]
		case ModeDiffPage:
			if parent, ok := parentOf(r); ok {
				retain = keepFull[parent.ID]
			}
		}
		if retain {
			continue
		}
		r.Status = StatusDeleted
		if err := c.WriteManifest(r); err != nil {
			return pgarman.NewError(pgarman.KindEnvironment, "catalog.Delete", err)
		}
	}
	return nil
}
