// Package scanner recursively lists a data directory and tags each entry
// as a relation data file, a verbatim file, a directory, or a symlink, the
// way the copier and catalog need to treat it.
//
// The base/<db>/<filenode>, global/, and pg_tblspc/ conventions and the
// "basename starts with a digit means relation file" rule are grounded on
// Chocapikk-pgdump-offline's pgdump/pgdump.go. The recursive-walk-with-
// exclusion-list shape follows vbp1-pgclone's excludes slice in its
// backup-start step.
package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Kind classifies one entry found under the data directory root.
type Kind int

const (
	// KindFile is a verbatim file: configuration, WAL, or anything else
	// that isn't recognized as relation storage.
	KindFile Kind = iota
	// KindRelation is a regular file under base/, global/ or pg_tblspc/
	// whose basename begins with a decimal digit.
	KindRelation
	// KindDirectory is a directory entry, emitted so the restore side can
	// recreate the tree before copying files into it.
	KindDirectory
	// KindSymlink is a symbolic link, most commonly a tablespace pointer
	// under pg_tblspc/.
	KindSymlink
)

// Entry describes one path found while walking the data directory.
type Entry struct {
	// Path is relative to the data directory root, using forward slashes.
	Path string
	Kind Kind
	// LinkTarget is set only for KindSymlink entries.
	LinkTarget string
	Size       int64
	Mode       os.FileMode
	ModTime    int64
}

// excludedTopLevel names runtime-only entries directly under the data
// directory root that must never be part of a backup. This list is a
// property of the server version the engine targets and is fixed at
// build time, not discovered at runtime.
var excludedTopLevel = map[string]bool{
	"pg_wal":                   true,
	"pg_xlog":                  true,
	"pg_replslot":              true,
	"pg_stat_tmp":              true,
	"pg_subtrans":              true,
	"pg_notify":                true,
	"pg_serial":                true,
	"pg_snapshots":             true,
	"pg_dynshmem":              true,
	"postmaster.pid":           true,
	"postmaster.opts":          true,
	"postgresql.auto.conf.tmp": true,
}

// relationRoots are the top-level directories whose regular files may be
// relation data files.
var relationRoots = map[string]bool{
	"base":      true,
	"global":    true,
	"pg_tblspc": true,
}

// Scan walks root and returns one Entry per file, directory and symlink
// found, sorted by path. Excluded top-level entries are skipped entirely;
// everything else is walked recursively.
func Scan(root string) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if top := strings.SplitN(rel, "/", 2)[0]; excludedTopLevel[top] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		entry := Entry{
			Path:    rel,
			Mode:    info.Mode(),
			ModTime: info.ModTime().Unix(),
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			entry.Kind = KindSymlink
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			entry.LinkTarget = target
		case d.IsDir():
			entry.Kind = KindDirectory
		default:
			entry.Size = info.Size()
			if isRelationFile(rel) {
				entry.Kind = KindRelation
			} else {
				entry.Kind = KindFile
			}
		}

		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// isRelationFile reports whether rel names a relation data file: a regular
// file under base/, global/ or pg_tblspc/ whose basename starts with a
// decimal digit.
func isRelationFile(rel string) bool {
	top := strings.SplitN(rel, "/", 2)[0]
	if !relationRoots[top] {
		return false
	}
	base := filepath.Base(rel)
	return len(base) > 0 && base[0] >= '0' && base[0] <= '9'
}
