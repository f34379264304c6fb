package catalog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/willibrandon/pgarman/relid"
)

// ManifestName is the per-backup manifest file, key=value, one line per
// field.
const ManifestName = "backup.ini"

// iniTimeFormat is used for both start_time/end_time and recovery_time.
// RFC3339 keeps the manifest human-readable and round-trips exactly.
const iniTimeFormat = time.RFC3339

// toIni renders r as the ordered key=value lines written to backup.ini.
func toIni(r *Record) []string {
	lines := []string{
		"id=" + strconv.FormatInt(r.ID, 10),
		"mode=" + r.Mode.String(),
		"status=" + r.Status.String(),
		"timeline=" + strconv.FormatUint(uint64(r.Timeline), 10),
		"start_lsn=" + r.StartLSN.String(),
		"stop_lsn=" + r.StopLSN.String(),
		"recovery_xid=" + strconv.FormatUint(uint64(r.RecoveryXID), 10),
		"recovery_time=" + formatTime(r.RecoveryTime),
		"block_size=" + strconv.Itoa(r.BlockSize),
		"wal_block_size=" + strconv.Itoa(r.WALBlockSize),
		"data_bytes_read=" + strconv.FormatInt(r.DataBytesRead, 10),
		"data_bytes_written=" + strconv.FormatInt(r.DataBytesWritten, 10),
		"start_time=" + formatTime(r.StartTime),
		"end_time=" + formatTime(r.EndTime),
	}
	return lines
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(iniTimeFormat)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(iniTimeFormat, s)
}

// parseIni decodes backup.ini's key=value body into a Record.
func parseIni(data []byte) (*Record, error) {
	r := &Record{}
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			continue
		}
		key, val := line[:idx], line[idx+1:]

		var err error
		switch key {
		case "id":
			r.ID, err = strconv.ParseInt(val, 10, 64)
		case "mode":
			mode, ok := ParseMode(val)
			if !ok {
				err = fmt.Errorf("unknown mode %q", val)
			}
			r.Mode = mode
		case "status":
			status, ok := ParseStatus(val)
			if !ok {
				err = fmt.Errorf("unknown status %q", val)
			}
			r.Status = status
		case "timeline":
			var tl uint64
			tl, err = strconv.ParseUint(val, 10, 32)
			r.Timeline = relid.Timeline(tl)
		case "start_lsn":
			r.StartLSN, err = relid.ParseLSN(val)
		case "stop_lsn":
			r.StopLSN, err = relid.ParseLSN(val)
		case "recovery_xid":
			var xid uint64
			xid, err = strconv.ParseUint(val, 10, 32)
			r.RecoveryXID = uint32(xid)
		case "recovery_time":
			r.RecoveryTime, err = parseTime(val)
		case "block_size":
			r.BlockSize, err = strconv.Atoi(val)
		case "wal_block_size":
			r.WALBlockSize, err = strconv.Atoi(val)
		case "data_bytes_read":
			r.DataBytesRead, err = strconv.ParseInt(val, 10, 64)
		case "data_bytes_written":
			r.DataBytesWritten, err = strconv.ParseInt(val, 10, 64)
		case "start_time":
			r.StartTime, err = parseTime(val)
		case "end_time":
			r.EndTime, err = parseTime(val)
		}
		if err != nil {
			return nil, fmt.Errorf("catalog: parsing %q: %w", key, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

// readIni loads and decodes one backup's manifest.
func readIni(dir string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	return parseIni(data)
}

// writeIni performs the read-modify-rename manifest write described in
// §4.1: write to a sibling temp file, fsync, then rename over the target,
// so a concurrent reader observes either the complete old manifest or the
// complete new one, never a torn write.
func writeIni(dir string, r *Record) error {
	target := filepath.Join(dir, ManifestName)
	tmp := target + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	for _, line := range toIni(r) {
		if _, err := fmt.Fprintln(f, line); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// sortByStartTimeDesc orders records most-recent-first, the order List
// returns them in.
func sortByStartTimeDesc(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartTime.After(records[j].StartTime)
	})
}
