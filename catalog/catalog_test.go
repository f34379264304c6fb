package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/willibrandon/pgarman"
	"github.com/willibrandon/pgarman/relid"
)

func newTestRecord(start time.Time, mode Mode, status Status, timeline relid.Timeline) *Record {
	return &Record{
		ID:           start.Unix(),
		Mode:         mode,
		Status:       status,
		Timeline:     timeline,
		StartLSN:     relid.LSN(0x16000028),
		StopLSN:      relid.LSN(0x160000F0),
		BlockSize:    8192,
		WALBlockSize: 8192,
		StartTime:    start,
		EndTime:      start.Add(time.Minute),
	}
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := newTestRecord(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), ModeDiffPage, StatusDone, 1)
	want.RecoveryXID = 4242
	want.RecoveryTime = want.StartTime.Add(30 * time.Second)
	want.DataBytesRead = 1 << 20
	want.DataBytesWritten = 1 << 18

	require.NoError(t, writeIni(dir, want))

	got, err := readIni(dir)
	require.NoError(t, err)
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.Mode, got.Mode)
	require.Equal(t, want.Status, got.Status)
	require.Equal(t, want.Timeline, got.Timeline)
	require.Equal(t, want.StartLSN, got.StartLSN)
	require.Equal(t, want.StopLSN, got.StopLSN)
	require.Equal(t, want.RecoveryXID, got.RecoveryXID)
	require.True(t, want.RecoveryTime.Equal(got.RecoveryTime))
	require.Equal(t, want.DataBytesRead, got.DataBytesRead)
	require.Equal(t, want.DataBytesWritten, got.DataBytesWritten)
	require.True(t, want.StartTime.Equal(got.StartTime))
	require.True(t, want.EndTime.Equal(got.EndTime))
}

func TestFileListRoundTrip(t *testing.T) {
	dir := t.TempDir()
	skipped := int64(-1)
	written := int64(8192)
	entries := []FileEntry{
		{Path: "base/16384/16385", Mode: 0o600, Size: 8192, ModTime: 1700000000, CRC: 0xdeadbeef, WriteSize: &written, IsDatafile: true},
		{Path: "postgresql.conf", Mode: 0o644, Size: 120, ModTime: 1700000001, CRC: 0x1, WriteSize: &written, IsDatafile: false},
		{Path: "base/16384/16386", Mode: 0o600, Size: 0, ModTime: 1700000002, IsDatafile: true, WriteSize: &skipped},
	}

	require.NoError(t, WriteFileList(dir, entries))
	got, err := ReadFileList(dir)
	require.NoError(t, err)
	require.Len(t, got, len(entries))
	for i := range entries {
		require.Equal(t, entries[i].Path, got[i].Path)
		require.Equal(t, entries[i].Mode, got[i].Mode)
		require.Equal(t, entries[i].Size, got[i].Size)
		require.Equal(t, entries[i].ModTime, got[i].ModTime)
		require.Equal(t, entries[i].CRC, got[i].CRC)
		require.Equal(t, entries[i].IsDatafile, got[i].IsDatafile)
		require.NotNil(t, got[i].WriteSize)
		require.Equal(t, *entries[i].WriteSize, *got[i].WriteSize)
	}
}

func TestLockExclusion(t *testing.T) {
	root := t.TempDir()
	c := New(root)
	require.NoError(t, c.Init())

	lock, err := c.Lock()
	require.NoError(t, err)

	_, err = c.Lock()
	require.Error(t, err)
	require.True(t, errors.Is(err, pgarman.ErrLockContention))

	require.NoError(t, lock.Release())

	lock2, err := c.Lock()
	require.NoError(t, err)
	require.NoError(t, lock2.Release())
}

func TestListRewritesRunningToError(t *testing.T) {
	root := t.TempDir()
	c := New(root)
	require.NoError(t, c.Init())

	r := newTestRecord(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), ModeFull, StatusRunning, 1)
	dir, err := c.NewRecordDir(r)
	require.NoError(t, err)
	require.NoError(t, writeIni(dir, r))

	records, err := c.List(nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, StatusError, records[0].Status)

	reread, err := readIni(dir)
	require.NoError(t, err)
	require.Equal(t, StatusError, reread.Status)
}

func TestLastDataBackupPrefersDoneFull(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []*Record{
		newTestRecord(base.Add(3*time.Hour), ModeDiffPage, StatusDone, 1),
		newTestRecord(base.Add(2*time.Hour), ModeFull, StatusError, 1),
		newTestRecord(base.Add(1*time.Hour), ModeFull, StatusDone, 1),
		newTestRecord(base, ModeFull, StatusDone, 2),
	}
	sortByStartTimeDesc(records)

	parent, ok := LastDataBackup(records, 1)
	require.True(t, ok)
	require.Equal(t, base.Add(1*time.Hour).Unix(), parent.ID)

	_, ok = LastDataBackup(records, 99)
	require.False(t, ok)
}

func TestDeleteRetentionKeepsChainedDiff(t *testing.T) {
	root := t.TempDir()
	c := New(root)
	require.NoError(t, c.Init())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(offset time.Duration, mode Mode, status Status) *Record {
		r := newTestRecord(base.Add(offset), mode, status, 1)
		dir, err := c.NewRecordDir(r)
		require.NoError(t, err)
		require.NoError(t, writeIni(dir, r))
		return r
	}

	oldFull := mk(0, ModeFull, StatusDone)
	_ = mk(1*time.Hour, ModeDiffPage, StatusDone)
	newFull := mk(2*time.Hour, ModeFull, StatusDone)
	newDiff := mk(3*time.Hour, ModeDiffPage, StatusDone)

	require.NoError(t, c.Delete(1, 0))

	records, err := c.List(nil)
	require.NoError(t, err)
	byID := make(map[int64]*Record)
	for _, r := range records {
		byID[r.ID] = r
	}

	require.Equal(t, StatusDeleted, byID[oldFull.ID].Status)
	require.Equal(t, StatusDone, byID[newFull.ID].Status)
	require.Equal(t, StatusDone, byID[newDiff.ID].Status)
}
