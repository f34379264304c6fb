package orchestrator

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/willibrandon/pgarman"
	"github.com/willibrandon/pgarman/catalog"
	"github.com/willibrandon/pgarman/relid"
	"github.com/willibrandon/pgarman/serverdriver"
)

// fakeDriver stands in for a real server connection in tests; each field
// is a closure the test configures, mirroring the teacher's style of
// faking one collaborator interface per test rather than a full mock
// framework.
type fakeDriver struct {
	pgData string

	startLSN relid.LSN
	stopLSN  relid.LSN
	timeline relid.Timeline
	txid     uint32
	standby  bool

	forceSwitchErr   error
	waitForArchiveFn func(ctx context.Context, position relid.LSN, timeline relid.Timeline, interrupted *atomic.Bool) error
}

func (f *fakeDriver) CheckVersion(ctx context.Context, wantVersionNum, wantBlockSize, wantWALBlockSize int) error {
	return nil
}

func (f *fakeDriver) IsStandby(ctx context.Context) (bool, error) { return f.standby, nil }

func (f *fakeDriver) CurrentTimeline(ctx context.Context) (relid.Timeline, error) {
	return f.timeline, nil
}

func (f *fakeDriver) StartBackup(ctx context.Context, label string, smoothCheckpoint bool) (relid.LSN, error) {
	if err := os.WriteFile(filepath.Join(f.pgData, "backup_label"), []byte("START WAL LOCATION: 0/0\n"), 0o644); err != nil {
		return 0, err
	}
	return f.startLSN, nil
}

func (f *fakeDriver) StopBackup(ctx context.Context) (serverdriver.StopResult, error) {
	_ = os.Remove(filepath.Join(f.pgData, "backup_label"))
	return serverdriver.StopResult{LSN: f.stopLSN, LabelFile: "label", SpcmapFile: ""}, nil
}

func (f *fakeDriver) ForceSwitch(ctx context.Context) (relid.LSN, error) {
	return f.startLSN + 1, f.forceSwitchErr
}

func (f *fakeDriver) CurrentTxid(ctx context.Context) (uint32, error) { return f.txid, nil }

func (f *fakeDriver) WaitForArchive(ctx context.Context, position relid.LSN, timeline relid.Timeline, interrupted *atomic.Bool) error {
	if f.waitForArchiveFn != nil {
		return f.waitForArchiveFn(ctx, position, timeline, interrupted)
	}
	return nil
}

// writeRelationFile writes a relation segment with one block per pageLSN.
func writeRelationFile(t *testing.T, path string, pageLSNs []uint64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	buf := make([]byte, len(pageLSNs)*relid.BlockSize)
	for i, lsn := range pageLSNs {
		// pd_lsn is PageXLogRecPtr{xlogid, xrecoff}: two little-endian u32
		// halves, hi then lo, not one little-endian u64.
		off := i * relid.BlockSize
		binary.LittleEndian.PutUint32(buf[off:], uint32(lsn>>32))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(lsn))
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
}

func setupPGData(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "postgresql.conf"), []byte("port = 5432\n"), 0o644))
	writeRelationFile(t, filepath.Join(dir, "base", "16384", "16385"), []uint64{100, 5000})
	writeRelationFile(t, filepath.Join(dir, "global", "1262"), []uint64{100})
	return dir
}

func TestRunFullBackup(t *testing.T) {
	pgData := setupPGData(t)
	arclog := t.TempDir()
	backupPath := t.TempDir()

	cat := catalog.New(backupPath)
	require.NoError(t, cat.Init())

	drv := &fakeDriver{pgData: pgData, startLSN: 1000, stopLSN: 2000, timeline: 1, txid: 42}
	o := &Orchestrator{
		cfg: Config{PGData: pgData, ArclogPath: arclog, BackupPath: backupPath, Mode: catalog.ModeFull},
		driver: drv,
		cat:    cat,
	}

	require.NoError(t, o.Run(context.Background()))

	records, err := cat.List(nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, catalog.StatusDone, records[0].Status)
	require.Equal(t, relid.LSN(1000), records[0].StartLSN)
	require.Equal(t, relid.LSN(2000), records[0].StopLSN)
	require.Equal(t, uint32(42), records[0].RecoveryXID)

	dir := cat.RecordDir(records[0])
	entries, err := catalog.ReadFileList(dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	got, err := os.ReadFile(filepath.Join(dir, "database", "base", "16384", "16385"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(pgData, "base", "16384", "16385"))
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = os.Stat(filepath.Join(pgData, "backup_label"))
	require.True(t, os.IsNotExist(err))
}

func TestRunDiffPageWithoutParentFails(t *testing.T) {
	pgData := setupPGData(t)
	arclog := t.TempDir()
	backupPath := t.TempDir()

	cat := catalog.New(backupPath)
	require.NoError(t, cat.Init())

	drv := &fakeDriver{pgData: pgData, startLSN: 1000, stopLSN: 2000, timeline: 1}
	o := &Orchestrator{
		cfg: Config{PGData: pgData, ArclogPath: arclog, BackupPath: backupPath, Mode: catalog.ModeDiffPage},
		driver: drv,
		cat:    cat,
	}

	err := o.Run(context.Background())
	require.ErrorIs(t, err, pgarman.ErrNoFullParent)

	records, err := cat.List(nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, catalog.StatusError, records[0].Status)

	// The lock must have been released on the error path.
	freshCat := catalog.New(backupPath)
	lock, lockErr := freshCat.Lock()
	require.NoError(t, lockErr)
	require.NoError(t, lock.Release())
}

func TestRunDiffPageWithParent(t *testing.T) {
	pgData := setupPGData(t)
	arclog := t.TempDir()
	backupPath := t.TempDir()

	cat := catalog.New(backupPath)
	require.NoError(t, cat.Init())

	// Seed a DONE FULL parent directly into the catalog.
	parent := &catalog.Record{
		ID:        1000,
		Mode:      catalog.ModeFull,
		Status:    catalog.StatusDone,
		Timeline:  1,
		StartLSN:  500,
		StopLSN:   900,
		StartTime: time.Unix(1000, 0).UTC(),
		EndTime:   time.Unix(1010, 0).UTC(),
	}
	_, err := cat.NewRecordDir(parent)
	require.NoError(t, err)
	require.NoError(t, cat.WriteManifest(parent))

	drv := &fakeDriver{pgData: pgData, startLSN: 500, stopLSN: 2000, timeline: 1, txid: 7}
	o := &Orchestrator{
		cfg: Config{PGData: pgData, ArclogPath: arclog, BackupPath: backupPath, Mode: catalog.ModeDiffPage},
		driver: drv,
		cat:    cat,
	}

	require.NoError(t, o.Run(context.Background()))

	records, err := cat.List(nil)
	require.NoError(t, err)
	require.Len(t, records, 2)

	var diff *catalog.Record
	for _, r := range records {
		if r.Mode == catalog.ModeDiffPage {
			diff = r
		}
	}
	require.NotNil(t, diff)
	require.Equal(t, catalog.StatusDone, diff.Status)
}

func TestRunRespectsInterruptBeforeCopy(t *testing.T) {
	pgData := setupPGData(t)
	arclog := t.TempDir()
	backupPath := t.TempDir()

	cat := catalog.New(backupPath)
	require.NoError(t, cat.Init())

	var interrupted atomic.Bool
	interrupted.Store(true)

	drv := &fakeDriver{pgData: pgData, startLSN: 1000, stopLSN: 2000, timeline: 1}
	o := &Orchestrator{
		cfg:         Config{PGData: pgData, ArclogPath: arclog, BackupPath: backupPath, Mode: catalog.ModeFull},
		driver:      drv,
		cat:         cat,
		interrupted: &interrupted,
	}

	err := o.Run(context.Background())
	require.Error(t, err)

	records, err := cat.List(nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, catalog.StatusError, records[0].Status)
}
