// Package orchestrator sequences a single backup invocation: C5 (server
// protocol driver) → C1 (directory scanner) → C2 (WAL reader) → C3 (page
// map) → C4 (data-file copier) → C6 (catalog), per §4.7.
//
// The "stateful struct, one step-method per spec step, deferred cleanup"
// shape is grounded on other_examples/0b5815a3_vbp1-pgclone's
// Orchestrator.Run (stepWalAndRsyncd → stepBackupStart → stepBackupStop →
// stepWalFinalize → stepFinalChecks, each a method stashing connections
// and LSNs on the receiver, a single deferred Close). The fail-closed
// construction and tolerant, idempotent shutdown is fused in from the
// teacher's sink.go (New builds sub-components and fails on the first
// that doesn't come up cleanly; Close/handleCriticalFailure is safe to
// call more than once and tolerates partial state).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/willibrandon/pgarman"
	"github.com/willibrandon/pgarman/catalog"
	"github.com/willibrandon/pgarman/copier"
	"github.com/willibrandon/pgarman/internal/logging"
	"github.com/willibrandon/pgarman/monitoring"
	"github.com/willibrandon/pgarman/pgwal"
	"github.com/willibrandon/pgarman/relid"
	"github.com/willibrandon/pgarman/scanner"
	"github.com/willibrandon/pgarman/serverdriver"
)

// ServerVersionNum, BlockSize and WALBlockSize are the values pgarman was
// built against; CheckVersion refuses to run against a server that
// disagrees with any of them.
const (
	ServerVersionNum = 170000
	BlockSize        = relid.BlockSize
	WALBlockSize     = 8192
)

// Config carries everything one backup invocation needs that doesn't come
// from the catalog or the server itself.
type Config struct {
	PGData              string
	ArclogPath          string
	BackupPath          string
	Mode                catalog.Mode
	SmoothCheckpoint    bool
	KeepDataGenerations int
	KeepDataDays        int
}

// driver is the subset of *serverdriver.Driver the orchestrator calls,
// narrowed to an interface so tests can supply a fake instead of a real
// server connection.
type driver interface {
	CheckVersion(ctx context.Context, wantVersionNum, wantBlockSize, wantWALBlockSize int) error
	IsStandby(ctx context.Context) (bool, error)
	CurrentTimeline(ctx context.Context) (relid.Timeline, error)
	StartBackup(ctx context.Context, label string, smoothCheckpoint bool) (relid.LSN, error)
	StopBackup(ctx context.Context) (serverdriver.StopResult, error)
	ForceSwitch(ctx context.Context) (relid.LSN, error)
	CurrentTxid(ctx context.Context) (uint32, error)
	WaitForArchive(ctx context.Context, position relid.LSN, timeline relid.Timeline, interrupted *atomic.Bool) error
}

// Orchestrator owns the single "current" backup record for the duration
// of one Run call.
type Orchestrator struct {
	cfg         Config
	driver      driver
	cat         *catalog.Catalog
	interrupted *atomic.Bool

	mon          *monitoring.Monitor
	lock         *catalog.Lock
	record       *catalog.Record
	labelPresent bool
}

// New constructs an Orchestrator. interrupted is shared with the signal
// handler that owns it; a nil value means the run is never interruptible
// (used by tests).
func New(cfg Config, drv *serverdriver.Driver, cat *catalog.Catalog, interrupted *atomic.Bool) *Orchestrator {
	return &Orchestrator{cfg: cfg, driver: drv, cat: cat, interrupted: interrupted}
}

func (o *Orchestrator) checkInterrupted() error {
	if o.interrupted != nil && o.interrupted.Load() {
		return pgarman.NewError(pgarman.KindInterrupt, "orchestrator.Run", pgarman.ErrInterrupted)
	}
	return nil
}

// Run executes the full 14-step sequence described in §4.7. The directory
// scan (step 11) is performed before the WAL pass (step 10) rather than
// after it: the WAL reader's BlockSink needs the "path → file-entry"
// index Design Notes describes, and that index can only be built from an
// actual scan. This does not violate any of §5's ordering guarantees —
// start-backup still precedes the scan, and the WAL-switch/archive-wait
// still precede the WAL reader — it only reorders two steps that have no
// ordering constraint between each other.
func (o *Orchestrator) Run(ctx context.Context) error {
	log := logging.Component("orchestrator")

	// Step 1: validate required inputs.
	if o.cfg.PGData == "" || o.cfg.BackupPath == "" || o.cfg.ArclogPath == "" {
		return pgarman.NewError(pgarman.KindUsage, "orchestrator.Run",
			errors.New("pgdata, backup-path and arclog-path are all required"))
	}

	g := &guard{o: o}
	defer g.run()

	// Step 2: acquire catalog lock.
	lock, err := o.cat.Lock()
	if err != nil {
		if kerr, ok := asKind(err); ok && kerr.Kind == pgarman.KindContention {
			monitoring.RecordLockContention()
		}
		return err
	}
	o.lock = lock
	g.arm()

	// Step 3: initialize the current record.
	now := time.Now()
	record := &catalog.Record{
		ID:           now.Unix(),
		Mode:         o.cfg.Mode,
		Status:       catalog.StatusRunning,
		BlockSize:    BlockSize,
		WALBlockSize: WALBlockSize,
		StartTime:    now,
	}
	o.record = record
	o.mon = monitoring.New(record.Mode.String())

	// Step 4: create the record directory; write initial manifest.
	if _, err := o.cat.NewRecordDir(record); err != nil {
		return err
	}
	if err := o.cat.WriteManifest(record); err != nil {
		return err
	}

	// Step 5: the crash-cleanup handler is the guard armed above.

	// Step 6: check server version; assert not standby.
	if err := o.driver.CheckVersion(ctx, ServerVersionNum, BlockSize, WALBlockSize); err != nil {
		return err
	}
	standby, err := o.driver.IsStandby(ctx)
	if err != nil {
		return err
	}
	if standby {
		return pgarman.NewError(pgarman.KindServer, "orchestrator.Run", pgarman.ErrStandby)
	}
	timeline, err := o.driver.CurrentTimeline(ctx)
	if err != nil {
		return err
	}
	record.Timeline = timeline

	// Step 7: if DIFF_PAGE, locate a DONE FULL parent on this timeline.
	var parent *catalog.Record
	if record.Mode == catalog.ModeDiffPage {
		records, err := o.cat.List(&timeline)
		if err != nil {
			return err
		}
		p, ok := catalog.LastDataBackup(records, timeline)
		if !ok {
			return pgarman.NewError(pgarman.KindServer, "orchestrator.Run", pgarman.ErrNoFullParent)
		}
		parent = p
	}

	// Step 8: startBackup.
	label := fmt.Sprintf("pgarman backup %s", now.UTC().Format(time.RFC3339))
	startLSN, err := o.driver.StartBackup(ctx, label, o.cfg.SmoothCheckpoint)
	if err != nil {
		return err
	}
	record.StartLSN = startLSN

	// Step 9: verify a backup-label file now exists.
	if _, err := os.Stat(filepath.Join(o.cfg.PGData, "backup_label")); err != nil {
		stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_, _ = o.driver.StopBackup(stopCtx)
		cancel()
		return pgarman.NewError(pgarman.KindServer, "orchestrator.Run",
			fmt.Errorf("backup_label not created by server: %w", err))
	}
	o.labelPresent = true

	// Step 11 (scan) ahead of step 10 (WAL pass) for the reason in the
	// doc comment above.
	if err := o.checkInterrupted(); err != nil {
		return err
	}
	entries, err := scanner.Scan(o.cfg.PGData)
	if err != nil {
		return pgarman.NewError(pgarman.KindEnvironment, "orchestrator.Run", err)
	}

	var sink *blockSink
	if record.Mode == catalog.ModeDiffPage {
		sink = newBlockSink(entries)

		// Step 10: force WAL switch, wait for archival, run WAL reader.
		switchLSN, err := o.driver.ForceSwitch(ctx)
		if err != nil {
			return err
		}
		if err := o.driver.WaitForArchive(ctx, switchLSN, timeline, o.interrupted); err != nil {
			return err
		}
		if err := o.checkInterrupted(); err != nil {
			return err
		}

		reader := &pgwal.Reader{
			ArchivePath: o.cfg.ArclogPath,
			Timeline:    timeline,
			FromLSN:     parent.StartLSN,
			ToLSN:       record.StartLSN,
		}
		if err := reader.Run(func(spc, db, relfilenode uint32, fork uint8, blockno uint32) {
			o.mon.RecordWALRecordScanned()
			sink.Add(spc, db, relfilenode, fork, blockno)
		}); err != nil {
			var corrupt *pgwal.CorruptionError
			if errors.As(err, &corrupt) {
				monitoring.RecordWALCorruption()
				return pgarman.NewError(pgarman.KindCorruption, "orchestrator.Run", err)
			}
			var missing *pgwal.MissingSegmentError
			if errors.As(err, &missing) {
				return pgarman.NewError(pgarman.KindEnvironment, "orchestrator.Run", err)
			}
			return pgarman.NewError(pgarman.KindInternal, "orchestrator.Run", err)
		}
	}

	// Step 11 (continued): iterate entries for copy.
	dirPaths, fileEntries, err := o.copyEntries(ctx, record, parent, entries, sink)
	if err != nil {
		return err
	}

	// Step 12: stopBackup; record stop LSN, recovery XID, recovery time.
	stop, err := o.driver.StopBackup(ctx)
	if err != nil {
		return err
	}
	o.labelPresent = false
	record.StopLSN = stop.LSN
	recoveryXID, err := o.driver.CurrentTxid(ctx)
	if err != nil {
		return err
	}
	record.RecoveryXID = recoveryXID
	record.RecoveryTime = time.Now()

	// Step 13: write file manifest; mark DONE; write final manifest.
	recordDir := o.cat.RecordDir(record)
	if err := catalog.WriteMkdirs(recordDir, dirPaths); err != nil {
		return pgarman.NewError(pgarman.KindEnvironment, "orchestrator.Run", err)
	}
	if err := catalog.WriteFileList(recordDir, fileEntries); err != nil {
		return pgarman.NewError(pgarman.KindEnvironment, "orchestrator.Run", err)
	}
	record.EndTime = time.Now()
	record.Status = catalog.StatusDone
	if err := o.cat.WriteManifest(record); err != nil {
		return err
	}
	o.mon.Finish("done")

	// Step 14: apply retention policy; release lock.
	countDeleted := func() int {
		records, _ := o.cat.List(nil)
		n := 0
		for _, r := range records {
			if r.Status == catalog.StatusDeleted {
				n++
			}
		}
		return n
	}
	deletedBefore := countDeleted()
	if err := o.cat.Delete(o.cfg.KeepDataGenerations, o.cfg.KeepDataDays); err != nil {
		return err
	}
	for i := deletedBefore; i < countDeleted(); i++ {
		monitoring.RecordRetentionDeletion()
	}

	stats := o.mon.GetStats()
	log.Info("backup complete",
		"mode", record.Mode.String(),
		"files_copied", stats.FilesCopied,
		"files_skipped", stats.FilesSkipped,
		"bytes_written", stats.BytesWritten,
		"duration", stats.Duration)

	g.disarm()
	if err := o.lock.Release(); err != nil {
		return pgarman.NewError(pgarman.KindEnvironment, "orchestrator.Run", err)
	}
	o.lock = nil
	return nil
}

// copyEntries iterates the scanned entries, copying each one (verbatim or
// delta, per mode) and collecting the directory list and file-list rows
// the manifest needs. Directories are recorded for mkdirs.sh; symlinks are
// recorded in the file list with no content copy, since the restore side
// only needs to recreate them, not read their bytes.
func (o *Orchestrator) copyEntries(ctx context.Context, record *catalog.Record, parent *catalog.Record, entries []scanner.Entry, sink *blockSink) ([]string, []catalog.FileEntry, error) {
	destRoot := filepath.Join(o.cat.RecordDir(record), "database")

	var dirPaths []string
	var fileEntries []catalog.FileEntry

	for _, e := range entries {
		if err := o.checkInterrupted(); err != nil {
			return nil, nil, err
		}

		if e.Kind == scanner.KindDirectory {
			dirPaths = append(dirPaths, e.Path)
			continue
		}

		dst := filepath.Join(destRoot, e.Path)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, nil, pgarman.NewError(pgarman.KindEnvironment, "orchestrator.copyEntries", err)
		}

		if e.Kind == scanner.KindSymlink {
			fileEntries = append(fileEntries, catalog.FileEntry{
				Path:    e.Path,
				Mode:    e.Mode,
				ModTime: e.ModTime,
			})
			continue
		}

		src := filepath.Join(o.cfg.PGData, e.Path)
		isDatafile := e.Kind == scanner.KindRelation

		var result copier.Result
		var err error
		if isDatafile && record.Mode == catalog.ModeDiffPage {
			result, err = copier.CopyDelta(src, dst, parent.StartLSN, sink.pm, e.Path)
			for i := 0; i < result.BlocksEmitted; i++ {
				o.mon.RecordBlock(true)
			}
			for i := 0; i < result.BlocksUnchanged; i++ {
				o.mon.RecordBlock(false)
			}
		} else {
			result, err = copier.CopyVerbatim(src, dst)
		}
		if err != nil {
			return nil, nil, pgarman.NewError(pgarman.KindEnvironment, "orchestrator.copyEntries", err)
		}

		o.mon.RecordFileCopied(result.Skipped)
		if !result.Skipped {
			o.mon.RecordBytesWritten(result.WriteSize)
			record.DataBytesRead += result.Size
			record.DataBytesWritten += result.WriteSize
		}

		writeSize := result.WriteSize
		fileEntries = append(fileEntries, catalog.FileEntry{
			Path:       e.Path,
			Mode:       e.Mode,
			Size:       result.Size,
			ModTime:    e.ModTime,
			CRC:        result.CRC,
			WriteSize:  &writeSize,
			IsDatafile: isDatafile,
		})
	}

	return dirPaths, fileEntries, nil
}

func asKind(err error) (*pgarman.Error, bool) {
	var kerr *pgarman.Error
	if errors.As(err, &kerr) {
		return kerr, true
	}
	return nil, false
}
