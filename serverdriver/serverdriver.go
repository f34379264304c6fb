// Package serverdriver speaks to the database server over its native
// client protocol to drive the backup-start/stop lifecycle and to probe
// the state the orchestrator needs before it touches anything else.
//
// The connection handling and SQL call shape (pgx.Connect, conn.QueryRow
// against pg_backup_start/pg_backup_stop/pg_switch_wal) is grounded
// directly on vbp1-pgclone's clone orchestrator. The version/setting
// probing style (current_setting, pg_is_in_recovery()) is grounded on
// lesovsky-pgscv's query set.
package serverdriver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/willibrandon/pgarman"
	"github.com/willibrandon/pgarman/pgwal"
	"github.com/willibrandon/pgarman/relid"
	"github.com/willibrandon/pgarman/resilience"
)

// Driver holds a single connection to the target server for the duration
// of one backup run, plus retry/circuit-breaker protection around every
// call it makes.
type Driver struct {
	conn       *pgx.Conn
	pgDataPath string
	res        *resilience.Manager
}

// Connect opens a connection and wraps it with the resilience manager
// used for every subsequent call on this Driver.
func Connect(ctx context.Context, connString, pgDataPath string) (*Driver, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, pgarman.NewError(pgarman.KindServer, "serverdriver.Connect", err)
	}
	return &Driver{
		conn:       conn,
		pgDataPath: pgDataPath,
		res: resilience.New(resilience.WithCircuitBreaker("server", resilience.CircuitBreakerConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		})),
	}, nil
}

// Close releases the underlying connection.
func (d *Driver) Close(ctx context.Context) error {
	return d.conn.Close(ctx)
}

func (d *Driver) query(ctx context.Context, op string, sql string, args []any, dest ...any) error {
	return d.res.ExecuteWithBreakerAndContext(ctx, "server", func() error {
		if err := d.conn.QueryRow(ctx, sql, args...).Scan(dest...); err != nil {
			return pgarman.NewError(pgarman.KindServer, op, err)
		}
		return nil
	})
}

// CheckVersion reads the server's reported numeric version and its block
// sizes, and fails if any of them disagree with what the engine was built
// against.
func (d *Driver) CheckVersion(ctx context.Context, wantVersionNum, wantBlockSize, wantWALBlockSize int) error {
	var versionNum, blockSize, walBlockSize int
	if err := d.query(ctx, "serverdriver.CheckVersion",
		`SELECT current_setting('server_version_num')::int,
		        current_setting('block_size')::int,
		        current_setting('wal_block_size')::int`,
		nil, &versionNum, &blockSize, &walBlockSize); err != nil {
		return err
	}

	if !versionsCompatible(versionNum, wantVersionNum) {
		return pgarman.NewError(pgarman.KindServer, "serverdriver.CheckVersion", pgarman.ErrVersionMismatch)
	}
	if blockSize != wantBlockSize || walBlockSize != wantWALBlockSize {
		return pgarman.NewError(pgarman.KindServer, "serverdriver.CheckVersion",
			fmt.Errorf("%w: block_size=%d wal_block_size=%d", pgarman.ErrVersionMismatch, blockSize, walBlockSize))
	}
	return nil
}

// versionsCompatible compares two numeric server_version_num values at
// major.minor granularity; patch releases are wire-compatible.
func versionsCompatible(got, want int) bool {
	return got/100 == want/100
}

// IsStandby reports whether the server is currently in recovery, in which
// case the engine must refuse to back it up.
func (d *Driver) IsStandby(ctx context.Context) (bool, error) {
	var standby bool
	if err := d.query(ctx, "serverdriver.IsStandby", `SELECT pg_is_in_recovery()`, nil, &standby); err != nil {
		return false, err
	}
	return standby, nil
}

// StartBackup invokes the server's start-backup primitive and returns the
// start log position. fast is the negation of smoothCheckpoint.
func (d *Driver) StartBackup(ctx context.Context, label string, smoothCheckpoint bool) (relid.LSN, error) {
	var lsnText string
	err := d.query(ctx, "serverdriver.StartBackup",
		`SELECT pg_backup_start($1, $2)`, []any{label, !smoothCheckpoint}, &lsnText)
	if err != nil {
		return 0, err
	}
	return relid.ParseLSN(lsnText)
}

// StopResult carries everything pg_backup_stop returns that the
// orchestrator needs to finish writing the backup label files.
type StopResult struct {
	LSN        relid.LSN
	LabelFile  string
	SpcmapFile string
}

// StopBackup invokes the server's stop-backup primitive, triggering
// archival of the partially-filled final WAL segment.
func (d *Driver) StopBackup(ctx context.Context) (StopResult, error) {
	var lsnText, label, spcmap string
	err := d.query(ctx, "serverdriver.StopBackup",
		`SELECT lsn, labelfile, spcmapfile FROM pg_backup_stop(true)`, nil, &lsnText, &label, &spcmap)
	if err != nil {
		return StopResult{}, err
	}
	lsn, err := relid.ParseLSN(lsnText)
	if err != nil {
		return StopResult{}, pgarman.NewError(pgarman.KindProtocol, "serverdriver.StopBackup", err)
	}
	return StopResult{LSN: lsn, LabelFile: label, SpcmapFile: spcmap}, nil
}

// ForceSwitch invokes the server's WAL-switch primitive and returns the
// position of the switch.
func (d *Driver) ForceSwitch(ctx context.Context) (relid.LSN, error) {
	var lsnText string
	if err := d.query(ctx, "serverdriver.ForceSwitch", `SELECT pg_switch_wal()`, nil, &lsnText); err != nil {
		return 0, err
	}
	return relid.ParseLSN(lsnText)
}

// CurrentTxid returns the low 32 bits of the server's current transaction
// id, used as the recovery-target XID.
func (d *Driver) CurrentTxid(ctx context.Context) (uint32, error) {
	var txid int64
	if err := d.query(ctx, "serverdriver.CurrentTxid", `SELECT txid_current()`, nil, &txid); err != nil {
		return 0, err
	}
	return txidLow32(txid), nil
}

func txidLow32(txid int64) uint32 {
	return uint32(txid & 0xFFFFFFFF)
}

// CurrentTimeline returns the server's current timeline id, read from the
// control-file checkpoint view the same way pg_is_in_recovery's neighbor
// functions expose server-internal state over SQL.
func (d *Driver) CurrentTimeline(ctx context.Context) (relid.Timeline, error) {
	var tl int64
	if err := d.query(ctx, "serverdriver.CurrentTimeline",
		`SELECT timeline_id FROM pg_control_checkpoint()`, nil, &tl); err != nil {
		return 0, err
	}
	return relid.Timeline(tl), nil
}

const (
	archiveTimeout  = 10 * time.Second
	archivePollRate = 1 * time.Second
)

// WaitForArchive computes the WAL segment file name for position and polls
// the server's archive-status directory for the disappearance of its
// .ready marker, meaning the archiver has finished copying it out. This is
// the one serverdriver call that reaches the data directory on disk
// instead of issuing SQL, because the server has no SQL-level equivalent
// of "has this exact segment finished archiving".
func (d *Driver) WaitForArchive(ctx context.Context, position relid.LSN, timeline relid.Timeline, interrupted *atomic.Bool) error {
	segment := relid.WALFileName(timeline, position, pgwal.DefaultSegmentSize)
	readyFile := filepath.Join(d.pgDataPath, "pg_wal", "archive_status", segment+".ready")

	deadline := time.Now().Add(archiveTimeout)
	for {
		if interrupted != nil && interrupted.Load() {
			return pgarman.NewError(pgarman.KindInterrupt, "serverdriver.WaitForArchive", pgarman.ErrInterrupted)
		}
		if _, err := os.Stat(readyFile); os.IsNotExist(err) {
			return nil
		} else if err != nil {
			return pgarman.NewError(pgarman.KindEnvironment, "serverdriver.WaitForArchive", err)
		}
		if time.Now().After(deadline) {
			return pgarman.NewError(pgarman.KindTimeout, "serverdriver.WaitForArchive", pgarman.ErrArchiveTimeout)
		}
		select {
		case <-ctx.Done():
			return pgarman.NewError(pgarman.KindInterrupt, "serverdriver.WaitForArchive", ctx.Err())
		case <-time.After(archivePollRate):
		}
	}
}
