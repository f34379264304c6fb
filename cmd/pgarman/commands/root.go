// Package commands implements the pgarman CLI's subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/willibrandon/pgarman/config"
	"github.com/willibrandon/pgarman/internal/logging"
)

var (
	version string

	// Common flags, shared by every subcommand that touches a data
	// directory or catalog.
	flagPGData     string
	flagArclogPath string
	flagBackupPath string
	flagCheck      bool

	// Connection flags.
	flagConnDBName   string
	flagConnHost     string
	flagConnPort     string
	flagConnUser     string
	flagConnNoPwd    bool
	flagConnForcePwd bool

	flagQuiet   bool
	flagVerbose bool
)

// newRootCmd builds the command tree fresh, so Execute can be called more
// than once in the same process (every test invocation) without cobra
// complaining about a flag being registered twice on a reused FlagSet.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pgarman",
		Short: "Backup and point-in-time-recovery manager",
		Long: `pgarman takes FULL and DIFF_PAGE physical backups of a database
cluster's data directory, maintains a local catalog of backups, and
supports restore/validate/show/delete against that catalog.`,
	}

	root.PersistentFlags().StringVarP(&flagPGData, "pgdata", "D", "", "data directory")
	root.PersistentFlags().StringVarP(&flagArclogPath, "arclog-path", "A", "", "WAL archive directory")
	root.PersistentFlags().StringVarP(&flagBackupPath, "backup-path", "B", "", "catalog root directory")
	root.PersistentFlags().BoolVarP(&flagCheck, "check", "c", false, "dry run; validate options without acting")

	root.PersistentFlags().StringVarP(&flagConnDBName, "dbname", "d", "", "database name to connect to")
	root.PersistentFlags().StringVarP(&flagConnHost, "host", "h", "", "database server host")
	root.PersistentFlags().StringVarP(&flagConnPort, "port", "p", "", "database server port")
	root.PersistentFlags().StringVarP(&flagConnUser, "username", "U", "", "connect as this user")
	root.PersistentFlags().BoolVarP(&flagConnNoPwd, "no-password", "w", false, "never prompt for a password")
	root.PersistentFlags().BoolVarP(&flagConnForcePwd, "password", "W", false, "force a password prompt")

	root.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress non-error output")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		initCmd(),
		backupCmd(),
		restoreCmd(),
		showCmd(),
		validateCmd(),
		deleteCmd(),
		versionCmd(),
	)

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("pg_arman %s\n", version))

	// main prints the returned error itself, tagged with the right exit
	// code; cobra's own "Error: ..." plus usage dump would be redundant.
	root.SilenceErrors = true
	root.SilenceUsage = true

	return root
}

// Execute runs the CLI, returning the error RunE produced (already tagged
// with a *pgarman.Error Kind where applicable) for main to map to an exit
// status.
func Execute(v string) error {
	version = v
	return newRootCmd().Execute()
}

// applyLogLevel reconfigures the package-wide logger per -q/-v, called at
// the top of every RunE.
func applyLogLevel() {
	switch {
	case flagQuiet:
		logging.SetLevel(slog.LevelError)
	case flagVerbose:
		logging.SetLevel(slog.LevelDebug)
	default:
		logging.SetLevel(slog.LevelInfo)
	}
}

// loadOptions layers flags over environment over pg_arman.ini over
// defaults, the precedence §6 establishes.
func loadOptions() (*config.Options, error) {
	base := &config.Options{}

	if flagBackupPath != "" {
		if ini, err := config.LoadIni(iniPath(flagBackupPath), func(msg string) {
			logging.Log.Warn(msg)
		}); err == nil {
			base = ini
		} else {
			return nil, err
		}
	}

	envOpts := &config.Options{
		PGData:     os.Getenv("PGDATA"),
		ConnDBName: os.Getenv("PGDATABASE"),
		ConnHost:   os.Getenv("PGHOST"),
		ConnPort:   os.Getenv("PGPORT"),
		ConnUser:   os.Getenv("PGUSER"),
	}
	base = config.Merge(base, envOpts)

	flagOpts := &config.Options{
		PGData:           flagPGData,
		ArclogPath:       flagArclogPath,
		BackupPath:       flagBackupPath,
		Check:            flagCheck,
		ConnDBName:       flagConnDBName,
		ConnHost:         flagConnHost,
		ConnPort:         flagConnPort,
		ConnUser:         flagConnUser,
		ConnNoPwd:        flagConnNoPwd,
		ConnForcePwd:     flagConnForcePwd,
		Quiet:            flagQuiet,
		Verbose:          flagVerbose,
	}
	return config.Merge(base, flagOpts), nil
}

// iniPath is where pg_arman.ini lives under a catalog root.
func iniPath(backupPath string) string {
	return backupPath + string(os.PathSeparator) + "pg_arman.ini"
}

// connString assembles a libpq-style connection string from the
// connection flags/options; an empty field is simply omitted, letting
// libpq/pgx fall back to its own defaults (PGHOST, unix socket, etc.).
func connString(o *config.Options) string {
	s := ""
	add := func(key, val string) {
		if val == "" {
			return
		}
		if s != "" {
			s += " "
		}
		s += fmt.Sprintf("%s=%s", key, val)
	}
	add("dbname", o.ConnDBName)
	add("host", o.ConnHost)
	add("port", o.ConnPort)
	add("user", o.ConnUser)
	return s
}

// interruptContext returns a context cancelled on SIGINT/SIGTERM and an
// atomic flag set at the same moment, for collaborators (orchestrator,
// serverdriver) that poll the flag at loop-top rather than select on
// ctx.Done() everywhere.
func interruptContext() (context.Context, *atomic.Bool, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	var interrupted atomic.Bool

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			interrupted.Store(true)
			cancel()
		case <-done:
		}
	}()

	stop := func() {
		close(done)
		signal.Stop(sigCh)
		cancel()
	}
	return ctx, &interrupted, stop
}
