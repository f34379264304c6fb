package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// run executes the CLI fresh (newRootCmd builds a new command tree and a
// new FlagSet every call) and returns its stdout, its stderr and the error
// Execute returned.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// S1: `backup` with no -B fails with the BACKUP_PATH usage diagnostic.
func TestCLINoBackupPath(t *testing.T) {
	_, _, err := run(t, "backup")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required parameter not specified: BACKUP_PATH (-B, --backup-path)")
}

// S2: `backup -B ... ` with no -b fails with the BACKUP_MODE usage
// diagnostic.
func TestCLINoBackupMode(t *testing.T) {
	dir := t.TempDir()
	_, _, err := run(t, "backup", "-B", dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Required parameter not specified: BACKUP_MODE (-b, --backup-mode)")
}

// S3: `backup -B ... -b bad` fails with the invalid-backup-mode diagnostic,
// not the "not specified" one.
func TestCLIInvalidBackupMode(t *testing.T) {
	dir := t.TempDir()
	_, _, err := run(t, "backup", "-B", dir, "-b", "bad")
	require.Error(t, err)
	require.Contains(t, err.Error(), `invalid backup-mode "bad"`)
}

// S4: `delete DATE` with no -A fails with the ARCLOG_PATH diagnostic.
func TestCLIDeleteNoArclogPath(t *testing.T) {
	_, _, err := run(t, "delete", "20200101T000000")
	require.Error(t, err)
	require.Contains(t, err.Error(), "delete command needs ARCLOG_PATH")
}

// S5: `delete` with no DATE argument fails with the delete-range
// diagnostic, checked ahead of the ARCLOG_PATH one.
func TestCLIDeleteNoDate(t *testing.T) {
	_, _, err := run(t, "delete")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required delete range option not specified: delete DATE")
}

// S6: a pg_arman.ini under -B with a malformed integer key surfaces the
// exact 32-bit diagnostic, reached through the CLI's own option loading.
func TestCLIBadIniInteger(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pg_arman.ini"),
		[]byte("keep-data-generations=TRUE\n"), 0o644))

	_, _, err := run(t, "backup", "-B", dir, "-b", "full")
	require.Error(t, err)
	require.Contains(t, err.Error(), "should be a 32bit signed integer: 'TRUE'")
}

// S7: `--version` prints "pg_arman 0.1" to stdout.
func TestCLIVersion(t *testing.T) {
	version = "0.1"
	stdout, _, err := run(t, "--version")
	require.NoError(t, err)
	require.Equal(t, "pg_arman 0.1\n", stdout)
}

// S8 (DIFF_PAGE with no FULL parent) requires a live server connection to
// reach orchestrator.Run from the CLI layer; it is exercised directly at
// orchestrator_test.go's level instead, against a fake serverdriver.

func TestCLIInitRequiresBackupPath(t *testing.T) {
	_, _, err := run(t, "init")
	require.Error(t, err)
	require.Contains(t, err.Error(), "BACKUP_PATH")
}

func TestCLIInitCreatesCatalog(t *testing.T) {
	dir := t.TempDir()
	_, _, err := run(t, "init", "-B", dir)
	require.NoError(t, err)
	require.DirExists(t, filepath.Join(dir, "backup"))
}

func TestCLIShowEmptyCatalog(t *testing.T) {
	dir := t.TempDir()
	_, _, err := run(t, "init", "-B", dir)
	require.NoError(t, err)

	stdout, _, err := run(t, "show", "-B", dir)
	require.NoError(t, err)
	require.Contains(t, stdout, "TIMESTAMP")
}
