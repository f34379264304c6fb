package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeIni(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pg_arman.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadIniRejectsBadInteger(t *testing.T) {
	path := writeIni(t, "keep-data-generations=TRUE\n")
	_, err := LoadIni(path, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "should be a 32bit signed integer: 'TRUE'")
}

func TestLoadIniRejectsUnknownKey(t *testing.T) {
	path := writeIni(t, "bogus-option=1\n")
	_, err := LoadIni(path, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bogus-option")
}

func TestLoadIniWarnsOnMissingEquals(t *testing.T) {
	path := writeIni(t, "not-a-kv-line\nbackup-path=/var/backups\n")
	var warnings []string
	opts, err := LoadIni(path, func(msg string) { warnings = append(warnings, msg) })
	require.NoError(t, err)
	require.Equal(t, "/var/backups", opts.BackupPath)
	require.Len(t, warnings, 1)
}

func TestLoadIniParsesKnownKeys(t *testing.T) {
	path := writeIni(t, "backup-mode=page\nkeep-data-generations=3\nsmooth-checkpoint=true\n")
	opts, err := LoadIni(path, nil)
	require.NoError(t, err)
	require.True(t, opts.BackupModeSet)
	require.Equal(t, 3, opts.KeepDataGenerations)
	require.True(t, opts.SmoothCheckpoint)
}

func TestMergePrecedence(t *testing.T) {
	ini := &Options{BackupPath: "/ini/path", KeepDataDays: 7}
	flags := &Options{BackupPath: "/flag/path"}
	merged := Merge(ini, flags)
	require.Equal(t, "/flag/path", merged.BackupPath)
	require.Equal(t, 7, merged.KeepDataDays)
}

func TestRequireBackupPath(t *testing.T) {
	err := RequireBackupPath(&Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "required parameter not specified: BACKUP_PATH (-B, --backup-path)")

	require.NoError(t, RequireBackupPath(&Options{BackupPath: "/x"}))
}

func TestRequireBackupMode(t *testing.T) {
	err := RequireBackupMode(&Options{}, "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Required parameter not specified: BACKUP_MODE (-b, --backup-mode)")

	err = RequireBackupMode(&Options{}, "bad")
	require.Error(t, err)
	require.Contains(t, err.Error(), `invalid backup-mode "bad"`)
}

func TestRequireArclogPathForDelete(t *testing.T) {
	err := RequireArclogPathForDelete(&Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "delete command needs ARCLOG_PATH")
}

func TestRequireDeleteRange(t *testing.T) {
	err := RequireDeleteRange("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required delete range option not specified: delete DATE")
	require.NoError(t, RequireDeleteRange("20260101T000000"))
}
