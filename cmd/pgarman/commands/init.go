package commands

import (
	"github.com/spf13/cobra"

	"github.com/willibrandon/pgarman/catalog"
	"github.com/willibrandon/pgarman/config"
	"github.com/willibrandon/pgarman/internal/logging"
)

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a catalog under BACKUP_PATH",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyLogLevel()

			if err := config.RequireBackupPath(&config.Options{BackupPath: flagBackupPath}); err != nil {
				return err
			}
			if flagCheck {
				logging.Log.Info("init: would create catalog", "backup_path", flagBackupPath)
				return nil
			}

			cat := catalog.New(flagBackupPath)
			if err := cat.Init(); err != nil {
				return err
			}
			logging.Log.Info("catalog initialized", "backup_path", flagBackupPath)
			return nil
		},
	}
	return cmd
}
