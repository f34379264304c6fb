package commands

import (
	"github.com/spf13/cobra"

	"github.com/willibrandon/pgarman/catalog"
	"github.com/willibrandon/pgarman/config"
	"github.com/willibrandon/pgarman/internal/logging"
	"github.com/willibrandon/pgarman/orchestrator"
	"github.com/willibrandon/pgarman/serverdriver"
)

func backupCmd() *cobra.Command {
	var (
		flagBackupMode          string
		flagSmoothCheckpoint    bool
		flagValidate            bool
		flagKeepDataGenerations int
		flagKeepDataDays        int
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Take a FULL or DIFF_PAGE backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyLogLevel()

			opts, err := loadOptions()
			if err != nil {
				return err
			}

			override := &config.Options{
				SmoothCheckpoint:    flagSmoothCheckpoint,
				Validate:            flagValidate,
				KeepDataGenerations: flagKeepDataGenerations,
				KeepDataDays:        flagKeepDataDays,
			}
			if cmd.Flags().Changed("backup-mode") {
				override.BackupModeSet = true
				if mode, ok := catalog.ParseMode(flagBackupMode); ok {
					override.BackupMode = mode
				}
			}
			opts = config.Merge(opts, override)

			if err := config.RequireBackupPath(opts); err != nil {
				return err
			}
			if err := config.RequireBackupMode(opts, flagBackupMode); err != nil {
				return err
			}

			if opts.Check {
				logging.Log.Info("backup: options valid",
					"pgdata", opts.PGData, "backup_path", opts.BackupPath,
					"arclog_path", opts.ArclogPath, "mode", opts.BackupMode.String())
				return nil
			}

			ctx, interrupted, stop := interruptContext()
			defer stop()

			drv, err := serverdriver.Connect(ctx, connString(opts), opts.PGData)
			if err != nil {
				return err
			}
			defer drv.Close(ctx)

			cat := catalog.New(opts.BackupPath)
			if err := cat.Init(); err != nil {
				return err
			}

			o := orchestrator.New(orchestrator.Config{
				PGData:              opts.PGData,
				ArclogPath:          opts.ArclogPath,
				BackupPath:          opts.BackupPath,
				Mode:                opts.BackupMode,
				SmoothCheckpoint:    opts.SmoothCheckpoint,
				KeepDataGenerations: opts.KeepDataGenerations,
				KeepDataDays:        opts.KeepDataDays,
			}, drv, cat, interrupted)

			if err := o.Run(ctx); err != nil {
				return err
			}

			if opts.Validate {
				return runValidate(opts.BackupPath, "")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&flagBackupMode, "backup-mode", "b", "", "backup mode: full or page")
	cmd.Flags().BoolVarP(&flagSmoothCheckpoint, "smooth-checkpoint", "C", false, "spread checkpoint I/O over time")
	cmd.Flags().BoolVar(&flagValidate, "validate", false, "validate the backup immediately after taking it")
	cmd.Flags().IntVar(&flagKeepDataGenerations, "keep-data-generations", 0, "number of recent FULL backups to keep")
	cmd.Flags().IntVar(&flagKeepDataDays, "keep-data-days", 0, "number of days of backups to keep")

	return cmd
}
