package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/willibrandon/pgarman/catalog"
	"github.com/willibrandon/pgarman/config"
)

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [DATE]",
		Short: "List backups in the catalog, or show one in detail",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyLogLevel()

			if err := config.RequireBackupPath(&config.Options{BackupPath: flagBackupPath}); err != nil {
				return err
			}

			cat := catalog.New(flagBackupPath)
			records, err := cat.List(nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) > 0 {
				date := args[0]
				for _, r := range records {
					if r.DirName() == date {
						printRecordDetail(out, r)
						return nil
					}
				}
				fmt.Fprintf(out, "backup %s not found\n", date)
				return nil
			}

			printRecordTable(out, records)
			return nil
		},
	}
	return cmd
}

func printRecordTable(out io.Writer, records []*catalog.Record) {
	fmt.Fprintf(out, "%-16s %-6s %-9s %-10s %-19s %-19s\n",
		"TIMESTAMP", "MODE", "TIMELINE", "STATUS", "START LSN", "STOP LSN")
	for _, r := range records {
		fmt.Fprintf(out, "%-16s %-6s %-9d %-10s %-19s %-19s\n",
			r.DirName(), r.Mode.String(), r.Timeline, r.Status.String(),
			r.StartLSN.String(), r.StopLSN.String())
	}
}

func printRecordDetail(out io.Writer, r *catalog.Record) {
	fmt.Fprintf(out, "timestamp     = %s\n", r.DirName())
	fmt.Fprintf(out, "mode          = %s\n", r.Mode.String())
	fmt.Fprintf(out, "status        = %s\n", r.Status.String())
	fmt.Fprintf(out, "timeline      = %d\n", r.Timeline)
	fmt.Fprintf(out, "start-lsn     = %s\n", r.StartLSN.String())
	fmt.Fprintf(out, "stop-lsn      = %s\n", r.StopLSN.String())
	fmt.Fprintf(out, "recovery-xid  = %d\n", r.RecoveryXID)
	fmt.Fprintf(out, "start-time    = %s\n", r.StartTime.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "end-time      = %s\n", r.EndTime.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "data-bytes    = %d (%d written)\n", r.DataBytesRead, r.DataBytesWritten)
}
