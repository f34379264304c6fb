package commands

import (
	"github.com/spf13/cobra"

	"github.com/willibrandon/pgarman/catalog"
	"github.com/willibrandon/pgarman/config"
	"github.com/willibrandon/pgarman/internal/logging"
)

func deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete DATE",
		Short: "Mark every backup older than DATE as deleted",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyLogLevel()

			var date string
			if len(args) > 0 {
				date = args[0]
			}
			if err := config.RequireDeleteRange(date); err != nil {
				return err
			}
			if err := config.RequireArclogPathForDelete(&config.Options{ArclogPath: flagArclogPath}); err != nil {
				return err
			}
			if err := config.RequireBackupPath(&config.Options{BackupPath: flagBackupPath}); err != nil {
				return err
			}

			if flagCheck {
				logging.Log.Info("delete: would mark backups deleted", "before", date)
				return nil
			}
			return runDelete(flagBackupPath, date)
		},
	}
	return cmd
}

// runDelete marks DELETED every record whose directory name sorts before
// date, except a FULL record still needed as the parent of a DIFF_PAGE
// record that survives the cutoff — the same "don't orphan a chain"
// constraint catalog.Delete applies for generation/day-based retention.
func runDelete(backupPath, date string) error {
	cat := catalog.New(backupPath)
	records, err := cat.List(nil)
	if err != nil {
		return err
	}

	needed := make(map[int64]bool)
	for _, r := range records {
		if r.Mode != catalog.ModeDiffPage || r.Status == catalog.StatusDeleted {
			continue
		}
		if r.DirName() >= date {
			// records is most-recent-first, so the first DONE FULL at or
			// before r's start time on its timeline is r's parent.
			for _, p := range records {
				if p.IsValidDiffParent() && p.Timeline == r.Timeline && !p.StartTime.After(r.StartTime) {
					needed[p.ID] = true
					break
				}
			}
		}
	}

	var deleted int
	for _, r := range records {
		if r.Status == catalog.StatusDeleted {
			continue
		}
		if r.DirName() >= date {
			continue
		}
		if needed[r.ID] {
			continue
		}
		r.Status = catalog.StatusDeleted
		if err := cat.WriteManifest(r); err != nil {
			return err
		}
		deleted++
	}

	if deleted == 0 {
		logging.Log.Info("delete: no backups matched", "before", date)
		return nil
	}

	logging.Log.Info("backups deleted", "count", deleted, "before", date)
	return nil
}
