package main

import (
	"fmt"
	"os"

	"github.com/franz/book-janitor/internal/store"
	"github.com/franz/book-janitor/internal/util"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check catalog health",
	Long: `Run consistency checks on the catalog database and report files whose
on-disk location no longer matches the recorded path.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	db, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	util.InfoLog("Checking database integrity...")
	if err := db.CheckIntegrity(); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	util.SuccessLog("Database integrity: ok")

	files, err := store.GetCataloguedFiles(db.DB(), nil)
	if err != nil {
		return err
	}

	missing := 0
	for _, f := range files {
		if _, err := os.Stat(f.Path); os.IsNotExist(err) {
			util.WarnLog("Missing on disk: %s", f.Path)
			missing++
		}
	}

	if missing > 0 {
		util.WarnLog("%d of %d catalogued files are missing on disk", missing, len(files))
		util.InfoLog("Re-run 'blc scan' on their new location to reattach them")
	} else {
		util.SuccessLog("All %d catalogued files present on disk", len(files))
	}
	return nil
}
