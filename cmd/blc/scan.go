package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/franz/book-janitor/internal/ingest"
	"github.com/franz/book-janitor/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var scanCmd = &cobra.Command{
	Use:   "scan [directory]",
	Short: "Scan a directory and identify every ebook in it",
	Long: `Scan a directory tree for ebook files, extract their embedded metadata,
identify each one against the remote catalogs, and record the results.

Files already catalogued (by content hash) are only touched, so a scan can
be re-run at any time. Identifications that score too low to auto-accept
land in the review queue (see: blc review).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringP("source", "s", "", "source directory to scan")
	scanCmd.Flags().IntP("concurrency", "c", 4, "number of parallel workers")
	viper.BindPFlag("source", scanCmd.Flags().Lookup("source"))
	viper.BindPFlag("concurrency", scanCmd.Flags().Lookup("concurrency"))

	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	source := viper.GetString("source")
	if len(args) > 0 {
		source = args[0]
	}
	if source == "" {
		return fmt.Errorf("source directory is required (pass it as an argument or use --source)")
	}
	if _, err := os.Stat(source); os.IsNotExist(err) {
		return fmt.Errorf("source directory does not exist: %s", source)
	}

	db, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	logger := openEventLogger()
	defer logger.Close()

	coordinator := ingest.New(&ingest.Config{
		Store:       db,
		Providers:   buildProviders(),
		Concurrency: viper.GetInt("concurrency"),
		Logger:      logger,
	})

	start := time.Now()
	result, err := coordinator.ScanDirectory(context.Background(), source)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	util.InfoLog("")
	util.SuccessLog("=== Scan Summary ===")
	util.InfoLog("Total time: %v", time.Since(start).Round(time.Millisecond))
	util.InfoLog("  Files processed: %d", result.FilesProcessed)
	util.InfoLog("  Already catalogued: %d", result.FilesDeduped)
	util.InfoLog("  Auto-accepted: %d", result.AutoAccepted)
	util.InfoLog("  Needs review: %d", result.NeedsReview)
	util.InfoLog("  Unmatched: %d", result.Unmatched)
	if len(result.Errors) > 0 {
		util.WarnLog("  Errors: %d", len(result.Errors))
	}

	if result.NeedsReview > 0 {
		util.InfoLog("")
		util.InfoLog("Next step: blc review list")
	}
	return nil
}
