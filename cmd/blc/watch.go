package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/franz/book-janitor/internal/ingest"
	"github.com/franz/book-janitor/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var watchCmd = &cobra.Command{
	Use:   "watch [directory]",
	Short: "Watch a directory and ingest new ebooks as they appear",
	Long: `Watch a directory tree and run the ingestion pipeline on every supported
file that appears. Runs until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringP("source", "s", "", "directory to watch")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	source, _ := cmd.Flags().GetString("source")
	if len(args) > 0 {
		source = args[0]
	}
	if source == "" {
		return fmt.Errorf("directory is required (pass it as an argument or use --source)")
	}
	if _, err := os.Stat(source); os.IsNotExist(err) {
		return fmt.Errorf("directory does not exist: %s", source)
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

	watcher := ingest.NewWatcher(coordinator, source)
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	util.InfoLog("Shutting down")
	return watcher.Stop()
}
