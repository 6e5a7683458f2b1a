package main

import (
	"github.com/franz/book-janitor/internal/provider"
	"github.com/franz/book-janitor/internal/report"
	"github.com/franz/book-janitor/internal/store"
	"github.com/franz/book-janitor/internal/util"
	"github.com/spf13/viper"
)

// applyLogLevel sets the logger from the global verbosity flags
func applyLogLevel() {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))
}

// openStore opens the catalog database named by flags or config
func openStore() (*store.Store, error) {
	dbPath := viper.GetString("db")
	util.DebugLog("Opening database: %s", dbPath)
	return store.Open(dbPath)
}

// openEventLogger creates the JSONL audit logger, degrading to a null
// logger when the artifacts directory cannot be written
func openEventLogger() *report.EventLogger {
	level := report.LevelInfo
	if viper.GetBool("quiet") {
		level = report.LevelWarning
	} else if viper.GetBool("verbose") {
		level = report.LevelDebug
	}

	dir := viper.GetString("artifacts")
	if dir == "" {
		dir = "artifacts"
	}
	logger, err := report.NewEventLogger(dir, level)
	if err != nil {
		util.WarnLog("Failed to create event log: %v", err)
		return report.NullLogger()
	}
	util.DebugLog("Event log: %s", logger.Path())
	return logger
}

// buildProviders assembles the provider chain in priority order. The order
// matters: candidates from earlier providers win score ties.
func buildProviders() []provider.Client {
	enabled := viper.GetStringSlice("providers")
	if len(enabled) == 0 {
		enabled = []string{"openlibrary", "google_books", "bookbrainz"}
	}

	var chain []provider.Client
	for _, name := range enabled {
		switch name {
		case "openlibrary":
			chain = append(chain, provider.NewOpenLibrary())
		case "google_books":
			chain = append(chain, provider.NewGoogleBooks(viper.GetString("google_books_api_key")))
		case "bookbrainz":
			chain = append(chain, provider.NewBookBrainz())
		default:
			util.WarnLog("Unknown provider %q ignored", name)
		}
	}
	return chain
}
