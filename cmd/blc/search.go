package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/franz/book-janitor/internal/store"
	"github.com/franz/book-janitor/internal/util"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over the catalogued library",
	Long: `Search catalogued editions by title, author or publisher and show where
their files live.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().Int("limit", 20, "maximum results")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	query := strings.Join(args, " ")
	limit, _ := cmd.Flags().GetInt("limit")

	db, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ids, err := store.SearchEditions(db.DB(), query, limit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(ids) == 0 {
		util.InfoLog("No matches for %q", query)
		return nil
	}

	for _, id := range ids {
		edition, err := store.GetEdition(db.DB(), id)
		if err != nil || edition == nil {
			continue
		}
		authors, _ := store.GetWorkAuthors(db.DB(), edition.WorkID)
		names := make([]string, 0, len(authors))
		for _, a := range authors {
			names = append(names, a.Name)
		}

		line := edition.Title
		if len(names) > 0 {
			line += " by " + strings.Join(names, ", ")
		}
		if edition.PubYear != 0 {
			line += fmt.Sprintf(" (%d)", edition.PubYear)
		}
		util.InfoLog("%s", line)

		if file, err := store.GetFirstFileByEdition(db.DB(), id); err == nil && file != nil {
			util.InfoLog("  %s (%s)", file.Path, humanize.Bytes(uint64(file.SizeBytes)))
		}
	}
	return nil
}
