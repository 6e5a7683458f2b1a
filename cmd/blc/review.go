package main

import (
	"fmt"
	"strconv"

	"github.com/franz/book-janitor/internal/match"
	"github.com/franz/book-janitor/internal/review"
	"github.com/franz/book-janitor/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect and resolve uncertain identifications",
	Long: `Work through identifications whose best candidate scored inside the review
band. Each pending edition lists its ranked candidates; accept one by index
or reject them all to keep the extracted metadata.`,
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending identifications",
	RunE:  runReviewList,
}

var reviewAcceptCmd = &cobra.Command{
	Use:   "accept <edition-id> <candidate-index>",
	Short: "Adopt a candidate for an edition",
	Args:  cobra.ExactArgs(2),
	RunE:  runReviewAccept,
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <edition-id>",
	Short: "Keep the extracted metadata and close the item",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewReject,
}

func init() {
	reviewListCmd.Flags().Float64("min-score", match.ReviewThreshold, "lower band bound")
	reviewListCmd.Flags().Float64("max-score", match.AcceptThreshold, "upper band bound")
	reviewListCmd.Flags().Int("limit", 20, "page size")
	reviewListCmd.Flags().Int("offset", 0, "page offset")
	viper.BindPFlag("review_min_score", reviewListCmd.Flags().Lookup("min-score"))
	viper.BindPFlag("review_max_score", reviewListCmd.Flags().Lookup("max-score"))

	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewAcceptCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
	rootCmd.AddCommand(reviewCmd)
}

func runReviewList(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	db, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	band := review.Band{
		Min: viper.GetFloat64("review_min_score"),
		Max: viper.GetFloat64("review_max_score"),
	}
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	queue := review.New(db)
	items, total, err := queue.List(band, limit, offset)
	if err != nil {
		return err
	}

	if total == 0 {
		util.SuccessLog("Review queue is empty")
		return nil
	}

	util.InfoLog("%d pending identification(s)", total)
	for _, item := range items {
		title := "(unknown)"
		if item.Edition != nil && item.Edition.Title != "" {
			title = item.Edition.Title
		}
		util.InfoLog("")
		util.InfoLog("Edition %d: %s (top score %.2f)", item.EditionID, title, item.TopScore)
		for i, c := range item.Candidates {
			util.InfoLog("  [%d] %.2f %s: %s by %v (%d)", i, c.Score,
				c.Candidate.Source, c.Candidate.Title, c.Candidate.Authors, c.Candidate.Year)
		}
	}
	util.InfoLog("")
	util.InfoLog("Accept with: blc review accept <edition-id> <candidate-index>")
	return nil
}

func runReviewAccept(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	editionID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid edition id %q", args[0])
	}
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid candidate index %q", args[1])
	}

	db, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	return review.New(db).Resolve(editionID, index)
}

func runReviewReject(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	editionID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid edition id %q", args[0])
	}

	db, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	return review.New(db).Reject(editionID)
}
