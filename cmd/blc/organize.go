package main

import (
	"fmt"
	"strconv"

	"github.com/franz/book-janitor/internal/organize"
	"github.com/franz/book-janitor/internal/store"
	"github.com/franz/book-janitor/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var organizeCmd = &cobra.Command{
	Use:   "organize",
	Short: "Plan and execute library layout changes",
	Long: `Plan destination paths for catalogued files and execute them as
reversible manifests.

A manifest is first created in preview state (organize preview), applied as
an explicit second step (organize apply), and can be undone afterwards
(organize rollback).`,
}

var organizePreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Plan destination paths without moving anything",
	RunE:  runOrganizePreview,
}

var organizeApplyCmd = &cobra.Command{
	Use:   "apply <manifest-id>",
	Short: "Execute the planned moves of a manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrganizeApply,
}

var organizeRollbackCmd = &cobra.Command{
	Use:   "rollback <manifest-id>",
	Short: "Undo the completed moves of a manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrganizeRollback,
}

var organizeShowCmd = &cobra.Command{
	Use:   "show <manifest-id>",
	Short: "Show a manifest and its operations",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrganizeShow,
}

func init() {
	organizeApplyCmd.Flags().StringSlice("statuses", []string{"planned", "failed"}, "op statuses to execute")
	organizePreviewCmd.Flags().StringP("dest", "d", "", "library root directory")
	organizePreviewCmd.Flags().StringP("template", "t", "", "destination template (default \""+organize.DefaultTemplate+"\")")
	viper.BindPFlag("dest", organizePreviewCmd.Flags().Lookup("dest"))
	viper.BindPFlag("template", organizePreviewCmd.Flags().Lookup("template"))

	organizeCmd.AddCommand(organizePreviewCmd)
	organizeCmd.AddCommand(organizeApplyCmd)
	organizeCmd.AddCommand(organizeRollbackCmd)
	organizeCmd.AddCommand(organizeShowCmd)
	rootCmd.AddCommand(organizeCmd)
}

func runOrganizePreview(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	dest := viper.GetString("dest")
	if dest == "" {
		return fmt.Errorf("library root is required (use --dest or set in config)")
	}

	db, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	engine := organize.New(&organize.Config{Store: db})
	preview, err := engine.Preview(dest, viper.GetString("template"), nil)
	if err != nil {
		return fmt.Errorf("preview failed: %w", err)
	}

	for _, op := range preview.Ops {
		util.InfoLog("  %s -> %s", op.SrcPath, op.DstPath)
	}
	util.InfoLog("")
	util.InfoLog("Next step: blc organize apply %d", preview.Manifest.ID)
	return nil
}

func runOrganizeApply(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	id, err := parseManifestID(args[0])
	if err != nil {
		return err
	}

	db, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	logger := openEventLogger()
	defer logger.Close()

	statusNames, _ := cmd.Flags().GetStringSlice("statuses")
	statuses := make([]store.OpStatus, 0, len(statusNames))
	for _, name := range statusNames {
		statuses = append(statuses, store.OpStatus(name))
	}

	engine := organize.New(&organize.Config{Store: db, Logger: logger})
	result, err := engine.Apply(id, statuses)
	if err != nil {
		return fmt.Errorf("apply failed: %w", err)
	}
	if result.Failed > 0 {
		util.WarnLog("Some operations failed; re-run apply to retry them or roll back")
	}
	return nil
}

func runOrganizeRollback(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	id, err := parseManifestID(args[0])
	if err != nil {
		return err
	}

	db, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	logger := openEventLogger()
	defer logger.Close()

	engine := organize.New(&organize.Config{Store: db, Logger: logger})
	if _, err := engine.Rollback(id); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return nil
}

func runOrganizeShow(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	id, err := parseManifestID(args[0])
	if err != nil {
		return err
	}

	db, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	engine := organize.New(&organize.Config{Store: db})
	manifest, ops, counts, err := engine.Show(id)
	if err != nil {
		return err
	}

	util.InfoLog("Manifest %d: %s", manifest.ID, manifest.Status)
	util.InfoLog("  Root: %s", manifest.Root)
	util.InfoLog("  Template: %s", manifest.Template)
	if manifest.WatcherState != "" {
		util.InfoLog("  Watcher at apply time: %s", manifest.WatcherState)
	}
	for _, status := range []store.OpStatus{store.OpPlanned, store.OpDone, store.OpSkipped, store.OpFailed, store.OpReverted} {
		if n := counts[status]; n > 0 {
			util.InfoLog("  %s: %d", status, n)
		}
	}
	for _, op := range ops {
		line := fmt.Sprintf("  [%s] %s -> %s", op.Status, op.SrcPath, op.DstPath)
		if op.Reason != "" {
			line += " (" + op.Reason + ")"
		}
		util.InfoLog("%s", line)
	}
	return nil
}

func parseManifestID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid manifest id %q", arg)
	}
	return id, nil
}
