package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/gridwise/sheetctx/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect context build history",
	Long:  "Commands for listing, viewing, and pruning recorded context builds.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded builds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		workbook, _ := cmd.Flags().GetString("workbook")
		mode, _ := cmd.Flags().GetString("mode")
		failed, _ := cmd.Flags().GetBool("failed")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.BuildFilter{
			WorkbookID: workbook,
			Mode:       mode,
			FailedOnly: failed,
			Limit:      limit,
		}

		builds, err := st.ListBuilds(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(builds) == 0 {
			fmt.Fprintln(os.Stderr, "No builds found.")
			return nil
		}

		formatBuildsList(os.Stdout, builds)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <build-id>",
	Short: "Show full details of a build",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		record, err := st.GetBuild(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	},
}

// -- runs prune --

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete builds older than a cutoff",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		olderThan, _ := cmd.Flags().GetDuration("older-than")
		deleted, err := st.PruneBefore(ctx, time.Now().Add(-olderThan))
		if err != nil {
			return eris.Wrap(err, "runs prune")
		}

		fmt.Printf("Deleted %d builds.\n", deleted)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("workbook", "", "filter by workbook id")
	runsListCmd.Flags().String("mode", "", "filter by build mode (chat, agent, inline_edit)")
	runsListCmd.Flags().Bool("failed", false, "only show failed or cancelled builds")
	runsListCmd.Flags().Int("limit", 50, "max number of builds to display")

	runsPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "delete builds older than this (e.g. 72h, 720h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsPruneCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatBuildsList writes a tabular list of builds to w.
func formatBuildsList(out io.Writer, builds []store.BuildRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tWORKBOOK\tMODE\tTOKENS\tREADS\tSTATUS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t--------\t----\t------\t-----\t------\t-------")

	for _, b := range builds {
		id := b.ID
		if len(id) > 8 {
			id = id[:8]
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			id,
			b.WorkbookID,
			b.Mode,
			b.PromptTokens,
			b.Stats.RangeReads,
			buildStatus(b),
			b.CreatedAt.Format(time.RFC3339),
		)
	}

	_ = w.Flush()
}

func buildStatus(b store.BuildRecord) string {
	switch {
	case b.Cancelled:
		return "cancelled"
	case b.Error != "":
		return "failed"
	default:
		return "ok"
	}
}
