package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/scopecfg/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded evaluations",
		Long: `List evaluations recorded with --store, newest first.

Subcommands show a single run with its document and violations, delete a
run, or prune old runs.`,
		Example: `  # List the last 20 runs
  scopecfg history --store history.db

  # Show one run
  scopecfg history show 6f1c... --store history.db

  # Drop runs older than a week
  scopecfg history prune --older-than 168h --store history.db`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if storePath == "" {
				return errors.New("--store is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(ctx, limit, offset)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tVIOLATIONS\tSCRIPT")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					r.ID, r.Status, r.StartedAt.Local().Format(time.DateTime),
					time.Duration(r.DurationMS)*time.Millisecond, r.Violations, r.Script)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")

	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryDeleteCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

// runView is the printable form of a recorded run.
type runView struct {
	Run         *stores.Run         `json:"run"`
	SourceFiles []string            `json:"source_files,omitempty"`
	Document    any                 `json:"document,omitempty"`
	Violations  []*stores.Violation `json:"violations,omitempty"`
}

func newHistoryShowCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			view := runView{Run: run}

			snap, err := store.GetSnapshot(ctx, run.ID)
			switch {
			case errors.Is(err, stores.ErrNotFound):
			case err != nil:
				return err
			default:
				view.SourceFiles = snap.SourceFiles
				var doc any
				if err := json.Unmarshal([]byte(snap.Document), &doc); err != nil {
					return fmt.Errorf("corrupt snapshot for run %s: %w", run.ID, err)
				}
				view.Document = doc
			}

			view.Violations, err = store.ListViolations(ctx, run.ID)
			if err != nil {
				return err
			}

			// Round-trip through JSON so YAML output uses the same keys.
			data, err := json.Marshal(view)
			if err != nil {
				return err
			}
			var out any
			if err := json.Unmarshal(data, &out); err != nil {
				return err
			}
			return writeValue(cmd.OutOrStdout(), out, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", "yaml", "output format (json, yaml)")

	return cmd
}

func newHistoryDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>...",
		Short: "Delete recorded runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, id := range args {
				if err := store.DeleteRun(ctx, id); err != nil {
					return err
				}
				log.Info().Str("run_id", id).Msg("Run deleted")
			}
			return nil
		},
	}
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.PruneRuns(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d run(s)\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the oldest run to keep")

	return cmd
}
