package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"panostitch/internal/history"

	"github.com/spf13/cobra"
)

func newHistoryCmd(root *Root) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent stitch runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !root.cfg.History.Enabled {
				return fmt.Errorf("run history is disabled in %s", configLabel(root.cfgPath))
			}
			store, err := history.New(root.cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tWHEN\tDIRECTION\tIMAGES\tSTATUS\tOUTPUT")
			for _, run := range runs {
				detail := run.OutputPath
				if run.Status == history.StatusFailed {
					detail = run.Error
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
					run.ID,
					run.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					run.Direction,
					len(run.Inputs),
					strings.ToUpper(run.Status),
					detail,
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")
	return cmd
}
