package cli

import (
	"context"
	"fmt"

	"panostitch/internal/crop"
	"panostitch/internal/history"
	"panostitch/internal/server"
	"panostitch/internal/watch"

	"github.com/spf13/cobra"
)

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr  string
		flags stitchFlags
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP stitching API",
		Long: `Start an HTTP server exposing:
  POST /stitch   {"images": [...], "direction": "horizontal", "output": "pano.jpg"}
                 (output is a file name inside output.dir)
  GET  /runs     recent runs from the history database (?limit=N)
  GET  /healthz  liveness probe`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.newStitcher(&flags)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = root.cfg.Server.Addr
			}

			var rec server.Recorder
			if store := root.openHistory(); store != nil {
				defer store.Close()
				rec = store
			}

			return server.NewServer(addr, root.cfg.Output.Dir, s, rec, root.log).Start(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	flags.register(cmd)
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		direction string
		output    string
		flags     stitchFlags
	)

	cmd := &cobra.Command{
		Use:   "watch <image> <image> [image...]",
		Short: "Re-stitch whenever an input image changes",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := crop.ParseDirection(direction)
			if err != nil {
				return err
			}
			s, err := root.newStitcher(&flags)
			if err != nil {
				return err
			}
			// Pin the output name so every re-stitch replaces the same file.
			out := s.OutputPath(output)

			store := root.openHistory()
			if store != nil {
				defer store.Close()
			}

			run := func(ctx context.Context) error {
				start := root.now()
				res, err := s.StitchAndSave(ctx, args, dir, out)
				if store != nil {
					if _, recErr := store.Record(ctx, history.FromResult(args, dir, res, err, start)); recErr != nil {
						root.log.Warn("failed to record run", "error", recErr)
					}
				}
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), res)
				return nil
			}

			w, err := watch.New(args, 0, run, root.log)
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			return w.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&direction, "direction", "d", "horizontal", "Stitch direction: horizontal (1) or vertical (0)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, rewritten on every change")
	flags.register(cmd)
	return cmd
}
