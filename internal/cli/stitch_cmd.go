package cli

import (
	"fmt"
	"io"

	"panostitch/internal/crop"
	"panostitch/internal/history"
	"panostitch/internal/stitch"

	"github.com/spf13/cobra"
)

func newStitchCmd(root *Root) *cobra.Command {
	var (
		direction string
		output    string
		flags     stitchFlags
	)

	cmd := &cobra.Command{
		Use:   "stitch <image> <image> [image...]",
		Short: "Stitch images into a panorama",
		Long: `Stitch an ordered list of images into one panorama. Images must be given in
scene order: left to right for horizontal stitching, top to bottom for vertical.

Examples:
  panostitch stitch left.jpg middle.jpg right.jpg
  panostitch stitch --direction vertical -o tall.png top.png bottom.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := crop.ParseDirection(direction)
			if err != nil {
				return err
			}
			s, err := root.newStitcher(&flags)
			if err != nil {
				return err
			}

			start := root.now()
			res, err := s.StitchAndSave(cmd.Context(), args, dir, output)

			if store := root.openHistory(); store != nil {
				if _, recErr := store.Record(cmd.Context(), history.FromResult(args, dir, res, err, start)); recErr != nil {
					root.log.Warn("failed to record run", "error", recErr)
				}
				store.Close()
			}

			if err != nil {
				if kind := stitch.Classify(err); kind != "" {
					root.log.Debug("stitch failed", "kind", kind)
				}
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&direction, "direction", "d", "horizontal", "Stitch direction: horizontal (1) or vertical (0)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (.jpg, .jpeg or .png); default output/stitched_image_<timestamp>.jpg")
	flags.register(cmd)
	return cmd
}

func printResult(w io.Writer, res *stitch.Result) {
	fmt.Fprintf(w, "Panorama saved to %s (%dx%d)\n", res.OutputPath, res.Width, res.Height)
	for i, p := range res.Pairs {
		fmt.Fprintf(w, "  pair %d: %d matches, %d outliers, confidence %d%%, crop x=[%d,%d) y=[%d,%d)\n",
			i+1, p.Matches, p.Outliers, p.Confidence, p.Crop.XStart, p.Crop.XEnd, p.Crop.YStart, p.Crop.YEnd)
	}
}
