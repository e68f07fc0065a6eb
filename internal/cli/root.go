// Package cli wires the panostitch commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"panostitch/internal/compose"
	"panostitch/internal/config"
	"panostitch/internal/history"
	"panostitch/internal/logging"
	"panostitch/internal/stitch"

	"github.com/spf13/cobra"
)

// Deps supplies the components that need OpenCV, so that this package builds
// and tests without cgo.
type Deps struct {
	// NewMatcher returns a feature matcher for the named detector.
	NewMatcher func(detector string) (stitch.Matcher, error)
	// OpenCVWarper backs --warper opencv. Nil disables that choice.
	OpenCVWarper compose.Warper
}

// Root holds state shared by all commands.
type Root struct {
	deps     Deps
	cfgPath  string
	logLevel string
	cfg      *config.Config
	log      *slog.Logger
	now      func() time.Time
}

// NewRootCmd creates the root Cobra command.
func NewRootCmd(deps Deps) *cobra.Command {
	root := &Root{deps: deps, now: time.Now}

	rootCmd := &cobra.Command{
		Use:   "panostitch",
		Short: "Stitch overlapping photos into a panorama",
		Long: `panostitch aligns an ordered sequence of overlapping images with feature
matching and a RANSAC homography, then composites them left-to-right or
top-to-bottom into one cropped panorama.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return root.setup(cmd.ErrOrStderr())
		},
	}
	rootCmd.PersistentFlags().StringVar(&root.cfgPath, "config", "", "Config file (default $PANOSTITCH_CONFIG or the user config dir)")
	rootCmd.PersistentFlags().StringVar(&root.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(newStitchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newHistoryCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the command line with args.
func Execute(ctx context.Context, deps Deps, args []string) error {
	cmd := NewRootCmd(deps)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func (r *Root) setup(logOut io.Writer) error {
	cfg, err := config.Load(r.cfgPath)
	if err != nil {
		return err
	}
	r.cfg = cfg
	level := cfg.Logging.Level
	if r.logLevel != "" {
		level = r.logLevel
	}
	r.log = logging.New(logOut, level, cfg.Logging.Format)
	return nil
}

// stitchFlags are the pipeline overrides shared by stitch, serve and watch.
type stitchFlags struct {
	seed     int64
	detector string
	warper   string
	normal   bool
}

func (f *stitchFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "RANSAC seed (0 uses the configured seed, or the clock)")
	cmd.Flags().StringVar(&f.detector, "detector", "", "Feature detector: sift or orb (default from config)")
	cmd.Flags().StringVar(&f.warper, "warper", "", "Warp implementation: go or opencv (default from config)")
	cmd.Flags().BoolVar(&f.normal, "normalize", false, "Normalize coordinates before solving homographies")
}

// stitchOptions converts the loaded config plus flag overrides into pipeline options.
func (r *Root) stitchOptions(f *stitchFlags) stitch.Options {
	s := r.cfg.Stitch
	opts := stitch.DefaultOptions()
	opts.Filter.Ratio = s.Ratio
	opts.Filter.MinMatches = s.MinMatches
	opts.Fit.OutlierThreshold = s.OutlierThreshold
	opts.Fit.MinConfidence = s.MinConfidence
	opts.Fit.SuccessProbability = s.SuccessProbability
	opts.Fit.Workers = s.Workers
	opts.Fit.Normalize = s.Normalize || f.normal
	opts.Seed = s.Seed
	if f.seed != 0 {
		opts.Seed = f.seed
	}
	opts.OutputDir = r.cfg.Output.Dir
	opts.JPEGQuality = r.cfg.Output.JPEGQuality
	return opts
}

func (r *Root) newStitcher(f *stitchFlags) (*stitch.Stitcher, error) {
	detector := r.cfg.Features.Detector
	if f.detector != "" {
		detector = f.detector
	}
	if r.deps.NewMatcher == nil {
		return nil, fmt.Errorf("no feature matcher available")
	}
	m, err := r.deps.NewMatcher(detector)
	if err != nil {
		return nil, err
	}

	warperName := r.cfg.Stitch.Warper
	if f.warper != "" {
		warperName = f.warper
	}
	var w compose.Warper
	switch warperName {
	case "", "go":
		w = compose.PerspectiveWarper{}
	case "opencv":
		if r.deps.OpenCVWarper == nil {
			return nil, fmt.Errorf("opencv warper is not available in this build")
		}
		w = r.deps.OpenCVWarper
	default:
		return nil, fmt.Errorf("unknown warper %q (want go or opencv)", warperName)
	}

	return stitch.New(m,
		stitch.WithOptions(r.stitchOptions(f)),
		stitch.WithWarper(w),
		stitch.WithLogger(r.log),
		stitch.WithClock(r.now),
	), nil
}

// openHistory returns the run store, or nil when history is disabled or the
// database cannot be opened.
func (r *Root) openHistory() *history.Store {
	if !r.cfg.History.Enabled {
		return nil
	}
	store, err := history.New(r.cfg.History.Path)
	if err != nil {
		r.log.Warn("run history unavailable", "path", r.cfg.History.Path, "error", err)
		return nil
	}
	return store
}
