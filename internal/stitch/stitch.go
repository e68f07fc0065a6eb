// Package stitch builds panoramas by folding an ordered list of images
// pairwise: each stitched pair becomes the pivot for the next image.
package stitch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"panostitch/internal/compose"
	"panostitch/internal/correspondence"
	"panostitch/internal/crop"
	"panostitch/internal/homography"
	panoimage "panostitch/internal/image"
	"panostitch/pkg/geometry"
)

// Direction re-exports crop.Direction for callers of this package.
type Direction = crop.Direction

const (
	Vertical   = crop.Vertical
	Horizontal = crop.Horizontal
)

// DefaultOutputDir is where StitchAndSave writes when no output path is given.
const DefaultOutputDir = "output"

// Matcher produces nearest-neighbour candidates for keypoints of a in b.
type Matcher interface {
	Match(a, b image.Image) ([]correspondence.Candidate, error)
}

// Options configures a Stitcher.
type Options struct {
	Filter      correspondence.Options
	Fit         homography.Options
	Seed        int64  // RANSAC seed; 0 seeds from the clock on every run
	OutputDir   string // Directory for auto-named output
	JPEGQuality int
}

// DefaultOptions returns the default pipeline settings.
func DefaultOptions() Options {
	return Options{
		Filter:      correspondence.DefaultOptions(),
		Fit:         homography.DefaultOptions(),
		OutputDir:   DefaultOutputDir,
		JPEGQuality: panoimage.DefaultJPEGQuality,
	}
}

// Option customizes a Stitcher.
type Option func(*Stitcher)

// WithOptions replaces the pipeline settings.
func WithOptions(opts Options) Option {
	return func(s *Stitcher) { s.opts = opts }
}

// WithWarper selects the warp implementation.
func WithWarper(w compose.Warper) Option {
	return func(s *Stitcher) { s.compositor = compose.NewCompositor(w) }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Stitcher) { s.log = log }
}

// WithClock overrides the time source used for output names and seeding.
func WithClock(now func() time.Time) Option {
	return func(s *Stitcher) { s.now = now }
}

// Stitcher runs the stitch pipeline. It holds no per-run state and is safe
// for concurrent use if its Matcher is.
type Stitcher struct {
	matcher    Matcher
	compositor *compose.Compositor
	opts       Options
	log        *slog.Logger
	now        func() time.Time
}

// New creates a Stitcher that uses m to match features.
func New(m Matcher, opts ...Option) *Stitcher {
	s := &Stitcher{
		matcher:    m,
		compositor: compose.NewCompositor(nil),
		opts:       DefaultOptions(),
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PairResult describes one pairwise stitch.
type PairResult struct {
	Panorama   *image.RGBA
	Homography geometry.Homography
	Crop       crop.Rect
	Matches    int // Correspondences that passed the ratio test
	Outliers   int
	Confidence int
}

// Result describes a saved panorama.
type Result struct {
	OutputPath string        `json:"output_path"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	Pairs      []PairSummary `json:"pairs"`
	Duration   time.Duration `json:"duration"`
}

// PairSummary is the persisted part of a PairResult.
type PairSummary struct {
	Matches    int                 `json:"matches"`
	Outliers   int                 `json:"outliers"`
	Confidence int                 `json:"confidence"`
	Homography geometry.Homography `json:"homography"`
	Crop       crop.Rect           `json:"crop"`
}

func (p *PairResult) summary() PairSummary {
	return PairSummary{
		Matches:    p.Matches,
		Outliers:   p.Outliers,
		Confidence: p.Confidence,
		Homography: p.Homography,
		Crop:       p.Crop,
	}
}

func (s *Stitcher) newFitter() *homography.Fitter {
	seed := s.opts.Seed
	if seed == 0 {
		seed = s.now().UnixNano()
	}
	return homography.NewFitter(s.opts.Fit, rand.New(rand.NewSource(seed)), s.log)
}

// StitchPair aligns b to a and returns the cropped composite.
func (s *Stitcher) StitchPair(ctx context.Context, a, b image.Image, dir Direction) (*PairResult, error) {
	return s.stitchPair(ctx, s.newFitter(), a, b, dir)
}

func (s *Stitcher) stitchPair(ctx context.Context, fitter *homography.Fitter, a, b image.Image, dir Direction) (*PairResult, error) {
	cands, err := s.matcher.Match(a, b)
	if err != nil {
		return nil, fmt.Errorf("feature matching: %w", err)
	}

	corrs, err := correspondence.Filter(cands, s.opts.Filter)
	if err != nil {
		return nil, err
	}

	fit, err := fitter.Fit(ctx, corrs)
	if err != nil {
		return nil, err
	}

	composed, err := s.compositor.Compose(a, b, fit.H, dir)
	if err != nil {
		return nil, err
	}

	return &PairResult{
		Panorama:   composed.Panorama,
		Homography: fit.H,
		Crop:       composed.Crop,
		Matches:    len(corrs),
		Outliers:   fit.Outliers,
		Confidence: fit.Confidence,
	}, nil
}

// StitchImages folds imgs left to right (or top to bottom) into one panorama.
// Any failing pair aborts the whole run; no partial panorama is returned.
func (s *Stitcher) StitchImages(ctx context.Context, imgs []image.Image, dir Direction) (*image.RGBA, error) {
	pano, _, err := s.stitchImages(ctx, imgs, dir)
	return pano, err
}

func (s *Stitcher) stitchImages(ctx context.Context, imgs []image.Image, dir Direction) (*image.RGBA, []PairSummary, error) {
	if len(imgs) < 2 {
		return nil, nil, &InsufficientImagesError{Count: len(imgs)}
	}

	fitter := s.newFitter()
	pivot := panoimage.ToRGBA(imgs[0])
	pairs := make([]PairSummary, 0, len(imgs)-1)

	for i := 1; i < len(imgs); i++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		res, err := s.stitchPair(ctx, fitter, pivot, imgs[i], dir)
		if err != nil {
			s.log.Warn("pair stitch failed", "pair", i, "of", len(imgs)-1, "error", err)
			return nil, nil, err
		}

		s.log.Info("pair stitched",
			"pair", i,
			"of", len(imgs)-1,
			"direction", dir,
			"matches", res.Matches,
			"confidence", res.Confidence,
			"width", res.Panorama.Bounds().Dx(),
			"height", res.Panorama.Bounds().Dy(),
		)
		pivot = res.Panorama
		pairs = append(pairs, res.summary())
	}

	return pivot, pairs, nil
}

// ValidateFiles checks every path before any work starts: the count, then that
// each file exists and has a supported image extension.
func ValidateFiles(paths []string) error {
	if len(paths) < 2 {
		return &InsufficientImagesError{Count: len(paths)}
	}
	for _, p := range paths {
		if !panoimage.IsSupportedFormat(p) {
			return &InvalidImageFileError{Path: p, Reason: "unsupported extension (want .jpg, .jpeg or .png)"}
		}
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return &InvalidImageFileError{Path: p, Reason: "file does not exist"}
			}
			return &InvalidImageFileError{Path: p, Reason: err.Error()}
		}
		if !info.Mode().IsRegular() {
			return &InvalidImageFileError{Path: p, Reason: "not a regular file"}
		}
	}
	return nil
}

// StitchFiles validates and loads paths, then stitches them in order.
func (s *Stitcher) StitchFiles(ctx context.Context, paths []string, dir Direction) (*image.RGBA, error) {
	pano, _, err := s.stitchFiles(ctx, paths, dir)
	return pano, err
}

func (s *Stitcher) stitchFiles(ctx context.Context, paths []string, dir Direction) (*image.RGBA, []PairSummary, error) {
	if err := ValidateFiles(paths); err != nil {
		return nil, nil, err
	}

	imgs := make([]image.Image, len(paths))
	for i, p := range paths {
		img, err := panoimage.Load(p)
		if err != nil {
			return nil, nil, &InvalidImageFileError{Path: p, Reason: err.Error()}
		}
		imgs[i] = img
	}
	s.log.Debug("images loaded", "count", len(imgs))

	return s.stitchImages(ctx, imgs, dir)
}

// OutputPath returns out, or an auto-generated path in the output directory
// when out is empty.
func (s *Stitcher) OutputPath(out string) string {
	if out != "" {
		return out
	}
	dir := s.opts.OutputDir
	if dir == "" {
		dir = DefaultOutputDir
	}
	return filepath.Join(dir, panoimage.DefaultOutputName(s.now()))
}

// StitchAndSave stitches paths and writes the panorama to out (or an
// auto-named file in the output directory, created if absent).
func (s *Stitcher) StitchAndSave(ctx context.Context, paths []string, dir Direction, out string) (*Result, error) {
	start := s.now()
	out = s.OutputPath(out)
	if err := panoimage.CheckOutputFormat(out); err != nil {
		return nil, err
	}

	pano, pairs, err := s.stitchFiles(ctx, paths, dir)
	if err != nil {
		return nil, err
	}

	if err := panoimage.Save(out, pano, s.opts.JPEGQuality); err != nil {
		return nil, err
	}
	s.log.Info("panorama saved", "path", out, "width", pano.Bounds().Dx(), "height", pano.Bounds().Dy())

	return &Result{
		OutputPath: out,
		Width:      pano.Bounds().Dx(),
		Height:     pano.Bounds().Dy(),
		Pairs:      pairs,
		Duration:   s.now().Sub(start),
	}, nil
}
