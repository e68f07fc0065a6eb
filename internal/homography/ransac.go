package homography

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"panostitch/internal/correspondence"
	"panostitch/pkg/geometry"
)

// SampleSize is the number of correspondences drawn per RANSAC iteration.
const SampleSize = 5

// scaleEpsilon keeps the projective division finite for points mapped to w == 0.
const scaleEpsilon = 1e-7

// Default fitter parameters.
const (
	DefaultOutlierThreshold   = 3.0
	DefaultMinConfidence      = 65
	DefaultSuccessProbability = 0.995
)

// ErrNoHypothesis is returned when no sample produced a usable estimate.
var ErrNoHypothesis = errors.New("homography: no RANSAC sample could be estimated")

// LowConfidenceError is returned when the best homography leaves too many
// correspondences unexplained.
type LowConfidenceError struct {
	Confidence int // Percent of correspondences that are inliers
}

func (e *LowConfidenceError) Error() string {
	return fmt.Sprintf("low match confidence: %d%%", e.Confidence)
}

// Options configures the RANSAC fitter.
type Options struct {
	OutlierThreshold   float64 // Reprojection distance (px) above which a point is an outlier
	MinConfidence      int     // Minimum inlier percentage to accept a fit
	SuccessProbability float64 // Target probability of drawing one all-inlier sample
	Workers            int     // Scoring goroutines; <= 0 uses runtime.NumCPU()
	Normalize          bool    // Use Hartley normalization in the DLT
}

// DefaultOptions returns the default fitter settings.
func DefaultOptions() Options {
	return Options{
		OutlierThreshold:   DefaultOutlierThreshold,
		MinConfidence:      DefaultMinConfidence,
		SuccessProbability: DefaultSuccessProbability,
	}
}

// Fit is the outcome of a successful RANSAC run.
type Fit struct {
	H          geometry.Homography
	Outliers   int
	Confidence int
	Iterations int
	Inliers    []int // Indices into the input correspondences
}

// Fitter runs a fixed-budget RANSAC search for the homography between two
// images. A Fitter is not safe for concurrent use since it owns its random
// source.
type Fitter struct {
	opts Options
	rng  *rand.Rand
	log  *slog.Logger
}

// NewFitter creates a Fitter. A nil rng is replaced by a time-seeded source;
// pass an explicit seed for reproducible results.
func NewFitter(opts Options, rng *rand.Rand, log *slog.Logger) *Fitter {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fitter{opts: opts, rng: rng, log: log}
}

// Iterations returns the RANSAC iteration budget needed to draw at least one
// all-inlier sample of SampleSize with probability p, assuming half the
// correspondences are inliers.
func Iterations(p float64) int {
	return int(math.Ceil(math.Log(1-p) / math.Log(1-math.Pow(0.5, SampleSize))))
}

// Fit searches for the homography mapping B points to A points. Every
// iteration in the budget runs; the hypothesis with the fewest outliers wins
// and ties go to the earliest iteration. Samples are drawn up front in
// iteration order so the result does not depend on the number of workers.
func (f *Fitter) Fit(ctx context.Context, corrs []correspondence.Correspondence) (*Fit, error) {
	n := len(corrs)
	if n < SampleSize {
		return nil, &correspondence.InsufficientMatchesError{Found: n, Required: SampleSize}
	}

	iters := Iterations(f.opts.SuccessProbability)
	samples := make([][]int, iters)
	for i := range samples {
		samples[i] = f.rng.Perm(n)[:SampleSize]
	}

	hyps := make([]geometry.Homography, iters)
	outliers := make([]int, iters)

	numWorkers := f.opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	perWorker := (iters + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		start := w * perWorker
		end := min(start+perWorker, iters)
		if start >= iters {
			break
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			sample := make([]correspondence.Correspondence, SampleSize)
			for i := start; i < end; i++ {
				if ctx.Err() != nil {
					return
				}
				for j, idx := range samples[i] {
					sample[j] = corrs[idx]
				}
				h, err := f.estimate(sample)
				if err != nil {
					outliers[i] = -1
					continue
				}
				hyps[i] = h
				outliers[i] = CountOutliers(h, corrs, f.opts.OutlierThreshold)
			}
		}(start, end)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	best := -1
	for i, o := range outliers {
		if o < 0 {
			continue
		}
		if best < 0 || o < outliers[best] {
			best = i
		}
	}
	if best < 0 {
		return nil, ErrNoHypothesis
	}

	confidence := int(100 * (1 - float64(outliers[best])/float64(n)))
	f.log.Debug("ransac complete",
		"correspondences", n,
		"iterations", iters,
		"best_iteration", best,
		"outliers", outliers[best],
		"confidence", confidence,
	)

	if confidence < f.opts.MinConfidence {
		return nil, &LowConfidenceError{Confidence: confidence}
	}

	return &Fit{
		H:          hyps[best],
		Outliers:   outliers[best],
		Confidence: confidence,
		Iterations: iters,
		Inliers:    Inliers(hyps[best], corrs, f.opts.OutlierThreshold),
	}, nil
}

func (f *Fitter) estimate(sample []correspondence.Correspondence) (geometry.Homography, error) {
	if f.opts.Normalize {
		return EstimateNormalized(sample)
	}
	return Estimate(sample)
}

// ReprojectionError maps c.B through h and returns its distance to c.A.
func ReprojectionError(h geometry.Homography, c correspondence.Correspondence) float64 {
	x, y, w := h.ApplyHomogeneous(c.B)
	w += scaleEpsilon
	return c.A.Distance(geometry.Point2D{X: x / w, Y: y / w})
}

// CountOutliers returns how many correspondences reproject further than threshold.
func CountOutliers(h geometry.Homography, corrs []correspondence.Correspondence, threshold float64) int {
	count := 0
	for _, c := range corrs {
		if ReprojectionError(h, c) > threshold {
			count++
		}
	}
	return count
}

// Inliers returns the indices of correspondences within threshold.
func Inliers(h geometry.Homography, corrs []correspondence.Correspondence, threshold float64) []int {
	var idx []int
	for i, c := range corrs {
		if ReprojectionError(h, c) <= threshold {
			idx = append(idx, i)
		}
	}
	return idx
}
