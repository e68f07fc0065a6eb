// Package correspondence turns raw nearest-neighbour descriptor matches into
// point correspondences between two images.
package correspondence

import (
	"fmt"

	"panostitch/pkg/geometry"
)

// Default filter parameters.
const (
	DefaultRatio      = 0.8
	DefaultMinMatches = 20
)

// Correspondence pairs a point in image A with the point in image B believed to
// depict the same scene point.
type Correspondence struct {
	A geometry.Point2D `json:"a"`
	B geometry.Point2D `json:"b"`
}

// Neighbor is one nearest-neighbour match in image B.
type Neighbor struct {
	Point    geometry.Point2D
	Distance float64
}

// Candidate holds a keypoint in image A and its nearest neighbours in image B,
// closest first. Matchers report at most two neighbours.
type Candidate struct {
	A         geometry.Point2D
	Neighbors []Neighbor
}

// Options configures Filter.
type Options struct {
	Ratio      float64 // Keep a match if best < Ratio * secondBest
	MinMatches int     // Fail if fewer correspondences survive
}

// DefaultOptions returns the default ratio test settings.
func DefaultOptions() Options {
	return Options{
		Ratio:      DefaultRatio,
		MinMatches: DefaultMinMatches,
	}
}

// InsufficientMatchesError is returned when too few correspondences survive.
type InsufficientMatchesError struct {
	Found    int
	Required int
}

func (e *InsufficientMatchesError) Error() string {
	return fmt.Sprintf("insufficient matches: found %d, need at least %d", e.Found, e.Required)
}

// Filter applies the distance-ratio test to cands and returns the surviving
// correspondences in candidate order. Candidates with fewer than two
// neighbours cannot be ratio-tested and are dropped.
func Filter(cands []Candidate, opts Options) ([]Correspondence, error) {
	kept := make([]Correspondence, 0, len(cands))
	for _, c := range cands {
		if len(c.Neighbors) < 2 {
			continue
		}
		best, second := c.Neighbors[0], c.Neighbors[1]
		if best.Distance < opts.Ratio*second.Distance {
			kept = append(kept, Correspondence{A: c.A, B: best.Point})
		}
	}

	if len(kept) < opts.MinMatches {
		return nil, &InsufficientMatchesError{Found: len(kept), Required: opts.MinMatches}
	}
	return kept, nil
}

// Split returns the A and B points of corrs as parallel slices.
func Split(corrs []Correspondence) (a, b []geometry.Point2D) {
	a = make([]geometry.Point2D, len(corrs))
	b = make([]geometry.Point2D, len(corrs))
	for i, c := range corrs {
		a[i] = c.A
		b[i] = c.B
	}
	return a, b
}
