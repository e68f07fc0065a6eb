// Package homography estimates the projective transform between two images
// from point correspondences.
package homography

import (
	"errors"
	"math"

	"panostitch/internal/correspondence"
	"panostitch/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// MinPoints is the number of correspondences needed to pin down the 8 degrees
// of freedom of a homography.
const MinPoints = 4

var (
	ErrTooFewPoints = errors.New("homography: need at least 4 correspondences")
	ErrFactorize    = errors.New("homography: SVD factorization failed")
)

// Estimate solves the homography mapping B points to A points with the direct
// linear transform. The coefficient matrix is built from raw pixel coordinates
// and the result is the right singular vector of the smallest singular value,
// so it has unit norm rather than h8 == 1.
func Estimate(corrs []correspondence.Correspondence) (geometry.Homography, error) {
	if len(corrs) < MinPoints {
		return geometry.Homography{}, ErrTooFewPoints
	}

	a := mat.NewDense(2*len(corrs), 9, nil)
	for i, c := range corrs {
		x, y := c.B.X, c.B.Y
		u, v := c.A.X, c.A.Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	// Full factorization so V is 9x9 even for the 8x9 minimal system.
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return geometry.Homography{}, ErrFactorize
	}
	var v mat.Dense
	svd.VTo(&v)

	var h geometry.Homography
	for i := 0; i < 9; i++ {
		h[i] = v.At(i, 8)
	}
	return h, nil
}

// EstimateNormalized is Estimate with Hartley normalization: both point sets
// are translated to their centroid and scaled to a mean distance of sqrt(2)
// before solving, and the result is mapped back to pixel coordinates.
func EstimateNormalized(corrs []correspondence.Correspondence) (geometry.Homography, error) {
	if len(corrs) < MinPoints {
		return geometry.Homography{}, ErrTooFewPoints
	}

	aPts, bPts := correspondence.Split(corrs)
	ta := normalizingTransform(aPts)
	tb := normalizingTransform(bPts)

	normalized := make([]correspondence.Correspondence, len(corrs))
	for i := range corrs {
		normalized[i] = correspondence.Correspondence{
			A: ta.Apply(aPts[i]),
			B: tb.Apply(bPts[i]),
		}
	}

	hn, err := Estimate(normalized)
	if err != nil {
		return geometry.Homography{}, err
	}

	taInv, ok := ta.Inverse()
	if !ok {
		return hn, nil
	}
	return taInv.Compose(hn).Compose(tb), nil
}

// normalizingTransform returns the similarity that moves pts to zero mean and
// mean distance sqrt(2) from the origin.
func normalizingTransform(pts []geometry.Point2D) geometry.Homography {
	c := geometry.Centroid(pts)
	var meanDist float64
	for _, p := range pts {
		meanDist += p.Distance(c)
	}
	meanDist /= float64(len(pts))
	if meanDist == 0 {
		return geometry.TranslationHomography(-c.X, -c.Y)
	}

	s := math.Sqrt2 / meanDist
	return geometry.Homography{
		s, 0, -s * c.X,
		0, s, -s * c.Y,
		0, 0, 1,
	}
}
