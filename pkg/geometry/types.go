// Package geometry provides basic geometric types used throughout the application.
package geometry

import (
	"math"
)

// Point2D represents a 2D point with floating-point coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPoint2D creates a new Point2D.
func NewPoint2D(x, y float64) Point2D {
	return Point2D{X: x, Y: y}
}

// Distance returns the Euclidean distance to another point.
func (p Point2D) Distance(other Point2D) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Size represents a 2D size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewSize creates a new Size.
func NewSize(width, height int) Size {
	return Size{Width: width, Height: height}
}

// Corners returns the four corners of a width x height extent in the order
// top-left, top-right, bottom-right, bottom-left.
func (s Size) Corners() [4]Point2D {
	w, h := float64(s.Width), float64(s.Height)
	return [4]Point2D{
		{X: 0, Y: 0},
		{X: w, Y: 0},
		{X: w, Y: h},
		{X: 0, Y: h},
	}
}

// Homography is a 3x3 projective transform stored row-major.
// [h0 h1 h2]
// [h3 h4 h5]
// [h6 h7 h8]
// It is defined up to scale.
type Homography [9]float64

// IdentityHomography returns the identity transform.
func IdentityHomography() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// TranslationHomography returns a pure translation.
func TranslationHomography(tx, ty float64) Homography {
	return Homography{1, 0, tx, 0, 1, ty, 0, 0, 1}
}

// At returns the element at row r, column c.
func (h Homography) At(r, c int) float64 {
	return h[r*3+c]
}

// ApplyHomogeneous maps (x, y, 1) and returns the unnormalized result.
func (h Homography) ApplyHomogeneous(p Point2D) (x, y, w float64) {
	x = h[0]*p.X + h[1]*p.Y + h[2]
	y = h[3]*p.X + h[4]*p.Y + h[5]
	w = h[6]*p.X + h[7]*p.Y + h[8]
	return x, y, w
}

// Apply maps a point through the transform, dividing by the projective scale.
func (h Homography) Apply(p Point2D) Point2D {
	x, y, w := h.ApplyHomogeneous(p)
	return Point2D{X: x / w, Y: y / w}
}

// Compose returns this transform composed with another (this * other).
func (h Homography) Compose(other Homography) Homography {
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += h[r*3+k] * other[k*3+c]
			}
			out[r*3+c] = sum
		}
	}
	return out
}

// Normalized returns the transform scaled so that h8 == 1.
// Returns the receiver unchanged if h8 is zero.
func (h Homography) Normalized() Homography {
	if h[8] == 0 {
		return h
	}
	var out Homography
	for i := range h {
		out[i] = h[i] / h[8]
	}
	return out
}

// Det returns the determinant.
func (h Homography) Det() float64 {
	return h[0]*(h[4]*h[8]-h[5]*h[7]) -
		h[1]*(h[3]*h[8]-h[5]*h[6]) +
		h[2]*(h[3]*h[7]-h[4]*h[6])
}

// singularTol is the smallest |det| accepted, relative to the product of the
// row norms. The ratio does not change when h is rescaled.
const singularTol = 1e-12

// Inverse returns the inverse transform, if it exists.
func (h Homography) Inverse() (Homography, bool) {
	det := h.Det()
	bound := math.Hypot(math.Hypot(h[0], h[1]), h[2]) *
		math.Hypot(math.Hypot(h[3], h[4]), h[5]) *
		math.Hypot(math.Hypot(h[6], h[7]), h[8])
	if bound == 0 || !(math.Abs(det) >= singularTol*bound) {
		return Homography{}, false
	}

	invDet := 1.0 / det
	return Homography{
		(h[4]*h[8] - h[5]*h[7]) * invDet,
		(h[2]*h[7] - h[1]*h[8]) * invDet,
		(h[1]*h[5] - h[2]*h[4]) * invDet,
		(h[5]*h[6] - h[3]*h[8]) * invDet,
		(h[0]*h[8] - h[2]*h[6]) * invDet,
		(h[2]*h[3] - h[0]*h[5]) * invDet,
		(h[3]*h[7] - h[4]*h[6]) * invDet,
		(h[1]*h[6] - h[0]*h[7]) * invDet,
		(h[0]*h[4] - h[1]*h[3]) * invDet,
	}, true
}

// FromMatrix creates a Homography from a [3][3]float64 array.
func FromMatrix(m [3][3]float64) Homography {
	return Homography{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	}
}

// Centroid computes the centroid (average position) of a set of points.
func Centroid(points []Point2D) Point2D {
	if len(points) == 0 {
		return Point2D{}
	}
	var sumX, sumY float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
	}
	n := float64(len(points))
	return Point2D{X: sumX / n, Y: sumY / n}
}
