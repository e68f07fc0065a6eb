// Package crop computes the rectangle that trims warp padding from a stitched
// canvas.
package crop

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"panostitch/pkg/geometry"
)

// Direction is the axis along which the second image is attached. The numeric
// values match the canvas orientation flag of the command line and HTTP API.
type Direction int

const (
	Vertical   Direction = 0 // B is attached below A
	Horizontal Direction = 1 // B is attached to the right of A
)

func (d Direction) String() string {
	switch d {
	case Horizontal:
		return "horizontal"
	case Vertical:
		return "vertical"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection accepts "horizontal", "h", "1", "vertical", "v" or "0".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "horizontal", "h", "1":
		return Horizontal, nil
	case "vertical", "v", "0":
		return Vertical, nil
	}
	return 0, fmt.Errorf("unknown stitch direction %q (want horizontal or vertical)", s)
}

// ErrEmptyCrop is returned when the warped image leaves no usable area.
var ErrEmptyCrop = errors.New("crop: warped image leaves an empty crop region")

// Rect is a half-open pixel rectangle [XStart, XEnd) x [YStart, YEnd) in
// canvas coordinates.
type Rect struct {
	XStart int `json:"x_start"`
	YStart int `json:"y_start"`
	XEnd   int `json:"x_end"`
	YEnd   int `json:"y_end"`
}

// Width returns the rectangle width.
func (r Rect) Width() int { return r.XEnd - r.XStart }

// Height returns the rectangle height.
func (r Rect) Height() int { return r.YEnd - r.YStart }

// CanvasSize returns the size of the canvas that B is warped onto.
func CanvasSize(a, b geometry.Size, dir Direction) geometry.Size {
	if dir == Horizontal {
		return geometry.NewSize(a.Width+b.Width, a.Height)
	}
	return geometry.NewSize(a.Width, a.Height+b.Height)
}

// Compute returns the crop rectangle for the canvas produced by warping B
// through h (B -> A) next to A. The cut follows the straight edges of the
// warped B; it does not remove skew beyond the first straight cut.
func Compute(h geometry.Homography, a, b geometry.Size, dir Direction) (Rect, error) {
	c := b.Corners()
	tl := h.Apply(c[0])
	tr := h.Apply(c[1])
	br := h.Apply(c[2])
	bl := h.Apply(c[3])

	var xStart, yStart, xEnd, yEnd float64
	switch dir {
	case Horizontal:
		xStart = 0
		yStart = math.Max(tl.Y, tr.Y)
		if yStart < 0 {
			yStart = 0
		}
		yEnd = math.Min(bl.Y, br.Y)
		if yEnd >= float64(a.Height) {
			yEnd = float64(a.Height)
		}
		xEnd = math.Min(tr.X, br.X)
	case Vertical:
		yStart = 0
		xStart = math.Max(tl.X, bl.X)
		if xStart < 0 {
			xStart = 0
		}
		xEnd = math.Min(tr.X, br.X)
		if xEnd >= float64(a.Width) {
			xEnd = float64(a.Width)
		}
		yEnd = math.Min(bl.Y, br.Y)
	default:
		return Rect{}, fmt.Errorf("crop: unknown direction %v", dir)
	}

	canvas := CanvasSize(a, b, dir)
	r := Rect{
		XStart: clamp(truncate(xStart), 0, canvas.Width),
		YStart: clamp(truncate(yStart), 0, canvas.Height),
		XEnd:   clamp(truncate(xEnd), 0, canvas.Width),
		YEnd:   clamp(truncate(yEnd), 0, canvas.Height),
	}
	if r.XStart >= r.XEnd || r.YStart >= r.YEnd {
		return Rect{}, ErrEmptyCrop
	}
	return r, nil
}

// snapTolerance absorbs floating point noise from the homography so that a
// corner landing on 159.9999999 is cut at 160, not 159.
const snapTolerance = 1e-6

// truncate converts toward zero after snapping values within snapTolerance of
// an integer, mapping NaN to 0 and saturating infinities.
func truncate(v float64) int {
	if r := math.Round(v); math.Abs(v-r) < snapTolerance {
		v = r
	}
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt32:
		return math.MaxInt32
	case v < math.MinInt32:
		return math.MinInt32
	}
	return int(v)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
