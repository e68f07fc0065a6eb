// Package overlay draws diagnostic views of a pairwise stitch: match lines
// between the two inputs and the outline of a warped image.
package overlay

import (
	"image"
	"image/color"
	"math"

	"panostitch/internal/correspondence"
	"panostitch/internal/crop"
	panoimage "panostitch/internal/image"
	"panostitch/pkg/geometry"

	"golang.org/x/image/draw"
)

// Colors used for diagnostics.
var (
	InlierColor  = color.RGBA{0, 220, 0, 255}
	OutlierColor = color.RGBA{230, 30, 30, 255}
	OutlineColor = color.RGBA{255, 220, 0, 255}
)

// Options configures how matches are drawn.
type Options struct {
	PointRadius   int  // Keypoint circle radius in pixels
	LineThickness int  // Match line thickness
	DrawOutliers  bool // Draw rejected matches as well as inliers
}

// DefaultOptions returns default rendering options.
func DefaultOptions() Options {
	return Options{
		PointRadius:   3,
		LineThickness: 1,
		DrawOutliers:  true,
	}
}

// Matches places a and b side by side (b right of a when dir is Horizontal,
// below otherwise) and joins each correspondence with a line. Indices listed
// in inliers are drawn in InlierColor, the rest in OutlierColor.
func Matches(a, b image.Image, corrs []correspondence.Correspondence, inliers []int, dir crop.Direction, opts Options) *image.RGBA {
	aw, ah := a.Bounds().Dx(), a.Bounds().Dy()
	bw, bh := b.Bounds().Dx(), b.Bounds().Dy()

	var size, offset image.Point
	if dir == crop.Horizontal {
		size = image.Pt(aw+bw, max(ah, bh))
		offset = image.Pt(aw, 0)
	} else {
		size = image.Pt(max(aw, bw), ah+bh)
		offset = image.Pt(0, ah)
	}

	img := panoimage.NewCanvas(size.X, size.Y)
	draw.Draw(img, image.Rect(0, 0, aw, ah), a, a.Bounds().Min, draw.Src)
	draw.Draw(img, image.Rect(offset.X, offset.Y, offset.X+bw, offset.Y+bh), b, b.Bounds().Min, draw.Src)

	isInlier := make([]bool, len(corrs))
	for _, i := range inliers {
		if i >= 0 && i < len(corrs) {
			isInlier[i] = true
		}
	}

	// Outliers first so inliers stay visible where they cross.
	for pass := 0; pass < 2; pass++ {
		for i, c := range corrs {
			in := isInlier[i]
			if (pass == 0) == in || (!in && !opts.DrawOutliers) {
				continue
			}
			col := OutlierColor
			if in {
				col = InlierColor
			}
			bx := c.B.X + float64(offset.X)
			by := c.B.Y + float64(offset.Y)
			drawThickLine(img, c.A.X, c.A.Y, bx, by, opts.LineThickness, col)
			drawCircle(img, int(math.Round(c.A.X)), int(math.Round(c.A.Y)), opts.PointRadius, col)
			drawCircle(img, int(math.Round(bx)), int(math.Round(by)), opts.PointRadius, col)
		}
	}
	return img
}

// Quad draws the outline of an image of size s warped through h onto img.
func Quad(img *image.RGBA, h geometry.Homography, s geometry.Size, thickness int, c color.RGBA) {
	corners := s.Corners()
	for i := range corners {
		p := h.Apply(corners[i])
		q := h.Apply(corners[(i+1)%len(corners)])
		drawThickLine(img, p.X, p.Y, q.X, q.Y, thickness, c)
	}
}

// Rect draws the outline of a crop rectangle onto img.
func Rect(img *image.RGBA, r crop.Rect, c color.RGBA) {
	drawRect(img, r.XStart, r.YStart, r.XEnd-1, r.YEnd-1, c)
}

// drawCircle draws a circle outline using Bresenham's algorithm.
func drawCircle(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	bounds := img.Bounds()

	setPixel := func(x, y int) {
		if image.Pt(x, y).In(bounds) {
			img.SetRGBA(x, y, c)
		}
	}

	x := r
	y := 0
	err := 0

	for x >= y {
		setPixel(cx+x, cy+y)
		setPixel(cx+y, cy+x)
		setPixel(cx-y, cy+x)
		setPixel(cx-x, cy+y)
		setPixel(cx-x, cy-y)
		setPixel(cx-y, cy-x)
		setPixel(cx+y, cy-x)
		setPixel(cx+x, cy-y)

		y++
		if err <= 0 {
			err += 2*y + 1
		}
		if err > 0 {
			x--
			err -= 2*x + 1
		}
	}
}

// maxLineLength bounds the work for lines through wildly warped corners.
const maxLineLength = 1 << 16

// drawThickLine draws a line with given thickness as parallel one-pixel lines.
func drawThickLine(img *image.RGBA, x1, y1, x2, y2 float64, thickness int, c color.RGBA) {
	dx := x2 - x1
	dy := y2 - y1
	length := math.Sqrt(dx*dx + dy*dy)
	if length == 0 || !(length < maxLineLength) {
		return
	}

	// Perpendicular unit vector
	px := -dy / length
	py := dx / length

	if thickness < 1 {
		thickness = 1
	}
	halfThick := float64(thickness-1) / 2

	for t := -halfThick; t <= halfThick; t += 1.0 {
		drawLine(img,
			int(math.Round(x1+px*t)), int(math.Round(y1+py*t)),
			int(math.Round(x2+px*t)), int(math.Round(y2+py*t)),
			c)
	}
}

// drawLine draws a line using Bresenham's algorithm, clipping to img.
func drawLine(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	bounds := img.Bounds()
	dx := abs(x2 - x1)
	dy := abs(y2 - y1)

	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}

	err := dx - dy

	for {
		if image.Pt(x1, y1).In(bounds) {
			img.SetRGBA(x1, y1, c)
		}

		if x1 == x2 && y1 == y2 {
			break
		}

		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

// drawRect draws a rectangle outline with inclusive corners.
func drawRect(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	drawLine(img, x1, y1, x2, y1, c)
	drawLine(img, x2, y1, x2, y2, c)
	drawLine(img, x2, y2, x1, y2, c)
	drawLine(img, x1, y2, x1, y1, c)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
