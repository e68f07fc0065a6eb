// Package compose warps one image into another's frame and composites the pair
// onto a shared canvas.
package compose

import (
	"errors"
	"image"
	"math"
	"runtime"
	"sync"

	panoimage "panostitch/internal/image"
	"panostitch/pkg/geometry"
)

// ErrSingularHomography is returned when a homography cannot be inverted for
// inverse-mapped warping.
var ErrSingularHomography = errors.New("compose: homography is singular")

// Warper projects src into a width x height canvas through h, where h maps
// src coordinates to canvas coordinates. Pixels that no source pixel maps to
// are black.
type Warper interface {
	WarpPerspective(src *image.RGBA, h geometry.Homography, size geometry.Size) (*image.RGBA, error)
}

// PerspectiveWarper is a pure Go inverse-mapping warper with bilinear sampling
// and a constant black border.
type PerspectiveWarper struct{}

// WarpPerspective implements Warper.
func (PerspectiveWarper) WarpPerspective(src *image.RGBA, h geometry.Homography, size geometry.Size) (*image.RGBA, error) {
	inv, ok := h.Inverse()
	if !ok {
		return nil, ErrSingularHomography
	}

	dst := panoimage.NewCanvas(size.Width, size.Height)
	srcW := src.Bounds().Dx()
	srcH := src.Bounds().Dy()

	// Parallelize by horizontal stripes
	numWorkers := runtime.NumCPU()
	rowsPerWorker := (size.Height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for worker := 0; worker < numWorkers; worker++ {
		startY := worker * rowsPerWorker
		endY := min(startY+rowsPerWorker, size.Height)
		if startY >= size.Height {
			break
		}

		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			for y := yStart; y < yEnd; y++ {
				rowOffset := y * dst.Stride
				for x := 0; x < size.Width; x++ {
					sx, sy, sw := inv.ApplyHomogeneous(geometry.Point2D{X: float64(x), Y: float64(y)})
					if sw == 0 {
						continue
					}
					sx /= sw
					sy /= sw
					if sx <= -1 || sy <= -1 || sx >= float64(srcW) || sy >= float64(srcH) {
						continue
					}
					sampleBilinear(src, srcW, srcH, sx, sy, dst.Pix[rowOffset+x*4:rowOffset+x*4+3])
				}
			}
		}(startY, endY)
	}
	wg.Wait()

	return dst, nil
}

// sampleBilinear writes the RGB value at (sx, sy) into out. Neighbours outside
// the source contribute black.
func sampleBilinear(src *image.RGBA, w, h int, sx, sy float64, out []uint8) {
	x0 := int(math.Floor(sx))
	y0 := int(math.Floor(sy))
	fx := sx - float64(x0)
	fy := sy - float64(y0)

	weights := [4]float64{
		(1 - fx) * (1 - fy),
		fx * (1 - fy),
		(1 - fx) * fy,
		fx * fy,
	}
	coords := [4][2]int{{x0, y0}, {x0 + 1, y0}, {x0, y0 + 1}, {x0 + 1, y0 + 1}}

	var acc [3]float64
	for i, c := range coords {
		if weights[i] == 0 || c[0] < 0 || c[1] < 0 || c[0] >= w || c[1] >= h {
			continue
		}
		off := c[1]*src.Stride + c[0]*4
		acc[0] += weights[i] * float64(src.Pix[off])
		acc[1] += weights[i] * float64(src.Pix[off+1])
		acc[2] += weights[i] * float64(src.Pix[off+2])
	}
	for i := range acc {
		out[i] = uint8(math.Min(255, acc[i]+0.5))
	}
}
