// Package features implements the OpenCV-backed collaborators of the stitch
// pipeline: keypoint detection and descriptor matching, and perspective
// warping.
package features

import (
	"image"
	"runtime"
	"sync"

	"gocv.io/x/gocv"
)

// imageToMat converts an image.RGBA to a BGR gocv.Mat.
func imageToMat(img *image.RGBA) gocv.Mat {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	// Create BGR Mat (OpenCV default)
	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)

	// Parallelize by horizontal stripes
	numWorkers := runtime.NumCPU()
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		endY := min(startY+rowsPerWorker, height)
		if startY >= height {
			break
		}

		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			for y := yStart; y < yEnd; y++ {
				for x := 0; x < width; x++ {
					off := img.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
					mat.SetUCharAt(y, x*3+0, img.Pix[off+2])
					mat.SetUCharAt(y, x*3+1, img.Pix[off+1])
					mat.SetUCharAt(y, x*3+2, img.Pix[off+0])
				}
			}
		}(startY, endY)
	}
	wg.Wait()

	return mat
}

// matToImage converts a BGR gocv.Mat to an opaque image.RGBA.
func matToImage(mat gocv.Mat) *image.RGBA {
	h := mat.Rows()
	w := mat.Cols()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	stride := img.Stride

	numWorkers := runtime.NumCPU()
	rowsPerWorker := (h + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for worker := 0; worker < numWorkers; worker++ {
		startY := worker * rowsPerWorker
		endY := min(startY+rowsPerWorker, h)
		if startY >= h {
			break
		}

		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			for y := yStart; y < yEnd; y++ {
				rowOffset := y * stride
				for x := 0; x < w; x++ {
					pixOffset := rowOffset + x*4
					img.Pix[pixOffset+0] = mat.GetUCharAt(y, x*3+2) // R
					img.Pix[pixOffset+1] = mat.GetUCharAt(y, x*3+1) // G
					img.Pix[pixOffset+2] = mat.GetUCharAt(y, x*3+0) // B
					img.Pix[pixOffset+3] = 255
				}
			}
		}(startY, endY)
	}
	wg.Wait()

	return img
}
