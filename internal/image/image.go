// Package image provides image loading, saving and pixel buffer conversion.
package image

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

// DefaultJPEGQuality is used when saving JPEG output without an explicit quality.
const DefaultJPEGQuality = 95

// SupportedFormats returns the list of supported input image formats.
func SupportedFormats() []string {
	return []string{".png", ".jpg", ".jpeg"}
}

// IsSupportedFormat checks if the given path has a supported image format.
// Only the file name is inspected.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}

// Load decodes the image at path.
func Load(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// Save encodes img to path, choosing PNG or JPEG from the file extension.
// quality <= 0 uses DefaultJPEGQuality.
func Save(path string, img image.Image, quality int) error {
	if err := CheckOutputFormat(path); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(file, img)
	default:
		if quality <= 0 {
			quality = DefaultJPEGQuality
		}
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: quality})
	}
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return file.Close()
}

// ErrUnsupportedOutput is returned for output paths Save cannot encode.
var ErrUnsupportedOutput = errors.New("unsupported output format")

// CheckOutputFormat returns an error if path does not name a format Save can write.
func CheckOutputFormat(path string) error {
	if !IsSupportedFormat(path) {
		return fmt.Errorf("%w %q (want .jpg, .jpeg or .png)", ErrUnsupportedOutput, filepath.Ext(path))
	}
	return nil
}

// DefaultOutputName returns the auto-generated file name for a stitch made at t.
func DefaultOutputName(t time.Time) string {
	return fmt.Sprintf("stitched_image_%s.jpg", t.Format("20060102_150405"))
}

// ToRGBA returns an opaque RGBA copy of img with bounds starting at (0, 0).
// The source image is never modified.
func ToRGBA(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	forceOpaque(dst)
	return dst
}

// NewCanvas allocates an opaque black RGBA image.
func NewCanvas(width, height int) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.RGBA{A: 255}}, image.Point{}, draw.Src)
	return canvas
}

// forceOpaque sets every alpha byte to 255, splitting rows across CPUs.
func forceOpaque(img *image.RGBA) {
	h := img.Bounds().Dy()
	w := img.Bounds().Dx()

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
				row := img.Pix[y*img.Stride : y*img.Stride+w*4]
				for x := 3; x < len(row); x += 4 {
					row[x] = 255
				}
			}
		}(startY, endY)
	}
	wg.Wait()
}
