package overlay

import (
	"image"
	"image/color"
	"testing"

	"panostitch/internal/correspondence"
	"panostitch/internal/crop"
	"panostitch/pkg/geometry"

	"github.com/stretchr/testify/assert"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestMatchesLayout(t *testing.T) {
	gray := color.RGBA{100, 100, 100, 255}
	a := solid(40, 30, gray)
	b := solid(20, 50, gray)

	h := Matches(a, b, nil, nil, crop.Horizontal, DefaultOptions())
	assert.Equal(t, image.Rect(0, 0, 60, 50), h.Bounds())
	assert.Equal(t, gray, h.RGBAAt(10, 10))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, h.RGBAAt(10, 40))
	assert.Equal(t, gray, h.RGBAAt(50, 40))

	v := Matches(a, b, nil, nil, crop.Vertical, DefaultOptions())
	assert.Equal(t, image.Rect(0, 0, 40, 80), v.Bounds())
	assert.Equal(t, gray, v.RGBAAt(5, 75))
}

func TestMatchesColorsInliersAndOutliers(t *testing.T) {
	a := solid(40, 40, color.RGBA{0, 0, 0, 255})
	b := solid(40, 40, color.RGBA{0, 0, 0, 255})
	corrs := []correspondence.Correspondence{
		{A: geometry.NewPoint2D(10, 10), B: geometry.NewPoint2D(10, 10)},
		{A: geometry.NewPoint2D(10, 30), B: geometry.NewPoint2D(10, 30)},
	}

	img := Matches(a, b, corrs, []int{0}, crop.Horizontal, DefaultOptions())
	// Horizontal match lines pass through the midpoint between the images.
	assert.Equal(t, InlierColor, img.RGBAAt(40, 10))
	assert.Equal(t, OutlierColor, img.RGBAAt(40, 30))

	opts := DefaultOptions()
	opts.DrawOutliers = false
	img = Matches(a, b, corrs, []int{0}, crop.Horizontal, opts)
	assert.Equal(t, InlierColor, img.RGBAAt(40, 10))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(40, 30))
}

func TestQuadAndRect(t *testing.T) {
	img := solid(50, 50, color.RGBA{0, 0, 0, 255})
	Quad(img, geometry.TranslationHomography(5, 5), geometry.NewSize(20, 10), 1, OutlineColor)
	assert.Equal(t, OutlineColor, img.RGBAAt(5, 5))
	assert.Equal(t, OutlineColor, img.RGBAAt(25, 15))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(15, 10))

	Rect(img, crop.Rect{XStart: 30, YStart: 30, XEnd: 40, YEnd: 45}, InlierColor)
	assert.Equal(t, InlierColor, img.RGBAAt(30, 30))
	assert.Equal(t, InlierColor, img.RGBAAt(39, 44))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(40, 45))
}

func TestQuadIgnoresDegenerateWarp(t *testing.T) {
	img := solid(10, 10, color.RGBA{0, 0, 0, 255})
	h := geometry.FromMatrix([3][3]float64{{1, 0, 0}, {0, 1, 0}, {1, 0, 0}})
	assert.NotPanics(t, func() { Quad(img, h, geometry.NewSize(10, 10), 2, OutlineColor) })
}
