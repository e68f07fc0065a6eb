package compose

import (
	"fmt"
	"image"

	"panostitch/internal/crop"
	panoimage "panostitch/internal/image"
	"panostitch/pkg/geometry"

	"golang.org/x/image/draw"
)

// Result holds a composited and cropped pair.
type Result struct {
	Panorama *image.RGBA
	Crop     crop.Rect     // Crop rectangle in canvas coordinates
	Canvas   geometry.Size // Size of the uncropped canvas
}

// Compositor warps B into A's frame and overlays A.
type Compositor struct {
	warper Warper
}

// NewCompositor creates a Compositor using w; nil selects PerspectiveWarper.
func NewCompositor(w Warper) *Compositor {
	if w == nil {
		w = PerspectiveWarper{}
	}
	return &Compositor{warper: w}
}

// Compose warps b through h (B -> A) onto a canvas sized for dir, copies a's
// pixels over its own region (a always wins in the overlap), and returns a
// freshly allocated crop of the canvas.
func (c *Compositor) Compose(a, b image.Image, h geometry.Homography, dir crop.Direction) (*Result, error) {
	aSize := geometry.NewSize(a.Bounds().Dx(), a.Bounds().Dy())
	bSize := geometry.NewSize(b.Bounds().Dx(), b.Bounds().Dy())

	rect, err := crop.Compute(h, aSize, bSize, dir)
	if err != nil {
		return nil, err
	}

	canvasSize := crop.CanvasSize(aSize, bSize, dir)
	canvas, err := c.warper.WarpPerspective(panoimage.ToRGBA(b), h, canvasSize)
	if err != nil {
		return nil, fmt.Errorf("warp: %w", err)
	}

	draw.Draw(canvas, image.Rect(0, 0, aSize.Width, aSize.Height), panoimage.ToRGBA(a), image.Point{}, draw.Src)

	out := image.NewRGBA(image.Rect(0, 0, rect.Width(), rect.Height()))
	draw.Draw(out, out.Bounds(), canvas, image.Pt(rect.XStart, rect.YStart), draw.Src)

	return &Result{
		Panorama: out,
		Crop:     rect,
		Canvas:   canvasSize,
	}, nil
}
