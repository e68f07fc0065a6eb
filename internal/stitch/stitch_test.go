package stitch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"panostitch/internal/compose"
	"panostitch/internal/correspondence"
	"panostitch/internal/crop"
	"panostitch/internal/homography"
	panoimage "panostitch/internal/image"
	"panostitch/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// translationMatcher fabricates matches for B translated by a known offset
// relative to A. Offsets are consumed one per Match call.
type translationMatcher struct {
	mu       sync.Mutex
	offsets  []geometry.Point2D
	outliers int
	calls    int
}

func (m *translationMatcher) Match(a, b image.Image) ([]correspondence.Candidate, error) {
	m.mu.Lock()
	off := m.offsets[m.calls%len(m.offsets)]
	m.calls++
	m.mu.Unlock()

	aw, ah := float64(a.Bounds().Dx()), float64(a.Bounds().Dy())
	bw, bh := float64(b.Bounds().Dx()), float64(b.Bounds().Dy())
	x0, x1 := off.X, min(aw, off.X+bw)
	y0, y1 := off.Y, min(ah, off.Y+bh)

	const cols, rows = 6, 5
	var cands []correspondence.Candidate
	for j := 0; j < rows; j++ {
		for i := 0; i < cols; i++ {
			pa := geometry.NewPoint2D(
				x0+2+float64(i)*(x1-x0-6)/(cols-1)+float64(j)*0.37,
				y0+2+float64(j)*(y1-y0-6)/(rows-1)+float64(i)*0.53,
			)
			cands = append(cands, correspondence.Candidate{
				A: pa,
				Neighbors: []correspondence.Neighbor{
					{Point: geometry.NewPoint2D(pa.X-off.X, pa.Y-off.Y), Distance: 5},
					{Point: geometry.NewPoint2D(1, 1), Distance: 50},
				},
			})
		}
	}
	for k := 0; k < m.outliers; k++ {
		cands = append(cands, correspondence.Candidate{
			A: geometry.NewPoint2D(x0+float64(k)*3, y0+float64(k)*2),
			Neighbors: []correspondence.Neighbor{
				{Point: geometry.NewPoint2D(bw-1-float64(k)*5, bh-1-float64(k)), Distance: 5},
				{Point: geometry.NewPoint2D(0, 0), Distance: 50},
			},
		})
	}
	return cands, nil
}

// noiseMatcher reports ratio-passing matches with no geometric consistency.
type noiseMatcher struct{ count int }

func (m noiseMatcher) Match(a, b image.Image) ([]correspondence.Candidate, error) {
	cands := make([]correspondence.Candidate, m.count)
	for i := range cands {
		cands[i] = correspondence.Candidate{
			A: geometry.NewPoint2D(float64(i*37%97), float64(i*53%61)),
			Neighbors: []correspondence.Neighbor{
				{Point: geometry.NewPoint2D(float64(i*71%89), float64(i*29%59)), Distance: 1},
				{Distance: 10},
			},
		}
	}
	return cands, nil
}

type failingMatcher struct{}

func (failingMatcher) Match(a, b image.Image) ([]correspondence.Candidate, error) {
	return nil, errors.New("detector exploded")
}

func scene(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 7 % 251), G: uint8(y * 13 % 241), B: uint8((x*y + x) % 239), A: 255})
		}
	}
	return img
}

func tile(img *image.RGBA, r image.Rectangle) image.Image {
	return panoimage.ToRGBA(img.SubImage(r))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededOptions(seed int64) Options {
	opts := DefaultOptions()
	opts.Seed = seed
	return opts
}

func newTestStitcher(m Matcher, seed int64, extra ...Option) *Stitcher {
	opts := append([]Option{WithOptions(seededOptions(seed)), WithLogger(quietLogger())}, extra...)
	return New(m, opts...)
}

func assertSamePixels(t *testing.T, want, got image.Image) {
	t.Helper()
	require.Equal(t, want.Bounds().Size(), got.Bounds().Size())
	for y := 0; y < want.Bounds().Dy(); y++ {
		for x := 0; x < want.Bounds().Dx(); x++ {
			w := color.RGBAModel.Convert(want.At(want.Bounds().Min.X+x, want.Bounds().Min.Y+y))
			g := color.RGBAModel.Convert(got.At(got.Bounds().Min.X+x, got.Bounds().Min.Y+y))
			if w != g {
				t.Fatalf("pixel (%d,%d): want %v, got %v", x, y, w, g)
			}
		}
	}
}

func TestStitchPairHorizontalTranslation(t *testing.T) {
	const width, overlap = 100, 40
	full := scene(2*width-overlap, 60)
	a := tile(full, image.Rect(0, 0, width, 60))
	b := tile(full, image.Rect(width-overlap, 0, 2*width-overlap, 60))

	m := &translationMatcher{offsets: []geometry.Point2D{{X: width - overlap}}, outliers: 4}
	res, err := newTestStitcher(m, 1).StitchPair(context.Background(), a, b, Horizontal)
	require.NoError(t, err)

	assert.Equal(t, 2*width-overlap, res.Panorama.Bounds().Dx())
	assert.Equal(t, 60, res.Panorama.Bounds().Dy())
	assert.Equal(t, 34, res.Matches)
	assert.LessOrEqual(t, res.Outliers, 4)
	assert.GreaterOrEqual(t, res.Confidence, 88)
	assertSamePixels(t, full, res.Panorama)
}

func TestStitchImagesFoldsLeftToRight(t *testing.T) {
	full := scene(220, 50)
	imgs := []image.Image{
		tile(full, image.Rect(0, 0, 100, 50)),
		tile(full, image.Rect(60, 0, 160, 50)),
		tile(full, image.Rect(120, 0, 220, 50)),
	}
	m := &translationMatcher{offsets: []geometry.Point2D{{X: 60}, {X: 120}}, outliers: 3}

	pano, err := newTestStitcher(m, 3).StitchImages(context.Background(), imgs, Horizontal)
	require.NoError(t, err)
	assertSamePixels(t, full, pano)
	assert.Equal(t, 2, m.calls)
}

func TestStitchImagesVertical(t *testing.T) {
	full := scene(40, 130)
	imgs := []image.Image{
		tile(full, image.Rect(0, 0, 40, 80)),
		tile(full, image.Rect(0, 50, 40, 130)),
	}
	m := &translationMatcher{offsets: []geometry.Point2D{{Y: 50}}}

	pano, err := newTestStitcher(m, 5).StitchImages(context.Background(), imgs, Vertical)
	require.NoError(t, err)
	assertSamePixels(t, full, pano)
}

func TestStitchImagesInsufficientImages(t *testing.T) {
	s := newTestStitcher(failingMatcher{}, 1)
	for _, n := range []int{0, 1} {
		imgs := make([]image.Image, n)
		for i := range imgs {
			imgs[i] = scene(4, 4)
		}
		_, err := s.StitchImages(context.Background(), imgs, Horizontal)
		var insufficient *InsufficientImagesError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, n, insufficient.Count)
	}
}

func TestStitchImagesNoOverlap(t *testing.T) {
	imgs := []image.Image{scene(80, 60), scene(80, 60)}

	_, err := newTestStitcher(noiseMatcher{count: 5}, 1).StitchImages(context.Background(), imgs, Horizontal)
	var insufficient *correspondence.InsufficientMatchesError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 5, insufficient.Found)
	assert.Equal(t, correspondence.DefaultMinMatches, insufficient.Required)

	_, err = newTestStitcher(noiseMatcher{count: 60}, 1).StitchImages(context.Background(), imgs, Horizontal)
	var low *homography.LowConfidenceError
	require.ErrorAs(t, err, &low)
	assert.Less(t, low.Confidence, homography.DefaultMinConfidence)
}

// A failure on a later pair discards everything built so far.
func TestStitchImagesFailsAtomically(t *testing.T) {
	full := scene(220, 50)
	imgs := []image.Image{
		tile(full, image.Rect(0, 0, 100, 50)),
		tile(full, image.Rect(60, 0, 160, 50)),
		scene(100, 50),
	}
	m := &sequenceMatcher{matchers: []Matcher{
		&translationMatcher{offsets: []geometry.Point2D{{X: 60}}},
		noiseMatcher{count: 3},
	}}

	pano, err := newTestStitcher(m, 1).StitchImages(context.Background(), imgs, Horizontal)
	assert.Nil(t, pano)
	var insufficient *correspondence.InsufficientMatchesError
	assert.ErrorAs(t, err, &insufficient)
}

type sequenceMatcher struct {
	matchers []Matcher
	calls    int
}

func (s *sequenceMatcher) Match(a, b image.Image) ([]correspondence.Candidate, error) {
	m := s.matchers[s.calls]
	s.calls++
	return m.Match(a, b)
}

func TestStitchImagesMatcherError(t *testing.T) {
	_, err := newTestStitcher(failingMatcher{}, 1).StitchImages(context.Background(), []image.Image{scene(4, 4), scene(4, 4)}, Horizontal)
	assert.ErrorContains(t, err, "detector exploded")
}

func TestStitchImagesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &translationMatcher{offsets: []geometry.Point2D{{X: 10}}}
	_, err := newTestStitcher(m, 1).StitchImages(ctx, []image.Image{scene(40, 40), scene(40, 40)}, Horizontal)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, m.calls)
}

// Repeated runs with the same seed, and a manual fit + compose with that seed,
// all produce the same pixels.
func TestStitchDeterministicWithSeed(t *testing.T) {
	full := scene(150, 40)
	a := tile(full, image.Rect(0, 0, 90, 40))
	b := tile(full, image.Rect(50, 0, 150, 40))
	newMatcher := func() *translationMatcher {
		return &translationMatcher{offsets: []geometry.Point2D{{X: 50, Y: 0.25}}, outliers: 6}
	}

	first, err := newTestStitcher(newMatcher(), 77).StitchPair(context.Background(), a, b, Horizontal)
	require.NoError(t, err)
	second, err := newTestStitcher(newMatcher(), 77).StitchPair(context.Background(), a, b, Horizontal)
	require.NoError(t, err)
	assert.Equal(t, first.Homography, second.Homography)
	assert.Equal(t, first.Panorama.Pix, second.Panorama.Pix)

	s := newTestStitcher(newMatcher(), 77)
	cands, err := s.matcher.Match(a, b)
	require.NoError(t, err)
	corrs, err := correspondence.Filter(cands, s.opts.Filter)
	require.NoError(t, err)
	fit, err := s.newFitter().Fit(context.Background(), corrs)
	require.NoError(t, err)
	composed, err := compose.NewCompositor(nil).Compose(a, b, fit.H, Horizontal)
	require.NoError(t, err)

	assert.Equal(t, first.Homography, fit.H)
	assert.Equal(t, first.Crop, composed.Crop)
	assert.Equal(t, first.Panorama.Pix, composed.Panorama.Pix)
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, panoimage.Save(p, img, 0))
	return p
}

func TestValidateFiles(t *testing.T) {
	dir := t.TempDir()
	good := writePNG(t, dir, "a.png", scene(4, 4))
	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hi"), 0o644))

	var insufficient *InsufficientImagesError
	require.ErrorAs(t, ValidateFiles([]string{good}), &insufficient)
	assert.Equal(t, 1, insufficient.Count)

	// The count is checked before the files themselves.
	require.ErrorAs(t, ValidateFiles([]string{txt}), &insufficient)

	var invalid *InvalidImageFileError
	require.ErrorAs(t, ValidateFiles([]string{good, txt}), &invalid)
	assert.Equal(t, txt, invalid.Path)

	missing := filepath.Join(dir, "missing.JPG")
	require.ErrorAs(t, ValidateFiles([]string{missing, good}), &invalid)
	assert.Equal(t, missing, invalid.Path)
	assert.Contains(t, invalid.Reason, "does not exist")

	subdir := filepath.Join(dir, "sub.png")
	require.NoError(t, os.Mkdir(subdir, 0o755))
	require.ErrorAs(t, ValidateFiles([]string{good, subdir}), &invalid)
	assert.Equal(t, "not a regular file", invalid.Reason)

	assert.NoError(t, ValidateFiles([]string{good, good}))
}

func TestStitchFilesValidatesBeforeMatching(t *testing.T) {
	dir := t.TempDir()
	good := writePNG(t, dir, "a.png", scene(4, 4))
	m := &translationMatcher{offsets: []geometry.Point2D{{X: 1}}}

	_, err := newTestStitcher(m, 1).StitchFiles(context.Background(), []string{good, good, filepath.Join(dir, "c.txt")}, Horizontal)
	var invalid *InvalidImageFileError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 0, m.calls)
}

func TestStitchAndSaveDefaultOutput(t *testing.T) {
	dir := t.TempDir()
	full := scene(160, 60)
	aPath := writePNG(t, dir, "left.png", full.SubImage(image.Rect(0, 0, 100, 60)))
	bPath := writePNG(t, dir, "right.PNG", full.SubImage(image.Rect(60, 0, 160, 60)))

	outDir := filepath.Join(dir, "output")
	opts := seededOptions(9)
	opts.OutputDir = outDir
	clock := func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	s := New(&translationMatcher{offsets: []geometry.Point2D{{X: 60}}, outliers: 2},
		WithOptions(opts), WithLogger(quietLogger()), WithClock(clock))
	res, err := s.StitchAndSave(context.Background(), []string{aPath, bPath}, Horizontal, "")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(outDir, "stitched_image_20260102_030405.jpg"), res.OutputPath)
	assert.Equal(t, 160, res.Width)
	assert.Equal(t, 60, res.Height)
	require.Len(t, res.Pairs, 1)
	assert.Equal(t, 32, res.Pairs[0].Matches)

	saved, err := panoimage.Load(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 160, 60), saved.Bounds())
}

func TestStitchAndSaveExplicitPNG(t *testing.T) {
	dir := t.TempDir()
	full := scene(160, 60)
	aPath := writePNG(t, dir, "left.png", full.SubImage(image.Rect(0, 0, 100, 60)))
	bPath := writePNG(t, dir, "right.png", full.SubImage(image.Rect(60, 0, 160, 60)))
	out := filepath.Join(dir, "pano.png")

	res, err := newTestStitcher(&translationMatcher{offsets: []geometry.Point2D{{X: 60}}}, 2).
		StitchAndSave(context.Background(), []string{aPath, bPath}, Horizontal, out)
	require.NoError(t, err)
	assert.Equal(t, out, res.OutputPath)

	saved, err := panoimage.Load(out)
	require.NoError(t, err)
	assertSamePixels(t, full, saved)
}

func TestStitchAndSaveRejectsOutputFormat(t *testing.T) {
	m := &translationMatcher{offsets: []geometry.Point2D{{X: 1}}}
	_, err := newTestStitcher(m, 1).StitchAndSave(context.Background(), []string{"a.png", "b.png"}, Horizontal, "out.gif")
	assert.ErrorContains(t, err, "unsupported output format")
	assert.Equal(t, 0, m.calls)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&InsufficientImagesError{Count: 1}, KindInsufficientImages},
		{&InvalidImageFileError{Path: "x.gif"}, KindInvalidImageFile},
		{&correspondence.InsufficientMatchesError{Found: 3, Required: 20}, KindInsufficientMatches},
		{&homography.LowConfidenceError{Confidence: 40}, KindLowConfidence},
		{crop.ErrEmptyCrop, KindEmptyCrop},
		{compose.ErrSingularHomography, KindDegenerate},
		{homography.ErrNoHypothesis, KindDegenerate},
		{panoimage.CheckOutputFormat("out.bmp"), KindUnsupportedOutput},
		{fmt.Errorf("feature matching: %w", errors.New("boom")), ""},
		{context.Canceled, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.err), "%v", tc.err)
	}
}
