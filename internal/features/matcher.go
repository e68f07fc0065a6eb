package features

import (
	"fmt"
	"image"
	"strings"

	"panostitch/internal/compose"
	"panostitch/internal/correspondence"
	panoimage "panostitch/internal/image"
	"panostitch/pkg/geometry"

	"gocv.io/x/gocv"
)

// Detector names a keypoint detector/descriptor.
type Detector string

const (
	DetectorORB  Detector = "orb"
	DetectorSIFT Detector = "sift"
)

// ParseDetector validates a detector name.
func ParseDetector(s string) (Detector, error) {
	switch d := Detector(strings.ToLower(strings.TrimSpace(s))); d {
	case DetectorORB, DetectorSIFT:
		return d, nil
	case "":
		return DetectorSIFT, nil
	}
	return "", fmt.Errorf("unknown feature detector %q (want orb or sift)", s)
}

// detectorComputer is the subset of gocv's feature detectors used here.
type detectorComputer interface {
	DetectAndCompute(src gocv.Mat, mask gocv.Mat) ([]gocv.KeyPoint, gocv.Mat)
	Close() error
}

// Matcher finds keypoints in both images and reports, for every keypoint in A,
// its two nearest neighbours among B's descriptors. It is safe for concurrent
// use; OpenCV objects are created per call.
type Matcher struct {
	detector Detector
}

// NewMatcher creates a Matcher for the given detector.
func NewMatcher(d Detector) *Matcher {
	return &Matcher{detector: d}
}

func (m *Matcher) newDetector() (detectorComputer, gocv.NormType) {
	if m.detector == DetectorORB {
		orb := gocv.NewORB()
		return &orb, gocv.NormHamming
	}
	sift := gocv.NewSIFT()
	return &sift, gocv.NormL2
}

// Match implements stitch.Matcher.
func (m *Matcher) Match(a, b image.Image) ([]correspondence.Candidate, error) {
	det, norm := m.newDetector()
	defer det.Close()

	kpA, descA := detect(det, panoimage.ToRGBA(a))
	defer descA.Close()
	kpB, descB := detect(det, panoimage.ToRGBA(b))
	defer descB.Close()

	if descA.Empty() || descB.Empty() || len(kpB) < 2 {
		return nil, nil
	}

	bf := gocv.NewBFMatcherWithParams(norm, false)
	defer bf.Close()

	knn := bf.KnnMatch(descA, descB, 2)
	cands := make([]correspondence.Candidate, 0, len(knn))
	for _, row := range knn {
		if len(row) == 0 {
			continue
		}
		q := kpA[row[0].QueryIdx]
		cand := correspondence.Candidate{
			A:         geometry.NewPoint2D(q.X, q.Y),
			Neighbors: make([]correspondence.Neighbor, 0, len(row)),
		}
		for _, dm := range row {
			t := kpB[dm.TrainIdx]
			cand.Neighbors = append(cand.Neighbors, correspondence.Neighbor{
				Point:    geometry.NewPoint2D(t.X, t.Y),
				Distance: float64(dm.Distance),
			})
		}
		cands = append(cands, cand)
	}
	return cands, nil
}

// detect runs the detector on the grayscale version of img.
func detect(det detectorComputer, img *image.RGBA) ([]gocv.KeyPoint, gocv.Mat) {
	bgr := imageToMat(img)
	defer bgr.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)

	mask := gocv.NewMat()
	defer mask.Close()

	return det.DetectAndCompute(gray, mask)
}

// CVWarper warps with OpenCV's warpPerspective (bilinear, constant black border).
type CVWarper struct{}

var _ compose.Warper = CVWarper{}

// WarpPerspective implements compose.Warper.
func (CVWarper) WarpPerspective(src *image.RGBA, h geometry.Homography, size geometry.Size) (*image.RGBA, error) {
	if _, ok := h.Inverse(); !ok {
		return nil, compose.ErrSingularHomography
	}

	mat := imageToMat(src)
	defer mat.Close()

	// Create transform matrix for GoCV
	transformMat := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer transformMat.Close()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			transformMat.SetDoubleAt(r, c, h.At(r, c))
		}
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.WarpPerspective(mat, &dst, transformMat, image.Point{X: size.Width, Y: size.Height})

	return matToImage(dst), nil
}
