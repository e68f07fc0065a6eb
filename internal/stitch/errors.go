package stitch

import (
	"errors"
	"fmt"

	"panostitch/internal/compose"
	"panostitch/internal/correspondence"
	"panostitch/internal/crop"
	"panostitch/internal/homography"
	panoimage "panostitch/internal/image"
)

// InsufficientImagesError is returned when fewer than two images are supplied.
type InsufficientImagesError struct {
	Count int
}

func (e *InsufficientImagesError) Error() string {
	return fmt.Sprintf("need at least 2 images to stitch, got %d", e.Count)
}

// InvalidImageFileError is returned when an input is missing or is not a
// supported image file.
type InvalidImageFileError struct {
	Path   string
	Reason string
}

func (e *InvalidImageFileError) Error() string {
	return fmt.Sprintf("invalid image file %s: %s", e.Path, e.Reason)
}

// Error kinds reported by Classify.
const (
	KindInsufficientImages  = "insufficient_images"
	KindInvalidImageFile    = "invalid_image_file"
	KindInsufficientMatches = "insufficient_matches"
	KindLowConfidence       = "low_confidence"
	KindEmptyCrop           = "empty_crop"
	KindDegenerate          = "degenerate_homography"
	KindUnsupportedOutput   = "unsupported_output"
)

// Classify names the pipeline failure behind err, or returns "" when err is
// not one of the pipeline's typed errors (I/O failures, cancellation).
func Classify(err error) string {
	var (
		images  *InsufficientImagesError
		file    *InvalidImageFileError
		matches *correspondence.InsufficientMatchesError
		conf    *homography.LowConfidenceError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &images):
		return KindInsufficientImages
	case errors.As(err, &file):
		return KindInvalidImageFile
	case errors.As(err, &matches):
		return KindInsufficientMatches
	case errors.As(err, &conf):
		return KindLowConfidence
	case errors.Is(err, crop.ErrEmptyCrop):
		return KindEmptyCrop
	case errors.Is(err, compose.ErrSingularHomography), errors.Is(err, homography.ErrNoHypothesis):
		return KindDegenerate
	case errors.Is(err, panoimage.ErrUnsupportedOutput):
		return KindUnsupportedOutput
	}
	return ""
}
