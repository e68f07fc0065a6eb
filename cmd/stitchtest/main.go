// Command stitchtest runs matching, RANSAC and cropping on one image pair and
// prints the intermediate results.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"time"

	"panostitch/internal/compose"
	"panostitch/internal/correspondence"
	"panostitch/internal/crop"
	"panostitch/internal/features"
	"panostitch/internal/homography"
	panoimage "panostitch/internal/image"
	"panostitch/internal/logging"
	"panostitch/internal/overlay"
	"panostitch/pkg/geometry"

	"golang.org/x/image/draw"
)

func main() {
	pathA := flag.String("a", "", "Path to the pivot image (left or top)")
	pathB := flag.String("b", "", "Path to the image to attach")
	dirFlag := flag.String("dir", "horizontal", "Stitch direction: horizontal or vertical")
	detFlag := flag.String("detector", "sift", "Feature detector: sift or orb")
	seed := flag.Int64("seed", 1, "RANSAC seed")
	normalize := flag.Bool("normalize", false, "Use Hartley normalization in the DLT")
	output := flag.String("o", "", "Optional path to save the cropped panorama")
	matchesOut := flag.String("matches", "", "Optional path to save a match visualisation")
	outlineOut := flag.String("outline", "", "Optional path to save A with the warped B outline and crop")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	if *pathA == "" || *pathB == "" {
		fmt.Println("Usage: stitchtest -a <image> -b <image> [-dir horizontal|vertical] [-detector sift|orb] [-seed N] [-o out.png] [-matches m.png] [-outline o.png]")
		os.Exit(1)
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	log := logging.New(os.Stderr, level, "traditional")

	dir, err := crop.ParseDirection(*dirFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	det, err := features.ParseDetector(*detFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	imgA, err := panoimage.Load(*pathA)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load A: %v\n", err)
		os.Exit(1)
	}
	imgB, err := panoimage.Load(*pathB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load B: %v\n", err)
		os.Exit(1)
	}
	sizeA := geometry.NewSize(imgA.Bounds().Dx(), imgA.Bounds().Dy())
	sizeB := geometry.NewSize(imgB.Bounds().Dx(), imgB.Bounds().Dy())
	fmt.Printf("A: %s (%dx%d)\n", *pathA, sizeA.Width, sizeA.Height)
	fmt.Printf("B: %s (%dx%d)\n", *pathB, sizeB.Width, sizeB.Height)

	// Step 1: features
	fmt.Printf("\n=== Matching (%s) ===\n", det)
	start := time.Now()
	cands, err := features.NewMatcher(det).Match(imgA, imgB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Matching failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Candidates: %d (%.0f ms)\n", len(cands), time.Since(start).Seconds()*1000)

	// Step 2: ratio test
	corrs, err := correspondence.Filter(cands, correspondence.DefaultOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ratio test: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Ratio-test matches: %d\n", len(corrs))

	// Step 3: RANSAC
	fmt.Printf("\n=== RANSAC ===\n")
	opts := homography.DefaultOptions()
	opts.Normalize = *normalize
	fitter := homography.NewFitter(opts, rand.New(rand.NewSource(*seed)), log)
	fit, err := fitter.Fit(context.Background(), corrs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fit failed: %v\n", err)
		os.Exit(1)
	}
	h := fit.H.Normalized()
	fmt.Printf("Iterations: %d\n", fit.Iterations)
	fmt.Printf("Outliers: %d / %d\n", fit.Outliers, len(corrs))
	fmt.Printf("Confidence: %d%%\n", fit.Confidence)
	fmt.Printf("Homography (B -> A, h22 = 1):\n")
	for r := 0; r < 3; r++ {
		fmt.Printf("  [% 12.6f % 12.6f % 12.6f]\n", h.At(r, 0), h.At(r, 1), h.At(r, 2))
	}
	printResiduals(corrs, fit.Inliers, fit.H)
	if *matchesOut != "" {
		vis := overlay.Matches(imgA, imgB, corrs, fit.Inliers, dir, overlay.DefaultOptions())
		if err := panoimage.Save(*matchesOut, vis, 0); err != nil {
			fmt.Fprintf(os.Stderr, "Save matches failed: %v\n", err)
			os.Exit(1)
		}
	}

	// Step 4: crop
	fmt.Printf("\n=== Crop ===\n")
	canvas := crop.CanvasSize(sizeA, sizeB, dir)
	rect, err := crop.Compute(fit.H, sizeA, sizeB, dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Crop failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Canvas: %dx%d\n", canvas.Width, canvas.Height)
	fmt.Printf("Crop: x=[%d,%d) y=[%d,%d) -> %dx%d\n",
		rect.XStart, rect.XEnd, rect.YStart, rect.YEnd, rect.Width(), rect.Height())

	if *outlineOut != "" {
		vis := panoimage.NewCanvas(canvas.Width, canvas.Height)
		draw.Draw(vis, imgA.Bounds().Sub(imgA.Bounds().Min), imgA, imgA.Bounds().Min, draw.Src)
		overlay.Quad(vis, fit.H, sizeB, 2, overlay.OutlineColor)
		overlay.Rect(vis, rect, overlay.InlierColor)
		if err := panoimage.Save(*outlineOut, vis, 0); err != nil {
			fmt.Fprintf(os.Stderr, "Save outline failed: %v\n", err)
			os.Exit(1)
		}
	}

	if *output == "" {
		return
	}
	res, err := compose.NewCompositor(nil).Compose(imgA, imgB, fit.H, dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Compose failed: %v\n", err)
		os.Exit(1)
	}
	if err := panoimage.Save(*output, res.Panorama, 0); err != nil {
		fmt.Fprintf(os.Stderr, "Save failed: %v\n", err)
		os.Exit(1)
	}
	log.Info("panorama saved", "path", *output)
}

func printResiduals(corrs []correspondence.Correspondence, inliers []int, h geometry.Homography) {
	if len(inliers) == 0 {
		return
	}
	type entry struct {
		ax, ay, err float64
	}
	entries := make([]entry, 0, len(inliers))
	for _, i := range inliers {
		c := corrs[i]
		entries = append(entries, entry{c.A.X, c.A.Y, homography.ReprojectionError(h, c)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].err > entries[j].err })
	if len(entries) > 10 {
		entries = entries[:10]
	}
	fmt.Printf("\nWorst inlier residuals:\n")
	for _, e := range entries {
		fmt.Printf("  X=%5.0f Y=%5.0f  err=%.2f px\n", e.ax, e.ay, e.err)
	}
}
