// Package main provides the entry point for the panostitch command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"panostitch/internal/cli"
	"panostitch/internal/features"
	"panostitch/internal/stitch"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := cli.Deps{
		NewMatcher: func(detector string) (stitch.Matcher, error) {
			d, err := features.ParseDetector(detector)
			if err != nil {
				return nil, err
			}
			return features.NewMatcher(d), nil
		},
		OpenCVWarper: features.CVWarper{},
	}

	if err := cli.Execute(ctx, deps, os.Args[1:]); err != nil {
		if kind := stitch.Classify(err); kind != "" {
			fmt.Fprintf(os.Stderr, "stitch failed (%s): %v\n", kind, err)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}
