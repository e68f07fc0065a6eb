// Package config loads and saves user settings for panostitch.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	appName        = "panostitch"
	configFileName = "config.json"

	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "PANOSTITCH_CONFIG"
)

// Config holds user-editable settings.
type Config struct {
	Stitch   Stitch   `json:"stitch"`
	Features Features `json:"features"`
	Output   Output   `json:"output"`
	Logging  Logging  `json:"logging"`
	History  History  `json:"history"`
	Server   Server   `json:"server"`
}

// Stitch tunes match filtering and homography fitting.
type Stitch struct {
	Ratio              float64 `json:"ratio"`
	MinMatches         int     `json:"min_matches"`
	OutlierThreshold   float64 `json:"outlier_threshold"` // pixels
	MinConfidence      int     `json:"min_confidence"`    // percent
	SuccessProbability float64 `json:"success_probability"`
	Workers            int     `json:"workers"` // 0 = one per CPU
	Normalize          bool    `json:"normalize"`
	Seed               int64   `json:"seed"`   // 0 = seed from clock
	Warper             string  `json:"warper"` // go, opencv
}

// Features selects the keypoint detector.
type Features struct {
	Detector string `json:"detector"` // sift, orb
}

// Output controls where panoramas are written.
type Output struct {
	Dir         string `json:"dir"`
	JPEGQuality int    `json:"jpeg_quality"`
}

// Logging controls logging verbosity and format.
type Logging struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json, traditional
}

// History configures the run history database.
type History struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Server configures the HTTP API.
type Server struct {
	Addr string `json:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Stitch: Stitch{
			Ratio:              0.8,
			MinMatches:         20,
			OutlierThreshold:   3,
			MinConfidence:      65,
			SuccessProbability: 0.995,
			Warper:             "go",
		},
		Features: Features{Detector: "sift"},
		Output: Output{
			Dir:         "output",
			JPEGQuality: 95,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		History: History{
			Enabled: true,
			Path:    filepath.Join(dataDir(), "history.db"),
		},
		Server: Server{Addr: ":8080"},
	}
}

// DefaultPath returns the config file location: $PANOSTITCH_CONFIG if set,
// otherwise panostitch/config.json under the user config directory.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(dataDir(), configFileName)
}

func dataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, appName)
}

// Load reads the config at path (DefaultPath when empty) over the defaults.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", expanded, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", expanded, err)
	}
	return cfg, nil
}

// Save writes the config as indented JSON, creating parent directories.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	expanded, err := expandUser(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(expanded, append(data, '\n'), 0o644)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	s := c.Stitch
	switch {
	case s.Ratio <= 0 || s.Ratio >= 1:
		return fmt.Errorf("stitch.ratio must be in (0, 1), got %v", s.Ratio)
	case s.MinMatches < 4:
		return fmt.Errorf("stitch.min_matches must be at least 4, got %d", s.MinMatches)
	case s.OutlierThreshold <= 0:
		return fmt.Errorf("stitch.outlier_threshold must be positive, got %v", s.OutlierThreshold)
	case s.MinConfidence < 0 || s.MinConfidence > 100:
		return fmt.Errorf("stitch.min_confidence must be in [0, 100], got %d", s.MinConfidence)
	case s.SuccessProbability <= 0 || s.SuccessProbability >= 1:
		return fmt.Errorf("stitch.success_probability must be in (0, 1), got %v", s.SuccessProbability)
	case s.Workers < 0:
		return fmt.Errorf("stitch.workers must not be negative, got %d", s.Workers)
	case s.Warper != "go" && s.Warper != "opencv":
		return fmt.Errorf("stitch.warper must be go or opencv, got %q", s.Warper)
	}
	if q := c.Output.JPEGQuality; q < 1 || q > 100 {
		return fmt.Errorf("output.jpeg_quality must be in [1, 100], got %d", q)
	}
	return nil
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
