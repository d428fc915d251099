package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/iamkroot/ilc-scraper/internal/domain"
	"github.com/iamkroot/ilc-scraper/internal/impartus"
)

// DataDir returns the per-user directory holding settings and the course index.
func DataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".ilc-scraper")
}

// DefaultSettings returns baseline local configuration for first run.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		BaseURL:        impartus.DefaultBaseURL,
		OutputDir:      filepath.Join(homeDir, "Impartus Lectures"),
		Quality:        "720p",
		Angle:          0,
		Workers:        runtime.NumCPU(),
		TimeoutMinutes: 45,
	}
}
