package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/iamkroot/ilc-scraper/internal/domain"
)

// TestRunAllChecksPass verifies the report with every dependency satisfied.
func TestRunAllChecksPass(t *testing.T) {
	root := t.TempDir()
	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/bin/" + name, nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(domain.Settings{OutputDir: filepath.Join(root, "out")}, filepath.Join(root, "data"))
	if report.HasFailures {
		t.Fatalf("unexpected failures: %+v", report.Items)
	}
	if len(report.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(report.Items))
	}
	if report.GeneratedAt.IsZero() {
		t.Fatal("expected generated timestamp")
	}
}

// TestRunMissingFFmpeg verifies the tool check fails with a PATH hint.
func TestRunMissingFFmpeg(t *testing.T) {
	root := t.TempDir()
	checker := NewCheckerForTests(
		func(name string) (string, error) { return "", errors.New("not found") },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(domain.Settings{OutputDir: root}, root)
	if !report.HasFailures {
		t.Fatal("expected failure for missing ffmpeg")
	}
	item := report.Items[0]
	if item.ID != "tool_ffmpeg" || item.Status != domain.DiagnosticStatusFail {
		t.Fatalf("item = %+v", item)
	}
	if item.Hint == "" {
		t.Fatal("expected hint for missing tool")
	}
}

// TestRunUnwritableOutputDir verifies write-access failure reporting.
func TestRunUnwritableOutputDir(t *testing.T) {
	root := t.TempDir()
	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/bin/" + name, nil },
		os.MkdirAll,
		func(dir, pattern string) (*os.File, error) {
			if dir != root {
				return os.CreateTemp(dir, pattern)
			}
			return nil, errors.New("permission denied")
		},
		os.Remove,
	)

	report := checker.Run(domain.Settings{OutputDir: root}, filepath.Join(root, "data"))
	if !report.HasFailures {
		t.Fatal("expected failure for unwritable output dir")
	}
}

// TestRunEmptyOutputDir verifies empty configuration fails early.
func TestRunEmptyOutputDir(t *testing.T) {
	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/bin/" + name, nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(domain.Settings{}, t.TempDir())
	if !report.HasFailures {
		t.Fatal("expected failure for empty output dir")
	}
}
