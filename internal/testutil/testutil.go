package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/manila-build/manila/internal/config"
)

// NewTestConfig returns a minimal valid Config rooted at a fresh
// t.TempDir(), with no remote cache tier configured. Tests that need a
// remote tier or a workspace lock construct those explicitly.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Workspace: config.WorkspaceSection{Root: dir},
		Build: config.BuildSection{
			Profile:      "debug",
			Platform:     "linux",
			Architecture: "x64",
		},
		Cache: config.CacheSection{
			IndexPath:     filepath.Join(dir, "cache.json"),
			ArtifactsDir:  filepath.Join(dir, "artifacts"),
			FrontCapacity: 64,
		},
		Logging: config.LoggingSection{Level: "info"},
	}
}

// TempDir creates a temporary directory for test data.
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// WriteFile writes content to a file under dir, creating any missing
// parent directories, and returns the full path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path
}
