package main

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/manila-build/manila/internal/model"
)

// genericBlueprint is the one built-in Blueprint this CLI ships: it
// copies every regular file under project.Root into artifactRoot,
// preserving relative paths. Real blueprints (compiling Go, linking a
// binary, packaging an archive) arrive through the out-of-scope plugin
// discovery protocol; this exists only so `manila build` has something
// to run without one.
type genericBlueprint struct{}

func newGenericBlueprint() *genericBlueprint { return &genericBlueprint{} }

func (b *genericBlueprint) Name() string { return "generic" }

func (b *genericBlueprint) Build(ctx context.Context, artifactRoot string, project *model.Project, cfg model.BuildConfig) ([]string, error) {
	if project == nil || project.Root == "" {
		return nil, nil
	}

	var built []string
	err := filepath.WalkDir(project.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(project.Root, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(artifactRoot, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return err
		}
		built = append(built, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return built, nil
}
