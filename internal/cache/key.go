package cache

import (
	"fmt"
	"path/filepath"

	"github.com/manila-build/manila/internal/model"
)

// ArtifactRoot computes the bit-exact on-disk layout for an artifact's
// build output:
//
//	{artifactsDir}/{platform}-{arch}/{project}-{artifact}/{fingerprint}/{configKey}/
func ArtifactRoot(artifactsDir string, cfg model.BuildConfig, project, artifact, fingerprint string) string {
	return filepath.Join(
		artifactsDir,
		fmt.Sprintf("%s-%s", cfg.Platform, cfg.Architecture),
		fmt.Sprintf("%s-%s", project, artifact),
		fingerprint,
		cfg.ConfigKey(),
	)
}
