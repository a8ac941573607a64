// Package fingerprint computes the deterministic content hashes that
// identify a buildable instance: SHA-256 over file bytes, over a sorted
// file set, over a build configuration's contributing fields, and the
// combination of all three plus a dependency closure. Every function
// here is stateless and a pure function of its input bytes — the
// concurrency and caching concerns live one layer up, in the artifact
// manager and cache.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/manila-build/manila/internal/model"
)

// HashFile returns the lowercase hex SHA-256 digest of the file at path,
// streaming its contents so large files never fully load into memory.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &model.IoError{Op: "read", Path: path, Err: err}
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", &model.IoError{Op: "read", Path: path, Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileHash pairs a root-relative path with its content hash.
type FileHash struct {
	RelativePath string
	ContentHash  string
}

// HashFileSet canonicalizes every path in paths to a root-relative,
// slash-separated form, sorts the pairs lexicographically by that
// relative path, and SHA-256-hashes the concatenation of
// SHA-256(file_hash || SHA-256(relative_path)) for each pair in sorted
// order. The result is stable under any reordering of the input slice.
func HashFileSet(paths []string, root string) (string, error) {
	pairs := make([]FileHash, 0, len(paths))
	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return "", &model.IoError{Op: "relativize", Path: p, Err: err}
		}
		rel = filepath.ToSlash(rel)

		contentHash, err := HashFile(p)
		if err != nil {
			return "", err
		}
		pairs = append(pairs, FileHash{RelativePath: rel, ContentHash: contentHash})
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].RelativePath < pairs[j].RelativePath
	})

	h := sha256.New()
	for _, pair := range pairs {
		pathHash := sha256.Sum256([]byte(pair.RelativePath))
		entry := sha256.Sum256(append([]byte(pair.ContentHash), pathHash[:]...))
		h.Write(entry[:])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashConfig concatenates, in declared field order, the string form of
// every fingerprint-contributing field of cfg and SHA-256-hashes the
// result, using NUL as an inter-field separator so that adjacent field
// values can never collide by concatenation (e.g. profile="A"+platform
// "B" vs. profile="AB"+platform="").
func HashConfig(cfg model.BuildConfig) string {
	h := sha256.New()
	for _, field := range cfg.FingerprintFields() {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Combine sorts the input hashes lexicographically, concatenates them,
// and SHA-256-hashes the result. The sort eliminates order sensitivity;
// callers relying on positional meaning must embed that ordering inside
// one of the hashes before combining (e.g. by hashing an indexed list).
func Combine(hashes []string) string {
	sorted := make([]string, len(hashes))
	copy(sorted, hashes)
	sort.Strings(sorted)

	h := sha256.New()
	for _, s := range sorted {
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SourceSetHasher materializes a SourceSet into its deterministic,
// ordered file list. The core treats this as an external collaborator
// (the real implementation lives in the out-of-scope glob helper);
// cmd/manila uses a minimal filepath.Glob-based default, and tests pass
// their own stubs.
type SourceSetHasher func(model.SourceSet) ([]string, error)

// FingerprintArtifact computes combine({hash_config(config),
// combine(hash_file_set of each source set)}). It does not fold in
// dependency fingerprints — per the engine being stateless, transitive
// fingerprinting is the caller's responsibility (see
// internal/manager, which calls this first and then folds each
// dependency's fingerprint into the result via FingerprintWithDependencies).
func FingerprintArtifact(artifact *model.Artifact, cfg model.BuildConfig, materialize SourceSetHasher) (string, error) {
	sourceHashes := make([]string, 0, len(artifact.SourceSets))
	for _, ss := range artifact.SourceSets {
		paths, err := materialize(ss)
		if err != nil {
			return "", fmt.Errorf("fingerprint: materializing source set rooted at %s: %w", ss.Root, err)
		}
		h, err := HashFileSet(paths, ss.Root)
		if err != nil {
			return "", err
		}
		sourceHashes = append(sourceHashes, h)
	}

	return Combine([]string{
		HashConfig(cfg),
		Combine(sourceHashes),
	}), nil
}

// FingerprintWithDependencies folds the fingerprints of already-resolved
// dependency artifacts into an artifact's own fingerprint, enforcing the
// "dependencies must be fingerprinted first" rule via graph order: the
// caller is expected to have computed depFingerprints by walking
// artifact.Dependencies before calling this.
func FingerprintWithDependencies(own string, depFingerprints []string) string {
	if len(depFingerprints) == 0 {
		return own
	}
	return Combine(append([]string{own}, depFingerprints...))
}
