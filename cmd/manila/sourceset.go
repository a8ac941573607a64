package main

import (
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/manila-build/manila/internal/model"
)

// globMaterialize is the minimal filepath.Glob-based default for
// resolving a SourceSet into a concrete file list, the fallback the
// fingerprint engine documents for callers that don't have the real
// (out-of-scope) source-set helper available.
func globMaterialize(ss model.SourceSet) ([]string, error) {
	excluded := make(map[string]bool, len(ss.Excludes))
	for _, pattern := range ss.Excludes {
		matches, err := filepath.Glob(filepath.Join(ss.Root, pattern))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			excluded[m] = true
		}
	}

	var matched []string
	if len(ss.Includes) == 0 {
		err := filepath.WalkDir(ss.Root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && !excluded[path] {
				matched = append(matched, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		for _, pattern := range ss.Includes {
			paths, err := filepath.Glob(filepath.Join(ss.Root, pattern))
			if err != nil {
				return nil, err
			}
			for _, p := range paths {
				if !excluded[p] {
					matched = append(matched, p)
				}
			}
		}
	}

	sort.Strings(matched)
	return matched, nil
}
