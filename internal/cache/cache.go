// Package cache implements the content-addressed Artifact Cache: a
// local, JSON-file-backed fingerprint→entry map fronted by an in-memory
// LRU, plus an optional remote tier that mirrors writes to an HTTP
// endpoint on a best-effort basis.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/manila-build/manila/internal/model"
)

// Entry is the persisted record for one fingerprint. Field names are
// the wire-stable camelCase names the cache index file is keyed and
// shaped by; unrecognized top-level keys round-trip through Extra
// rather than being dropped, so a newer writer's fields survive being
// read and rewritten by an older one.
type Entry struct {
	Fingerprint   string               `json:"fingerprint"`
	Project       string               `json:"project"`
	Artifact      string               `json:"artifact"`
	ArtifactRoot  string               `json:"artifactRoot"`
	BlueprintType string               `json:"blueprintType"`
	CreatedAt     time.Time            `json:"createdAt"`
	LastAccessed  time.Time            `json:"lastAccessed"`
	Size          int64                `json:"size"`
	LogCache      []string             `json:"logCache"`
	Output        model.ArtifactOutput `json:"output"`

	// Extra holds top-level keys not modeled above, preserved verbatim
	// across Load/Flush.
	Extra map[string]any `json:"-"`
}

// entryKnownFields lists the JSON keys Entry itself models; anything
// else found on unmarshal is captured into Extra instead of discarded.
var entryKnownFields = map[string]bool{
	"fingerprint":   true,
	"project":       true,
	"artifact":      true,
	"artifactRoot":  true,
	"blueprintType": true,
	"createdAt":     true,
	"lastAccessed":  true,
	"size":          true,
	"logCache":      true,
	"output":        true,
}

// entryAlias has Entry's modeled fields but none of its methods, so
// marshaling/unmarshaling through it doesn't recurse into MarshalJSON/
// UnmarshalJSON below.
type entryAlias Entry

func (e *Entry) MarshalJSON() ([]byte, error) {
	modeled, err := json.Marshal((*entryAlias)(e))
	if err != nil {
		return nil, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(modeled, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		if _, known := merged[k]; known {
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = data
	}
	return json.Marshal(merged)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var a entryAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = Entry(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	extra := make(map[string]any)
	for k, v := range raw {
		if entryKnownFields[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		extra[k] = val
	}
	if len(extra) > 0 {
		e.Extra = extra
	}
	return nil
}

// Local is a thread-safe, fingerprint-keyed cache persisted to a single
// JSON file, fronted by an in-memory LRU for hot lookups. The entries
// map is authoritative; the LRU is purely a read accelerator populated
// lazily and never consulted as the source of truth.
type Local struct {
	path         string // cache index file
	artifactsDir string // root of the on-disk artifact layout

	mu      sync.RWMutex
	entries map[string]*Entry
	loaded  bool

	front *lru.Cache[string, *Entry]
}

// NewLocal constructs a Local cache rooted at artifactsDir, persisting
// its index to path. frontCapacity bounds the in-memory LRU; <= 0
// defaults to 1024.
func NewLocal(path, artifactsDir string, frontCapacity int) (*Local, error) {
	if frontCapacity <= 0 {
		frontCapacity = 1024
	}
	front, err := lru.New[string, *Entry](frontCapacity)
	if err != nil {
		return nil, fmt.Errorf("cache: creating LRU: %w", err)
	}
	return &Local{
		path:         path,
		artifactsDir: artifactsDir,
		entries:      make(map[string]*Entry),
		front:        front,
	}, nil
}

// ArtifactsDir returns the root directory under which artifact output
// trees are laid out.
func (c *Local) ArtifactsDir() string { return c.artifactsDir }

// Load reads the cache index from disk. A missing file is treated as an
// empty cache. A file that exists but fails to parse surfaces as
// *model.CacheCorruptionError. Load is idempotent; reloading logs a
// warning since any entries mutated only in memory since the first load
// are discarded.
func (c *Local) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		log.Warn().Str("path", c.path).Msg("cache: reloading index; in-memory mutations since last load are discarded")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			c.entries = make(map[string]*Entry)
			c.loaded = true
			return nil
		}
		return &model.IoError{Op: "read", Path: c.path, Err: err}
	}

	if len(data) == 0 {
		c.entries = make(map[string]*Entry)
		c.loaded = true
		return nil
	}

	var stored map[string]*Entry
	if err := json.Unmarshal(data, &stored); err != nil {
		return &model.CacheCorruptionError{Path: c.path, Err: err}
	}

	c.entries = stored
	c.loaded = true
	return nil
}

// Flush serializes the current mapping atomically to disk (temp file +
// fsync + rename) as a single JSON object keyed by fingerprint. An
// empty cache is a no-op. json.Marshal sorts map[string] keys, so the
// on-disk representation is deterministic across flushes.
func (c *Local) Flush() error {
	c.mu.RLock()
	if len(c.entries) == 0 {
		c.mu.RUnlock()
		return nil
	}
	entries := make(map[string]*Entry, len(c.entries))
	for k, v := range c.entries {
		entries[k] = v
	}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: marshaling index: %w", err)
	}
	return writeAtomic(c.path, data, 0o644)
}

// IsCached reports whether fingerprint has a cache entry.
func (c *Local) IsCached(fingerprint string) bool {
	if _, ok := c.front.Get(fingerprint); ok {
		return true
	}
	c.mu.RLock()
	e, ok := c.entries[fingerprint]
	c.mu.RUnlock()
	if ok {
		c.front.Add(fingerprint, e)
	}
	return ok
}

// CacheArtifact inserts or overwrites the entry for fingerprint, setting
// CreatedAt and LastAccessed to now.
func (c *Local) CacheArtifact(fingerprint, project, artifact, blueprintType string, root string, output model.ArtifactOutput, logCache []string, size int64) {
	now := time.Now()
	e := &Entry{
		Fingerprint:   fingerprint,
		Project:       project,
		Artifact:      artifact,
		ArtifactRoot:  root,
		BlueprintType: blueprintType,
		CreatedAt:     now,
		LastAccessed:  now,
		Size:          size,
		LogCache:      logCache,
		Output:        output,
	}

	c.mu.Lock()
	c.entries[fingerprint] = e
	c.mu.Unlock()

	c.front.Add(fingerprint, e)
}

// UpdateAccessTime bumps LastAccessed for fingerprint. It silently
// no-ops if the fingerprint is absent.
func (c *Local) UpdateAccessTime(fingerprint string) {
	c.mu.Lock()
	e, ok := c.entries[fingerprint]
	if ok {
		e.LastAccessed = time.Now()
	}
	c.mu.Unlock()
	if ok {
		c.front.Add(fingerprint, e)
	}
}

// AppendCachedData attaches the stored LogCache to artifact if
// fingerprint has an entry; otherwise artifact is returned unchanged.
func (c *Local) AppendCachedData(artifact *model.Artifact, fingerprint string) *model.Artifact {
	c.mu.RLock()
	e, ok := c.entries[fingerprint]
	c.mu.RUnlock()
	if !ok {
		return artifact
	}
	artifact.LogCache = append([]string{}, e.LogCache...)
	return artifact
}

// MostRecentOutputForProject returns the output of the entry for
// project with the largest LastAccessed. Fails with
// *model.NotCachedError if no entry belongs to project.
func (c *Local) MostRecentOutputForProject(project string) (*model.ArtifactOutput, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *Entry
	for _, e := range c.entries {
		if e.Project != project {
			continue
		}
		if best == nil || e.LastAccessed.After(best.LastAccessed) {
			best = e
		}
	}
	if best == nil {
		return nil, &model.NotCachedError{Fingerprint: project}
	}
	out := best.Output
	return &out, nil
}

// writeAtomic writes content to path via a temp file in the same
// directory, fsynced and renamed into place, so a crash mid-write never
// leaves a corrupt index behind.
func writeAtomic(path string, content []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &model.IoError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &model.IoError{Op: "create-temp", Path: dir, Err: err}
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return &model.IoError{Op: "write", Path: tmpName, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &model.IoError{Op: "fsync", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &model.IoError{Op: "close", Path: tmpName, Err: err}
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return &model.IoError{Op: "chmod", Path: tmpName, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &model.IoError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
