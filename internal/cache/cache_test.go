package cache

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/manila-build/manila/internal/model"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	dir := t.TempDir()
	l, err := NewLocal(filepath.Join(dir, "index.json"), filepath.Join(dir, "artifacts"), 0)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return l
}

func TestLoadMissingFileIsEmptyCache(t *testing.T) {
	l := newTestLocal(t)
	if l.IsCached("abc") {
		t.Fatal("expected empty cache after loading a missing file")
	}
}

func TestLoadCorruptFileFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	l, err := NewLocal(path, filepath.Join(dir, "artifacts"), 0)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	err = l.Load()
	if err == nil {
		t.Fatal("expected error loading corrupt index")
	}
	if _, ok := err.(*model.CacheCorruptionError); !ok {
		t.Fatalf("expected *model.CacheCorruptionError, got %T: %v", err, err)
	}
}

func TestCacheArtifactAndIsCached(t *testing.T) {
	l := newTestLocal(t)
	l.CacheArtifact("fp1", "proj", "art", "go-binary", "/root/fp1", model.ArtifactOutput{ArtifactRoot: "/root/fp1"}, nil, 10)

	if !l.IsCached("fp1") {
		t.Fatal("expected fp1 to be cached")
	}
	if l.IsCached("fp2") {
		t.Fatal("expected fp2 to not be cached")
	}
}

func TestFlushAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")
	l, err := NewLocal(path, filepath.Join(dir, "artifacts"), 0)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	l.CacheArtifact("fp1", "proj", "art", "go-binary", "/root/fp1", model.ArtifactOutput{ArtifactRoot: "/root/fp1"}, []string{"line1"}, 10)

	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	l2, err := NewLocal(path, filepath.Join(dir, "artifacts"), 0)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if err := l2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !l2.IsCached("fp1") {
		t.Fatal("expected fp1 to survive a flush/reload cycle")
	}
}

func TestFlushWritesObjectKeyedByFingerprint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")
	l, err := NewLocal(path, filepath.Join(dir, "artifacts"), 0)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	l.CacheArtifact("fp1", "proj", "art", "go-binary", "/root/fp1", model.ArtifactOutput{ArtifactRoot: "/root/fp1", FilePaths: []string{"a"}}, []string{"line1"}, 10)

	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	var obj map[string]map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("expected a JSON object keyed by fingerprint, got: %v\n%s", err, data)
	}
	entry, ok := obj["fp1"]
	if !ok {
		t.Fatalf("expected key fp1 in the persisted object, got keys %v", obj)
	}

	wantFields := []string{"artifactRoot", "fingerprint", "createdAt", "lastAccessed", "size", "logCache", "output", "blueprintType"}
	for _, f := range wantFields {
		if _, ok := entry[f]; !ok {
			t.Errorf("expected field %q in persisted entry, got %+v", f, entry)
		}
	}

	output, ok := entry["output"].(map[string]any)
	if !ok {
		t.Fatalf("expected output to be an object, got %+v", entry["output"])
	}
	if _, ok := output["artifactRoot"]; !ok {
		t.Errorf("expected output.artifactRoot, got %+v", output)
	}
	if _, ok := output["filePaths"]; !ok {
		t.Errorf("expected output.filePaths, got %+v", output)
	}
}

func TestLoadPreservesUnknownFieldsOnRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")
	const raw = `{
		"fp1": {
			"fingerprint": "fp1",
			"artifactRoot": "/root/fp1",
			"blueprintType": "go-binary",
			"createdAt": "2026-01-01T00:00:00Z",
			"lastAccessed": "2026-01-01T00:00:00Z",
			"size": 10,
			"logCache": null,
			"output": {"artifactRoot": "/root/fp1", "filePaths": null},
			"checksumAlgorithm": "sha256",
			"futureField": {"nested": true}
		}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	l, err := NewLocal(path, filepath.Join(dir, "artifacts"), 0)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var obj map[string]map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	entry := obj["fp1"]
	if entry["checksumAlgorithm"] != "sha256" {
		t.Errorf("expected checksumAlgorithm to survive round-trip, got %+v", entry["checksumAlgorithm"])
	}
	nested, ok := entry["futureField"].(map[string]any)
	if !ok || nested["nested"] != true {
		t.Errorf("expected futureField to survive round-trip, got %+v", entry["futureField"])
	}
}

func TestFlushEmptyCacheIsNoOp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")
	l, err := NewLocal(path, filepath.Join(dir, "artifacts"), 0)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected no file to be written for an empty cache")
	}
}

func TestUpdateAccessTimeNoOpsWhenAbsent(t *testing.T) {
	l := newTestLocal(t)
	l.UpdateAccessTime("missing") // must not panic
}

func TestUpdateAccessTimeBumpsTimestamp(t *testing.T) {
	l := newTestLocal(t)
	l.CacheArtifact("fp1", "proj", "art", "go-binary", "/root/fp1", model.ArtifactOutput{}, nil, 0)

	before := l.entries["fp1"].LastAccessed
	time.Sleep(2 * time.Millisecond)
	l.UpdateAccessTime("fp1")
	after := l.entries["fp1"].LastAccessed

	if !after.After(before) {
		t.Fatalf("expected LastAccessed to advance: before=%v after=%v", before, after)
	}
}

func TestAppendCachedDataAttachesLogCache(t *testing.T) {
	l := newTestLocal(t)
	l.CacheArtifact("fp1", "proj", "art", "go-binary", "/root/fp1", model.ArtifactOutput{}, []string{"built ok"}, 0)

	artifact := &model.Artifact{ArtifactDecl: model.ArtifactDecl{Name: "art", ProjectRef: "proj"}}
	out := l.AppendCachedData(artifact, "fp1")
	if len(out.LogCache) != 1 || out.LogCache[0] != "built ok" {
		t.Fatalf("expected log cache attached, got %+v", out.LogCache)
	}
}

func TestAppendCachedDataUnchangedWhenAbsent(t *testing.T) {
	l := newTestLocal(t)
	artifact := &model.Artifact{ArtifactDecl: model.ArtifactDecl{Name: "art", ProjectRef: "proj"}}
	out := l.AppendCachedData(artifact, "missing")
	if out.LogCache != nil {
		t.Fatalf("expected no log cache attached, got %+v", out.LogCache)
	}
}

func TestMostRecentOutputForProject(t *testing.T) {
	l := newTestLocal(t)
	l.CacheArtifact("fp1", "proj", "art1", "go-binary", "/root/fp1", model.ArtifactOutput{ArtifactRoot: "/root/fp1"}, nil, 0)
	time.Sleep(2 * time.Millisecond)
	l.CacheArtifact("fp2", "proj", "art2", "go-binary", "/root/fp2", model.ArtifactOutput{ArtifactRoot: "/root/fp2"}, nil, 0)

	out, err := l.MostRecentOutputForProject("proj")
	if err != nil {
		t.Fatalf("MostRecentOutputForProject: %v", err)
	}
	if out.ArtifactRoot != "/root/fp2" {
		t.Fatalf("expected the most recently accessed entry, got %s", out.ArtifactRoot)
	}
}

func TestMostRecentOutputForProjectNotCached(t *testing.T) {
	l := newTestLocal(t)
	_, err := l.MostRecentOutputForProject("nonexistent")
	if err == nil {
		t.Fatal("expected NotCachedError")
	}
	if _, ok := err.(*model.NotCachedError); !ok {
		t.Fatalf("expected *model.NotCachedError, got %T: %v", err, err)
	}
}

func TestArtifactRootLayout(t *testing.T) {
	cfg := model.BuildConfig{Profile: "Debug", Platform: model.PlatformLinux, Architecture: model.ArchX64}
	root := ArtifactRoot("/cache/artifacts", cfg, "proj", "art", "deadbeef")
	want := filepath.Join("/cache/artifacts", "linux-x64", "proj-art", "deadbeef", "linux-x64-debug")
	if root != want {
		t.Fatalf("expected %s, got %s", want, root)
	}
}

// ---------------------------------------------------------------------------
// Remote tier
// ---------------------------------------------------------------------------

func TestRemoteCheckAvailabilitySucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	l := newTestLocal(t)
	r := NewRemote(l, srv.URL, "", nil)
	if err := r.CheckAvailability(t.Context()); err != nil {
		t.Fatalf("expected availability check to succeed, got %v", err)
	}
}

func TestRemoteCheckAvailabilityFailsClosed(t *testing.T) {
	l := newTestLocal(t)
	r := NewRemote(l, "http://127.0.0.1:0", "", nil)
	if err := r.CheckAvailability(t.Context()); err == nil {
		t.Fatal("expected availability check against an unreachable host to fail")
	}
}

func TestRemotePushArtifactSucceeds(t *testing.T) {
	var sawMetadata, sawOutput bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut:
			sawMetadata = true
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost:
			sawOutput = true
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	filePath := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(filePath, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	l := newTestLocal(t)
	r := NewRemote(l, srv.URL, "secret-token", nil)
	r.PushArtifact(t.Context(), "fp1", "proj", "art", "go-binary", model.ArtifactOutput{
		ArtifactRoot: dir,
		FilePaths:    []string{filePath},
	})

	if !sawMetadata {
		t.Error("expected a metadata PUT")
	}
	if !sawOutput {
		t.Error("expected an output POST")
	}
}

func TestRemotePushArtifactNonLocalFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	l := newTestLocal(t)
	r := NewRemote(l, srv.URL, "", nil)

	// PushArtifact must not panic or return an error value — failures are
	// logged and discarded, leaving local cache state authoritative.
	r.PushArtifact(t.Context(), "fp1", "proj", "art", "go-binary", model.ArtifactOutput{})
}
