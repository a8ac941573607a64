package manager

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/manila-build/manila/internal/blueprint"
	"github.com/manila-build/manila/internal/model"
)

type fakeCache struct {
	mu      sync.Mutex
	dir     string
	cached  map[string]bool
	outputs map[string]model.ArtifactOutput // keyed by project
}

func newFakeCache(t *testing.T) *fakeCache {
	return &fakeCache{
		dir:     t.TempDir(),
		cached:  make(map[string]bool),
		outputs: make(map[string]model.ArtifactOutput),
	}
}

func (c *fakeCache) IsCached(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cached[fingerprint]
}

func (c *fakeCache) MostRecentOutputForProject(project string) (*model.ArtifactOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.outputs[project]
	if !ok {
		return nil, &model.NotCachedError{Fingerprint: project}
	}
	return &out, nil
}

func (c *fakeCache) ArtifactsDir() string { return c.dir }

func (c *fakeCache) markCached(fingerprint, project string, out model.ArtifactOutput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached[fingerprint] = true
	c.outputs[project] = out
}

type countingBlueprint struct {
	name  string
	calls int32
	delay time.Duration
	fail  error
}

func (b *countingBlueprint) Name() string { return b.name }

func (b *countingBlueprint) Build(ctx context.Context, artifactRoot string, _ *model.Project, _ model.BuildConfig) ([]string, error) {
	atomic.AddInt32(&b.calls, 1)
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if b.fail != nil {
		return nil, b.fail
	}
	path := filepath.Join(artifactRoot, "out.bin")
	if err := os.WriteFile(path, []byte("built"), 0o644); err != nil {
		return nil, err
	}
	return []string{"out.bin"}, nil
}

type consumingBlueprint struct {
	countingBlueprint
	consumedFrom []string
}

func (b *consumingBlueprint) Consume(_ context.Context, dep model.ArtifactRef, _ model.ArtifactOutput, _ *model.Project) error {
	b.consumedFrom = append(b.consumedFrom, dep.Project)
	return nil
}

func newTestArtifact(name, project string, deps ...*model.Artifact) *model.Artifact {
	return &model.Artifact{
		ArtifactDecl: model.ArtifactDecl{
			Name:          name,
			ProjectRef:    project,
			BlueprintType: "test-blueprint",
			SourceSets:    nil,
		},
		Dependencies: deps,
	}
}

func noopMaterialize(model.SourceSet) ([]string, error) { return nil, nil }

func TestBuildFromDependenciesFreshBuildSucceeds(t *testing.T) {
	c := newFakeCache(t)
	reg := blueprint.NewRegistry()
	bp := &countingBlueprint{name: "test-blueprint"}
	_ = reg.Register(bp)

	m := New(c, reg, noopMaterialize, nil)
	artifact := newTestArtifact("art", "proj")
	project := &model.Project{Name: "proj"}
	cfg := model.BuildConfig{Profile: "Debug", Platform: model.PlatformLinux, Architecture: model.ArchX64}

	code, err := m.BuildFromDependencies(context.Background(), bp, artifact, project, cfg, false)
	if err != nil {
		t.Fatalf("BuildFromDependencies: %v", err)
	}
	if code.Kind != ExitSuccess {
		t.Fatalf("expected ExitSuccess, got %v", code.Kind)
	}
	if atomic.LoadInt32(&bp.calls) != 1 {
		t.Fatalf("expected exactly one build invocation, got %d", bp.calls)
	}
	if _, err := os.Stat(filepath.Join(code.ArtifactRoot, "out.bin")); err != nil {
		t.Fatalf("expected build output on disk: %v", err)
	}
}

func TestBuildFromDependenciesFastPathHit(t *testing.T) {
	c := newFakeCache(t)
	reg := blueprint.NewRegistry()
	bp := &countingBlueprint{name: "test-blueprint"}
	_ = reg.Register(bp)

	m := New(c, reg, noopMaterialize, nil)
	artifact := newTestArtifact("art", "proj")
	project := &model.Project{Name: "proj"}
	cfg := model.BuildConfig{Profile: "Debug", Platform: model.PlatformLinux, Architecture: model.ArchX64}

	// First build populates the cache and the directory.
	first, err := m.BuildFromDependencies(context.Background(), bp, artifact, project, cfg, false)
	if err != nil {
		t.Fatalf("first BuildFromDependencies: %v", err)
	}
	c.markCached(first.Fingerprint, "proj", model.ArtifactOutput{ArtifactRoot: first.ArtifactRoot})

	second, err := m.BuildFromDependencies(context.Background(), bp, artifact, project, cfg, false)
	if err != nil {
		t.Fatalf("second BuildFromDependencies: %v", err)
	}
	if second.Kind != ExitCached {
		t.Fatalf("expected ExitCached on fast path, got %v", second.Kind)
	}
	if atomic.LoadInt32(&bp.calls) != 1 {
		t.Fatalf("expected build hook to run only once, got %d calls", bp.calls)
	}
}

func TestBuildFromDependenciesSingleFlightDedup(t *testing.T) {
	c := newFakeCache(t)
	reg := blueprint.NewRegistry()
	bp := &countingBlueprint{name: "test-blueprint", delay: 30 * time.Millisecond}
	_ = reg.Register(bp)

	m := New(c, reg, noopMaterialize, nil)
	artifact := newTestArtifact("art", "proj")
	project := &model.Project{Name: "proj"}
	cfg := model.BuildConfig{Profile: "Debug", Platform: model.PlatformLinux, Architecture: model.ArchX64}

	var wg sync.WaitGroup
	codes := make([]BuildExitCode, 4)
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i], errs[i] = m.BuildFromDependencies(context.Background(), bp, artifact, project, cfg, false)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if atomic.LoadInt32(&bp.calls) != 1 {
		t.Fatalf("expected exactly one build hook invocation across concurrent callers, got %d", bp.calls)
	}

	successes := 0
	for _, code := range codes {
		if code.Kind == ExitSuccess {
			successes++
		}
	}
	if successes == 0 {
		t.Fatal("expected at least one caller to observe ExitSuccess")
	}
}

func TestBuildFromDependenciesStaleInvalidationRebuilds(t *testing.T) {
	c := newFakeCache(t)
	reg := blueprint.NewRegistry()
	bp := &countingBlueprint{name: "test-blueprint"}
	_ = reg.Register(bp)

	m := New(c, reg, noopMaterialize, nil)
	artifact := newTestArtifact("art", "proj")
	project := &model.Project{Name: "proj"}
	cfg := model.BuildConfig{Profile: "Debug", Platform: model.PlatformLinux, Architecture: model.ArchX64}

	first, err := m.BuildFromDependencies(context.Background(), bp, artifact, project, cfg, false)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	c.markCached(first.Fingerprint, "proj", model.ArtifactOutput{ArtifactRoot: first.ArtifactRoot})

	second, err := m.BuildFromDependencies(context.Background(), bp, artifact, project, cfg, true)
	if err != nil {
		t.Fatalf("invalidated build: %v", err)
	}
	if second.Kind != ExitSuccess {
		t.Fatalf("expected a fresh ExitSuccess when invalidate_cache is set, got %v", second.Kind)
	}
	if atomic.LoadInt32(&bp.calls) != 2 {
		t.Fatalf("expected invalidate_cache to force a second build, got %d calls", bp.calls)
	}
}

func TestBuildFromDependenciesConsumesUpstreamOutputs(t *testing.T) {
	c := newFakeCache(t)
	c.outputs["libproj"] = model.ArtifactOutput{ArtifactRoot: "/cache/libproj-out"}

	reg := blueprint.NewRegistry()
	bp := &consumingBlueprint{countingBlueprint: countingBlueprint{name: "consumer-blueprint"}}
	_ = reg.Register(bp)
	libBp := &countingBlueprint{name: "lib-blueprint"}
	_ = reg.Register(libBp)

	dep := newTestArtifact("lib", "libproj")
	dep.BlueprintType = "lib-blueprint"
	artifact := newTestArtifact("app", "appproj", dep)
	artifact.BlueprintType = "consumer-blueprint"

	m := New(c, reg, noopMaterialize, nil)
	project := &model.Project{Name: "appproj"}
	cfg := model.BuildConfig{Profile: "Debug", Platform: model.PlatformLinux, Architecture: model.ArchX64}

	code, err := m.BuildFromDependencies(context.Background(), bp, artifact, project, cfg, false)
	if err != nil {
		t.Fatalf("BuildFromDependencies: %v", err)
	}
	if code.Kind != ExitSuccess {
		t.Fatalf("expected ExitSuccess, got %v", code.Kind)
	}
	if len(bp.consumedFrom) != 1 || bp.consumedFrom[0] != "libproj" {
		t.Fatalf("expected Consume to be called once for libproj, got %v", bp.consumedFrom)
	}
}

func TestBuildFromDependenciesIncompatibleDependencyFails(t *testing.T) {
	c := newFakeCache(t)
	c.outputs["libproj"] = model.ArtifactOutput{ArtifactRoot: "/cache/libproj-out"}

	reg := blueprint.NewRegistry()
	bp := &countingBlueprint{name: "build-only-blueprint"} // no Consume
	_ = reg.Register(bp)
	libBp := &countingBlueprint{name: "lib-blueprint"}
	_ = reg.Register(libBp)

	dep := newTestArtifact("lib", "libproj")
	dep.BlueprintType = "lib-blueprint"
	artifact := newTestArtifact("app", "appproj", dep)
	artifact.BlueprintType = "build-only-blueprint"

	m := New(c, reg, noopMaterialize, nil)
	project := &model.Project{Name: "appproj"}
	cfg := model.BuildConfig{Profile: "Debug", Platform: model.PlatformLinux, Architecture: model.ArchX64}

	_, err := m.BuildFromDependencies(context.Background(), bp, artifact, project, cfg, false)
	if err == nil {
		t.Fatal("expected an error when the blueprint cannot consume the dependency")
	}
	if _, ok := err.(*model.IncompatibleDependencyError); !ok {
		t.Fatalf("expected *model.IncompatibleDependencyError, got %T: %v", err, err)
	}
}

func TestBuildFromDependenciesBuildFailureCleansUpRoot(t *testing.T) {
	c := newFakeCache(t)
	reg := blueprint.NewRegistry()
	bp := &countingBlueprint{name: "test-blueprint", fail: errFake}
	_ = reg.Register(bp)

	m := New(c, reg, noopMaterialize, nil)
	artifact := newTestArtifact("art", "proj")
	project := &model.Project{Name: "proj"}
	cfg := model.BuildConfig{Profile: "Debug", Platform: model.PlatformLinux, Architecture: model.ArchX64}

	code, err := m.BuildFromDependencies(context.Background(), bp, artifact, project, cfg, false)
	if err == nil {
		t.Fatal("expected an error when the build hook fails")
	}
	if _, ok := err.(*model.BuildFailedError); !ok {
		t.Fatalf("expected *model.BuildFailedError, got %T: %v", err, err)
	}
	if _, statErr := os.Stat(code.ArtifactRoot); !os.IsNotExist(statErr) {
		t.Fatal("expected the partially-written artifact root to be removed after a failed build")
	}
}

var errFake = &fakeBuildError{}

type fakeBuildError struct{}

func (e *fakeBuildError) Error() string { return "simulated build failure" }
