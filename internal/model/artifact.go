package model

// SourceSet describes a tree of source files contributing to an
// artifact's fingerprint. Root must be absolute; Includes/Excludes are
// glob patterns relative to Root. Materializing a SourceSet into a
// concrete, deterministically ordered file list is the job of the
// (external, out-of-scope) source-set helper; the core only consumes
// the resulting path list.
type SourceSet struct {
	Root     string
	Includes []string
	Excludes []string
}

// ArtifactRef identifies a dependency by the project that declares it
// and the artifact's name within that project.
type ArtifactRef struct {
	Project  string
	Artifact string
}

// ArtifactDecl is the as-declared form of an artifact, produced by the
// (external) script host during configuration.
type ArtifactDecl struct {
	Name               string
	ProjectRef         string
	PluginComponentRef string
	SourceSets         []SourceSet
	DependencyRefs     []ArtifactRef
	BlueprintType      string
	Description        string
}

// Artifact is an ArtifactDecl resolved into a full dependency closure.
// Dependencies is the transitive closure in build order (each entry's
// own Dependencies already resolved), so a caller folding fingerprints
// need only walk this slice once.
type Artifact struct {
	ArtifactDecl
	Dependencies []*Artifact
	Output       *ArtifactOutput // set after a successful build or cache hit
	LogCache     []string        // replayable log entries attached from a prior cache entry
}

// ArtifactOutput is the materialized result of building (or retrieving
// from cache) an artifact.
type ArtifactOutput struct {
	ArtifactRoot string   `json:"artifactRoot"`
	FilePaths    []string `json:"filePaths"`
}

// ExecutableID returns the identifier this artifact's build unit is
// known by within the execution graph: "{project}/{artifact}".
func (a *ArtifactDecl) ExecutableID() string {
	return a.ProjectRef + "/" + a.Name
}
