// Package workspace is the minimal stand-in for the (out-of-scope)
// script host: it loads a declarative workspace.toml manifest into the
// model.WorkspaceConfig the engine's graph construction consumes. A real
// deployment replaces this with a script host evaluating
// run_workspace_script/run_project_script; this package exists so
// cmd/manila can exercise the core end to end without one.
package workspace

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/manila-build/manila/internal/model"
)

// Manifest is the as-declared TOML form of a workspace.
type Manifest struct {
	Name     string             `toml:"name"`
	Root     string             `toml:"root"`
	Projects []projectManifest  `toml:"projects"`
	Jobs     []jobManifest      `toml:"jobs"`
}

type projectManifest struct {
	Name      string             `toml:"name"`
	Root      string             `toml:"root"`
	Artifacts []artifactManifest `toml:"artifacts"`
	Jobs      []jobManifest      `toml:"jobs"`
}

type artifactManifest struct {
	Name          string             `toml:"name"`
	BlueprintType string             `toml:"blueprint_type"`
	Description   string             `toml:"description"`
	Dependencies  []string           `toml:"dependencies"` // "project/artifact" pairs
	SourceSets    []sourceSetManifest `toml:"source_sets"`
}

type sourceSetManifest struct {
	Root     string   `toml:"root"`
	Includes []string `toml:"includes"`
	Excludes []string `toml:"excludes"`
}

type jobManifest struct {
	Name         string           `toml:"name"`
	ArtifactRef  string           `toml:"artifact_ref"`
	Dependencies []string         `toml:"dependencies"`
	Blocking     bool             `toml:"blocking"`
	Description  string           `toml:"description"`
	Actions      []actionManifest `toml:"actions"`
}

type actionManifest struct {
	Kind       string   `toml:"kind"` // "shell", "log", "script"
	Command    string   `toml:"command"`
	Args       []string `toml:"args"`
	Dir        string   `toml:"dir"`
	Level      string   `toml:"level"`
	Message    string   `toml:"message"`
	ScriptRef  string   `toml:"script_ref"`
	ScriptArgs []string `toml:"script_args"`
}

// Load reads and parses the manifest at path into a model.WorkspaceConfig.
func Load(path string) (*model.WorkspaceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workspace: reading manifest %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("workspace: parsing manifest %s: %w", path, err)
	}

	return m.toWorkspaceConfig(), nil
}

func (m *Manifest) toWorkspaceConfig() *model.WorkspaceConfig {
	ws := &model.WorkspaceConfig{
		Name: m.Name,
		Root: m.Root,
		Jobs: toJobs(m.Jobs, "", ""),
	}

	for _, pm := range m.Projects {
		ws.Projects = append(ws.Projects, model.ProjectConfig{
			Name:      pm.Name,
			Root:      pm.Root,
			Artifacts: toArtifacts(pm),
			Jobs:      toJobs(pm.Jobs, pm.Name, ""),
		})
	}
	return ws
}

func toArtifacts(pm projectManifest) []model.ArtifactDecl {
	decls := make([]model.ArtifactDecl, 0, len(pm.Artifacts))
	for _, am := range pm.Artifacts {
		decls = append(decls, model.ArtifactDecl{
			Name:           am.Name,
			ProjectRef:     pm.Name,
			BlueprintType:  am.BlueprintType,
			Description:    am.Description,
			SourceSets:     toSourceSets(am.SourceSets),
			DependencyRefs: toArtifactRefs(am.Dependencies, pm.Name),
		})
	}
	return decls
}

func toSourceSets(sms []sourceSetManifest) []model.SourceSet {
	sets := make([]model.SourceSet, 0, len(sms))
	for _, sm := range sms {
		sets = append(sets, model.SourceSet{
			Root:     sm.Root,
			Includes: sm.Includes,
			Excludes: sm.Excludes,
		})
	}
	return sets
}

// toArtifactRefs parses "project/artifact" pairs, defaulting the project
// to defaultProject when a dependency names only an artifact within the
// same project.
func toArtifactRefs(deps []string, defaultProject string) []model.ArtifactRef {
	refs := make([]model.ArtifactRef, 0, len(deps))
	for _, d := range deps {
		project, artifact := defaultProject, d
		for i := len(d) - 1; i >= 0; i-- {
			if d[i] == '/' {
				project, artifact = d[:i], d[i+1:]
				break
			}
		}
		refs = append(refs, model.ArtifactRef{Project: project, Artifact: artifact})
	}
	return refs
}

func toJobs(jms []jobManifest, projectRef, artifactRef string) []model.Job {
	jobs := make([]model.Job, 0, len(jms))
	for _, jm := range jms {
		ref := artifactRef
		if jm.ArtifactRef != "" {
			ref = jm.ArtifactRef
		}
		jobs = append(jobs, model.Job{
			Name:         jm.Name,
			ProjectRef:   projectRef,
			ArtifactRef:  ref,
			Dependencies: jm.Dependencies,
			Actions:      toActions(jm.Actions),
			Blocking:     jm.Blocking,
			Description:  jm.Description,
		})
	}
	return jobs
}

func toActions(ams []actionManifest) []model.JobAction {
	actions := make([]model.JobAction, 0, len(ams))
	for _, am := range ams {
		action := model.JobAction{
			Command:    am.Command,
			Args:       am.Args,
			Dir:        am.Dir,
			Level:      am.Level,
			Message:    am.Message,
			ScriptRef:  am.ScriptRef,
			ScriptArgs: am.ScriptArgs,
		}
		switch am.Kind {
		case "shell":
			action.Kind = model.ActionShell
		case "log":
			action.Kind = model.ActionLog
		case "script":
			action.Kind = model.ActionScript
		}
		actions = append(actions, action)
	}
	return actions
}
