package engine

import (
	"fmt"

	"github.com/manila-build/manila/internal/model"
)

// resolver closes an as-declared WorkspaceConfig's artifact dependency
// refs into full *model.Artifact trees, memoizing each "project/artifact"
// resolution so a diamond dependency is only resolved once and detecting
// cycles via a recursion stack.
type resolver struct {
	workspace  *model.WorkspaceConfig
	resolved   map[string]*model.Artifact
	inProgress map[string]bool
}

// resolveWorkspace resolves every project's artifacts into their full
// dependency closures, in the order the workspace declares them.
func resolveWorkspace(workspace *model.WorkspaceConfig) ([]*model.Project, error) {
	r := &resolver{
		workspace:  workspace,
		resolved:   make(map[string]*model.Artifact),
		inProgress: make(map[string]bool),
	}

	projects := make([]*model.Project, 0, len(workspace.Projects))
	for _, pc := range workspace.Projects {
		artifacts := make([]*model.Artifact, 0, len(pc.Artifacts))
		for _, decl := range pc.Artifacts {
			a, err := r.resolveArtifact(decl.ProjectRef, decl.Name)
			if err != nil {
				return nil, err
			}
			artifacts = append(artifacts, a)
		}
		projects = append(projects, &model.Project{
			Name:      pc.Name,
			Root:      pc.Root,
			Artifacts: artifacts,
			Jobs:      pc.Jobs,
		})
	}
	return projects, nil
}

func (r *resolver) resolveArtifact(project, name string) (*model.Artifact, error) {
	key := project + "/" + name
	if a, ok := r.resolved[key]; ok {
		return a, nil
	}
	if r.inProgress[key] {
		return nil, fmt.Errorf("engine: dependency cycle detected at %s", key)
	}
	r.inProgress[key] = true
	defer delete(r.inProgress, key)

	pc := r.workspace.FindProject(project)
	if pc == nil {
		return nil, fmt.Errorf("engine: artifact %s references unknown project %q", key, project)
	}

	var decl *model.ArtifactDecl
	for i := range pc.Artifacts {
		if pc.Artifacts[i].Name == name {
			decl = &pc.Artifacts[i]
			break
		}
	}
	if decl == nil {
		return nil, fmt.Errorf("engine: unknown artifact %q in project %q", name, project)
	}

	deps := make([]*model.Artifact, 0, len(decl.DependencyRefs))
	for _, ref := range decl.DependencyRefs {
		dep, err := r.resolveArtifact(ref.Project, ref.Artifact)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}

	artifact := &model.Artifact{ArtifactDecl: *decl, Dependencies: deps}
	r.resolved[key] = artifact
	return artifact, nil
}
