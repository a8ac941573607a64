package testutil

import "github.com/manila-build/manila/internal/model"

// SampleWorkspace returns a two-project WorkspaceConfig: "libcore"
// declares a "core" artifact with no dependencies, and "app" declares a
// "bin" artifact depending on it plus a blocking "test" job that runs
// after "bin" is built.
func SampleWorkspace() *model.WorkspaceConfig {
	return &model.WorkspaceConfig{
		Name: "sample",
		Projects: []model.ProjectConfig{
			{
				Name: "libcore",
				Root: "/tmp/sample/libcore",
				Artifacts: []model.ArtifactDecl{
					{
						Name:          "core",
						ProjectRef:    "libcore",
						BlueprintType: "generic",
					},
				},
			},
			{
				Name: "app",
				Root: "/tmp/sample/app",
				Artifacts: []model.ArtifactDecl{
					{
						Name:          "bin",
						ProjectRef:    "app",
						BlueprintType: "generic",
						DependencyRefs: []model.ArtifactRef{
							{Project: "libcore", Artifact: "core"},
						},
					},
				},
				Jobs: []model.Job{
					SampleJob("app", "bin"),
				},
			},
		},
	}
}

// SampleJob returns a blocking shell job that runs after the named
// artifact, suitable for attaching to a graph alongside a
// SampleWorkspace-derived artifact tree.
func SampleJob(projectRef, artifactRef string) model.Job {
	return model.Job{
		Name:        "test",
		ProjectRef:  projectRef,
		ArtifactRef: artifactRef,
		Blocking:    true,
		Actions: []model.JobAction{
			{Kind: model.ActionShell, Command: "go", Args: []string{"test", "./..."}},
		},
	}
}
