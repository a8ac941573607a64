package model

// ExecutableKind is the closed set of things an execution node can wrap.
type ExecutableKind int

const (
	ExecutableJob ExecutableKind = iota
	ExecutableArtifactBuild
	ExecutableNoOp
)

// Executable is a tagged sum (Job | ArtifactBuild | NoOp), dispatched by
// an exhaustive switch over Kind rather than an inheritance hierarchy —
// the Go rendering of spec.md's ExecutableObject redesign note.
type Executable struct {
	Kind     ExecutableKind
	Job      *Job
	Artifact *Artifact
}

// NewJobExecutable wraps a Job as an Executable.
func NewJobExecutable(j *Job) Executable {
	return Executable{Kind: ExecutableJob, Job: j}
}

// NewArtifactBuildExecutable wraps an Artifact's build unit as an Executable.
func NewArtifactBuildExecutable(a *Artifact) Executable {
	return Executable{Kind: ExecutableArtifactBuild, Artifact: a}
}

// NewNoOpExecutable returns a placeholder Executable identified by id.
// Used for synthetic graph nodes (e.g. phony aggregation targets).
func NewNoOpExecutable(id string) Executable {
	return Executable{Kind: ExecutableNoOp, Job: &Job{Name: id}}
}

// Identifier returns the stable identifier the graph indexes nodes by.
func (e Executable) Identifier() string {
	switch e.Kind {
	case ExecutableJob, ExecutableNoOp:
		if e.Job == nil {
			return ""
		}
		return e.Job.Identifier()
	case ExecutableArtifactBuild:
		if e.Artifact == nil {
			return ""
		}
		return e.Artifact.ExecutableID()
	default:
		return ""
	}
}

// IsBlocking reports whether this executable must run to completion before
// any sibling in the same layer may proceed. Artifact builds and no-ops
// are never blocking; only a Job may declare it.
func (e Executable) IsBlocking() bool {
	return e.Kind == ExecutableJob && e.Job != nil && e.Job.Blocking
}
