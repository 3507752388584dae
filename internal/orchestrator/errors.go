// Package orchestrator implements C6, the build orchestrator: it composes
// the package resolver and the container driver into the nine-step
// build pipeline.
package orchestrator

import "fmt"

// Phase names a stage of the build pipeline, used both for structured
// logging and for the `<phase>: <short reason>` error messages returned
// to callers.
type Phase string

const (
	PhasePull     Phase = "pull"
	PhaseInfoProbe Phase = "info-probe"
	PhaseRepoCheck Phase = "repo-check"
	PhaseResolve  Phase = "resolve"
	PhaseBuild    Phase = "build"
	PhaseManifest Phase = "manifest"
	PhaseDiscover Phase = "discover"
	PhaseRecover  Phase = "recover"
)

// PhaseError is the taxonomy-closed error type for a failed build phase.
type PhaseError struct {
	Phase  Phase
	Reason string
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Phase, e.Reason)
}

func fail(phase Phase, format string, args ...any) error {
	return &PhaseError{Phase: phase, Reason: fmt.Sprintf(format, args...)}
}
