package reviewapp

import "github.com/previewops/fly-review-apps/internal/gha"

// Decision is the single operation the executor will carry out.
type Decision int

const (
	// DecisionNoOp skips external mutation entirely.
	DecisionNoOp Decision = iota
	// DecisionCreate provisions the app and runs its first deploy.
	DecisionCreate
	// DecisionUpdate redeploys an existing app.
	DecisionUpdate
	// DecisionDestroy removes the app. Idempotent.
	DecisionDestroy
)

func (d Decision) String() string {
	switch d {
	case DecisionCreate:
		return "create"
	case DecisionUpdate:
		return "update"
	case DecisionDestroy:
		return "destroy"
	default:
		return "no-op"
	}
}

// Decide maps the triggering event action and the app's current existence
// to a decision. State is re-derived from the live status query on every
// run, so repeated delivery of the same event converges to the same end
// state: a close always destroys, a sync deploys whether or not the first
// create ever landed, and an open on an already-provisioned app only
// redeploys.
func Decide(action gha.Action, exists bool) Decision {
	switch action {
	case gha.ActionClosed:
		return DecisionDestroy
	case gha.ActionOpened, gha.ActionSynchronize:
		if exists {
			return DecisionUpdate
		}
		return DecisionCreate
	default:
		return DecisionNoOp
	}
}
