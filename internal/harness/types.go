package harness

import (
	"github.com/jeanregisser/agent-wallet/internal/engine"
	"github.com/jeanregisser/agent-wallet/internal/policy"
)

// RunOutcome is the observable result of one Reconcile call.
type RunOutcome struct {
	RunID       string              `json:"run_id"`
	State       string              `json:"state,omitempty"`
	ErrorCode   string              `json:"error,omitempty"`
	Checkpoints []engine.Checkpoint `json:"checkpoints"`
}

// Checkpoint returns the checkpoint for step, if the run reached it.
func (o RunOutcome) Checkpoint(step string) (engine.Checkpoint, bool) {
	for _, cp := range o.Checkpoints {
		if cp.Name == step {
			return cp, true
		}
	}
	return engine.Checkpoint{}, false
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Runs []RunOutcome `json:"runs"`

	// Grants is the number of grant requests the relay received.
	Grants int `json:"grants"`

	// Pending is the local pending record after the last run.
	Pending *policy.CapabilityRecord `json:"-"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Runs:   []RunOutcome{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
