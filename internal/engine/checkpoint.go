package engine

// Step names, in execution order.
const (
	StepAccountReadiness = "account-readiness"
	StepKeyReadiness     = "key-readiness"
	StepDiscovery        = "capability-state-discovery"
	StepPreparation      = "capability-preparation"
	StepClassification   = "capability-classification"
	StepOutcome          = "outcome"
)

// Steps lists every step name in execution order.
var Steps = []string{
	StepAccountReadiness,
	StepKeyReadiness,
	StepDiscovery,
	StepPreparation,
	StepClassification,
	StepOutcome,
}

// Status is the outcome of one step.
type Status string

const (
	StatusAlreadyOK Status = "already_ok"
	StatusCreated   Status = "created"
	StatusUpdated   Status = "updated"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Checkpoint records what one step observed or changed.
type Checkpoint struct {
	Name    string
	Status  Status
	Details map[string]string
}

// NextActionSettle is the instruction emitted with PENDING_ACTIVATION.
const NextActionSettle = "run a real operation under this capability to trigger settlement, then reconcile again"

// ResumeFrom returns the name of the first checkpoint that is not
// already_ok, or "" when every step was already satisfied.
func ResumeFrom(cps []Checkpoint) string {
	for _, cp := range cps {
		if cp.Status != StatusAlreadyOK {
			return cp.Name
		}
	}
	return ""
}
