package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeanregisser/agent-wallet/internal/engine"
	"github.com/jeanregisser/agent-wallet/internal/policy"
	"github.com/jeanregisser/agent-wallet/internal/testutil"
)

// Scenario defines one reconciliation scenario: the relay and local state
// before the first run, the runs to execute, and assertions on the result.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	Account string `yaml:"account"`
	ChainID uint64 `yaml:"chain_id"`

	// Policy is the desired policy passed to every non-status run.
	Policy *PolicySpec `yaml:"policy,omitempty"`

	// PolicyFile is a CUE policy file, relative to the scenario file.
	// Mutually exclusive with Policy.
	PolicyFile string `yaml:"policy_file,omitempty"`

	Relay RelaySetup `yaml:"relay"`

	// Pending seeds the local pending record before the first run.
	Pending *RecordSpec `yaml:"pending,omitempty"`

	// CreateKey starts the signer without a key; key readiness creates it.
	CreateKey bool `yaml:"create_key,omitempty"`

	Runs []RunStep `yaml:"runs"`

	Assertions []Assertion `yaml:"assertions"`
}

// PolicySpec is the YAML form of a desired policy.
type PolicySpec struct {
	Calls      []policy.CallEntry `yaml:"calls"`
	Spend      SpendSpec          `yaml:"spend"`
	FeeLimit   string             `yaml:"fee_limit,omitempty"`
	ExpiryDays int                `yaml:"expiry_days,omitempty"`
}

// SpendSpec is the YAML form of a spend entry.
type SpendSpec struct {
	Limit  string `yaml:"limit"`
	Period string `yaml:"period"`
	Token  string `yaml:"token,omitempty"`
}

// RelaySetup scripts the fake relay.
type RelaySetup struct {
	// ActivateAfter is the number of capability reads a grant stays
	// invisible for. "never" keeps grants pending.
	ActivateAfter Activation `yaml:"activate_after"`

	// Active lists records the relay already enforces.
	Active []RecordSpec `yaml:"active,omitempty"`

	// Unavailable makes every capability read fail with this message.
	Unavailable string `yaml:"unavailable,omitempty"`

	// GrantRejected makes every grant request fail with this message.
	GrantRejected string `yaml:"grant_rejected,omitempty"`
}

// Activation is a grant countdown, decoded from an integer or "never".
type Activation int

// UnmarshalYAML accepts a non-negative integer or "never".
func (a *Activation) UnmarshalYAML(node *yaml.Node) error {
	if node.Value == "never" {
		*a = Activation(testutil.NeverActivate)
		return nil
	}
	var n int
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("activate_after: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("activate_after must be non-negative or \"never\", got %d", n)
	}
	*a = Activation(n)
	return nil
}

// RecordSpec is the YAML form of a capability record. Key defaults to the
// agent key and ExpiresIn to seven days.
type RecordSpec struct {
	ID        string             `yaml:"id"`
	Calls     []policy.CallEntry `yaml:"calls"`
	Spends    []SpendSpec        `yaml:"spends"`
	ExpiresIn time.Duration      `yaml:"expires_in,omitempty"`
	Key       *KeySpec           `yaml:"key,omitempty"`
}

// KeySpec is the YAML form of a public key reference.
type KeySpec struct {
	PublicKey string `yaml:"public_key"`
	Type      string `yaml:"type"`
}

// RunStep is one call to Reconcile.
type RunStep struct {
	// Status runs without a desired policy.
	Status bool `yaml:"status,omitempty"`

	// Release resets the countdown of staged grants before the run.
	Release *int `yaml:"release,omitempty"`
}

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type specifies the assertion type:
	// - "checkpoint": step Step of run Run has Status and Details
	// - "outcome": run Run ended in State, or failed with Error
	// - "grant_count": exactly Count grants were requested
	// - "pending": the local pending record exists (or not) with ID
	Type string `yaml:"type"`

	// Run is the 1-based run index (checkpoint, outcome).
	Run int `yaml:"run,omitempty"`

	Step    string            `yaml:"step,omitempty"`
	Status  string            `yaml:"status,omitempty"`
	Details map[string]string `yaml:"details,omitempty"`

	State string `yaml:"state,omitempty"`
	Error string `yaml:"error,omitempty"`

	Count int `yaml:"count,omitempty"`

	Exists *bool  `yaml:"exists,omitempty"`
	ID     string `yaml:"id,omitempty"`
}

// Assertion type constants.
const (
	AssertCheckpoint = "checkpoint"
	AssertOutcome    = "outcome"
	AssertGrantCount = "grant_count"
	AssertPending    = "pending"
)

// LoadScenario reads and parses a scenario YAML file. PolicyFile is
// resolved relative to the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML. Unknown fields are rejected.
func ParseScenario(data []byte, baseDir string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.PolicyFile != "" && !filepath.IsAbs(scenario.PolicyFile) && baseDir != "" {
		scenario.PolicyFile = filepath.Join(baseDir, scenario.PolicyFile)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if !policy.IsAddress(s.Account) {
		return fmt.Errorf("account %q is not an address", s.Account)
	}
	if s.ChainID == 0 {
		return fmt.Errorf("chain_id is required")
	}
	if s.Policy != nil && s.PolicyFile != "" {
		return fmt.Errorf("policy and policy_file are mutually exclusive")
	}
	if len(s.Runs) == 0 {
		return fmt.Errorf("runs list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	hasPolicy := s.Policy != nil || s.PolicyFile != ""
	for i, r := range s.Runs {
		if !r.Status && !hasPolicy {
			return fmt.Errorf("runs[%d]: a policy is required unless status is set", i)
		}
		if r.Release != nil && *r.Release < 0 {
			return fmt.Errorf("runs[%d]: release must be non-negative", i)
		}
	}

	for i, rec := range s.Relay.Active {
		if err := validateRecord(fmt.Sprintf("relay.active[%d]", i), rec); err != nil {
			return err
		}
	}
	if s.Pending != nil {
		if err := validateRecord("pending", *s.Pending); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], len(s.Runs)); err != nil {
			return err
		}
	}
	return nil
}

func validateRecord(where string, r RecordSpec) error {
	if r.ID == "" {
		return fmt.Errorf("%s: id is required", where)
	}
	if len(r.Spends) == 0 {
		return fmt.Errorf("%s: spends list is required", where)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, runs int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCheckpoint, AssertOutcome:
		if a.Run < 1 || a.Run > runs {
			return fmt.Errorf("assertions[%d]: run must be between 1 and %d", index, runs)
		}
	}

	switch a.Type {
	case AssertCheckpoint:
		if !isStep(a.Step) {
			return fmt.Errorf("assertions[%d]: unknown step %q", index, a.Step)
		}
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for checkpoint", index)
		}
	case AssertOutcome:
		if a.State == "" && a.Error == "" {
			return fmt.Errorf("assertions[%d]: state or error is required for outcome", index)
		}
	case AssertGrantCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for grant_count", index)
		}
	case AssertPending:
		if a.Exists == nil {
			return fmt.Errorf("assertions[%d]: exists is required for pending", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func isStep(name string) bool {
	for _, s := range engine.Steps {
		if s == name {
			return true
		}
	}
	return false
}
