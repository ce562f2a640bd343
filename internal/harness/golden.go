package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/jeanregisser/agent-wallet/internal/policy"
)

// TraceSnapshot captures the checkpoint trace of a scenario execution.
// Only step names, statuses and verdicts are recorded; details such as
// poll counts depend on goroutine scheduling and are left to assertions.
type TraceSnapshot struct {
	ScenarioName string
	Grants       int
	Runs         []RunOutcome
}

// toCanonicalMap converts a TraceSnapshot for canonical JSON serialization.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	runs := make([]any, len(s.Runs))
	for i, r := range s.Runs {
		cps := make([]any, len(r.Checkpoints))
		for j, cp := range r.Checkpoints {
			cps[j] = map[string]any{
				"step":   cp.Name,
				"status": string(cp.Status),
			}
		}
		run := map[string]any{
			"run_id":      r.RunID,
			"checkpoints": cps,
		}
		if r.State != "" {
			run["state"] = r.State
		}
		if r.ErrorCode != "" {
			run["error"] = r.ErrorCode
		}
		runs[i] = run
	}
	return map[string]any{
		"scenario": s.ScenarioName,
		"grants":   s.Grants,
		"runs":     runs,
	}
}

// Snapshot renders result as canonical JSON.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	snap := TraceSnapshot{ScenarioName: scenarioName, Grants: result.Grants, Runs: result.Runs}
	return policy.MarshalCanonical(snap.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
