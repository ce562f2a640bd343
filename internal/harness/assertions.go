package harness

import (
	"fmt"
	"sort"
)

// EvaluateAssertions checks every assertion against result and returns a
// message per failure. An empty slice means all assertions held.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertion[%d] (%s): %v", i, a.Type, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertCheckpoint:
		return assertCheckpoint(result, a)
	case AssertOutcome:
		return assertOutcome(result, a)
	case AssertGrantCount:
		if result.Grants != a.Count {
			return fmt.Errorf("expected %d grant requests, got %d", a.Count, result.Grants)
		}
		return nil
	case AssertPending:
		return assertPending(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func runOutcome(result *Result, run int) (RunOutcome, error) {
	if run < 1 || run > len(result.Runs) {
		return RunOutcome{}, fmt.Errorf("run %d not executed (%d runs)", run, len(result.Runs))
	}
	return result.Runs[run-1], nil
}

// assertCheckpoint verifies a step's status. Details is a subset match:
// only the listed keys are compared.
func assertCheckpoint(result *Result, a Assertion) error {
	out, err := runOutcome(result, a.Run)
	if err != nil {
		return err
	}
	cp, ok := out.Checkpoint(a.Step)
	if !ok {
		return fmt.Errorf("run %d has no %s checkpoint", a.Run, a.Step)
	}
	if string(cp.Status) != a.Status {
		return fmt.Errorf("run %d step %s: expected status %s, got %s", a.Run, a.Step, a.Status, cp.Status)
	}

	keys := make([]string, 0, len(a.Details))
	for k := range a.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		got, ok := cp.Details[k]
		if !ok {
			return fmt.Errorf("run %d step %s: missing detail %q", a.Run, a.Step, k)
		}
		if got != a.Details[k] {
			return fmt.Errorf("run %d step %s: detail %q: expected %q, got %q", a.Run, a.Step, k, a.Details[k], got)
		}
	}
	return nil
}

func assertOutcome(result *Result, a Assertion) error {
	out, err := runOutcome(result, a.Run)
	if err != nil {
		return err
	}
	if a.State != "" && out.State != a.State {
		return fmt.Errorf("run %d: expected state %s, got %q", a.Run, a.State, out.State)
	}
	if out.ErrorCode != a.Error {
		if a.Error == "" {
			return fmt.Errorf("run %d: unexpected error %s", a.Run, out.ErrorCode)
		}
		return fmt.Errorf("run %d: expected error %s, got %q", a.Run, a.Error, out.ErrorCode)
	}
	return nil
}

func assertPending(result *Result, a Assertion) error {
	exists := result.Pending != nil
	if exists != *a.Exists {
		return fmt.Errorf("expected pending record exists=%t, got %t", *a.Exists, exists)
	}
	if exists && a.ID != "" && result.Pending.ID != a.ID {
		return fmt.Errorf("expected pending record %s, got %s", a.ID, result.Pending.ID)
	}
	return nil
}
