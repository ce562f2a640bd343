package harness

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			require.Equal(t, name, scenario.Name, "scenario name must match file name")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertion failures: %v", result.Errors)
		})
	}
}

func TestRun_IsDeterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/pending_then_active.yaml")
	require.NoError(t, err)

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	a, err := Snapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_ReportsAssertionFailures(t *testing.T) {
	scenario := mustParse(t, `
name: wrong_expectations
description: "assertions that do not hold"
account: "0x1111111111111111111111111111111111111111"
chain_id: 84532
policy:
  calls: [{to: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}]
  spend: {limit: "100", period: day}
relay:
  activate_after: 0
runs:
  - {}
assertions:
  - type: outcome
    run: 1
    state: PENDING_ACTIVATION
  - type: grant_count
    count: 2
  - type: checkpoint
    run: 1
    step: capability-preparation
    status: updated
    details: {source: active}
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "expected state PENDING_ACTIVATION")
	assert.Contains(t, result.Errors[1], "expected 2 grant requests, got 1")
	assert.Contains(t, result.Errors[2], `detail "source"`)
}

func TestRun_GrantRejected(t *testing.T) {
	scenario := mustParse(t, `
name: grant_rejected
description: "relay rejects the grant"
account: "0x1111111111111111111111111111111111111111"
chain_id: 84532
policy:
  calls: [{to: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}]
  spend: {limit: "100", period: day}
relay:
  activate_after: 0
  grant_rejected: "insufficient fee allowance"
runs:
  - {}
assertions:
  - type: outcome
    run: 1
    error: E_REMOTE
  - type: pending
    exists: false
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "assertion failures: %v", result.Errors)
	assert.Equal(t, 1, result.Grants)

	cp, ok := result.Runs[0].Checkpoint("capability-preparation")
	require.True(t, ok)
	assert.Contains(t, cp.Details["error"], "insufficient fee allowance")
}

func TestRun_InvalidPolicyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.cue"), []byte(`policy: {spend: {limit: "x"}}`), 0644))
	scenarioPath := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(scenarioPath, []byte(`
name: bad_policy
description: "policy file fails validation"
account: "0x1111111111111111111111111111111111111111"
chain_id: 84532
policy_file: bad.cue
relay: {activate_after: 0}
runs: [{}]
assertions: [{type: grant_count, count: 0}]
`), 0644))

	scenario, err := LoadScenario(scenarioPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bad.cue"), scenario.PolicyFile)

	_, err = Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.cue")
}

func mustParse(t *testing.T, content string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(content), "")
	require.NoError(t, err)
	return s
}
