package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanregisser/agent-wallet/internal/engine"
)

func TestParseCall(t *testing.T) {
	tests := []struct {
		in       string
		to       string
		selector string
		wantErr  bool
	}{
		{in: testTarget, to: testTarget},
		{in: testTarget + ":0xa9059cbb", to: testTarget, selector: "0xa9059cbb"},
		{in: testTarget + ":transfer(address,uint256)", to: testTarget, selector: "transfer(address,uint256)"},
		{in: " " + testTarget + " ", to: testTarget},
		{in: "0x1234", wantErr: true},
		{in: "not-an-address:0xa9059cbb", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCall(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, got.To)
			assert.Equal(t, tt.selector, got.Selector)
		})
	}
}

func policyFlagsCommand(args ...string) (*cobra.Command, *PolicyFlags, error) {
	pf := &PolicyFlags{}
	cmd := &cobra.Command{Use: "x"}
	pf.register(cmd)
	err := cmd.Flags().Parse(args)
	return cmd, pf, err
}

func TestPolicyFlags_Inline(t *testing.T) {
	cmd, pf, err := policyFlagsCommand("--call", testTarget, "--spend-limit", "100", "--spend-period", "week", "--expiry-days", "3")
	require.NoError(t, err)

	p, err := pf.Policy(cmd)
	require.NoError(t, err)
	require.Len(t, p.Calls, 1)
	assert.Equal(t, testTarget, p.Calls[0].To)
	assert.Equal(t, "100", p.SpendLimit.String())
	assert.Equal(t, "week", string(p.SpendPeriod))
	assert.Equal(t, 3, p.ExpiryDays)
}

func TestPolicyFlags_Errors(t *testing.T) {
	file := filepath.Join("..", "policyfile", "testdata", "example.cue")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "nothing given", args: nil, want: "a desired policy is required"},
		{name: "file and inline", args: []string{"--policy", file, "--spend-limit", "1"}, want: "cannot be combined"},
		{name: "bad call", args: []string{"--spend-limit", "1", "--call", "0x12"}, want: "is not an address"},
		{name: "bad period", args: []string{"--spend-limit", "1", "--spend-period", "fortnight"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, pf, err := policyFlagsCommand(tt.args...)
			require.NoError(t, err)

			_, err = pf.Policy(cmd)
			require.Error(t, err)
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

func TestReconcile_MissingRelayURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chain_id: 1\n"), 0644))

	_, err := cliRun(t, nil, "reconcile", "--config", path, "--spend-limit", "100")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "relay_url is required")
}

func TestReconcile_MissingPolicy(t *testing.T) {
	rs := newRelayServer(t)
	cfg := writeConfig(t, rs.URL)

	_, err := cliRun(t, nil, "reconcile", "--config", cfg)

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, 0, rs.grantCount())
}

func TestReconcile_EndToEnd(t *testing.T) {
	rs := newRelayServer(t)
	cfg := writeConfig(t, rs.URL)
	runIDs := engine.NewFixedGenerator("run-1", "run-2")

	// First run creates the agent key and grants.
	out, err := cliRun(t, runIDs, "reconcile", "--config", cfg,
		"--spend-limit", "100", "--call", testTarget, "--format", "json")
	require.NoError(t, err, "output: %s", out)

	resp, view := decodeRunResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, string(engine.StateActive), view.State)
	assert.Equal(t, "0xgrant01", view.RecordID)
	require.Len(t, view.Checkpoints, 6)
	assert.Equal(t, engine.StepKeyReadiness, view.Checkpoints[1].Step)
	assert.Equal(t, string(engine.StatusCreated), view.Checkpoints[1].Status)
	assert.Equal(t, 1, rs.grantCount())

	// Status reuses the key and the enforced capability.
	out, err = cliRun(t, runIDs, "status", "--config", cfg, "--format", "json")
	require.NoError(t, err, "output: %s", out)

	resp, view = decodeRunResponse(t, out)
	assert.Equal(t, "run-2", resp.RunID)
	assert.Equal(t, string(engine.StateActive), view.State)
	assert.Equal(t, "0xgrant01", view.RecordID)
	assert.Equal(t, string(engine.StatusAlreadyOK), view.Checkpoints[1].Status)
	assert.Equal(t, 1, rs.grantCount())

	// History lists both runs, newest first.
	out, err = cliRun(t, nil, "history", "--config", cfg, "--format", "json")
	require.NoError(t, err, "output: %s", out)

	var hist struct {
		Status string         `json:"status"`
		Data   []HistoryEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &hist))
	require.Len(t, hist.Data, 2)
	assert.Equal(t, "run-2", hist.Data[0].RunID)
	assert.Equal(t, "run-1", hist.Data[1].RunID)
	assert.Equal(t, string(engine.StateActive), hist.Data[1].State)
	assert.Len(t, hist.Data[1].Checkpoints, 6)
}

func TestReconcile_TextOutput(t *testing.T) {
	rs := newRelayServer(t)
	cfg := writeConfig(t, rs.URL)

	out, err := cliRun(t, engine.NewFixedGenerator("run-1"), "grant", "--config", cfg, "--spend-limit", "0x64")
	require.NoError(t, err)

	assert.Contains(t, out, "Run run-1 (account "+testAccount+", chain 84532)")
	assert.Contains(t, out, engine.StepClassification)
	assert.Contains(t, out, "State: ACTIVE_ONCHAIN")
	assert.Contains(t, out, "Capability: 0xgrant01")
}

func TestStatus_NothingGranted(t *testing.T) {
	rs := newRelayServer(t)
	cfg := writeConfig(t, rs.URL)

	out, err := cliRun(t, engine.NewFixedGenerator("run-1"), "status", "--config", cfg, "--format", "json")

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	resp, _ := decodeRunResponse(t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(engine.CodePolicyRequired), resp.Error.Code)
	assert.NotEmpty(t, resp.Error.Hint)
	assert.Equal(t, 0, rs.grantCount())
}
