package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeanregisser/agent-wallet/internal/config"
	"github.com/jeanregisser/agent-wallet/internal/engine"
	"github.com/jeanregisser/agent-wallet/internal/relay"
	"github.com/jeanregisser/agent-wallet/internal/signer"
)

const (
	testAccount = "0x1111111111111111111111111111111111111111"
	testTarget  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

// relayServer is a JSON-RPC relay that enforces every grant immediately,
// or never while hold is set.
type relayServer struct {
	*httptest.Server

	mu      sync.Mutex
	records []map[string]any
	grants  int
	hold    bool
	settled map[string]string
}

func newRelayServer(t *testing.T) *relayServer {
	t.Helper()
	rs := &relayServer{settled: map[string]string{}}
	rs.Server = httptest.NewServer(http.HandlerFunc(rs.handle))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *relayServer) handle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     uint64            `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Params) != 1 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	switch req.Method {
	case relay.MethodGetCapabilities:
		resp["result"] = append([]map[string]any{}, rs.records...)
	case relay.MethodRequestGrant:
		var p struct {
			Key         map[string]string `json:"key"`
			Expiry      int64             `json:"expiry"`
			Permissions struct {
				Calls []map[string]string `json:"calls"`
				Spend []map[string]string `json:"spend"`
			} `json:"permissions"`
		}
		if err := json.Unmarshal(req.Params[0], &p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rs.grants++
		id := fmt.Sprintf("0xgrant%02d", rs.grants)
		if !rs.hold {
			rs.records = append(rs.records, map[string]any{
				"id":         id,
				"expiry":     p.Expiry,
				"publicKey":  p.Key["publicKey"],
				"keyType":    p.Key["keyType"],
				"role":       "session",
				"callScope":  p.Permissions.Calls,
				"spendScope": p.Permissions.Spend,
			})
		}
		resp["result"] = map[string]any{
			"id":     id,
			"expiry": p.Expiry,
			"key":    p.Key,
			"scope": map[string]any{
				"callScope":  p.Permissions.Calls,
				"spendScope": p.Permissions.Spend,
			},
		}
	case relay.MethodGetSettlementStatus:
		var p struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(req.Params[0], &p)
		status, ok := rs.settled[p.ID]
		if !ok {
			status = "pending"
		}
		resp["result"] = map[string]any{"status": status}
	default:
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (rs *relayServer) holdGrants() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.hold = true
}

func (rs *relayServer) settle(requestID, status string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.settled[requestID] = status
}

func (rs *relayServer) grantCount() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.grants
}

// writeConfig writes a config file pointing at relayURL and returns its path.
func writeConfig(t *testing.T, relayURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`relay_url: %s
chain_id: 84532
account: "%s"
request_timeout: 2s
activation:
  poll_interval: 10ms
  timeout: 500ms
`, relayURL, testAccount)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// cliRun executes the root command with args and returns stdout and the error.
func cliRun(t *testing.T, runIDs engine.RunIDGenerator, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvPassphrase, "correct horse battery staple")

	opts := &RootOptions{
		KeystoreOptions: []signer.KeystoreOption{signer.WithWorkFactor(10)},
		RunIDs:          runIDs,
	}
	cmd := newRootCommand(opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decodeRunResponse decodes a JSON CLIResponse whose data is a RunView.
func decodeRunResponse(t *testing.T, out string) (CLIResponse, RunView) {
	t.Helper()
	var raw struct {
		CLIResponse
		Data RunView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), "output: %s", out)
	return raw.CLIResponse, raw.Data
}
