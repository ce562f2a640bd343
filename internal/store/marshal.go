package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jeanregisser/agent-wallet/internal/policy"
)

type storedSpend struct {
	Limit  string `json:"limit"`
	Period string `json:"period"`
	Token  string `json:"token,omitempty"`
}

// marshalCalls converts a call scope to JSON TEXT for storage.
// HTML escaping is disabled so stored text matches what was observed.
func marshalCalls(calls []policy.CallEntry) (string, error) {
	if calls == nil {
		calls = []policy.CallEntry{}
	}
	return encodeJSON(calls)
}

func unmarshalCalls(data string) ([]policy.CallEntry, error) {
	var calls []policy.CallEntry
	if err := json.Unmarshal([]byte(data), &calls); err != nil {
		return nil, fmt.Errorf("unmarshal calls: %w", err)
	}
	if len(calls) == 0 {
		return nil, nil
	}
	return calls, nil
}

// marshalSpends stores limits as decimal strings; uint256 amounts do not
// fit a JSON number without precision loss.
func marshalSpends(spends []policy.SpendEntry) (string, error) {
	out := make([]storedSpend, len(spends))
	for i, s := range spends {
		limit := "0"
		if s.Limit != nil {
			limit = s.Limit.String()
		}
		out[i] = storedSpend{Limit: limit, Period: string(s.Period), Token: s.Token}
	}
	return encodeJSON(out)
}

func unmarshalSpends(data string) ([]policy.SpendEntry, error) {
	var stored []storedSpend
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, fmt.Errorf("unmarshal spends: %w", err)
	}
	out := make([]policy.SpendEntry, len(stored))
	for i, s := range stored {
		limit, ok := new(big.Int).SetString(s.Limit, 10)
		if !ok {
			return nil, fmt.Errorf("unmarshal spends: invalid limit %q", s.Limit)
		}
		out[i] = policy.SpendEntry{Limit: limit, Period: policy.SpendPeriod(s.Period), Token: s.Token}
	}
	return out, nil
}

// marshalDetails converts checkpoint details to canonical JSON TEXT so
// identical runs produce identical rows.
func marshalDetails(details map[string]string) (string, error) {
	m := make(map[string]any, len(details))
	for k, v := range details {
		m[k] = v
	}
	data, err := policy.MarshalCanonical(m)
	if err != nil {
		return "", fmt.Errorf("marshal details: %w", err)
	}
	return string(data), nil
}

func unmarshalDetails(data string) (map[string]string, error) {
	if data == "" || data == "{}" {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal details: %w", err)
	}
	return m, nil
}

func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
