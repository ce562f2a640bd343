package relay

import (
	"fmt"
	"math/big"
	"time"

	"github.com/jeanregisser/agent-wallet/internal/policy"
)

// decodeKeyRecord turns a schema-valid wire record into its tagged variant.
// Semantic checks the schema cannot express are enforced here.
func decodeKeyRecord(account string, chainID uint64, w wireRecord) (KeyRecord, error) {
	key := policy.Key{PublicKey: w.PublicKey, Type: policy.KeyType(w.KeyType)}
	expiry := time.Unix(w.Expiry, 0).UTC()

	switch Role(w.Role) {
	case RoleAdmin:
		if len(w.CallScope) > 0 || len(w.SpendScope) > 0 {
			return nil, fmt.Errorf("record %s: admin key must not carry scope", w.ID)
		}
		return &AdminKey{ID: w.ID, Expiry: expiry, Key: key}, nil
	case RoleSession:
		calls := decodeCalls(w.CallScope)
		spends, err := decodeSpends(w.SpendScope)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", w.ID, err)
		}
		return &SessionKey{Record: policy.CapabilityRecord{
			ID:      w.ID,
			Account: account,
			ChainID: chainID,
			Expiry:  expiry,
			Key:     key,
			Calls:   calls,
			Spends:  spends,
		}}, nil
	default:
		return nil, fmt.Errorf("record %s: unknown role %q", w.ID, w.Role)
	}
}

func decodeCalls(in []wireCall) []policy.CallEntry {
	out := make([]policy.CallEntry, len(in))
	for i, c := range in {
		out[i] = policy.CallEntry{To: c.To, Selector: c.Selector}
	}
	return out
}

func decodeSpends(in []wireSpend) ([]policy.SpendEntry, error) {
	out := make([]policy.SpendEntry, len(in))
	for i, s := range in {
		limit, err := policy.ParseAmount(s.Limit)
		if err != nil {
			return nil, fmt.Errorf("spend[%d]: %w", i, err)
		}
		period, err := policy.ParsePeriod(s.Period)
		if err != nil {
			return nil, fmt.Errorf("spend[%d]: %w", i, err)
		}
		out[i] = policy.SpendEntry{Limit: limit, Period: period, Token: s.Token}
	}
	return out, nil
}

func decodeGrant(w wireGrant) (*Grant, error) {
	spends, err := decodeSpends(w.Scope.SpendScope)
	if err != nil {
		return nil, err
	}
	return &Grant{
		ID:     w.ID,
		Expiry: time.Unix(w.Expiry, 0).UTC(),
		Key:    policy.Key{PublicKey: w.Key.PublicKey, Type: policy.KeyType(w.Key.KeyType)},
		Calls:  decodeCalls(w.Scope.CallScope),
		Spends: spends,
	}, nil
}

func encodeCalls(in []policy.CallEntry) []wireCall {
	out := make([]wireCall, len(in))
	for i, c := range in {
		out[i] = wireCall{To: c.To, Selector: c.Selector}
	}
	return out
}

func encodeAmount(v *big.Int) string {
	if v == nil {
		return ""
	}
	return "0x" + v.Text(16)
}
