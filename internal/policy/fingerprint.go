package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// DomainPolicy separates policy fingerprints from other hashes.
const DomainPolicy = "agent-wallet/policy/v1"

// hashWithDomain computes SHA256(domain || 0x00 || data).
func hashWithDomain(domain string, data []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return h.Sum(nil)
}

// canonicalMap renders the normalized policy as a canonical JSON object.
func (c Canonical) canonicalMap() map[string]any {
	calls := make([]any, len(c.Calls))
	for i, call := range c.Calls {
		calls[i] = map[string]any{"to": call.To, "selector": call.Selector}
	}
	spend := map[string]any{
		"period": string(c.Spend.Period),
		"token":  c.Spend.Token,
		"limit":  amountString(c.Spend.Limit),
	}
	m := map[string]any{
		"calls":       calls,
		"spend":       spend,
		"expiry_days": c.ExpiryDays,
	}
	if c.FeeLimit != nil {
		m["fee_limit"] = c.FeeLimit.String()
	}
	return m
}

// Digest returns the 32-byte domain-separated hash of the normalized policy.
// The agent key signs this digest as proof of possession.
func Digest(p DesiredPolicy) ([]byte, error) {
	data, err := MarshalCanonical(Normalize(p).canonicalMap())
	if err != nil {
		return nil, fmt.Errorf("policy digest: %w", err)
	}
	return hashWithDomain(DomainPolicy, data), nil
}

// Fingerprint returns the hex form of Digest.
func Fingerprint(p DesiredPolicy) (string, error) {
	d, err := Digest(p)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(d), nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
