package policy

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool {
	return isHexOfLen(s, 20)
}

// IsSelector reports whether s is a 0x-prefixed 4-byte hex selector.
func IsSelector(s string) bool {
	return isHexOfLen(s, 4)
}

func isHexOfLen(s string, n int) bool {
	if len(s) != 2+2*n || !has0x(s) {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

func has0x(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

func equalHex(a, b string) bool {
	return strings.EqualFold(a, b)
}

// ParseAmount parses a non-negative integer amount in decimal or 0x-hex.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("amount is required")
	}
	v := new(big.Int)
	var ok bool
	if has0x(s) {
		_, ok = v.SetString(s[2:], 16)
	} else {
		_, ok = v.SetString(s, 10)
	}
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is negative", s)
	}
	return v, nil
}

// CanonicalAddress lowercases an address.
func CanonicalAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// CanonicalToken maps an empty or zero-address token to NativeToken.
func CanonicalToken(token string) string {
	t := CanonicalAddress(token)
	if t == "" || t == "0x" {
		return NativeToken
	}
	return t
}

// CanonicalSelector reduces a selector to lowercase 4-byte hex form.
//
// Accepted inputs: empty (any function), an already-hex selector, or a
// textual signature like "transfer(address,uint256)", which is hashed with
// Keccak-256. Anything else is returned lowercased so that it compares
// unequal rather than aborting reconciliation.
func CanonicalSelector(sel string) string {
	s := strings.TrimSpace(sel)
	if s == "" {
		return AnySelector
	}
	if IsSelector(s) {
		return strings.ToLower(s)
	}
	if sig, ok := canonicalSignature(s); ok {
		return SignatureSelector(sig)
	}
	return strings.ToLower(s)
}

// SignatureSelector returns the 4-byte selector of a canonical signature.
func SignatureSelector(sig string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(sig))
	return "0x" + hex.EncodeToString(h.Sum(nil)[:4])
}

// canonicalSignature strips whitespace from name(args) and checks its shape.
func canonicalSignature(s string) (string, bool) {
	sig := strings.Join(strings.Fields(s), "")
	open := strings.IndexByte(sig, '(')
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return "", false
	}
	name := sig[:open]
	for i, r := range name {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return "", false
		}
	}
	return sig, true
}

// CanonicalCall lowercases the target and canonicalizes the selector.
func CanonicalCall(c CallEntry) CallEntry {
	return CallEntry{To: CanonicalAddress(c.To), Selector: CanonicalSelector(c.Selector)}
}

// CanonicalCalls canonicalizes a call scope. An empty scope becomes the
// explicit any-target/any-selector sentinel, so the two spellings of
// "unrestricted" compare equal.
func CanonicalCalls(calls []CallEntry) []CallEntry {
	if len(calls) == 0 {
		return []CallEntry{{To: AnyTarget, Selector: AnySelector}}
	}
	return canonicalEntries(calls)
}

// CanonicalSpend canonicalizes the token of a spend entry.
func CanonicalSpend(s SpendEntry) SpendEntry {
	return SpendEntry{Limit: s.Limit, Period: s.Period, Token: CanonicalToken(s.Token)}
}

// Canonical is the comparable form of a DesiredPolicy.
type Canonical struct {
	Calls      []CallEntry
	Spend      SpendEntry
	FeeLimit   *big.Int
	ExpiryDays int
}

// Normalize returns the canonical form of p.
func Normalize(p DesiredPolicy) Canonical {
	return Canonical{
		Calls:      CanonicalCalls(p.Calls),
		Spend:      CanonicalSpend(p.Spend()),
		FeeLimit:   p.FeeLimit,
		ExpiryDays: p.ExpiryDays,
	}
}
