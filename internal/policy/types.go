package policy

import (
	"fmt"
	"math/big"
	"time"
)

// Reserved sentinel values used by the relay to express "no restriction".
const (
	// AnyTarget is the reserved address meaning "any call target".
	AnyTarget = "0x3232323232323232323232323232323232323232"

	// AnySelector is the reserved selector meaning "any function".
	AnySelector = "0x32323232"

	// NativeToken is the spend token value for the chain's native asset.
	NativeToken = "0x0000000000000000000000000000000000000000"
)

// SpendPeriod is the window over which a spend limit resets.
type SpendPeriod string

const (
	PeriodMinute SpendPeriod = "minute"
	PeriodHour   SpendPeriod = "hour"
	PeriodDay    SpendPeriod = "day"
	PeriodWeek   SpendPeriod = "week"
	PeriodMonth  SpendPeriod = "month"
	PeriodYear   SpendPeriod = "year"
)

// ValidPeriods lists the spend periods accepted by the relay.
var ValidPeriods = []SpendPeriod{PeriodMinute, PeriodHour, PeriodDay, PeriodWeek, PeriodMonth, PeriodYear}

// ParsePeriod validates a period string.
func ParsePeriod(s string) (SpendPeriod, error) {
	for _, p := range ValidPeriods {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("invalid spend period %q: must be one of %v", s, ValidPeriods)
}

// KeyType identifies the curve/scheme of a signing key.
type KeyType string

const (
	KeyTypeP256      KeyType = "p256"
	KeyTypeSecp256k1 KeyType = "secp256k1"
	KeyTypeWebAuthn  KeyType = "webauthnp256"
)

// Key is a public key reference. It never holds private material.
type Key struct {
	PublicKey string  `json:"publicKey"`
	Type      KeyType `json:"keyType"`
}

// Equal compares keys case-insensitively on the public key.
func (k Key) Equal(other Key) bool {
	return k.Type == other.Type && equalHex(k.PublicKey, other.PublicKey)
}

// CallEntry permits calls to To, optionally restricted to one function.
// Selector may be a 4-byte hex selector, a textual signature such as
// "transfer(address,uint256)", or empty (any function).
type CallEntry struct {
	To       string `json:"to"`
	Selector string `json:"selector,omitempty"`
}

// SpendEntry caps spending of Token to Limit base units per Period.
// An empty Token means the native asset.
type SpendEntry struct {
	Limit  *big.Int    `json:"limit"`
	Period SpendPeriod `json:"period"`
	Token  string      `json:"token,omitempty"`
}

// DesiredPolicy is the target capability envelope for one reconciliation run.
// Construct it with NewDesiredPolicy; it is treated as immutable afterwards.
type DesiredPolicy struct {
	// Calls is the call allow-list. Empty means any target, any selector.
	Calls []CallEntry

	SpendLimit  *big.Int
	SpendPeriod SpendPeriod
	// SpendToken is empty for the native asset.
	SpendToken string

	// FeeLimit caps fees the relay may charge to the capability. Nil means no cap.
	FeeLimit *big.Int

	// ExpiryDays is the validity duration of a new grant.
	ExpiryDays int
}

// PolicyInput is the loosely-typed caller input for a DesiredPolicy.
type PolicyInput struct {
	Calls       []CallEntry
	SpendLimit  string
	SpendPeriod string
	SpendToken  string
	FeeLimit    string
	ExpiryDays  int
}

// DefaultExpiryDays is used when the caller leaves ExpiryDays at zero.
const DefaultExpiryDays = 7

// NewDesiredPolicy validates input and builds an immutable DesiredPolicy.
func NewDesiredPolicy(in PolicyInput) (DesiredPolicy, error) {
	limit, err := ParseAmount(in.SpendLimit)
	if err != nil {
		return DesiredPolicy{}, fmt.Errorf("spend limit: %w", err)
	}
	period, err := ParsePeriod(in.SpendPeriod)
	if err != nil {
		return DesiredPolicy{}, err
	}
	if in.SpendToken != "" && !IsAddress(in.SpendToken) {
		return DesiredPolicy{}, fmt.Errorf("spend token %q is not an address", in.SpendToken)
	}

	var fee *big.Int
	if in.FeeLimit != "" {
		fee, err = ParseAmount(in.FeeLimit)
		if err != nil {
			return DesiredPolicy{}, fmt.Errorf("fee limit: %w", err)
		}
	}

	days := in.ExpiryDays
	if days == 0 {
		days = DefaultExpiryDays
	}
	if days < 0 {
		return DesiredPolicy{}, fmt.Errorf("expiry days must be positive, got %d", days)
	}

	calls := make([]CallEntry, 0, len(in.Calls))
	for i, c := range in.Calls {
		if !IsAddress(c.To) {
			return DesiredPolicy{}, fmt.Errorf("call[%d]: target %q is not an address", i, c.To)
		}
		calls = append(calls, c)
	}

	return DesiredPolicy{
		Calls:       calls,
		SpendLimit:  limit,
		SpendPeriod: period,
		SpendToken:  in.SpendToken,
		FeeLimit:    fee,
		ExpiryDays:  days,
	}, nil
}

// Expiry returns the absolute expiry of a grant requested at now.
func (p DesiredPolicy) Expiry(now time.Time) time.Time {
	return now.Add(time.Duration(p.ExpiryDays) * 24 * time.Hour)
}

// Spend returns the policy's spend requirement as a SpendEntry.
func (p DesiredPolicy) Spend() SpendEntry {
	return SpendEntry{Limit: p.SpendLimit, Period: p.SpendPeriod, Token: p.SpendToken}
}

// CapabilityRecord is an observed grant, either active (enforced by the
// relay) or pending (requested, not yet confirmed).
type CapabilityRecord struct {
	ID      string
	Account string
	ChainID uint64
	Expiry  time.Time
	Key     Key
	Calls   []CallEntry
	Spends  []SpendEntry

	// Pending-only fields.
	CreatedAt    time.Time
	Fingerprint  string
	SettlementID string
}

// ValidAt reports whether the record is unexpired at now.
func (r CapabilityRecord) ValidAt(now time.Time) bool {
	return r.Expiry.After(now)
}

// PolicyFromRecord derives the policy a pending record was granted for.
// Used when reconciling without a caller-supplied policy.
func PolicyFromRecord(r CapabilityRecord) DesiredPolicy {
	p := DesiredPolicy{Calls: append([]CallEntry(nil), r.Calls...), ExpiryDays: DefaultExpiryDays}
	if len(r.Spends) > 0 {
		s := r.Spends[0]
		p.SpendLimit = s.Limit
		p.SpendPeriod = s.Period
		p.SpendToken = s.Token
	}
	return p
}

// PoliciesFromRecord derives one policy per spend entry of r, so a record
// whose first entry is relay bookkeeping still yields the granted limit.
// A record without spend entries yields a single spend-less policy.
func PoliciesFromRecord(r CapabilityRecord) []DesiredPolicy {
	if len(r.Spends) <= 1 {
		return []DesiredPolicy{PolicyFromRecord(r)}
	}
	out := make([]DesiredPolicy, len(r.Spends))
	for i := range r.Spends {
		one := r
		one.Spends = r.Spends[i : i+1]
		out[i] = PolicyFromRecord(one)
	}
	return out
}
