package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jeanregisser/agent-wallet/internal/policy"
	"github.com/jeanregisser/agent-wallet/internal/relay"
)

// Grant requests a new capability for p and persists the result as the
// pending record for (account, chainID), replacing any previous one.
//
// Grant is not idempotent: every call creates a distinct relay grant
// request. Reconcile only calls it when no active or pending record
// already satisfies p.
func (e *Engine) Grant(ctx context.Context, account string, chainID uint64, p policy.DesiredPolicy) (policy.CapabilityRecord, error) {
	if err := checkGrantable(p, account); err != nil {
		return policy.CapabilityRecord{}, err
	}

	key, err := e.signer.PublicKey(ctx)
	if err != nil {
		return policy.CapabilityRecord{}, errKey("read agent public key", err)
	}

	digest, err := policy.Digest(p)
	if err != nil {
		return policy.CapabilityRecord{}, errInvalidInput("encode desired policy", err)
	}
	fingerprint := hex.EncodeToString(digest)
	proof, err := e.signer.Sign(ctx, digest)
	if err != nil {
		return policy.CapabilityRecord{}, errKey("sign policy fingerprint", err)
	}

	// The wire request always carries an explicit call scope; an empty
	// desired scope is sent as the wildcard sentinel.
	canon := policy.Normalize(p)
	now := e.clock.Now()
	req := relay.GrantRequest{
		Account:     account,
		ChainID:     chainID,
		Key:         key,
		Expiry:      p.Expiry(now),
		Calls:       canon.Calls,
		Spend:       canon.Spend,
		FeeLimit:    p.FeeLimit,
		Fingerprint: fingerprint,
		Proof:       proof,
	}

	g, err := withDeadline(ctx, e.clock, relay.MethodRequestGrant, e.timing.RequestTimeout,
		func(ctx context.Context) (*relay.Grant, error) {
			return e.relay.RequestGrant(ctx, req)
		})
	if err != nil {
		return policy.CapabilityRecord{}, remoteError(relay.MethodRequestGrant, err)
	}

	rec := policy.CapabilityRecord{
		ID:          g.ID,
		Account:     account,
		ChainID:     chainID,
		Expiry:      g.Expiry,
		Key:         g.Key,
		Calls:       g.Calls,
		Spends:      g.Spends,
		CreatedAt:   now,
		Fingerprint: fingerprint,
	}
	if !g.Key.Equal(key) {
		return policy.CapabilityRecord{}, errState(fmt.Sprintf("relay granted capability %s to a different key", g.ID))
	}
	if f, bad := insecure(SourcePending, rec, account); bad {
		return policy.CapabilityRecord{}, errInsecureState([]InsecureFinding{f})
	}
	if !policy.Matches(p, rec) {
		return policy.CapabilityRecord{}, errState(fmt.Sprintf("relay granted capability %s with a scope that does not satisfy the desired policy", g.ID))
	}

	if err := e.store.SavePendingCapability(ctx, rec); err != nil {
		return policy.CapabilityRecord{}, errStore("save pending capability", err)
	}

	e.logger.Info("capability grant requested",
		"account", account, "chain_id", chainID, "record_id", rec.ID,
		"expiry", rec.Expiry.Format(time.RFC3339))
	return rec, nil
}

// checkGrantable enforces the grant preconditions: a complete policy with
// no unsafe self-call entry.
func checkGrantable(p policy.DesiredPolicy, account string) error {
	if p.SpendLimit == nil || p.SpendPeriod == "" {
		return errPolicyRequired("desired policy has no spend limit")
	}
	if p.ExpiryDays <= 0 {
		return errPolicyRequired("desired policy has no expiry")
	}
	if err := policy.ValidatePolicy(p, account); err != nil {
		return errUnsafeSelfCall(err)
	}
	return nil
}
