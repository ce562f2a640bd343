package engine

import (
	"context"

	"github.com/jeanregisser/agent-wallet/internal/policy"
	"github.com/jeanregisser/agent-wallet/internal/relay"
)

// ActivationState is the verdict of one reconciliation run.
type ActivationState string

const (
	// StateActive means the relay enforces a record satisfying the policy.
	StateActive ActivationState = "ACTIVE_ONCHAIN"

	// StatePending means a grant is prepared but not yet enforced. It
	// settles with the first real operation executed under it.
	StatePending ActivationState = "PENDING_ACTIVATION"
)

// Classification is the result of Classify.
type Classification struct {
	State ActivationState

	// Record is the matching active record, or the pending record when
	// still pending.
	Record *policy.CapabilityRecord

	// Polls is the number of discovery rounds performed.
	Polls int

	// Settlement is the last observed status of the pending record's
	// settlement request, nil when none is attached.
	Settlement *relay.SettlementStatus
}

// Classify polls discovery every PollInterval until an active record
// matching want appears or ActivationTimeout elapses on the engine clock.
//
// On a match the pending record is cleared and StateActive is returned.
// When the window closes first, StatePending is returned with a nil error
// and the pending record is left in place. A nil want matches any active
// record, or the scope of the pending record when one exists.
//
// Polling runs on the caller's goroutine. Each relay call is bounded by
// RequestTimeout and its failure, timeouts included, is returned as is.
func (e *Engine) Classify(ctx context.Context, account string, chainID uint64, key policy.Key, want *policy.DesiredPolicy) (Classification, error) {
	deadline := e.clock.Now().Add(e.timing.ActivationTimeout)
	var c Classification
	for {
		d, err := e.Discover(ctx, account, chainID, key)
		if err != nil {
			return Classification{}, err
		}
		c.Polls++

		if rec, ok := classifyMatch(want, d); ok {
			if d.Pending != nil {
				if err := e.store.DeletePendingCapability(ctx, account, chainID); err != nil {
					return Classification{}, errStore("clear pending capability", err)
				}
				e.logger.Info("pending capability activated",
					"account", account, "chain_id", chainID, "record_id", rec.ID)
			}
			c.State = StateActive
			c.Record = &rec
			return c, nil
		}

		if d.Pending == nil {
			return Classification{}, errState("no active or pending capability satisfies the desired policy")
		}
		c.Record = d.Pending

		if d.Pending.SettlementID != "" {
			status, err := e.settlementStatus(ctx, d.Pending.SettlementID)
			if err != nil {
				return Classification{}, err
			}
			if status.Status == relay.SettlementFailed {
				e.logger.Warn("settlement failed; capability stays pending",
					"account", account, "chain_id", chainID, "record_id", d.Pending.ID,
					"request_id", d.Pending.SettlementID)
			}
			c.Settlement = status
		}

		if err := e.clock.Sleep(ctx, e.timing.PollInterval); err != nil {
			return Classification{}, err
		}
		if !e.clock.Now().Before(deadline) {
			c.State = StatePending
			e.logger.Info("activation window closed",
				"account", account, "chain_id", chainID, "polls", c.Polls, "state", c.State)
			return c, nil
		}
	}
}

func (e *Engine) settlementStatus(ctx context.Context, requestID string) (*relay.SettlementStatus, error) {
	s, err := withDeadline(ctx, e.clock, relay.MethodGetSettlementStatus, e.timing.RequestTimeout,
		func(ctx context.Context) (*relay.SettlementStatus, error) {
			return e.relay.GetSettlementStatus(ctx, requestID)
		})
	if err != nil {
		return nil, remoteError(relay.MethodGetSettlementStatus, err)
	}
	return s, nil
}

// classifyMatch finds an active record satisfying want. Without want, any
// policy derivable from the pending record qualifies, or any active record
// when nothing is pending.
func classifyMatch(want *policy.DesiredPolicy, d Discovery) (policy.CapabilityRecord, bool) {
	if want != nil || d.Pending == nil {
		return firstMatch(want, d.Active)
	}
	for _, p := range policy.PoliciesFromRecord(*d.Pending) {
		if rec, ok := firstMatch(&p, d.Active); ok {
			return rec, true
		}
	}
	return policy.CapabilityRecord{}, false
}
