package engine

import (
	"context"

	"github.com/jeanregisser/agent-wallet/internal/relay"
)

// TrackSettlement attaches requestID, the relay ID of the first real
// operation executed under the pending capability, to the pending record
// and returns its current settlement status. Later Classify polls report
// the status on every round.
func (e *Engine) TrackSettlement(ctx context.Context, account string, chainID uint64, requestID string) (*relay.SettlementStatus, error) {
	if requestID == "" {
		return nil, errInvalidInput("settlement request ID is required", nil)
	}

	pending, ok, err := e.store.PendingCapability(ctx, account, chainID)
	if err != nil {
		return nil, errStore("read pending capability", err)
	}
	if !ok {
		return nil, errState("no pending capability to settle")
	}

	if err := e.store.AttachSettlement(ctx, account, chainID, requestID); err != nil {
		return nil, errStore("attach settlement", err)
	}

	status, err := e.settlementStatus(ctx, requestID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("settlement status",
		"account", account, "chain_id", chainID, "record_id", pending.ID,
		"request_id", requestID, "status", status.Status)
	return status, nil
}
