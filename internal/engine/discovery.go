package engine

import (
	"context"
	"errors"

	"github.com/jeanregisser/agent-wallet/internal/policy"
	"github.com/jeanregisser/agent-wallet/internal/relay"
)

// Source names where a record was observed.
type Source string

const (
	SourceActive  Source = "active"
	SourcePending Source = "pending"
)

// InsecureFinding is a record dropped by discovery because it carries an
// unsafe self-call scope.
type InsecureFinding struct {
	Source    Source
	RecordID  string
	Violation *policy.SecurityViolation
}

// Discovery is the capability state observed for one (account, chain, key).
type Discovery struct {
	// Active holds unexpired, secure relay records bound to the agent key,
	// in relay order.
	Active []policy.CapabilityRecord

	// Pending is the locally persisted grant, nil when absent, expired or
	// bound to another key.
	Pending *policy.CapabilityRecord

	// Insecure lists every record discarded (active) or deleted (pending)
	// for an unsafe self-call scope.
	Insecure []InsecureFinding
}

// Found reports whether any usable record was observed.
func (d Discovery) Found() bool {
	return len(d.Active) > 0 || d.Pending != nil
}

// InsecureActive reports whether an active record was discarded.
func (d Discovery) InsecureActive() bool {
	for _, f := range d.Insecure {
		if f.Source == SourceActive {
			return true
		}
	}
	return false
}

// Discover reads active records from the relay and the local pending
// record. Insecure pending records are deleted from the store.
func (e *Engine) Discover(ctx context.Context, account string, chainID uint64, key policy.Key) (Discovery, error) {
	records, err := withDeadline(ctx, e.clock, relay.MethodGetCapabilities, e.timing.RequestTimeout,
		func(ctx context.Context) ([]policy.CapabilityRecord, error) {
			return e.relay.GetCapabilities(ctx, account, chainID)
		})
	if err != nil {
		return Discovery{}, remoteError(relay.MethodGetCapabilities, err)
	}

	now := e.clock.Now()
	var d Discovery
	for _, r := range records {
		if !r.Key.Equal(key) || !r.ValidAt(now) {
			continue
		}
		if f, ok := insecure(SourceActive, r, account); ok {
			e.logger.Warn("discarding insecure active capability",
				"account", account, "chain_id", chainID, "record_id", r.ID)
			d.Insecure = append(d.Insecure, f)
			continue
		}
		d.Active = append(d.Active, r)
	}

	pending, ok, err := e.store.PendingCapability(ctx, account, chainID)
	if err != nil {
		return Discovery{}, errStore("read pending capability", err)
	}
	if !ok {
		return d, nil
	}
	if f, bad := insecure(SourcePending, pending, account); bad {
		e.logger.Warn("deleting insecure pending capability",
			"account", account, "chain_id", chainID, "record_id", pending.ID)
		if err := e.store.DeletePendingCapability(ctx, account, chainID); err != nil {
			return Discovery{}, errStore("delete insecure pending capability", err)
		}
		d.Insecure = append(d.Insecure, f)
		return d, nil
	}
	if !pending.Key.Equal(key) || !pending.ValidAt(now) {
		e.logger.Debug("ignoring stale pending capability",
			"account", account, "chain_id", chainID, "record_id", pending.ID)
		return d, nil
	}
	d.Pending = &pending
	return d, nil
}

func insecure(src Source, r policy.CapabilityRecord, account string) (InsecureFinding, bool) {
	err := policy.ValidateRecord(r, account)
	if err == nil {
		return InsecureFinding{}, false
	}
	var v *policy.SecurityViolation
	errors.As(err, &v)
	return InsecureFinding{Source: src, RecordID: r.ID, Violation: v}, true
}

// firstMatch returns the first record satisfying want. A nil want accepts
// any record.
func firstMatch(want *policy.DesiredPolicy, records []policy.CapabilityRecord) (policy.CapabilityRecord, bool) {
	for _, r := range records {
		if want == nil || policy.Matches(*want, r) {
			return r, true
		}
	}
	return policy.CapabilityRecord{}, false
}
