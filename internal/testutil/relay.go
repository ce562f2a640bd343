package testutil

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/jeanregisser/agent-wallet/internal/policy"
	"github.com/jeanregisser/agent-wallet/internal/relay"
)

// NeverActivate keeps granted capabilities pending forever.
const NeverActivate = -1

// FakeRelay is an in-memory relay with scripted activation.
//
// Granted capabilities become active after ActivateAfter further
// GetCapabilities calls: 0 makes a grant visible on the next call,
// NeverActivate keeps it pending until Activate is called.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeRelay struct {
	mu sync.Mutex

	active        []policy.CapabilityRecord
	staged        []stagedGrant
	settlements   map[string]relay.SettlementStatus
	activateAfter int
	nextID        int

	grants       []relay.GrantRequest
	capCalls     int
	capErr       error
	grantErr     error
	grantKey     *policy.Key
	block        bool
	settleErr    error
	settleLookup []string
}

type stagedGrant struct {
	record    policy.CapabilityRecord
	countdown int
}

// NewFakeRelay creates a relay with the given active records.
func NewFakeRelay(active ...policy.CapabilityRecord) *FakeRelay {
	return &FakeRelay{
		active:      append([]policy.CapabilityRecord(nil), active...),
		settlements: make(map[string]relay.SettlementStatus),
	}
}

// SetActivateAfter sets the number of GetCapabilities calls a new grant
// stays invisible for.
func (r *FakeRelay) SetActivateAfter(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activateAfter = n
}

// FailCapabilities makes GetCapabilities return err. Nil clears it.
func (r *FakeRelay) FailCapabilities(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capErr = err
}

// FailGrant makes RequestGrant return err. Nil clears it.
func (r *FakeRelay) FailGrant(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grantErr = err
}

// FailSettlement makes GetSettlementStatus return err. Nil clears it.
func (r *FakeRelay) FailSettlement(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settleErr = err
}

// GrantToKey makes RequestGrant bind grants to k instead of the requested key.
func (r *FakeRelay) GrantToKey(k policy.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grantKey = &k
}

// Block makes GetCapabilities wait until its context is done.
func (r *FakeRelay) Block() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.block = true
}

// AddActive appends an active record.
func (r *FakeRelay) AddActive(rec policy.CapabilityRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = append(r.active, rec)
}

// Activate makes every staged grant active immediately.
func (r *FakeRelay) Activate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.staged {
		r.active = append(r.active, s.record)
	}
	r.staged = nil
}

// ReleaseStaged resets the countdown of every staged grant to n.
func (r *FakeRelay) ReleaseStaged(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.staged {
		r.staged[i].countdown = n
	}
}

// SetSettlement scripts the status returned for requestID.
func (r *FakeRelay) SetSettlement(requestID string, s relay.SettlementStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settlements[requestID] = s
}

// Grants returns every grant request received, in order.
func (r *FakeRelay) Grants() []relay.GrantRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]relay.GrantRequest(nil), r.grants...)
}

// CapabilityCalls returns the number of GetCapabilities calls.
func (r *FakeRelay) CapabilityCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capCalls
}

// SettlementLookups returns the request IDs queried, in order.
func (r *FakeRelay) SettlementLookups() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.settleLookup...)
}

// GetCapabilities returns the active records, promoting staged grants
// whose countdown has run out first.
func (r *FakeRelay) GetCapabilities(ctx context.Context, account string, chainID uint64) ([]policy.CapabilityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.block {
		r.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer r.mu.Unlock()

	r.capCalls++
	if r.capErr != nil {
		return nil, r.capErr
	}

	kept := r.staged[:0]
	for _, s := range r.staged {
		if s.countdown <= 0 {
			r.active = append(r.active, s.record)
			continue
		}
		s.countdown--
		kept = append(kept, s)
	}
	r.staged = kept

	out := make([]policy.CapabilityRecord, 0, len(r.active))
	for _, rec := range r.active {
		if rec.Account != "" && policy.CanonicalAddress(rec.Account) != policy.CanonicalAddress(account) {
			continue
		}
		if rec.ChainID != 0 && rec.ChainID != chainID {
			continue
		}
		rec.Account = account
		rec.ChainID = chainID
		out = append(out, rec)
	}
	return out, nil
}

// RequestGrant stages a grant mirroring the request's scope.
func (r *FakeRelay) RequestGrant(ctx context.Context, req relay.GrantRequest) (*relay.Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.grants = append(r.grants, req)
	if r.grantErr != nil {
		return nil, r.grantErr
	}

	r.nextID++
	key := req.Key
	if r.grantKey != nil {
		key = *r.grantKey
	}
	g := &relay.Grant{
		ID:     fmt.Sprintf("0xgrant%02d", r.nextID),
		Expiry: req.Expiry,
		Key:    key,
		Calls:  append([]policy.CallEntry(nil), req.Calls...),
		Spends: []policy.SpendEntry{req.Spend},
	}

	countdown := r.activateAfter
	if countdown == NeverActivate {
		countdown = math.MaxInt
	}
	r.staged = append(r.staged, stagedGrant{
		record: policy.CapabilityRecord{
			ID:      g.ID,
			Account: req.Account,
			ChainID: req.ChainID,
			Expiry:  g.Expiry,
			Key:     g.Key,
			Calls:   g.Calls,
			Spends:  g.Spends,
		},
		countdown: countdown,
	})
	return g, nil
}

// GetSettlementStatus returns the scripted status, or pending.
func (r *FakeRelay) GetSettlementStatus(ctx context.Context, requestID string) (*relay.SettlementStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.settleLookup = append(r.settleLookup, requestID)
	if r.settleErr != nil {
		return nil, r.settleErr
	}
	s, ok := r.settlements[requestID]
	if !ok {
		s = relay.SettlementStatus{Status: relay.SettlementPending}
	}
	return &s, nil
}
