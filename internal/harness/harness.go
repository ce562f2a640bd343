package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jeanregisser/agent-wallet/internal/engine"
	"github.com/jeanregisser/agent-wallet/internal/policy"
	"github.com/jeanregisser/agent-wallet/internal/policyfile"
	"github.com/jeanregisser/agent-wallet/internal/signer"
	"github.com/jeanregisser/agent-wallet/internal/store"
	"github.com/jeanregisser/agent-wallet/internal/testutil"
)

// Timing is the engine timing every scenario runs with. The activation
// window spans fifteen polls of fake time.
var Timing = engine.Timing{
	PollInterval:      2 * time.Second,
	ActivationTimeout: 30 * time.Second,
	RequestTimeout:    10 * time.Second,
}

const defaultRecordLifetime = 7 * 24 * time.Hour

// Harness holds the fakes one scenario runs against.
type Harness struct {
	store  *store.Store
	relay  *testutil.FakeRelay
	clock  *testutil.FakeClock
	engine *engine.Engine
	logger *slog.Logger
}

// Run executes a scenario against the real engine and returns the result.
//
// Each scenario runs in a fresh in-memory database with a fake relay, a
// fake clock starting at testutil.Epoch, and run IDs run-1, run-2, and so
// on. A failing Reconcile is recorded in the result, not returned; the
// returned error is reserved for scenarios that cannot be set up.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	desired, err := desiredPolicy(scenario)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		store:  st,
		relay:  testutil.NewFakeRelay(),
		clock:  testutil.NewFakeClock(time.Time{}),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if err := h.setupRelay(scenario.Relay); err != nil {
		return nil, fmt.Errorf("failed to set up relay: %w", err)
	}
	if err := h.seedPending(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to seed pending record: %w", err)
	}

	runIDs := make([]string, len(scenario.Runs))
	for i := range runIDs {
		runIDs[i] = fmt.Sprintf("run-%d", i+1)
	}
	h.engine = engine.New(h.relay, newSigner(scenario.CreateKey), st,
		engine.WithClock(h.clock),
		engine.WithLogger(h.logger),
		engine.WithTiming(Timing),
		engine.WithRunIDGenerator(engine.NewFixedGenerator(runIDs...)),
	)

	result := NewResult()
	for _, step := range scenario.Runs {
		if step.Release != nil {
			h.relay.ReleaseStaged(*step.Release)
		}
		req := engine.Request{Account: scenario.Account, ChainID: scenario.ChainID}
		if !step.Status {
			req.Policy = desired
		}
		res, err := h.engine.Reconcile(ctx, req)
		result.Runs = append(result.Runs, RunOutcome{
			RunID:       res.RunID,
			State:       string(res.State),
			ErrorCode:   string(engine.CodeOf(err)),
			Checkpoints: res.Checkpoints,
		})
	}

	result.Grants = len(h.relay.Grants())
	pending, ok, err := st.PendingCapability(ctx, scenario.Account, scenario.ChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending record: %w", err)
	}
	if ok {
		result.Pending = &pending
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newSigner(create bool) signer.Signer {
	if create {
		return testutil.NewCreatingSigner(testutil.AgentKey)
	}
	return testutil.NewStaticSigner(testutil.AgentKey)
}

func desiredPolicy(s *Scenario) (*policy.DesiredPolicy, error) {
	switch {
	case s.PolicyFile != "":
		p, err := policyfile.Load(s.PolicyFile)
		if err != nil {
			return nil, err
		}
		return &p, nil
	case s.Policy != nil:
		p, err := policy.NewDesiredPolicy(policy.PolicyInput{
			Calls:       s.Policy.Calls,
			SpendLimit:  s.Policy.Spend.Limit,
			SpendPeriod: s.Policy.Spend.Period,
			SpendToken:  s.Policy.Spend.Token,
			FeeLimit:    s.Policy.FeeLimit,
			ExpiryDays:  s.Policy.ExpiryDays,
		})
		if err != nil {
			return nil, fmt.Errorf("invalid policy: %w", err)
		}
		return &p, nil
	}
	return nil, nil
}

func (h *Harness) setupRelay(setup RelaySetup) error {
	h.relay.SetActivateAfter(int(setup.ActivateAfter))
	for _, spec := range setup.Active {
		rec, err := h.record(spec)
		if err != nil {
			return err
		}
		h.relay.AddActive(rec)
	}
	if setup.Unavailable != "" {
		h.relay.FailCapabilities(errors.New(setup.Unavailable))
	}
	if setup.GrantRejected != "" {
		h.relay.FailGrant(errors.New(setup.GrantRejected))
	}
	return nil
}

func (h *Harness) seedPending(ctx context.Context, s *Scenario) error {
	if s.Pending == nil {
		return nil
	}
	rec, err := h.record(*s.Pending)
	if err != nil {
		return err
	}
	rec.Account = s.Account
	rec.ChainID = s.ChainID
	rec.CreatedAt = h.clock.Now()
	if rec.Fingerprint, err = policy.Fingerprint(policy.PolicyFromRecord(rec)); err != nil {
		return err
	}
	return h.store.SavePendingCapability(ctx, rec)
}

// record builds a capability record from its YAML form.
func (h *Harness) record(spec RecordSpec) (policy.CapabilityRecord, error) {
	lifetime := spec.ExpiresIn
	if lifetime == 0 {
		lifetime = defaultRecordLifetime
	}
	key := testutil.AgentKey
	if spec.Key != nil {
		key = policy.Key{PublicKey: spec.Key.PublicKey, Type: policy.KeyType(spec.Key.Type)}
	}

	rec := policy.CapabilityRecord{
		ID:     spec.ID,
		Expiry: h.clock.Now().Add(lifetime),
		Key:    key,
		Calls:  append([]policy.CallEntry(nil), spec.Calls...),
	}
	for i, s := range spec.Spends {
		limit, err := policy.ParseAmount(s.Limit)
		if err != nil {
			return policy.CapabilityRecord{}, fmt.Errorf("record %s: spends[%d]: %w", spec.ID, i, err)
		}
		period, err := policy.ParsePeriod(s.Period)
		if err != nil {
			return policy.CapabilityRecord{}, fmt.Errorf("record %s: spends[%d]: %w", spec.ID, i, err)
		}
		rec.Spends = append(rec.Spends, policy.SpendEntry{Limit: limit, Period: period, Token: s.Token})
	}
	return rec, nil
}
