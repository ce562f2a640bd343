package engine

import (
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeanregisser/agent-wallet/internal/policy"
	"github.com/jeanregisser/agent-wallet/internal/signer"
	"github.com/jeanregisser/agent-wallet/internal/store"
	"github.com/jeanregisser/agent-wallet/internal/testutil"
)

const (
	testAccount = "0x1111111111111111111111111111111111111111"
	testTarget  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testChain   = uint64(84532)
)

var testTiming = Timing{
	PollInterval:      2 * time.Second,
	ActivationTimeout: 30 * time.Second,
	RequestTimeout:    10 * time.Second,
}

// fixture bundles an engine with its fakes.
type fixture struct {
	engine *Engine
	relay  *testutil.FakeRelay
	signer signer.Signer
	store  *store.Store
	clock  *testutil.FakeClock
}

func newFixture(t *testing.T, opts ...func(*fixture)) *fixture {
	t.Helper()
	f := &fixture{
		relay:  testutil.NewFakeRelay(),
		signer: testutil.NewStaticSigner(testutil.AgentKey),
		store:  testutil.OpenTestStore(t),
		clock:  testutil.NewFakeClock(time.Time{}),
	}
	for _, o := range opts {
		o(f)
	}
	f.engine = New(f.relay, f.signer, f.store,
		WithClock(f.clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithTiming(testTiming),
		WithRunIDGenerator(NewFixedGenerator("run-1", "run-2", "run-3")),
	)
	return f
}

func withSigner(s signer.Signer) func(*fixture) {
	return func(f *fixture) { f.signer = s }
}

// examplePolicy is {calls: [{to: 0xAAA...}], spend: 100/day, expiry: 7d}.
func examplePolicy(t *testing.T) *policy.DesiredPolicy {
	t.Helper()
	p, err := policy.NewDesiredPolicy(policy.PolicyInput{
		Calls:       []policy.CallEntry{{To: testTarget}},
		SpendLimit:  "100",
		SpendPeriod: "day",
		ExpiryDays:  7,
	})
	require.NoError(t, err)
	return &p
}

// activeRecord builds a relay record bound to the agent key.
func activeRecord(id string, calls []policy.CallEntry, limit int64, expiry time.Time) policy.CapabilityRecord {
	return policy.CapabilityRecord{
		ID:      id,
		Account: testAccount,
		ChainID: testChain,
		Expiry:  expiry,
		Key:     testutil.AgentKey,
		Calls:   calls,
		Spends: []policy.SpendEntry{
			{Limit: big.NewInt(limit), Period: policy.PeriodDay},
		},
	}
}

func statuses(cps []Checkpoint) []string {
	out := make([]string, len(cps))
	for i, cp := range cps {
		out[i] = cp.Name + ":" + string(cp.Status)
	}
	return out
}

func lastCheckpoint(t *testing.T, cps []Checkpoint) Checkpoint {
	t.Helper()
	require.NotEmpty(t, cps)
	return cps[len(cps)-1]
}
