package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanregisser/agent-wallet/internal/policy"
	"github.com/jeanregisser/agent-wallet/internal/relay"
	"github.com/jeanregisser/agent-wallet/internal/testutil"
)

func TestReconcile_FirstRunGrantsAndActivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Reconcile(ctx, Request{Account: testAccount, ChainID: testChain, Policy: examplePolicy(t)})
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, StateActive, res.State)
	assert.Equal(t, []string{
		"account-readiness:created",
		"key-readiness:updated",
		"capability-state-discovery:updated",
		"capability-preparation:updated",
		"capability-classification:updated",
		"outcome:already_ok",
	}, statuses(res.Checkpoints))

	require.Len(t, f.relay.Grants(), 1)
	require.NotNil(t, res.Record)
	assert.Equal(t, "0xgrant01", res.Record.ID)

	_, ok, err := f.store.PendingCapability(ctx, testAccount, testChain)
	require.NoError(t, err)
	assert.False(t, ok, "pending record should be cleared once active")
}

func TestReconcile_SecondRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{Account: testAccount, ChainID: testChain, Policy: examplePolicy(t)}

	_, err := f.engine.Reconcile(ctx, req)
	require.NoError(t, err)

	res, err := f.engine.Reconcile(ctx, req)
	require.NoError(t, err)

	for _, cp := range res.Checkpoints {
		assert.Equal(t, StatusAlreadyOK, cp.Status, "step %s", cp.Name)
	}
	assert.Len(t, res.Checkpoints, len(Steps))
	assert.Equal(t, StateActive, res.State)
	assert.Len(t, f.relay.Grants(), 1, "second run must not grant again")
	assert.Equal(t, "", ResumeFrom(res.Checkpoints))
}

func TestReconcile_PendingWhenActivationWindowCloses(t *testing.T) {
	f := newFixture(t)
	f.relay.SetActivateAfter(testutil.NeverActivate)
	ctx := context.Background()

	res, err := f.engine.Reconcile(ctx, Request{Account: testAccount, ChainID: testChain, Policy: examplePolicy(t)})
	require.NoError(t, err, "PENDING_ACTIVATION is not an error")

	assert.Equal(t, StatePending, res.State)
	outcome := lastCheckpoint(t, res.Checkpoints)
	assert.Equal(t, StepOutcome, outcome.Name)
	assert.Equal(t, StatusUpdated, outcome.Status)
	assert.Equal(t, NextActionSettle, outcome.Details["next_action"])
	assert.Equal(t, testutil.Epoch.Format(time.RFC3339), outcome.Details["pending_since"])

	pending, ok, err := f.store.PendingCapability(ctx, testAccount, testChain)
	require.NoError(t, err)
	require.True(t, ok, "pending record must survive the timeout")
	assert.Equal(t, "0xgrant01", pending.ID)
	assert.NotEmpty(t, pending.Fingerprint)
	assert.GreaterOrEqual(t, f.clock.Now().Sub(testutil.Epoch), testTiming.ActivationTimeout)
}

func TestReconcile_PendingBecomesActiveOnRerun(t *testing.T) {
	f := newFixture(t)
	f.relay.SetActivateAfter(testutil.NeverActivate)
	ctx := context.Background()
	req := Request{Account: testAccount, ChainID: testChain, Policy: examplePolicy(t)}

	first, err := f.engine.Reconcile(ctx, req)
	require.NoError(t, err)
	require.Equal(t, StatePending, first.State)

	// Settles on the first classification poll of the next run.
	f.relay.ReleaseStaged(1)

	second, err := f.engine.Reconcile(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StateActive, second.State)
	assert.Equal(t, []string{
		"account-readiness:already_ok",
		"key-readiness:already_ok",
		"capability-state-discovery:already_ok",
		"capability-preparation:already_ok",
		"capability-classification:updated",
		"outcome:already_ok",
	}, statuses(second.Checkpoints))
	assert.Equal(t, "pending", second.Checkpoints[3].Details["source"])
	assert.Len(t, f.relay.Grants(), 1, "a satisfying pending record must not be re-granted")

	_, ok, err := f.store.PendingCapability(ctx, testAccount, testChain)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReconcile_PolicyRequiredOnFirstRun(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.Reconcile(context.Background(), Request{Account: testAccount, ChainID: testChain})
	require.Error(t, err)
	assert.Equal(t, CodePolicyRequired, CodeOf(err))
	assert.True(t, IsKind(err, KindValidation))
	assert.False(t, IsRetryable(err))

	failed := lastCheckpoint(t, res.Checkpoints)
	assert.Equal(t, StepDiscovery, failed.Name)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, string(CodePolicyRequired), failed.Details["code"])
	assert.Equal(t, HintFor(KindValidation), failed.Details["hint"])
	assert.Equal(t, StepAccountReadiness, ResumeFrom(res.Checkpoints))
	assert.Empty(t, f.relay.Grants())
}

func TestReconcile_StatusModeClassifiesExistingRecord(t *testing.T) {
	f := newFixture(t)
	f.relay.AddActive(activeRecord("0xexisting", []policy.CallEntry{{To: testTarget}}, 100, testutil.Epoch.Add(time.Hour)))

	res, err := f.engine.Reconcile(context.Background(), Request{Account: testAccount, ChainID: testChain})
	require.NoError(t, err)
	assert.Equal(t, StateActive, res.State)
	assert.Equal(t, "0xexisting", res.Record.ID)
	assert.Equal(t, "status", res.Checkpoints[3].Details["mode"])
	assert.Equal(t, StatusAlreadyOK, res.Checkpoints[4].Status)
	assert.Empty(t, f.relay.Grants())
}

func TestReconcile_UnsafePolicyRejected(t *testing.T) {
	f := newFixture(t)
	p, err := policy.NewDesiredPolicy(policy.PolicyInput{
		Calls: []policy.CallEntry{
			{To: testTarget},
			{To: testAccount},
		},
		SpendLimit:  "100",
		SpendPeriod: "day",
	})
	require.NoError(t, err)

	res, err := f.engine.Reconcile(context.Background(), Request{Account: testAccount, ChainID: testChain, Policy: &p})
	require.Error(t, err)
	assert.Equal(t, CodeUnsafeSelfCall, CodeOf(err))
	assert.Equal(t, StepPreparation, lastCheckpoint(t, res.Checkpoints).Name)
	assert.Empty(t, f.relay.Grants())

	var sv *policy.SecurityViolation
	assert.ErrorAs(t, err, &sv)
}

func TestReconcile_InsecureActiveWithoutPolicyIsFatal(t *testing.T) {
	f := newFixture(t)
	f.relay.AddActive(activeRecord("0xbad", []policy.CallEntry{{To: testAccount, Selector: policy.AnySelector}}, 100, testutil.Epoch.Add(time.Hour)))

	res, err := f.engine.Reconcile(context.Background(), Request{Account: testAccount, ChainID: testChain})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInsecureState))
	failed := lastCheckpoint(t, res.Checkpoints)
	assert.Equal(t, StepDiscovery, failed.Name)
	assert.Equal(t, string(CodeInsecureState), failed.Details["code"])
}

func TestReconcile_InsecureActiveWithPolicyIsReplaced(t *testing.T) {
	f := newFixture(t)
	bad := activeRecord("0xbad", []policy.CallEntry{{To: testTarget}, {To: testAccount}}, 100, testutil.Epoch.Add(time.Hour))
	f.relay.AddActive(bad)

	res, err := f.engine.Reconcile(context.Background(), Request{Account: testAccount, ChainID: testChain, Policy: examplePolicy(t)})
	require.NoError(t, err)

	discovery := res.Checkpoints[2]
	assert.Equal(t, StatusUpdated, discovery.Status)
	assert.Equal(t, "1", discovery.Details["insecure"])
	assert.Len(t, f.relay.Grants(), 1, "the insecure record must never satisfy the policy")
	assert.Equal(t, "0xgrant01", res.Record.ID)
}

func TestReconcile_SpendMismatchTriggersGrant(t *testing.T) {
	f := newFixture(t)
	f.relay.AddActive(activeRecord("0xlow", []policy.CallEntry{{To: testTarget}}, 90, testutil.Epoch.Add(time.Hour)))

	res, err := f.engine.Reconcile(context.Background(), Request{Account: testAccount, ChainID: testChain, Policy: examplePolicy(t)})
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyOK, res.Checkpoints[2].Status, "a record exists")
	assert.Equal(t, StatusUpdated, res.Checkpoints[3].Status, "but it does not satisfy 100/day")
	assert.Len(t, f.relay.Grants(), 1)
}

func TestReconcile_SupersetCallScopeIsReused(t *testing.T) {
	f := newFixture(t)
	other := "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	f.relay.AddActive(activeRecord("0xwide", []policy.CallEntry{{To: testTarget}, {To: other}}, 100, testutil.Epoch.Add(time.Hour)))

	res, err := f.engine.Reconcile(context.Background(), Request{Account: testAccount, ChainID: testChain, Policy: examplePolicy(t)})
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyOK, res.Checkpoints[3].Status)
	assert.Equal(t, StatusAlreadyOK, res.Checkpoints[4].Status)
	assert.Empty(t, f.relay.Grants())
}

func TestReconcile_RemoteGrantErrorAborts(t *testing.T) {
	f := newFixture(t)
	f.relay.FailGrant(&relay.RPCError{Code: -32000, Message: "insufficient fee token"})

	res, err := f.engine.Reconcile(context.Background(), Request{Account: testAccount, ChainID: testChain, Policy: examplePolicy(t)})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, CodeRemote, CodeOf(err))

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "-32000", e.Details["rpc_code"])
	assert.Equal(t, "insufficient fee token", e.Details["rpc_message"])

	assert.Equal(t, []string{
		"account-readiness:created",
		"key-readiness:updated",
		"capability-state-discovery:updated",
		"capability-preparation:failed",
	}, statuses(res.Checkpoints))

	_, ok, _ := f.store.PendingCapability(context.Background(), testAccount, testChain)
	assert.False(t, ok)
}

func TestReconcile_KeyReadiness(t *testing.T) {
	t.Run("missing key without creator", func(t *testing.T) {
		f := newFixture(t, withSigner(testutil.NewMissingSigner()))
		res, err := f.engine.Reconcile(context.Background(), Request{Account: testAccount, ChainID: testChain, Policy: examplePolicy(t)})
		require.Error(t, err)
		assert.True(t, IsKind(err, KindKey))
		assert.Equal(t, []string{"account-readiness:created", "key-readiness:failed"}, statuses(res.Checkpoints))
	})

	t.Run("missing key is created", func(t *testing.T) {
		f := newFixture(t, withSigner(testutil.NewCreatingSigner(testutil.AgentKey)))
		res, err := f.engine.Reconcile(context.Background(), Request{Account: testAccount, ChainID: testChain, Policy: examplePolicy(t)})
		require.NoError(t, err)
		assert.Equal(t, StatusCreated, res.Checkpoints[1].Status)
		assert.Equal(t, testutil.AgentKey.PublicKey, res.Checkpoints[1].Details["public_key"])
	})
}

func TestReconcile_AccountReadiness(t *testing.T) {
	t.Run("missing account", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.engine.Reconcile(context.Background(), Request{ChainID: testChain, Policy: examplePolicy(t)})
		require.Error(t, err)
		assert.Equal(t, CodeAccountRequired, CodeOf(err))
		assert.Equal(t, []string{"account-readiness:failed"}, statuses(res.Checkpoints))
	})

	t.Run("changed account", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		_, err := f.engine.Reconcile(ctx, Request{Account: testAccount, ChainID: testChain, Policy: examplePolicy(t)})
		require.NoError(t, err)

		other := "0x2222222222222222222222222222222222222222"
		res, err := f.engine.Reconcile(ctx, Request{Account: other, ChainID: testChain, Policy: examplePolicy(t)})
		require.NoError(t, err)
		assert.Equal(t, StatusUpdated, res.Checkpoints[0].Status)
		assert.Equal(t, testAccount, res.Checkpoints[0].Details["previous_account"])
		assert.Len(t, f.relay.Grants(), 2, "capabilities are account scoped")
	})
}

func TestReconcile_PersistsRunHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Reconcile(ctx, Request{Account: testAccount, ChainID: testChain, Policy: examplePolicy(t)})
	require.NoError(t, err)
	_, err = f.engine.Reconcile(ctx, Request{Account: testAccount, ChainID: testChain, Policy: &policy.DesiredPolicy{}})
	require.Error(t, err)

	runs, err := f.store.ListRuns(ctx, testAccount, testChain, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	byID := map[string]int{}
	for i, r := range runs {
		byID[r.ID] = i
	}
	first := runs[byID["run-1"]]
	assert.Equal(t, string(StateActive), first.State)
	assert.Len(t, first.Checkpoints, len(Steps))

	second := runs[byID["run-2"]]
	assert.Equal(t, string(CodePolicyRequired), second.ErrorCode)
	assert.Equal(t, "failed", second.Checkpoints[len(second.Checkpoints)-1].Status)
}
