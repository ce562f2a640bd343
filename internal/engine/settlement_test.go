package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanregisser/agent-wallet/internal/relay"
	"github.com/jeanregisser/agent-wallet/internal/testutil"
)

func TestTrackSettlement_AttachesAndReports(t *testing.T) {
	f := newFixture(t)
	f.relay.SetActivateAfter(testutil.NeverActivate)
	ctx := context.Background()

	_, err := f.engine.Reconcile(ctx, Request{Account: testAccount, ChainID: testChain, Policy: examplePolicy(t)})
	require.NoError(t, err)

	f.relay.SetSettlement("0xreq", relay.SettlementStatus{Status: relay.SettlementConfirmed, TransactionHash: "0xtx"})
	status, err := f.engine.TrackSettlement(ctx, testAccount, testChain, "0xreq")
	require.NoError(t, err)
	assert.Equal(t, relay.SettlementConfirmed, status.Status)
	assert.Equal(t, "0xtx", status.TransactionHash)

	pending, ok, err := f.store.PendingCapability(ctx, testAccount, testChain)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0xreq", pending.SettlementID)

	// The settlement confirmed the grant; the next run sees it active.
	f.relay.Activate()
	res, err := f.engine.Reconcile(ctx, Request{Account: testAccount, ChainID: testChain, Policy: examplePolicy(t)})
	require.NoError(t, err)
	assert.Equal(t, StateActive, res.State)
}

func TestTrackSettlement_RequiresPending(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.TrackSettlement(context.Background(), testAccount, testChain, "0xreq")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindState))
	assert.Empty(t, f.relay.SettlementLookups())
}

func TestTrackSettlement_RequiresRequestID(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.TrackSettlement(context.Background(), testAccount, testChain, "")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindValidation))
	assert.Equal(t, CodeInvalidInput, CodeOf(err))
	assert.Empty(t, f.relay.SettlementLookups())
}
