// Package harness runs reconciliation scenarios against the engine.
//
// A scenario describes the relay's records and the local pending record
// before the first run, a desired policy, and a sequence of runs. The
// harness executes them with the real engine over a fake relay, a fake
// clock and an in-memory store, then evaluates assertions.
//
// # Scenario Format
//
//	name: grant_then_activate
//	description: "A fresh grant becomes active on the first poll"
//	account: "0x1111111111111111111111111111111111111111"
//	chain_id: 84532
//	policy_file: ../policies/basic.cue
//	relay:
//	  activate_after: 0        # or "never"
//	  active: []
//	runs:
//	  - {}
//	  - status: true
//	    release: 1
//	assertions:
//	  - type: checkpoint
//	    run: 1
//	    step: capability-preparation
//	    status: updated
//	    details: { source: grant }
//	  - type: outcome
//	    run: 1
//	    state: ACTIVE_ONCHAIN
//	  - type: grant_count
//	    count: 1
//	  - type: pending
//	    exists: false
//
// # Deterministic Testing
//
// Run IDs are run-1, run-2 and so on; the clock starts at testutil.Epoch
// and only moves when the engine sleeps between polls. Golden files hold
// step names and statuses, which are stable across runs.
package harness
