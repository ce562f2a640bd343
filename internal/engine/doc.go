// Package engine reconciles an agent's desired capability policy against
// the capability records a relay actually enforces.
//
// A reconciliation run is a fixed sequence of steps, each emitting exactly
// one Checkpoint:
//
//  1. account-readiness, key-readiness: the account is selected and the
//     agent signing key exists
//  2. capability-state-discovery: active records from the relay plus the
//     locally persisted pending record
//  3. capability-preparation: reuse a satisfying record or request a grant
//  4. capability-classification: poll until the record is enforced or the
//     activation window closes
//  5. outcome: ACTIVE_ONCHAIN or PENDING_ACTIVATION
//
// Steps run strictly in order on the caller's goroutine. The first failing
// step aborts the run; the returned Result carries every checkpoint so far
// plus a synthetic failed checkpoint, so the caller can rerun the whole
// flow and skip completed work.
//
// BLOCKING:
//
// Relay calls and the classifier's poll loop are the only blocking
// operations. Each races against an explicit deadline through withDeadline
// and surfaces a *TimeoutError when it elapses. The poll deadline is the
// one exception that is not an error: an unresolved pending grant is
// reported as PENDING_ACTIVATION.
//
// STATE:
//
// The local store is read once at discovery and written at most twice per
// run (grant creation, pending clear). Concurrent runs against one store
// are not supported.
package engine
