// Package policy models desired capability policies and observed capability
// records, and implements the pure logic shared by reconciliation: scope
// canonicalization, the self-call security check, and policy matching.
//
// All comparisons happen on canonical forms:
//   - addresses and selectors are lowercase hex
//   - a textual function signature is reduced to its Keccak-256 selector
//   - an empty call scope is the explicit AnyTarget/AnySelector sentinel
//   - an empty or zero-address spend token is NativeToken
//
// Nothing in this package performs I/O.
package policy
