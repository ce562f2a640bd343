// Package relay is the JSON-RPC client for the remote relay that issues and
// enforces capability grants.
//
// Every response crosses a strict boundary before it reaches the engine:
// the JSON-RPC envelope is checked, the result is validated against an
// embedded JSON schema, and key records are decoded into a tagged variant
// by role. Anything that does not match is rejected with a *ResponseError
// rather than coerced.
package relay
