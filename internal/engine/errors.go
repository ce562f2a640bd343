package engine

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jeanregisser/agent-wallet/internal/policy"
	"github.com/jeanregisser/agent-wallet/internal/relay"
)

// Kind classifies reconciliation failures by what the caller can do
// about them.
type Kind string

const (
	// KindValidation means the input must change. Not retryable.
	KindValidation Kind = "validation"

	// KindRemote covers relay transport and RPC failures. May be transient.
	KindRemote Kind = "remote"

	// KindTimeout means a bounded relay call exceeded its deadline.
	KindTimeout Kind = "timeout"

	// KindState means local and remote state are inconsistent.
	KindState Kind = "state"

	// KindInsecureState means an observed record carries an unsafe
	// self-call scope and nothing safe can replace it.
	KindInsecureState Kind = "insecure_state"

	// KindKey means the signing backend could not provide a key.
	KindKey Kind = "key"

	// KindStore means the local store failed.
	KindStore Kind = "store"
)

// Code is the stable, machine-readable error identifier.
type Code string

const (
	CodePolicyRequired  Code = "E_POLICY_REQUIRED"
	CodeUnsafeSelfCall  Code = "E_UNSAFE_SELF_CALL"
	CodeAccountRequired Code = "E_ACCOUNT_REQUIRED"
	CodeInvalidInput    Code = "E_INVALID_INPUT"
	CodeRemote          Code = "E_REMOTE"
	CodeTimeout         Code = "E_TIMEOUT"
	CodeState           Code = "E_STATE"
	CodeInsecureState   Code = "E_INSECURE_STATE"
	CodeKeyUnavailable  Code = "E_KEY_UNAVAILABLE"
	CodeStore           Code = "E_STORE"
)

// Error is the typed reconciliation error returned by every Engine
// operation.
type Error struct {
	Kind    Kind
	Code    Code
	Message string

	// Hint tells the operator what to do next.
	Hint string

	// Details carries structured context, e.g. the relay's RPC code.
	Details map[string]string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HintFor returns the default operator hint for a kind.
func HintFor(kind Kind) string {
	switch kind {
	case KindValidation:
		return "fix the desired policy or flags and run again"
	case KindRemote:
		return "check relay connectivity and run again; completed steps are skipped"
	case KindTimeout:
		return "the relay did not answer in time; run again or raise request_timeout"
	case KindState:
		return "local state disagrees with the relay; inspect `history` and run again"
	case KindInsecureState:
		return "revoke the unsafe capability on the relay, then run again with an explicit policy"
	case KindKey:
		return "provision the agent signing key and run again"
	case KindStore:
		return "check state_path permissions and disk space"
	default:
		return ""
	}
}

// IsKind reports whether err is an *Error of the given kind.
// Uses errors.As to handle wrapped errors.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsRetryable reports whether rerunning the flow unchanged may succeed.
func IsRetryable(err error) bool {
	return IsKind(err, KindRemote) || IsKind(err, KindTimeout)
}

// CodeOf returns the code of an *Error, or "" for any other error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// TimeoutError is returned by withDeadline when the deadline elapses
// before the operation completes.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

func newError(kind Kind, code Code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Hint: HintFor(kind), Err: err}
}

func errPolicyRequired(msg string) *Error {
	return newError(KindValidation, CodePolicyRequired, msg, nil)
}

func errInvalidInput(msg string, err error) *Error {
	return newError(KindValidation, CodeInvalidInput, msg, err)
}

func errAccountRequired(account string) *Error {
	if account == "" {
		return newError(KindValidation, CodeAccountRequired, "no account selected", nil)
	}
	e := newError(KindValidation, CodeAccountRequired, "account is not a 20-byte hex address", nil)
	e.Details = map[string]string{"account": account}
	return e
}

func errUnsafeSelfCall(v error) *Error {
	e := newError(KindValidation, CodeUnsafeSelfCall, "desired policy allows arbitrary self-calls", v)
	var sv *policy.SecurityViolation
	if errors.As(v, &sv) {
		e.Details = map[string]string{"to": sv.Entry.To, "selector": sv.Entry.Selector}
	}
	return e
}

func errInsecureState(findings []InsecureFinding) *Error {
	e := newError(KindInsecureState, CodeInsecureState,
		"active capability has an unsafe self-call scope and no policy was supplied", nil)
	if len(findings) > 0 {
		e.Err = findings[0].Violation
		e.Details = map[string]string{
			"record_id": findings[0].RecordID,
			"findings":  strconv.Itoa(len(findings)),
		}
	}
	return e
}

func errState(msg string) *Error {
	return newError(KindState, CodeState, msg, nil)
}

func errKey(msg string, err error) *Error {
	return newError(KindKey, CodeKeyUnavailable, msg, err)
}

func errStore(op string, err error) *Error {
	return newError(KindStore, CodeStore, op, err)
}

// remoteError converts a relay call failure into an *Error, keeping the
// relay's error code and message in Details.
func remoteError(method string, err error) *Error {
	var te *TimeoutError
	if errors.As(err, &te) {
		e := newError(KindTimeout, CodeTimeout, method+" timed out", err)
		e.Details = map[string]string{"method": method, "after": te.After.String()}
		return e
	}

	e := newError(KindRemote, CodeRemote, method+" failed", err)
	e.Details = map[string]string{"method": method}

	var rpcErr *relay.RPCError
	var transportErr *relay.TransportError
	var respErr *relay.ResponseError
	switch {
	case errors.As(err, &rpcErr):
		e.Details["rpc_code"] = strconv.Itoa(rpcErr.Code)
		e.Details["rpc_message"] = rpcErr.Message
	case errors.As(err, &transportErr):
		if transportErr.Status != 0 {
			e.Details["http_status"] = strconv.Itoa(transportErr.Status)
		}
	case errors.As(err, &respErr):
		e.Details["reason"] = respErr.Reason
	}
	return e
}
