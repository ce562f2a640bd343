package relay

import (
	"encoding/json"
	"fmt"
)

// RPCError is a JSON-RPC application error returned by the relay.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("relay rpc error %d: %s", e.Code, e.Message)
}

// TransportError is a network or HTTP-level failure talking to the relay.
type TransportError struct {
	Method string
	Status int // HTTP status, 0 when no response was received
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("relay %s: http status %d", e.Method, e.Status)
	}
	return fmt.Sprintf("relay %s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ResponseError reports a relay response that failed the strict shape check.
type ResponseError struct {
	Method string
	Reason string
	Err    error
}

func (e *ResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("relay %s: invalid response: %s: %v", e.Method, e.Reason, e.Err)
	}
	return fmt.Sprintf("relay %s: invalid response: %s", e.Method, e.Reason)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}
