package relay

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/jeanregisser/agent-wallet/internal/policy"
)

// RPC method names exposed by the relay.
const (
	MethodGetCapabilities     = "wallet_getCapabilities"
	MethodRequestGrant        = "wallet_requestGrant"
	MethodGetSettlementStatus = "wallet_getSettlementStatus"
)

// Role tags a key record returned by wallet_getCapabilities.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleSession Role = "session"
)

// KeyRecord is a decoded key record. It is either *AdminKey or *SessionKey.
type KeyRecord interface {
	Role() Role
}

// AdminKey is an account administrator key. It carries no scope.
type AdminKey struct {
	ID     string
	Expiry time.Time
	Key    policy.Key
}

func (*AdminKey) Role() Role { return RoleAdmin }

// SessionKey is a scoped capability record.
type SessionKey struct {
	Record policy.CapabilityRecord
}

func (*SessionKey) Role() Role { return RoleSession }

// GrantRequest asks the relay to prepare a capability grant for Key.
type GrantRequest struct {
	Account     string
	ChainID     uint64
	Key         policy.Key
	Expiry      time.Time
	Calls       []policy.CallEntry
	Spend       policy.SpendEntry
	FeeLimit    *big.Int
	Fingerprint string
	// Proof is the agent key's signature over the policy digest.
	Proof []byte
}

// Grant is the relay's answer to a grant request. The grant is prepared
// and authorized but not necessarily settled.
type Grant struct {
	ID     string
	Expiry time.Time
	Key    policy.Key
	Calls  []policy.CallEntry
	Spends []policy.SpendEntry
}

// SettlementState is the status of a submitted operation.
type SettlementState string

const (
	SettlementPending   SettlementState = "pending"
	SettlementConfirmed SettlementState = "confirmed"
	SettlementFailed    SettlementState = "failed"
)

// SettlementStatus reports whether a submitted operation has settled.
type SettlementStatus struct {
	Status          SettlementState
	TransactionHash string
}

// Wire shapes.

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

type wireCall struct {
	To       string `json:"to"`
	Selector string `json:"selector,omitempty"`
}

type wireSpend struct {
	Limit  string `json:"limit"`
	Period string `json:"period"`
	Token  string `json:"token,omitempty"`
}

type wireKey struct {
	PublicKey string `json:"publicKey"`
	KeyType   string `json:"keyType"`
}

type wireRecord struct {
	ID         string      `json:"id"`
	Expiry     int64       `json:"expiry"`
	PublicKey  string      `json:"publicKey"`
	KeyType    string      `json:"keyType"`
	Role       string      `json:"role"`
	CallScope  []wireCall  `json:"callScope"`
	SpendScope []wireSpend `json:"spendScope"`
}

type wireCapabilitiesParams struct {
	Address string `json:"address"`
	ChainID uint64 `json:"chainId"`
}

type wirePermissions struct {
	Calls []wireCall  `json:"calls"`
	Spend []wireSpend `json:"spend"`
}

type wireGrantParams struct {
	Address     string          `json:"address"`
	ChainID     uint64          `json:"chainId"`
	Key         wireKey         `json:"key"`
	Expiry      int64           `json:"expiry"`
	Permissions wirePermissions `json:"permissions"`
	FeeLimit    string          `json:"feeLimit,omitempty"`
	Fingerprint string          `json:"fingerprint"`
	Proof       string          `json:"proof"`
}

type wireScope struct {
	CallScope  []wireCall  `json:"callScope"`
	SpendScope []wireSpend `json:"spendScope"`
}

type wireGrant struct {
	ID     string    `json:"id"`
	Expiry int64     `json:"expiry"`
	Key    wireKey   `json:"key"`
	Scope  wireScope `json:"scope"`
}

type wireSettlementParams struct {
	ID string `json:"id"`
}

type wireSettlement struct {
	Status          string `json:"status"`
	TransactionHash string `json:"transactionHash,omitempty"`
}
