package relay

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/time/rate"

	"github.com/jeanregisser/agent-wallet/internal/policy"
)

// maxResponseBytes bounds how much of a relay response is read.
const maxResponseBytes = 4 << 20

// Client is a JSON-RPC client for the relay. One Client is constructed per
// invocation and shared by every component that talks to the relay.
type Client struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
	nextID   atomic.Uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit throttles outgoing calls to rps with the given burst.
// A non-positive rps leaves calls unthrottled.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the relay at endpoint.
//
// Per-call deadlines come from the context; the HTTP client timeout is only
// a backstop.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 60 * time.Second},
		limiter:  rate.NewLimiter(rate.Inf, 1),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GetCapabilities returns every session capability bound to account on
// chainID. Admin keys are decoded and dropped.
func (c *Client) GetCapabilities(ctx context.Context, account string, chainID uint64) ([]policy.CapabilityRecord, error) {
	keys, err := c.GetKeys(ctx, account, chainID)
	if err != nil {
		return nil, err
	}
	var out []policy.CapabilityRecord
	for _, k := range keys {
		if sk, ok := k.(*SessionKey); ok {
			out = append(out, sk.Record)
		}
	}
	return out, nil
}

// GetKeys returns all key records bound to account on chainID.
func (c *Client) GetKeys(ctx context.Context, account string, chainID uint64) ([]KeyRecord, error) {
	params := wireCapabilitiesParams{Address: account, ChainID: chainID}
	var wire []wireRecord
	if err := c.call(ctx, MethodGetCapabilities, params, schemas.capabilities, &wire); err != nil {
		return nil, err
	}

	keys := make([]KeyRecord, 0, len(wire))
	for _, w := range wire {
		k, err := decodeKeyRecord(account, chainID, w)
		if err != nil {
			return nil, &ResponseError{Method: MethodGetCapabilities, Reason: "invalid record", Err: err}
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// RequestGrant asks the relay to prepare a grant. Each call creates a new
// grant request; the relay does not deduplicate.
func (c *Client) RequestGrant(ctx context.Context, req GrantRequest) (*Grant, error) {
	spend := wireSpend{
		Limit:  encodeAmount(req.Spend.Limit),
		Period: string(req.Spend.Period),
		Token:  req.Spend.Token,
	}
	params := wireGrantParams{
		Address: req.Account,
		ChainID: req.ChainID,
		Key:     wireKey{PublicKey: req.Key.PublicKey, KeyType: string(req.Key.Type)},
		Expiry:  req.Expiry.Unix(),
		Permissions: wirePermissions{
			Calls: encodeCalls(req.Calls),
			Spend: []wireSpend{spend},
		},
		FeeLimit:    encodeAmount(req.FeeLimit),
		Fingerprint: req.Fingerprint,
		Proof:       "0x" + hex.EncodeToString(req.Proof),
	}

	var wire wireGrant
	if err := c.call(ctx, MethodRequestGrant, params, schemas.grant, &wire); err != nil {
		return nil, err
	}
	g, err := decodeGrant(wire)
	if err != nil {
		return nil, &ResponseError{Method: MethodRequestGrant, Reason: "invalid grant", Err: err}
	}
	return g, nil
}

// GetSettlementStatus reports whether the operation requestID has settled.
func (c *Client) GetSettlementStatus(ctx context.Context, requestID string) (*SettlementStatus, error) {
	var wire wireSettlement
	if err := c.call(ctx, MethodGetSettlementStatus, wireSettlementParams{ID: requestID}, schemas.settlement, &wire); err != nil {
		return nil, err
	}
	return &SettlementStatus{
		Status:          SettlementState(wire.Status),
		TransactionHash: wire.TransactionHash,
	}, nil
}

// call performs one JSON-RPC round trip. The result is schema-validated
// before it is decoded into out.
func (c *Client) call(ctx context.Context, method string, params any, schema *jsonschema.Schema, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Method: method, Err: err}
	}

	id := c.nextID.Add(1)
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: []any{params}})
	if err != nil {
		return fmt.Errorf("relay %s: encode request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Method: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("relay call",
		"method", method,
		"id", id,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return &TransportError{Method: method, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &TransportError{Method: method, Err: err}
	}

	var envelope rpcResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return &ResponseError{Method: method, Reason: "malformed envelope", Err: err}
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if envelope.ID != id {
		return &ResponseError{Method: method, Reason: fmt.Sprintf("response id %d does not match request id %d", envelope.ID, id)}
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return &ResponseError{Method: method, Reason: "missing result"}
	}

	if err := validateResult(method, schema, envelope.Result); err != nil {
		return err
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return &ResponseError{Method: method, Reason: "decode result", Err: err}
	}
	return nil
}
