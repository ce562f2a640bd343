package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/jeanregisser/agent-wallet/internal/policy"
	"github.com/jeanregisser/agent-wallet/internal/relay"
	"github.com/jeanregisser/agent-wallet/internal/signer"
	"github.com/jeanregisser/agent-wallet/internal/store"
)

// Relay is the remote platform surface the engine needs.
// Implemented by *relay.Client and testutil.FakeRelay.
type Relay interface {
	GetCapabilities(ctx context.Context, account string, chainID uint64) ([]policy.CapabilityRecord, error)
	RequestGrant(ctx context.Context, req relay.GrantRequest) (*relay.Grant, error)
	GetSettlementStatus(ctx context.Context, requestID string) (*relay.SettlementStatus, error)
}

// Store is the local state the engine reads and writes.
// Implemented by *store.Store.
type Store interface {
	PendingCapability(ctx context.Context, account string, chainID uint64) (policy.CapabilityRecord, bool, error)
	SavePendingCapability(ctx context.Context, rec policy.CapabilityRecord) error
	DeletePendingCapability(ctx context.Context, account string, chainID uint64) error
	AttachSettlement(ctx context.Context, account string, chainID uint64, settlementID string) error

	Identity(ctx context.Context, chainID uint64) (store.Identity, bool, error)
	SaveIdentity(ctx context.Context, id store.Identity) error

	SaveRun(ctx context.Context, run store.Run) error
}

// Timing bounds every blocking operation.
type Timing struct {
	// PollInterval is the pause between classifier polls.
	PollInterval time.Duration

	// ActivationTimeout is the classifier's total poll window.
	ActivationTimeout time.Duration

	// RequestTimeout bounds each individual relay call.
	RequestTimeout time.Duration
}

// DefaultTiming is used unless WithTiming is given.
var DefaultTiming = Timing{
	PollInterval:      2 * time.Second,
	ActivationTimeout: 60 * time.Second,
	RequestTimeout:    15 * time.Second,
}

// Engine is the per-invocation reconciliation session. It holds the relay
// connection, signer and store for one CLI invocation and is passed
// explicitly to everything that needs them; there is no package-level
// session.
type Engine struct {
	relay  Relay
	signer signer.Signer
	store  Store
	clock  Clock
	logger *slog.Logger
	timing Timing
	runIDs RunIDGenerator
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock. Tests pass testutil.FakeClock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the structured logger.
//
// Default: slog.Default()
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithTiming sets poll interval and deadlines. Zero fields keep their
// defaults.
func WithTiming(t Timing) Option {
	return func(e *Engine) {
		if t.PollInterval > 0 {
			e.timing.PollInterval = t.PollInterval
		}
		if t.ActivationTimeout > 0 {
			e.timing.ActivationTimeout = t.ActivationTimeout
		}
		if t.RequestTimeout > 0 {
			e.timing.RequestTimeout = t.RequestTimeout
		}
	}
}

// WithRunIDGenerator sets the run ID source.
//
// Default: UUIDv7Generator
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) {
		e.runIDs = g
	}
}

// New creates an Engine.
func New(r Relay, s signer.Signer, st Store, opts ...Option) *Engine {
	e := &Engine{
		relay:  r,
		signer: s,
		store:  st,
		clock:  SystemClock{},
		logger: slog.Default(),
		timing: DefaultTiming,
		runIDs: UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Timing returns the effective timing configuration.
func (e *Engine) Timing() Timing {
	return e.timing
}
