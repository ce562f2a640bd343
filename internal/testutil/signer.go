package testutil

import (
	"context"
	"crypto/sha256"
	"sync"

	"github.com/jeanregisser/agent-wallet/internal/policy"
	"github.com/jeanregisser/agent-wallet/internal/signer"
)

// AgentKey is the public key StaticSigner reports by default.
var AgentKey = policy.Key{
	PublicKey: "0x04aa00000000000000000000000000000000000000000000000000000000000000bb",
	Type:      policy.KeyTypeP256,
}

// StaticSigner is a signer with a fixed public key. Its "signature" is
// sha256(digest), enough for tests that only check a proof was attached.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StaticSigner struct {
	mu      sync.Mutex
	key     policy.Key
	exists  bool
	signed  [][]byte
	signErr error
}

// NewStaticSigner creates a signer whose key already exists.
func NewStaticSigner(key policy.Key) *StaticSigner {
	return &StaticSigner{key: key, exists: true}
}

// NewMissingSigner creates a signer with no key and no way to create one.
func NewMissingSigner() *StaticSigner {
	return &StaticSigner{key: AgentKey}
}

func (s *StaticSigner) Exists(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists, nil
}

func (s *StaticSigner) PublicKey(ctx context.Context) (policy.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists {
		return policy.Key{}, signer.ErrNoKey
	}
	return s.key, nil
}

func (s *StaticSigner) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists {
		return nil, signer.ErrNoKey
	}
	if s.signErr != nil {
		return nil, s.signErr
	}
	s.signed = append(s.signed, append([]byte(nil), digest...))
	sum := sha256.Sum256(digest)
	return sum[:], nil
}

// FailSign makes Sign return err.
func (s *StaticSigner) FailSign(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signErr = err
}

// Signed returns every digest signed, in order.
func (s *StaticSigner) Signed() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.signed...)
}

// CreatingSigner is a StaticSigner that starts without a key and
// provisions one on Create.
type CreatingSigner struct {
	*StaticSigner
}

// NewCreatingSigner creates a keyless signer that implements signer.Creator.
func NewCreatingSigner(key policy.Key) *CreatingSigner {
	return &CreatingSigner{StaticSigner: &StaticSigner{key: key}}
}

func (s *CreatingSigner) Create(ctx context.Context) (policy.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exists = true
	return s.key, nil
}

var (
	_ signer.Signer  = (*StaticSigner)(nil)
	_ signer.Creator = (*CreatingSigner)(nil)
)
