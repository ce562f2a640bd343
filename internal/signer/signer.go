// Package signer defines the signing backend the engine relies on. The
// engine only ever sees public keys and signatures; private key material
// stays inside the backend.
package signer

import (
	"context"
	"errors"

	"github.com/jeanregisser/agent-wallet/internal/policy"
)

// ErrNoKey is returned by PublicKey and Sign when no key exists yet.
var ErrNoKey = errors.New("signer: no key")

// Signer is an opaque "sign digest, never reveal key" oracle.
type Signer interface {
	Exists(ctx context.Context) (bool, error)
	PublicKey(ctx context.Context) (policy.Key, error)
	Sign(ctx context.Context, digest []byte) ([]byte, error)
}

// Creator is implemented by backends that can provision a new key.
type Creator interface {
	Create(ctx context.Context) (policy.Key, error)
}
