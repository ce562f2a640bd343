package signer

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"

	"github.com/jeanregisser/agent-wallet/internal/policy"
)

// DefaultWorkFactor is the scrypt work factor used to seal new keys.
const DefaultWorkFactor = 18

// Keystore is a development signing backend: a P-256 key sealed with an
// age scrypt passphrase in a single file. Production deployments plug a
// hardware-backed Signer in instead.
type Keystore struct {
	path       string
	passphrase string
	workFactor int

	mu  sync.Mutex
	key *ecdsa.PrivateKey
}

// KeystoreOption configures a Keystore.
type KeystoreOption func(*Keystore)

// WithWorkFactor overrides the scrypt work factor for newly sealed keys.
func WithWorkFactor(n int) KeystoreOption {
	return func(k *Keystore) { k.workFactor = n }
}

// NewKeystore returns a Keystore backed by the file at path.
func NewKeystore(path, passphrase string, opts ...KeystoreOption) (*Keystore, error) {
	if passphrase == "" {
		return nil, errors.New("keystore passphrase is required")
	}
	k := &Keystore{path: path, passphrase: passphrase, workFactor: DefaultWorkFactor}
	for _, o := range opts {
		o(k)
	}
	return k, nil
}

// Exists reports whether a sealed key file is present.
func (k *Keystore) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(k.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat keystore: %w", err)
}

// Create generates and seals a new key. It refuses to overwrite an
// existing key file.
func (k *Keystore) Create(ctx context.Context) (policy.Key, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return policy.Key{}, fmt.Errorf("generate key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return policy.Key{}, fmt.Errorf("encode key: %w", err)
	}

	recipient, err := age.NewScryptRecipient(k.passphrase)
	if err != nil {
		return policy.Key{}, fmt.Errorf("keystore recipient: %w", err)
	}
	recipient.SetWorkFactor(k.workFactor)

	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		return policy.Key{}, fmt.Errorf("seal key: %w", err)
	}
	if _, err := w.Write(der); err != nil {
		return policy.Key{}, fmt.Errorf("seal key: %w", err)
	}
	if err := w.Close(); err != nil {
		return policy.Key{}, fmt.Errorf("seal key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return policy.Key{}, fmt.Errorf("create keystore dir: %w", err)
	}
	f, err := os.OpenFile(k.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return policy.Key{}, fmt.Errorf("create keystore: %w", err)
	}
	if _, err := f.Write(sealed.Bytes()); err != nil {
		f.Close()
		return policy.Key{}, fmt.Errorf("write keystore: %w", err)
	}
	if err := f.Close(); err != nil {
		return policy.Key{}, fmt.Errorf("write keystore: %w", err)
	}

	k.key = priv
	return publicKeyOf(priv)
}

// PublicKey returns the key's public half as 0x-prefixed x||y hex.
func (k *Keystore) PublicKey(ctx context.Context) (policy.Key, error) {
	priv, err := k.unseal()
	if err != nil {
		return policy.Key{}, err
	}
	return publicKeyOf(priv)
}

// Sign returns an ASN.1 ECDSA signature over digest.
func (k *Keystore) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	priv, err := k.unseal()
	if err != nil {
		return nil, err
	}
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

func (k *Keystore) unseal() (*ecdsa.PrivateKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key != nil {
		return k.key, nil
	}

	f, err := os.Open(k.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoKey
	}
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	defer f.Close()

	identity, err := age.NewScryptIdentity(k.passphrase)
	if err != nil {
		return nil, fmt.Errorf("keystore identity: %w", err)
	}
	r, err := age.Decrypt(f, identity)
	if err != nil {
		return nil, fmt.Errorf("unseal keystore: %w", err)
	}
	der, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("unseal keystore: %w", err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse keystore key: %w", err)
	}
	priv, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keystore holds %T, want P-256 ECDSA", parsed)
	}
	k.key = priv
	return priv, nil
}

func publicKeyOf(priv *ecdsa.PrivateKey) (policy.Key, error) {
	pub, err := priv.PublicKey.ECDH()
	if err != nil {
		return policy.Key{}, fmt.Errorf("public key: %w", err)
	}
	// Uncompressed point is 0x04 || x || y; the relay expects x || y.
	raw := pub.Bytes()[1:]
	return policy.Key{PublicKey: "0x" + hex.EncodeToString(raw), Type: policy.KeyTypeP256}, nil
}
