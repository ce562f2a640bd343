package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jeanregisser/agent-wallet/internal/policy"
)

// ErrNotFound is returned when an update targets a missing row.
var ErrNotFound = errors.New("not found")

// Identity is the account and agent key last used on a chain.
type Identity struct {
	ChainID   uint64
	Account   string
	Key       policy.Key
	UpdatedAt time.Time
}

// Identity returns the stored identity for chainID.
func (s *Store) Identity(ctx context.Context, chainID uint64) (Identity, bool, error) {
	var (
		id        Identity
		keyType   string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT account, public_key, key_type, updated_at
		FROM identities WHERE chain_id = ?
	`, chainID).Scan(&id.Account, &id.Key.PublicKey, &keyType, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, fmt.Errorf("read identity: %w", err)
	}
	id.ChainID = chainID
	id.Key.Type = policy.KeyType(keyType)
	id.UpdatedAt = fromMillis(updatedAt)
	return id, true, nil
}

// SaveIdentity upserts the identity for id.ChainID.
func (s *Store) SaveIdentity(ctx context.Context, id Identity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (chain_id, account, public_key, key_type, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chain_id) DO UPDATE SET
			account = excluded.account,
			public_key = excluded.public_key,
			key_type = excluded.key_type,
			updated_at = excluded.updated_at
	`,
		id.ChainID,
		policy.CanonicalAddress(id.Account),
		id.Key.PublicKey,
		string(id.Key.Type),
		toMillis(id.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}
