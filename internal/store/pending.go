package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jeanregisser/agent-wallet/internal/policy"
)

// PendingCapability returns the pending record for (account, chainID).
// The second result is false when none is stored.
func (s *Store) PendingCapability(ctx context.Context, account string, chainID uint64) (policy.CapabilityRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, expiry, public_key, key_type, call_scope, spend_scope, fingerprint, settlement_id
		FROM pending_capabilities
		WHERE account = ? AND chain_id = ?
	`, policy.CanonicalAddress(account), chainID)

	var (
		rec                   policy.CapabilityRecord
		createdAt, expiry     int64
		keyType               string
		callScope, spendScope string
	)
	err := row.Scan(&rec.ID, &createdAt, &expiry, &rec.Key.PublicKey, &keyType,
		&callScope, &spendScope, &rec.Fingerprint, &rec.SettlementID)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.CapabilityRecord{}, false, nil
	}
	if err != nil {
		return policy.CapabilityRecord{}, false, fmt.Errorf("read pending capability: %w", err)
	}

	rec.Account = policy.CanonicalAddress(account)
	rec.ChainID = chainID
	rec.CreatedAt = fromMillis(createdAt)
	rec.Expiry = fromMillis(expiry)
	rec.Key.Type = policy.KeyType(keyType)
	if rec.Calls, err = unmarshalCalls(callScope); err != nil {
		return policy.CapabilityRecord{}, false, fmt.Errorf("read pending capability: %w", err)
	}
	if rec.Spends, err = unmarshalSpends(spendScope); err != nil {
		return policy.CapabilityRecord{}, false, fmt.Errorf("read pending capability: %w", err)
	}
	return rec, true, nil
}

// SavePendingCapability stores rec as the pending record for its
// (account, chain), replacing any previous one.
func (s *Store) SavePendingCapability(ctx context.Context, rec policy.CapabilityRecord) error {
	if rec.Account == "" {
		return fmt.Errorf("save pending capability: account is required")
	}
	calls, err := marshalCalls(rec.Calls)
	if err != nil {
		return fmt.Errorf("save pending capability: %w", err)
	}
	spends, err := marshalSpends(rec.Spends)
	if err != nil {
		return fmt.Errorf("save pending capability: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_capabilities
		(account, chain_id, id, created_at, expiry, public_key, key_type, call_scope, spend_scope, fingerprint, settlement_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, chain_id) DO UPDATE SET
			id = excluded.id,
			created_at = excluded.created_at,
			expiry = excluded.expiry,
			public_key = excluded.public_key,
			key_type = excluded.key_type,
			call_scope = excluded.call_scope,
			spend_scope = excluded.spend_scope,
			fingerprint = excluded.fingerprint,
			settlement_id = excluded.settlement_id
	`,
		policy.CanonicalAddress(rec.Account),
		rec.ChainID,
		rec.ID,
		toMillis(rec.CreatedAt),
		toMillis(rec.Expiry),
		rec.Key.PublicKey,
		string(rec.Key.Type),
		calls,
		spends,
		rec.Fingerprint,
		rec.SettlementID,
	)
	if err != nil {
		return fmt.Errorf("save pending capability: %w", err)
	}
	return nil
}

// DeletePendingCapability removes the pending record for (account, chainID).
// Deleting a missing record is not an error.
func (s *Store) DeletePendingCapability(ctx context.Context, account string, chainID uint64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_capabilities WHERE account = ? AND chain_id = ?`,
		policy.CanonicalAddress(account), chainID)
	if err != nil {
		return fmt.Errorf("delete pending capability: %w", err)
	}
	return nil
}

// AttachSettlement records the relay request ID of the first operation
// executed under the pending grant.
func (s *Store) AttachSettlement(ctx context.Context, account string, chainID uint64, settlementID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_capabilities SET settlement_id = ? WHERE account = ? AND chain_id = ?`,
		settlementID, policy.CanonicalAddress(account), chainID)
	if err != nil {
		return fmt.Errorf("attach settlement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("attach settlement: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("attach settlement: %w", ErrNotFound)
	}
	return nil
}
