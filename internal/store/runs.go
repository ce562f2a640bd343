package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jeanregisser/agent-wallet/internal/policy"
)

// Run is one persisted reconciliation invocation.
type Run struct {
	ID          string
	Account     string
	ChainID     uint64
	StartedAt   time.Time
	FinishedAt  time.Time
	State       string
	ErrorCode   string
	Checkpoints []Checkpoint
}

// Checkpoint is one step outcome of a run, in execution order.
type Checkpoint struct {
	Name    string
	Status  string
	Details map[string]string
}

// SaveRun writes a run and its checkpoints in one transaction.
// Writing the same run ID again replaces its checkpoints.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, account, chain_id, started_at, finished_at, state, error_code)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			state = excluded.state,
			error_code = excluded.error_code
	`,
		run.ID,
		policy.CanonicalAddress(run.Account),
		run.ChainID,
		toMillis(run.StartedAt),
		toMillis(run.FinishedAt),
		run.State,
		run.ErrorCode,
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	for i, cp := range run.Checkpoints {
		details, err := marshalDetails(cp.Details)
		if err != nil {
			return fmt.Errorf("save run: checkpoint %q: %w", cp.Name, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO checkpoints (run_id, seq, name, status, details)
			VALUES (?, ?, ?, ?, ?)
		`, run.ID, i, cp.Name, cp.Status, details)
		if err != nil {
			return fmt.Errorf("save run: checkpoint %q: %w", cp.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs for (account, chainID), newest
// first, with their checkpoints. limit <= 0 returns all runs.
func (s *Store) ListRuns(ctx context.Context, account string, chainID uint64, limit int) ([]Run, error) {
	query := `
		SELECT id, started_at, finished_at, state, error_code
		FROM runs
		WHERE account = ? AND chain_id = ?
		ORDER BY started_at DESC, id DESC
	`
	args := []any{policy.CanonicalAddress(account), chainID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run                 Run
			startedAt, finished int64
		)
		if err := rows.Scan(&run.ID, &startedAt, &finished, &run.State, &run.ErrorCode); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		run.Account = policy.CanonicalAddress(account)
		run.ChainID = chainID
		run.StartedAt = fromMillis(startedAt)
		run.FinishedAt = fromMillis(finished)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	// Checkpoints are loaded after the cursor is closed; the store holds a
	// single connection.
	rows.Close()

	for i := range runs {
		cps, err := s.checkpoints(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Checkpoints = cps
	}
	return runs, nil
}

func (s *Store) checkpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, status, details FROM checkpoints
		WHERE run_id = ? ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var details string
		if err := rows.Scan(&cp.Name, &cp.Status, &details); err != nil {
			return nil, fmt.Errorf("read checkpoints: %w", err)
		}
		if cp.Details, err = unmarshalDetails(details); err != nil {
			return nil, fmt.Errorf("read checkpoints: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read checkpoints: %w", err)
	}
	return out, nil
}
