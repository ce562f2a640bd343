package engine

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jeanregisser/agent-wallet/internal/policy"
	"github.com/jeanregisser/agent-wallet/internal/signer"
	"github.com/jeanregisser/agent-wallet/internal/store"
)

// Request is the input of one reconciliation run.
type Request struct {
	Account string
	ChainID uint64

	// Policy is the desired capability envelope. Nil runs in status mode:
	// existing records are classified and no grant is ever requested.
	Policy *policy.DesiredPolicy
}

// Result is the output of one reconciliation run.
type Result struct {
	RunID       string
	Checkpoints []Checkpoint

	// State and Record are set when the run reached the outcome step.
	State  ActivationState
	Record *policy.CapabilityRecord
}

// run accumulates checkpoints for one Reconcile call.
type run struct {
	e       *Engine
	req     Request
	result  Result
	started time.Time
}

func (r *run) record(name string, status Status, details map[string]string) {
	if details == nil {
		details = map[string]string{}
	}
	r.result.Checkpoints = append(r.result.Checkpoints, Checkpoint{Name: name, Status: status, Details: details})
	r.e.logger.Info("checkpoint",
		"run_id", r.result.RunID, "step", name, "status", status,
		"account", r.req.Account, "chain_id", r.req.ChainID)
}

// fail appends the synthetic failed checkpoint for step and returns err.
func (r *run) fail(step string, err error) error {
	details := map[string]string{"error": err.Error()}
	var e *Error
	if errors.As(err, &e) {
		details["code"] = string(e.Code)
		details["hint"] = e.Hint
	}
	r.result.Checkpoints = append(r.result.Checkpoints, Checkpoint{Name: step, Status: StatusFailed, Details: details})
	r.e.logger.Error("reconciliation step failed",
		"run_id", r.result.RunID, "step", step, "error", err,
		"account", r.req.Account, "chain_id", r.req.ChainID)
	return err
}

// Reconcile runs every step in order. On failure the returned Result holds
// the checkpoints completed so far plus a failed checkpoint for the
// aborting step, alongside the error. The run is persisted to the store
// either way.
func (e *Engine) Reconcile(ctx context.Context, req Request) (Result, error) {
	r := &run{
		e:       e,
		req:     req,
		result:  Result{RunID: e.runIDs.Generate()},
		started: e.clock.Now(),
	}
	err := r.execute(ctx)
	e.saveRun(ctx, r, err)
	return r.result, err
}

func (r *run) execute(ctx context.Context) error {
	req := r.req

	identity, err := r.accountReadiness(ctx)
	if err != nil {
		return r.fail(StepAccountReadiness, err)
	}

	key, err := r.keyReadiness(ctx, identity)
	if err != nil {
		return r.fail(StepKeyReadiness, err)
	}

	d, err := r.discovery(ctx, key)
	if err != nil {
		return r.fail(StepDiscovery, err)
	}

	activeAtStart, err := r.preparation(ctx, d)
	if err != nil {
		return r.fail(StepPreparation, err)
	}

	c, err := r.e.Classify(ctx, req.Account, req.ChainID, key, req.Policy)
	if err != nil {
		return r.fail(StepClassification, err)
	}
	status := StatusUpdated
	if activeAtStart && c.State == StateActive {
		status = StatusAlreadyOK
	}
	details := map[string]string{
		"state": string(c.State),
		"polls": strconv.Itoa(c.Polls),
	}
	if c.Record != nil {
		details["record_id"] = c.Record.ID
	}
	if c.Settlement != nil {
		details["settlement_status"] = string(c.Settlement.Status)
		if c.Settlement.TransactionHash != "" {
			details["transaction_hash"] = c.Settlement.TransactionHash
		}
	}
	r.record(StepClassification, status, details)

	r.outcome(c)
	return nil
}

// accountReadiness validates the account and compares it with the
// identity stored for the chain.
func (r *run) accountReadiness(ctx context.Context) (store.Identity, error) {
	if !policy.IsAddress(r.req.Account) {
		return store.Identity{}, errAccountRequired(r.req.Account)
	}

	stored, ok, err := r.e.store.Identity(ctx, r.req.ChainID)
	if err != nil {
		return store.Identity{}, errStore("read identity", err)
	}

	details := map[string]string{"account": policy.CanonicalAddress(r.req.Account)}
	switch {
	case !ok:
		r.record(StepAccountReadiness, StatusCreated, details)
	case policy.CanonicalAddress(stored.Account) == policy.CanonicalAddress(r.req.Account):
		r.record(StepAccountReadiness, StatusAlreadyOK, details)
	default:
		details["previous_account"] = stored.Account
		r.record(StepAccountReadiness, StatusUpdated, details)
	}
	return stored, nil
}

// keyReadiness ensures the agent key exists, creating it when the backend
// supports it, and persists the identity when anything changed.
func (r *run) keyReadiness(ctx context.Context, stored store.Identity) (policy.Key, error) {
	exists, err := r.e.signer.Exists(ctx)
	if err != nil {
		return policy.Key{}, errKey("check agent key", err)
	}

	var (
		key    policy.Key
		status Status
	)
	if !exists {
		creator, ok := r.e.signer.(signer.Creator)
		if !ok {
			return policy.Key{}, errKey("agent key does not exist and the signer cannot create one", signer.ErrNoKey)
		}
		if key, err = creator.Create(ctx); err != nil {
			return policy.Key{}, errKey("create agent key", err)
		}
		status = StatusCreated
	} else {
		if key, err = r.e.signer.PublicKey(ctx); err != nil {
			return policy.Key{}, errKey("read agent public key", err)
		}
		status = StatusAlreadyOK
		if !stored.Key.Equal(key) {
			status = StatusUpdated
		}
	}

	accountChanged := policy.CanonicalAddress(stored.Account) != policy.CanonicalAddress(r.req.Account)
	if status != StatusAlreadyOK || accountChanged {
		err := r.e.store.SaveIdentity(ctx, store.Identity{
			ChainID:   r.req.ChainID,
			Account:   r.req.Account,
			Key:       key,
			UpdatedAt: r.e.clock.Now(),
		})
		if err != nil {
			return policy.Key{}, errStore("save identity", err)
		}
	}

	r.record(StepKeyReadiness, status, map[string]string{
		"key_type":   string(key.Type),
		"public_key": key.PublicKey,
	})
	return key, nil
}

func (r *run) discovery(ctx context.Context, key policy.Key) (Discovery, error) {
	d, err := r.e.Discover(ctx, r.req.Account, r.req.ChainID, key)
	if err != nil {
		return Discovery{}, err
	}

	if r.req.Policy == nil {
		if d.InsecureActive() {
			return Discovery{}, errInsecureState(d.Insecure)
		}
		if !d.Found() {
			return Discovery{}, errPolicyRequired("no capability exists yet; a desired policy is required on the first run")
		}
	}

	details := map[string]string{"active": strconv.Itoa(len(d.Active))}
	if d.Pending != nil {
		details["pending_id"] = d.Pending.ID
	}
	status := StatusUpdated
	if len(d.Insecure) > 0 {
		details["insecure"] = strconv.Itoa(len(d.Insecure))
	} else if d.Found() {
		status = StatusAlreadyOK
	}
	r.record(StepDiscovery, status, details)
	return d, nil
}

// preparation reuses a satisfying record or requests a grant. It reports
// whether the satisfying record was already active.
func (r *run) preparation(ctx context.Context, d Discovery) (bool, error) {
	p := r.req.Policy
	if p == nil {
		_, active := firstMatch(nil, d.Active)
		r.record(StepPreparation, StatusAlreadyOK, map[string]string{"mode": "status"})
		return active, nil
	}

	if err := policy.ValidatePolicy(*p, r.req.Account); err != nil {
		return false, errUnsafeSelfCall(err)
	}

	if rec, ok := firstMatch(p, d.Active); ok {
		r.record(StepPreparation, StatusAlreadyOK, map[string]string{
			"source":    string(SourceActive),
			"record_id": rec.ID,
		})
		return true, nil
	}
	if d.Pending != nil && policy.Matches(*p, *d.Pending) {
		r.record(StepPreparation, StatusAlreadyOK, map[string]string{
			"source":    string(SourcePending),
			"record_id": d.Pending.ID,
		})
		return false, nil
	}

	rec, err := r.e.Grant(ctx, r.req.Account, r.req.ChainID, *p)
	if err != nil {
		return false, err
	}
	r.record(StepPreparation, StatusUpdated, map[string]string{
		"source":    "grant",
		"record_id": rec.ID,
	})
	return false, nil
}

func (r *run) outcome(c Classification) {
	r.result.State = c.State
	r.result.Record = c.Record

	details := map[string]string{"state": string(c.State)}
	if c.State == StateActive {
		r.record(StepOutcome, StatusAlreadyOK, details)
		return
	}
	details["next_action"] = NextActionSettle
	if c.Record != nil && !c.Record.CreatedAt.IsZero() {
		details["pending_since"] = c.Record.CreatedAt.UTC().Format(time.RFC3339)
	}
	r.record(StepOutcome, StatusUpdated, details)
}

// saveRun persists the run history. A failure here does not change the
// reconciliation verdict; it is logged.
func (e *Engine) saveRun(ctx context.Context, r *run, runErr error) {
	row := store.Run{
		ID:         r.result.RunID,
		Account:    r.req.Account,
		ChainID:    r.req.ChainID,
		StartedAt:  r.started,
		FinishedAt: e.clock.Now(),
		State:      string(r.result.State),
		ErrorCode:  string(CodeOf(runErr)),
	}
	for _, cp := range r.result.Checkpoints {
		row.Checkpoints = append(row.Checkpoints, store.Checkpoint{
			Name:    cp.Name,
			Status:  string(cp.Status),
			Details: cp.Details,
		})
	}
	if err := e.store.SaveRun(ctx, row); err != nil {
		e.logger.Warn("failed to save run history", "run_id", row.ID, "error", err)
	}
}
