package store

import (
	"context"
	"testing"
	"time"
)

func TestIdentity_SaveAndRead(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.Identity(ctx, 84532); err != nil || ok {
		t.Fatalf("Identity() on empty store = ok %v, err %v", ok, err)
	}

	id := Identity{ChainID: 84532, Account: testAccount, UpdatedAt: time.UnixMilli(1000).UTC()}
	id.Key.PublicKey = "0xabc"
	id.Key.Type = "p256"
	if err := s.SaveIdentity(ctx, id); err != nil {
		t.Fatalf("SaveIdentity() failed: %v", err)
	}

	got, ok, err := s.Identity(ctx, 84532)
	if err != nil || !ok {
		t.Fatalf("Identity() = ok %v, err %v", ok, err)
	}
	if got.Account != testAccount || got.Key.PublicKey != "0xabc" || !got.UpdatedAt.Equal(id.UpdatedAt) {
		t.Errorf("Identity() = %+v", got)
	}

	id.Account = "0x9999999999999999999999999999999999999999"
	if err := s.SaveIdentity(ctx, id); err != nil {
		t.Fatal(err)
	}
	got, _, _ = s.Identity(ctx, 84532)
	if got.Account != id.Account {
		t.Errorf("Account = %q after update, want %q", got.Account, id.Account)
	}
}

func TestSaveRun_ListRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b"} {
		run := Run{
			ID:         id,
			Account:    testAccount,
			ChainID:    84532,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
			State:      "ACTIVE_ONCHAIN",
			Checkpoints: []Checkpoint{
				{Name: "capability-state-discovery", Status: "already_ok", Details: map[string]string{"active": "1"}},
				{Name: "outcome", Status: "already_ok", Details: map[string]string{}},
			},
		}
		if err := s.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun(%s) failed: %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx, testAccount, 84532, 0)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].ID != "run-b" {
		t.Errorf("newest run = %q, want run-b", runs[0].ID)
	}
	if len(runs[0].Checkpoints) != 2 || runs[0].Checkpoints[0].Details["active"] != "1" {
		t.Errorf("checkpoints = %+v", runs[0].Checkpoints)
	}
	if runs[0].Checkpoints[1].Name != "outcome" {
		t.Errorf("checkpoint order lost: %+v", runs[0].Checkpoints)
	}

	limited, err := s.ListRuns(ctx, testAccount, 84532, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("len(limited) = %d, want 1", len(limited))
	}
}

func TestSaveRun_RewriteReplacesCheckpoints(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := Run{
		ID: "r", Account: testAccount, ChainID: 1, StartedAt: time.UnixMilli(5),
		Checkpoints: []Checkpoint{{Name: "a", Status: "created"}, {Name: "b", Status: "created"}},
	}
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	run.Checkpoints = run.Checkpoints[:1]
	run.ErrorCode = "E_REMOTE"
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	runs, err := s.ListRuns(ctx, testAccount, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || len(runs[0].Checkpoints) != 1 || runs[0].ErrorCode != "E_REMOTE" {
		t.Errorf("runs = %+v", runs)
	}
}
