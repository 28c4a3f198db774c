// SPDX-License-Identifier: Apache-2.0

//go:build integration

package audit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/adiadia/keyrouter/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func integrationPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set DATABASE_URL to run integration tests")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		t.Skipf("skip integration test: cannot create pgx pool (%v)", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: cannot reach database (%v)", err)
	}

	return pool
}

func truncateAudit(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `TRUNCATE TABLE decisions, usage_counters RESTART IDENTITY CASCADE`)
	return err
}

func decisionAt(credentialID *uuid.UUID, at time.Time) domain.DecisionRecord {
	record := domain.DecisionRecord{
		ID:                   uuid.New(),
		IntentText:           "summarize customer feedback",
		Origin:               "https://app.example.com",
		SelectedCredentialID: credentialID,
		Confidence:           80,
		Reasoning:            "selected with confidence 80",
		Alternatives:         []domain.Alternative{},
		RejectedReasons:      map[uuid.UUID]string{},
		CreatedAt:            at,
	}
	return record
}

func TestAppendDecisionAndRecent(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	if err := truncateAudit(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	repo := NewRepository(pool, discardLogger())

	winner := uuid.New()
	runnerUp := uuid.New()
	rejected := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	record := decisionAt(&winner, now)
	record.Alternatives = []domain.Alternative{{CredentialID: runnerUp, Confidence: 55}}
	record.RejectedReasons = map[uuid.UUID]string{rejected: "origin not allowed"}
	if err := repo.AppendDecision(ctx, record); err != nil {
		t.Fatalf("append decision: %v", err)
	}

	noMatch := decisionAt(nil, now.Add(time.Second))
	noMatch.Confidence = 0
	noMatch.Reasoning = "no matching credential for the requested capability"
	if err := repo.AppendDecision(ctx, noMatch); err != nil {
		t.Fatalf("append no-match decision: %v", err)
	}

	recent, err := repo.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent decisions: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(recent))
	}
	if recent[0].SelectedCredentialID != nil {
		t.Fatal("expected newest decision to be the no-match record")
	}

	got := recent[1]
	if got.SelectedCredentialID == nil || *got.SelectedCredentialID != winner {
		t.Fatalf("expected selected credential %s, got %v", winner, got.SelectedCredentialID)
	}
	if len(got.Alternatives) != 1 || got.Alternatives[0].CredentialID != runnerUp {
		t.Fatalf("expected alternatives round-trip, got %v", got.Alternatives)
	}
	if got.RejectedReasons[rejected] != "origin not allowed" {
		t.Fatalf("expected rejected reasons round-trip, got %v", got.RejectedReasons)
	}
}

func TestRecentRespectsLimit(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	if err := truncateAudit(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	repo := NewRepository(pool, discardLogger())
	id := uuid.New()
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		if err := repo.AppendDecision(ctx, decisionAt(&id, now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("append decision %d: %v", i, err)
		}
	}

	recent, err := repo.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("recent decisions: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected limit 3 honored, got %d", len(recent))
	}
}

func TestLastUsedReturnsNewestPerCredential(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	if err := truncateAudit(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	repo := NewRepository(pool, discardLogger())

	busy := uuid.New()
	idle := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	if err := repo.AppendDecision(ctx, decisionAt(&busy, now.Add(-time.Hour))); err != nil {
		t.Fatalf("append older decision: %v", err)
	}
	if err := repo.AppendDecision(ctx, decisionAt(&busy, now)); err != nil {
		t.Fatalf("append newer decision: %v", err)
	}

	lastUsed, err := repo.LastUsed(ctx, []uuid.UUID{busy, idle})
	if err != nil {
		t.Fatalf("last used: %v", err)
	}
	if !lastUsed[busy].Equal(now) {
		t.Fatalf("expected newest selection time %s, got %s", now, lastUsed[busy])
	}
	if _, ok := lastUsed[idle]; ok {
		t.Fatal("expected never-selected credential to be absent")
	}
}

func TestArchiveCountersAndPrune(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	if err := truncateAudit(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	repo := NewRepository(pool, discardLogger())

	credentialID := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)
	old := now.Add(-100 * 24 * time.Hour)

	counters := []domain.UsageCounter{
		{
			CredentialID: credentialID,
			WindowType:   domain.WindowDay,
			WindowStart:  old.Truncate(24 * time.Hour),
			RequestCount: 42,
			TokenCount:   9000,
			RetiredAt:    old,
		},
		{
			CredentialID: credentialID,
			WindowType:   domain.WindowWeek,
			WindowStart:  now.Add(-24 * time.Hour),
			RequestCount: 7,
			TokenCount:   1200,
			RetiredAt:    now,
		},
	}
	if err := repo.ArchiveCounters(ctx, counters); err != nil {
		t.Fatalf("archive counters: %v", err)
	}

	if err := repo.AppendDecision(ctx, decisionAt(&credentialID, old)); err != nil {
		t.Fatalf("append old decision: %v", err)
	}
	if err := repo.AppendDecision(ctx, decisionAt(&credentialID, now)); err != nil {
		t.Fatalf("append fresh decision: %v", err)
	}

	pruned, err := repo.Prune(ctx, now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 2 {
		t.Fatalf("expected 2 rows pruned (1 decision, 1 counter), got %d", pruned)
	}

	var remainingCounters int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM usage_counters`).Scan(&remainingCounters); err != nil {
		t.Fatalf("count remaining counters: %v", err)
	}
	if remainingCounters != 1 {
		t.Fatalf("expected 1 counter to survive, got %d", remainingCounters)
	}
}
