// SPDX-License-Identifier: Apache-2.0

// Package audit is the append-only decision log. Reporting collaborators
// read it; the engine only appends and asks for last-used timestamps.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/adiadia/keyrouter/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewRepository(pool *pgxpool.Pool, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		pool:   pool,
		logger: logger,
	}
}

func (r *Repository) AppendDecision(ctx context.Context, record domain.DecisionRecord) error {
	alternatives, err := json.Marshal(record.Alternatives)
	if err != nil {
		return err
	}
	rejected, err := json.Marshal(record.RejectedReasons)
	if err != nil {
		return err
	}

	if _, err := r.pool.Exec(ctx, `
		INSERT INTO decisions (id, intent_text, origin, selected_credential_id,
			confidence, reasoning, alternatives, rejected_reasons, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		record.ID,
		record.IntentText,
		record.Origin,
		record.SelectedCredentialID,
		record.Confidence,
		record.Reasoning,
		alternatives,
		rejected,
		record.CreatedAt,
	); err != nil {
		r.logger.Error("append decision failed", "decision_id", record.ID, "error", err)
		return err
	}
	return nil
}

// LastUsed returns the most recent selection time per credential id, for the
// least-recently-used tie-break. Credentials never selected are absent.
func (r *Repository) LastUsed(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]time.Time, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]time.Time{}, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT selected_credential_id, MAX(created_at)
		FROM decisions
		WHERE selected_credential_id = ANY($1)
		GROUP BY selected_credential_id
	`, ids)
	if err != nil {
		r.logger.Error("last-used query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]time.Time, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, err
		}
		out[id] = at
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Recent returns the newest decisions for the activity feed.
func (r *Repository) Recent(ctx context.Context, limit int) ([]domain.DecisionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, intent_text, origin, selected_credential_id,
			confidence, reasoning, alternatives, rejected_reasons, created_at
		FROM decisions
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		r.logger.Error("recent decisions query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.DecisionRecord, 0, limit)
	for rows.Next() {
		record, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// ArchiveCounters persists retired window counters drained from the ledger.
func (r *Repository) ArchiveCounters(ctx context.Context, counters []domain.UsageCounter) error {
	if len(counters) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	for _, c := range counters {
		if _, err := tx.Exec(ctx, `
			INSERT INTO usage_counters (credential_id, window_type, window_start,
				request_count, token_count, retired_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`,
			c.CredentialID,
			c.WindowType,
			c.WindowStart,
			c.RequestCount,
			c.TokenCount,
			c.RetiredAt,
		); err != nil {
			r.logger.Error("archive counter failed",
				"credential_id", c.CredentialID,
				"window_type", c.WindowType,
				"error", err,
			)
			return err
		}
	}

	return tx.Commit(ctx)
}

// Prune drops decisions and archived counters older than the cutoff.
// Retention policy lives with the operator, not the engine.
func (r *Repository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	decisionTag, err := r.pool.Exec(ctx,
		`DELETE FROM decisions WHERE created_at < $1`, olderThan)
	if err != nil {
		r.logger.Error("prune decisions failed", "error", err)
		return 0, err
	}

	counterTag, err := r.pool.Exec(ctx,
		`DELETE FROM usage_counters WHERE retired_at < $1`, olderThan)
	if err != nil {
		r.logger.Error("prune usage counters failed", "error", err)
		return decisionTag.RowsAffected(), err
	}

	return decisionTag.RowsAffected() + counterTag.RowsAffected(), nil
}

func scanDecision(row pgx.Row) (domain.DecisionRecord, error) {
	var record domain.DecisionRecord
	var alternatives, rejected []byte

	if err := row.Scan(
		&record.ID,
		&record.IntentText,
		&record.Origin,
		&record.SelectedCredentialID,
		&record.Confidence,
		&record.Reasoning,
		&alternatives,
		&rejected,
		&record.CreatedAt,
	); err != nil {
		return domain.DecisionRecord{}, err
	}

	if err := json.Unmarshal(alternatives, &record.Alternatives); err != nil {
		return domain.DecisionRecord{}, err
	}
	if err := json.Unmarshal(rejected, &record.RejectedReasons); err != nil {
		return domain.DecisionRecord{}, err
	}
	return record, nil
}
