// SPDX-License-Identifier: Apache-2.0

// Package registry is the credential store: static policy data (scopes,
// limits, expiry, origins) entering the engine only through validated CRUD.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
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

const credentialColumns = `id, name, provider, description, secret_ref, scope_tags,
	max_requests_per_day, max_requests_per_week, max_tokens_per_day, max_payload_kb,
	expires_at, allowed_origins, disabled, created_at, updated_at`

// Create validates and stores a new credential. A named template prefills
// scope tags and limits when the caller left them empty; explicit values
// always win over the preset.
func (r *Repository) Create(ctx context.Context, params domain.CreateCredentialParams) (domain.Credential, error) {
	if params.Template != "" {
		tpl, ok := domain.TemplateByName(params.Template)
		if !ok {
			return domain.Credential{}, fmt.Errorf("%w: %q", domain.ErrUnknownTemplate, params.Template)
		}
		if len(params.ScopeTags) == 0 {
			params.ScopeTags = tpl.ScopeTags
		}
		if params.Limits == (domain.Limits{}) {
			params.Limits = tpl.Limits
		}
	}

	params.ScopeTags = domain.NormalizeScopeTags(params.ScopeTags)
	params.AllowedOrigins = domain.NormalizeOrigins(params.AllowedOrigins)
	if err := params.ValidateCreate(); err != nil {
		return domain.Credential{}, err
	}

	now := time.Now().UTC()
	if params.ExpiresAt != nil && params.ExpiresAt.Before(now) {
		// Allowed for historical imports, but worth flagging.
		r.logger.Warn("credential created already expired",
			"name", params.Name,
			"expires_at", params.ExpiresAt,
		)
	}

	cred := domain.Credential{
		ID:             uuid.New(),
		Name:           strings.TrimSpace(params.Name),
		Provider:       strings.TrimSpace(params.Provider),
		Description:    strings.TrimSpace(params.Description),
		SecretRef:      strings.TrimSpace(params.SecretRef),
		ScopeTags:      params.ScopeTags,
		Limits:         params.Limits,
		ExpiresAt:      params.ExpiresAt,
		AllowedOrigins: params.AllowedOrigins,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if _, err := r.pool.Exec(ctx, `
		INSERT INTO credentials (id, name, provider, description, secret_ref, scope_tags,
			max_requests_per_day, max_requests_per_week, max_tokens_per_day, max_payload_kb,
			expires_at, allowed_origins, disabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		cred.ID,
		cred.Name,
		cred.Provider,
		cred.Description,
		cred.SecretRef,
		cred.ScopeTags,
		cred.Limits.MaxRequestsPerDay,
		cred.Limits.MaxRequestsPerWeek,
		cred.Limits.MaxTokensPerDay,
		cred.Limits.MaxPayloadKB,
		cred.ExpiresAt,
		cred.AllowedOrigins,
		cred.Disabled,
		cred.CreatedAt,
		cred.UpdatedAt,
	); err != nil {
		r.logger.Error("create credential failed", "name", cred.Name, "error", err)
		return domain.Credential{}, err
	}

	r.logger.Info("credential created",
		"credential_id", cred.ID,
		"provider", cred.Provider,
		"scope_tags", cred.ScopeTags,
	)
	return cred, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (domain.Credential, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE id = $1 AND deleted_at IS NULL
	`, id)

	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Credential{}, domain.ErrNotFound
		}
		r.logger.Error("get credential failed", "credential_id", id, "error", err)
		return domain.Credential{}, err
	}
	return cred, nil
}

// List returns every non-deleted credential, newest first. Rows are scanned
// into value structs so a caller's snapshot is never mutated mid-decision.
func (r *Repository) List(ctx context.Context) ([]domain.Credential, error) {
	return r.list(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`)
}

// ListActive filters out disabled and expired credentials at the store.
func (r *Repository) ListActive(ctx context.Context) ([]domain.Credential, error) {
	return r.list(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE deleted_at IS NULL
		  AND NOT disabled
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at DESC
	`)
}

func (r *Repository) list(ctx context.Context, query string) ([]domain.Credential, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		r.logger.Error("list credentials query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	creds := make([]domain.Credential, 0, 32)
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return creds, nil
}

// Update applies a partial update inside a transaction so concurrent PATCH
// calls serialize per row.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, params domain.UpdateCredentialParams) (domain.Credential, error) {
	if err := params.Validate(); err != nil {
		return domain.Credential{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return domain.Credential{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id)

	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Credential{}, domain.ErrNotFound
		}
		r.logger.Error("read credential for update failed", "credential_id", id, "error", err)
		return domain.Credential{}, err
	}

	applyUpdate(&cred, params)
	cred.UpdatedAt = time.Now().UTC()

	if _, err := tx.Exec(ctx, `
		UPDATE credentials
		SET name=$2, provider=$3, description=$4, scope_tags=$5,
			max_requests_per_day=$6, max_requests_per_week=$7,
			max_tokens_per_day=$8, max_payload_kb=$9,
			expires_at=$10, allowed_origins=$11, disabled=$12, updated_at=$13
		WHERE id=$1
	`,
		cred.ID,
		cred.Name,
		cred.Provider,
		cred.Description,
		cred.ScopeTags,
		cred.Limits.MaxRequestsPerDay,
		cred.Limits.MaxRequestsPerWeek,
		cred.Limits.MaxTokensPerDay,
		cred.Limits.MaxPayloadKB,
		cred.ExpiresAt,
		cred.AllowedOrigins,
		cred.Disabled,
		cred.UpdatedAt,
	); err != nil {
		r.logger.Error("update credential failed", "credential_id", id, "error", err)
		return domain.Credential{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit failed", "credential_id", id, "error", err)
		return domain.Credential{}, err
	}

	r.logger.Info("credential updated", "credential_id", id)
	return cred, nil
}

// Delete soft-deletes so audit rows keep a resolvable credential id.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE credentials
		SET deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		r.logger.Error("delete credential failed", "credential_id", id, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	r.logger.Info("credential deleted", "credential_id", id)
	return nil
}

func applyUpdate(cred *domain.Credential, params domain.UpdateCredentialParams) {
	if params.Name != nil {
		cred.Name = strings.TrimSpace(*params.Name)
	}
	if params.Provider != nil {
		cred.Provider = strings.TrimSpace(*params.Provider)
	}
	if params.Description != nil {
		cred.Description = strings.TrimSpace(*params.Description)
	}
	if params.ScopeTags != nil {
		cred.ScopeTags = domain.NormalizeScopeTags(*params.ScopeTags)
	}
	if params.MaxRequestsPerDay != nil {
		cred.Limits.MaxRequestsPerDay = *params.MaxRequestsPerDay
	}
	if params.MaxRequestsPerWeek != nil {
		cred.Limits.MaxRequestsPerWeek = *params.MaxRequestsPerWeek
	}
	if params.MaxTokensPerDay != nil {
		cred.Limits.MaxTokensPerDay = *params.MaxTokensPerDay
	}
	if params.MaxPayloadKB != nil {
		cred.Limits.MaxPayloadKB = *params.MaxPayloadKB
	}
	if params.ClearExpiry {
		cred.ExpiresAt = nil
	} else if params.ExpiresAt != nil {
		cred.ExpiresAt = params.ExpiresAt
	}
	if params.AllowedOrigins != nil {
		cred.AllowedOrigins = domain.NormalizeOrigins(*params.AllowedOrigins)
	}
	if params.Disabled != nil {
		cred.Disabled = *params.Disabled
	}
}

func scanCredential(row pgx.Row) (domain.Credential, error) {
	var cred domain.Credential
	err := row.Scan(
		&cred.ID,
		&cred.Name,
		&cred.Provider,
		&cred.Description,
		&cred.SecretRef,
		&cred.ScopeTags,
		&cred.Limits.MaxRequestsPerDay,
		&cred.Limits.MaxRequestsPerWeek,
		&cred.Limits.MaxTokensPerDay,
		&cred.Limits.MaxPayloadKB,
		&cred.ExpiresAt,
		&cred.AllowedOrigins,
		&cred.Disabled,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	return cred, err
}
