// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"time"

	"github.com/adiadia/keyrouter/internal/domain"
	"github.com/google/uuid"
)

type IntentSelector interface {
	Select(ctx context.Context, req domain.IntentRequest) (domain.MatchResult, error)
	Status(cred domain.Credential) domain.Status
}

type CredentialStore interface {
	Create(ctx context.Context, params domain.CreateCredentialParams) (domain.Credential, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Credential, error)
	List(ctx context.Context) ([]domain.Credential, error)
	Update(ctx context.Context, id uuid.UUID, params domain.UpdateCredentialParams) (domain.Credential, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type ActivityReader interface {
	Recent(ctx context.Context, limit int) ([]domain.DecisionRecord, error)
}

type UsageReader interface {
	Usage(credID uuid.UUID, now time.Time) domain.UsageSnapshot
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
