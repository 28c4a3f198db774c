// SPDX-License-Identifier: Apache-2.0

// Package selector orchestrates the match decision: it snapshots the
// registry, filters unavailable credentials, scores the rest, reserves quota
// for the winner, and appends the decision to the audit trail.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/adiadia/keyrouter/internal/domain"
	"github.com/adiadia/keyrouter/internal/matcher"
	"github.com/adiadia/keyrouter/internal/metrics"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const DefaultMaxAlternatives = 3

type CredentialSource interface {
	List(ctx context.Context) ([]domain.Credential, error)
}

type UsageLedger interface {
	CheckAndReserve(credID uuid.UUID, limits domain.Limits, estimatedTokens int64, payloadKB int, now time.Time) (domain.Reservation, error)
	Commit(res domain.Reservation) error
	Release(res domain.Reservation) error
	Usage(credID uuid.UUID, now time.Time) domain.UsageSnapshot
}

type AuditTrail interface {
	AppendDecision(ctx context.Context, record domain.DecisionRecord) error
	LastUsed(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]time.Time, error)
}

type Options struct {
	MaxAlternatives int
	ExpiryHorizon   time.Duration
	// Now is the clock; tests may pin it. Defaults to time.Now.
	Now func() time.Time
}

type Selector struct {
	credentials CredentialSource
	ledger      UsageLedger
	audit       AuditTrail
	scorer      matcher.Scorer
	logger      *slog.Logger

	maxAlternatives int
	expiryHorizon   time.Duration
	now             func() time.Time
}

func New(
	credentials CredentialSource,
	ledger UsageLedger,
	audit AuditTrail,
	scorer matcher.Scorer,
	logger *slog.Logger,
	opts Options,
) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	maxAlternatives := opts.MaxAlternatives
	if maxAlternatives <= 0 {
		maxAlternatives = DefaultMaxAlternatives
	}
	horizon := opts.ExpiryHorizon
	if horizon <= 0 {
		horizon = domain.DefaultExpiryHorizon
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Selector{
		credentials:     credentials,
		ledger:          ledger,
		audit:           audit,
		scorer:          scorer,
		logger:          logger,
		maxAlternatives: maxAlternatives,
		expiryHorizon:   horizon,
		now:             now,
	}
}

type candidate struct {
	cred       domain.Credential
	confidence int
	covered    int
	lastUsed   time.Time
}

// Select picks the best admissible credential for the intent. Absence of a
// match is an expected outcome: the returned MatchResult carries a nil
// credential id and an explanation, never an error. Errors are reserved for
// registry, ledger, or audit failures on the winning path.
func (s *Selector) Select(ctx context.Context, req domain.IntentRequest) (domain.MatchResult, error) {
	now := s.now()

	creds, err := s.credentials.List(ctx)
	if err != nil {
		return domain.MatchResult{}, fmt.Errorf("snapshot credentials: %w", err)
	}

	rejected := make(map[uuid.UUID]string)
	eligible := make([]domain.Credential, 0, len(creds))
	for _, cred := range creds {
		if reason, ok := s.screen(cred, req.Origin, now); !ok {
			rejected[cred.ID] = reason
			metrics.IncCandidateRejection(reason)
			continue
		}
		eligible = append(eligible, cred)
	}

	candidates, err := s.scoreAndSort(ctx, req.Text, eligible, rejected)
	if err != nil {
		return domain.MatchResult{}, err
	}

	winnerIdx := -1
	var winnerReservation domain.Reservation
	for i, cand := range candidates {
		res, err := s.ledger.CheckAndReserve(
			cand.cred.ID, cand.cred.Limits, req.EstimatedTokens, req.PayloadKB, now,
		)
		if err == nil {
			winnerIdx = i
			winnerReservation = res
			break
		}

		switch {
		case errors.Is(err, domain.ErrQuotaExceeded):
			// Still eligible to appear as an alternative, just not
			// selectable this request.
			rejected[cand.cred.ID] = domain.ReasonQuotaExceeded
			metrics.IncCandidateRejection(domain.ReasonQuotaExceeded)
		case errors.Is(err, domain.ErrPayloadTooLarge):
			rejected[cand.cred.ID] = domain.ReasonPayloadTooLarge
			metrics.IncCandidateRejection(domain.ReasonPayloadTooLarge)
		default:
			return domain.MatchResult{}, fmt.Errorf("reserve quota: %w", err)
		}
	}

	result := s.buildResult(candidates, winnerIdx, rejected)

	record := domain.DecisionRecord{
		ID:                   uuid.New(),
		IntentText:           req.Text,
		Origin:               req.Origin,
		SelectedCredentialID: result.SelectedCredentialID,
		Confidence:           result.Confidence,
		Reasoning:            result.Reasoning,
		Alternatives:         result.Alternatives,
		RejectedReasons:      result.RejectedReasons,
		CreatedAt:            now,
	}
	if err := s.audit.AppendDecision(ctx, record); err != nil {
		if winnerIdx >= 0 {
			if releaseErr := s.ledger.Release(winnerReservation); releaseErr != nil {
				s.logger.Error("release after audit failure failed",
					"credential_id", winnerReservation.CredentialID,
					"error", releaseErr,
				)
			}
		}
		return domain.MatchResult{}, fmt.Errorf("append audit decision: %w", err)
	}

	if winnerIdx >= 0 {
		if err := s.ledger.Commit(winnerReservation); err != nil {
			return domain.MatchResult{}, fmt.Errorf("commit reservation: %w", err)
		}
		metrics.IncDecision("selected")
		metrics.ObserveMatchConfidence(result.Confidence)
	} else {
		metrics.IncDecision("no_match")
	}

	return result, nil
}

// Status derives a single credential's current status for read-only queries.
func (s *Selector) Status(cred domain.Credential) domain.Status {
	now := s.now()
	return domain.DeriveStatus(cred, s.ledger.Usage(cred.ID, now), now, s.expiryHorizon)
}

// screen applies the pure pre-score filters: scope presence, origin policy,
// and derived status.
func (s *Selector) screen(cred domain.Credential, origin string, now time.Time) (string, bool) {
	if len(cred.ScopeTags) == 0 {
		return domain.ReasonEmptyScope, false
	}
	if !cred.OriginAllowed(origin) {
		return domain.ReasonOriginNotAllowed, false
	}

	switch domain.DeriveStatus(cred, s.ledger.Usage(cred.ID, now), now, s.expiryHorizon) {
	case domain.StatusDisabled:
		return domain.ReasonDisabled, false
	case domain.StatusExpired:
		return domain.ReasonExpired, false
	case domain.StatusQuotaExhausted:
		return domain.ReasonQuotaExceeded, false
	}
	return "", true
}

func (s *Selector) scoreAndSort(
	ctx context.Context,
	text string,
	creds []domain.Credential,
	rejected map[uuid.UUID]string,
) ([]candidate, error) {
	started := time.Now()
	defer func() { metrics.ObserveScorerDuration(time.Since(started)) }()

	candidates := make([]candidate, 0, len(creds))
	for _, cred := range creds {
		confidence, err := s.scorer.Score(ctx, text, cred.ScopeTags)
		if err != nil {
			// A failing pluggable scorer degrades this candidate to no
			// match instead of aborting the decision.
			s.logger.Warn("scorer failed for candidate",
				"credential_id", cred.ID,
				"error", err,
			)
			confidence = 0
		}

		if confidence <= 0 {
			rejected[cred.ID] = domain.ReasonLowConfidence
			metrics.IncCandidateRejection(domain.ReasonLowConfidence)
			continue
		}

		candidates = append(candidates, candidate{
			cred:       cred,
			confidence: confidence,
			covered:    matcher.CoveredTerms(text, cred.ScopeTags),
		})
	}

	if len(candidates) > 1 {
		ids := lo.Map(candidates, func(c candidate, _ int) uuid.UUID { return c.cred.ID })
		lastUsed, err := s.audit.LastUsed(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load last-used for tie-break: %w", err)
		}
		for i := range candidates {
			candidates[i].lastUsed = lastUsed[candidates[i].cred.ID]
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		// Ties break deterministically: broader coverage of the intent's
		// matched terms first, then least recently used, then smaller id.
		if a.covered != b.covered {
			return a.covered > b.covered
		}
		if !a.lastUsed.Equal(b.lastUsed) {
			return a.lastUsed.Before(b.lastUsed)
		}
		return a.cred.ID.String() < b.cred.ID.String()
	})

	return candidates, nil
}

func (s *Selector) buildResult(
	candidates []candidate,
	winnerIdx int,
	rejected map[uuid.UUID]string,
) domain.MatchResult {
	result := domain.MatchResult{
		Alternatives:    []domain.Alternative{},
		RejectedReasons: rejected,
	}

	if winnerIdx < 0 {
		result.Reasoning = s.exhaustionReasoning(candidates, rejected)
		return result
	}

	winner := candidates[winnerIdx]
	id := winner.cred.ID
	result.SelectedCredentialID = &id
	result.Confidence = winner.confidence
	result.Reasoning = winnerReasoning(winner)

	// Runners-up by score, successful or not, excluding the winner.
	for i, cand := range candidates {
		if i == winnerIdx || len(result.Alternatives) >= s.maxAlternatives {
			continue
		}
		result.Alternatives = append(result.Alternatives, domain.Alternative{
			CredentialID: cand.cred.ID,
			Confidence:   cand.confidence,
		})
	}
	return result
}

func (s *Selector) exhaustionReasoning(candidates []candidate, rejected map[uuid.UUID]string) string {
	if len(candidates) > 0 {
		return "all matching credentials over quota or expired"
	}
	if len(rejected) > 0 {
		return "no admissible credential: all candidates excluded by scope, origin, status, or quota"
	}
	return "no credentials registered for matching"
}

func winnerReasoning(winner candidate) string {
	if winner.confidence == matcher.SparseIntentConfidence && winner.covered == 0 {
		return "sparse intent text, uniform low-confidence match"
	}
	return fmt.Sprintf("scope overlap with tags [%s]", strings.Join(winner.cred.ScopeTags, ", "))
}
