// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxIntentLength bounds the free-text intent accepted by the engine.
const MaxIntentLength = 500

// IntentRequest is a caller's natural-language routing request.
type IntentRequest struct {
	Text            string `json:"text"`
	Origin          string `json:"origin,omitempty"`
	EstimatedTokens int64  `json:"estimated_tokens,omitempty"`
	PayloadKB       int    `json:"payload_kb,omitempty"`
}

// Validate rejects malformed requests before they reach the Selector.
func (r IntentRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w", ErrIntentTextRequired)
	}
	if len(r.Text) > MaxIntentLength {
		return fmt.Errorf("%w: %d > %d", ErrIntentTextTooLong, len(r.Text), MaxIntentLength)
	}
	if r.EstimatedTokens < 0 {
		return fmt.Errorf("%w: estimated_tokens must be non-negative", ErrValidation)
	}
	if r.PayloadKB < 0 {
		return fmt.Errorf("%w: payload_kb must be non-negative", ErrValidation)
	}
	return nil
}

// Rejection reasons recorded per candidate on a match decision.
const (
	ReasonOriginNotAllowed = "origin_not_allowed"
	ReasonQuotaExceeded    = "quota_exceeded"
	ReasonExpired          = "expired"
	ReasonDisabled         = "disabled"
	ReasonPayloadTooLarge  = "payload_too_large"
	ReasonEmptyScope       = "empty_scope"
	ReasonLowConfidence    = "low_confidence"
)

// Alternative is a runner-up candidate, confidence as originally scored.
type Alternative struct {
	CredentialID uuid.UUID `json:"credentialId"`
	Confidence   int       `json:"confidence"`
}

// MatchResult is the engine's decision for one intent. A nil
// SelectedCredentialID means no admissible match, which is an expected
// outcome rather than an error.
type MatchResult struct {
	SelectedCredentialID *uuid.UUID           `json:"selectedCredentialId"`
	Confidence           int                  `json:"confidence"`
	Reasoning            string               `json:"reasoning"`
	Alternatives         []Alternative        `json:"alternatives"`
	RejectedReasons      map[uuid.UUID]string `json:"rejectedReasons"`
}

// DecisionRecord is the audit-trail form of a match decision.
type DecisionRecord struct {
	ID                   uuid.UUID            `json:"id"`
	IntentText           string               `json:"intent_text"`
	Origin               string               `json:"origin,omitempty"`
	SelectedCredentialID *uuid.UUID           `json:"selected_credential_id"`
	Confidence           int                  `json:"confidence"`
	Reasoning            string               `json:"reasoning"`
	Alternatives         []Alternative        `json:"alternatives"`
	RejectedReasons      map[uuid.UUID]string `json:"rejected_reasons"`
	CreatedAt            time.Time            `json:"created_at"`
}
