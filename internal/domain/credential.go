// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Limits is the static quota policy attached to a credential.
// A zero value means the corresponding limit is not enforced.
type Limits struct {
	MaxRequestsPerDay  int `json:"max_requests_per_day"`
	MaxRequestsPerWeek int `json:"max_requests_per_week"`
	MaxTokensPerDay    int `json:"max_tokens_per_day"`
	MaxPayloadKB       int `json:"max_payload_kb"`
}

// Credential is a registered provider API key plus its usage policy.
// The engine never sees the plaintext secret; SecretRef is an opaque
// pointer into the external secret store.
type Credential struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Provider       string     `json:"provider"`
	Description    string     `json:"description,omitempty"`
	SecretRef      string     `json:"secret_ref"`
	ScopeTags      []string   `json:"scope_tags"`
	Limits         Limits     `json:"limits"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	AllowedOrigins []string   `json:"allowed_origins,omitempty"`
	Disabled       bool       `json:"disabled"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// OriginAllowed reports whether a request origin passes the credential's
// origin policy. An empty AllowedOrigins set means no restriction.
func (c Credential) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	if origin == "" {
		return false
	}
	return lo.Contains(c.AllowedOrigins, origin)
}

// CreateCredentialParams carries validated input for Registry creation.
type CreateCredentialParams struct {
	Name           string
	Provider       string
	Description    string
	SecretRef      string
	Template       string
	ScopeTags      []string
	Limits         Limits
	ExpiresAt      *time.Time
	AllowedOrigins []string
}

// UpdateCredentialParams carries a partial Registry update. Nil fields are
// left unchanged; ClearExpiry removes an existing expiry.
type UpdateCredentialParams struct {
	Name               *string
	Provider           *string
	Description        *string
	ScopeTags          *[]string
	MaxRequestsPerDay  *int
	MaxRequestsPerWeek *int
	MaxTokensPerDay    *int
	MaxPayloadKB       *int
	ExpiresAt          *time.Time
	ClearExpiry        bool
	AllowedOrigins     *[]string
	Disabled           *bool
}

// NormalizeScopeTags trims, lowercases, and dedupes scope tags, dropping
// empties. First-occurrence order is preserved so normalization is
// deterministic.
func NormalizeScopeTags(tags []string) []string {
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		cleaned = append(cleaned, tag)
	}
	return lo.Uniq(cleaned)
}

// NormalizeOrigins trims trailing slashes and dedupes origin strings.
func NormalizeOrigins(origins []string) []string {
	cleaned := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		cleaned = append(cleaned, strings.TrimRight(origin, "/"))
	}
	return lo.Uniq(cleaned)
}

// ValidateCreate checks Registry input ahead of storage. It returns
// ErrValidation-wrapped errors for malformed input. A past expiry is not an
// error here; the Registry logs a warning instead (historical imports).
func (p CreateCredentialParams) ValidateCreate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(p.SecretRef) == "" {
		return fmt.Errorf("%w: secret_ref is required", ErrValidation)
	}
	if err := p.Limits.validate(); err != nil {
		return err
	}
	return validateOrigins(p.AllowedOrigins)
}

func (l Limits) validate() error {
	if l.MaxRequestsPerDay < 0 || l.MaxRequestsPerWeek < 0 ||
		l.MaxTokensPerDay < 0 || l.MaxPayloadKB < 0 {
		return fmt.Errorf("%w: limits must be non-negative", ErrValidation)
	}
	return nil
}

func validateOrigins(origins []string) error {
	for _, origin := range origins {
		parsed, err := url.Parse(origin)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%w: malformed origin %q", ErrValidation, origin)
		}
	}
	return nil
}

// Validate checks a partial update with the same rules as creation.
func (p UpdateCredentialParams) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrValidation)
	}
	for _, limit := range []*int{
		p.MaxRequestsPerDay, p.MaxRequestsPerWeek, p.MaxTokensPerDay, p.MaxPayloadKB,
	} {
		if limit != nil && *limit < 0 {
			return fmt.Errorf("%w: limits must be non-negative", ErrValidation)
		}
	}
	if p.AllowedOrigins != nil {
		return validateOrigins(*p.AllowedOrigins)
	}
	return nil
}
