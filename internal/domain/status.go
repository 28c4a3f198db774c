// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

// Status is derived on read from the credential's static policy and the
// ledger's live counters. It is never stored.
type Status string

const (
	StatusActive         Status = "active"
	StatusExpiringSoon   Status = "expiring_soon"
	StatusQuotaExhausted Status = "quota_exhausted"
	StatusExpired        Status = "expired"
	StatusDisabled       Status = "disabled"
)

// DefaultExpiryHorizon is how far ahead of expiry a credential is flagged
// as expiring_soon.
const DefaultExpiryHorizon = 7 * 24 * time.Hour

// UsageSnapshot is a point-in-time read of a credential's live counters.
type UsageSnapshot struct {
	DayRequests  int   `json:"day_requests"`
	WeekRequests int   `json:"week_requests"`
	DayTokens    int64 `json:"day_tokens"`
}

// DeriveStatus computes the credential's status with the precedence
// disabled > expired > quota_exhausted > expiring_soon > active.
func DeriveStatus(c Credential, usage UsageSnapshot, now time.Time, horizon time.Duration) Status {
	if c.Disabled {
		return StatusDisabled
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return StatusExpired
	}
	if quotaExhausted(c.Limits, usage) {
		return StatusQuotaExhausted
	}
	if horizon <= 0 {
		horizon = DefaultExpiryHorizon
	}
	if c.ExpiresAt != nil && c.ExpiresAt.Before(now.Add(horizon)) {
		return StatusExpiringSoon
	}
	return StatusActive
}

// Eligible reports whether a credential in the given status may enter
// candidate generation.
func (s Status) Eligible() bool {
	return s == StatusActive || s == StatusExpiringSoon
}

func quotaExhausted(limits Limits, usage UsageSnapshot) bool {
	if limits.MaxRequestsPerDay > 0 && usage.DayRequests >= limits.MaxRequestsPerDay {
		return true
	}
	if limits.MaxRequestsPerWeek > 0 && usage.WeekRequests >= limits.MaxRequestsPerWeek {
		return true
	}
	if limits.MaxTokensPerDay > 0 && usage.DayTokens >= int64(limits.MaxTokensPerDay) {
		return true
	}
	return false
}
