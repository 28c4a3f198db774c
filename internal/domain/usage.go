// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type WindowType string

const (
	WindowDay  WindowType = "day"
	WindowWeek WindowType = "week"
)

// DefaultReservationTimeout is how long an uncommitted reservation may live
// before the ledger treats it as abandoned and rolls it back.
const DefaultReservationTimeout = 60 * time.Second

// UsageCounter is a retired per-window counter, kept for audit only.
// Live counters never leave the ledger.
type UsageCounter struct {
	CredentialID uuid.UUID  `json:"credential_id"`
	WindowType   WindowType `json:"window_type"`
	WindowStart  time.Time  `json:"window_start"`
	RequestCount int        `json:"request_count"`
	TokenCount   int64      `json:"token_count"`
	RetiredAt    time.Time  `json:"retired_at"`
}

// Reservation is a pending, not-yet-finalized quota charge for one in-flight
// request. The token is opaque to callers; they hand it back to Commit or
// Release.
type Reservation struct {
	ID           uuid.UUID
	CredentialID uuid.UUID
	Tokens       int64
	PayloadKB    int
	CreatedAt    time.Time
	ExpiresAt    time.Time
}
