// SPDX-License-Identifier: Apache-2.0

// Package ledger tracks per-credential usage counters and enforces
// reserve-then-commit quota charging. Each credential gets its own lock so
// concurrent requests against different credentials never contend.
package ledger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/adiadia/keyrouter/internal/domain"
	"github.com/adiadia/keyrouter/internal/metrics"
	"github.com/google/uuid"
)

type Options struct {
	ReservationTimeout time.Duration
	WeekStart          time.Weekday
	Logger             *slog.Logger
}

type counter struct {
	windowStart time.Time
	requests    int
	tokens      int64
}

type reservation struct {
	domain.Reservation
	chargedDayStart  time.Time
	chargedWeekStart time.Time
}

// entry holds one credential's live counters and pending reservations.
// All fields are guarded by mu.
type entry struct {
	mu           sync.Mutex
	day          counter
	week         counter
	reservations map[uuid.UUID]*reservation
}

type Ledger struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry

	timeout   time.Duration
	weekStart time.Weekday
	logger    *slog.Logger

	retiredMu sync.Mutex
	retired   []domain.UsageCounter
}

func New(opts Options) *Ledger {
	timeout := opts.ReservationTimeout
	if timeout <= 0 {
		timeout = domain.DefaultReservationTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Ledger{
		entries:   make(map[uuid.UUID]*entry, 32),
		timeout:   timeout,
		weekStart: opts.WeekStart,
		logger:    logger,
	}
}

// CheckAndReserve atomically verifies every configured limit for the
// credential and, if all pass, charges the day and week counters and returns
// an opaque reservation. A payload cap violation is fatal for the request
// only and never touches the counters.
func (l *Ledger) CheckAndReserve(
	credID uuid.UUID,
	limits domain.Limits,
	estimatedTokens int64,
	payloadKB int,
	now time.Time,
) (domain.Reservation, error) {
	if limits.MaxPayloadKB > 0 && payloadKB > limits.MaxPayloadKB {
		metrics.IncReservation("payload_too_large")
		return domain.Reservation{}, domain.ErrPayloadTooLarge
	}

	e := l.entry(credID)
	e.mu.Lock()
	defer e.mu.Unlock()

	l.releaseExpiredLocked(credID, e, now)
	l.rolloverLocked(credID, e, now)

	if limits.MaxRequestsPerDay > 0 && e.day.requests+1 > limits.MaxRequestsPerDay {
		metrics.IncReservation("quota_exceeded")
		return domain.Reservation{}, domain.ErrQuotaExceeded
	}
	if limits.MaxRequestsPerWeek > 0 && e.week.requests+1 > limits.MaxRequestsPerWeek {
		metrics.IncReservation("quota_exceeded")
		return domain.Reservation{}, domain.ErrQuotaExceeded
	}
	if limits.MaxTokensPerDay > 0 && e.day.tokens+estimatedTokens > int64(limits.MaxTokensPerDay) {
		metrics.IncReservation("quota_exceeded")
		return domain.Reservation{}, domain.ErrQuotaExceeded
	}

	e.day.requests++
	e.week.requests++
	e.day.tokens += estimatedTokens

	res := &reservation{
		Reservation: domain.Reservation{
			ID:           uuid.New(),
			CredentialID: credID,
			Tokens:       estimatedTokens,
			PayloadKB:    payloadKB,
			CreatedAt:    now,
			ExpiresAt:    now.Add(l.timeout),
		},
		chargedDayStart:  e.day.windowStart,
		chargedWeekStart: e.week.windowStart,
	}
	e.reservations[res.ID] = res

	metrics.IncReservation("reserved")
	return res.Reservation, nil
}

// Commit finalizes a reservation. Counters are untouched; the pending entry
// is closed so the charge can no longer be rolled back.
func (l *Ledger) Commit(res domain.Reservation) error {
	e := l.entry(res.CredentialID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.reservations[res.ID]; !ok {
		return domain.ErrReservationNotFound
	}
	delete(e.reservations, res.ID)
	metrics.IncReservation("committed")
	return nil
}

// Release rolls back a reservation whose downstream call never happened.
func (l *Ledger) Release(res domain.Reservation) error {
	e := l.entry(res.CredentialID)
	e.mu.Lock()
	defer e.mu.Unlock()

	pending, ok := e.reservations[res.ID]
	if !ok {
		return domain.ErrReservationNotFound
	}
	l.undoChargeLocked(e, pending)
	delete(e.reservations, res.ID)
	metrics.IncReservation("released")
	return nil
}

// Usage returns a read-only snapshot of the credential's live counters.
// Counters whose window has lapsed read as zero; the actual reset happens
// lazily on the next charge.
func (l *Ledger) Usage(credID uuid.UUID, now time.Time) domain.UsageSnapshot {
	l.mu.RLock()
	e, ok := l.entries[credID]
	l.mu.RUnlock()
	if !ok {
		return domain.UsageSnapshot{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var snap domain.UsageSnapshot
	if e.day.windowStart.Equal(dayStart(now)) {
		snap.DayRequests = e.day.requests
		snap.DayTokens = e.day.tokens
	}
	if e.week.windowStart.Equal(weekStart(now, l.weekStart)) {
		snap.WeekRequests = e.week.requests
	}
	return snap
}

// SweepExpired releases every reservation past its deadline. It runs inline
// on each charge and periodically from the janitor so a crashed caller cannot
// leak quota.
func (l *Ledger) SweepExpired(now time.Time) int {
	l.mu.RLock()
	ids := make([]uuid.UUID, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	l.mu.RUnlock()

	released := 0
	for _, id := range ids {
		e := l.entry(id)
		e.mu.Lock()
		released += l.releaseExpiredLocked(id, e, now)
		e.mu.Unlock()
	}
	return released
}

// DrainRetired hands over counters retired by window rollover for archival.
func (l *Ledger) DrainRetired() []domain.UsageCounter {
	l.retiredMu.Lock()
	defer l.retiredMu.Unlock()
	out := l.retired
	l.retired = nil
	return out
}

func (l *Ledger) entry(credID uuid.UUID) *entry {
	l.mu.RLock()
	e, ok := l.entries[credID]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[credID]; ok {
		return e
	}
	e = &entry{reservations: make(map[uuid.UUID]*reservation, 4)}
	l.entries[credID] = e
	return e
}

func (l *Ledger) rolloverLocked(credID uuid.UUID, e *entry, now time.Time) {
	day := dayStart(now)
	if !e.day.windowStart.Equal(day) {
		l.retire(credID, domain.WindowDay, e.day, now)
		e.day = counter{windowStart: day}
	}

	week := weekStart(now, l.weekStart)
	if !e.week.windowStart.Equal(week) {
		l.retire(credID, domain.WindowWeek, e.week, now)
		e.week = counter{windowStart: week}
	}
}

func (l *Ledger) retire(credID uuid.UUID, window domain.WindowType, c counter, now time.Time) {
	if c.windowStart.IsZero() || (c.requests == 0 && c.tokens == 0) {
		return
	}

	l.retiredMu.Lock()
	l.retired = append(l.retired, domain.UsageCounter{
		CredentialID: credID,
		WindowType:   window,
		WindowStart:  c.windowStart,
		RequestCount: c.requests,
		TokenCount:   c.tokens,
		RetiredAt:    now,
	})
	l.retiredMu.Unlock()
}

func (l *Ledger) releaseExpiredLocked(credID uuid.UUID, e *entry, now time.Time) int {
	released := 0
	for id, pending := range e.reservations {
		if pending.ExpiresAt.After(now) {
			continue
		}
		l.undoChargeLocked(e, pending)
		delete(e.reservations, id)
		released++
		metrics.IncReservation("expired")
		l.logger.Warn("reservation auto-released",
			"credential_id", credID,
			"reservation_id", id,
			"age", now.Sub(pending.CreatedAt).String(),
		)
	}
	return released
}

// undoChargeLocked reverses a reservation's increments. Counters that rolled
// to a new window since the charge are left alone; the charge died with the
// retired window.
func (l *Ledger) undoChargeLocked(e *entry, pending *reservation) {
	if e.day.windowStart.Equal(pending.chargedDayStart) {
		e.day.requests = max(0, e.day.requests-1)
		e.day.tokens = max(0, e.day.tokens-pending.Tokens)
	}
	if e.week.windowStart.Equal(pending.chargedWeekStart) {
		e.week.requests = max(0, e.week.requests-1)
	}
}
