// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/adiadia/keyrouter/internal/domain"
	"github.com/google/uuid"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(Options{
		ReservationTimeout: time.Minute,
		WeekStart:          time.Monday,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestCheckAndReserve_DayLimit(t *testing.T) {
	l := testLedger(t)
	credID := uuid.New()
	limits := domain.Limits{MaxRequestsPerDay: 2}
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		res, err := l.CheckAndReserve(credID, limits, 0, 0, now)
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if err := l.Commit(res); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	if _, err := l.CheckAndReserve(credID, limits, 0, 0, now); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded got %v", err)
	}

	usage := l.Usage(credID, now)
	if usage.DayRequests != 2 {
		t.Fatalf("expected 2 day requests got %d", usage.DayRequests)
	}
}

func TestCheckAndReserve_WeekLimit(t *testing.T) {
	l := testLedger(t)
	credID := uuid.New()
	limits := domain.Limits{MaxRequestsPerWeek: 3}
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	// Spread charges over three days of the same week; the week counter
	// carries across day rollovers.
	for i := 0; i < 3; i++ {
		at := now.AddDate(0, 0, i)
		res, err := l.CheckAndReserve(credID, limits, 0, 0, at)
		if err != nil {
			t.Fatalf("reserve day %d: %v", i, err)
		}
		if err := l.Commit(res); err != nil {
			t.Fatalf("commit day %d: %v", i, err)
		}
	}

	if _, err := l.CheckAndReserve(credID, limits, 0, 0, now.AddDate(0, 0, 2)); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded got %v", err)
	}
}

func TestCheckAndReserve_TokenLimit(t *testing.T) {
	l := testLedger(t)
	credID := uuid.New()
	limits := domain.Limits{MaxTokensPerDay: 100}
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	res, err := l.CheckAndReserve(credID, limits, 60, 0, now)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Commit(res); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := l.CheckAndReserve(credID, limits, 50, 0, now); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded got %v", err)
	}

	// Exactly filling the budget is allowed.
	if _, err := l.CheckAndReserve(credID, limits, 40, 0, now); err != nil {
		t.Fatalf("expected reserve up to the budget, got %v", err)
	}
}

func TestCheckAndReserve_PayloadCapNeverCharges(t *testing.T) {
	l := testLedger(t)
	credID := uuid.New()
	limits := domain.Limits{MaxRequestsPerDay: 10, MaxPayloadKB: 64}
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	if _, err := l.CheckAndReserve(credID, limits, 0, 65, now); !errors.Is(err, domain.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge got %v", err)
	}

	usage := l.Usage(credID, now)
	if usage.DayRequests != 0 || usage.DayTokens != 0 {
		t.Fatalf("expected no charge after payload rejection, got %+v", usage)
	}

	// At the cap is allowed.
	if _, err := l.CheckAndReserve(credID, limits, 0, 64, now); err != nil {
		t.Fatalf("expected payload at the cap to pass, got %v", err)
	}
}

func TestCheckAndReserve_ConcurrentNeverOverAdmits(t *testing.T) {
	l := testLedger(t)
	credID := uuid.New()
	const workers = 16
	limits := domain.Limits{MaxRequestsPerDay: workers - 1}
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.CheckAndReserve(credID, limits, 0, 0, now)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	admitted := 0
	for err := range results {
		if err == nil {
			admitted++
		} else if !errors.Is(err, domain.ErrQuotaExceeded) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if admitted != workers-1 {
		t.Fatalf("expected exactly %d admissions got %d", workers-1, admitted)
	}
}

func TestRelease_RollsBackCharge(t *testing.T) {
	l := testLedger(t)
	credID := uuid.New()
	limits := domain.Limits{MaxRequestsPerDay: 1, MaxTokensPerDay: 100}
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	res, err := l.CheckAndReserve(credID, limits, 40, 0, now)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Release(res); err != nil {
		t.Fatalf("release: %v", err)
	}

	usage := l.Usage(credID, now)
	if usage.DayRequests != 0 || usage.DayTokens != 0 {
		t.Fatalf("expected counters rolled back, got %+v", usage)
	}

	// The slot is reusable after release.
	if _, err := l.CheckAndReserve(credID, limits, 40, 0, now); err != nil {
		t.Fatalf("expected reserve after release, got %v", err)
	}
}

func TestCommitAndReleaseUnknownReservation(t *testing.T) {
	l := testLedger(t)
	res := domain.Reservation{ID: uuid.New(), CredentialID: uuid.New()}

	if err := l.Commit(res); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound on commit got %v", err)
	}
	if err := l.Release(res); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound on release got %v", err)
	}
}

func TestCommitIsFinal(t *testing.T) {
	l := testLedger(t)
	credID := uuid.New()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	res, err := l.CheckAndReserve(credID, domain.Limits{}, 10, 0, now)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Commit(res); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := l.Release(res); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("expected committed reservation to be unreleasable, got %v", err)
	}

	usage := l.Usage(credID, now)
	if usage.DayRequests != 1 || usage.DayTokens != 10 {
		t.Fatalf("expected committed charge to stand, got %+v", usage)
	}
}

func TestDayRollover(t *testing.T) {
	l := testLedger(t)
	credID := uuid.New()
	limits := domain.Limits{MaxRequestsPerDay: 1}
	day1 := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC)

	res, err := l.CheckAndReserve(credID, limits, 25, 0, day1)
	if err != nil {
		t.Fatalf("reserve day1: %v", err)
	}
	if err := l.Commit(res); err != nil {
		t.Fatalf("commit day1: %v", err)
	}

	// Stale window reads as zero without mutating anything.
	if usage := l.Usage(credID, day2); usage.DayRequests != 0 {
		t.Fatalf("expected zero day requests after rollover, got %d", usage.DayRequests)
	}

	// The limit is available again on the new day.
	if _, err := l.CheckAndReserve(credID, limits, 0, 0, day2); err != nil {
		t.Fatalf("expected reserve after rollover, got %v", err)
	}

	retired := l.DrainRetired()
	if len(retired) != 1 {
		t.Fatalf("expected 1 retired counter got %d", len(retired))
	}
	got := retired[0]
	if got.CredentialID != credID || got.WindowType != domain.WindowDay {
		t.Fatalf("unexpected retired counter %+v", got)
	}
	if got.RequestCount != 1 || got.TokenCount != 25 {
		t.Fatalf("expected retired counts 1/25 got %d/%d", got.RequestCount, got.TokenCount)
	}

	if again := l.DrainRetired(); len(again) != 0 {
		t.Fatalf("expected drain to be one-shot, got %d", len(again))
	}
}

func TestWeekRollover(t *testing.T) {
	l := testLedger(t)
	credID := uuid.New()
	limits := domain.Limits{MaxRequestsPerWeek: 1}

	// 2026-03-08 is a Sunday; the Monday week boundary falls on 03-09.
	sunday := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	monday := time.Date(2026, 3, 9, 0, 30, 0, 0, time.UTC)

	res, err := l.CheckAndReserve(credID, limits, 0, 0, sunday)
	if err != nil {
		t.Fatalf("reserve sunday: %v", err)
	}
	if err := l.Commit(res); err != nil {
		t.Fatalf("commit sunday: %v", err)
	}

	if _, err := l.CheckAndReserve(credID, limits, 0, 0, sunday); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected week limit hit on sunday, got %v", err)
	}

	if _, err := l.CheckAndReserve(credID, limits, 0, 0, monday); err != nil {
		t.Fatalf("expected reserve after week rollover, got %v", err)
	}
}

func TestSweepExpiredReleasesAbandonedReservations(t *testing.T) {
	l := New(Options{
		ReservationTimeout: time.Second,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	credID := uuid.New()
	limits := domain.Limits{MaxRequestsPerDay: 1}
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	res, err := l.CheckAndReserve(credID, limits, 0, 0, now)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	released := l.SweepExpired(now.Add(2 * time.Second))
	if released != 1 {
		t.Fatalf("expected 1 released reservation got %d", released)
	}

	// The sweep already rolled the charge back; committing is too late.
	if err := l.Commit(res); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound after sweep got %v", err)
	}

	if _, err := l.CheckAndReserve(credID, limits, 0, 0, now); err != nil {
		t.Fatalf("expected quota back after sweep, got %v", err)
	}
}

func TestReleaseAfterRolloverLeavesNewWindowAlone(t *testing.T) {
	l := New(Options{
		ReservationTimeout: time.Hour,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	credID := uuid.New()
	day1 := time.Date(2026, 3, 10, 23, 50, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 11, 0, 10, 0, 0, time.UTC)

	res, err := l.CheckAndReserve(credID, domain.Limits{}, 10, 0, day1)
	if err != nil {
		t.Fatalf("reserve day1: %v", err)
	}

	// A charge on day2 rolls the day window over.
	res2, err := l.CheckAndReserve(credID, domain.Limits{}, 5, 0, day2)
	if err != nil {
		t.Fatalf("reserve day2: %v", err)
	}
	if err := l.Commit(res2); err != nil {
		t.Fatalf("commit day2: %v", err)
	}

	// Releasing the day1 reservation must not decrement day2's counters.
	if err := l.Release(res); err != nil {
		t.Fatalf("release day1: %v", err)
	}

	usage := l.Usage(credID, day2)
	if usage.DayRequests != 1 || usage.DayTokens != 5 {
		t.Fatalf("expected day2 counters untouched, got %+v", usage)
	}
}

func TestUsageUnknownCredential(t *testing.T) {
	l := testLedger(t)
	if usage := l.Usage(uuid.New(), time.Now()); usage != (domain.UsageSnapshot{}) {
		t.Fatalf("expected zero snapshot got %+v", usage)
	}
}
