// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"time"

	"github.com/adiadia/keyrouter/internal/domain"
)

// CounterArchiver persists retired window counters for audit retention.
type CounterArchiver interface {
	ArchiveCounters(ctx context.Context, counters []domain.UsageCounter) error
}

// Run sweeps abandoned reservations and drains retired counters to the
// archiver on a fixed interval until ctx is done. The archiver may be nil,
// in which case retired counters are dropped after draining.
func (l *Ledger) Run(ctx context.Context, interval time.Duration, archiver CounterArchiver) {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if released := l.SweepExpired(now); released > 0 {
				l.logger.Info("abandoned reservations released", "count", released)
			}

			retired := l.DrainRetired()
			if len(retired) == 0 || archiver == nil {
				continue
			}
			if err := archiver.ArchiveCounters(ctx, retired); err != nil {
				l.logger.Error("archive retired counters failed",
					"count", len(retired),
					"error", err,
				)
			}
		}
	}
}
