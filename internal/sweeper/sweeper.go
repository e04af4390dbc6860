// Package sweeper runs the recurring reclamation of expired table
// holds, independently of request handling.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// HoldExpirer releases lapsed holds and reports how many it released.
// A failure inside one table's release must not abort the rest of the
// pass; only infrastructure-level failures surface as an error here.
type HoldExpirer interface {
	Expire(ctx context.Context) (int, error)
}

type Sweeper struct {
	expirer  HoldExpirer
	interval time.Duration
	logger   *slog.Logger
}

func New(expirer HoldExpirer, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		expirer:  expirer,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled. A failed pass
// is logged and the next tick tries again.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			released, err := s.expirer.Expire(ctx)
			if err != nil {
				s.logger.Error("sweep pass failed", "error", err)
				continue
			}

			if released > 0 {
				s.logger.Info("released expired holds", "count", released)
			}
		}
	}
}
