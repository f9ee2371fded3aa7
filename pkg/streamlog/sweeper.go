package streamlog

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically enforces the retention policy across all
// conversation logs. The stream log is a delivery buffer, not the system
// of record, so discarding old entries only limits how far back a client
// can resume.
type Sweeper struct {
	log      Log
	policy   TrimPolicy
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a sweeper applying policy every interval.
func NewSweeper(log Log, policy TrimPolicy, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}

	return &Sweeper{
		log:      log,
		policy:   policy,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps on the configured interval until ctx is cancelled. Sweep
// failures are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			n, err := s.log.Sweep(ctx, s.policy)
			if err != nil {
				s.logger.Warn("retention sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Debug("retention sweep discarded entries", zap.Int64("entries", n))
			}
		}
	}
}
