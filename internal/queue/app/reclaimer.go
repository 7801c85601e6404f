package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/polarpost/mailroom/internal/queue/domain"
)

// Reclaimer periodically returns jobs with expired leases to the queue,
// recovering work lost to crashed workers.
type Reclaimer struct {
	repo     domain.JobRepository
	logger   *slog.Logger
	interval time.Duration
}

func NewReclaimer(repo domain.JobRepository, logger *slog.Logger, interval time.Duration) *Reclaimer {
	return &Reclaimer{
		repo:     repo,
		logger:   logger.With("service", "lease_reclaimer"),
		interval: interval,
	}
}

func (r *Reclaimer) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Lease reclaimer starting", "interval", r.interval.String())
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "Lease reclaimer stopping")
			return ctx.Err()
		case <-ticker.C:
			n, err := r.repo.ReclaimExpiredLeases(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "Error reclaiming expired leases", "error", err)
				continue
			}
			if n > 0 {
				leasesReclaimedTotal.Add(float64(n))
			}
		}
	}
}
