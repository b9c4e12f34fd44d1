package registry

import (
	"context"
	"time"

	"atelier/internal/config"
	"atelier/internal/metrics"
)

// PurgeExpired evicts terminal jobs whose last update is older than
// the cutoff and drops their remaining subscribers. In-flight jobs are
// never evicted regardless of age.
func (r *Registry) PurgeExpired(cutoff time.Time) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, j := range r.jobs {
		j.mu.Lock()
		expired := j.status.Terminal() && j.updatedAt.Before(cutoff)
		j.mu.Unlock()

		if expired {
			delete(r.jobs, id)
			if r.bus != nil {
				r.bus.Drop(id)
			}
			deleted++
		}
	}

	if deleted > 0 {
		r.logger.Info("retention purged jobs", "deleted", deleted)
	}
	return deleted
}

// StartSweeper runs TTL cleanup for terminal jobs on a fixed interval
// until the context is cancelled. Callers typically run this in its
// own goroutine; it does nothing when retention is disabled, in which
// case jobs live for the process lifetime.
func StartSweeper(ctx context.Context, cfg *config.Config, reg *Registry) {
	if !cfg.Retention.Enabled || cfg.Retention.Jobs.DefaultMinutes <= 0 {
		return
	}

	interval := time.Duration(cfg.Retention.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	ttl := time.Duration(cfg.Retention.Jobs.DefaultMinutes) * time.Minute

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cutoff := time.Now().UTC().Add(-ttl)
		if n := reg.PurgeExpired(cutoff); n > 0 {
			metrics.RecordRetentionJobs(n)
		}
	}
}
