package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ErlanBelekov/email-login/internal/metrics"
	"github.com/robfig/cron/v3"
)

const defaultBatchSize = 500

// Prunable is a token store that keeps expired rows until told to drop them.
// Stores with native expiry (redis, mongo TTL indexes) don't need one.
type Prunable interface {
	PruneExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

type Pruner struct {
	stores   map[string]Prunable
	schedule cron.Schedule
	batch    int
	now      func() time.Time
	logger   *slog.Logger
}

// NewPruner parses a standard five-field cron expression.
func NewPruner(cronExpr string, stores map[string]Prunable, logger *slog.Logger) (*Pruner, error) {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid prune cron %q: %w", cronExpr, err)
	}
	return &Pruner{
		stores:   stores,
		schedule: sched,
		batch:    defaultBatchSize,
		now:      time.Now,
		logger:   logger.With("component", "pruner"),
	}, nil
}

// WithClock returns a copy of the pruner that reads the time from now.
func (p *Pruner) WithClock(now func() time.Time) *Pruner {
	clone := *p
	clone.now = now
	return &clone
}

func (p *Pruner) Start(ctx context.Context) {
	p.logger.Info("pruner started", "stores", p.names())

	for {
		next := p.schedule.Next(p.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("pruner shut down")
			return
		case <-timer.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce prunes every store in batches until a batch comes back short.
// Returns the total number of rows removed.
func (p *Pruner) RunOnce(ctx context.Context) int {
	start := time.Now()
	defer func() { metrics.PruneCycleDuration.Observe(time.Since(start).Seconds()) }()

	cutoff := p.now()
	total := 0
	for _, name := range p.names() {
		store := p.stores[name]
		for {
			n, err := store.PruneExpired(ctx, cutoff, p.batch)
			if err != nil {
				p.logger.ErrorContext(ctx, "prune expired tokens", "store", name, "error", err)
				break
			}
			total += n
			metrics.PrunedTokensTotal.WithLabelValues(name).Add(float64(n))
			if n < p.batch || ctx.Err() != nil {
				break
			}
		}
	}
	if total > 0 {
		p.logger.InfoContext(ctx, "pruned expired tokens", "count", total)
	}
	return total
}

func (p *Pruner) names() []string {
	names := make([]string, 0, len(p.stores))
	for name := range p.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
