package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/apotek-erp/apotek-erp/internal/jobs"
	"github.com/apotek-erp/apotek-erp/internal/shared"
	"github.com/apotek-erp/apotek-erp/internal/tenant"
)

// DefaultIdempotencyRetention keeps processed keys long enough for a
// retried upload to still be recognised as a duplicate.
const DefaultIdempotencyRetention = 30 * 24 * time.Hour

// IdempotencyCleaner prunes expired idempotency keys on every active
// tenant database.
type IdempotencyCleaner struct {
	registry *tenant.Registry
	store    *shared.IdempotencyStore
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
}

// NewIdempotencyCleaner constructs the cleaner.
func NewIdempotencyCleaner(registry *tenant.Registry, store *shared.IdempotencyStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleaner {
	return &IdempotencyCleaner{registry: registry, store: store, logger: logger, metrics: metrics}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (c *IdempotencyCleaner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	tracker := c.metrics.Track("idempotency_cleanup")
	return tracker.End(c.run(ctx, retention))
}

func (c *IdempotencyCleaner) run(ctx context.Context, retention time.Duration) error {
	tenants, err := c.registry.ListActive(ctx)
	if err != nil {
		return err
	}
	// Tenants sharing a database prune the same table more than once;
	// the DELETE is idempotent so that is harmless.
	for _, t := range tenants {
		if err := c.store.Cleanup(tenant.ContextWith(ctx, t), retention); err != nil {
			c.logger.Error("idempotency cleanup",
				slog.String("slug", t.Slug), slog.Any("error", err))
			return err
		}
	}
	c.logger.Info("idempotency cleanup done", slog.Int("tenants", len(tenants)))
	return nil
}
