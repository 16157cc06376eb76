package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/apotek-erp/apotek-erp/internal/jobs"
	"github.com/apotek-erp/apotek-erp/internal/reconcile"
	"github.com/apotek-erp/apotek-erp/internal/tenant"
)

// ReconcileRunner runs the nightly reconciliation pass. Each tenant is
// reconciled under its own context so the repository resolves the
// right pool.
type ReconcileRunner struct {
	registry *tenant.Registry
	svc      *reconcile.Service
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
}

// NewReconcileRunner constructs the runner.
func NewReconcileRunner(registry *tenant.Registry, svc *reconcile.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileRunner {
	return &ReconcileRunner{registry: registry, svc: svc, logger: logger, metrics: metrics}
}

// Handle processes TaskReconcileRun tasks.
func (r *ReconcileRunner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := r.metrics.Track("reconcile_run")
	return tracker.End(r.run(ctx, payload.Slug))
}

func (r *ReconcileRunner) run(ctx context.Context, slug string) error {
	tenants, err := r.tenants(ctx, slug)
	if err != nil {
		return err
	}
	start := time.Now()
	for _, t := range tenants {
		report, err := r.svc.Run(tenant.ContextWith(ctx, t), t.CompanyID)
		if err != nil {
			r.logger.Error("reconcile tenant",
				slog.String("slug", t.Slug), slog.Any("error", err))
			return err
		}
		r.logger.Info("reconcile tenant done",
			slog.String("slug", t.Slug),
			slog.Int("balance_drift", len(report.Balances)),
			slog.Int("snapshot_drift", len(report.Snapshots)))
	}
	r.logger.Info("reconcile pass done",
		slog.Int("tenants", len(tenants)),
		slog.Duration("took", time.Since(start)))
	return nil
}

func (r *ReconcileRunner) tenants(ctx context.Context, slug string) ([]tenant.Tenant, error) {
	all, err := r.registry.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if slug == "" {
		return all, nil
	}
	for _, t := range all {
		if t.Slug == slug {
			return []tenant.Tenant{t}, nil
		}
	}
	return nil, nil
}
