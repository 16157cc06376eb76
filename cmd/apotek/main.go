package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/apotek-erp/apotek-erp/internal/app"
	"github.com/apotek-erp/apotek-erp/internal/catalog"
	"github.com/apotek-erp/apotek-erp/internal/importer"
	"github.com/apotek-erp/apotek-erp/internal/ledger"
	"github.com/apotek-erp/apotek-erp/internal/observability"
	"github.com/apotek-erp/apotek-erp/internal/platform/cache"
	platformdb "github.com/apotek-erp/apotek-erp/internal/platform/db"
	"github.com/apotek-erp/apotek-erp/internal/pricing"
	"github.com/apotek-erp/apotek-erp/internal/procurement"
	"github.com/apotek-erp/apotek-erp/internal/reconcile"
	"github.com/apotek-erp/apotek-erp/internal/sales"
	"github.com/apotek-erp/apotek-erp/internal/search"
	"github.com/apotek-erp/apotek-erp/internal/shared"
	"github.com/apotek-erp/apotek-erp/internal/stocktake"
	"github.com/apotek-erp/apotek-erp/internal/tenant"
	"github.com/apotek-erp/apotek-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	controlPool, err := platformdb.New(ctx, cfg.ControlPGDSN)
	if err != nil {
		logger.Error("connect control database", slog.Any("error", err))
		os.Exit(1)
	}
	defer controlPool.Close()

	sharedPool, err := platformdb.New(ctx, cfg.SharedPGDSN)
	if err != nil {
		logger.Error("connect shared database", slog.Any("error", err))
		os.Exit(1)
	}
	defer sharedPool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis connect", slog.Any("error", err))
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	registry := tenant.NewRegistry(controlPool, sharedPool, redisClient)
	defer registry.Close()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(registry)
	idempotencyStore := shared.NewIdempotencyStore(registry)

	searchCache := search.NewCache(redisClient, cfg.SearchCacheTTL)

	pricingRepo := pricing.NewRepository(registry)
	costResolver := pricing.NewResolver(pricingRepo)

	ledgerRepo := ledger.NewRepository(registry)
	ledgerWriter := ledger.NewWriter(ledgerRepo, auditLogger, searchCache, metrics)
	ledgerHandler := ledger.NewHandler(logger, ledgerWriter)

	catalogRepo := catalog.NewRepository(registry)
	catalogService := catalog.NewService(catalogRepo, costResolver, auditLogger)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	searchRepo := search.NewRepository(registry)
	searchService := search.NewService(catalogRepo, searchRepo, costResolver, searchCache)
	searchHandler := search.NewHandler(logger, searchService)

	reconcileRepo := reconcile.NewRepository(registry)
	reconcileService := reconcile.NewService(reconcileRepo, logger, metrics, cfg.Epsilon())
	reconcileHandler := reconcile.NewHandler(logger, reconcileService)

	procurementRepo := procurement.NewRepository(registry)
	procurementService := procurement.NewService(procurementRepo, ledgerWriter, catalogService, auditLogger)
	procurementHandler := procurement.NewHandler(logger, procurementService)

	salesRepo := sales.NewRepository(registry)
	salesService := sales.NewService(salesRepo, ledgerWriter, catalogService, costResolver, auditLogger, logger, cfg.SalesStockGuard)
	salesHandler := sales.NewHandler(logger, salesService)

	stocktakeRepo := stocktake.NewRepository(registry)
	stocktakeService := stocktake.NewService(stocktakeRepo, ledgerWriter, costResolver)
	stocktakeHandler := stocktake.NewHandler(logger, stocktakeService)

	importerService := importer.NewService(catalogService, ledgerWriter, idempotencyStore)
	importerHandler := importer.NewHandler(logger, importerService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Registry:           registry,
		Metrics:            metrics,
		LedgerHandler:      ledgerHandler,
		CatalogHandler:     catalogHandler,
		SearchHandler:      searchHandler,
		ReconcileHandler:   reconcileHandler,
		ProcurementHandler: procurementHandler,
		SalesHandler:       salesHandler,
		StockTakeHandler:   stocktakeHandler,
		ImporterHandler:    importerHandler,
		JobHandler:         jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
