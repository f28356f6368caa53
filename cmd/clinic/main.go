package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/clinic-ledger/internal/app"
	"github.com/odyssey-erp/clinic-ledger/internal/audit"
	audithttp "github.com/odyssey-erp/clinic-ledger/internal/audit/http"
	"github.com/odyssey-erp/clinic-ledger/internal/auth"
	"github.com/odyssey-erp/clinic-ledger/internal/catalog"
	"github.com/odyssey-erp/clinic-ledger/internal/inventory"
	"github.com/odyssey-erp/clinic-ledger/internal/invoicing"
	"github.com/odyssey-erp/clinic-ledger/internal/observability"
	"github.com/odyssey-erp/clinic-ledger/internal/platform/db"
	"github.com/odyssey-erp/clinic-ledger/internal/procurement"
	"github.com/odyssey-erp/clinic-ledger/internal/rbac"
	"github.com/odyssey-erp/clinic-ledger/internal/returns"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
	"github.com/odyssey-erp/clinic-ledger/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN, 20)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()
	eventLog := observability.NewEventLog(logger, metrics)
	rbacMiddleware := rbac.Middleware{Logger: logger}

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer)
	authHandler := auth.NewHandler(logger, tokens)

	catalogService := catalog.NewService(catalog.NewRepository(dbpool), auditLogger)
	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), auditLogger, inventory.ServiceConfig{})
	procurementService := procurement.NewService(procurement.NewRepository(dbpool), auditLogger, idempotencyStore, eventLog, procurement.ServiceConfig{})
	returnsService := returns.NewService(returns.NewRepository(dbpool), auditLogger, eventLog, returns.ServiceConfig{})
	invoicingService := invoicing.NewService(invoicing.NewRepository(dbpool), auditLogger, eventLog, invoicing.ServiceConfig{})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AuthHandler:        authHandler,
		CatalogHandler:     catalog.NewHandler(logger, catalogService, rbacMiddleware),
		InventoryHandler:   inventory.NewHandler(logger, inventoryService, rbacMiddleware),
		ProcurementHandler: procurement.NewHandler(logger, procurementService, rbacMiddleware),
		ReturnsHandler:     returns.NewHandler(logger, returnsService, rbacMiddleware),
		InvoicingHandler:   invoicing.NewHandler(logger, invoicingService, rbacMiddleware),
		AuditHandler:       audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)), rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
