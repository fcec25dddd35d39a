package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/smallbill/smallbill/internal/app"
	"github.com/smallbill/smallbill/internal/auth"
	"github.com/smallbill/smallbill/internal/business"
	"github.com/smallbill/smallbill/internal/catalog"
	"github.com/smallbill/smallbill/internal/income"
	"github.com/smallbill/smallbill/internal/invoicing"
	"github.com/smallbill/smallbill/internal/observability"
	"github.com/smallbill/smallbill/internal/platform/cache"
	"github.com/smallbill/smallbill/internal/platform/db"
	"github.com/smallbill/smallbill/internal/shared"
	"github.com/smallbill/smallbill/internal/storage"
	"github.com/smallbill/smallbill/internal/view"
	"github.com/smallbill/smallbill/jobs"
	"github.com/smallbill/smallbill/report"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "smallbill_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	logoStore, err := storage.NewLocalLogoStore(cfg.LogoStorageDir, cfg.LogoPublicBase)
	if err != nil {
		logger.Error("init logo storage", slog.Any("error", err))
		os.Exit(1)
	}

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager)

	businessRepo := business.NewRepository(pool)
	businessService := business.NewService(businessRepo, logoStore)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, businessService)
	catalogHandler := catalog.NewHandler(logger, catalogService, templates, csrfManager)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	invoiceRepo := invoicing.NewRepository(pool)
	invoiceService := invoicing.NewService(invoiceRepo, businessService, catalogService, jobClient)

	pdfClient := report.NewClient(cfg.GotenbergURL)
	var pdfRenderer invoicing.PDFRenderer
	if err := pdfClient.Ping(ctx); err != nil {
		logger.Warn("gotenberg unreachable, pdf downloads disabled", slog.Any("error", err))
	} else {
		pdfRenderer = pdfClient
	}
	invoiceHandler := invoicing.NewHandler(logger, invoiceService, catalogService, templates, csrfManager, pdfRenderer)

	incomeRepo := income.NewRepository(pool)
	incomeService := income.NewService(incomeRepo, businessService)
	incomeHandler := income.NewHandler(logger, incomeService, businessService, templates, csrfManager)

	businessProducts := business.ProductListerFunc(func(ctx context.Context, ownerID, businessID uuid.UUID) ([]business.ProductSummary, error) {
		products, err := catalogService.List(ctx, ownerID, businessID, false)
		if err != nil {
			return nil, err
		}
		out := make([]business.ProductSummary, 0, len(products))
		for _, p := range products {
			out = append(out, business.ProductSummary{ID: p.ID, Name: p.Name, Price: p.Price, IsActive: p.IsActive})
		}
		return out, nil
	})
	businessIncome := business.IncomeReporterFunc(func(ctx context.Context, ownerID, businessID uuid.UUID) (*business.IncomeSummary, error) {
		stats, err := incomeService.BusinessStats(ctx, ownerID, businessID)
		if err != nil {
			return nil, err
		}
		return &business.IncomeSummary{
			Total:     stats.TotalIncome,
			ThisMonth: stats.CurrentMonthIncome,
			ThisYear:  stats.CurrentYearIncome,
		}, nil
	})
	businessHandler := business.NewHandler(logger, businessService, templates, csrfManager, businessProducts, businessIncome)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Templates:       templates,
		SessionManager:  sessionManager,
		CSRFManager:     csrfManager,
		AuthHandler:     authHandler,
		BusinessHandler: businessHandler,
		CatalogHandler:  catalogHandler,
		InvoiceHandler:  invoiceHandler,
		IncomeHandler:   incomeHandler,
		JobHandler:      jobHandler,
		LogoDir:         logoStore.Dir(),
		Metrics:         metrics,
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
