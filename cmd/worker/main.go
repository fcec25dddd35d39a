package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/smallbill/smallbill/internal/app"
	"github.com/smallbill/smallbill/internal/business"
	"github.com/smallbill/smallbill/internal/catalog"
	"github.com/smallbill/smallbill/internal/invoicing"
	"github.com/smallbill/smallbill/internal/mailer"
	"github.com/smallbill/smallbill/internal/platform/db"
	"github.com/smallbill/smallbill/internal/storage"
	"github.com/smallbill/smallbill/internal/view"
	"github.com/smallbill/smallbill/jobs"
	"github.com/smallbill/smallbill/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	businessRepo := business.NewRepository(pool)
	businessService := business.NewService(businessRepo, logoStore)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, businessService)

	invoiceRepo := invoicing.NewRepository(pool)
	invoiceService := invoicing.NewService(invoiceRepo, businessService, catalogService, nil)

	smtpMailer := mailer.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)

	pdfClient := report.NewClient(cfg.GotenbergURL)
	var pdfRenderer jobs.PDFRenderer
	if err := pdfClient.Ping(ctx); err != nil {
		logger.Warn("gotenberg unreachable, email attachments disabled", slog.Any("error", err))
	} else {
		pdfRenderer = pdfClient
	}

	emailJob := jobs.NewInvoiceEmailHandler(logger, invoiceService, businessRepo, templates, smtpMailer, pdfRenderer)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeInvoiceEmail, Handler: emailJob.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
