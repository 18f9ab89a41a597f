package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/valyala/fasthttp"

	"growthos/config"
	"growthos/routes"
	"growthos/services"
	"growthos/utils"
	"growthos/worker"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	cfg := config.AppConfig
	if cfg.Environment != "production" {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		}); err != nil {
			logrus.WithError(err).Warn("Failed to initialise Sentry")
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	db := config.DB

	stripe.Key = cfg.StripeSecretKey

	templates, err := services.LoadSequenceTemplates(cfg.SequencesFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load sequence templates")
	}

	inbox := services.NewInboxService(db, logrus.WithField("component", "inbox"),
		&services.IMAPSource{
			Mailer: utils.SMTPMailer{},
			Fallback: utils.SMTPSettings{
				Host:     cfg.SMTP.Host,
				Port:     cfg.SMTP.Port,
				Username: cfg.SMTP.Username,
				Password: cfg.SMTP.Password,
				From:     cfg.SMTP.From,
			},
		},
		&services.LinkedInSource{BaseURL: cfg.LinkedInAPIBase},
		&services.WhatsAppSource{BaseURL: cfg.WhatsAppAPIBase, Client: &fasthttp.Client{}},
	)

	svc := routes.Services{
		Sequences: services.NewSequenceService(db, logrus.WithField("component", "sequences"), cfg.SequenceScope),
		Inbox:     inbox,
		Webhooks:  services.NewWebhookService(db, logrus.WithField("component", "webhooks"), inbox),
		Billing:   services.NewBillingService(db, logrus.WithField("component", "billing"), services.StripePublisher{DaysUntilDue: 30}),
		Reports:   services.NewReportService(db),
		Templates: templates,
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "growthos",
		ErrorHandler: routes.ErrorHandler,
		BodyLimit:    cfg.ImportMaxBytes + 1<<20,
	})
	routes.SetupRoutes(app, db, cfg, svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inboxWorker := worker.NewInboxWorker(inbox, logrus.WithField("component", "inbox_worker"), cfg.InboxSyncEvery)
	go inboxWorker.Start(ctx)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logrus.Info("Shutting down")
		cancel()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logrus.WithError(err).Error("Server shutdown failed")
		}
	}()

	// Start server
	logrus.WithField("port", cfg.ServerPort).Info("Server starting")
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logrus.WithError(err).Fatal("Failed to start server")
	}
}
