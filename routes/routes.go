package routes

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"growthos/config"
	controller "growthos/controllers"
	"growthos/middleware"
	"growthos/models"
	"growthos/services"
	"growthos/utils"
)

// Services bundles the long-lived services shared by handlers and workers.
type Services struct {
	Sequences *services.SequenceService
	Inbox     *services.InboxService
	Webhooks  *services.WebhookService
	Billing   *services.BillingService
	Reports   *services.ReportService
	Templates []services.SequenceTemplate
}

func component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}

// ErrorHandler renders errors that escape a handler in the standard envelope.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"

	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		code = ferr.Code
		message = ferr.Message
	}
	if code >= fiber.StatusInternalServerError {
		utils.LogError("unhandled", err, map[string]interface{}{
			"path":   c.Path(),
			"method": c.Method(),
		})
	}
	return utils.ErrorResponse(c, code, message, nil)
}

func SetupAuthRoutes(app *fiber.App, db *gorm.DB, cfg config.Config, svc Services) {
	authController := controller.NewAuthController(db, component("auth"), svc.Templates, cfg.Environment == "production")

	auth := app.Group("/api/v1/auth")

	// Public auth endpoints (no authentication required)
	auth.Post("/register", authController.Register)
	auth.Post("/login", authController.Login)
	auth.Post("/refresh", authController.RefreshToken)

	// Protected auth endpoints (require valid JWT)
	protectedAuth := auth.Group("", middleware.Protected(db))
	protectedAuth.Post("/logout", authController.Logout)
	protectedAuth.Post("/change-password", authController.ChangePassword)
	protectedAuth.Get("/me", authController.GetCurrentUser)
}

func SetupAPIRoutes(app *fiber.App, db *gorm.DB, cfg config.Config, svc Services) {
	prospectController := controller.NewProspectController(db, component("prospects"), cfg.ImportMaxBytes)
	sequenceController := controller.NewSequenceController(db, component("sequences"), svc.Sequences)
	taskController := controller.NewTaskController(db, component("tasks"), svc.Sequences)
	invoiceController := controller.NewInvoiceController(db, component("invoices"), svc.Billing, cfg.CompanyName)
	accountController := controller.NewChannelAccountController(db, component("channel_accounts"), svc.Inbox)
	inboxController := controller.NewInboxController(component("inbox"), svc.Inbox)
	dashboardController := controller.NewDashboardController(component("dashboard"), svc.Reports, cfg.CompanyName)

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(db))

	// Dashboard routes
	dashboard := api.Group("/dashboard")
	dashboard.Get("/stats", dashboardController.GetDashboardStats)
	dashboard.Get("/activity", dashboardController.GetActivityOverTime)
	api.Get("/reports/pipeline.pdf", dashboardController.GetPipelinePDF)

	// Prospect routes; fixed paths come before /:id
	prospect := api.Group("/prospects")
	prospect.Post("/import", prospectController.ImportProspects)
	prospect.Get("/export", prospectController.ExportProspects)
	prospect.Get("/verify-email", prospectController.VerifyEmail)
	prospect.Post("/verify-emails", prospectController.BulkVerify)
	prospect.Get("/", prospectController.GetProspects)
	prospect.Post("/", prospectController.CreateProspect)
	prospect.Get("/:id", prospectController.GetProspect)
	prospect.Put("/:id", prospectController.UpdateProspect)
	prospect.Delete("/:id", prospectController.DeleteProspect)
	prospect.Post("/:id/convert", prospectController.ConvertProspect)

	// Sequence routes
	sequence := api.Group("/sequences")
	sequence.Get("/", sequenceController.GetSequences)
	sequence.Post("/", sequenceController.CreateSequence)
	sequence.Get("/:id", sequenceController.GetSequence)
	sequence.Put("/:id", sequenceController.UpdateSequence)
	sequence.Delete("/:id", sequenceController.DeleteSequence)
	sequence.Post("/:id/enroll", sequenceController.EnrollProspects)
	sequence.Get("/:id/assignments", sequenceController.GetAssignments)

	// Task routes
	task := api.Group("/tasks")
	task.Get("/", taskController.GetTasks)
	task.Post("/", taskController.CreateTask)
	task.Get("/:id", taskController.GetTask)
	task.Put("/:id", taskController.UpdateTask)
	task.Delete("/:id", taskController.DeleteTask)
	task.Post("/:id/complete", taskController.CompleteTask)

	// Plain per-user CRUD
	deals := &controller.ResourceController[models.Deal]{
		DB:       db,
		Logger:   component("deals"),
		Name:     "deal",
		SetOwner: func(d *models.Deal, userID uint) { d.UserID = userID },
		Filters:  []string{"stage", "prospect_id"},
		Search:   []string{"title", "notes"},
		Preload:  []string{"Prospect"},
		Prepare:  func(d *models.Deal) { d.StampClosed(time.Now()) },
	}
	deals.Register(api.Group("/deals"))

	projects := &controller.ResourceController[models.Project]{
		DB:       db,
		Logger:   component("projects"),
		Name:     "project",
		SetOwner: func(p *models.Project, userID uint) { p.UserID = userID },
		Filters:  []string{"status", "deal_id"},
		Search:   []string{"name", "description"},
	}
	projects.Register(api.Group("/projects"))

	affiliates := &controller.ResourceController[models.Affiliate]{
		DB:       db,
		Logger:   component("affiliates"),
		Name:     "affiliate",
		SetOwner: func(a *models.Affiliate, userID uint) { a.UserID = userID },
		Filters:  []string{"status", "referral_code"},
		Search:   []string{"name", "email", "company"},
	}
	affiliates.Register(api.Group("/affiliates"))

	content := &controller.ResourceController[models.ContentDraft]{
		DB:       db,
		Logger:   component("content"),
		Name:     "content draft",
		SetOwner: func(d *models.ContentDraft, userID uint) { d.UserID = userID },
		Filters:  []string{"status", "channel"},
		Search:   []string{"title", "body"},
	}
	content.Register(api.Group("/content"))

	// Invoice routes
	invoice := api.Group("/invoices")
	invoice.Get("/", invoiceController.GetInvoices)
	invoice.Post("/", invoiceController.CreateInvoice)
	invoice.Get("/:id", invoiceController.GetInvoice)
	invoice.Put("/:id", invoiceController.UpdateInvoice)
	invoice.Delete("/:id", invoiceController.DeleteInvoice)
	invoice.Post("/:id/send", invoiceController.SendInvoice)
	invoice.Get("/:id/pdf", invoiceController.InvoicePDF)

	// Channel account routes
	account := api.Group("/channel-accounts")
	account.Get("/", accountController.GetAccounts)
	account.Post("/", accountController.CreateAccount)
	account.Get("/:id", accountController.GetAccount)
	account.Put("/:id", accountController.UpdateAccount)
	account.Delete("/:id", accountController.DeleteAccount)
	account.Post("/:id/test", accountController.TestAccount)

	// Unified inbox routes
	inbox := api.Group("/inbox")
	inbox.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	inbox.Get("/ws", websocket.New(inboxController.SyncStream))
	inbox.Get("/", inboxController.GetMessages)
	inbox.Post("/sync", inboxController.SyncMessages)
	inbox.Get("/:id", inboxController.GetMessage)
	inbox.Put("/:id", inboxController.UpdateMessage)
	inbox.Post("/:id/reply", inboxController.ReplyMessage)
}

func SetupWebhookRoutes(app *fiber.App, cfg config.Config, svc Services) {
	webhookController := controller.NewWebhookController(component("webhooks"), svc.Webhooks)
	webhookController.Secret = cfg.WebhookSecret
	webhookController.StripeSecret = cfg.StripeWebhookSecret
	webhookController.WhatsAppAppSecret = cfg.WhatsAppAppSecret
	webhookController.WhatsAppVerifyToken = cfg.WhatsAppVerifyToken

	webhooks := app.Group("/webhooks", middleware.WebhookRateLimiter(cfg.WebhookRateLimit, middleware.RateLimitStorage(cfg.Redis)))
	webhooks.Post("/ingest", webhookController.Ingest)
	webhooks.Post("/stripe", webhookController.Stripe)
	webhooks.Get("/whatsapp", webhookController.WhatsAppVerify)
	webhooks.Post("/whatsapp", webhookController.WhatsApp)
}

func SetupRoutes(app *fiber.App, db *gorm.DB, cfg config.Config, svc Services) {
	app.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins...)))
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	SetupAuthRoutes(app, db, cfg, svc)
	SetupWebhookRoutes(app, cfg, svc)
	SetupAPIRoutes(app, db, cfg, svc)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "The requested resource was not found", nil)
	})

	logrus.Info("Routes initialized successfully")
}
