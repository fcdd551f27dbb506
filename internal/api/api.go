// Package api exposes the workflow and run surface over HTTP.
package api

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/robfig/cron/v3"

	"github.com/mbracero/fresco/internal/store"
	"github.com/mbracero/fresco/internal/streaming"
	"github.com/mbracero/fresco/internal/validation"
)

// API is the HTTP server over the store, the run service, and the event hub.
type API struct {
	logger     *slog.Logger
	store      store.Store
	events     *store.EventLog
	runs       *RunService
	hub        streaming.EventHub
	validator  validation.Validator
	validate   *validator.Validate
	cronParser cron.Parser
}

// NewAPI creates an API server.
func NewAPI(
	logger *slog.Logger,
	st store.Store,
	runs *RunService,
	hub streaming.EventHub,
	graphValidator validation.Validator,
) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		logger:     logger,
		store:      st,
		events:     store.NewEventLog(st),
		runs:       runs,
		hub:        hub,
		validator:  graphValidator,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// App builds the fiber application with all routes registered.
func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("FRESCO API")
	})

	w := app.Group("/workflows")
	w.Get("/", a.ListWorkflows)
	w.Post("/", a.CreateWorkflow)
	w.Get("/:id", a.GetWorkflow)
	w.Delete("/:id", a.DeleteWorkflow)
	w.Get("/:id/diagram", a.WorkflowDiagram)

	r := app.Group("/runs")
	r.Get("/", a.ListRuns)
	r.Post("/", a.StartRun)
	r.Get("/:id", a.GetRun)
	r.Delete("/:id", a.CancelRun)
	r.Get("/:id/events", a.RunEvents)

	j := app.Group("/jobs")
	j.Get("/", a.ListJobs)
	j.Post("/", a.CreateJob)
	j.Get("/:id", a.GetJob)
	j.Delete("/:id", a.DeleteJob)

	return app
}

// Start builds the app and listens on the given port.
func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
