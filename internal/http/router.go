package http

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"atelier/internal/config"
	"atelier/internal/metrics"
	"atelier/internal/notify"
	"atelier/internal/services"
)

type Server struct {
	app    *fiber.App
	config *config.Config
	logger *slog.Logger
}

// NewServer wires the fiber app. execErr carries a vision client
// construction failure; the server still starts so that health and
// metrics stay reachable, but submissions are rejected until the
// executor is configured.
func NewServer(cfg *config.Config, svc *services.JobService, bus *notify.Bus, execErr error, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		// A batch is up to maxBatchSize images of maxImageMB each;
		// per-file limits are enforced again in the upload handler.
		BodyLimit: cfg.Uploads.MaxBatchSize * cfg.Uploads.MaxImageMB * 1024 * 1024,
	})

	// Inject config and collaborators into context for handlers
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", cfg)
		c.Locals("service", svc)
		c.Locals("bus", bus)
		if execErr != nil {
			c.Locals("executor_err", execErr)
		}
		return c.Next()
	})

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		// Ensure a request ID exists
		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)
		if logger != nil {
			c.Locals("logger", logger)
		}

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		path := c.Path()

		metrics.RecordRequest(method, path, status, latency.Milliseconds())

		if logger != nil {
			logger.Info("request",
				"request_id", reqID,
				"method", method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}

		return err
	})

	// Health endpoints
	app.Get("/healthz", func(c *fiber.Ctx) error {
		// Shallow health: process is up
		if c.Query("deep") != "true" {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		// Deep health: report executor configuration and worker settings.
		executorStatus := "ok"
		if execErr != nil {
			executorStatus = "unconfigured"
		}

		status := "ok"
		if executorStatus != "ok" {
			status = "error"
		}

		return c.JSON(fiber.Map{
			"status":   status,
			"executor": executorStatus,
			"provider": cfg.LLM.DefaultProvider,
			"workers":  cfg.Worker.MaxConcurrentTasks,
		})
	})

	// Prometheus-style metrics endpoint
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("text/plain")
		return c.SendString(metrics.Export())
	})

	v1 := app.Group("/v1")
	registerV1Routes(v1)

	return &Server{
		app:    app,
		config: cfg,
		logger: logger,
	}
}

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func registerV1Routes(group fiber.Router) {
	group.Post("/jobs", jobsSubmitHandler)
	group.Get("/jobs/:id", jobStatusHandler)
	group.Get("/jobs/:id/stream", jobStreamHandler)
	group.Get("/jobs/:id/export", jobExportHandler)
}
