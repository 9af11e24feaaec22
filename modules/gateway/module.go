package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-monolith/mono"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/example/campus-presence/modules/history"
	"github.com/example/campus-presence/modules/presence"
)

// Module is the transport edge: the Fiber app serving the /ws endpoint and
// the REST history side channel. It owns the connection table the relay
// fans out through.
type Module struct {
	app            *fiber.App
	conns          *ConnTable
	core           *presence.Module
	relay          *presence.Relay
	lifecycle      *presence.Lifecycle
	historyAdapter history.HistoryPort
	port           string
	logger         *slog.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.DependentModule       = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new gateway module.
func NewModule() *Module {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	logger := slog.Default().With(slog.String("component", "gateway"))
	return &Module{
		conns:  NewConnTable(logger),
		port:   port,
		logger: logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "gateway"
}

// Dependencies returns the list of module dependencies.
func (m *Module) Dependencies() []string {
	return []string{"history"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "history":
		m.historyAdapter = history.NewHistoryAdapter(container)
	}
}

// SetCore injects the presence module (called from main.go; the relay is
// not exposed via ServiceContainer).
func (m *Module) SetCore(core *presence.Module) {
	m.core = core
}

// Conns returns the connection table, which the presence module uses as its
// outbound sender.
func (m *Module) Conns() *ConnTable {
	return m.conns
}

// Start initializes the Fiber server.
func (m *Module) Start(_ context.Context) error {
	if m.core == nil {
		return fmt.Errorf("presence core dependency not set")
	}
	if m.historyAdapter == nil {
		return fmt.Errorf("history adapter dependency not set")
	}
	m.relay = m.core.Relay()
	m.lifecycle = m.core.Lifecycle()
	if m.relay == nil || m.lifecycle == nil {
		return fmt.Errorf("presence core not started")
	}

	m.app = fiber.New(fiber.Config{
		AppName:               "Campus Presence Gateway",
		DisableStartupMessage: true,
		ErrorHandler:          m.errorHandler,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	m.app.Use(recover.New())
	m.app.Use(requestLogger(m.logger))

	allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000,http://localhost:8080"
	}
	m.app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	m.setupRoutes()

	// Start server in goroutine with startup error detection
	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listen(":" + m.port); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
		// Server started successfully
	}

	m.logger.Info("Gateway started", "port", m.port)
	return nil
}

// Stop shuts down the server and closes remaining connections.
func (m *Module) Stop(ctx context.Context) error {
	m.conns.CloseAll()
	if m.app != nil {
		if err := m.app.ShutdownWithContext(ctx); err != nil {
			return fmt.Errorf("failed to shutdown gateway: %w", err)
		}
	}
	m.logger.Info("Gateway stopped")
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: map[string]any{
			"port":              m.port,
			"connected_clients": m.conns.Count(),
		},
	}
}

// errorHandler handles Fiber errors globally.
func (m *Module) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}

// requestLogger returns a Fiber middleware for request logging.
func requestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip logging for WebSocket upgrade requests
		if c.Get("Upgrade") == "websocket" {
			return c.Next()
		}
		err := c.Next()
		logger.Info("request",
			"method", c.Method(), "path", c.Path(),
			"status", c.Response().StatusCode())
		return err
	}
}
