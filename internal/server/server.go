package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledger-processor/internal/config"
	"github.com/congo-pay/ledger-processor/internal/routes"
)

// Server wraps the Fiber application serving health, metrics and balance reads.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, deps routes.Deps) *Server {
	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		DisableStartupMessage: true,
	})
	routes.Setup(app, deps)
	return &Server{app: app, cfg: cfg}
}

// Run serves until ctx is cancelled, then shuts down within the configured period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(s.cfg.Address())
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownPeriod)
	defer cancel()
	return s.app.ShutdownWithContext(shutdownCtx)
}
