package admin

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/entgraph/discovery/internal/scheduler"
	"github.com/entgraph/discovery/pkg/logger"
	"github.com/entgraph/discovery/pkg/provider"
)

// Reloader produces a fresh provider list from the configured source, for
// the reload endpoint.
type Reloader func(ctx context.Context) ([]provider.Provider, error)

// Server is the operator-facing HTTP surface: health, provider inspection,
// config reload and manual runs. It is read-mostly and guarded by a static
// bearer key.
type Server struct {
	echo         *echo.Echo
	orchestrator *scheduler.Orchestrator
	reload       Reloader
	apiKey       string
}

// NewServer wires the admin routes around a running orchestrator. The reload
// hook may be nil, in which case POST /api/reload responds 501.
func NewServer(orchestrator *scheduler.Orchestrator, reload Reloader, apiKey string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:         e,
		orchestrator: orchestrator,
		reload:       reload,
		apiKey:       apiKey,
	}

	e.Use(middleware.Recover())

	e.GET("/health", s.health)

	api := e.Group("/api", s.authMiddleware)
	api.GET("/providers", s.listProviders)
	api.POST("/reload", s.reloadProviders)
	api.POST("/run/:name", s.runProvider)

	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) {
	go func() {
		logger.Info("starting admin server", "addr", addr)
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down admin server", "err", err)
	}
}

func (s *Server) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if s.apiKey == "" || token != s.apiKey {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		return next(c)
	}
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type providerInfo struct {
	Name      string   `json:"name"`
	Namespace string   `json:"namespace"`
	Every     int      `json:"every"`
	Shape     string   `json:"shape"`
	Kinds     []string `json:"kinds"`
}

func (s *Server) listProviders(c echo.Context) error {
	providers := s.orchestrator.Providers()
	out := make([]providerInfo, 0, len(providers))
	for _, p := range providers {
		kinds := []string{}
		for _, def := range p.Definitions() {
			kinds = append(kinds, def.Kind)
		}
		out = append(out, providerInfo{
			Name:      p.Name(),
			Namespace: p.Namespace(),
			Every:     int(p.Interval().Seconds()),
			Shape:     provider.ShapeOf(p).String(),
			Kinds:     kinds,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"providers": out})
}

func (s *Server) reloadProviders(c echo.Context) error {
	if s.reload == nil {
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": "no reloadable config source"})
	}

	providers, err := s.reload(c.Request().Context())
	if err != nil {
		logger.Error("reload failed", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	changed := s.orchestrator.Reload(providers)
	return c.JSON(http.StatusOK, map[string]any{
		"changed":   changed,
		"providers": len(providers),
	})
}

func (s *Server) runProvider(c echo.Context) error {
	name := c.Param("name")
	if err := s.orchestrator.RunProvider(c.Request().Context(), name); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"provider": name, "status": "ran"})
}
