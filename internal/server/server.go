// Package server implements the HTTP API over the image registry. Every
// mounted image is addressed by name below /images/:name and the engine's
// error taxonomy is mapped onto HTTP status codes.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/desertwitch/imgfs/internal/monitoring"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

// Server wraps the HTTP router and its dependencies.
type Server struct {
	router   *gin.Engine
	handlers *Handlers
	metrics  *monitoring.Metrics
}

// NewServer returns a pointer to a new [Server] serving the images of
// registry. The per-image collector is registered with metrics.
func NewServer(registry imageRegistry, metrics *monitoring.Metrics) (*Server, error) {
	if err := metrics.Register(monitoring.NewImageCollector(registry)); err != nil {
		return nil, fmt.Errorf("(server-new) failed to register collector: %w", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))

	handlers := NewHandlers(registry, metrics)

	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/images", handlers.ListImages)
	router.POST("/images", handlers.CreateImage)
	router.POST("/images/upload", handlers.UploadImage)
	router.DELETE("/images/:name", handlers.DeleteImage)
	router.GET("/images/:name/download", handlers.DownloadImage)
	router.POST("/images/:name/mount", handlers.MountImage)
	router.POST("/images/:name/unmount", handlers.UnmountImage)

	router.GET("/images/:name/ls", handlers.List)
	router.GET("/images/:name/tree", handlers.Tree)
	router.POST("/images/:name/mkdir", handlers.Mkdir)
	router.POST("/images/:name/touch", handlers.Touch)
	router.POST("/images/:name/write", handlers.Write)
	router.POST("/images/:name/truncate", handlers.Truncate)
	router.GET("/images/:name/read", handlers.Read)
	router.DELETE("/images/:name/rm", handlers.Remove)
	router.GET("/images/:name/info", handlers.Info)
	router.GET("/images/:name/stats", handlers.Stats)
	router.GET("/images/:name/check", handlers.Check)
	router.GET("/images/:name/raw", handlers.Raw)

	return &Server{
		router:   router,
		handlers: handlers,
		metrics:  metrics,
	}, nil
}

// Handler returns the router as an [http.Handler].
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts the listener down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second, //nolint:mnd
	}

	errChan := make(chan error, 1)

	go func() {
		slog.Info("Starting HTTP server.", "addr", addr)
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("(server-run) %w", err)

	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("(server-run) failed to shut down: %w", err)
	}

	if err := <-errChan; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("(server-run) %w", err)
	}

	return nil
}
