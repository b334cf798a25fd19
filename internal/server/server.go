// Package server exposes the RAG service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ragchat/internal/logger"
	"ragchat/internal/service"
	"ragchat/internal/upload"
)

// Config holds the listener settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	cfg    Config
	svc    *service.RAGService
	loader *upload.Loader
	log    logger.Logger
	router *gin.Engine
}

// New builds the router over svc. A nil log uses the default logger.
func New(cfg Config, svc *service.RAGService, loader *upload.Loader, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetDefault()
	}
	s := &Server{cfg: cfg, svc: svc, loader: loader, log: log}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(s.log))

	router.GET("/healthz", handleHealth)
	api := router.Group("/api/rag")
	api.POST("/upload", s.handleUpload)
	api.POST("/query", s.handleQuery)
	api.GET("/models", s.handleModels)
	api.GET("/sources", s.handleListSources)
	api.DELETE("/sources/:name", s.handleDeleteSource)
	return router
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr is the address Run listens on.
func (s *Server) Addr() string { return s.cfg.Addr }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", "address", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server: listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	s.log.Debug("received shutdown signal, initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info("server shutdown completed")
	return nil
}
