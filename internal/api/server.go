// Package api is the dashboard surface: a thin HTTP shell over the
// pipeline core and the record store.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"wallpipe/internal/config"
	"wallpipe/internal/domain"
	"wallpipe/internal/store"
)

// Runner is the pipeline entry point the server drives.
type Runner interface {
	Run(ctx context.Context, opts domain.RunOptions) ([]domain.PipelineRecord, error)
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	config     *config.Config
	router     http.Handler
	httpServer *http.Server
	runner     Runner
	records    store.Store
	logger     *zap.Logger

	// runMu serializes pipeline runs: the store file has no locking and
	// concurrent runs against it would race.
	runMu sync.Mutex
}

func NewServer(cfg *config.Config, runner Runner, records store.Store, logger *zap.Logger) *Server {
	s := &Server{
		config:  cfg,
		runner:  runner,
		records: records,
		logger:  logger,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Minute, // a run can take a while
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }
