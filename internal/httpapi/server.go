package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/formloop/genwatch/internal/observer"
)

type Server struct {
	controller *observer.Controller

	scheduleExpr string

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithScheduleExpr exposes the auto-generation cron expression on the
// schedule endpoint.
func WithScheduleExpr(expr string) Option {
	return func(s *Server) {
		s.scheduleExpr = expr
	}
}

func NewServer(controller *observer.Controller, opts ...Option) *Server {
	s := &Server{
		controller: controller,
		mux:        http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/watch", s.handleWatchList)
	s.mux.HandleFunc("/api/watch/stream", s.handleWatchStream)
	s.mux.HandleFunc("/api/watch/", s.handleWatchItem)
	s.mux.HandleFunc("/api/generate", s.handleGenerate)
	s.mux.HandleFunc("/api/schedule", s.handleSchedule)
}
