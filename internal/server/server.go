package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xaenox/abap-agent/internal/backend"
)

const serviceName = "ABAP Agent API"

type Options struct {
	Version          string
	Origins          []string
	Development      bool
	MaxFileSize      int64
	AllowedFileTypes []string
}

type Server struct {
	backend backend.Backend
	opts    Options
	logger  *zap.Logger
}

func New(b backend.Backend, opts Options, logger *zap.Logger) *Server {
	return &Server{
		backend: b,
		opts:    opts,
		logger:  logger,
	}
}

// Handler wires the routes with the full middleware chain. Thread routes
// exist only when the backend keeps remote threads.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, Metrics(pattern, h))
	}

	route("GET /{$}", s.handleRoot)
	route("GET /api/health", s.handleHealth)
	route("POST /api/chat", s.handleChat)
	route("POST /api/upload", s.handleUpload)

	if threads, ok := s.backend.(backend.Threads); ok {
		route("POST /api/threads", s.handleCreateThread(threads))
		route("GET /api/threads/{thread_id}/messages", s.handleListMessages(threads))
		route("DELETE /api/threads/{thread_id}", s.handleDeleteThread)
	}

	mux.Handle("GET /metrics", promhttp.Handler())

	return Chain(mux, s.opts, s.logger)
}
