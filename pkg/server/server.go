// Package server exposes the processor over HTTP.
//
// Routes:
//
//	GET  /healthz                  liveness and build info
//	GET  /stats                    processor and cache statistics
//	GET  /quotes                   stored quotes
//	GET  /quotes/{slug}/image      render a stored quote
//	POST /render                   render a JSON request
//	POST /tasks                    enqueue a tracked render, returns 202
//	GET  /tasks/{id}               task status
//	GET  /tasks/{id}/image         result of a completed task
//
// Image routes accept width, height, format, quality, pixel_ratio and
// preserve_text query parameters. Errors are JSON objects with a code and a
// message that never exposes internal causes.
package server

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/quotecard/pkg/processor"
	"github.com/matzehuels/quotecard/pkg/quotes"
)

// Processor is the subset of *processor.Processor the server uses.
type Processor interface {
	ProcessImage(ctx context.Context, opts processor.ImageOptions) (*processor.Blob, error)
	Enqueue(opts processor.ImageOptions, priority int) *processor.Task
	ProcessTask(ctx context.Context, task *processor.Task) ([]byte, error)
	Task(id string) (processor.Task, bool)
	TaskResult(id string) (*processor.Blob, bool)
	Stats() processor.Stats
}

// Server routes HTTP requests to a Processor.
type Server struct {
	proc         Processor
	quotes       quotes.Source
	siteName     string
	cacheControl string
	maxBody      int64
	logger       *log.Logger
	router       chi.Router

	// Background tasks share one lifetime and a fixed number of slots.
	taskSlots chan struct{}
	tasksCtx  context.Context
	stopTasks context.CancelFunc
	tasksWG   sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithSiteName sets the site name drawn on cards that do not carry one.
func WithSiteName(name string) Option { return func(s *Server) { s.siteName = name } }

// WithCacheControl sets the Cache-Control header of image responses.
func WithCacheControl(v string) Option { return func(s *Server) { s.cacheControl = v } }

// WithTaskConcurrency bounds how many POST /tasks renders run at once.
func WithTaskConcurrency(n int) Option {
	return func(s *Server) { s.taskSlots = make(chan struct{}, max(n, 1)) }
}

// WithLogger sets the request logger.
func WithLogger(l *log.Logger) Option { return func(s *Server) { s.logger = l } }

// New creates a Server. src may be nil, in which case quote routes answer
// 404.
func New(proc Processor, src quotes.Source, opts ...Option) *Server {
	s := &Server{
		proc:         proc,
		quotes:       src,
		cacheControl: "public, max-age=86400",
		maxBody:      1 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	if s.taskSlots == nil {
		s.taskSlots = make(chan struct{}, processor.DefaultMaxConcurrent)
	}
	s.tasksCtx, s.stopTasks = context.WithCancel(context.Background())
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)

	r.Route("/quotes", func(r chi.Router) {
		r.Get("/", s.handleListQuotes)
		r.Get("/{slug}/image", s.handleQuoteImage)
	})
	r.Post("/render", s.handleRender)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.handleCreateTask)
		r.Get("/{id}", s.handleGetTask)
		r.Get("/{id}/image", s.handleTaskImage)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Config holds listener settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Close cancels background tasks and waits for them to return. Tasks that
// had not started are marked failed.
func (s *Server) Close() {
	s.closeOnce.Do(s.stopTasks)
	s.tasksWG.Wait()
}

// runTask processes task in the background once a slot is free.
func (s *Server) runTask(task *processor.Task) {
	s.tasksWG.Add(1)
	go func() {
		defer s.tasksWG.Done()
		select {
		case s.taskSlots <- struct{}{}:
			defer func() { <-s.taskSlots }()
		case <-s.tasksCtx.Done():
		}
		if _, err := s.proc.ProcessTask(s.tasksCtx, task); err != nil {
			s.logger.Warn("Task failed", "task", task.ID, "err", err)
		}
	}()
}

// ListenAndServe serves until ctx is done, then shuts down gracefully and
// stops background tasks.
func (s *Server) ListenAndServe(ctx context.Context, cfg Config) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("Listening", "addr", cfg.Addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Millisecond),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
