// SPDX-License-Identifier: MPL-2.0

package uiserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/invowk/msrun/internal/core/serverbase"
	"github.com/invowk/msrun/internal/issue"
	"github.com/invowk/msrun/internal/metrics"
	"github.com/invowk/msrun/internal/session"
)

const (
	// DefaultAddr listens on a random loopback port.
	DefaultAddr = "127.0.0.1:0"

	shutdownTimeout = 5 * time.Second
	tokenBytes      = 32
)

type (
	// Option configures a Server.
	Option func(*Server)

	// Server serves one session over HTTP.
	Server struct {
		*serverbase.Base

		sess     *session.Session
		hub      *hub
		router   chi.Router
		http     *http.Server
		listener net.Listener
		addr     string
		token    string
		origins  []string
		logger   *log.Logger
		metrics  *metrics.Metrics
	}
)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithToken sets the bearer token instead of generating one.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithAllowedOrigins sets the CORS origins allowed to call the API.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		s.logger = l.WithPrefix("ui")
	}
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a server for sess. It does not listen until Start.
func New(sess *session.Session, opts ...Option) (*Server, error) {
	s := &Server{
		Base:    serverbase.NewBase(1),
		sess:    sess,
		hub:     newHub(),
		addr:    DefaultAddr,
		origins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		logger:  log.NewWithOptions(os.Stderr, log.Options{Prefix: "ui", Level: log.WarnLevel}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.token == "" {
		token, err := generateToken(tokenBytes)
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}
		s.token = token
	}
	s.router = s.routes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Start listens and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Begin(ctx); err != nil {
		return err
	}

	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		err = issue.NewErrorContext().
			WithOperation("start UI server").
			WithResource(s.addr).
			WithIssue(issue.UIServerStartFailedId).
			WithSuggestion("Pick a free address with --addr").
			Wrap(err).
			BuildError()
		s.Fail(err)
		return err
	}
	s.listener = l
	s.addr = l.Addr().String()

	s.Go(func(context.Context) {
		if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve", "error", err)
			s.SendError(err)
		}
	})
	s.Go(s.pump)
	s.Serve()
	s.logger.Info("UI server started", "url", s.URL())
	return nil
}

// Stop disconnects event streams and shuts the listener down.
func (s *Server) Stop() error {
	if !s.Drain() {
		return nil
	}
	s.hub.close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.http.Shutdown(ctx)
	s.Wait()
	s.Stopped()
	return err
}

// Addr returns the listen address. After Start it holds the bound port.
func (s *Server) Addr() string { return s.addr }

// URL returns the base URL of the server.
func (s *Server) URL() string { return "http://" + s.addr }

// Token returns the bearer token API clients must send.
func (s *Server) Token() string { return s.token }

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.router }

// pump forwards session notifications to the event-stream clients.
func (s *Server) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.sess.Notifications():
			if dropped := s.hub.broadcast(n); dropped > 0 {
				s.logger.Warn("slow event clients", "room", n.Room, "dropped", dropped)
			}
		}
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	r.Route("/api", func(r chi.Router) {
		r.Use(bearerAuth(s.token))
		r.Get("/events", s.handleEvents)
		r.Get("/instance", s.handleInstance)
		r.Post("/{room}", s.handleRoom)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start).Round(time.Microsecond),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
