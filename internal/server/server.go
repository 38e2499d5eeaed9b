package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prerender/prerender-go/internal/config"
)

type Server interface {
	Start() error
	Close() error
}

// HostServer serves the static application directory with the prerender
// middleware in front of it.
type HostServer struct {
	cfg        *config.Config
	prerender  func(http.Handler) http.Handler
	httpServer *http.Server
	addr       net.Addr
}

func New(cfg *config.Config, prerender func(http.Handler) http.Handler) *HostServer {
	return &HostServer{
		cfg:       cfg,
		prerender: prerender,
	}
}

func (s *HostServer) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(accessLogMiddleware)
	if s.prerender != nil {
		r.Use(s.prerender)
	}

	spa := SPAHandler(s.cfg.Root, s.cfg.Index)
	r.Get("/*", spa.ServeHTTP)
	r.Head("/*", spa.ServeHTTP)
	return r
}

func (s *HostServer) Start() error {
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("host server listen failed: %w", err)
	}
	s.addr = ln.Addr()

	slog.Info("host server started",
		slog.String("addr", s.addr.String()),
		slog.String("root", s.cfg.Root))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("host server error", slog.Any("error", err))
		}
	}()
	return nil
}

// Addr is the bound listen address once Start has returned.
func (s *HostServer) Addr() net.Addr {
	return s.addr
}

func (s *HostServer) Close() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("host server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("host server request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
			slog.String("user-agent", r.UserAgent()),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
