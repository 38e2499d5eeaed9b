package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prerender/prerender-go/internal/config"
	applog "github.com/prerender/prerender-go/internal/log"
	"github.com/prerender/prerender-go/internal/rule"
	"github.com/prerender/prerender-go/internal/statistics"
)

const shutdownTimeout = 5 * time.Second

// APIServer is the admin surface: version, effective configuration, compiled
// rules, statistics, live logs and pprof.
type APIServer struct {
	version        string
	cfg            *config.Config
	rules          *rule.RuleSet
	recorder       *statistics.Recorder
	logBroadcaster *applog.Broadcaster

	httpServer *http.Server
}

func New(version string, cfg *config.Config, rules *rule.RuleSet, recorder *statistics.Recorder, lb *applog.Broadcaster) *APIServer {
	s := &APIServer{
		version:        version,
		cfg:            cfg,
		rules:          rules,
		recorder:       recorder,
		logBroadcaster: lb,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.APIServer,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *APIServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", s.handlePing)

	r.Group(func(r chi.Router) {
		if s.cfg.APIServerSecret != "" {
			r.Use(s.authMiddleware)
		}
		r.Get("/version", s.handleVersion)
		r.Get("/config", s.handleConfig)
		r.Get("/rules", s.handleRules)
		r.Get("/stats", s.handleStats)
		r.Get("/logs", s.handleLogs)
		r.Mount("/debug", middleware.Profiler())
	})
	return r
}

// Start listens on the configured address and serves in the background.
// The log stream keeps connections open, so no write timeout is set.
func (s *APIServer) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("api server listen on %s: %w", s.httpServer.Addr, err)
	}
	slog.Info("api server listening", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server stopped", slog.Any("error", err))
		}
	}()
	return nil
}

func (s *APIServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			slog.Debug("api request",
				slog.String("id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote", r.RemoteAddr),
				slog.Int("status", ww.Status()),
				slog.Duration("elapsed", time.Since(start)),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// authMiddleware accepts the secret as a bearer token, a bare Authorization
// value or a ?secret= query parameter.
func (s *APIServer) authMiddleware(next http.Handler) http.Handler {
	secret := []byte(s.cfg.APIServerSecret)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if presented == "" {
			presented = r.URL.Query().Get("secret")
		}
		if subtle.ConstantTimeCompare([]byte(presented), secret) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
