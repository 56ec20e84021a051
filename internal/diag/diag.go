// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package diag serves the composer state and metrics over HTTP.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/ovcomp/internal/hwc"
	xglog "github.com/ManuGH/ovcomp/internal/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Source is the state the endpoints expose. *hwc.Composer implements it.
type Source interface {
	Snapshot() hwc.Snapshot
	DumpState() string
}

// Options configures the router.
type Options struct {
	// RequestLimit and Window bound the state endpoints per client IP.
	RequestLimit int
	Window       time.Duration
	// Metrics serves /metrics; nil uses the default registry.
	Metrics http.Handler
}

const shutdownTimeout = 5 * time.Second

// NewRouter returns the diagnostics handler.
func NewRouter(src Source, opts Options, logger zerolog.Logger) http.Handler {
	if opts.RequestLimit <= 0 {
		opts.RequestLimit = 60
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}
	logger = logger.With().Str(xglog.FieldComponent, "diag").Logger()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(accessLog(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", opts.Metrics)

	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(
			opts.RequestLimit,
			opts.Window,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(opts.Window.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
			}),
		))
		r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(src.Snapshot()); err != nil {
				logger.Warn().Err(err).Str("event", "diag.encode_failed").Msg("failed to write state")
			}
		})
		r.Get("/dump", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte(src.DumpState()))
		})
	})
	return r
}

func accessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("event", "diag.request").
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("diagnostics request")
		})
	}
}

// Server is a diagnostics listener.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger zerolog.Logger
}

// Listen binds addr. Serve must be called to accept connections.
func Listen(addr string, h http.Handler, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Server{
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		ln:     ln,
		logger: logger.With().Str(xglog.FieldComponent, "diag").Logger(),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve accepts connections until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(s.ln) }()
	s.logger.Info().Str("event", "diag.listen").Str("addr", s.Addr()).Msg("diagnostics listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("diagnostics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown diagnostics server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("diagnostics server: %w", err)
	}
	s.logger.Info().Str("event", "diag.stopped").Msg("diagnostics stopped")
	return nil
}
