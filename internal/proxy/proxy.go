// Package proxy serves the backend API under /api on a local origin, the
// way the web client reaches it, and exposes client metrics at /metrics.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/valter-silva-au/memory-talk/internal/observability"
	"go.uber.org/zap"
)

// APIPrefix is the mount point of the proxied API.
const APIPrefix = "/api"

// Options configures the proxy.
type Options struct {
	// Target is the backend origin, e.g. http://127.0.0.1:8000.
	Target  string
	Logger  *zap.Logger
	Metrics *observability.ClientMetrics
}

// NewHandler returns a handler that forwards /api/* to the target with the
// /api prefix removed and the Host header rewritten to the target.
// Responses are flushed as they arrive so streamed replies pass through.
func NewHandler(opts Options) (http.Handler, error) {
	target, err := url.Parse(opts.Target)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy target %q: %w", opts.Target, err)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("proxy target %q must be an absolute http(s) URL", opts.Target)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
		},
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Warn("upstream request failed", zap.String("path", r.URL.Path), zap.Error(err))
			writeJSON(w, http.StatusBadGateway, map[string]string{"message": "backend unavailable: " + err.Error()})
		},
	}

	mux := http.NewServeMux()
	api := http.StripPrefix(APIPrefix, rp)
	mux.Handle(APIPrefix+"/", logRequests(logger, opts.Metrics, api))
	mux.Handle(APIPrefix, logRequests(logger, opts.Metrics, rootRewrite(rp)))
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics.Handler())
	}
	return mux, nil
}

// rootRewrite maps the bare mount point to the backend root.
func rootRewrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/"
		r2.URL.RawPath = ""
		next.ServeHTTP(w, r2)
	})
}

// statusRecorder captures the status code while keeping Flush available.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// logRequests writes one line per request: method, original path, status
// and duration.
func logRequests(logger *zap.Logger, metrics *observability.ClientMetrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := r.URL.Path
		rec := &statusRecorder{ResponseWriter: w}
		if metrics != nil {
			metrics.ProxyInFlight.Inc()
			defer metrics.ProxyInFlight.Dec()
		}

		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		d := time.Since(start)
		if metrics != nil {
			metrics.ObserveProxy(r.Method, status, d)
		}
		logger.Info(fmt.Sprintf("%s %s %d %dms", r.Method, path, status, d.Milliseconds()),
			zap.String("method", r.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", d),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Server runs the proxy until its context ends.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer creates a proxy server listening on addr.
func NewServer(addr string, opts Options) (*Server, error) {
	h, err := NewHandler(opts)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}, nil
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("proxy listening", zap.String("addr", s.httpServer.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("proxy server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down proxy: %w", err)
		}
		return nil
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
