package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// defaultShutdownGrace is the bounded grace period in-flight requests
// get before the listener supervisor aborts them (§4.7).
const defaultShutdownGrace = 30 * time.Second

// Server composes the top-level request routing tree (C8) and
// supervises the cleartext/TLS listeners and the redirector (C7).
type Server struct {
	cfg     *Config
	proxy   *Proxy
	health  *HealthChecker
	logger  Logger
	mux     *http.ServeMux
	version string

	mu        sync.Mutex
	cleartext *http.Server
	tlsServer *http.Server
}

// NewServer wires the top-level mux: /health, /health/live,
// /health/ready route to the health checker; everything else falls
// through to the proxy (§4.8).
func NewServer(cfg *Config, proxy *Proxy, health *HealthChecker, logger Logger, version string) *Server {
	if logger == nil {
		logger = &NoOpLogger{}
	}

	s := &Server{
		cfg:     cfg,
		proxy:   proxy,
		health:  health,
		logger:  logger,
		mux:     http.NewServeMux(),
		version: version,
	}

	s.mux.HandleFunc("/health", health.HealthHandler)
	s.mux.HandleFunc("/health/live", health.LiveHandler)
	s.mux.HandleFunc("/health/ready", health.ReadyHandler)
	s.mux.Handle("/", proxy)

	return s
}

// Handler returns the fully composed handler (mux wrapped with
// cross-cutting middleware), exported mainly for tests.
func (s *Server) Handler() http.Handler {
	return withMiddleware(s.mux, s.logger)
}

// withMiddleware applies the cross-cutting concerns of §4.8: a
// request-id tag (falling back to a generated uuid), request/response
// size logging, and a panic catcher that maps to 500.
func withMiddleware(next http.Handler, logger Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") == "" {
			r.Header.Set("X-Request-ID", uuid.NewString())
		}

		sw := &sizeCapturingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered",
					"request_id", r.Header.Get("X-Request-ID"),
					"panic", fmt.Sprintf("%v", rec),
					"path", r.URL.Path)
				if !sw.wroteHeader {
					writeProblem(w, ErrorInternal, r.Header.Get("X-Request-ID"), "")
				}
			}
		}()

		next.ServeHTTP(sw, r)

		logger.Debug("request served",
			"request_id", r.Header.Get("X-Request-ID"),
			"path", r.URL.Path,
			"status", sw.statusCode,
			"request_bytes", r.ContentLength,
			"response_bytes", sw.bytesOut)
	})
}

// sizeCapturingResponseWriter tracks bytes written and status for the
// size-logging middleware.
type sizeCapturingResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	bytesOut    int64
	wroteHeader bool
}

func (w *sizeCapturingResponseWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.statusCode = statusCode
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *sizeCapturingResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesOut += int64(n)
	return n, err
}

func (w *sizeCapturingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Run starts the cleartext listener, the TLS listener (if enabled),
// and — if TLS is enabled with redirect_http — turns the cleartext
// listener into a pure redirector, per §4.7. It blocks until ctx is
// cancelled, then drains in-flight requests for defaultShutdownGrace
// before returning.
func (s *Server) Run(ctx context.Context) error {
	handler := s.Handler()

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	tlsEnabled := s.cfg.Server.TLS.Enabled

	cleartextHandler := handler
	if tlsEnabled && s.cfg.Server.TLS.RedirectCleartext {
		cleartextHandler = s.redirector()
	} else {
		// h2c: accept HTTP/2 prior-knowledge connections on the
		// cleartext listener, not just HTTP/1.1, mirroring the
		// teacher pack's cleartext-H2 listeners.
		cleartextHandler = h2c.NewHandler(cleartextHandler, &http2.Server{})
	}

	s.mu.Lock()
	s.cleartext = &http.Server{
		Addr:    net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port)),
		Handler: cleartextHandler,
	}
	s.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("cleartext listener starting", "addr", s.cleartext.Addr)
		if err := s.cleartext.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("cleartext listener: %w", err)
		}
	}()

	if tlsEnabled {
		tlsConfig, err := LoadServerTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("load TLS config: %w", err)
		}

		s.mu.Lock()
		s.tlsServer = &http.Server{
			Addr:      net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.TLS.Port)),
			Handler:   handler,
			TLSConfig: tlsConfig,
		}
		s.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.logger.Info("TLS listener starting", "addr", s.tlsServer.Addr)
			if err := s.tlsServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("TLS listener: %w", err)
			}
		}()
	}

	s.health.Start(ctx)

	select {
	case <-ctx.Done():
	case err := <-errs:
		s.shutdown()
		return err
	}

	s.shutdown()
	wg.Wait()
	return nil
}

func (s *Server) shutdown() {
	s.health.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownGrace)
	defer cancel()

	s.mu.Lock()
	cleartext, tlsServer := s.cleartext, s.tlsServer
	s.mu.Unlock()

	if cleartext != nil {
		_ = cleartext.Shutdown(shutdownCtx)
	}
	if tlsServer != nil {
		_ = tlsServer.Shutdown(shutdownCtx)
	}

	s.proxy.Close()
}

// redirector builds the 308-redirect handler used on the cleartext
// listener when TLS + redirect_http are both enabled (§4.7, §6).
func (s *Server) redirector() http.Handler {
	tlsPort := s.cfg.Server.TLS.Port
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := hostWithoutPort(r.Host)
		authority := host
		if tlsPort != 443 {
			authority = net.JoinHostPort(host, strconv.Itoa(tlsPort))
		}

		target := "https://" + authority + r.URL.Path
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}

		w.Header().Set("Location", target)
		w.WriteHeader(http.StatusPermanentRedirect)
	})
}
