package gateway

import (
	"context"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/google/uuid"
)

// contextKey avoids collisions with other packages' context values.
type contextKey int

const (
	ctxKeySuffix contextKey = iota
	ctxKeyRequestID
)

// Proxy is the per-request pipeline of §4.5: match, transform,
// dispatch, relay, with the error mapping of §7.
type Proxy struct {
	table     *RouteTable
	upstream  *UpstreamClient
	logger    Logger
	listenerT time.Duration
}

// NewProxy builds a Proxy from a compiled route table and the
// process-wide upstream client. One httputil.ReverseProxy is wired per
// route, all sharing the same underlying transport, mirroring the
// teacher's per-route Director/Transport pairing while routing
// dispatch through the shared client instead of a route-owned one.
func NewProxy(cfg *Config, table *RouteTable, upstream *UpstreamClient, logger Logger) *Proxy {
	if logger == nil {
		logger = &NoOpLogger{}
	}

	p := &Proxy{
		table:     table,
		upstream:  upstream,
		logger:    logger,
		listenerT: time.Duration(cfg.Server.TimeoutMs) * time.Millisecond,
	}

	for _, route := range table.routes {
		route.reverseProxy = p.buildReverseProxy(route)
	}

	return p
}

func (p *Proxy) buildReverseProxy(route *Route) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			p.direct(req, route)
		},
		Transport:    p.upstream.transport,
		ErrorHandler: p.handleDispatchError,
		ModifyResponse: func(resp *http.Response) error {
			resp.Header = prepareResponseHeaders(resp.Header)
			return nil
		},
	}
}

// direct rewrites the request for dispatch to route's upstream,
// per §4.5 steps 3-4.
func (p *Proxy) direct(req *http.Request, route *Route) {
	suffix, _ := req.Context().Value(ctxKeySuffix).(string)

	inHost := req.Host
	scheme := inboundScheme(req)

	req.Header = prepareUpstreamHeaders(req.Header, route.config, scheme, inHost)

	req.URL.Scheme = route.upstream.Scheme
	req.URL.Host = route.upstream.Host
	req.URL.Path = route.rewritePath(req.URL.Path, suffix)
	// RawQuery is untouched: the original query string is always
	// preserved verbatim (§4.3).

	if route.config.PreserveHost {
		req.Host = inHost
	} else {
		req.Host = route.upstream.Host
	}
}

// ServeHTTP implements http.Handler — the fallback handler of C8 for
// every request that does not match a health-surface path.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	disp := p.table.Match(r.Method, r.Host, r.URL.Path)

	if disp.Route == nil {
		if disp.MethodRejected {
			p.logger.Debug("method rejected", "path", r.URL.Path, "method", r.Method)
			writeProblem(w, ErrorMethodNotAllowed, requestID, disp.AllowedMethods)
			recordResponse("", r.Method, http.StatusMethodNotAllowed, time.Since(start))
			return
		}
		p.logger.Debug("no route matched", "path", r.URL.Path, "method", r.Method)
		writeProblem(w, ErrorNoRoute, requestID, "")
		recordResponse("", r.Method, http.StatusNotFound, time.Since(start))
		return
	}

	route := disp.Route
	routeLabel := route.config.Path

	timeout := route.TimeoutOrDefault(p.listenerT)
	ctx := r.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx = context.WithValue(ctx, ctxKeySuffix, disp.Suffix)
	ctx = context.WithValue(ctx, ctxKeyRequestID, requestID)
	r = r.WithContext(ctx)

	sw := &statusCapturingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
	sw.Header().Set("X-Request-ID", requestID)

	recordRequest(routeLabel, r.Method)

	route.reverseProxy.ServeHTTP(sw, r)

	duration := time.Since(start)
	recordDuration(routeLabel, r.Method, duration)
	recordResponse(routeLabel, r.Method, sw.statusCode, duration)

	logCompletion(p.logger, routeLabel, r, sw.statusCode, duration)
}

// handleDispatchError implements the §7 error-mapping table for
// failures that occur during dispatch (connect, TLS, timeout,
// malformed response) or on client disconnect.
func (p *Proxy) handleDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	requestID, _ := r.Context().Value(ctxKeyRequestID).(string)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if r.Context().Err() == context.Canceled {
		p.logger.Debug("client disconnected mid-request", "request_id", requestID)
		return
	}

	kind := classifyDispatchError(err)
	if r.Context().Err() == context.DeadlineExceeded {
		kind = ErrorUpstreamTimeout
	}

	p.logger.Warn("upstream dispatch failed",
		"request_id", requestID,
		"error_kind", string(kind),
		"error", err.Error())

	recordUpstreamError(r.URL.Path)
	writeProblem(w, kind, requestID, "")
}

// statusCapturingResponseWriter wraps http.ResponseWriter to capture
// the status code written, for metrics and completion logging.
type statusCapturingResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *statusCapturingResponseWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.statusCode = statusCode
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusCapturingResponseWriter) Write(data []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(data)
}

// Flush implements http.Flusher so streamed responses (§4.5 step 6,
// §9 "back-pressure") are not buffered by this wrapper.
func (w *statusCapturingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func logCompletion(logger Logger, route string, r *http.Request, status int, duration time.Duration) {
	fields := []interface{}{
		"route", route,
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"duration_ms", duration.Milliseconds(),
		"remote_addr", r.RemoteAddr,
	}
	switch {
	case status >= 500:
		logger.Error("request completed", fields...)
	case status >= 400:
		logger.Warn("request completed", fields...)
	default:
		logger.Debug("request completed", fields...)
	}
}

// Close releases the proxy's upstream connections.
func (p *Proxy) Close() {
	p.upstream.Close()
}
