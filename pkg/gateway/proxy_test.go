package gateway_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ferragate/ferragate/pkg/gateway"
)

func newTestProxy(t *testing.T, cfg *gateway.Config) *gateway.Proxy {
	t.Helper()

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	table, err := gateway.NewRouteTable(cfg.Routes)
	if err != nil {
		t.Fatalf("new route table: %v", err)
	}

	upstream, err := gateway.NewUpstreamClient()
	if err != nil {
		t.Fatalf("new upstream client: %v", err)
	}
	t.Cleanup(upstream.Close)

	return gateway.NewProxy(cfg, table, upstream, &gateway.NoOpLogger{})
}

// TestBasicProxyFlow mirrors the teacher's basic request/response test:
// a request through the proxy reaches the upstream and its response
// is relayed verbatim.
func TestBasicProxyFlow(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("upstream response"))
	}))
	defer upstream.Close()

	cfg := &gateway.Config{
		Routes: []*gateway.RouteConfig{
			{Path: "/api/*", Upstream: upstream.URL},
		},
	}
	proxy := newTestProxy(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	w := httptest.NewRecorder()
	proxy.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "upstream response" {
		t.Errorf("expected 'upstream response', got %q", w.Body.String())
	}
}

// TestStripPathS1S2 covers scenarios S1/S2 of §8: with strip_path
// false the full original path is forwarded; with it true only the
// wildcard-captured suffix is forwarded.
func TestStripPathS1S2(t *testing.T) {
	var gotPath, gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	t.Run("strip_path=false", func(t *testing.T) {
		cfg := &gateway.Config{
			Routes: []*gateway.RouteConfig{
				{Path: "/api/*", Upstream: upstream.URL, StripPath: false},
			},
		}
		proxy := newTestProxy(t, cfg)

		req := httptest.NewRequest(http.MethodGet, "/api/x?q=1", nil)
		w := httptest.NewRecorder()
		proxy.ServeHTTP(w, req)

		if gotPath != "/api/x" {
			t.Errorf("expected upstream path /api/x, got %q", gotPath)
		}
		if gotQuery != "q=1" {
			t.Errorf("expected query q=1, got %q", gotQuery)
		}
	})

	t.Run("strip_path=true", func(t *testing.T) {
		cfg := &gateway.Config{
			Routes: []*gateway.RouteConfig{
				{Path: "/api/*", Upstream: upstream.URL, StripPath: true},
			},
		}
		proxy := newTestProxy(t, cfg)

		req := httptest.NewRequest(http.MethodGet, "/api/x?q=1", nil)
		w := httptest.NewRecorder()
		proxy.ServeHTTP(w, req)

		if gotPath != "/x" {
			t.Errorf("expected upstream path /x, got %q", gotPath)
		}
	})
}

// TestMethodNotAllowedS3 covers scenario S3 of §8: two routes on the
// same path with disjoint methods, neither matching the request's
// method, yields 405 with the union of allowed methods.
func TestMethodNotAllowedS3(t *testing.T) {
	cfg := &gateway.Config{
		Routes: []*gateway.RouteConfig{
			{Path: "/a", Upstream: "http://unused.invalid", Methods: []string{"GET"}},
			{Path: "/a", Upstream: "http://unused.invalid", Methods: []string{"POST"}},
		},
	}
	proxy := newTestProxy(t, cfg)

	req := httptest.NewRequest(http.MethodPut, "/a", nil)
	w := httptest.NewRecorder()
	proxy.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
	if allow := w.Header().Get("Allow"); allow != "GET, POST" {
		t.Errorf("expected Allow: GET, POST, got %q", allow)
	}
}

// TestNoRoute404 covers the "no route" disposition of §4.3/§7.
func TestNoRoute404(t *testing.T) {
	cfg := &gateway.Config{
		Routes: []*gateway.RouteConfig{
			{Path: "/api/*", Upstream: "http://unused.invalid"},
		},
	}
	proxy := newTestProxy(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	proxy.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

// TestUpstreamConnectRefused covers scenario S4 of §8: a route whose
// upstream refuses the TCP connection maps to 502.
func TestUpstreamConnectRefused(t *testing.T) {
	cfg := &gateway.Config{
		Routes: []*gateway.RouteConfig{
			{Path: "/a", Upstream: "http://127.0.0.1:1"},
		},
	}
	proxy := newTestProxy(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/a", nil)
	w := httptest.NewRecorder()
	proxy.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

// TestUpstreamTimeoutS5 covers scenario S5 of §8: a short per-route
// timeout against a slow upstream maps to 504.
func TestUpstreamTimeoutS5(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	cfg := &gateway.Config{
		Routes: []*gateway.RouteConfig{
			{Path: "/slow", Upstream: upstream.URL, TimeoutMs: 50},
		},
	}
	proxy := newTestProxy(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/slow", nil)
	w := httptest.NewRecorder()

	start := time.Now()
	proxy.ServeHTTP(w, req)
	elapsed := time.Since(start)

	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", w.Code)
	}
	if elapsed > 2*time.Second {
		t.Errorf("expected timeout to fire quickly, took %s", elapsed)
	}
}

// TestHopByHopHeadersStripped covers the property of §8.4: hop-by-hop
// headers never reach the upstream.
func TestHopByHopHeadersStripped(t *testing.T) {
	var gotConnection, gotUpgrade string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConnection = r.Header.Get("Connection")
		gotUpgrade = r.Header.Get("Upgrade")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	cfg := &gateway.Config{
		Routes: []*gateway.RouteConfig{
			{Path: "/a", Upstream: upstream.URL},
		},
	}
	proxy := newTestProxy(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/a", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	w := httptest.NewRecorder()
	proxy.ServeHTTP(w, req)

	if gotConnection != "" {
		t.Errorf("expected Connection header stripped, got %q", gotConnection)
	}
	if gotUpgrade != "" {
		t.Errorf("expected Upgrade header stripped, got %q", gotUpgrade)
	}
}

// TestForwardedForAppended covers property §8.5: X-Forwarded-For on
// the upstream request ends with the client IP.
func TestForwardedForAppended(t *testing.T) {
	var gotXFF string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotXFF = r.Header.Get("X-Forwarded-For")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	cfg := &gateway.Config{
		Routes: []*gateway.RouteConfig{
			{Path: "/a", Upstream: upstream.URL},
		},
	}
	proxy := newTestProxy(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/a", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	req.RemoteAddr = "203.0.113.9:4321"
	w := httptest.NewRecorder()
	proxy.ServeHTTP(w, req)

	if gotXFF != "10.0.0.1, 203.0.113.9" {
		t.Errorf("expected X-Forwarded-For to end with client IP, got %q", gotXFF)
	}
}

// TestStaticHeadersInjected verifies route.headers are merged into the
// upstream request, overwriting any inbound value.
func TestStaticHeadersInjected(t *testing.T) {
	var gotGateway string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotGateway = r.Header.Get("X-Gateway")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	cfg := &gateway.Config{
		Routes: []*gateway.RouteConfig{
			{Path: "/a", Upstream: upstream.URL, Headers: map[string]string{"X-Gateway": "ferragate"}},
		},
	}
	proxy := newTestProxy(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/a", nil)
	req.Header.Set("X-Gateway", "client-supplied")
	w := httptest.NewRecorder()
	proxy.ServeHTTP(w, req)

	if gotGateway != "ferragate" {
		t.Errorf("expected route header to win, got %q", gotGateway)
	}
}

// TestRedirectPassesThroughVerbatim covers the redirect-transparency
// requirement of §4.4/§4.5 (replacing the teacher's redirect-rewriting
// behavior): a 3xx from upstream is surfaced to the client unchanged.
func TestRedirectPassesThroughVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://elsewhere.example/callback")
		w.WriteHeader(http.StatusFound)
	}))
	defer upstream.Close()

	cfg := &gateway.Config{
		Routes: []*gateway.RouteConfig{
			{Path: "/a", Upstream: upstream.URL},
		},
	}
	proxy := newTestProxy(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/a", nil)
	w := httptest.NewRecorder()
	proxy.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://elsewhere.example/callback" {
		t.Errorf("expected Location passed through verbatim, got %q", loc)
	}
}

// TestRequestIDGeneratedAndPropagated checks that a missing inbound
// X-Request-ID is generated and echoed, and an existing one is kept.
func TestRequestIDGeneratedAndPropagated(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	cfg := &gateway.Config{
		Routes: []*gateway.RouteConfig{
			{Path: "/a", Upstream: upstream.URL},
		},
	}
	proxy := newTestProxy(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/a", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	w := httptest.NewRecorder()
	proxy.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "fixed-id" {
		t.Errorf("expected inbound request id propagated, got %q", got)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/a", nil)
	w2 := httptest.NewRecorder()
	proxy.ServeHTTP(w2, req2)

	if got := w2.Header().Get("X-Request-ID"); got == "" {
		t.Errorf("expected a generated request id, got empty")
	}
}
