package gateway

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"
)

// segmentWildcard is the trailing-wildcard token. It must terminate a
// pattern and matches one or more path segments, greedily.
const segmentWildcard = "*"

// Route is a single compiled route: the parsed upstream URL, the
// pattern split into segments, and the resolved per-route timeout.
// Routes are compiled once in NewRouteTable and never mutated again.
// The matching hot path (Route.match) splits the request path into a
// fresh segment slice on every call and joins the wildcard suffix.
type Route struct {
	config   *RouteConfig
	segments []string
	wildcard bool
	upstream *url.URL
	methods  map[string]bool
	host     string
	timeout  time.Duration

	// reverseProxy is wired up by NewProxy once the upstream client
	// exists; nil until then.
	reverseProxy *httputil.ReverseProxy
}

// NewRoute compiles a RouteConfig into a Route. The upstream must
// already have passed Config.Validate.
func NewRoute(cfg *RouteConfig) (*Route, error) {
	upstreamURL, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, err
	}

	segs := strings.Split(strings.Trim(cfg.Path, "/"), "/")
	wildcard := false
	if len(segs) > 0 && segs[len(segs)-1] == segmentWildcard {
		wildcard = true
		segs = segs[:len(segs)-1]
	}

	var methods map[string]bool
	if len(cfg.Methods) > 0 {
		methods = make(map[string]bool, len(cfg.Methods))
		for _, m := range cfg.Methods {
			methods[m] = true
		}
	}

	r := &Route{
		config:   cfg,
		segments: segs,
		wildcard: wildcard,
		upstream: upstreamURL,
		methods:  methods,
		host:     strings.ToLower(cfg.Host),
		timeout:  time.Duration(cfg.TimeoutMs) * time.Millisecond,
	}
	return r, nil
}

// matchResult is the outcome of testing one route against a request.
type matchResult struct {
	pathMatched   bool
	methodMatched bool
	suffix        string
}

// match tests the route's path pattern and host predicate against the
// given method/host/path. It allocates the request's segment slice
// (strings.Split) and, for wildcard routes, the joined suffix string.
func (r *Route) match(method, host, path string) matchResult {
	if r.host != "" && !strings.EqualFold(r.host, hostWithoutPort(host)) {
		return matchResult{}
	}

	reqSegs := strings.Split(strings.Trim(path, "/"), "/")
	if path == "/" {
		reqSegs = []string{""}
	}

	if !r.wildcard {
		if !segmentsEqual(r.segments, reqSegs) {
			return matchResult{}
		}
		return matchResult{pathMatched: true, methodMatched: r.methodAllowed(method)}
	}

	if len(reqSegs) < len(r.segments) {
		return matchResult{}
	}
	if !segmentsEqual(r.segments, reqSegs[:len(r.segments)]) {
		return matchResult{}
	}

	suffix := strings.Join(reqSegs[len(r.segments):], "/")
	if suffix == "" {
		// The trailing wildcard needs at least one non-empty segment.
		return matchResult{}
	}
	return matchResult{pathMatched: true, methodMatched: r.methodAllowed(method), suffix: suffix}
}

// Config returns the route's source configuration. Exported for
// tests and for callers that need to report which route handled a
// request.
func (r *Route) Config() *RouteConfig {
	return r.config
}

func (r *Route) methodAllowed(method string) bool {
	if len(r.methods) == 0 {
		return true
	}
	return r.methods[strings.ToUpper(method)]
}

func segmentsEqual(pattern, req []string) bool {
	if len(pattern) == 1 && pattern[0] == "" && len(req) == 1 && req[0] == "" {
		return true
	}
	if len(pattern) != len(req) {
		return false
	}
	for i := range pattern {
		if pattern[i] != req[i] {
			return false
		}
	}
	return true
}

func hostWithoutPort(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}

// rewritePath computes the upstream request path for a matched route,
// per §4.3: strip_path=false appends the original path to the
// upstream's path; strip_path=true appends only the captured wildcard
// suffix.
func (r *Route) rewritePath(originalPath, suffix string) string {
	base := strings.TrimSuffix(r.upstream.Path, "/")

	var tail string
	if r.config.StripPath {
		tail = suffix
		if tail != "" && !strings.HasPrefix(tail, "/") {
			tail = "/" + tail
		}
	} else {
		tail = originalPath
	}

	if tail == "" {
		if base == "" {
			return "/"
		}
		return base
	}

	return base + tail
}

// TimeoutOrDefault resolves the effective per-request timeout as
// min(route.timeout_ms, listener.timeout_ms) per §4.4/§5.
func (r *Route) TimeoutOrDefault(listenerTimeout time.Duration) time.Duration {
	if r.timeout <= 0 {
		return listenerTimeout
	}
	if listenerTimeout <= 0 || r.timeout < listenerTimeout {
		return r.timeout
	}
	return listenerTimeout
}

// allowHeaderValue renders a de-duplicated Allow header value, listed
// in a fixed canonical method order (GET, HEAD, POST, PUT, ...),
// from a set of methods rejected across every path-matching route.
func allowHeaderValue(methods map[string]bool) string {
	if len(methods) == 0 {
		return ""
	}
	ordered := make([]string, 0, len(methods))
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions, http.MethodConnect, http.MethodTrace} {
		if methods[m] {
			ordered = append(ordered, m)
		}
	}
	return strings.Join(ordered, ", ")
}
