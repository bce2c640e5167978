package gateway

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are stripped from both the upstream request and the
// response relayed to the client (§4.5 step 4, §9 "hop-by-hop header
// handling").
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// stripHopByHop removes the standard hop-by-hop headers plus any
// header named in the message's own Connection header.
func stripHopByHop(h http.Header) {
	if conn := h.Get("Connection"); conn != "" {
		for _, name := range strings.Split(conn, ",") {
			h.Del(strings.TrimSpace(name))
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// prepareUpstreamHeaders builds the header set sent to the upstream,
// per §4.5 step 4: strip hop-by-hop, set X-Forwarded-Proto and
// X-Forwarded-Host, then merge the route's static headers last so
// they win over anything inbound. X-Forwarded-For is deliberately not
// set here: httputil.ReverseProxy's own Director-path ServeHTTP
// appends the client IP to it after Director returns, so setting it
// here as well would append the client IP twice. Host handling
// (preserve vs. replace) is done by the caller on the request itself.
func prepareUpstreamHeaders(in http.Header, route *RouteConfig, scheme, inboundHost string) http.Header {
	out := in.Clone()
	if out == nil {
		out = make(http.Header)
	}

	stripHopByHop(out)

	out.Set("X-Forwarded-Proto", scheme)
	out.Set("X-Forwarded-Host", inboundHost)

	for name, value := range route.Headers {
		out.Set(name, value)
	}

	return out
}

// prepareResponseHeaders strips hop-by-hop headers from the upstream
// response before it is copied to the client (§4.5 step 6).
func prepareResponseHeaders(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = make(http.Header)
	}
	stripHopByHop(out)
	return out
}

// inboundScheme determines the scheme of the inbound request for
// X-Forwarded-Proto purposes.
func inboundScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
