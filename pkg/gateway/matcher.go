package gateway

// RouteTable is the compiled, ordered route table. It is built once at
// startup from Config.Routes and never mutated again; Match is the
// hot-path lookup shared (read-only) by every request.
type RouteTable struct {
	routes []*Route
}

// NewRouteTable compiles every RouteConfig in order.
func NewRouteTable(configs []*RouteConfig) (*RouteTable, error) {
	routes := make([]*Route, 0, len(configs))
	for _, cfg := range configs {
		r, err := NewRoute(cfg)
		if err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return &RouteTable{routes: routes}, nil
}

// Disposition is the outcome of matching a request against the table.
type Disposition struct {
	// Route is non-nil only when a route fully matched (path, host,
	// and method).
	Route *Route
	// Suffix is the captured trailing-wildcard suffix, valid only
	// when Route is non-nil.
	Suffix string
	// MethodRejected is true when at least one route matched path+host
	// but rejected the method — the 404-vs-405 disposition of §4.3.
	MethodRejected bool
	// AllowedMethods is the Allow header value to use when
	// MethodRejected is true.
	AllowedMethods string
}

// Match resolves an incoming (method, host, path) to at most one
// route, per §4.3: iterate in declaration order, return the first
// route whose path and host both match and whose method is allowed.
// If no route matches outright but at least one matched path+host and
// rejected only the method, the disposition carries the union of
// allowed methods so the caller can answer 405 instead of 404.
func (t *RouteTable) Match(method, host, path string) Disposition {
	rejectedMethods := make(map[string]bool)
	anyMethodRejection := false

	for _, r := range t.routes {
		res := r.match(method, host, path)
		if !res.pathMatched {
			continue
		}
		if res.methodMatched {
			return Disposition{Route: r, Suffix: res.suffix}
		}
		anyMethodRejection = true
		for m := range r.methods {
			rejectedMethods[m] = true
		}
	}

	if anyMethodRejection {
		return Disposition{MethodRejected: true, AllowedMethods: allowHeaderValue(rejectedMethods)}
	}

	return Disposition{}
}
