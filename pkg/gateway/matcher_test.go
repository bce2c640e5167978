package gateway_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferragate/ferragate/pkg/gateway"
)

func newTable(t *testing.T, configs []*gateway.RouteConfig) *gateway.RouteTable {
	t.Helper()
	table, err := gateway.NewRouteTable(configs)
	require.NoError(t, err)
	return table
}

func TestMatchDeclarationOrderWins(t *testing.T) {
	table := newTable(t, []*gateway.RouteConfig{
		{Path: "/api/*", Upstream: "http://one.example"},
		{Path: "/api/users", Upstream: "http://two.example"},
	})

	disp := table.Match("GET", "host", "/api/users")
	require.NotNil(t, disp.Route)
	assert.Equal(t, "/api/*", disp.Route.Config().Path)
}

func TestMatchCapturesWildcardSuffix(t *testing.T) {
	table := newTable(t, []*gateway.RouteConfig{
		{Path: "/api/*", Upstream: "http://one.example"},
	})

	disp := table.Match("GET", "host", "/api/a/b/c")
	require.NotNil(t, disp.Route)
	assert.Equal(t, "a/b/c", disp.Suffix)
}

func TestMatchHostPredicate(t *testing.T) {
	table := newTable(t, []*gateway.RouteConfig{
		{Path: "/a", Upstream: "http://one.example", Host: "api.example.com"},
	})

	disp := table.Match("GET", "API.Example.com:8080", "/a")
	assert.NotNil(t, disp.Route, "host match should be case-insensitive and ignore port")

	disp = table.Match("GET", "other.example.com", "/a")
	assert.Nil(t, disp.Route)
}

func TestMatchMethodRejectionYields405(t *testing.T) {
	table := newTable(t, []*gateway.RouteConfig{
		{Path: "/a", Upstream: "http://one.example", Methods: []string{"GET"}},
		{Path: "/a", Upstream: "http://two.example", Methods: []string{"POST"}},
	})

	disp := table.Match("PUT", "host", "/a")
	assert.Nil(t, disp.Route)
	assert.True(t, disp.MethodRejected)
	assert.Equal(t, "GET, POST", disp.AllowedMethods)
}

func TestMatchNoRouteAtAll(t *testing.T) {
	table := newTable(t, []*gateway.RouteConfig{
		{Path: "/a", Upstream: "http://one.example"},
	})

	disp := table.Match("GET", "host", "/does-not-exist")
	assert.Nil(t, disp.Route)
	assert.False(t, disp.MethodRejected)
}

func TestMatchDeclarationOrderGovernsTies(t *testing.T) {
	table := newTable(t, []*gateway.RouteConfig{
		{Path: "/api/*", Upstream: "http://wild.example"},
		{Path: "/api/users", Upstream: "http://literal.example"},
	})

	// §4.3 step 1/5: iterate in declaration order and return the
	// first match. A more specific literal route declared after a
	// wildcard route does not win; the operator must order routes
	// most-specific-first.
	disp := table.Match("GET", "host", "/api/users")
	assert.Equal(t, "http://wild.example", disp.Route.Config().Upstream)
}
