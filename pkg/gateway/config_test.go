package gateway_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferragate/ferragate/pkg/gateway"
)

// TestDefaultConfigValidates covers property §8.1: validate(example())
// (here, Default()) returns Ok.
func TestDefaultConfigValidates(t *testing.T) {
	cfg := gateway.Default()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryError(t *testing.T) {
	cfg := &gateway.Config{
		Routes: []*gateway.RouteConfig{
			{Path: "no-leading-slash", Upstream: "not-a-url-scheme://x"},
			{Path: "/ok", Upstream: "ftp://bad-scheme.example"},
		},
	}
	cfg.ApplyDefaults()

	err := cfg.Validate()
	require.Error(t, err)

	verrs, ok := err.(*gateway.ValidationErrors)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(verrs.Errors), 2, "expected multiple aggregated errors, not just the first")
}

func TestValidateRejectsDoubleWildcard(t *testing.T) {
	cfg := &gateway.Config{
		Routes: []*gateway.RouteConfig{
			{Path: "/a/**", Upstream: "http://localhost:8080"},
		},
	}
	cfg.ApplyDefaults()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "**")
}

func TestValidateRequiresTLSPortToDifferFromCleartext(t *testing.T) {
	cfg := &gateway.Config{
		Server: gateway.ServerConfig{
			Port: 8443,
			TLS: gateway.TLSConfig{
				Enabled:  true,
				Port:     8443,
				CertFile: "",
				KeyFile:  "",
			},
		},
		Routes: []*gateway.RouteConfig{
			{Path: "/a", Upstream: "http://localhost:8080"},
		},
	}
	cfg.ApplyDefaults()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "differ")
}

func TestApplyDefaultsNormalizesMethods(t *testing.T) {
	cfg := &gateway.Config{
		Routes: []*gateway.RouteConfig{
			{Path: "/a", Upstream: "http://localhost:8080", Methods: []string{"get", "GET", "post"}},
		},
	}
	cfg.ApplyDefaults()

	assert.Equal(t, []string{"GET", "POST"}, cfg.Routes[0].Methods)
}

func TestApplyDefaultsInheritsListenerTimeout(t *testing.T) {
	cfg := &gateway.Config{
		Server: gateway.ServerConfig{TimeoutMs: 12345},
		Routes: []*gateway.RouteConfig{
			{Path: "/a", Upstream: "http://localhost:8080"},
		},
	}
	cfg.ApplyDefaults()

	assert.Equal(t, 12345, cfg.Routes[0].TimeoutMs)
}

func TestApplyEnvOverridesHostAndPort(t *testing.T) {
	t.Setenv("FERRAGATE_HOST", "127.0.0.1")
	t.Setenv("FERRAGATE_PORT", "9999")

	cfg := gateway.Default()
	cfg.ApplyEnv()

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9999, cfg.Server.Port)
}
