package gateway

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Recognized upstream URL schemes.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// recognizedMethods is the set of HTTP verbs a route's methods list may
// contain. Anything else fails validation.
var recognizedMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "CONNECT": true, "OPTIONS": true, "TRACE": true,
}

// Config is the complete gateway configuration. It is built once at
// startup and shared by reference across every request task. After
// Load returns, only the CLI's environment and flag overrides change
// it, before the gateway starts serving; nothing mutates it afterwards.
type Config struct {
	Server  ServerConfig   `toml:"server"`
	Routes  []*RouteConfig `toml:"routes"`
	Logging LoggingConfig  `toml:"logging"`
}

// ServerConfig is the listener configuration: bind host, cleartext
// port, optional TLS block, and the default request timeout.
type ServerConfig struct {
	Host      string    `toml:"host"`
	Port      int       `toml:"port"`
	Workers   int       `toml:"workers"`
	TimeoutMs int       `toml:"timeout_ms"`
	TLS       TLSConfig `toml:"tls"`
}

// TLSConfig is the optional TLS block of a listener.
type TLSConfig struct {
	Enabled           bool   `toml:"enabled"`
	Port              int    `toml:"port"`
	CertFile          string `toml:"cert_file"`
	KeyFile           string `toml:"key_file"`
	RedirectCleartext bool   `toml:"redirect_http"`
}

// RouteConfig is a single entry of the route table (§3). Order within
// Config.Routes is significant: the first route in declaration order
// that matches wins, regardless of specificity (see matcher.go).
type RouteConfig struct {
	Path         string            `toml:"path"`
	Upstream     string            `toml:"upstream"`
	Methods      []string          `toml:"methods"`
	StripPath    bool              `toml:"strip_path"`
	PreserveHost bool              `toml:"preserve_host"`
	TimeoutMs    int               `toml:"timeout_ms"`
	Host         string            `toml:"host"`
	Headers      map[string]string `toml:"headers"`
}

// LoggingConfig configures the gateway's structured logger.
type LoggingConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
	File  bool   `toml:"file"`
}

// ValidationErrors aggregates every failing invariant so a caller sees
// the whole list, not just the first violation (§4.1).
type ValidationErrors struct {
	Errors []error
}

func (v *ValidationErrors) Error() string {
	msgs := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		msgs = append(msgs, e.Error())
	}
	return fmt.Sprintf("%d configuration error(s):\n  - %s", len(v.Errors), strings.Join(msgs, "\n  - "))
}

func (v *ValidationErrors) add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Errorf(format, args...))
}

func (v *ValidationErrors) asError() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Load reads and decodes the TOML configuration document at path,
// applies defaults, then validates. It does not apply environment or
// flag overrides — callers do that with ApplyEnv before Validate if
// they need the full §6 precedence chain.
func Load(path string) (cfg *Config, err error) {
	cfg = &Config{}

	_, err = toml.DecodeFile(path, cfg)
	if err != nil {
		err = fmt.Errorf("decode config %s: %w", path, err)
		return nil, err
	}

	cfg.ApplyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv applies the FERRAGATE_HOST / FERRAGATE_PORT overrides
// (§6). Flags, applied by the CLI layer, take precedence over these.
func (c *Config) ApplyEnv() {
	if host, ok := os.LookupEnv("FERRAGATE_HOST"); ok && host != "" {
		c.Server.Host = host
	}
	if portStr, ok := os.LookupEnv("FERRAGATE_PORT"); ok && portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			c.Server.Port = port
		}
	}
	if level, ok := os.LookupEnv("FERRAGATE_LOG_LEVEL"); ok && level != "" {
		c.Logging.Level = level
	}
}

// ApplyDefaults fills in zero-valued fields with their documented
// defaults (§4.1, §6).
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.TimeoutMs == 0 {
		c.Server.TimeoutMs = 30000
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	for _, r := range c.Routes {
		if r.TimeoutMs == 0 {
			r.TimeoutMs = c.Server.TimeoutMs
		}
		r.Methods = normalizeMethods(r.Methods)
	}
}

// normalizeMethods uppercases and de-duplicates a route's method list,
// per §9's "matcher must uppercase inputs before comparison" decision.
func normalizeMethods(methods []string) []string {
	if len(methods) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(methods))
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		u := strings.ToUpper(strings.TrimSpace(m))
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// Validate checks every invariant in §3 and returns the aggregated
// list of violations. A nil return means the configuration is safe to
// publish.
func (c *Config) Validate() error {
	verrs := &ValidationErrors{}

	if len(c.Routes) == 0 {
		verrs.add("at least one route is required")
	}

	for i, r := range c.Routes {
		r.validate(i, verrs)
	}

	if c.Server.TLS.Enabled {
		c.Server.TLS.validate(c.Server.Port, verrs)
	}

	if c.Server.TimeoutMs <= 0 {
		verrs.add("server.timeout_ms must be strictly positive")
	}

	return verrs.asError()
}

func (r *RouteConfig) validate(index int, verrs *ValidationErrors) {
	label := fmt.Sprintf("routes[%d] (%s)", index, r.Path)

	if r.Path == "" {
		verrs.add("%s: path is required", label)
	} else if !strings.HasPrefix(r.Path, "/") {
		verrs.add("%s: path must begin with /", label)
	} else if strings.Contains(r.Path, "**") {
		verrs.add("%s: path uses '**', which is rejected — use a single trailing '*'", label)
	}

	if r.Upstream == "" {
		verrs.add("%s: upstream is required", label)
	} else {
		u, err := url.Parse(r.Upstream)
		if err != nil {
			verrs.add("%s: upstream does not parse as a URL: %v", label, err)
		} else if u.Scheme != SchemeHTTP && u.Scheme != SchemeHTTPS {
			verrs.add("%s: upstream scheme must be http or https, got %q", label, u.Scheme)
		} else if u.Host == "" {
			verrs.add("%s: upstream must include a host", label)
		}
	}

	for _, m := range r.Methods {
		if !recognizedMethods[m] {
			verrs.add("%s: unrecognized HTTP method %q", label, m)
		}
	}

	if r.TimeoutMs < 0 {
		verrs.add("%s: timeout_ms must be strictly positive", label)
	}
}

func (t *TLSConfig) validate(cleartextPort int, verrs *ValidationErrors) {
	if t.CertFile == "" {
		verrs.add("server.tls: cert_file is required when tls is enabled")
	}
	if t.KeyFile == "" {
		verrs.add("server.tls: key_file is required when tls is enabled")
	}
	if t.CertFile != "" {
		if info, err := os.Stat(t.CertFile); err != nil {
			verrs.add("server.tls: cert_file %s: %v", t.CertFile, err)
		} else if info.IsDir() {
			verrs.add("server.tls: cert_file %s is a directory", t.CertFile)
		}
	}
	if t.KeyFile != "" {
		if info, err := os.Stat(t.KeyFile); err != nil {
			verrs.add("server.tls: key_file %s: %v", t.KeyFile, err)
		} else if info.IsDir() {
			verrs.add("server.tls: key_file %s is a directory", t.KeyFile)
		}
	}
	if t.Port == cleartextPort {
		verrs.add("server.tls: tls port must differ from cleartext port (both %d)", t.Port)
	}
}

// Default returns a usable single-listener, single-route configuration
// suitable for onboarding.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      3000,
			TimeoutMs: 30000,
		},
		Routes: []*RouteConfig{
			{
				Path:     "/*",
				Upstream: "http://localhost:8080",
				Methods:  nil,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// Example returns a richly-commented template config, rendered as TOML
// text by the `init` CLI subcommand (see cmd/ferragate).
func Example() string {
	return `# ferragate configuration
# Generated by 'ferragate init'; check edits with 'ferragate validate'.

[server]
host = "0.0.0.0"              # bind address
port = 3000                   # cleartext listener port
timeout_ms = 30000            # default per-request timeout, ms

[server.tls]                  # optional; omit the whole table to disable TLS
enabled = false
port = 8443                   # must differ from server.port
cert_file = "certs/server.crt"
key_file  = "certs/server.key"
redirect_http = true          # 308-redirect the cleartext listener to https

[[routes]]
path = "/api/users/*"
upstream = "http://user-service:8080"
methods = ["GET", "POST"]      # optional; omitted or empty means "any"
strip_path = false
preserve_host = false
# timeout_ms = 15000           # optional per-route override

[routes.headers]
"X-Gateway" = "ferragate"

[logging]
level = "info"                 # trace | debug | info | warn | error
json  = false
file  = false
`
}
