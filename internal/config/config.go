// Package config handles TOML configuration loading, CLI overrides and
// runtime replacement of proxy settings.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/soap-proxy/config.toml",
	"configs/config.toml",
}

// Reserved routes served by the proxy itself; everything else is forwarded.
const (
	ReservedPrefix = "/_proxy/"
	HealthzPath    = "/_proxy/healthz"
	StatusPath     = "/_proxy/status"
	AdminPath      = "/_proxy/config"
)

// CLI holds command-line arguments parsed by Kong. Pointer fields are
// overrides: nil means "not given", so the file or default value stands.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`

	Version kong.VersionFlag `kong:"help='Print version and exit.'"`

	RemoveCoordinationContext *bool `kong:"help='Remove WS-Coordination CoordinationContext header elements.',env='PROXY_REMOVE_COORDINATION_CONTEXT'"`
	RemoveWSATElements        *bool `kong:"name='remove-wsat-elements',help='Remove header elements in WS-AtomicTransaction namespaces.',env='PROXY_REMOVE_WSAT_ELEMENTS'"`
	RemoveTransactionElements *bool `kong:"help='Remove header elements named like Transaction, Coordination or Activity.',env='PROXY_REMOVE_TRANSACTION_ELEMENTS'"`
	AllowRestrictedHeaders    *bool `kong:"help='Forward hop-by-hop headers such as Connection and Upgrade.',env='PROXY_ALLOW_RESTRICTED_HEADERS'"`
	DetailedLogging           *bool `kong:"help='Log headers and message bodies at info level.',env='PROXY_DETAILED_LOGGING'"`
	ConnectTimeoutMs          *int  `kong:"name='connect-timeout-ms',help='Outbound connect timeout in milliseconds.',env='PROXY_CONNECT_TIMEOUT_MS'"`
	SocketTimeoutMs           *int  `kong:"name='socket-timeout-ms',help='Outbound response timeout in milliseconds.',env='PROXY_SOCKET_TIMEOUT_MS'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Proxy    ProxySettings  `toml:"proxy"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Admin    AdminConfig    `toml:"admin"`
	Reload   ReloadConfig   `toml:"reload"`

	filePath  string     // resolved config file path (unexported)
	overrides []Override // proxy settings taken from the CLI/env layer
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	ContextPath  string          `toml:"context_path"` // stripped before joining with a destination URL
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds outbound connection settings. Timeouts live in
// ProxySettings because they may change at runtime.
type UpstreamConfig struct {
	IdleConnections    int   `toml:"idle_connections"`
	ResponseMaxBytes   int64 `toml:"response_max_bytes"`
	InsecureSkipVerify bool  `toml:"insecure_skip_verify"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// AdminConfig enables the runtime settings endpoint.
type AdminConfig struct {
	Enabled bool `toml:"enabled"`
}

// ReloadConfig enables re-reading the config file when it changes.
type ReloadConfig struct {
	Watch bool `toml:"watch"`
}

// Override records a proxy setting whose value came from the CLI/env layer.
type Override struct {
	Name  string
	Value string
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/soap-proxy/config.toml then configs/config.toml, and falls back to
// built-in defaults if neither exists.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	return LoadFile(path, cli)
}

// LoadFile loads the given path (empty means defaults only) and applies cli.
func LoadFile(path string, cli *CLI) (*Config, error) {
	cfg := Config{Proxy: DefaultProxySettings()}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	if cli != nil {
		cfg.applyCLI(cli)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with CLI flags that were set.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}

	c.overrideBool("remove_coordination_context", cli.RemoveCoordinationContext, &c.Proxy.RemoveCoordinationContext)
	c.overrideBool("remove_wsat_elements", cli.RemoveWSATElements, &c.Proxy.RemoveWSATElements)
	c.overrideBool("remove_transaction_elements", cli.RemoveTransactionElements, &c.Proxy.RemoveTransactionElements)
	c.overrideBool("allow_restricted_headers", cli.AllowRestrictedHeaders, &c.Proxy.AllowRestrictedHeaders)
	c.overrideBool("detailed_logging", cli.DetailedLogging, &c.Proxy.DetailedLogging)
	c.overrideInt("connect_timeout_ms", cli.ConnectTimeoutMs, &c.Proxy.ConnectTimeoutMs)
	c.overrideInt("socket_timeout_ms", cli.SocketTimeoutMs, &c.Proxy.SocketTimeoutMs)
}

func (c *Config) overrideBool(name string, src *bool, dst *bool) {
	if src == nil {
		return
	}
	*dst = *src
	c.overrides = append(c.overrides, Override{Name: name, Value: strconv.FormatBool(*src)})
}

func (c *Config) overrideInt(name string, src *int, dst *int) {
	if src == nil {
		return
	}
	*dst = *src
	c.overrides = append(c.overrides, Override{Name: name, Value: strconv.Itoa(*src)})
}

func (c *Config) validate() error {
	var errs []error

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port))
	}
	if c.Server.BodyMaxBytes < 0 {
		errs = append(errs, fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes))
	}
	if c.Upstream.IdleConnections < 0 {
		errs = append(errs, fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections))
	}
	if c.Upstream.ResponseMaxBytes < 0 {
		errs = append(errs, fmt.Errorf("upstream.response_max_bytes must be non-negative; got %d", c.Upstream.ResponseMaxBytes))
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond))
	}
	if err := c.Proxy.Validate(); err != nil {
		errs = append(errs, err)
	}

	if p := c.Server.ContextPath; p != "" {
		if p[0] != '/' || (len(p) > 1 && strings.HasSuffix(p, "/")) {
			errs = append(errs, fmt.Errorf("server.context_path must start with '/' and not end with '/'; got %q", p))
		}
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		errs = append(errs, fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format))
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			errs = append(errs, fmt.Errorf("metrics.path must start with '/'; got %q", p))
		}
		for _, reserved := range []string{HealthzPath, StatusPath, AdminPath} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				errs = append(errs, fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved))
			}
		}
	}

	return errors.Join(errs...)
}

// setDefaults fills zero-valued fields with sensible defaults.
// Proxy settings are seeded before decoding instead, since their booleans
// default to true and a zero value cannot mean "unset".
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.ResponseMaxBytes == 0 {
		c.Upstream.ResponseMaxBytes = 50 * 1024 * 1024
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/_proxy/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FilePath returns the config file the values were read from, if any.
func (c *Config) FilePath() string {
	return c.filePath
}

// Overrides returns the proxy settings taken from the CLI/env layer.
func (c *Config) Overrides() []Override {
	return c.overrides
}

// LogSummary logs where configuration came from and the effective proxy settings.
func (c *Config) LogSummary(logger *slog.Logger) {
	if c.filePath == "" {
		logger.Info("no config file found, using defaults", "searched", configSearchPaths)
	} else {
		logger.Info("configuration loaded", "path", c.filePath)
	}
	for _, o := range c.overrides {
		logger.Info("config override", "setting", o.Name, "value", o.Value, "source", "cli/env")
	}
	logger.Info("proxy settings", "settings", c.Proxy)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
