package config

import (
	"fmt"
	"log/slog"
	"time"
)

// ProxySettings is the per-request snapshot of proxy behavior. Values are
// never mutated in place; see Store for replacement.
type ProxySettings struct {
	RemoveCoordinationContext bool `toml:"remove_coordination_context" json:"remove_coordination_context"`
	RemoveWSATElements        bool `toml:"remove_wsat_elements" json:"remove_wsat_elements"`
	RemoveTransactionElements bool `toml:"remove_transaction_elements" json:"remove_transaction_elements"`
	AllowRestrictedHeaders    bool `toml:"allow_restricted_headers" json:"allow_restricted_headers"`
	DetailedLogging           bool `toml:"detailed_logging" json:"detailed_logging"`
	ConnectTimeoutMs          int  `toml:"connect_timeout_ms" json:"connect_timeout_ms"`
	SocketTimeoutMs           int  `toml:"socket_timeout_ms" json:"socket_timeout_ms"`
}

// DefaultProxySettings returns the settings used when no source overrides them.
func DefaultProxySettings() ProxySettings {
	return ProxySettings{
		RemoveCoordinationContext: true,
		RemoveWSATElements:        true,
		RemoveTransactionElements: true,
		AllowRestrictedHeaders:    false,
		DetailedLogging:           true,
		ConnectTimeoutMs:          10000,
		SocketTimeoutMs:           30000,
	}
}

// Validate checks numeric bounds.
func (s ProxySettings) Validate() error {
	if s.ConnectTimeoutMs <= 0 {
		return fmt.Errorf("proxy.connect_timeout_ms must be > 0; got %d", s.ConnectTimeoutMs)
	}
	if s.SocketTimeoutMs <= 0 {
		return fmt.Errorf("proxy.socket_timeout_ms must be > 0; got %d", s.SocketTimeoutMs)
	}
	return nil
}

// ConnectTimeout returns the connection establishment timeout.
func (s ProxySettings) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutMs) * time.Millisecond
}

// SocketTimeout returns the bound on the full wait for a response.
func (s ProxySettings) SocketTimeout() time.Duration {
	return time.Duration(s.SocketTimeoutMs) * time.Millisecond
}

// LogValue implements slog.LogValuer.
func (s ProxySettings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("remove_coordination_context", s.RemoveCoordinationContext),
		slog.Bool("remove_wsat_elements", s.RemoveWSATElements),
		slog.Bool("remove_transaction_elements", s.RemoveTransactionElements),
		slog.Bool("allow_restricted_headers", s.AllowRestrictedHeaders),
		slog.Bool("detailed_logging", s.DetailedLogging),
		slog.Int("connect_timeout_ms", s.ConnectTimeoutMs),
		slog.Int("socket_timeout_ms", s.SocketTimeoutMs),
	)
}
