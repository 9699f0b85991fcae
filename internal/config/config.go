// Package config provides configuration parsing and validation for the TUIC server.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/fbzhong/tuic/internal/connection"
	"github.com/fbzhong/tuic/internal/udp"
)

// Config represents the complete server configuration.
type Config struct {
	Server ServerConfig      `yaml:"server"`
	QUIC   QUICConfig        `yaml:"quic"`
	UDP    UDPConfig         `yaml:"udp"`
	Users  map[string]string `yaml:"users"` // UUID -> password
	Log    LogConfig         `yaml:"log"`
	Health HealthConfig      `yaml:"health"`
}

// ServerConfig contains listener and authentication settings.
type ServerConfig struct {
	Listen      string        `yaml:"listen"`
	TLS         TLSConfig     `yaml:"tls"`
	ALPN        []string      `yaml:"alpn"`
	AuthTimeout time.Duration `yaml:"auth_timeout"`
	GCLifetime  time.Duration `yaml:"gc_lifetime"` // incomplete fragmented packets
}

// TLSConfig defines TLS settings.
type TLSConfig struct {
	Cert string `yaml:"cert"` // Certificate file path
	Key  string `yaml:"key"`  // Private key file path
}

// QUICConfig contains transport tuning.
type QUICConfig struct {
	MaxIdleTime     time.Duration `yaml:"max_idle_time"`
	KeepAlivePeriod time.Duration `yaml:"keep_alive_period"`
	MaxUniStreams   int64         `yaml:"max_uni_streams"`
	MaxDatagramSize int           `yaml:"max_datagram_size"`
}

// UDPConfig contains UDP association settings.
type UDPConfig struct {
	RelayIPv6             bool `yaml:"relay_ipv6"`
	MaxExternalPacketSize int  `yaml:"max_external_packet_size"`
	RelayWorkers          int  `yaml:"relay_workers"`
	RelayQueueSize        int  `yaml:"relay_queue_size"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// HealthConfig configures the health check server.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:      "[::]:443",
			ALPN:        []string{"h3"},
			AuthTimeout: 3 * time.Second,
			GCLifetime:  15 * time.Second,
		},
		QUIC: QUICConfig{
			MaxIdleTime:     10 * time.Second,
			KeepAlivePeriod: 3 * time.Second,
			MaxUniStreams:   512,
			MaxDatagramSize: 1200,
		},
		UDP: UDPConfig{
			RelayIPv6:             true,
			MaxExternalPacketSize: 1500,
			RelayWorkers:          4,
			RelayQueueSize:        256,
		},
		Users: map[string]string{},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      "127.0.0.1:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
// ${VAR:-default} falls back to default when VAR is unset.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Listen == "" {
		errs = append(errs, "server.listen is required")
	} else if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("server.listen: %v", err))
	}
	if c.Server.TLS.Cert == "" || c.Server.TLS.Key == "" {
		errs = append(errs, "server.tls.cert and server.tls.key are required")
	}
	if len(c.Server.ALPN) == 0 {
		errs = append(errs, "server.alpn must list at least one protocol")
	}
	if c.Server.AuthTimeout <= 0 {
		errs = append(errs, "server.auth_timeout must be positive")
	}
	if c.Server.GCLifetime <= 0 {
		errs = append(errs, "server.gc_lifetime must be positive")
	}

	if c.QUIC.MaxIdleTime <= 0 {
		errs = append(errs, "quic.max_idle_time must be positive")
	}
	if c.QUIC.MaxUniStreams < 1 {
		errs = append(errs, "quic.max_uni_streams must be positive")
	}
	if c.QUIC.MaxDatagramSize < 64 || c.QUIC.MaxDatagramSize > 65535 {
		errs = append(errs, "quic.max_datagram_size must be between 64 and 65535")
	}

	if err := c.UDPSessionConfig().Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("udp: %v", err))
	}

	if len(c.Users) == 0 {
		errs = append(errs, "users must contain at least one user")
	}
	for id, password := range c.Users {
		if _, err := uuid.Parse(id); err != nil {
			errs = append(errs, fmt.Sprintf("users: invalid UUID %q", id))
		}
		if password == "" {
			errs = append(errs, fmt.Sprintf("users: empty password for %s", id))
		}
	}

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// UDPSessionConfig returns the snapshot handed to every UDP association.
func (c *Config) UDPSessionConfig() udp.Config {
	return udp.Config{
		RelayIPv6:             c.UDP.RelayIPv6,
		MaxIdleTime:           c.QUIC.MaxIdleTime,
		MaxExternalPacketSize: c.UDP.MaxExternalPacketSize,
		RelayWorkers:          c.UDP.RelayWorkers,
		RelayQueueSize:        c.UDP.RelayQueueSize,
	}
}

// ConnectionConfig returns the settings shared by every connection.
func (c *Config) ConnectionConfig() (connection.Config, error) {
	users := make(map[uuid.UUID]string, len(c.Users))
	for id, password := range c.Users {
		u, err := uuid.Parse(id)
		if err != nil {
			return connection.Config{}, fmt.Errorf("invalid user id %q: %w", id, err)
		}
		users[u] = password
	}

	return connection.Config{
		Users:           users,
		AuthTimeout:     c.Server.AuthTimeout,
		MaxDatagramSize: c.QUIC.MaxDatagramSize,
		GCLifetime:      c.Server.GCLifetime,
		UDP:             c.UDPSessionConfig(),
	}, nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "trace", "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

// String returns a string representation of the config with passwords redacted.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c.Redacted())
	return string(data)
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// Redacted returns a copy of the config with user passwords and the TLS key
// path redacted.
func (c *Config) Redacted() *Config {
	redacted := *c
	redacted.Server.ALPN = append([]string(nil), c.Server.ALPN...)

	redacted.Users = make(map[string]string, len(c.Users))
	for id := range c.Users {
		redacted.Users[id] = redactedValue
	}
	if redacted.Server.TLS.Key != "" {
		redacted.Server.TLS.Key = redactedValue
	}

	return &redacted
}
