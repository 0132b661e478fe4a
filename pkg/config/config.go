package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/marmos91/negotiate/internal/bytesize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the negotiate server configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (NEGOTIATE_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Server configures the authenticating HTTP listener
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Negotiate configures the accepted mechanisms
	Negotiate NegotiateConfig `mapstructure:"negotiate" yaml:"negotiate"`

	// Accounts configures the NTLM account sources
	Accounts AccountsConfig `mapstructure:"accounts" yaml:"accounts"`

	// Upstream optionally proxies authenticated requests to another service
	Upstream UpstreamConfig `mapstructure:"upstream" yaml:"upstream"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// ServerConfig configures the HTTP server that runs the Negotiate middleware.
type ServerConfig struct {
	// Port is the listen port
	// Default: 8080
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// Address is the listen address; empty listens on all interfaces
	Address string `mapstructure:"address" yaml:"address,omitempty"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gte=0" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0" yaml:"write_timeout"`

	// IdleTimeout bounds how long an authenticated keep-alive connection
	// may sit idle. Authentication is lost when the connection closes.
	// Default: 120s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"gte=0" yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// MaxHeaderBytes caps request header size. Kerberos tokens carrying a
	// PAC for users in many groups reach tens of kilobytes.
	// Default: 64Ki
	MaxHeaderBytes bytesize.ByteSize `mapstructure:"max_header_bytes" yaml:"max_header_bytes"`

	// TLSCert and TLSKey enable HTTPS when both are set
	TLSCert string `mapstructure:"tls_cert" validate:"required_with=TLSKey" yaml:"tls_cert,omitempty"`
	TLSKey  string `mapstructure:"tls_key" validate:"required_with=TLSCert" yaml:"tls_key,omitempty"`
}

// TLSEnabled reports whether the server should serve HTTPS.
func (c ServerConfig) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// ListenAddr returns the host:port the server binds.
func (c ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// NegotiateConfig configures the Negotiate middleware and its mechanisms.
type NegotiateConfig struct {
	// ServicePrincipal is the SPN handed to every security context
	// (e.g., HTTP/web.example.com). Defaults to HTTP/<hostname>.
	ServicePrincipal string `mapstructure:"service_principal" yaml:"service_principal"`

	Kerberos KerberosConfig `mapstructure:"kerberos" yaml:"kerberos"`
	NTLM     NTLMConfig     `mapstructure:"ntlm" yaml:"ntlm"`
}

// KerberosConfig contains Kerberos/SPNEGO acceptor configuration.
//
// The server needs a keytab file containing the service principal's key.
// krb5.conf is optional on the acceptor side and only consulted for the
// default realm.
type KerberosConfig struct {
	// Enabled controls whether Kerberos authentication is accepted.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// KeytabPath is the path to the Kerberos keytab file.
	// Override: NEGOTIATE_KERBEROS_KEYTAB (primary), NEGOTIATE_KERBEROS_KEYTAB_PATH (compat)
	// Example: /etc/negotiate/http.keytab
	KeytabPath string `mapstructure:"keytab_path" yaml:"keytab_path"`

	// Krb5Conf is the path to the Kerberos configuration file.
	// Default: /etc/krb5.conf (ignored when missing)
	Krb5Conf string `mapstructure:"krb5_conf" yaml:"krb5_conf"`

	// MaxClockSkew is the maximum allowed clock difference between client and server.
	// Default: 5m
	MaxClockSkew time.Duration `mapstructure:"max_clock_skew" validate:"gte=0" yaml:"max_clock_skew"`

	// ReloadInterval is the keytab poll interval used when file watching is
	// unavailable, and as a safety net next to it.
	// Default: 60s
	ReloadInterval time.Duration `mapstructure:"reload_interval" validate:"gte=0" yaml:"reload_interval"`

	// IdentityMapping rewrites authenticated principals before they reach handlers.
	IdentityMapping IdentityMappingConfig `mapstructure:"identity_mapping" yaml:"identity_mapping"`
}

// IdentityMappingConfig controls how Kerberos principals are mapped to the
// username exposed to handlers and the upstream.
type IdentityMappingConfig struct {
	// StripRealm drops @REALM from the exposed username.
	StripRealm bool `mapstructure:"strip_realm" yaml:"strip_realm"`

	// StaticMap maps "principal@REALM" strings to local usernames.
	// Example: {"alice@EXAMPLE.COM": "alice.smith"}
	StaticMap map[string]string `mapstructure:"static_map" yaml:"static_map,omitempty"`
}

// NTLMConfig configures the NTLM acceptor.
type NTLMConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Domain is the NetBIOS domain announced in the CHALLENGE message.
	// Default: WORKGROUP
	Domain string `mapstructure:"domain" validate:"omitempty,max=15" yaml:"domain"`

	// Computer is the NetBIOS computer name. Defaults to the host name.
	Computer string `mapstructure:"computer" validate:"omitempty,max=15" yaml:"computer,omitempty"`

	DNSDomain   string `mapstructure:"dns_domain" yaml:"dns_domain,omitempty"`
	DNSComputer string `mapstructure:"dns_computer" yaml:"dns_computer,omitempty"`

	// MaxClockSkew rejects NTLMv2 responses older than this. Zero disables the check.
	// Default: 5m
	MaxClockSkew time.Duration `mapstructure:"max_clock_skew" validate:"gte=0" yaml:"max_clock_skew"`

	// LookupTimeout bounds a single account lookup.
	// Default: 5s
	LookupTimeout time.Duration `mapstructure:"lookup_timeout" validate:"gte=0" yaml:"lookup_timeout"`
}

// AccountsConfig configures where NTLM account secrets come from. Static
// entries take precedence over database rows with the same name.
type AccountsConfig struct {
	Database DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Static   []StaticAccount `mapstructure:"static" validate:"dive" yaml:"static,omitempty"`
}

// DatabaseType defines the supported account databases.
type DatabaseType string

const (
	DatabaseTypeNone     DatabaseType = "none"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// DatabaseConfig selects the account database.
type DatabaseConfig struct {
	// Type is one of none, sqlite, postgres
	// Default: sqlite
	Type     DatabaseType   `mapstructure:"type" validate:"required,oneof=none sqlite postgres" yaml:"type"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// SQLiteConfig configures the embedded account database.
type SQLiteConfig struct {
	// Path is the database file
	// Default: $XDG_CONFIG_HOME/negotiate/accounts.db
	Path string `mapstructure:"path" yaml:"path"`
}

// PostgresConfig configures a PostgreSQL account database.
type PostgresConfig struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
	Database     string `mapstructure:"database" yaml:"database"`
	User         string `mapstructure:"user" yaml:"user"`
	Password     string `mapstructure:"password" yaml:"password,omitempty"`
	SSLMode      string `mapstructure:"sslmode" validate:"omitempty,oneof=disable require verify-ca verify-full" yaml:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0" yaml:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0" yaml:"max_idle_conns"`
}

// DSN returns the libpq connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// StaticAccount is an NTLM account declared in the configuration file.
// Exactly one of Password and NTHash must be set.
type StaticAccount struct {
	Username string `mapstructure:"username" validate:"required" yaml:"username"`

	// Domain restricts the account to one NTLM domain. Empty matches any.
	Domain string `mapstructure:"domain" yaml:"domain,omitempty"`

	Password string `mapstructure:"password" validate:"required_without=NTHash,excluded_with=NTHash" yaml:"password,omitempty"`

	// NTHash is the hex encoded MD4 of the UTF-16LE password.
	NTHash string `mapstructure:"nt_hash" validate:"omitempty,len=32,hexadecimal" yaml:"nt_hash,omitempty"`
}

// UpstreamConfig configures the optional reverse proxy behind the middleware.
type UpstreamConfig struct {
	// URL is the upstream base URL. Empty disables proxying.
	URL string `mapstructure:"url" validate:"omitempty,url" yaml:"url,omitempty"`

	// UserHeader carries the authenticated principal to the upstream.
	// Default: X-Remote-User
	UserHeader string `mapstructure:"user_header" yaml:"user_header"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (NEGOTIATE_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  negotiate config init\n\n"+
				"Or specify a custom config file:\n"+
				"  negotiate <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  negotiate config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may hold account passwords and database credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: NEGOTIATE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("NEGOTIATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/negotiate/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for ByteSize and time.Duration.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize so
// config files can use sizes like "64Ki" or "1MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return byteSizeFromNumber(float64(v))
		case int64:
			return byteSizeFromNumber(float64(v))
		case uint64:
			return byteSizeFromNumber(float64(v))
		case float64:
			// YAML often deserializes numbers as float64
			return byteSizeFromNumber(v)
		default:
			return data, nil
		}
	}
}

func byteSizeFromNumber(v float64) (bytesize.ByteSize, error) {
	if v < 0 || v > float64(bytesize.Max) {
		return 0, fmt.Errorf("byte size %v out of range [0, %d]", v, uint64(bytesize.Max))
	}
	return bytesize.ByteSize(v), nil
}

// durationDecodeHook converts strings like "30s" or "5m" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "negotiate")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "negotiate")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
