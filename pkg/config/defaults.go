package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/negotiate/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit
// values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyServerDefaults(&cfg.Server)
	applyNegotiateDefaults(&cfg.Negotiate)
	applyDatabaseDefaults(&cfg.Accounts.Database)
	applyUpstreamDefaults(&cfg.Upstream)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyMetricsDefaults sets the port only when metrics are enabled.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MaxHeaderBytes == 0 {
		cfg.MaxHeaderBytes = 64 * bytesize.KiB
	}
}

func applyNegotiateDefaults(cfg *NegotiateConfig) {
	if cfg.ServicePrincipal == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.ServicePrincipal = "HTTP/" + strings.ToLower(host)
		}
	}

	if cfg.Kerberos.MaxClockSkew == 0 {
		cfg.Kerberos.MaxClockSkew = 5 * time.Minute
	}
	if cfg.Kerberos.ReloadInterval == 0 {
		cfg.Kerberos.ReloadInterval = 60 * time.Second
	}

	if cfg.NTLM.Domain == "" {
		cfg.NTLM.Domain = "WORKGROUP"
	}
	cfg.NTLM.Domain = strings.ToUpper(cfg.NTLM.Domain)
	if cfg.NTLM.MaxClockSkew == 0 {
		cfg.NTLM.MaxClockSkew = 5 * time.Minute
	}
	if cfg.NTLM.LookupTimeout == 0 {
		cfg.NTLM.LookupTimeout = 5 * time.Second
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.Type == "" {
		cfg.Type = DatabaseTypeSQLite
	}

	if cfg.Type == DatabaseTypeSQLite && cfg.SQLite.Path == "" {
		cfg.SQLite.Path = filepath.Join(getConfigDir(), "accounts.db")
	}

	if cfg.Type == DatabaseTypePostgres {
		if cfg.Postgres.Port == 0 {
			cfg.Postgres.Port = 5432
		}
		if cfg.Postgres.SSLMode == "" {
			cfg.Postgres.SSLMode = "disable"
		}
		if cfg.Postgres.MaxOpenConns == 0 {
			cfg.Postgres.MaxOpenConns = 25
		}
		if cfg.Postgres.MaxIdleConns == 0 {
			cfg.Postgres.MaxIdleConns = 5
		}
	}
}

func applyUpstreamDefaults(cfg *UpstreamConfig) {
	if cfg.UserHeader == "" {
		cfg.UserHeader = "X-Remote-User"
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
// NTLM is enabled against the local account database; Kerberos needs a
// keytab and stays off until one is configured.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Negotiate: NegotiateConfig{
			NTLM: NTLMConfig{Enabled: true},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
