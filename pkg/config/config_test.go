package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/negotiate/internal/bytesize"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
// On Windows, backslashes in double-quoted YAML strings are interpreted as
// escape sequences (e.g. \U -> Unicode escape), causing parse errors.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "info"

negotiate:
  service_principal: "HTTP/web.example.com"
  ntlm:
    enabled: true
    domain: corp

accounts:
  database:
    type: sqlite
    sqlite:
      path: "`+yamlSafePath(tmpDir)+`/accounts.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Negotiate.NTLM.Domain != "CORP" {
		t.Errorf("Expected upper-cased NTLM domain, got %q", cfg.Negotiate.NTLM.Domain)
	}
	if cfg.Upstream.UserHeader != "X-Remote-User" {
		t.Errorf("Expected default user header, got %q", cfg.Upstream.UserHeader)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Loading with no config file returns a valid default config.
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if !cfg.Negotiate.NTLM.Enabled {
		t.Error("Expected NTLM to be enabled by default")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_ByteSizeOutOfRange(t *testing.T) {
	for _, v := range []string{"-1", "4294967296", `"4096Mi"`} {
		configPath := writeConfig(t, "config.yaml", `
server:
  max_header_bytes: `+v+`
negotiate:
  service_principal: "HTTP/web.example.com"
`)
		if _, err := Load(configPath); err == nil {
			t.Errorf("max_header_bytes %s: expected error, got nil", v)
		}
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[server]
port = 8443
max_header_bytes = "128Ki"

[negotiate]
service_principal = "HTTP/web.example.com"

[negotiate.kerberos]
enabled = true
keytab_path = "/etc/negotiate/http.keytab"
max_clock_skew = "2m"

[accounts.database]
type = "none"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Server.MaxHeaderBytes != 128*bytesize.KiB {
		t.Errorf("Expected 128Ki header limit, got %v", cfg.Server.MaxHeaderBytes)
	}
	if cfg.Negotiate.Kerberos.MaxClockSkew != 2*time.Minute {
		t.Errorf("Expected 2m clock skew, got %v", cfg.Negotiate.Kerberos.MaxClockSkew)
	}
	if cfg.Server.ListenAddr() != ":8443" {
		t.Errorf("Expected listen address ':8443', got %q", cfg.Server.ListenAddr())
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
negotiate:
  service_principal: "HTTP/web.example.com"
  ntlm:
    enabled: false
  kerberos:
    enabled: false
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error when no mechanism is enabled")
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Accounts.Database.Type != DatabaseTypeSQLite {
		t.Errorf("Expected sqlite account database, got %q", cfg.Accounts.Database.Type)
	}
	if cfg.Negotiate.Kerberos.Enabled {
		t.Error("Kerberos should stay disabled until a keytab is configured")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Default config should validate, got: %v", err)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path := GetDefaultConfigPath()
	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
	if DefaultConfigExists() {
		t.Error("Expected no config in a fresh XDG directory")
	}
}

func TestGetConfigDir(t *testing.T) {
	if filepath.Base(GetConfigDir()) != "negotiate" {
		t.Errorf("Expected directory name 'negotiate', got %q", filepath.Base(GetConfigDir()))
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("NEGOTIATE_LOGGING_LEVEL", "ERROR")
	t.Setenv("NEGOTIATE_SERVER_PORT", "9443")

	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "INFO"

server:
  port: 8080

negotiate:
  service_principal: "HTTP/web.example.com"
  ntlm:
    enabled: true
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Server.Port != 9443 {
		t.Errorf("Expected port 9443 from env var, got %d", cfg.Server.Port)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := GetDefaultConfig()
	cfg.Accounts.Static = []StaticAccount{{Username: "alice", Password: "s3cret!"}}

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat saved config: %v", err)
	}
	if info.Mode().Perm() != 0600 && os.PathSeparator == '/' {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load saved config: %v", err)
	}
	if len(loaded.Accounts.Static) != 1 || loaded.Accounts.Static[0].Username != "alice" {
		t.Errorf("Static accounts not preserved: %+v", loaded.Accounts.Static)
	}
}
