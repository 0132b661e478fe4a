package kerberos

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/marmos91/negotiate/internal/logger"
	"github.com/marmos91/negotiate/pkg/config"
)

// defaultKrb5ConfPath is read when no krb5.conf is configured. A missing
// default file is not an error.
const defaultKrb5ConfPath = "/etc/krb5.conf"

// Provider manages Kerberos keytab and krb5.conf state.
//
// It is the shared Kerberos resource used by the SPNEGO acceptor. The keytab
// can be hot-reloaded at runtime via ReloadKeytab() without disrupting
// handshakes already in flight.
//
// Thread Safety: All methods are safe for concurrent use.
type Provider struct {
	keytab        *keytab.Keytab
	krb5Conf      *krb5config.Config
	maxClockSkew  time.Duration
	keytabPath    string
	keytabManager *KeytabManager
	mu            sync.RWMutex
}

// NewProvider creates a new Kerberos provider from configuration.
//
// It loads the keytab file and krb5.conf at startup, then starts a
// KeytabManager that watches the keytab for rotation.
//
// Environment variables take precedence over config file values:
//   - NEGOTIATE_KERBEROS_KEYTAB overrides KeytabPath (also NEGOTIATE_KERBEROS_KEYTAB_PATH)
//   - NEGOTIATE_KERBEROS_KRB5CONF overrides Krb5Conf
func NewProvider(cfg *config.KerberosConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kerberos config is nil")
	}

	keytabPath := resolveKeytabPath(cfg.KeytabPath)
	if keytabPath == "" {
		return nil, fmt.Errorf("kerberos keytab path not configured (set keytab_path or NEGOTIATE_KERBEROS_KEYTAB)")
	}

	kt, err := loadKeytab(keytabPath)
	if err != nil {
		return nil, fmt.Errorf("load keytab %s: %w", keytabPath, err)
	}

	krb5ConfPath, explicit := resolveKrb5ConfPath(cfg.Krb5Conf)
	krbCfg, err := loadKrb5Conf(krb5ConfPath)
	if err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load krb5.conf %s: %w", krb5ConfPath, err)
		}
		krbCfg = nil
	}

	p := &Provider{
		keytab:       kt,
		krb5Conf:     krbCfg,
		maxClockSkew: cfg.MaxClockSkew,
		keytabPath:   keytabPath,
	}

	km := NewKeytabManager(keytabPath, p, cfg.ReloadInterval)
	if err := km.Start(); err != nil {
		// Hot-reload is best effort; the loaded keytab keeps serving.
		logger.Warn("Keytab hot-reload failed to start, continuing without it",
			logger.KeyKeytab, keytabPath, logger.KeyError, err)
	}
	p.keytabManager = km

	logger.Info("Kerberos provider ready",
		logger.KeyKeytab, keytabPath,
		"default_realm", p.DefaultRealm(),
		"entries", len(kt.Entries))

	return p, nil
}

// NewProviderFromKeytab creates a provider around an in-memory keytab.
// The keytab is never reloaded.
func NewProviderFromKeytab(kt *keytab.Keytab, maxClockSkew time.Duration) *Provider {
	return &Provider{
		keytab:       kt,
		maxClockSkew: maxClockSkew,
	}
}

// Keytab returns the current keytab (thread-safe read).
func (p *Provider) Keytab() *keytab.Keytab {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.keytab
}

// MaxClockSkew returns the maximum allowed clock skew.
func (p *Provider) MaxClockSkew() time.Duration {
	return p.maxClockSkew
}

// Krb5Config returns the loaded Kerberos configuration, or nil when none
// was found.
func (p *Provider) Krb5Config() *krb5config.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.krb5Conf
}

// DefaultRealm returns default_realm from krb5.conf, or "" without one.
func (p *Provider) DefaultRealm() string {
	if c := p.Krb5Config(); c != nil {
		return c.LibDefaults.DefaultRealm
	}
	return ""
}

// ReloadKeytab re-reads the keytab file and atomically swaps it.
// Handshakes in progress keep the keytab they started with.
func (p *Provider) ReloadKeytab() error {
	if p.keytabPath == "" {
		return fmt.Errorf("keytab was not loaded from a file")
	}

	kt, err := loadKeytab(p.keytabPath)
	if err != nil {
		return fmt.Errorf("reload keytab %s: %w", p.keytabPath, err)
	}

	p.mu.Lock()
	p.keytab = kt
	p.mu.Unlock()

	return nil
}

// Healthcheck reports an error when the current keytab holds no keys.
func (p *Provider) Healthcheck(_ context.Context) error {
	kt := p.Keytab()
	if kt == nil || len(kt.Entries) == 0 {
		return errors.New("keytab has no entries")
	}
	return nil
}

// Close stops the KeytabManager. Safe to call multiple times.
func (p *Provider) Close() error {
	if p.keytabManager != nil {
		p.keytabManager.Stop()
	}
	return nil
}

// loadKeytab reads and parses a keytab file.
func loadKeytab(path string) (*keytab.Keytab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keytab file: %w", err)
	}

	kt := keytab.New()
	if err := kt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parse keytab: %w", err)
	}

	return kt, nil
}

// loadKrb5Conf reads and parses a Kerberos configuration file.
func loadKrb5Conf(path string) (*krb5config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	cfg, err := krb5config.Load(path)
	var unsupported krb5config.UnsupportedDirective
	if errors.As(err, &unsupported) && cfg != nil {
		logger.Warn("krb5.conf contains unsupported directives", "path", path, logger.KeyError, err)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse krb5.conf: %w", err)
	}

	return cfg, nil
}
