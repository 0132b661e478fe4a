package kerberos

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel/codes"

	"github.com/marmos91/negotiate/internal/logger"
	"github.com/marmos91/negotiate/internal/telemetry"
)

// DefaultReloadInterval is the keytab poll interval used when none is configured.
const DefaultReloadInterval = 60 * time.Second

// KeytabManager watches a keytab file for changes and triggers hot-reload.
//
// Key management tools like kadmin or k5srvutil usually replace the keytab
// with a rename, so the parent directory is watched rather than the file.
// A slower poll runs alongside the watcher and takes over on filesystems
// where inotify events never arrive (NFS, some container mounts).
//
// Thread Safety: All methods are safe for concurrent use.
type KeytabManager struct {
	path     string
	provider *Provider
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	started  bool
	lastMod  time.Time
	lastSize int64
}

// NewKeytabManager creates a new keytab file manager (not yet started).
func NewKeytabManager(path string, provider *Provider, interval time.Duration) *KeytabManager {
	if interval <= 0 {
		interval = DefaultReloadInterval
	}
	return &KeytabManager{
		path:     path,
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start records the current state of the keytab and begins watching it.
// A watcher that cannot be created degrades to polling only.
func (km *KeytabManager) Start() error {
	km.mu.Lock()
	defer km.mu.Unlock()

	if km.started {
		return nil
	}

	info, err := os.Stat(km.path)
	if err != nil {
		return fmt.Errorf("keytab file not accessible: %w", err)
	}
	km.lastMod = info.ModTime()
	km.lastSize = info.Size()

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if addErr := watcher.Add(filepath.Dir(km.path)); addErr != nil {
			_ = watcher.Close()
			watcher, err = nil, addErr
		}
	}
	if err != nil {
		logger.Warn("Keytab watcher unavailable, polling only",
			logger.KeyKeytab, km.path, logger.KeyError, err)
	}

	km.started = true
	go km.loop(watcher)

	logger.Info("Keytab hot-reload started",
		logger.KeyKeytab, km.path,
		"watch", watcher != nil,
		"poll_interval", km.interval.String(),
	)

	return nil
}

// Stop stops the watcher and poller and waits for them to exit.
//
// This is safe to call multiple times or on a manager that was never started.
func (km *KeytabManager) Stop() {
	km.mu.Lock()
	started := km.started
	select {
	case <-km.stopCh:
	default:
		close(km.stopCh)
	}
	km.mu.Unlock()

	if started {
		<-km.doneCh
	}
}

func (km *KeytabManager) loop(watcher *fsnotify.Watcher) {
	defer close(km.doneCh)

	ticker := time.NewTicker(km.interval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	var errs chan error
	if watcher != nil {
		defer watcher.Close()
		events = watcher.Events
		errs = watcher.Errors
	}

	name := filepath.Clean(km.path)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				km.checkAndReload()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("Keytab watcher error", logger.KeyKeytab, km.path, logger.KeyError, err)
		case <-ticker.C:
			km.checkAndReload()
		case <-km.stopCh:
			return
		}
	}
}

// checkAndReload reloads the keytab when its modification time or size
// changed since the last successful load.
func (km *KeytabManager) checkAndReload() {
	km.mu.Lock()
	defer km.mu.Unlock()

	info, err := os.Stat(km.path)
	if err != nil {
		// Mid-rename the file may briefly be missing; the Create event follows.
		logger.Debug("Keytab file stat failed", logger.KeyKeytab, km.path, logger.KeyError, err)
		return
	}

	if info.ModTime().Equal(km.lastMod) && info.Size() == km.lastSize {
		return
	}

	ctx, span := telemetry.StartSpan(context.Background(), telemetry.SpanKeytabReload)
	defer span.End()

	start := time.Now()
	if err := km.provider.ReloadKeytab(); err != nil {
		telemetry.RecordError(ctx, err)
		logger.Error("Keytab reload failed", logger.KeyKeytab, km.path, logger.KeyError, err)
		return
	}
	telemetry.SetStatus(ctx, codes.Ok, "")

	km.lastMod = info.ModTime()
	km.lastSize = info.Size()
	logger.Info("Keytab reloaded",
		logger.KeyKeytab, km.path,
		logger.KeyDurationMs, time.Since(start).Milliseconds(),
	)
}

// resolveKeytabPath resolves the keytab path with environment variable override.
//
// Resolution order (highest priority first):
//  1. NEGOTIATE_KERBEROS_KEYTAB env var (preferred)
//  2. NEGOTIATE_KERBEROS_KEYTAB_PATH env var (alternative name)
//  3. configPath from configuration file
func resolveKeytabPath(configPath string) string {
	if envPath := os.Getenv("NEGOTIATE_KERBEROS_KEYTAB"); envPath != "" {
		return envPath
	}
	if envPath := os.Getenv("NEGOTIATE_KERBEROS_KEYTAB_PATH"); envPath != "" {
		return envPath
	}
	return configPath
}

// resolveKrb5ConfPath resolves the krb5.conf path with environment variable
// override. The boolean reports whether the path was set explicitly.
//
// Resolution order (highest priority first):
//  1. NEGOTIATE_KERBEROS_KRB5CONF env var
//  2. configPath from configuration file
//  3. Default: /etc/krb5.conf
func resolveKrb5ConfPath(configPath string) (string, bool) {
	if envPath := os.Getenv("NEGOTIATE_KERBEROS_KRB5CONF"); envPath != "" {
		return envPath, true
	}
	if configPath != "" {
		return configPath, true
	}
	return defaultKrb5ConfPath, false
}
