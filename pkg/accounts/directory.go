package accounts

import (
	"context"
	"errors"

	"github.com/marmos91/negotiate/internal/auth/ntlm"
	"github.com/marmos91/negotiate/internal/logger"
	"github.com/marmos91/negotiate/pkg/config"
)

// Directory chains the static accounts and the account database. Static
// accounts are consulted first.
type Directory struct {
	static *StaticStore
	db     *GORMStore
}

// NewDirectory opens the stores configured in cfg.
func NewDirectory(cfg *config.AccountsConfig) (*Directory, error) {
	static, err := NewStaticStore(cfg.Static)
	if err != nil {
		return nil, err
	}

	d := &Directory{static: static}
	if cfg.Database.Type != "" && cfg.Database.Type != config.DatabaseTypeNone {
		db, err := Open(&cfg.Database)
		if err != nil {
			return nil, err
		}
		d.db = db
	}

	logger.Info("Account directory ready",
		"static_accounts", static.Len(),
		logger.KeyStoreType, string(cfg.Database.Type))

	return d, nil
}

// Database returns the account database, or nil when none is configured.
func (d *Directory) Database() *GORMStore {
	return d.db
}

// LookupNTHash implements ntlm.CredentialStore.
func (d *Directory) LookupNTHash(ctx context.Context, username, domain string) ([16]byte, error) {
	h, err := d.static.LookupNTHash(ctx, username, domain)
	if err == nil || d.db == nil || !errors.Is(err, ntlm.ErrUnknownUser) {
		return h, err
	}
	return d.db.LookupNTHash(ctx, username, domain)
}

// Healthcheck reports whether the account database is reachable. A
// directory without a database is always healthy.
func (d *Directory) Healthcheck(ctx context.Context) error {
	if d.db == nil {
		return nil
	}
	return d.db.Healthcheck(ctx)
}

// Close releases the account database.
func (d *Directory) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

var (
	_ ntlm.CredentialStore = (*Directory)(nil)
	_ ntlm.CredentialStore = (*StaticStore)(nil)
	_ ntlm.CredentialStore = (*GORMStore)(nil)
)
