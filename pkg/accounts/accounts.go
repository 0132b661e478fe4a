package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/marmos91/negotiate/internal/auth/ntlm"
	"github.com/marmos91/negotiate/internal/logger"
	"github.com/marmos91/negotiate/internal/telemetry"
)

// CreateAccount adds an enabled account with the NT hash of password.
func (s *GORMStore) CreateAccount(ctx context.Context, username, domain, password string) (*Account, error) {
	acct := &Account{
		ID:       uuid.New().String(),
		Username: normalizeUser(username),
		Domain:   normalizeDomain(domain),
		Enabled:  true,
	}
	if acct.Username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if err := acct.SetPassword(password); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(acct).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrDuplicateAccount
		}
		return nil, err
	}
	return acct, nil
}

// GetAccount returns the account stored under exactly username and domain.
func (s *GORMStore) GetAccount(ctx context.Context, username, domain string) (*Account, error) {
	var acct Account
	err := s.db.WithContext(ctx).
		Where("username = ? AND domain = ?", normalizeUser(username), normalizeDomain(domain)).
		First(&acct).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrAccountNotFound)
	}
	return &acct, nil
}

// ListAccounts returns all accounts ordered by domain and user name.
func (s *GORMStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	var out []*Account
	if err := s.db.WithContext(ctx).Order("domain, username").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// SetPassword replaces the NT hash of an account.
func (s *GORMStore) SetPassword(ctx context.Context, username, domain, password string) error {
	var probe Account
	if err := probe.SetPassword(password); err != nil {
		return err
	}
	return s.updateAccount(ctx, username, domain, map[string]any{"nt_hash": probe.NTHash})
}

// SetEnabled enables or disables an account.
func (s *GORMStore) SetEnabled(ctx context.Context, username, domain string, enabled bool) error {
	return s.updateAccount(ctx, username, domain, map[string]any{"enabled": enabled})
}

func (s *GORMStore) updateAccount(ctx context.Context, username, domain string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&Account{}).
		Where("username = ? AND domain = ?", normalizeUser(username), normalizeDomain(domain)).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// DeleteAccount removes an account.
func (s *GORMStore) DeleteAccount(ctx context.Context, username, domain string) error {
	res := s.db.WithContext(ctx).
		Where("username = ? AND domain = ?", normalizeUser(username), normalizeDomain(domain)).
		Delete(&Account{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// LookupNTHash implements ntlm.CredentialStore. An account bound to domain
// wins over one valid in any domain. Disabled accounts are reported as
// unknown.
func (s *GORMStore) LookupNTHash(ctx context.Context, username, domain string) ([16]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanAccountLookup)
	defer span.End()

	var acct Account
	err := s.db.WithContext(ctx).
		Where("username = ? AND domain IN ?", normalizeUser(username), []string{normalizeDomain(domain), ""}).
		Order("domain DESC").
		First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return [16]byte{}, ntlm.ErrUnknownUser
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		return [16]byte{}, fmt.Errorf("lookup account: %w", err)
	}

	if !acct.Enabled {
		logger.Warn("Rejecting disabled account",
			logger.KeyUsername, acct.Username,
			logger.KeyDomain, acct.Domain,
			logger.KeyStoreType, string(s.dbType))
		return [16]byte{}, fmt.Errorf("%w: %w", ntlm.ErrUnknownUser, ErrAccountDisabled)
	}

	return acct.Hash()
}
