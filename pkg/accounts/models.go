package accounts

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/negotiate/internal/auth/ntlm"
)

// Account is an NTLM account held in the account database.
//
// Only the NT hash is stored; it is password-equivalent for NTLM and must
// be protected like a password.
type Account struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	Username string `gorm:"uniqueIndex:idx_account_principal;not null;size:255" json:"username"`

	// Domain restricts the account to one NTLM domain. Empty matches any.
	Domain string `gorm:"uniqueIndex:idx_account_principal;not null;default:'';size:255" json:"domain"`

	NTHash    string    `gorm:"not null;size:32" json:"-"`
	Enabled   bool      `gorm:"default:true" json:"enabled"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the GORM table name.
func (Account) TableName() string { return "accounts" }

// Principal renders the account as DOMAIN\user, or the bare user name for
// accounts valid in any domain.
func (a *Account) Principal() string {
	if a.Domain == "" {
		return a.Username
	}
	return a.Domain + `\` + a.Username
}

// SetPassword stores the NT hash of password.
func (a *Account) SetPassword(password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	h := ntlm.ComputeNTHash(password)
	a.NTHash = hex.EncodeToString(h[:])
	return nil
}

// Hash decodes the stored NT hash.
func (a *Account) Hash() ([16]byte, error) {
	return decodeNTHash(a.NTHash)
}

func decodeNTHash(s string) ([16]byte, error) {
	var out [16]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("decode NT hash: %w", err)
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("decode NT hash: want %d bytes, got %d", len(out), len(b))
	}
	copy(out[:], b)
	return out, nil
}

// normalizeUser lower-cases user names; NTLM user names are case-insensitive.
func normalizeUser(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// normalizeDomain upper-cases NetBIOS and DNS domain names.
func normalizeDomain(domain string) string {
	return strings.ToUpper(strings.TrimSpace(domain))
}

// AllModels returns the models managed by AutoMigrate.
func AllModels() []any {
	return []any{&Account{}}
}
