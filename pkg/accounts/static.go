package accounts

import (
	"context"
	"fmt"

	"github.com/marmos91/negotiate/internal/auth/ntlm"
	"github.com/marmos91/negotiate/pkg/config"
)

type staticKey struct {
	username string
	domain   string
}

// StaticStore serves accounts declared in the configuration file.
type StaticStore struct {
	accounts map[staticKey][16]byte
}

// NewStaticStore builds a store from configured accounts. Passwords are
// hashed once here.
func NewStaticStore(list []config.StaticAccount) (*StaticStore, error) {
	s := &StaticStore{accounts: make(map[staticKey][16]byte, len(list))}
	for i, a := range list {
		key := staticKey{normalizeUser(a.Username), normalizeDomain(a.Domain)}
		if key.username == "" {
			return nil, fmt.Errorf("static account %d: username is required", i)
		}
		if _, dup := s.accounts[key]; dup {
			return nil, fmt.Errorf("static account %d: %w", i, ErrDuplicateAccount)
		}

		var hash [16]byte
		switch {
		case a.NTHash != "":
			h, err := decodeNTHash(a.NTHash)
			if err != nil {
				return nil, fmt.Errorf("static account %d: %w", i, err)
			}
			hash = h
		case a.Password != "":
			hash = ntlm.ComputeNTHash(a.Password)
		default:
			return nil, fmt.Errorf("static account %d: %w", i, ErrEmptyPassword)
		}
		s.accounts[key] = hash
	}
	return s, nil
}

// Len returns the number of accounts.
func (s *StaticStore) Len() int {
	return len(s.accounts)
}

// LookupNTHash implements ntlm.CredentialStore.
func (s *StaticStore) LookupNTHash(_ context.Context, username, domain string) ([16]byte, error) {
	user := normalizeUser(username)
	if h, ok := s.accounts[staticKey{user, normalizeDomain(domain)}]; ok {
		return h, nil
	}
	if h, ok := s.accounts[staticKey{user, ""}]; ok {
		return h, nil
	}
	return [16]byte{}, ntlm.ErrUnknownUser
}
