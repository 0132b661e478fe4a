package kerberos

import (
	"strings"

	"github.com/marmos91/negotiate/pkg/config"
)

// PrincipalMapper converts an authenticated Kerberos principal to the name
// handlers and the upstream see.
type PrincipalMapper interface {
	// MapPrincipal maps a principal name (e.g., "alice" or "HTTP/web") and
	// its realm to a display name.
	MapPrincipal(name, realm string) string
}

// StaticMapper implements PrincipalMapper using a static configuration map.
//
// Principals are looked up using the key format "name@REALM". Unmatched
// principals keep their full name, or lose the realm when StripRealm is set
// and the realm is the local one.
type StaticMapper struct {
	staticMap  map[string]string
	stripRealm bool
	localRealm string
}

// NewStaticMapper creates a mapper from configuration. localRealm limits
// realm stripping to one realm; empty strips every realm.
func NewStaticMapper(cfg *config.IdentityMappingConfig, localRealm string) *StaticMapper {
	staticMap := cfg.StaticMap
	if staticMap == nil {
		staticMap = make(map[string]string)
	}

	return &StaticMapper{
		staticMap:  staticMap,
		stripRealm: cfg.StripRealm,
		localRealm: localRealm,
	}
}

// MapPrincipal implements PrincipalMapper.
func (m *StaticMapper) MapPrincipal(name, realm string) string {
	full := name + "@" + realm
	if mapped, ok := m.staticMap[full]; ok {
		return mapped
	}

	if m.stripRealm && (m.localRealm == "" || strings.EqualFold(realm, m.localRealm)) {
		return name
	}
	return full
}
