package negotiate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContextPanicsOutsideMiddleware(t *testing.T) {
	assert.Panics(t, func() { FromContext(context.Background()) })
	assert.Panics(t, func() { FromRequest(httptest.NewRequest(http.MethodGet, "/", nil)) })
}

func TestZeroAuthenticatedPanics(t *testing.T) {
	var a Authenticated
	assert.Panics(t, func() { a.Identity() })
	assert.PanicsWithValue(t, zeroAuthenticatedMsg, func() { _ = a.ConnID() })
	assert.Panics(t, func() { a.Client() })
}

func TestAuthenticatedOnUnauthenticatedConnectionPanics(t *testing.T) {
	a := Authenticated{state: NewConnState("192.0.2.1:50000")}
	assert.Panics(t, func() { a.Identity() })
}

func TestAuthenticatedIdentity(t *testing.T) {
	cs := NewConnState("192.0.2.1:50000")
	cs.takeExclusive()
	cs.install(authenticated(&Identity{Mechanism: MechanismNTLM, Principal: `CORP\bob`, Username: "bob", Realm: "CORP"}))

	r := withAuthenticated(httptest.NewRequest(http.MethodGet, "/", nil), cs)
	a := FromRequest(r)

	id := a.Identity()
	assert.Equal(t, "bob", id.Username)
	assert.Equal(t, "CORP", id.Realm)

	name, ok := a.Client()
	require.True(t, ok)
	assert.Equal(t, `CORP\bob`, name)
	assert.Equal(t, cs.ID(), a.ConnID())
}

func TestAuthenticatedIdentityIsACopy(t *testing.T) {
	cs := NewConnState("192.0.2.1:50000")
	cs.takeExclusive()
	cs.install(authenticated(&Identity{
		Mechanism:  MechanismKerberos,
		Principal:  "alice@EXAMPLE.COM",
		Username:   "alice",
		Realm:      "EXAMPLE.COM",
		SessionKey: []byte{1, 2, 3, 4},
	}))
	a := Authenticated{state: cs}

	first := a.Identity()
	first.Principal = "mallory@EXAMPLE.COM"
	first.Username = "mallory"
	first.SessionKey[0] = 0xff

	second := a.Identity()
	assert.Equal(t, "alice@EXAMPLE.COM", second.Principal)
	assert.Equal(t, "alice", second.Username)
	assert.Equal(t, []byte{1, 2, 3, 4}, second.SessionKey)

	name, ok := a.Client()
	require.True(t, ok)
	assert.Equal(t, "alice@EXAMPLE.COM", name)
}

func TestIdentityNameUndecodable(t *testing.T) {
	tests := []struct {
		name      string
		principal string
	}{
		{"empty", ""},
		{"invalid utf-8", "al\xffice@EXAMPLE.COM"},
		{"lone surrogate bytes", "\xed\xa0\x80@EXAMPLE.COM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := &Identity{Mechanism: MechanismKerberos, Principal: tt.principal}
			name, ok := id.Name()
			assert.False(t, ok)
			assert.Empty(t, name)
		})
	}
}

func TestConnStateDefaults(t *testing.T) {
	a := NewConnState("192.0.2.1:50000")
	b := NewConnState("192.0.2.1:50001")

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, "192.0.2.1:50000", a.RemoteAddr())
	assert.Equal(t, PhaseUnauthorized, a.Phase())
	assert.False(t, a.IsAuthenticated())
	_, ok := a.Identity()
	assert.False(t, ok)
}

func TestTakeExclusiveLeavesPlaceholder(t *testing.T) {
	cs := NewConnState("192.0.2.1:50000")
	cs.takeExclusive()
	cs.install(pending(&fakeContext{mech: MechanismNTLM}))

	prev := cs.takeExclusive()
	assert.Equal(t, PhasePending, prev.Phase())
	assert.Equal(t, PhaseUnauthorized, cs.state.Phase())
	cs.install(prev)

	assert.Equal(t, PhasePending, cs.Phase())
}
