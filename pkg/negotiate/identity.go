package negotiate

import (
	"context"
	"net/http"
	"unicode/utf8"
)

// Identity is the client resolved by a finished handshake.
type Identity struct {
	Mechanism Mechanism

	// Principal is the display form of the client name (alice@EXAMPLE.COM,
	// CORP\alice). Empty when the mechanism could not render it as text.
	Principal string

	// Username is the bare account name without realm, domain or instance.
	Username string

	// Realm is the Kerberos realm or the NTLM domain.
	Realm string

	// SessionKey is the mechanism session key, when one was established.
	SessionKey []byte
}

// Name returns the principal name and whether it could be decoded. A
// principal that is not valid UTF-8 reports no name.
func (i *Identity) Name() (string, bool) {
	if i.Principal == "" || !utf8.ValidString(i.Principal) {
		return "", false
	}
	return i.Principal, true
}

func (i *Identity) clone() *Identity {
	c := *i
	if i.SessionKey != nil {
		c.SessionKey = append([]byte(nil), i.SessionKey...)
	}
	return &c
}

type authenticatedKey struct{}

// Authenticated is the capability handed to downstream handlers once the
// connection is authenticated. Only Middleware creates it, so holding one
// proves the handshake succeeded.
type Authenticated struct {
	state *ConnState
}

const zeroAuthenticatedMsg = "negotiate: zero Authenticated value; obtain it with FromRequest or FromContext"

// Identity returns a copy of the authenticated client. It panics if the
// connection is not authenticated, which cannot happen for a value obtained
// from the request context.
func (a Authenticated) Identity() *Identity {
	if a.state == nil {
		panic(zeroAuthenticatedMsg)
	}
	id, ok := a.state.Identity()
	if !ok {
		panic("negotiate: Authenticated used on a connection that is not authenticated")
	}
	return id.clone()
}

// Client returns the client principal name, if it could be decoded.
func (a Authenticated) Client() (string, bool) {
	return a.Identity().Name()
}

// ConnID returns the identifier of the authenticated connection.
func (a Authenticated) ConnID() string {
	if a.state == nil {
		panic(zeroAuthenticatedMsg)
	}
	return a.state.ID()
}

// FromContext returns the Authenticated capability stored by Middleware.
// It panics when ctx did not pass through Middleware.Handler: reading the
// identity on an unprotected route is a programming error.
func FromContext(ctx context.Context) Authenticated {
	a, ok := ctx.Value(authenticatedKey{}).(Authenticated)
	if !ok {
		panic("negotiate: no Authenticated in request context; the handler is not wrapped by Middleware.Handler")
	}
	return a
}

// FromRequest is FromContext(r.Context()).
func FromRequest(r *http.Request) Authenticated {
	return FromContext(r.Context())
}

func withAuthenticated(r *http.Request, s *ConnState) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), authenticatedKey{}, Authenticated{state: s}))
}
