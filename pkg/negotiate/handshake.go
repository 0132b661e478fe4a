package negotiate

// Mechanism identifies the security mechanism a handshake context runs.
type Mechanism int

const (
	MechanismUnknown Mechanism = iota
	MechanismKerberos
	MechanismNTLM
)

func (m Mechanism) String() string {
	switch m {
	case MechanismKerberos:
		return "kerberos"
	case MechanismNTLM:
		return "ntlm"
	default:
		return "unknown"
	}
}

// Context is a single-use, mechanism-specific handshake continuation.
//
// Step consumes the context: after it returns, the receiver must not be
// stepped again. When the handshake needs another round trip the returned
// Outcome carries the continuation to use for the next token. A non-nil
// error is a protocol failure; the connection goes back to unauthorized.
//
// Implementations are never stepped concurrently. The middleware holds the
// connection's exclusive lock for the duration of a step.
type Context interface {
	Mechanism() Mechanism
	Step(token []byte) (*Outcome, error)
}

// Outcome is the result of one successful handshake step.
type Outcome struct {
	next     Context
	token    []byte
	identity *Identity
}

// Continue reports that the handshake needs another round trip. token is
// sent to the client in the WWW-Authenticate challenge and next resumes
// the handshake on the following request.
func Continue(next Context, token []byte) *Outcome {
	return &Outcome{next: next, token: token}
}

// Finished reports a completed handshake. finalToken, when non-empty, is
// returned to the client alongside the downstream response (for example a
// Kerberos AP-REP for mutual authentication).
func Finished(identity *Identity, finalToken []byte) *Outcome {
	return &Outcome{identity: identity, token: finalToken}
}

// Done reports whether the handshake completed.
func (o *Outcome) Done() bool { return o.identity != nil }

// Next returns the continuation of an unfinished handshake.
func (o *Outcome) Next() Context { return o.next }

// Token returns the response token (continue) or the final token (finished).
func (o *Outcome) Token() []byte { return o.token }

// Identity returns the authenticated client of a finished handshake.
func (o *Outcome) Identity() *Identity { return o.identity }
