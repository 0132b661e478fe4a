package negotiate

import (
	"bytes"
	"fmt"
)

// Selector builds a fresh handshake context for a connection whose state is
// Unauthorized. It is consulted once per handshake: a Pending connection
// keeps the mechanism chosen for its first token.
type Selector interface {
	NewContext(spn string, token []byte) (Context, error)
}

// SelectorFunc adapts a function to the Selector interface.
type SelectorFunc func(spn string, token []byte) (Context, error)

// NewContext calls f(spn, token).
func (f SelectorFunc) NewContext(spn string, token []byte) (Context, error) {
	return f(spn, token)
}

// Factory creates a security context for the given service principal name.
type Factory func(spn string) (Context, error)

// ntlmSignature starts every raw NTLMSSP message.
var ntlmSignature = []byte("NTLMSSP\x00")

// DetectMechanism sniffs the leading bytes of a decoded token: the NTLMSSP
// signature selects NTLM, everything else is treated as Kerberos/SPNEGO.
// This is a heuristic, not a parse of the token envelope.
func DetectMechanism(token []byte) Mechanism {
	if bytes.HasPrefix(token, ntlmSignature) {
		return MechanismNTLM
	}
	return MechanismKerberos
}

// PrefixSelector dispatches on DetectMechanism. A mechanism without a
// factory yields ErrMechanismUnsupported.
type PrefixSelector struct {
	Kerberos Factory
	NTLM     Factory

	// Detect overrides DetectMechanism when set.
	Detect func(token []byte) Mechanism
}

// NewContext implements Selector.
func (s *PrefixSelector) NewContext(spn string, token []byte) (Context, error) {
	detect := s.Detect
	if detect == nil {
		detect = DetectMechanism
	}

	mech := detect(token)
	var factory Factory
	switch mech {
	case MechanismKerberos:
		factory = s.Kerberos
	case MechanismNTLM:
		factory = s.NTLM
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrMechanismUnsupported, mech)
	}

	ctx, err := factory(spn)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrContextCreationFailure, mech, err)
	}
	return ctx, nil
}
