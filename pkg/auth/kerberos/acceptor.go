package kerberos

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/jcmturner/gofork/encoding/asn1"

	"github.com/marmos91/negotiate/internal/auth/spnego"
	"github.com/marmos91/negotiate/internal/logger"
	"github.com/marmos91/negotiate/pkg/negotiate"
)

// Acceptor creates server-side SPNEGO contexts.
//
// A context accepts a raw krb5 token, a NegTokenInit carrying an optimistic
// Kerberos token, or a NegTokenInit offering NTLM. NTLM is handed to the
// configured NTLM factory and its messages travel inside NegTokenResp
// envelopes until the inner context finishes.
type Acceptor struct {
	verifier Verifier
	mapper   PrincipalMapper
	ntlm     negotiate.Factory
}

// AcceptorOption configures an Acceptor.
type AcceptorOption func(*Acceptor)

// WithMapper sets the principal mapper applied to Kerberos identities.
func WithMapper(m PrincipalMapper) AcceptorOption {
	return func(a *Acceptor) { a.mapper = m }
}

// WithNTLM enables SPNEGO-wrapped NTLM using f for the inner context.
func WithNTLM(f negotiate.Factory) AcceptorOption {
	return func(a *Acceptor) { a.ntlm = f }
}

// NewAcceptor creates an Acceptor that verifies AP-REQs with v.
func NewAcceptor(v Verifier, opts ...AcceptorOption) *Acceptor {
	a := &Acceptor{verifier: v}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewContext returns a context expecting the client's first token for
// service principal spn. The signature matches negotiate.Factory.
func (a *Acceptor) NewContext(spn string) (negotiate.Context, error) {
	if a.verifier == nil {
		return nil, errors.New("kerberos: acceptor has no verifier")
	}
	if spn == "" {
		return nil, errors.New("kerberos: service principal is required")
	}
	return &initialStage{acceptor: a, spn: spn}, nil
}

// initialStage consumes the first token of a handshake.
type initialStage struct {
	acceptor *Acceptor
	spn      string
}

func (s *initialStage) Mechanism() negotiate.Mechanism { return negotiate.MechanismKerberos }

func (s *initialStage) Step(token []byte) (*negotiate.Outcome, error) {
	parsed, err := spnego.Parse(token)
	if err != nil {
		return nil, errors.Join(negotiate.ErrMalformedToken, err)
	}

	a := s.acceptor
	switch parsed.Type {
	case spnego.TokenTypeKerberos:
		id, vc, err := a.verify(s.spn, parsed.MechToken)
		if err != nil {
			return nil, err
		}
		return negotiate.Finished(id, vc.APRepToken), nil

	case spnego.TokenTypeInit:
		return s.stepInit(parsed)

	default:
		return nil, fmt.Errorf("%w: NegTokenResp without a pending handshake", spnego.ErrUnexpectedToken)
	}
}

func (s *initialStage) stepInit(parsed *spnego.ParsedToken) (*negotiate.Outcome, error) {
	a := s.acceptor
	mech, optimistic := parsed.PreferredMech()

	logger.Debug("SPNEGO NegTokenInit received",
		logger.KeySPN, s.spn,
		"mech_types", fmt.Sprint(parsed.MechTypes),
		"optimistic", optimistic)

	switch {
	case optimistic && spnego.IsKerberosOID(mech):
		id, vc, err := a.verify(s.spn, parsed.MechToken)
		if err != nil {
			return nil, err
		}
		reply, err := spnego.BuildAcceptComplete(mech, vc.APRepToken)
		if err != nil {
			return nil, fmt.Errorf("build SPNEGO response: %w", err)
		}
		return negotiate.Finished(id, reply), nil

	case a.ntlm == nil:
		if parsed.HasKerberos() {
			return nil, spnego.ErrNoMechToken
		}
		return nil, fmt.Errorf("%w: offered %v", spnego.ErrUnsupportedMech, parsed.MechTypes)

	case optimistic && mech.Equal(spnego.OIDNTLMSSP):
		inner, err := a.ntlm(s.spn)
		if err != nil {
			return nil, fmt.Errorf("create NTLM context: %w", err)
		}
		return stepWrapped(inner, spnego.OIDNTLMSSP, parsed.MechToken)

	case parsed.HasNTLM():
		// The preferred mechanism came without a token; select NTLM and
		// let the client start it in its next NegTokenResp.
		inner, err := a.ntlm(s.spn)
		if err != nil {
			return nil, fmt.Errorf("create NTLM context: %w", err)
		}
		reply, err := spnego.BuildAcceptIncomplete(spnego.OIDNTLMSSP, nil)
		if err != nil {
			return nil, fmt.Errorf("build SPNEGO response: %w", err)
		}
		return negotiate.Continue(&wrappedStage{inner: inner, mech: spnego.OIDNTLMSSP}, reply), nil

	case parsed.HasKerberos():
		return nil, spnego.ErrNoMechToken

	default:
		return nil, fmt.Errorf("%w: offered %v", spnego.ErrUnsupportedMech, parsed.MechTypes)
	}
}

// verify checks a krb5 token for spn and builds the identity it proves.
// Names that are not valid UTF-8 are left empty.
func (a *Acceptor) verify(spn string, token []byte) (*negotiate.Identity, *VerifiedContext, error) {
	vc, err := a.verifier.VerifyToken(spn, token)
	if err != nil {
		return nil, nil, err
	}

	principal := vc.Principal()
	if a.mapper != nil {
		principal = a.mapper.MapPrincipal(vc.CName.PrincipalNameString(), vc.Realm)
	}

	id := &negotiate.Identity{
		Mechanism:  negotiate.MechanismKerberos,
		Principal:  principal,
		Username:   vc.Username(),
		Realm:      vc.Realm,
		SessionKey: vc.SessionKey.KeyValue,
	}
	if !utf8.ValidString(id.Principal) {
		id.Principal = ""
	}
	if !utf8.ValidString(id.Username) {
		id.Username = ""
	}
	if !utf8.ValidString(id.Realm) {
		id.Realm = ""
	}
	return id, vc, nil
}

// wrappedStage carries an inner mechanism context whose tokens arrive as
// NegTokenResp responseTokens.
type wrappedStage struct {
	inner negotiate.Context
	mech  asn1.ObjectIdentifier
}

func (s *wrappedStage) Mechanism() negotiate.Mechanism { return s.inner.Mechanism() }

func (s *wrappedStage) Step(token []byte) (*negotiate.Outcome, error) {
	parsed, err := spnego.Parse(token)
	if err != nil {
		return nil, errors.Join(negotiate.ErrMalformedToken, err)
	}
	if parsed.Type != spnego.TokenTypeResp {
		return nil, fmt.Errorf("%w: expected NegTokenResp", spnego.ErrUnexpectedToken)
	}
	if parsed.NegState == spnego.NegStateReject {
		return nil, errors.New("spnego: client rejected the negotiation")
	}
	if len(parsed.MechToken) == 0 {
		return nil, spnego.ErrNoMechToken
	}
	return stepWrapped(s.inner, s.mech, parsed.MechToken)
}

// stepWrapped advances an inner context and wraps its reply in a
// NegTokenResp naming mech.
func stepWrapped(inner negotiate.Context, mech asn1.ObjectIdentifier, token []byte) (*negotiate.Outcome, error) {
	out, err := inner.Step(token)
	if err != nil {
		return nil, err
	}

	if out.Done() {
		reply, err := spnego.BuildAcceptComplete(mech, out.Token())
		if err != nil {
			return nil, fmt.Errorf("build SPNEGO response: %w", err)
		}
		return negotiate.Finished(out.Identity(), reply), nil
	}

	reply, err := spnego.BuildAcceptIncomplete(mech, out.Token())
	if err != nil {
		return nil, fmt.Errorf("build SPNEGO response: %w", err)
	}
	return negotiate.Continue(&wrappedStage{inner: out.Next(), mech: mech}, reply), nil
}
