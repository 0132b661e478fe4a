// Package spnego parses and builds the SPNEGO envelopes (RFC 4178) carried
// in HTTP Negotiate headers.
//
// Browsers and curl send the first token as a GSS-API initial context token
// (0x60 application tag, SPNEGO OID, NegTokenInit). Some Kerberos clients skip
// SPNEGO and send the raw krb5 token (0x60 application tag, krb5 OID, AP-REQ).
// Later tokens are bare NegTokenResp values. The heavy lifting is done by
// github.com/jcmturner/gokrb5/v8/spnego.
package spnego

import (
	"errors"
	"fmt"

	"github.com/jcmturner/gofork/encoding/asn1"
	gspnego "github.com/jcmturner/gokrb5/v8/spnego"
)

// Well-known mechanism OIDs used in SPNEGO negotiation.
var (
	// OIDMSKerberosV5 is Microsoft's Kerberos 5 OID (1.2.840.48018.1.2.2).
	// Windows clients list it first.
	OIDMSKerberosV5 = asn1.ObjectIdentifier{1, 2, 840, 48018, 1, 2, 2}

	// OIDKerberosV5 is the standard Kerberos 5 OID (1.2.840.113554.1.2.2).
	OIDKerberosV5 = asn1.ObjectIdentifier{1, 2, 840, 113554, 1, 2, 2}

	// OIDNTLMSSP is the NTLM Security Support Provider OID (1.3.6.1.4.1.311.2.2.10).
	OIDNTLMSSP = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 2, 10}

	// OIDSPNEGO is the SPNEGO mechanism OID (1.3.6.1.5.5.2).
	OIDSPNEGO = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 2}
)

// NegState represents the state of SPNEGO negotiation.
// [RFC 4178] Section 4.2.2
type NegState int

const (
	NegStateAcceptCompleted  NegState = 0
	NegStateAcceptIncomplete NegState = 1
	NegStateReject           NegState = 2
	NegStateRequestMIC       NegState = 3
)

func (s NegState) String() string {
	switch s {
	case NegStateAcceptCompleted:
		return "accept-completed"
	case NegStateAcceptIncomplete:
		return "accept-incomplete"
	case NegStateReject:
		return "reject"
	case NegStateRequestMIC:
		return "request-mic"
	default:
		return fmt.Sprintf("negstate(%d)", int(s))
	}
}

// Error types for SPNEGO parsing.
var (
	ErrInvalidToken    = errors.New("spnego: invalid token format")
	ErrUnsupportedMech = errors.New("spnego: unsupported mechanism")
	ErrNoMechToken     = errors.New("spnego: no mechanism token present")
	ErrUnexpectedToken = errors.New("spnego: unexpected token type")
)

// TokenType indicates whether a token is an init or response token.
type TokenType int

const (
	// TokenTypeInit is a NegTokenInit (client's first message).
	TokenTypeInit TokenType = iota

	// TokenTypeResp is a NegTokenResp (subsequent client message).
	TokenTypeResp

	// TokenTypeKerberos is a raw krb5 initial context token sent without
	// a SPNEGO envelope. MechToken holds the whole token.
	TokenTypeKerberos
)

// ParsedToken contains the result of parsing a Negotiate token.
type ParsedToken struct {
	Type TokenType

	// MechTypes lists the mechanisms offered (only for TokenTypeInit).
	MechTypes []asn1.ObjectIdentifier

	// MechToken is the inner mechanism token: the optimistic token of a
	// NegTokenInit, the responseToken of a NegTokenResp or the raw krb5
	// token.
	MechToken []byte

	// NegState is the negotiation state (only for TokenTypeResp).
	NegState NegState

	// SupportedMech is the selected mechanism (only for TokenTypeResp).
	SupportedMech asn1.ObjectIdentifier
}

// InitialContextOID returns the mechanism OID of a GSS-API initial context
// token (RFC 2743 Section 3.1) and the bytes that follow it.
func InitialContextOID(data []byte) (asn1.ObjectIdentifier, []byte, error) {
	if len(data) < 2 || data[0] != 0x60 {
		return nil, nil, ErrInvalidToken
	}
	var oid asn1.ObjectIdentifier
	rest, err := asn1.UnmarshalWithParams(data, &oid, "application,explicit,tag:0")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return oid, rest, nil
}

// Parse parses a Negotiate token.
//
// The input can be:
//   - a GSS-API wrapped NegTokenInit (starts with 0x60, SPNEGO OID)
//   - a GSS-API wrapped krb5 token (starts with 0x60, Kerberos OID)
//   - a raw NegTokenInit (starts with 0xa0)
//   - a raw NegTokenResp (starts with 0xa1)
func Parse(data []byte) (*ParsedToken, error) {
	if len(data) < 2 {
		return nil, ErrInvalidToken
	}

	body := data
	if data[0] == 0x60 {
		oid, rest, err := InitialContextOID(data)
		if err != nil {
			return nil, err
		}
		switch {
		case oid.Equal(OIDSPNEGO):
			body = rest
		case oid.Equal(OIDKerberosV5), oid.Equal(OIDMSKerberosV5):
			return &ParsedToken{
				Type:      TokenTypeKerberos,
				MechTypes: []asn1.ObjectIdentifier{oid},
				MechToken: data,
			}, nil
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedMech, oid)
		}
	}

	isInit, token, err := gspnego.UnmarshalNegToken(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if isInit {
		initToken, ok := token.(gspnego.NegTokenInit)
		if !ok {
			return nil, ErrInvalidToken
		}
		return &ParsedToken{
			Type:      TokenTypeInit,
			MechTypes: initToken.MechTypes,
			MechToken: initToken.MechTokenBytes,
		}, nil
	}

	respToken, ok := token.(gspnego.NegTokenResp)
	if !ok {
		return nil, ErrInvalidToken
	}
	return &ParsedToken{
		Type:          TokenTypeResp,
		MechToken:     respToken.ResponseToken,
		NegState:      NegState(respToken.NegState),
		SupportedMech: respToken.SupportedMech,
	}, nil
}

// HasMechanism checks if the parsed token offers a specific mechanism.
func (p *ParsedToken) HasMechanism(oid asn1.ObjectIdentifier) bool {
	for _, mech := range p.MechTypes {
		if mech.Equal(oid) {
			return true
		}
	}
	return false
}

// HasNTLM returns true if the token offers NTLM authentication.
func (p *ParsedToken) HasNTLM() bool {
	return p.HasMechanism(OIDNTLMSSP)
}

// HasKerberos returns true if the token offers Kerberos authentication.
func (p *ParsedToken) HasKerberos() bool {
	return p.HasMechanism(OIDKerberosV5) || p.HasMechanism(OIDMSKerberosV5)
}

// PreferredMech returns the first offered mechanism and whether the
// optimistic MechToken was built for it. Per RFC 4178 the optimistic token
// always belongs to the first entry of MechTypes.
func (p *ParsedToken) PreferredMech() (asn1.ObjectIdentifier, bool) {
	if len(p.MechTypes) == 0 {
		return nil, false
	}
	return p.MechTypes[0], len(p.MechToken) > 0
}

// IsKerberosOID reports whether oid names either Kerberos 5 mechanism.
func IsKerberosOID(oid asn1.ObjectIdentifier) bool {
	return oid.Equal(OIDKerberosV5) || oid.Equal(OIDMSKerberosV5)
}

// BuildResponse creates a NegTokenResp. mech may be nil when rejecting.
func BuildResponse(state NegState, mech asn1.ObjectIdentifier, responseToken []byte) ([]byte, error) {
	resp := gspnego.NegTokenResp{
		NegState:      asn1.Enumerated(state),
		SupportedMech: mech,
		ResponseToken: responseToken,
	}
	return resp.Marshal()
}

// BuildAcceptIncomplete creates a NegTokenResp asking for another token.
func BuildAcceptIncomplete(mech asn1.ObjectIdentifier, responseToken []byte) ([]byte, error) {
	return BuildResponse(NegStateAcceptIncomplete, mech, responseToken)
}

// BuildAcceptComplete creates a NegTokenResp for an established context.
func BuildAcceptComplete(mech asn1.ObjectIdentifier, responseToken []byte) ([]byte, error) {
	return BuildResponse(NegStateAcceptCompleted, mech, responseToken)
}

// BuildReject creates a NegTokenResp indicating authentication failure.
func BuildReject() ([]byte, error) {
	return BuildResponse(NegStateReject, nil, nil)
}

// BuildInit wraps a NegTokenInit in a GSS-API initial context token, the
// form clients put in their first Authorization header.
func BuildInit(mechTypes []asn1.ObjectIdentifier, mechToken []byte) ([]byte, error) {
	tok := gspnego.SPNEGOToken{
		Init: true,
		NegTokenInit: gspnego.NegTokenInit{
			MechTypes:      mechTypes,
			MechTokenBytes: mechToken,
		},
	}
	return tok.Marshal()
}
