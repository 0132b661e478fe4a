package kerberos

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/iana/msgtype"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/service"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/marmos91/negotiate/internal/logger"
)

// krb5 GSS-API token IDs (RFC 1964 Section 1.1).
const (
	tokenIDAPReq uint16 = 0x0100
	tokenIDAPRep uint16 = 0x0200
)

// krb5MechOID is the DER encoding of 1.2.840.113554.1.2.2 including the
// OID tag and length.
var krb5MechOID = []byte{0x06, 0x09, 0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x01, 0x02, 0x02}

// ErrVerificationFailed is returned when gokrb5 rejects an AP-REQ without
// giving a reason.
var ErrVerificationFailed = errors.New("kerberos: AP-REQ verification failed")

// ErrWrongServicePrincipal is returned when a ticket was issued for a
// service other than the one the context was created for.
var ErrWrongServicePrincipal = errors.New("kerberos: ticket issued for a different service principal")

// VerifiedContext contains the result of a successful AP-REQ verification.
type VerifiedContext struct {
	// CName is the client principal from the decrypted ticket.
	CName types.PrincipalName

	// Realm is the client's Kerberos realm (e.g., "EXAMPLE.COM").
	Realm string

	// SessionKey is the subkey if the authenticator carried one, otherwise
	// the ticket session key.
	SessionKey types.EncryptionKey

	// MutualRequired reports whether the client set mutual-required in its
	// AP-OPTIONS.
	MutualRequired bool

	// APRepToken is the GSS-wrapped AP-REP. Empty unless MutualRequired.
	APRepToken []byte
}

// Principal returns the client principal as "name@REALM".
func (vc *VerifiedContext) Principal() string {
	return vc.CName.PrincipalNameString() + "@" + vc.Realm
}

// Username returns the first component of the client principal, which is
// the account name for user principals.
func (vc *VerifiedContext) Username() string {
	if len(vc.CName.NameString) == 0 {
		return ""
	}
	return vc.CName.NameString[0]
}

// Verifier abstracts AP-REQ verification so the acceptor can be driven
// without a keytab.
type Verifier interface {
	// VerifyToken verifies a krb5 GSS-API token or a raw AP-REQ addressed
	// to spn.
	VerifyToken(spn string, gssToken []byte) (*VerifiedContext, error)
}

// Krb5Verifier implements Verifier using gokrb5 AP-REQ verification.
//
// Replayed authenticators are rejected by gokrb5's process-wide replay
// cache, which keeps entries for the configured clock skew.
type Krb5Verifier struct {
	provider *Provider
}

// NewKrb5Verifier creates a new production verifier.
func NewKrb5Verifier(provider *Provider) *Krb5Verifier {
	return &Krb5Verifier{provider: provider}
}

// VerifyToken verifies a GSS-API token using gokrb5. The ticket must name
// spn as its service; a realm suffix on spn also pins the ticket realm.
func (v *Krb5Verifier) VerifyToken(spn string, gssToken []byte) (*VerifiedContext, error) {
	apReqBytes, err := extractAPReq(gssToken)
	if err != nil {
		return nil, fmt.Errorf("extract AP-REQ from GSS token: %w", err)
	}

	var apReq messages.APReq
	if err := apReq.Unmarshal(apReqBytes); err != nil {
		return nil, fmt.Errorf("unmarshal AP-REQ: %w", err)
	}

	// The key is looked up under the ticket's own SName once it is known to
	// name spn.
	if err := checkServicePrincipal(spn, &apReq); err != nil {
		return nil, err
	}

	settings := service.NewSettings(v.provider.Keytab(),
		service.MaxClockSkew(v.provider.MaxClockSkew()),
		service.DecodePAC(false),
	)

	ok, _, err := service.VerifyAPREQ(&apReq, settings)
	if err != nil {
		return nil, fmt.Errorf("verify AP-REQ: %w", err)
	}
	if !ok {
		return nil, ErrVerificationFailed
	}

	// Verify leaves the authenticator decrypted; the ticket key is needed
	// again for the AP-REP.
	sessionKey := apReq.Ticket.DecryptedEncPart.Key
	mutualRequired := types.IsFlagSet(&apReq.APOptions, flags.APOptionMutualRequired)

	contextKey := sessionKey
	if hasSubkey(apReq) {
		contextKey = apReq.Authenticator.SubKey
	}

	vc := &VerifiedContext{
		CName:          apReq.Ticket.DecryptedEncPart.CName,
		Realm:          apReq.Ticket.DecryptedEncPart.CRealm,
		SessionKey:     contextKey,
		MutualRequired: mutualRequired,
	}

	logger.Debug("AP-REQ verified",
		logger.KeyPrincipal, vc.Principal(),
		"sname", apReq.Ticket.SName.PrincipalNameString(),
		"srealm", apReq.Ticket.Realm,
		"mutual_required", mutualRequired,
		"has_subkey", hasSubkey(apReq),
	)

	// Clients that did not ask for mutual authentication complete on their
	// first call and treat any reply token as an error.
	if mutualRequired {
		vc.APRepToken, err = buildAPRep(apReq, sessionKey)
		if err != nil {
			return nil, fmt.Errorf("build AP-REP: %w", err)
		}
	}

	return vc, nil
}

// checkServicePrincipal compares the ticket's server name with spn before
// any keytab lookup. Names compare case-insensitively.
func checkServicePrincipal(spn string, apReq *messages.APReq) error {
	if spn == "" {
		return fmt.Errorf("%w: no service principal", ErrWrongServicePrincipal)
	}

	want, realm := types.ParseSPNString(spn)
	got := apReq.Ticket.SName.PrincipalNameString()
	if !strings.EqualFold(want.PrincipalNameString(), got) {
		return fmt.Errorf("%w: want %s, ticket for %s", ErrWrongServicePrincipal, want.PrincipalNameString(), got)
	}
	if realm != "" && !strings.EqualFold(realm, apReq.Ticket.Realm) {
		return fmt.Errorf("%w: want realm %s, ticket for %s", ErrWrongServicePrincipal, realm, apReq.Ticket.Realm)
	}
	return nil
}

// extractAPReq strips the GSS-API initial context token wrapper if present.
//
//	0x60 [length] 0x06 [OID-length] [OID-bytes] [token-id] [AP-REQ]
//
// Tokens that do not start with 0x60 are treated as a raw AP-REQ.
func extractAPReq(token []byte) ([]byte, error) {
	if len(token) < 2 {
		return nil, fmt.Errorf("token too short: %d bytes", len(token))
	}

	if token[0] != 0x60 {
		return token, nil
	}

	offset := 1
	length, n, err := parseASN1Length(token[offset:])
	if err != nil {
		return nil, fmt.Errorf("parse GSS token length: %w", err)
	}
	offset += n

	if offset+length > len(token) {
		return nil, fmt.Errorf("GSS token truncated: expected %d bytes, have %d", offset+length, len(token))
	}

	if offset >= len(token) || token[offset] != 0x06 {
		return nil, fmt.Errorf("expected OID tag 0x06 at offset %d", offset)
	}
	offset++

	if offset >= len(token) {
		return nil, fmt.Errorf("truncated OID length")
	}
	oidLen := int(token[offset])
	offset += 1 + oidLen

	if offset+2 > len(token) {
		return nil, fmt.Errorf("truncated token ID")
	}

	tokenID := uint16(token[offset])<<8 | uint16(token[offset+1])
	if tokenID != tokenIDAPReq {
		return nil, fmt.Errorf("unexpected krb5 token ID: 0x%04x (expected 0x%04x for AP-REQ)", tokenID, tokenIDAPReq)
	}
	offset += 2

	return token[offset:], nil
}

// buildAPRep constructs the GSS-wrapped AP-REP for mutual authentication
// (RFC 4120 Section 5.5.2).
//
// ctime and cusec are echoed from the authenticator. A client subkey is
// echoed back so the client knows it was accepted.
func buildAPRep(apReq messages.APReq, sessionKey types.EncryptionKey) ([]byte, error) {
	encPart := messages.EncAPRepPart{
		CTime: apReq.Authenticator.CTime,
		Cusec: apReq.Authenticator.Cusec,
	}
	if hasSubkey(apReq) {
		encPart.Subkey = apReq.Authenticator.SubKey
	}

	inner, err := asn1.Marshal(encPart)
	if err != nil {
		return nil, fmt.Errorf("marshal EncAPRepPart: %w", err)
	}

	encrypted, err := crypto.GetEncryptedData(
		asn1tools.AddASNAppTag(inner, asn1AppTagEncAPRepPart), sessionKey, keyusage.AP_REP_ENCPART, 0)
	if err != nil {
		return nil, fmt.Errorf("encrypt EncAPRepPart: %w", err)
	}

	apRep := messages.APRep{
		PVNO:    5,
		MsgType: msgtype.KRB_AP_REP,
		EncPart: encrypted,
	}
	apRepInner, err := asn1.Marshal(apRep)
	if err != nil {
		return nil, fmt.Errorf("marshal AP-REP: %w", err)
	}

	return wrapGSSToken(asn1tools.AddASNAppTag(apRepInner, msgtype.KRB_AP_REP), tokenIDAPRep), nil
}

// asn1AppTagEncAPRepPart is the APPLICATION tag of EncAPRepPart.
const asn1AppTagEncAPRepPart = 27

// wrapGSSToken wraps a Kerberos message in a krb5 GSS-API token:
//
//	0x60 [length] [krb5 OID] [token ID] [inner token]
func wrapGSSToken(innerToken []byte, tokenID uint16) []byte {
	content := make([]byte, 0, len(krb5MechOID)+2+len(innerToken))
	content = append(content, krb5MechOID...)
	content = append(content, byte(tokenID>>8), byte(tokenID))
	content = append(content, innerToken...)

	lengthBytes := encodeASN1Length(len(content))

	out := make([]byte, 0, 1+len(lengthBytes)+len(content))
	out = append(out, 0x60)
	out = append(out, lengthBytes...)
	return append(out, content...)
}

// encodeASN1Length encodes a DER length.
func encodeASN1Length(length int) []byte {
	if length < 128 {
		return []byte{byte(length)}
	}

	var b []byte
	for length > 0 {
		b = append([]byte{byte(length)}, b...)
		length >>= 8
	}
	return append([]byte{byte(0x80 | len(b))}, b...)
}

// parseASN1Length parses a DER length and returns it with the number of
// bytes consumed.
func parseASN1Length(data []byte) (int, int, error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("empty length field")
	}

	first := data[0]
	if first < 0x80 {
		return int(first), 1, nil
	}

	numBytes := int(first & 0x7f)
	if numBytes == 0 || numBytes > 4 {
		return 0, 0, fmt.Errorf("invalid ASN.1 length: %d bytes", numBytes)
	}
	if 1+numBytes > len(data) {
		return 0, 0, fmt.Errorf("truncated ASN.1 length")
	}

	length := 0
	for i := 1; i <= numBytes; i++ {
		length = length<<8 | int(data[i])
	}
	if length < 0 {
		return 0, 0, fmt.Errorf("invalid ASN.1 length")
	}
	return length, 1 + numBytes, nil
}

func hasSubkey(apReq messages.APReq) bool {
	return apReq.Authenticator.SubKey.KeyType != 0 && len(apReq.Authenticator.SubKey.KeyValue) > 0
}
