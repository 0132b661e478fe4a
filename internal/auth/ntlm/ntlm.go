// Package ntlm implements the acceptor side of NTLM authentication.
//
// NTLM (NT LAN Manager) is a challenge-response authentication protocol
// defined in [MS-NLMP]. This package provides:
//   - NTLM message detection and parsing (Type 1 and Type 3)
//   - Challenge (Type 2) message building with a populated TargetInfo
//   - NTLMv2 response verification against an NT hash
//   - A negotiate.Context that runs the three-message handshake
//
// NTLMv1 and LM responses are rejected.
package ntlm

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// =============================================================================
// NTLM Message Types
// =============================================================================

// MessageType identifies the three messages in the NTLM handshake.
// [MS-NLMP] Section 2.2.1
type MessageType uint32

const (
	// Negotiate (Type 1) is sent by the client to initiate authentication.
	Negotiate MessageType = 1

	// Challenge (Type 2) is sent by the server in response to Type 1.
	Challenge MessageType = 2

	// Authenticate (Type 3) is sent by the client to complete authentication.
	Authenticate MessageType = 3
)

func (t MessageType) String() string {
	switch t {
	case Negotiate:
		return "NEGOTIATE"
	case Challenge:
		return "CHALLENGE"
	case Authenticate:
		return "AUTHENTICATE"
	default:
		return "UNKNOWN"
	}
}

// =============================================================================
// NTLM Message Structure Constants
// =============================================================================

// Signature is the 8-byte signature that identifies NTLM messages.
// [MS-NLMP] Section 2.2.1
var Signature = []byte{'N', 'T', 'L', 'M', 'S', 'S', 'P', 0}

// Header offsets common to all message types.
const (
	signatureOffset   = 0
	messageTypeOffset = 8
	headerSize        = 12
)

// NTLM Type 1 (NEGOTIATE) message offsets
// [MS-NLMP] Section 2.2.1.1
const (
	negFlagsOffset          = 12 // 4 bytes: NegotiateFlags
	negDomainLenOffset      = 16 // 2 bytes: DomainName length
	negDomainOffOffset      = 20 // 4 bytes: DomainName buffer offset
	negWorkstationLenOffset = 24 // 2 bytes: Workstation length
	negWorkstationOffOffset = 28 // 4 bytes: Workstation buffer offset
	negBaseSize             = 16 // Flags are mandatory, the rest is optional
	negFieldsSize           = 32
)

// NTLM Type 2 (CHALLENGE) message offsets
// [MS-NLMP] Section 2.2.1.2
const (
	challengeTargetNameLenOffset = 12
	challengeTargetNameMaxOffset = 14
	challengeTargetNameOffOffset = 16
	challengeFlagsOffset         = 20
	challengeServerChalOffset    = 24
	challengeTargetInfoLenOffset = 40
	challengeTargetInfoMaxOffset = 42
	challengeTargetInfoOffOffset = 44
	challengeBaseSize            = 56 // Includes the (zero) Version field
)

// NTLM Type 3 (AUTHENTICATE) message offsets
// [MS-NLMP] Section 2.2.1.3
const (
	authLmResponseLenOffset  = 12
	authLmResponseOffOffset  = 16
	authNtResponseLenOffset  = 20
	authNtResponseOffOffset  = 24
	authDomainNameLenOffset  = 28
	authDomainNameOffOffset  = 32
	authUserNameLenOffset    = 36
	authUserNameOffOffset    = 40
	authWorkstationLenOffset = 44
	authWorkstationOffOffset = 48
	authSessionKeyLenOffset  = 52
	authSessionKeyOffOffset  = 56
	authNegotiateFlagsOffset = 60
	authBaseSize             = 64
)

// ServerChallengeSize is the length of the Type 2 server challenge.
const ServerChallengeSize = 8

// =============================================================================
// NTLM Negotiate Flags
// =============================================================================

// NegotiateFlag controls authentication behavior and capabilities.
// [MS-NLMP] Section 2.2.2.5
type NegotiateFlag uint32

const (
	FlagUnicode             NegotiateFlag = 0x00000001 // A: UTF-16LE strings
	FlagOEM                 NegotiateFlag = 0x00000002 // B: OEM strings
	FlagRequestTarget       NegotiateFlag = 0x00000004 // C: TargetName requested
	FlagSign                NegotiateFlag = 0x00000010 // D
	FlagSeal                NegotiateFlag = 0x00000020 // E
	FlagLMKey               NegotiateFlag = 0x00000080 // G: LM session key, never offered
	FlagNTLM                NegotiateFlag = 0x00000200 // I
	FlagAnonymous           NegotiateFlag = 0x00000800 // K
	FlagDomainSupplied      NegotiateFlag = 0x00001000 // L
	FlagWorkstationSupplied NegotiateFlag = 0x00002000 // M
	FlagAlwaysSign          NegotiateFlag = 0x00008000 // O
	FlagTargetTypeDomain    NegotiateFlag = 0x00010000 // P
	FlagTargetTypeServer    NegotiateFlag = 0x00020000 // Q
	FlagExtendedSecurity    NegotiateFlag = 0x00080000 // S
	FlagTargetInfo          NegotiateFlag = 0x00800000 // W
	FlagVersion             NegotiateFlag = 0x02000000 // Y
	Flag128                 NegotiateFlag = 0x20000000 // Z
	FlagKeyExchange         NegotiateFlag = 0x40000000 // AB: key exchange, never offered
	Flag56                  NegotiateFlag = 0x80000000 // AA
)

// Has reports whether all bits of f are set.
func (n NegotiateFlag) Has(f NegotiateFlag) bool { return n&f == f }

// =============================================================================
// AV_PAIR Constants (TargetInfo Structure)
// =============================================================================

// AvID represents AV_PAIR attribute IDs for the TargetInfo field.
// Each AV_PAIR has: AvId (2 bytes) + AvLen (2 bytes) + Value (AvLen bytes)
// [MS-NLMP] Section 2.2.2.1
type AvID uint16

const (
	AvEOL             AvID = 0x0000
	AvNbComputerName  AvID = 0x0001
	AvNbDomainName    AvID = 0x0002
	AvDNSComputerName AvID = 0x0003
	AvDNSDomainName   AvID = 0x0004
	AvTimestamp       AvID = 0x0007
)

// TargetInfo describes the acceptor in the Type 2 message. The client
// mixes the encoded list into its NTLMv2 response, which binds the
// response to this server.
type TargetInfo struct {
	NbComputerName  string
	NbDomainName    string
	DNSComputerName string
	DNSDomainName   string

	// Timestamp is sent as MsvAvTimestamp when non-zero.
	Timestamp time.Time
}

// Marshal encodes the AV_PAIR list, terminated by MsvAvEOL.
func (t TargetInfo) Marshal() []byte {
	var buf bytes.Buffer
	put := func(id AvID, value []byte) {
		var hdr [4]byte
		binary.LittleEndian.PutUint16(hdr[0:2], uint16(id))
		binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(value)))
		buf.Write(hdr[:])
		buf.Write(value)
	}
	putString := func(id AvID, s string) {
		if s != "" {
			put(id, encodeUTF16(s))
		}
	}

	putString(AvNbDomainName, t.NbDomainName)
	putString(AvNbComputerName, t.NbComputerName)
	putString(AvDNSDomainName, t.DNSDomainName)
	putString(AvDNSComputerName, t.DNSComputerName)
	if !t.Timestamp.IsZero() {
		var ts [8]byte
		binary.LittleEndian.PutUint64(ts[:], ToFileTime(t.Timestamp))
		put(AvTimestamp, ts[:])
	}
	put(AvEOL, nil)
	return buf.Bytes()
}

// FILETIME counts 100ns intervals since 1601-01-01.
const fileTimeEpochOffset = 116444736000000000

// ToFileTime converts t to a Windows FILETIME.
func ToFileTime(t time.Time) uint64 {
	return uint64(t.UnixNano()/100) + fileTimeEpochOffset
}

// FromFileTime converts a Windows FILETIME to time.Time.
func FromFileTime(ft uint64) time.Time {
	return time.Unix(0, int64(ft-fileTimeEpochOffset)*100)
}

// =============================================================================
// NTLM Message Detection
// =============================================================================

// IsValid checks if the buffer starts with the NTLMSSP signature.
// Returns false if the buffer is too short (< 12 bytes) or has wrong signature.
func IsValid(buf []byte) bool {
	if len(buf) < headerSize {
		return false
	}
	return bytes.Equal(buf[signatureOffset:signatureOffset+8], Signature)
}

// GetMessageType returns the NTLM message type from a buffer, or 0 if the
// buffer is too short.
func GetMessageType(buf []byte) MessageType {
	if len(buf) < headerSize {
		return 0
	}
	return MessageType(binary.LittleEndian.Uint32(buf[messageTypeOffset : messageTypeOffset+4]))
}

// =============================================================================
// NTLM Negotiate Message Parsing
// =============================================================================

// NegotiateMessage contains parsed fields from an NTLM Type 1 message.
// [MS-NLMP] Section 2.2.1.1
type NegotiateMessage struct {
	NegotiateFlags NegotiateFlag

	// Domain and Workstation are only present when the corresponding
	// *Supplied flag is set. They are always OEM encoded.
	Domain      string
	Workstation string
}

// ParseNegotiate parses an NTLM Type 1 (NEGOTIATE) message.
func ParseNegotiate(buf []byte) (*NegotiateMessage, error) {
	if len(buf) < negBaseSize {
		return nil, ErrMessageTooShort
	}
	if !IsValid(buf) {
		return nil, ErrInvalidSignature
	}
	if GetMessageType(buf) != Negotiate {
		return nil, ErrWrongMessageType
	}

	msg := &NegotiateMessage{
		NegotiateFlags: NegotiateFlag(binary.LittleEndian.Uint32(buf[negFlagsOffset : negFlagsOffset+4])),
	}
	if len(buf) < negFieldsSize {
		return msg, nil
	}

	if msg.NegotiateFlags.Has(FlagDomainSupplied) {
		if b, ok := field(buf, negDomainLenOffset, negDomainOffOffset); ok {
			msg.Domain = string(b)
		}
	}
	if msg.NegotiateFlags.Has(FlagWorkstationSupplied) {
		if b, ok := field(buf, negWorkstationLenOffset, negWorkstationOffOffset); ok {
			msg.Workstation = string(b)
		}
	}
	return msg, nil
}

// =============================================================================
// NTLM Challenge Message Building
// =============================================================================

// NewServerChallenge returns a random 8-byte server challenge.
func NewServerChallenge() ([ServerChallengeSize]byte, error) {
	var c [ServerChallengeSize]byte
	_, err := rand.Read(c[:])
	return c, err
}

// challengeFlags answers the client's Type 1 flags. Only NTLMv2 with
// extended session security is offered. LM_KEY and KEY_EXCH are never set.
func challengeFlags(client NegotiateFlag) NegotiateFlag {
	flags := FlagRequestTarget |
		FlagNTLM |
		FlagAlwaysSign |
		FlagTargetTypeDomain |
		FlagExtendedSecurity |
		FlagTargetInfo

	if client.Has(FlagUnicode) || !client.Has(FlagOEM) {
		flags |= FlagUnicode
	} else {
		flags |= FlagOEM
	}
	flags |= client & (FlagSign | FlagSeal | Flag128 | Flag56)
	return flags
}

// BuildChallenge creates an NTLM Type 2 (CHALLENGE) message.
//
//	Offset  Size  Field              Value/Description
//	------  ----  ----------------   ----------------------------------
//	0       8     Signature          "NTLMSSP\0"
//	8       4     MessageType        2 (CHALLENGE)
//	12      8     TargetNameFields   Domain name
//	20      4     NegotiateFlags     Server capabilities
//	24      8     ServerChallenge    Random 8-byte challenge
//	32      8     Reserved           Zero
//	40      8     TargetInfoFields   AV_PAIR list
//	48      8     Version            Zero
//	56      var   Payload            TargetName, TargetInfo
//
// [MS-NLMP] Section 2.2.1.2
func BuildChallenge(flags NegotiateFlag, serverChallenge [ServerChallengeSize]byte, target TargetInfo) []byte {
	var targetName []byte
	if flags.Has(FlagUnicode) {
		targetName = encodeUTF16(target.NbDomainName)
	} else {
		targetName = []byte(target.NbDomainName)
	}
	targetInfo := target.Marshal()

	targetNameOffset := challengeBaseSize
	targetInfoOffset := targetNameOffset + len(targetName)

	msg := make([]byte, targetInfoOffset+len(targetInfo))

	copy(msg[signatureOffset:signatureOffset+8], Signature)
	binary.LittleEndian.PutUint32(msg[messageTypeOffset:messageTypeOffset+4], uint32(Challenge))

	binary.LittleEndian.PutUint16(msg[challengeTargetNameLenOffset:], uint16(len(targetName)))
	binary.LittleEndian.PutUint16(msg[challengeTargetNameMaxOffset:], uint16(len(targetName)))
	binary.LittleEndian.PutUint32(msg[challengeTargetNameOffOffset:], uint32(targetNameOffset))

	binary.LittleEndian.PutUint32(msg[challengeFlagsOffset:], uint32(flags))
	copy(msg[challengeServerChalOffset:challengeServerChalOffset+ServerChallengeSize], serverChallenge[:])

	binary.LittleEndian.PutUint16(msg[challengeTargetInfoLenOffset:], uint16(len(targetInfo)))
	binary.LittleEndian.PutUint16(msg[challengeTargetInfoMaxOffset:], uint16(len(targetInfo)))
	binary.LittleEndian.PutUint32(msg[challengeTargetInfoOffOffset:], uint32(targetInfoOffset))

	copy(msg[targetNameOffset:], targetName)
	copy(msg[targetInfoOffset:], targetInfo)

	return msg
}

// =============================================================================
// NTLM Authenticate Message Parsing
// =============================================================================

// AuthenticateMessage contains parsed fields from an NTLM Type 3 message.
// [MS-NLMP] Section 2.2.1.3
type AuthenticateMessage struct {
	// LmChallengeResponse is the LMv2 response. go-ntlmssp and modern
	// Windows clients send zeros or nothing here when TargetInfo is present.
	LmChallengeResponse []byte

	// NtChallengeResponse is NTProofStr followed by the client blob.
	NtChallengeResponse []byte

	// Domain is the domain the client computed its response for. May be empty.
	Domain string

	// Username is the account name.
	Username string

	// Workstation is the client workstation name, for logging.
	Workstation string

	// EncryptedRandomSessionKey is only present with KEY_EXCH, which this
	// package never offers.
	EncryptedRandomSessionKey []byte

	NegotiateFlags NegotiateFlag

	// IsAnonymous is set for an anonymous AUTHENTICATE: the Anonymous flag,
	// or an empty user name with an empty NT response.
	IsAnonymous bool
}

// ParseAuthenticate parses an NTLM Type 3 (AUTHENTICATE) message.
// Fields whose buffer points outside the message are an error.
func ParseAuthenticate(buf []byte) (*AuthenticateMessage, error) {
	if len(buf) < headerSize {
		return nil, ErrMessageTooShort
	}
	if !IsValid(buf) {
		return nil, ErrInvalidSignature
	}
	if GetMessageType(buf) != Authenticate {
		return nil, ErrWrongMessageType
	}
	if len(buf) < authBaseSize {
		return nil, ErrMessageTooShort
	}

	msg := &AuthenticateMessage{
		NegotiateFlags: NegotiateFlag(binary.LittleEndian.Uint32(buf[authNegotiateFlagsOffset : authNegotiateFlagsOffset+4])),
	}
	isUnicode := msg.NegotiateFlags.Has(FlagUnicode)

	var ok bool
	if msg.LmChallengeResponse, ok = field(buf, authLmResponseLenOffset, authLmResponseOffOffset); !ok {
		return nil, ErrFieldOutOfBounds
	}
	if msg.NtChallengeResponse, ok = field(buf, authNtResponseLenOffset, authNtResponseOffOffset); !ok {
		return nil, ErrFieldOutOfBounds
	}
	if msg.EncryptedRandomSessionKey, ok = field(buf, authSessionKeyLenOffset, authSessionKeyOffOffset); !ok {
		return nil, ErrFieldOutOfBounds
	}

	strs := []struct {
		lenOff, bufOff int
		dst            *string
	}{
		{authDomainNameLenOffset, authDomainNameOffOffset, &msg.Domain},
		{authUserNameLenOffset, authUserNameOffOffset, &msg.Username},
		{authWorkstationLenOffset, authWorkstationOffOffset, &msg.Workstation},
	}
	for _, s := range strs {
		b, ok := field(buf, s.lenOff, s.bufOff)
		if !ok {
			return nil, ErrFieldOutOfBounds
		}
		str, err := decodeString(b, isUnicode)
		if err != nil {
			return nil, err
		}
		*s.dst = str
	}

	msg.IsAnonymous = msg.NegotiateFlags.Has(FlagAnonymous) ||
		(msg.Username == "" && len(msg.NtChallengeResponse) == 0)

	return msg, nil
}

// field returns a copy of the security buffer described at lenOff/bufOff.
// An empty buffer is valid; a buffer past the end of the message is not.
func field(buf []byte, lenOff, bufOff int) ([]byte, bool) {
	n := int(binary.LittleEndian.Uint16(buf[lenOff : lenOff+2]))
	if n == 0 {
		return nil, true
	}
	off := int(binary.LittleEndian.Uint32(buf[bufOff : bufOff+4]))
	if off < 0 || off+n > len(buf) {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, buf[off:off+n])
	return out, true
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// decodeString decodes a string from either UTF-16LE (Unicode) or OEM
// encoding. Unpaired surrogates and OEM bytes that are not UTF-8 are
// rejected rather than replaced.
func decodeString(buf []byte, isUnicode bool) (string, error) {
	if !isUnicode {
		if !utf8.Valid(buf) {
			return "", ErrInvalidString
		}
		return string(buf), nil
	}
	if len(buf)%2 != 0 || !wellFormedUTF16(buf) {
		return "", ErrInvalidString
	}
	out, err := utf16le.NewDecoder().Bytes(buf)
	if err != nil {
		return "", ErrInvalidString
	}
	return string(out), nil
}

// wellFormedUTF16 reports whether every surrogate in the little-endian
// buf belongs to a high/low pair.
func wellFormedUTF16(buf []byte) bool {
	for i := 0; i+1 < len(buf); i += 2 {
		r := rune(binary.LittleEndian.Uint16(buf[i:]))
		if !utf16.IsSurrogate(r) {
			continue
		}
		if i+3 >= len(buf) {
			return false
		}
		lo := rune(binary.LittleEndian.Uint16(buf[i+2:]))
		if utf16.DecodeRune(r, lo) == utf8.RuneError {
			return false
		}
		i += 2
	}
	return true
}

// encodeUTF16 encodes s as UTF-16LE without a BOM.
func encodeUTF16(s string) []byte {
	out, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// Only invalid UTF-8 fails; Go strings from config are valid.
		return nil
	}
	return out
}

// =============================================================================
// NTLM Errors
// =============================================================================

// Error types for NTLM message handling.
type Error string

func (e Error) Error() string { return string(e) }

const (
	// ErrMessageTooShort is returned when the buffer is too small for the message type.
	ErrMessageTooShort Error = "ntlm: message too short"

	// ErrInvalidSignature is returned when the NTLMSSP signature is missing or invalid.
	ErrInvalidSignature Error = "ntlm: invalid signature"

	// ErrWrongMessageType is returned when a message arrives out of order.
	ErrWrongMessageType Error = "ntlm: wrong message type"

	// ErrFieldOutOfBounds is returned when a security buffer points past the message.
	ErrFieldOutOfBounds Error = "ntlm: field out of bounds"

	// ErrInvalidString is returned for user, domain or workstation names
	// that do not decode to valid UTF-8.
	ErrInvalidString Error = "ntlm: invalid UTF-16 string"

	// ErrResponseTooShort is returned when the NT response cannot hold NTProofStr and a blob.
	ErrResponseTooShort Error = "ntlm: NTLMv2 response too short"

	// ErrAuthenticationFailed is returned when the NTProofStr does not verify.
	ErrAuthenticationFailed Error = "ntlm: authentication failed"

	// ErrNTLMv1 is returned for NTLMv1 (24-byte) responses, which are refused.
	ErrNTLMv1 Error = "ntlm: NTLMv1 responses are not accepted"

	// ErrAnonymous is returned for anonymous AUTHENTICATE messages.
	ErrAnonymous Error = "ntlm: anonymous authentication is not accepted"

	// ErrUnknownUser is returned by credential stores for unknown accounts.
	ErrUnknownUser Error = "ntlm: unknown user"

	// ErrStaleResponse is returned when the client blob timestamp is outside the allowed skew.
	ErrStaleResponse Error = "ntlm: response timestamp outside allowed skew"
)
