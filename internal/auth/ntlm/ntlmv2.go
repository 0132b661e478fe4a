package ntlm

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/binary"
	"strings"

	"golang.org/x/crypto/md4" //nolint:staticcheck // MD4 is required for NTLM protocol compatibility
)

// NTLMv2 response layout.
// [MS-NLMP] Section 2.2.2.8 (NTLMv2_RESPONSE) and 2.2.2.7 (NTLMv2_CLIENT_CHALLENGE)
const (
	ntProofStrSize = 16

	// blob: RespType(1) HiRespType(1) Reserved(6) TimeStamp(8)
	// ChallengeFromClient(8) Reserved(4) AvPairs(var)
	blobTimestampOffset = 8
	blobMinSize         = 28

	ntlmv1ResponseSize = 24
)

// ComputeNTHash computes the NT hash from a password.
// The NT hash is: MD4(UTF16LE(password))
func ComputeNTHash(password string) [16]byte {
	h := md4.New()
	h.Write(encodeUTF16(password))
	var ntHash [16]byte
	copy(ntHash[:], h.Sum(nil))
	return ntHash
}

// ComputeNTLMv2Hash computes NTOWFv2:
// HMAC-MD5(NT_Hash, UTF16LE(UPPERCASE(username) + domain))
//
// The user name is case-insensitive; the domain is used exactly as the
// client sent it.
func ComputeNTLMv2Hash(ntHash [16]byte, username, domain string) [16]byte {
	mac := hmac.New(md5.New, ntHash[:])
	mac.Write(encodeUTF16(strings.ToUpper(username) + domain))
	var out [16]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// ValidateNTLMv2Response verifies an NTLMv2 NtChallengeResponse and returns
// the session base key.
//
//	NTProofStr     = HMAC-MD5(NTOWFv2, ServerChallenge || blob)
//	SessionBaseKey = HMAC-MD5(NTOWFv2, NTProofStr)
func ValidateNTLMv2Response(ntHash [16]byte, username, domain string, serverChallenge [8]byte, ntResponse []byte) ([]byte, error) {
	if len(ntResponse) == ntlmv1ResponseSize {
		return nil, ErrNTLMv1
	}
	if len(ntResponse) < ntProofStrSize+8 {
		return nil, ErrResponseTooShort
	}

	proof := ntResponse[:ntProofStrSize]
	blob := ntResponse[ntProofStrSize:]
	v2Hash := ComputeNTLMv2Hash(ntHash, username, domain)

	mac := hmac.New(md5.New, v2Hash[:])
	mac.Write(serverChallenge[:])
	mac.Write(blob)
	expected := mac.Sum(nil)

	if !hmac.Equal(proof, expected) {
		return nil, ErrAuthenticationFailed
	}

	mac = hmac.New(md5.New, v2Hash[:])
	mac.Write(proof)
	return mac.Sum(nil), nil
}

// ResponseTimestamp returns the FILETIME carried in an NTLMv2 client blob.
func ResponseTimestamp(ntResponse []byte) (uint64, bool) {
	if len(ntResponse) < ntProofStrSize+blobMinSize {
		return 0, false
	}
	blob := ntResponse[ntProofStrSize:]
	return binary.LittleEndian.Uint64(blob[blobTimestampOffset : blobTimestampOffset+8]), true
}
