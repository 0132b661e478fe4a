package ntlm

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"encoding/binary"
	"testing"
	"time"
)

// =============================================================================
// Signature Tests
// =============================================================================

func TestSignature(t *testing.T) {
	expected := []byte{'N', 'T', 'L', 'M', 'S', 'S', 'P', 0}
	if !bytes.Equal(Signature, expected) {
		t.Errorf("Signature = %v, expected %v", Signature, expected)
	}
}

// =============================================================================
// IsValid Tests
// =============================================================================

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected bool
	}{
		{
			name:     "ValidNegotiateMessage",
			input:    buildTestMessage(Negotiate),
			expected: true,
		},
		{
			name:     "ValidChallengeMessage",
			input:    buildTestMessage(Challenge),
			expected: true,
		},
		{
			name:     "ValidAuthenticateMessage",
			input:    buildTestMessage(Authenticate),
			expected: true,
		},
		{
			name:     "TooShort",
			input:    []byte{'N', 'T', 'L', 'M'},
			expected: false,
		},
		{
			name:     "WrongSignature",
			input:    []byte{'X', 'X', 'X', 'X', 'X', 'X', 'X', 0, 1, 0, 0, 0},
			expected: false,
		},
		{
			name:     "Empty",
			input:    []byte{},
			expected: false,
		},
		{
			name:     "Nil",
			input:    nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValid(tt.input)
			if result != tt.expected {
				t.Errorf("IsValid(%v) = %v, expected %v", tt.input, result, tt.expected)
			}
		})
	}
}

// =============================================================================
// GetMessageType Tests
// =============================================================================

func TestGetMessageType(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected MessageType
	}{
		{
			name:     "NegotiateMessage",
			input:    buildTestMessage(Negotiate),
			expected: Negotiate,
		},
		{
			name:     "ChallengeMessage",
			input:    buildTestMessage(Challenge),
			expected: Challenge,
		},
		{
			name:     "AuthenticateMessage",
			input:    buildTestMessage(Authenticate),
			expected: Authenticate,
		},
		{
			name:     "TooShort",
			input:    []byte{'N', 'T', 'L', 'M', 'S', 'S', 'P', 0},
			expected: 0,
		},
		{
			name:     "Empty",
			input:    []byte{},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GetMessageType(tt.input)
			if result != tt.expected {
				t.Errorf("GetMessageType() = %v, expected %v", result, tt.expected)
			}
		})
	}
}

// =============================================================================
// BuildChallenge Tests
// =============================================================================

func TestBuildChallenge(t *testing.T) {
	serverChallenge, err := NewServerChallenge()
	if err != nil {
		t.Fatalf("NewServerChallenge: %v", err)
	}
	target := TargetInfo{
		NbComputerName: "WEB01",
		NbDomainName:   "CORP",
		Timestamp:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	flags := challengeFlags(FlagUnicode | FlagNTLM | FlagExtendedSecurity | FlagSign | Flag128)
	msg := BuildChallenge(flags, serverChallenge, target)

	t.Run("HasCorrectSignature", func(t *testing.T) {
		if !bytes.Equal(msg[0:8], Signature) {
			t.Error("Challenge message should start with NTLMSSP signature")
		}
	})

	t.Run("HasCorrectMessageType", func(t *testing.T) {
		if msgType := GetMessageType(msg); msgType != Challenge {
			t.Errorf("Message type = %d, expected %d (Challenge)", msgType, Challenge)
		}
	})

	t.Run("CarriesServerChallenge", func(t *testing.T) {
		if !bytes.Equal(msg[24:32], serverChallenge[:]) {
			t.Error("Server challenge at offset 24 should match the generated one")
		}
	})

	t.Run("GeneratesUniqueChallenge", func(t *testing.T) {
		other, err := NewServerChallenge()
		if err != nil {
			t.Fatalf("NewServerChallenge: %v", err)
		}
		if other == serverChallenge {
			t.Error("Two challenges should be different (random)")
		}
	})

	t.Run("TargetNameIsDomain", func(t *testing.T) {
		n := binary.LittleEndian.Uint16(msg[12:14])
		off := binary.LittleEndian.Uint32(msg[16:20])
		name, err := decodeString(msg[off:off+uint32(n)], true)
		if err != nil {
			t.Fatalf("decodeString: %v", err)
		}
		if name != "CORP" {
			t.Errorf("TargetName = %q, expected CORP", name)
		}
	})

	t.Run("TargetInfoMatches", func(t *testing.T) {
		n := binary.LittleEndian.Uint16(msg[40:42])
		off := binary.LittleEndian.Uint32(msg[44:48])
		if !bytes.Equal(msg[off:off+uint32(n)], target.Marshal()) {
			t.Error("TargetInfo payload should match TargetInfo.Marshal")
		}
	})

	t.Run("HasExpectedFlags", func(t *testing.T) {
		got := NegotiateFlag(binary.LittleEndian.Uint32(msg[20:24]))

		for _, f := range []NegotiateFlag{FlagUnicode, FlagRequestTarget, FlagNTLM, FlagExtendedSecurity, FlagTargetInfo, FlagSign, Flag128} {
			if !got.Has(f) {
				t.Errorf("Expected flag 0x%08x to be set", uint32(f))
			}
		}
		for _, f := range []NegotiateFlag{FlagLMKey, FlagKeyExchange, FlagSeal, Flag56} {
			if got.Has(f) {
				t.Errorf("Flag 0x%08x must not be set", uint32(f))
			}
		}
	})
}

func TestChallengeFlagsOEM(t *testing.T) {
	flags := challengeFlags(FlagOEM | FlagNTLM)
	if flags.Has(FlagUnicode) || !flags.Has(FlagOEM) {
		t.Errorf("OEM-only client should get OEM strings, flags = 0x%08x", uint32(flags))
	}
}

// =============================================================================
// TargetInfo Tests
// =============================================================================

func TestTargetInfoMarshal(t *testing.T) {
	t.Run("EmptyIsJustEOL", func(t *testing.T) {
		info := TargetInfo{}.Marshal()
		if !bytes.Equal(info, []byte{0, 0, 0, 0}) {
			t.Errorf("TargetInfo = %x, expected 00000000", info)
		}
	})

	t.Run("EncodesPairsInOrder", func(t *testing.T) {
		ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		info := TargetInfo{NbDomainName: "CORP", NbComputerName: "WEB", Timestamp: ts}.Marshal()

		var ids []AvID
		for off := 0; off+4 <= len(info); {
			id := AvID(binary.LittleEndian.Uint16(info[off:]))
			n := int(binary.LittleEndian.Uint16(info[off+2:]))
			ids = append(ids, id)
			if id == AvTimestamp {
				got := FromFileTime(binary.LittleEndian.Uint64(info[off+4:]))
				if !got.Equal(ts) {
					t.Errorf("Timestamp = %v, expected %v", got, ts)
				}
			}
			off += 4 + n
		}

		expected := []AvID{AvNbDomainName, AvNbComputerName, AvTimestamp, AvEOL}
		if len(ids) != len(expected) {
			t.Fatalf("AV ids = %v, expected %v", ids, expected)
		}
		for i := range ids {
			if ids[i] != expected[i] {
				t.Errorf("AV id %d = %d, expected %d", i, ids[i], expected[i])
			}
		}
	})
}

func TestFileTimeRoundTrip(t *testing.T) {
	ts := time.Date(2030, 6, 1, 12, 0, 0, 500, time.UTC).Truncate(100 * time.Nanosecond)
	if got := FromFileTime(ToFileTime(ts)); !got.Equal(ts) {
		t.Errorf("FromFileTime(ToFileTime(%v)) = %v", ts, got)
	}
	if ToFileTime(time.Unix(0, 0)) != fileTimeEpochOffset {
		t.Error("Unix epoch should map to the FILETIME epoch offset")
	}
}

// =============================================================================
// Message Parsing Tests
// =============================================================================

func TestParseNegotiate(t *testing.T) {
	t.Run("WithDomainAndWorkstation", func(t *testing.T) {
		buf := make([]byte, 32, 64)
		copy(buf, Signature)
		binary.LittleEndian.PutUint32(buf[8:], uint32(Negotiate))
		flags := FlagUnicode | FlagNTLM | FlagDomainSupplied | FlagWorkstationSupplied
		binary.LittleEndian.PutUint32(buf[12:], uint32(flags))
		binary.LittleEndian.PutUint16(buf[16:], 4)
		binary.LittleEndian.PutUint32(buf[20:], 32)
		binary.LittleEndian.PutUint16(buf[24:], 5)
		binary.LittleEndian.PutUint32(buf[28:], 36)
		buf = append(buf, "CORPHOST1"...)

		msg, err := ParseNegotiate(buf)
		if err != nil {
			t.Fatalf("ParseNegotiate: %v", err)
		}
		if msg.Domain != "CORP" || msg.Workstation != "HOST1" {
			t.Errorf("Domain/Workstation = %q/%q", msg.Domain, msg.Workstation)
		}
		if !msg.NegotiateFlags.Has(FlagUnicode) {
			t.Error("Unicode flag should be parsed")
		}
	})

	t.Run("FlagsOnly", func(t *testing.T) {
		buf := buildTestMessage(Negotiate)[:16]
		if _, err := ParseNegotiate(buf); err != nil {
			t.Errorf("ParseNegotiate: %v", err)
		}
	})

	t.Run("Errors", func(t *testing.T) {
		cases := []struct {
			name string
			buf  []byte
			err  error
		}{
			{"TooShort", Signature, ErrMessageTooShort},
			{"WrongSignature", append([]byte("XXXXXXX\x00"), make([]byte, 24)...), ErrInvalidSignature},
			{"WrongType", buildTestMessage(Authenticate), ErrWrongMessageType},
		}
		for _, c := range cases {
			if _, err := ParseNegotiate(c.buf); err != c.err {
				t.Errorf("%s: err = %v, expected %v", c.name, err, c.err)
			}
		}
	})
}

func TestParseAuthenticate(t *testing.T) {
	ntResp := bytes.Repeat([]byte{0xaa}, 48)
	buf := buildAuthenticate(t, FlagUnicode|FlagNTLM, "CORP", "alice", "HOST1", ntResp)

	msg, err := ParseAuthenticate(buf)
	if err != nil {
		t.Fatalf("ParseAuthenticate: %v", err)
	}
	if msg.Domain != "CORP" || msg.Username != "alice" || msg.Workstation != "HOST1" {
		t.Errorf("parsed %q/%q/%q", msg.Domain, msg.Username, msg.Workstation)
	}
	if !bytes.Equal(msg.NtChallengeResponse, ntResp) {
		t.Error("NtChallengeResponse mismatch")
	}
	if msg.IsAnonymous {
		t.Error("message should not be anonymous")
	}

	t.Run("Anonymous", func(t *testing.T) {
		buf := buildAuthenticate(t, FlagUnicode, "", "", "", nil)
		msg, err := ParseAuthenticate(buf)
		if err != nil {
			t.Fatalf("ParseAuthenticate: %v", err)
		}
		if !msg.IsAnonymous {
			t.Error("empty user with empty NT response should be anonymous")
		}
	})

	t.Run("FieldOutOfBounds", func(t *testing.T) {
		bad := append([]byte(nil), buf...)
		binary.LittleEndian.PutUint32(bad[40:], uint32(len(bad)))
		if _, err := ParseAuthenticate(bad); err != ErrFieldOutOfBounds {
			t.Errorf("err = %v, expected ErrFieldOutOfBounds", err)
		}
	})

	t.Run("OddUnicodeLength", func(t *testing.T) {
		bad := append([]byte(nil), buf...)
		binary.LittleEndian.PutUint16(bad[36:], 3)
		if _, err := ParseAuthenticate(bad); err != ErrInvalidString {
			t.Errorf("err = %v, expected ErrInvalidString", err)
		}
	})

	t.Run("UnpairedSurrogateUsername", func(t *testing.T) {
		bad := append([]byte(nil), buf...)
		n := binary.LittleEndian.Uint16(bad[36:])
		off := binary.LittleEndian.Uint32(bad[40:])
		if n < 4 {
			t.Fatalf("username too short to corrupt: %d bytes", n)
		}
		binary.LittleEndian.PutUint16(bad[off:], 0xD800)
		if _, err := ParseAuthenticate(bad); err != ErrInvalidString {
			t.Errorf("err = %v, expected ErrInvalidString", err)
		}
	})
}

func TestDecodeString(t *testing.T) {
	encode := func(units ...uint16) []byte {
		b := make([]byte, 2*len(units))
		for i, u := range units {
			binary.LittleEndian.PutUint16(b[2*i:], u)
		}
		return b
	}

	tests := []struct {
		name    string
		buf     []byte
		unicode bool
		want    string
		wantErr bool
	}{
		{"ASCII", encode('b', 'o', 'b'), true, "bob", false},
		{"SurrogatePair", encode('a', 0xD83D, 0xDE00), true, "a\U0001F600", false},
		{"LoneHigh", encode('a', 0xD800, 'b'), true, "", true},
		{"TrailingHigh", encode('a', 0xD800), true, "", true},
		{"LoneLow", encode(0xDC00, 'a'), true, "", true},
		{"ReversedPair", encode(0xDE00, 0xD83D), true, "", true},
		{"OddLength", []byte{'a', 0, 'b'}, true, "", true},
		{"LiteralReplacementChar", encode(0xFFFD), true, "\uFFFD", false},
		{"OEMASCII", []byte("CORP"), false, "CORP", false},
		{"OEMNotUTF8", []byte{'b', 0xff, 'b'}, false, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeString(tt.buf, tt.unicode)
			if tt.wantErr {
				if err != ErrInvalidString {
					t.Fatalf("err = %v, expected ErrInvalidString", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeString: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// =============================================================================
// NTLMv2 Authentication Tests
// =============================================================================

func TestComputeNTHash(t *testing.T) {
	// Test that the NT hash implementation produces consistent results
	// and matches known reference values.
	// NT Hash = MD4(UTF16LE(password))

	t.Run("EmptyPassword", func(t *testing.T) {
		// Empty password produces the well-known "empty NT hash"
		ntHash := ComputeNTHash("")
		expected := "31d6cfe0d16ae931b73c59d7e0c089c0"
		result := bytesToHex(ntHash[:])
		if result != expected {
			t.Errorf("ComputeNTHash(\"\") = %s, expected %s", result, expected)
		}
	})

	t.Run("ConsistentResults", func(t *testing.T) {
		// Same password should produce same hash
		hash1 := ComputeNTHash("testpassword")
		hash2 := ComputeNTHash("testpassword")
		if !bytes.Equal(hash1[:], hash2[:]) {
			t.Error("Same password should produce same NT hash")
		}
	})

	t.Run("DifferentPasswordsDifferentHashes", func(t *testing.T) {
		hash1 := ComputeNTHash("password1")
		hash2 := ComputeNTHash("password2")
		if bytes.Equal(hash1[:], hash2[:]) {
			t.Error("Different passwords should produce different NT hashes")
		}
	})

	t.Run("CaseSensitive", func(t *testing.T) {
		hash1 := ComputeNTHash("Password")
		hash2 := ComputeNTHash("password")
		if bytes.Equal(hash1[:], hash2[:]) {
			t.Error("NT hash should be case-sensitive")
		}
	})

	t.Run("UnicodeSupport", func(t *testing.T) {
		// NT hash supports Unicode passwords
		hash := ComputeNTHash("пароль") // Russian for "password"
		// Should produce a valid 16-byte hash
		if len(hash) != 16 {
			t.Errorf("NT hash should be 16 bytes, got %d", len(hash))
		}
		// Should not be all zeros
		allZero := true
		for _, b := range hash {
			if b != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			t.Error("NT hash should not be all zeros for non-empty password")
		}
	})
}

func TestComputeNTLMv2Hash(t *testing.T) {
	// The NTLMv2 hash is: HMAC-MD5(NT_Hash, UPPERCASE(username) + domain)
	// Using UTF-16LE encoding for the concatenated string

	t.Run("ConsistentResults", func(t *testing.T) {
		ntHash := ComputeNTHash("password")
		hash1 := ComputeNTLMv2Hash(ntHash, "user", "DOMAIN")
		hash2 := ComputeNTLMv2Hash(ntHash, "user", "DOMAIN")

		if !bytes.Equal(hash1[:], hash2[:]) {
			t.Error("Same inputs should produce same NTLMv2 hash")
		}
	})

	t.Run("CaseInsensitiveUsername", func(t *testing.T) {
		ntHash := ComputeNTHash("password")
		hash1 := ComputeNTLMv2Hash(ntHash, "user", "DOMAIN")
		hash2 := ComputeNTLMv2Hash(ntHash, "USER", "DOMAIN")
		hash3 := ComputeNTLMv2Hash(ntHash, "User", "DOMAIN")

		if !bytes.Equal(hash1[:], hash2[:]) || !bytes.Equal(hash1[:], hash3[:]) {
			t.Error("Username should be case-insensitive (uppercased internally)")
		}
	})

	t.Run("CaseSensitiveDomain", func(t *testing.T) {
		ntHash := ComputeNTHash("password")
		hash1 := ComputeNTLMv2Hash(ntHash, "user", "DOMAIN")
		hash2 := ComputeNTLMv2Hash(ntHash, "user", "domain")

		if bytes.Equal(hash1[:], hash2[:]) {
			t.Error("Domain should be case-sensitive")
		}
	})

	t.Run("DifferentPasswordsDifferentHashes", func(t *testing.T) {
		ntHash1 := ComputeNTHash("password1")
		ntHash2 := ComputeNTHash("password2")
		hash1 := ComputeNTLMv2Hash(ntHash1, "user", "DOMAIN")
		hash2 := ComputeNTLMv2Hash(ntHash2, "user", "DOMAIN")

		if bytes.Equal(hash1[:], hash2[:]) {
			t.Error("Different passwords should produce different NTLMv2 hashes")
		}
	})

	t.Run("DifferentUsersDifferentHashes", func(t *testing.T) {
		ntHash := ComputeNTHash("password")
		hash1 := ComputeNTLMv2Hash(ntHash, "user1", "DOMAIN")
		hash2 := ComputeNTLMv2Hash(ntHash, "user2", "DOMAIN")

		if bytes.Equal(hash1[:], hash2[:]) {
			t.Error("Different users should produce different NTLMv2 hashes")
		}
	})
}

func TestValidateNTLMv2Response(t *testing.T) {
	t.Run("ResponseTooShort", func(t *testing.T) {
		ntHash := ComputeNTHash("password")
		serverChallenge := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
		shortResponse := make([]byte, 20) // Too short, needs at least 24 bytes

		_, err := ValidateNTLMv2Response(ntHash, "user", "DOMAIN", serverChallenge, shortResponse)
		if err != ErrResponseTooShort {
			t.Errorf("Expected ErrResponseTooShort, got %v", err)
		}
	})

	t.Run("InvalidResponse", func(t *testing.T) {
		ntHash := ComputeNTHash("password")
		serverChallenge := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
		invalidResponse := make([]byte, 32) // Long enough but invalid

		_, err := ValidateNTLMv2Response(ntHash, "user", "DOMAIN", serverChallenge, invalidResponse)
		if err != ErrAuthenticationFailed {
			t.Errorf("Expected ErrAuthenticationFailed, got %v", err)
		}
	})

	t.Run("ValidResponseProducesSessionKey", func(t *testing.T) {
		// This test validates the complete flow:
		// 1. Server generates challenge
		// 2. Client builds NTLMv2 response with correct credentials
		// 3. Server validates and derives session key

		password := "test123"
		username := "testuser"
		domain := "TESTDOMAIN"
		serverChallenge := [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

		// Compute NT hash (both client and server have this)
		ntHash := ComputeNTHash(password)

		// Simulate client building NTLMv2 response
		// The client blob contains timestamp and other data
		clientBlob := buildTestClientBlob()

		// Compute expected NTProofStr (what the client sends)
		ntlmv2Hash := ComputeNTLMv2Hash(ntHash, username, domain)
		ntProofStr := computeNTProofStr(ntlmv2Hash, serverChallenge, clientBlob)

		// Build complete NT response: NTProofStr + ClientBlob
		ntResponse := make([]byte, len(ntProofStr)+len(clientBlob))
		copy(ntResponse[:16], ntProofStr)
		copy(ntResponse[16:], clientBlob)

		// Server validates and gets session key
		sessionKey, err := ValidateNTLMv2Response(ntHash, username, domain, serverChallenge, ntResponse)
		if err != nil {
			t.Fatalf("ValidateNTLMv2Response failed: %v", err)
		}

		// Session key should not be all zeros
		allZero := true
		for _, b := range sessionKey {
			if b != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			t.Error("Session key should not be all zeros")
		}
	})

	t.Run("WrongPasswordFails", func(t *testing.T) {
		password := "correctpassword"
		wrongPassword := "wrongpassword"
		username := "testuser"
		domain := "TESTDOMAIN"
		serverChallenge := [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

		// Client uses correct password
		correctNTHash := ComputeNTHash(password)
		clientBlob := buildTestClientBlob()
		ntlmv2Hash := ComputeNTLMv2Hash(correctNTHash, username, domain)
		ntProofStr := computeNTProofStr(ntlmv2Hash, serverChallenge, clientBlob)

		ntResponse := make([]byte, len(ntProofStr)+len(clientBlob))
		copy(ntResponse[:16], ntProofStr)
		copy(ntResponse[16:], clientBlob)

		// Server uses wrong password (NT hash)
		wrongNTHash := ComputeNTHash(wrongPassword)
		_, err := ValidateNTLMv2Response(wrongNTHash, username, domain, serverChallenge, ntResponse)
		if err != ErrAuthenticationFailed {
			t.Errorf("Expected ErrAuthenticationFailed for wrong password, got %v", err)
		}
	})

	t.Run("WrongServerChallengeFails", func(t *testing.T) {
		password := "test123"
		username := "testuser"
		domain := "TESTDOMAIN"
		correctChallenge := [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
		wrongChallenge := [8]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

		ntHash := ComputeNTHash(password)
		clientBlob := buildTestClientBlob()
		ntlmv2Hash := ComputeNTLMv2Hash(ntHash, username, domain)
		// Client computed proof with correct challenge
		ntProofStr := computeNTProofStr(ntlmv2Hash, correctChallenge, clientBlob)

		ntResponse := make([]byte, len(ntProofStr)+len(clientBlob))
		copy(ntResponse[:16], ntProofStr)
		copy(ntResponse[16:], clientBlob)

		// Server validates with wrong challenge
		_, err := ValidateNTLMv2Response(ntHash, username, domain, wrongChallenge, ntResponse)
		if err != ErrAuthenticationFailed {
			t.Errorf("Expected ErrAuthenticationFailed for wrong challenge, got %v", err)
		}
	})
}

// =============================================================================
// Test Helpers
// =============================================================================

// buildAuthenticate assembles a Type 3 message with Unicode strings.
func buildAuthenticate(t *testing.T, flags NegotiateFlag, domain, user, workstation string, ntResp []byte) []byte {
	t.Helper()
	buf := make([]byte, authBaseSize)
	copy(buf, Signature)
	binary.LittleEndian.PutUint32(buf[8:], uint32(Authenticate))
	binary.LittleEndian.PutUint32(buf[authNegotiateFlagsOffset:], uint32(flags))

	put := func(lenOff, bufOff int, data []byte) {
		binary.LittleEndian.PutUint16(buf[lenOff:], uint16(len(data)))
		binary.LittleEndian.PutUint16(buf[lenOff+2:], uint16(len(data)))
		binary.LittleEndian.PutUint32(buf[bufOff:], uint32(len(buf)))
		buf = append(buf, data...)
	}
	put(authNtResponseLenOffset, authNtResponseOffOffset, ntResp)
	put(authDomainNameLenOffset, authDomainNameOffOffset, encodeUTF16(domain))
	put(authUserNameLenOffset, authUserNameOffOffset, encodeUTF16(user))
	put(authWorkstationLenOffset, authWorkstationOffOffset, encodeUTF16(workstation))
	return buf
}

// buildTestMessage creates a minimal NTLM message of the given type.
func buildTestMessage(msgType MessageType) []byte {
	msg := make([]byte, 32)
	copy(msg[0:8], Signature)
	binary.LittleEndian.PutUint32(msg[8:12], uint32(msgType))
	return msg
}

// bytesToHex converts a byte slice to a hex string.
func bytesToHex(b []byte) string {
	result := make([]byte, len(b)*2)
	const hexChars = "0123456789abcdef"
	for i, v := range b {
		result[i*2] = hexChars[v>>4]
		result[i*2+1] = hexChars[v&0x0f]
	}
	return string(result)
}

// buildTestClientBlob creates a minimal client blob for testing.
// In real NTLMv2, this contains timestamp, nonce, and target info.
func buildTestClientBlob() []byte {
	// Minimal client blob structure:
	// - RespType (1 byte): 0x01
	// - HiRespType (1 byte): 0x01
	// - Reserved1 (2 bytes): 0x0000
	// - Reserved2 (4 bytes): 0x00000000
	// - TimeStamp (8 bytes): any value
	// - ChallengeFromClient (8 bytes): random
	// - Reserved3 (4 bytes): 0x00000000
	// - AvPairs (4+ bytes): at minimum MsvAvEOL (AvId=0, AvLen=0)
	blob := make([]byte, 32)
	blob[0] = 0x01                                    // RespType
	blob[1] = 0x01                                    // HiRespType
	binary.LittleEndian.PutUint64(blob[8:16], 123)    // TimeStamp
	copy(blob[16:24], []byte{1, 2, 3, 4, 5, 6, 7, 8}) // ClientChallenge
	// AvPairs at 28: MsvAvEOL (AvId=0, AvLen=0) = 4 bytes of zeros
	return blob
}

// computeNTProofStr computes the NTProofStr for testing.
// This simulates what the client does during authentication.
func computeNTProofStr(ntlmv2Hash [16]byte, serverChallenge [8]byte, clientBlob []byte) []byte {
	mac := hmac.New(md5.New, ntlmv2Hash[:])
	mac.Write(serverChallenge[:])
	mac.Write(clientBlob)
	return mac.Sum(nil)
}
