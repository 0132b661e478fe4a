package kerberos

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Azure/go-ntlmssp"
	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/negotiate/internal/auth/ntlm"
	"github.com/marmos91/negotiate/internal/auth/spnego"
	"github.com/marmos91/negotiate/pkg/config"
	"github.com/marmos91/negotiate/pkg/negotiate"
)

const (
	testSPN   = "HTTP/web.example.com"
	testRealm = "EXAMPLE.COM"
)

func testKeytab(t *testing.T) *keytab.Keytab {
	t.Helper()
	kt := keytab.New()
	require.NoError(t, kt.AddEntry(testSPN, testRealm, "service-password", time.Now(), 1, 18))
	return kt
}

type apReqOptions struct {
	mutual  bool
	subkey  bool
	skew    time.Duration
	service string
}

// buildAPReq issues a ticket for cname straight from the service keytab and
// returns the marshaled AP-REQ with its session key and authenticator.
func buildAPReq(t *testing.T, kt *keytab.Keytab, cname string, opts apReqOptions) ([]byte, types.EncryptionKey, types.Authenticator) {
	t.Helper()

	client := types.NewPrincipalName(nametype.KRB_NT_PRINCIPAL, cname)
	spn := opts.service
	if spn == "" {
		spn = testSPN
	}
	service, _ := types.ParseSPNString(spn)

	now := time.Now().UTC()
	tkt, sessionKey, err := messages.NewTicket(client, testRealm, service, testRealm,
		types.NewKrbFlags(), kt, 18, 1, now, now, now.Add(time.Hour), now.Add(2*time.Hour))
	require.NoError(t, err)

	auth, err := types.NewAuthenticator(testRealm, client)
	require.NoError(t, err)
	auth.CTime = auth.CTime.Add(opts.skew)
	if opts.subkey {
		require.NoError(t, auth.GenerateSeqNumberAndSubKey(18, 32))
	}

	apReq, err := messages.NewAPReq(tkt, sessionKey, auth)
	require.NoError(t, err)
	if opts.mutual {
		types.SetFlag(&apReq.APOptions, flags.APOptionMutualRequired)
	}

	b, err := apReq.Marshal()
	require.NoError(t, err)
	return b, sessionKey, auth
}

func newTestAcceptor(t *testing.T, kt *keytab.Keytab, opts ...AcceptorOption) *Acceptor {
	t.Helper()
	p := NewProviderFromKeytab(kt, 5*time.Minute)
	return NewAcceptor(NewKrb5Verifier(p), opts...)
}

func step(t *testing.T, acc *Acceptor, token []byte) (*negotiate.Outcome, error) {
	t.Helper()
	return stepFor(t, acc, testSPN, token)
}

func stepFor(t *testing.T, acc *Acceptor, spn string, token []byte) (*negotiate.Outcome, error) {
	t.Helper()
	ctx, err := acc.NewContext(spn)
	require.NoError(t, err)
	return ctx.Step(token)
}

// decryptAPRep unwraps a GSS AP-REP and returns its decrypted part.
func decryptAPRep(t *testing.T, token []byte, sessionKey types.EncryptionKey) messages.EncAPRepPart {
	t.Helper()

	oid, rest, err := spnego.InitialContextOID(token)
	require.NoError(t, err)
	require.True(t, oid.Equal(spnego.OIDKerberosV5))
	require.GreaterOrEqual(t, len(rest), 2)
	require.Equal(t, []byte{0x02, 0x00}, rest[:2])

	var rep messages.APRep
	require.NoError(t, rep.Unmarshal(rest[2:]))

	plain, err := crypto.DecryptEncPart(rep.EncPart, sessionKey, keyusage.AP_REP_ENCPART)
	require.NoError(t, err)

	var part messages.EncAPRepPart
	require.NoError(t, part.Unmarshal(plain))
	return part
}

func TestAcceptorRawKerberos(t *testing.T) {
	kt := testKeytab(t)
	acc := newTestAcceptor(t, kt)

	t.Run("RawAPReq", func(t *testing.T) {
		apReq, _, _ := buildAPReq(t, kt, "raw-alice", apReqOptions{})
		out, err := step(t, acc, wrapGSSToken(apReq, tokenIDAPReq))
		require.NoError(t, err)
		require.True(t, out.Done())
		assert.Empty(t, out.Token(), "no AP-REP without mutual-required")

		id := out.Identity()
		assert.Equal(t, negotiate.MechanismKerberos, id.Mechanism)
		assert.Equal(t, "raw-alice@"+testRealm, id.Principal)
		assert.Equal(t, "raw-alice", id.Username)
		assert.Equal(t, testRealm, id.Realm)
		assert.NotEmpty(t, id.SessionKey)
	})

	t.Run("MutualWithSubkey", func(t *testing.T) {
		apReq, sessionKey, auth := buildAPReq(t, kt, "raw-bob", apReqOptions{mutual: true, subkey: true})
		out, err := step(t, acc, wrapGSSToken(apReq, tokenIDAPReq))
		require.NoError(t, err)
		require.True(t, out.Done())
		require.NotEmpty(t, out.Token())

		part := decryptAPRep(t, out.Token(), sessionKey)
		// KerberosTime carries whole seconds; Cusec holds the remainder.
		assert.Equal(t, auth.CTime.Unix(), part.CTime.Unix())
		assert.Equal(t, auth.Cusec, part.Cusec)
		assert.Equal(t, auth.SubKey.KeyValue, part.Subkey.KeyValue)
		assert.Equal(t, auth.SubKey.KeyValue, out.Identity().SessionKey)
	})

	t.Run("Replay", func(t *testing.T) {
		apReq, _, _ := buildAPReq(t, kt, "raw-carol", apReqOptions{})
		token := wrapGSSToken(apReq, tokenIDAPReq)

		_, err := step(t, acc, token)
		require.NoError(t, err)

		_, err = step(t, acc, token)
		assert.Error(t, err)
	})

	t.Run("ClockSkew", func(t *testing.T) {
		apReq, _, _ := buildAPReq(t, kt, "raw-dave", apReqOptions{skew: -time.Hour})
		_, err := step(t, acc, wrapGSSToken(apReq, tokenIDAPReq))
		assert.Error(t, err)
	})

	t.Run("WrongKeytab", func(t *testing.T) {
		other := keytab.New()
		require.NoError(t, other.AddEntry(testSPN, testRealm, "other-password", time.Now(), 1, 18))
		apReq, _, _ := buildAPReq(t, other, "raw-erin", apReqOptions{})

		_, err := step(t, acc, wrapGSSToken(apReq, tokenIDAPReq))
		assert.Error(t, err)
	})

	t.Run("WrongServicePrincipal", func(t *testing.T) {
		apReq, _, _ := buildAPReq(t, kt, "raw-frank", apReqOptions{})

		_, err := stepFor(t, acc, "HTTP/other.example.com", wrapGSSToken(apReq, tokenIDAPReq))
		assert.ErrorIs(t, err, ErrWrongServicePrincipal)
	})
}

func TestAcceptorBindsServicePrincipal(t *testing.T) {
	const otherSPN = "HTTP/other.example.com"

	kt := testKeytab(t)
	require.NoError(t, kt.AddEntry(otherSPN, testRealm, "other-service-password", time.Now(), 1, 18))
	acc := newTestAcceptor(t, kt)

	t.Run("TicketForSiblingService", func(t *testing.T) {
		apReq, _, _ := buildAPReq(t, kt, "bind-alice", apReqOptions{service: otherSPN})
		_, err := step(t, acc, wrapGSSToken(apReq, tokenIDAPReq))
		assert.ErrorIs(t, err, ErrWrongServicePrincipal)
	})

	t.Run("SiblingServiceOptimisticSPNEGO", func(t *testing.T) {
		apReq, _, _ := buildAPReq(t, kt, "bind-bob", apReqOptions{service: otherSPN, mutual: true})
		init, err := spnego.BuildInit([]asn1.ObjectIdentifier{spnego.OIDKerberosV5}, wrapGSSToken(apReq, tokenIDAPReq))
		require.NoError(t, err)
		_, err = step(t, acc, init)
		assert.ErrorIs(t, err, ErrWrongServicePrincipal)
	})

	t.Run("MatchingService", func(t *testing.T) {
		apReq, _, _ := buildAPReq(t, kt, "bind-carol", apReqOptions{service: otherSPN})
		out, err := stepFor(t, acc, otherSPN, wrapGSSToken(apReq, tokenIDAPReq))
		require.NoError(t, err)
		assert.Equal(t, "bind-carol@"+testRealm, out.Identity().Principal)
	})

	t.Run("CaseInsensitiveWithRealm", func(t *testing.T) {
		apReq, _, _ := buildAPReq(t, kt, "bind-dave", apReqOptions{})
		out, err := stepFor(t, acc, "http/WEB.example.com@"+testRealm, wrapGSSToken(apReq, tokenIDAPReq))
		require.NoError(t, err)
		assert.True(t, out.Done())
	})

	t.Run("WrongRealm", func(t *testing.T) {
		apReq, _, _ := buildAPReq(t, kt, "bind-erin", apReqOptions{})
		_, err := stepFor(t, acc, testSPN+"@OTHER.REALM", wrapGSSToken(apReq, tokenIDAPReq))
		assert.ErrorIs(t, err, ErrWrongServicePrincipal)
	})

	t.Run("EmptySPN", func(t *testing.T) {
		_, err := acc.NewContext("")
		assert.Error(t, err)
	})
}

func TestAcceptorSPNEGOKerberos(t *testing.T) {
	kt := testKeytab(t)
	acc := newTestAcceptor(t, kt, WithMapper(NewStaticMapper(&config.IdentityMappingConfig{StripRealm: true}, testRealm)))

	for _, mech := range []asn1.ObjectIdentifier{spnego.OIDMSKerberosV5, spnego.OIDKerberosV5} {
		t.Run(mech.String(), func(t *testing.T) {
			cname := "spnego-" + strings.ReplaceAll(mech.String(), ".", "-")
			apReq, sessionKey, _ := buildAPReq(t, kt, cname, apReqOptions{mutual: true})
			init, err := spnego.BuildInit([]asn1.ObjectIdentifier{mech, spnego.OIDNTLMSSP}, wrapGSSToken(apReq, tokenIDAPReq))
			require.NoError(t, err)

			out, err := step(t, acc, init)
			require.NoError(t, err)
			require.True(t, out.Done())
			assert.Equal(t, cname, out.Identity().Principal, "realm stripped by mapper")

			resp, err := spnego.Parse(out.Token())
			require.NoError(t, err)
			assert.Equal(t, spnego.TokenTypeResp, resp.Type)
			assert.Equal(t, spnego.NegStateAcceptCompleted, resp.NegState)
			assert.True(t, resp.SupportedMech.Equal(mech))
			decryptAPRep(t, resp.MechToken, sessionKey)
		})
	}
}

func TestAcceptorRejects(t *testing.T) {
	kt := testKeytab(t)
	acc := newTestAcceptor(t, kt)

	t.Run("Garbage", func(t *testing.T) {
		_, err := step(t, acc, []byte{0x01, 0x02, 0x03})
		assert.ErrorIs(t, err, negotiate.ErrMalformedToken)
	})

	t.Run("KerberosWithoutToken", func(t *testing.T) {
		init, err := spnego.BuildInit([]asn1.ObjectIdentifier{spnego.OIDKerberosV5}, nil)
		require.NoError(t, err)
		_, err = step(t, acc, init)
		assert.ErrorIs(t, err, spnego.ErrNoMechToken)
	})

	t.Run("NTLMWithoutFactory", func(t *testing.T) {
		init, err := spnego.BuildInit([]asn1.ObjectIdentifier{spnego.OIDNTLMSSP}, []byte("NTLMSSP\x00"))
		require.NoError(t, err)
		_, err = step(t, acc, init)
		assert.ErrorIs(t, err, spnego.ErrUnsupportedMech)
	})

	t.Run("UnexpectedResp", func(t *testing.T) {
		resp, err := spnego.BuildAcceptIncomplete(spnego.OIDNTLMSSP, []byte("x"))
		require.NoError(t, err)
		_, err = step(t, acc, resp)
		assert.ErrorIs(t, err, spnego.ErrUnexpectedToken)
	})

	t.Run("NoVerifier", func(t *testing.T) {
		_, err := NewAcceptor(nil).NewContext(testSPN)
		assert.Error(t, err)
	})
}

type staticHashes map[string][16]byte

func (s staticHashes) LookupNTHash(_ context.Context, username, _ string) ([16]byte, error) {
	if h, ok := s[strings.ToLower(username)]; ok {
		return h, nil
	}
	return [16]byte{}, ntlm.ErrUnknownUser
}

func newNTLMAcceptor(t *testing.T) *ntlm.Acceptor {
	t.Helper()
	acc, err := ntlm.NewAcceptor(staticHashes{"alice": ntlm.ComputeNTHash("s3cret!")},
		ntlm.Config{Domain: "CORP", Computer: "WEB01"})
	require.NoError(t, err)
	return acc
}

func TestAcceptorSPNEGONTLM(t *testing.T) {
	kt := testKeytab(t)
	acc := newTestAcceptor(t, kt, WithNTLM(newNTLMAcceptor(t).NewContext))

	run := func(t *testing.T, first []byte, ctx negotiate.Context) (*negotiate.Outcome, error) {
		t.Helper()

		out, err := ctx.Step(first)
		require.NoError(t, err)
		require.False(t, out.Done())

		resp, err := spnego.Parse(out.Token())
		require.NoError(t, err)
		require.Equal(t, spnego.NegStateAcceptIncomplete, resp.NegState)
		require.True(t, resp.SupportedMech.Equal(spnego.OIDNTLMSSP))

		pending := out.Next()
		if len(resp.MechToken) == 0 {
			// Server selected NTLM; the client starts it now.
			neg, err := ntlmssp.NewNegotiateMessage("CORP", "")
			require.NoError(t, err)
			wrapped, err := spnego.BuildAcceptIncomplete(nil, neg)
			require.NoError(t, err)

			out, err = pending.Step(wrapped)
			require.NoError(t, err)
			resp, err = spnego.Parse(out.Token())
			require.NoError(t, err)
			pending = out.Next()
		}
		assert.Equal(t, negotiate.MechanismNTLM, pending.Mechanism())

		auth, err := ntlmssp.ProcessChallenge(resp.MechToken, "alice", "s3cret!", true)
		require.NoError(t, err)
		wrapped, err := spnego.BuildAcceptIncomplete(nil, auth)
		require.NoError(t, err)
		return pending.Step(wrapped)
	}

	t.Run("OptimisticNTLM", func(t *testing.T) {
		neg, err := ntlmssp.NewNegotiateMessage("CORP", "")
		require.NoError(t, err)
		init, err := spnego.BuildInit([]asn1.ObjectIdentifier{spnego.OIDNTLMSSP}, neg)
		require.NoError(t, err)

		ctx, err := acc.NewContext(testSPN)
		require.NoError(t, err)
		out, err := run(t, init, ctx)
		require.NoError(t, err)
		require.True(t, out.Done())

		id := out.Identity()
		assert.Equal(t, negotiate.MechanismNTLM, id.Mechanism)
		assert.Equal(t, "alice", id.Username)

		resp, err := spnego.Parse(out.Token())
		require.NoError(t, err)
		assert.Equal(t, spnego.NegStateAcceptCompleted, resp.NegState)
	})

	t.Run("KerberosPreferredWithoutToken", func(t *testing.T) {
		init, err := spnego.BuildInit([]asn1.ObjectIdentifier{spnego.OIDKerberosV5, spnego.OIDNTLMSSP}, nil)
		require.NoError(t, err)

		ctx, err := acc.NewContext(testSPN)
		require.NoError(t, err)
		out, err := run(t, init, ctx)
		require.NoError(t, err)
		require.True(t, out.Done())
		assert.Equal(t, "alice", out.Identity().Username)
	})

	t.Run("ClientReject", func(t *testing.T) {
		init, err := spnego.BuildInit([]asn1.ObjectIdentifier{spnego.OIDKerberosV5, spnego.OIDNTLMSSP}, nil)
		require.NoError(t, err)
		out, err := step(t, acc, init)
		require.NoError(t, err)

		reject, err := spnego.BuildReject()
		require.NoError(t, err)
		_, err = out.Next().Step(reject)
		assert.Error(t, err)
	})
}

// TestMiddlewareKerberos drives the negotiate middleware with hand-built
// SPNEGO tokens, checking the mutual authentication reply header.
func TestMiddlewareKerberos(t *testing.T) {
	kt := testKeytab(t)
	acc := newTestAcceptor(t, kt)
	mw := negotiate.New(testSPN, &negotiate.PrefixSelector{Kerberos: acc.NewContext})

	srv := httptest.NewUnstartedServer(mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, _ := negotiate.FromRequest(r).Client()
		_, _ = io.WriteString(w, name)
	})))
	srv.Config.ConnContext = negotiate.ConnContext
	srv.Start()
	defer srv.Close()

	client := &http.Client{Transport: &http.Transport{MaxConnsPerHost: 1}}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Negotiate", resp.Header.Get("WWW-Authenticate"))

	apReq, sessionKey, _ := buildAPReq(t, kt, "http-alice", apReqOptions{mutual: true})
	init, err := spnego.BuildInit([]asn1.ObjectIdentifier{spnego.OIDKerberosV5}, wrapGSSToken(apReq, tokenIDAPReq))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Negotiate "+base64.StdEncoding.EncodeToString(init))
	resp, err = client.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http-alice@"+testRealm, string(body))

	header := resp.Header.Get("WWW-Authenticate")
	require.True(t, strings.HasPrefix(header, "Negotiate "), header)
	reply, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Negotiate "))
	require.NoError(t, err)
	parsed, err := spnego.Parse(reply)
	require.NoError(t, err)
	decryptAPRep(t, parsed.MechToken, sessionKey)

	// The connection stays authenticated without a header.
	resp, err = client.Get(srv.URL)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http-alice@"+testRealm, string(body))
}

type fakeVerifier struct {
	vc  *VerifiedContext
	err error
	spn *string
}

func (f fakeVerifier) VerifyToken(spn string, _ []byte) (*VerifiedContext, error) {
	if f.spn != nil {
		*f.spn = spn
	}
	return f.vc, f.err
}

func TestAcceptorWithFakeVerifier(t *testing.T) {
	vc := &VerifiedContext{
		CName:      types.NewPrincipalName(nametype.KRB_NT_PRINCIPAL, "alice"),
		Realm:      testRealm,
		SessionKey: types.EncryptionKey{KeyType: 18, KeyValue: []byte{1, 2, 3}},
	}
	mapper := NewStaticMapper(&config.IdentityMappingConfig{
		StaticMap: map[string]string{"alice@EXAMPLE.COM": "alice.smith"},
	}, "")

	var seen string
	acc := NewAcceptor(fakeVerifier{vc: vc, spn: &seen}, WithMapper(mapper))
	out, err := step(t, acc, wrapGSSToken([]byte{0x6e, 0x00}, tokenIDAPReq))
	require.NoError(t, err)
	assert.Equal(t, "alice.smith", out.Identity().Principal)
	assert.Equal(t, "alice", out.Identity().Username)
	assert.Equal(t, testSPN, seen)

	boom := errors.New("boom")
	acc = NewAcceptor(fakeVerifier{err: boom})
	_, err = step(t, acc, wrapGSSToken([]byte{0x6e, 0x00}, tokenIDAPReq))
	assert.ErrorIs(t, err, boom)
}

func TestAcceptorUndecodableClientName(t *testing.T) {
	vc := &VerifiedContext{
		CName:      types.NewPrincipalName(nametype.KRB_NT_PRINCIPAL, "al\xffice"),
		Realm:      testRealm,
		SessionKey: types.EncryptionKey{KeyType: 18, KeyValue: []byte{1, 2, 3}},
	}

	acc := NewAcceptor(fakeVerifier{vc: vc})
	out, err := step(t, acc, wrapGSSToken([]byte{0x6e, 0x00}, tokenIDAPReq))
	require.NoError(t, err)
	require.True(t, out.Done())

	id := out.Identity()
	assert.Empty(t, id.Principal)
	assert.Empty(t, id.Username)
	assert.Equal(t, testRealm, id.Realm)
	_, ok := id.Name()
	assert.False(t, ok)
}
