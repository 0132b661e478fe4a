package ntlm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/marmos91/negotiate/internal/logger"
	"github.com/marmos91/negotiate/pkg/negotiate"
)

// DefaultDomain is the NetBIOS domain announced when none is configured.
const DefaultDomain = "WORKGROUP"

// CredentialStore resolves the NT hash of an account.
// Implementations return ErrUnknownUser for accounts they do not hold.
type CredentialStore interface {
	LookupNTHash(ctx context.Context, username, domain string) ([16]byte, error)
}

// Config configures an Acceptor.
type Config struct {
	// Domain is the NetBIOS domain sent as TargetName. Defaults to WORKGROUP.
	Domain string

	// Computer is the NetBIOS computer name. Defaults to the upper-cased
	// first label of the host name.
	Computer string

	// DNSDomain and DNSComputer are optional TargetInfo entries.
	DNSDomain   string
	DNSComputer string

	// MaxClockSkew bounds the age of the client blob timestamp.
	// Zero disables the check.
	MaxClockSkew time.Duration

	// LookupTimeout bounds a single credential store lookup.
	LookupTimeout time.Duration
}

// Acceptor creates server-side NTLM handshake contexts.
type Acceptor struct {
	store   CredentialStore
	cfg     Config
	domains []string
	now     func() time.Time
}

// NewAcceptor creates an Acceptor that verifies clients against store.
func NewAcceptor(store CredentialStore, cfg Config) (*Acceptor, error) {
	if store == nil {
		return nil, errors.New("ntlm: credential store is required")
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if cfg.Computer == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("ntlm: resolve computer name: %w", err)
		}
		cfg.Computer, _, _ = strings.Cut(host, ".")
		cfg.Computer = strings.ToUpper(cfg.Computer)
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}

	return &Acceptor{
		store:   store,
		cfg:     cfg,
		domains: candidateDomains(cfg),
		now:     time.Now,
	}, nil
}

// candidateDomains lists the domains a client may have used for NTOWFv2
// besides the one in its AUTHENTICATE message. Clients that were not
// given a domain compute the response with an empty one; others use the
// announced TargetName or the machine name.
func candidateDomains(cfg Config) []string {
	out := []string{""}
	for _, d := range []string{cfg.Domain, cfg.Computer, DefaultDomain} {
		if d != "" && !contains(out, d) {
			out = append(out, d)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// NewContext returns a context expecting a NEGOTIATE message. The
// signature matches negotiate.Factory.
func (a *Acceptor) NewContext(spn string) (negotiate.Context, error) {
	return &negotiateStage{acceptor: a}, nil
}

func (a *Acceptor) targetInfo() TargetInfo {
	return TargetInfo{
		NbComputerName:  a.cfg.Computer,
		NbDomainName:    a.cfg.Domain,
		DNSComputerName: a.cfg.DNSComputer,
		DNSDomainName:   a.cfg.DNSDomain,
		Timestamp:       a.now(),
	}
}

// negotiateStage consumes the Type 1 message.
type negotiateStage struct {
	acceptor *Acceptor
}

func (s *negotiateStage) Mechanism() negotiate.Mechanism { return negotiate.MechanismNTLM }

func (s *negotiateStage) Step(token []byte) (*negotiate.Outcome, error) {
	msg, err := ParseNegotiate(token)
	if err != nil {
		return nil, err
	}

	serverChallenge, err := NewServerChallenge()
	if err != nil {
		return nil, fmt.Errorf("ntlm: generate challenge: %w", err)
	}

	flags := challengeFlags(msg.NegotiateFlags)
	reply := BuildChallenge(flags, serverChallenge, s.acceptor.targetInfo())

	logger.Debug("NTLM negotiate received",
		logger.KeyMessageType, Negotiate.String(),
		logger.KeyDomain, msg.Domain,
		logger.KeyWorkstation, msg.Workstation,
		"flags", fmt.Sprintf("0x%08x", uint32(msg.NegotiateFlags)))

	return negotiate.Continue(&authenticateStage{
		acceptor:        s.acceptor,
		serverChallenge: serverChallenge,
	}, reply), nil
}

// authenticateStage verifies the Type 3 message against the challenge
// sent on this connection.
type authenticateStage struct {
	acceptor        *Acceptor
	serverChallenge [ServerChallengeSize]byte
}

func (s *authenticateStage) Mechanism() negotiate.Mechanism { return negotiate.MechanismNTLM }

func (s *authenticateStage) Step(token []byte) (*negotiate.Outcome, error) {
	msg, err := ParseAuthenticate(token)
	if err != nil {
		return nil, err
	}
	if msg.IsAnonymous {
		return nil, ErrAnonymous
	}

	a := s.acceptor
	if a.cfg.MaxClockSkew > 0 {
		if ft, ok := ResponseTimestamp(msg.NtChallengeResponse); ok {
			skew := a.now().Sub(FromFileTime(ft))
			if skew < 0 {
				skew = -skew
			}
			if skew > a.cfg.MaxClockSkew {
				return nil, fmt.Errorf("%w: %s", ErrStaleResponse, skew.Round(time.Second))
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.LookupTimeout)
	defer cancel()

	account, accountDomain := splitUPN(msg.Username, msg.Domain)
	ntHash, err := a.store.LookupNTHash(ctx, account, accountDomain)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownUser, msg.Username)
		}
		return nil, fmt.Errorf("ntlm: credential lookup: %w", err)
	}

	domains := append([]string{msg.Domain}, a.domains...)
	for i, domain := range domains {
		if i > 0 && domain == msg.Domain {
			continue
		}
		sessionKey, err := ValidateNTLMv2Response(ntHash, msg.Username, domain, s.serverChallenge, msg.NtChallengeResponse)
		if errors.Is(err, ErrAuthenticationFailed) {
			continue
		}
		if err != nil {
			return nil, err
		}

		logger.Debug("NTLM response verified",
			logger.KeyUsername, msg.Username,
			logger.KeyDomain, domain,
			logger.KeyWorkstation, msg.Workstation)

		return negotiate.Finished(newIdentity(msg, a.cfg.Domain, sessionKey), nil), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrAuthenticationFailed, msg.Username)
}

// splitUPN separates user@domain names sent without a domain field.
func splitUPN(username, domain string) (string, string) {
	if domain != "" {
		return username, domain
	}
	if user, upnDomain, ok := strings.Cut(username, "@"); ok && user != "" {
		return user, upnDomain
	}
	return username, domain
}

func newIdentity(msg *AuthenticateMessage, defaultDomain string, sessionKey []byte) *negotiate.Identity {
	user, realm := splitUPN(msg.Username, msg.Domain)
	principal := msg.Username
	switch {
	case msg.Domain != "":
		principal = msg.Domain + `\` + msg.Username
	case realm == "":
		realm = defaultDomain
	}
	return &negotiate.Identity{
		Mechanism:  negotiate.MechanismNTLM,
		Principal:  principal,
		Username:   user,
		Realm:      realm,
		SessionKey: sessionKey,
	}
}
