package commands

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Azure/go-ntlmssp"
	"github.com/jcmturner/gokrb5/v8/client"
	krbconfig "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/spf13/cobra"

	"github.com/marmos91/negotiate/cmd/negotiate/cmdutil"
	"github.com/marmos91/negotiate/internal/cli/output"
	"github.com/marmos91/negotiate/internal/cli/prompt"
)

var (
	probeUser     string
	probePassword string
	probeKerberos bool
	probeKeytab   string
	probeCCache   string
	probeKrb5Conf string
	probeSPN      string
	probeInsecure bool
	probeTimeout  time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe <url>",
	Short: "Authenticate against a Negotiate endpoint",
	Long: `Send a GET request to url and complete the Negotiate handshake as a
client, then print the final status and response.

NTLM is used by default with --user 'DOMAIN\user'. With --kerberos the
request carries a SPNEGO Kerberos token obtained with a password, a
keytab or an existing credential cache.

Examples:
  # NTLM, prompting for the password
  negotiate probe https://web.example.com/api/v1/whoami --user 'CORP\alice'

  # Kerberos with the current credential cache
  negotiate probe https://web.example.com/api/v1/whoami --kerberos --ccache /tmp/krb5cc_1000

  # Kerberos with a keytab
  negotiate probe https://web.example.com/ --kerberos --user alice@EXAMPLE.COM --keytab alice.keytab`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVarP(&probeUser, "user", "u", "", `User as DOMAIN\user (NTLM) or user@REALM (Kerberos)`)
	probeCmd.Flags().StringVarP(&probePassword, "password", "p", "", "Password (prompts if needed and not provided)")
	probeCmd.Flags().BoolVar(&probeKerberos, "kerberos", false, "Use Kerberos instead of NTLM")
	probeCmd.Flags().StringVar(&probeKeytab, "keytab", "", "Client keytab (Kerberos)")
	probeCmd.Flags().StringVar(&probeCCache, "ccache", "", "Credential cache (Kerberos)")
	probeCmd.Flags().StringVar(&probeKrb5Conf, "krb5-conf", "/etc/krb5.conf", "krb5.conf path (Kerberos)")
	probeCmd.Flags().StringVar(&probeSPN, "spn", "", "Service principal (default HTTP/<host>)")
	probeCmd.Flags().BoolVarP(&probeInsecure, "insecure", "k", false, "Skip TLS certificate verification")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 30*time.Second, "Request timeout")
}

// probeResult is the outcome printed by probe.
type probeResult struct {
	URL             string `json:"url" yaml:"url"`
	Mechanism       string `json:"mechanism" yaml:"mechanism"`
	Status          string `json:"status" yaml:"status"`
	WWWAuthenticate string `json:"www_authenticate,omitempty" yaml:"www_authenticate,omitempty"`
	Body            string `json:"body,omitempty" yaml:"body,omitempty"`
}

func (r *probeResult) summary() output.KeyValues {
	var kv output.KeyValues
	kv.Add("URL", r.URL)
	kv.Add("Mechanism", r.Mechanism)
	kv.Add("Status", r.Status)
	kv.Add("WWW-Authenticate", cmdutil.EmptyOr(r.WWWAuthenticate, "-"))
	return kv
}

func runProbe(cmd *cobra.Command, args []string) error {
	target, err := url.Parse(args[0])
	if err != nil || !target.IsAbs() {
		return fmt.Errorf("invalid url %q", args[0])
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if probeInsecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in flag
	}
	// The handshake is bound to one connection.
	transport.ForceAttemptHTTP2 = false
	transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}

	var resp *http.Response
	result := &probeResult{URL: target.String()}
	if probeKerberos {
		result.Mechanism = "Kerberos"
		resp, err = probeWithKerberos(req, transport)
	} else {
		result.Mechanism = "NTLM"
		resp, err = probeWithNTLM(req, transport)
	}
	if err != nil {
		return cmdutil.HandleAbort(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	result.Status = resp.Status
	result.WWWAuthenticate = resp.Header.Get("WWW-Authenticate")
	result.Body = string(body)

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if format != output.FormatTable {
		return output.Render(out, format, result, nil)
	}

	if err := output.PrintKeyValues(out, result.summary()); err != nil {
		return err
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintf(out, "\n%s\n", strings.TrimRight(result.Body, "\n"))
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return errors.New("authentication failed")
	}
	return nil
}

func probeWithNTLM(req *http.Request, transport http.RoundTripper) (*http.Response, error) {
	if probeUser == "" {
		return nil, errors.New(`--user is required for NTLM (DOMAIN\user)`)
	}
	password, err := probePasswordOrPrompt()
	if err != nil {
		return nil, err
	}

	// go-ntlmssp takes the credentials from basic auth and splits DOMAIN\user.
	req.SetBasicAuth(probeUser, password)

	httpClient := &http.Client{
		Transport: ntlmssp.Negotiator{RoundTripper: transport},
	}
	return httpClient.Do(req)
}

func probeWithKerberos(req *http.Request, transport http.RoundTripper) (*http.Response, error) {
	conf, err := krbconfig.Load(probeKrb5Conf)
	if err != nil {
		return nil, fmt.Errorf("load krb5.conf %s: %w", probeKrb5Conf, err)
	}

	opts := []func(*client.Settings){client.DisablePAFXFAST(true)}

	var cl *client.Client
	switch {
	case probeCCache != "":
		cc, err := credentials.LoadCCache(probeCCache)
		if err != nil {
			return nil, fmt.Errorf("load ccache %s: %w", probeCCache, err)
		}
		cl, err = client.NewFromCCache(cc, conf, opts...)
		if err != nil {
			return nil, fmt.Errorf("client from ccache: %w", err)
		}

	case probeKeytab != "":
		user, realm, err := splitKerberosUser(probeUser, conf.LibDefaults.DefaultRealm)
		if err != nil {
			return nil, err
		}
		kt, err := keytab.Load(probeKeytab)
		if err != nil {
			return nil, fmt.Errorf("load keytab %s: %w", probeKeytab, err)
		}
		cl = client.NewWithKeytab(user, realm, kt, conf, opts...)

	default:
		user, realm, err := splitKerberosUser(probeUser, conf.LibDefaults.DefaultRealm)
		if err != nil {
			return nil, err
		}
		password, err := probePasswordOrPrompt()
		if err != nil {
			return nil, err
		}
		cl = client.NewWithPassword(user, realm, password, conf, opts...)
	}
	defer cl.Destroy()

	if probeCCache == "" {
		if err := cl.Login(); err != nil {
			return nil, fmt.Errorf("kerberos login: %w", err)
		}
	}

	httpClient := &http.Client{Transport: transport}
	return spnego.NewClient(cl, httpClient, probeSPN).Do(req)
}

// splitKerberosUser splits user@REALM, falling back to defaultRealm.
func splitKerberosUser(s, defaultRealm string) (string, string, error) {
	if s == "" {
		return "", "", errors.New("--user is required for Kerberos without --ccache (user@REALM)")
	}
	if user, realm, ok := strings.Cut(s, "@"); ok {
		return user, strings.ToUpper(realm), nil
	}
	if defaultRealm == "" {
		return "", "", fmt.Errorf("no realm in %q and no default_realm in krb5.conf", s)
	}
	return s, defaultRealm, nil
}

func probePasswordOrPrompt() (string, error) {
	if probePassword != "" {
		return probePassword, nil
	}
	if env := os.Getenv("NEGOTIATE_PROBE_PASSWORD"); env != "" {
		return env, nil
	}
	return prompt.Password("Password")
}
