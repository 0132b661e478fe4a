// Package kerberos accepts Kerberos and SPNEGO tokens for HTTP Negotiate.
//
// The Provider owns keytab and krb5.conf state with environment variable
// overrides and keytab hot-reload. The Krb5Verifier checks AP-REQs against
// the keytab with gokrb5 and builds the AP-REP for mutual authentication.
// The Acceptor turns both into negotiate.Context values, unwrapping SPNEGO
// and delegating SPNEGO-wrapped NTLM to an NTLM factory.
//
// Configuration is defined in pkg/config.KerberosConfig.
//
// References:
//   - RFC 4120: The Kerberos Network Authentication Service (V5)
//   - RFC 4121: The Kerberos Version 5 GSS-API Mechanism
//   - RFC 4178: SPNEGO
//   - RFC 4559: SPNEGO-based Kerberos and NTLM HTTP Authentication
package kerberos
