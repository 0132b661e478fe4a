// Package negotiate implements per-connection HTTP Negotiate (SPNEGO)
// authentication.
//
// A Negotiate handshake spans several requests that must travel on the
// same TCP connection. The package keeps a ConnState per accepted
// connection and runs a small state machine over it:
//
//	Unauthorized --token--> Pending(Context) --token--> Authenticated(Identity)
//	      ^                      |
//	      +------ failure -------+
//
// Bind the state to connections with ConnContext (or serve on a Listener),
// then wrap handlers with Middleware.Handler:
//
//	mw := negotiate.New("HTTP/web.example.com", selector)
//	srv := &http.Server{
//		Handler:     mw.Handler(mux),
//		ConnContext: negotiate.ConnContext,
//		ConnState:   mw.TrackConn,
//	}
//
// Protected handlers read the client with FromRequest. The security
// mechanisms themselves (Kerberos, NTLM) are supplied through the Context
// and Selector interfaces.
package negotiate
