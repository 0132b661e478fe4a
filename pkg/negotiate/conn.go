package negotiate

import (
	"context"
	"net"
)

type connStateKey struct{}

// WithConnState binds a connection state to ctx.
func WithConnState(ctx context.Context, s *ConnState) context.Context {
	return context.WithValue(ctx, connStateKey{}, s)
}

// ConnStateFromContext returns the connection state bound to ctx.
func ConnStateFromContext(ctx context.Context) (*ConnState, bool) {
	s, ok := ctx.Value(connStateKey{}).(*ConnState)
	return s, ok && s != nil
}

// ConnContext is meant for http.Server.ConnContext. It binds one ConnState
// to every accepted connection; connections produced by a Listener keep
// the state created at accept time.
//
//	srv := &http.Server{Handler: mw.Handler(mux), ConnContext: negotiate.ConnContext}
func ConnContext(ctx context.Context, c net.Conn) context.Context {
	if nc := unwrapConn(c); nc != nil {
		return WithConnState(ctx, nc.state)
	}
	return WithConnState(ctx, NewConnState(c.RemoteAddr().String()))
}

// Listener wraps a net.Listener so that every accepted connection carries
// its own ConnState.
type Listener struct {
	net.Listener
}

// NewListener wraps l.
func NewListener(l net.Listener) *Listener {
	return &Listener{Listener: l}
}

// Listen announces on the local network address and wraps the listener.
func Listen(network, address string) (*Listener, error) {
	l, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	return NewListener(l), nil
}

// Accept waits for the next connection and attaches a fresh ConnState to it.
func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: c, state: NewConnState(c.RemoteAddr().String())}, nil
}

// Conn is a net.Conn accepted by Listener.
type Conn struct {
	net.Conn
	state *ConnState
}

// State returns the handshake state of the connection.
func (c *Conn) State() *ConnState { return c.state }

// unwrapConn finds the *Conn behind c, looking through wrappers such as
// *tls.Conn that expose the underlying connection via NetConn.
func unwrapConn(c net.Conn) *Conn {
	for c != nil {
		switch v := c.(type) {
		case *Conn:
			return v
		case interface{ NetConn() net.Conn }:
			c = v.NetConn()
		default:
			return nil
		}
	}
	return nil
}
