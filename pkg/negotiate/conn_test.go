package negotiate

import (
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, client *http.Client, url, token string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Negotiate "+base64.StdEncoding.EncodeToString([]byte(token)))
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func newClient() *http.Client {
	return &http.Client{Transport: &http.Transport{MaxConnsPerHost: 1}}
}

func TestConnectionBinding(t *testing.T) {
	tests := []struct {
		name  string
		start func(h http.Handler) (url string, stop func())
	}{
		{
			name: "ConnContext",
			start: func(h http.Handler) (string, func()) {
				srv := httptest.NewUnstartedServer(h)
				srv.Config.ConnContext = ConnContext
				srv.Start()
				return srv.URL, srv.Close
			},
		},
		{
			name: "Listener",
			start: func(h http.Handler) (string, func()) {
				l, err := Listen("tcp", "127.0.0.1:0")
				if err != nil {
					panic(err)
				}
				srv := &http.Server{Handler: h, ConnContext: ConnContext}
				go func() { _ = srv.Serve(l) }()
				return "http://" + l.Addr().String(), func() { _ = srv.Close() }
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := newFakeSelector(2)
			url, stop := tt.start(New("HTTP/web", sel.selector()).Handler(whoami))
			defer stop()

			client := newClient()
			code, _ := get(t, client, url, "")
			assert.Equal(t, http.StatusUnauthorized, code)
			code, _ = get(t, client, url, "leg1")
			assert.Equal(t, http.StatusUnauthorized, code)
			code, body := get(t, client, url, "leg2")
			assert.Equal(t, http.StatusOK, code)
			assert.Equal(t, "alice@EXAMPLE.COM", body)
			code, _ = get(t, client, url, "")
			assert.Equal(t, http.StatusOK, code)

			// Authentication does not leak to another connection.
			other := newClient()
			code, _ = get(t, other, url, "")
			assert.Equal(t, http.StatusUnauthorized, code)
		})
	}
}

func TestListenerAttachesState(t *testing.T) {
	l, err := Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	go func() {
		c, err := net.Dial("tcp", l.Addr().String())
		if err == nil {
			_ = c.Close()
		}
	}()

	c, err := l.Accept()
	require.NoError(t, err)
	defer c.Close()

	nc, ok := c.(*Conn)
	require.True(t, ok)
	require.NotNil(t, nc.State())
	assert.Equal(t, c.RemoteAddr().String(), nc.State().RemoteAddr())

	ctx := ConnContext(t.Context(), c)
	cs, ok := ConnStateFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, nc.State(), cs)
}

type wrappedConn struct{ net.Conn }

func (w wrappedConn) NetConn() net.Conn { return w.Conn }

func TestUnwrapConn(t *testing.T) {
	inner := &Conn{state: NewConnState("192.0.2.1:50000")}

	assert.Same(t, inner, unwrapConn(inner))
	assert.Same(t, inner, unwrapConn(wrappedConn{inner}))
	assert.Nil(t, unwrapConn(wrappedConn{nil}))
	assert.Nil(t, unwrapConn(nil))
}
