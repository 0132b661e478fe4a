package negotiate

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	headerAuthorization   = "Authorization"
	headerWWWAuthenticate = "WWW-Authenticate"
	headerConnection      = "Connection"

	scheme = "Negotiate"

	bodyAuthorizationFailed = "authorization failed"
	bodyInternalError       = "internal server error"
	bodyBadRequest          = "bad request"
)

var errNoToken = errors.New("negotiate: no Negotiate authorization")

// extractToken returns the decoded token of an "Authorization: Negotiate
// <base64>" header. A missing header, another scheme or an empty token
// yields errNoToken; undecodable base64 yields ErrMalformedToken.
func extractToken(h http.Header) ([]byte, error) {
	value := strings.TrimSpace(h.Get(headerAuthorization))
	if value == "" {
		return nil, errNoToken
	}

	authScheme, data, _ := strings.Cut(value, " ")
	if !strings.EqualFold(authScheme, scheme) {
		return nil, errNoToken
	}

	data = strings.TrimSpace(data)
	if data == "" {
		return nil, errNoToken
	}

	token, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	return token, nil
}

// negotiateHeader formats a WWW-Authenticate value, bare when token is empty.
func negotiateHeader(token []byte) string {
	if len(token) == 0 {
		return scheme
	}
	return scheme + " " + base64.StdEncoding.EncodeToString(token)
}

// writeChallenge answers 401 with a Negotiate challenge. Connection:
// keep-alive is only meaningful (and only legal) on HTTP/1.x.
func writeChallenge(w http.ResponseWriter, r *http.Request, token []byte, body string) {
	w.Header().Set(headerWWWAuthenticate, negotiateHeader(token))
	if r.ProtoMajor == 1 {
		w.Header().Set(headerConnection, "keep-alive")
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	if body != "" {
		_, _ = w.Write([]byte(body))
	}
}

func writeBadRequest(w http.ResponseWriter) {
	http.Error(w, bodyBadRequest, http.StatusBadRequest)
}

func writeInternalError(w http.ResponseWriter) {
	http.Error(w, bodyInternalError, http.StatusInternalServerError)
}
