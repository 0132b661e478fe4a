package handlers

import (
	"net/http"

	"github.com/marmos91/negotiate/pkg/negotiate"
)

// WhoAmIResponse describes the client authenticated on the connection.
type WhoAmIResponse struct {
	Mechanism    string `json:"mechanism"`
	Principal    string `json:"principal,omitempty"`
	Username     string `json:"username,omitempty"`
	Realm        string `json:"realm,omitempty"`
	ConnectionID string `json:"connection_id"`
	SessionKey   bool   `json:"session_key"`
}

// WhoAmI handles GET /api/v1/whoami. It must be mounted behind the
// Negotiate middleware.
func WhoAmI(w http.ResponseWriter, r *http.Request) {
	auth := negotiate.FromRequest(r)
	id := auth.Identity()

	writeJSON(w, http.StatusOK, okResponse(WhoAmIResponse{
		Mechanism:    id.Mechanism.String(),
		Principal:    id.Principal,
		Username:     id.Username,
		Realm:        id.Realm,
		ConnectionID: auth.ConnID(),
		SessionKey:   len(id.SessionKey) > 0,
	}))
}
