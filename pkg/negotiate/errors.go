package negotiate

import "errors"

// Error taxonomy of the Negotiate layer.
//
// ErrMalformedToken and ErrProtocolStepFailure are per-request: the
// connection is left (or reset to) unauthorized and the client may retry
// on the same connection. ErrContextCreationFailure is answered with 500
// and also resets the connection. ErrMissingConnectionBinding and
// ErrMechanismUnsupported are integration errors and are logged at error
// level.
var (
	ErrMalformedToken           = errors.New("negotiate: malformed token")
	ErrProtocolStepFailure      = errors.New("negotiate: handshake step failed")
	ErrContextCreationFailure   = errors.New("negotiate: failed to create security context")
	ErrMissingConnectionBinding = errors.New("negotiate: no connection state bound to request")
	ErrMechanismUnsupported     = errors.New("negotiate: mechanism not supported")
)
