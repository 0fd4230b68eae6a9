package client

import "errors"

// ErrClosed is returned for operations on a closed session or query.
var ErrClosed = errors.New("basex: session closed")

// ErrAuth is returned when the server rejects the credentials.
var ErrAuth = errors.New("basex: access denied")

// ServerError is an error reported by the server itself, as opposed to a
// transport failure. The session remains usable after a ServerError.
type ServerError struct {
	// Info is the error text sent by the server, e.g.
	// "Stopped at ., 1/7: [XPST0003] Expecting expression."
	Info string
}

func (e *ServerError) Error() string {
	return "basex: " + e.Info
}
