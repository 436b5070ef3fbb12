// Package sasl defines the mechanism contract the kgo messenger drives
// during connection initialization, mirroring how franz-go's brokerCxn.sasl
// and brokerCxn.doSasl treat SASL as a pluggable challenge/response loop
// rather than hardcoding a single mechanism.
package sasl

import "context"

// Session is an in-progress SASL exchange for one connection. Challenge is
// called with each server challenge (empty on the very first call for
// mechanisms that speak first) and returns whether the exchange is done
// plus the next bytes to send, if any.
type Session interface {
	Challenge(challenge []byte) (done bool, clientWrite []byte, err error)
}

// Mechanism authenticates one connection. Authenticate starts a Session and
// returns the first bytes the client should write (possibly the mechanism
// name framed per GSSAPI-style mechanisms that do not also run through
// SaslAuthenticate).
type Mechanism interface {
	// Name is the SASL mechanism name advertised in SaslHandshakeRequest,
	// e.g. "SCRAM-SHA-256" or "PLAIN".
	Name() string
	Authenticate(ctx context.Context, host string) (Session, []byte, error)
}
