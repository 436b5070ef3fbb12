// Package plain implements the SASL PLAIN mechanism (RFC 4616).
package plain

import (
	"context"

	"github.com/twmb/kgocore/pkg/sasl"
)

// Auth is a PLAIN username/password pair.
type Auth struct {
	Zid  string // optional authorization identity
	User string
	Pass string
}

// AsMechanism returns a sasl.Mechanism that authenticates with these
// credentials. PLAIN is a single round trip: the client sends once and the
// exchange is immediately done.
func (a Auth) AsMechanism() sasl.Mechanism { return plain{a} }

type plain struct{ a Auth }

func (plain) Name() string { return "PLAIN" }

func (p plain) Authenticate(context.Context, string) (sasl.Session, []byte, error) {
	msg := []byte(p.a.Zid + "\x00" + p.a.User + "\x00" + p.a.Pass)
	return session{}, msg, nil
}

type session struct{}

func (session) Challenge([]byte) (bool, []byte, error) { return true, nil, nil }
