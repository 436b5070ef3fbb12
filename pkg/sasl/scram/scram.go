// Package scram implements the SASL SCRAM-SHA-256 and SCRAM-SHA-512
// mechanisms (RFC 5802), one of the two concrete SASL mechanisms in this
// module (the other is pkg/sasl/plain); see SPEC_FULL.md §11 for why golang.org/x/crypto is used
// here rather than a hand-rolled PBKDF2/HMAC implementation.
package scram

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/twmb/kgocore/pkg/sasl"
)

// Auth is a SCRAM username/password pair.
type Auth struct {
	User string
	Pass string

	// Nonce, if non-nil, is called to produce the client nonce instead of
	// crypto/rand. Exposed for deterministic tests.
	Nonce func() []byte
}

func (a Auth) nonce() []byte {
	if a.Nonce != nil {
		return a.Nonce()
	}
	b := make([]byte, 20)
	_, _ = rand.Read(b)
	return []byte(base64.RawStdEncoding.EncodeToString(b))
}

// AsSha256Mechanism returns a sasl.Mechanism authenticating with
// SCRAM-SHA-256.
func (a Auth) AsSha256Mechanism() sasl.Mechanism {
	return mechanism{a, "SCRAM-SHA-256", sha256.New}
}

// AsSha512Mechanism returns a sasl.Mechanism authenticating with
// SCRAM-SHA-512.
func (a Auth) AsSha512Mechanism() sasl.Mechanism {
	return mechanism{a, "SCRAM-SHA-512", sha512.New}
}

type mechanism struct {
	a      Auth
	name   string
	hashFn func() hash.Hash
}

func (m mechanism) Name() string { return m.name }

func (m mechanism) Authenticate(_ context.Context, _ string) (sasl.Session, []byte, error) {
	nonce := m.a.nonce()
	gs2 := "n,,"
	clientFirstBare := "n=" + escape(m.a.User) + ",r=" + string(nonce)
	s := &session{
		a:               m.a,
		hashFn:          m.hashFn,
		clientNonce:     nonce,
		clientFirstBare: clientFirstBare,
		gs2Header:       gs2,
	}
	return s, []byte(gs2 + clientFirstBare), nil
}

type session struct {
	a               Auth
	hashFn          func() hash.Hash
	clientNonce     []byte
	clientFirstBare string
	gs2Header       string
	step            int
	serverSig       []byte
}

func (s *session) Challenge(challenge []byte) (bool, []byte, error) {
	s.step++
	switch s.step {
	case 1:
		return s.handleServerFirst(challenge)
	case 2:
		return s.handleServerFinal(challenge)
	default:
		return false, nil, fmt.Errorf("scram: unexpected challenge step %d", s.step)
	}
}

func (s *session) handleServerFirst(serverFirst []byte) (bool, []byte, error) {
	fields := strings.Split(string(serverFirst), ",")
	var serverNonce, salt string
	var iterations int
	for _, f := range fields {
		switch {
		case strings.HasPrefix(f, "r="):
			serverNonce = f[2:]
		case strings.HasPrefix(f, "s="):
			salt = f[2:]
		case strings.HasPrefix(f, "i="):
			var err error
			iterations, err = strconv.Atoi(f[2:])
			if err != nil {
				return false, nil, fmt.Errorf("scram: bad iteration count: %w", err)
			}
		}
	}
	if !strings.HasPrefix(serverNonce, string(s.clientNonce)) {
		return false, nil, fmt.Errorf("scram: server nonce does not extend client nonce")
	}
	saltBytes, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return false, nil, fmt.Errorf("scram: bad salt: %w", err)
	}

	saltedPassword := pbkdf2.Key([]byte(s.a.Pass), saltBytes, iterations, s.hashFn().Size(), s.hashFn)

	clientKey := hmacOf(s.hashFn, saltedPassword, []byte("Client Key"))
	storedKey := hashOf(s.hashFn, clientKey)

	channelBinding := base64.StdEncoding.EncodeToString([]byte(s.gs2Header))
	clientFinalWithoutProof := "c=" + channelBinding + ",r=" + serverNonce

	authMessage := s.clientFirstBare + "," + string(serverFirst) + "," + clientFinalWithoutProof
	clientSig := hmacOf(s.hashFn, storedKey, []byte(authMessage))
	clientProof := xorBytes(clientKey, clientSig)

	serverKey := hmacOf(s.hashFn, saltedPassword, []byte("Server Key"))
	s.serverSig = hmacOf(s.hashFn, serverKey, []byte(authMessage))

	clientFinal := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	return false, []byte(clientFinal), nil
}

func (s *session) handleServerFinal(serverFinal []byte) (bool, []byte, error) {
	msg := string(serverFinal)
	if strings.HasPrefix(msg, "e=") {
		return false, nil, fmt.Errorf("scram: server reported error: %s", msg[2:])
	}
	if !strings.HasPrefix(msg, "v=") {
		return false, nil, fmt.Errorf("scram: malformed server-final-message %q", msg)
	}
	gotSig, err := base64.StdEncoding.DecodeString(msg[2:])
	if err != nil {
		return false, nil, fmt.Errorf("scram: bad server signature: %w", err)
	}
	if !hmac.Equal(gotSig, s.serverSig) {
		return false, nil, fmt.Errorf("scram: server signature mismatch")
	}
	return true, nil, nil
}

func escape(s string) string {
	s = strings.ReplaceAll(s, "=", "=3D")
	return strings.ReplaceAll(s, ",", "=2C")
}

func hmacOf(hashFn func() hash.Hash, key, data []byte) []byte {
	mac := hmac.New(hashFn, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hashOf(hashFn func() hash.Hash, data []byte) []byte {
	h := hashFn()
	h.Write(data)
	return h.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}
