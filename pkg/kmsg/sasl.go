package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// SaslHandshakeRequest announces the SASL mechanism a client wishes to
// authenticate with, per spec.md §4.3.5. A broker that does not support
// the named mechanism replies with UnsupportedSaslMechanism and the list
// of mechanisms it does support.
type SaslHandshakeRequest struct {
	versioned

	Mechanism string
}

func (*SaslHandshakeRequest) Key() ApiKey            { return SaslHandshake }
func (*SaslHandshakeRequest) MaxVersion() int16      { return SupportedVersions[SaslHandshake].Max }
func (r *SaslHandshakeRequest) IsFlexible() bool     { return IsFlexibleAt(SaslHandshake, r.version) }
func (*SaslHandshakeRequest) ResponseKind() Response { return &SaslHandshakeResponse{} }

func (r *SaslHandshakeRequest) AppendTo(dst []byte) []byte {
	return kbin.AppendString(dst, r.Mechanism)
}

// SaslHandshakeResponse confirms the negotiated mechanism or lists what
// the broker supports instead.
type SaslHandshakeResponse struct {
	versioned

	ErrorCode  int16
	Mechanisms []string
}

func (*SaslHandshakeResponse) Key() ApiKey        { return SaslHandshake }
func (r *SaslHandshakeResponse) IsFlexible() bool { return false }
func (r *SaslHandshakeResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	r.ErrorCode = b.Int16()
	n := b.ArrayLen()
	if n < 0 {
		n = 0
	}
	r.Mechanisms = make([]string, n)
	for i := range r.Mechanisms {
		r.Mechanisms[i] = b.String()
	}
	return b.Complete()
}

// SaslAuthenticateRequest carries one round of SASL challenge/response
// bytes for the negotiated mechanism, per spec.md §4.3.5. The byte
// contents themselves are mechanism-specific and out of scope for this
// package; see pkg/sasl.
type SaslAuthenticateRequest struct {
	versioned

	AuthBytes []byte
}

func (*SaslAuthenticateRequest) Key() ApiKey        { return SaslAuthenticate }
func (*SaslAuthenticateRequest) MaxVersion() int16  { return SupportedVersions[SaslAuthenticate].Max }
func (r *SaslAuthenticateRequest) IsFlexible() bool {
	return IsFlexibleAt(SaslAuthenticate, r.version)
}
func (*SaslAuthenticateRequest) ResponseKind() Response { return &SaslAuthenticateResponse{} }

func (r *SaslAuthenticateRequest) AppendTo(dst []byte) []byte {
	flex := r.IsFlexible()
	dst = appendBytesField(dst, r.AuthBytes, flex)
	if flex {
		dst = kbin.AppendEmptyTags(dst)
	}
	return dst
}

// SaslAuthenticateResponse carries the broker's challenge/response bytes
// and, once authentication completes, the remaining session lifetime.
type SaslAuthenticateResponse struct {
	versioned

	ErrorCode         int16
	ErrorMessage      *string
	AuthBytes         []byte
	SessionLifetimeMillis int64
}

func (*SaslAuthenticateResponse) Key() ApiKey { return SaslAuthenticate }
func (r *SaslAuthenticateResponse) IsFlexible() bool {
	return ResponseIsFlexibleAt(SaslAuthenticate, r.version)
}

func (r *SaslAuthenticateResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	flex := r.IsFlexible()

	r.ErrorCode = b.Int16()
	r.ErrorMessage = readNullableStr(&b, flex)
	r.AuthBytes = readBytesField(&b, flex)
	if r.version >= 1 {
		r.SessionLifetimeMillis = b.Int64()
	}
	if flex {
		b.SkipTags()
	}
	return b.Complete()
}
