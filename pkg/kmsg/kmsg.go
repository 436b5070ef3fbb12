package kmsg

import "sort"

// Request is a type that can be issued to a broker. Every concrete request
// type in this package implements Request plus a matching ResponseKind.
type Request interface {
	// Key returns the protocol api key for this message kind.
	Key() ApiKey
	// MaxVersion returns the maximum protocol version this message
	// supports in this client.
	MaxVersion() int16
	// SetVersion pins the version to use for writing this request and
	// for decoding its response.
	SetVersion(int16)
	// GetVersion returns the version currently pinned for this request.
	GetVersion() int16
	// IsFlexible reports whether, at the pinned version, this request
	// uses tagged-field header/body encoding.
	IsFlexible() bool
	// AppendTo appends this request's body (not the header) in wire
	// form to dst and returns the extended slice.
	AppendTo(dst []byte) []byte
	// ResponseKind returns a new, empty Response of the type this
	// request expects back.
	ResponseKind() Response
}

// Response is a type a broker replies with.
type Response interface {
	// Key returns the protocol api key for this message kind.
	Key() ApiKey
	// SetVersion pins the version to use for decoding this response.
	SetVersion(int16)
	// GetVersion returns the version currently pinned for this response.
	GetVersion() int16
	// IsFlexible reports whether, at the pinned version, this response
	// uses tagged-field encoding.
	IsFlexible() bool
	// ReadFrom decodes src (the response body, header already stripped)
	// into the response at its pinned version.
	ReadFrom(src []byte) error
}

// ThrottleResponse is implemented by every response type that can carry a
// broker-imposed throttle, per spec.md §4.5 / §5.
type ThrottleResponse interface {
	// Throttle returns the throttle duration in milliseconds the broker
	// asked the caller to honor.
	Throttle() int32
}

// RequestHeaderVersion returns the request header version for a request at
// the given pinned version: 2 if the request is flexible at that version,
// else 1 (this client always sends a client id).
func RequestHeaderVersion(key ApiKey, version int16) int16 {
	if IsFlexibleAt(key, version) {
		return 2
	}
	return 1
}

// ResponseHeaderVersion returns the response header version: 1 if the
// response is flexible at that version (per
// FirstTaggedFieldInResponseVersion, honoring the ApiVersions quirk), else
// 0.
func ResponseHeaderVersion(key ApiKey, version int16) int16 {
	if ResponseIsFlexibleAt(key, version) {
		return 1
	}
	return 0
}

// Tags is an opaque bag of unrecognized tagged fields, preserved across a
// read so a caller that only wants to inspect known fields does not lose
// data round-tripping through this client. This client does not itself
// produce any tags (no field in this package's request/response bodies is
// defined only via a tag), so Tags is always empty on write; it exists to
// absorb broker-sent tags defined by protocol versions newer than this
// client knows.
type Tags struct {
	kv map[uint32][]byte
}

// Set records a tag's raw value.
func (t *Tags) Set(key uint32, val []byte) {
	if t.kv == nil {
		t.kv = make(map[uint32][]byte)
	}
	t.kv[key] = val
}

// Get returns a tag's raw value and whether it was present.
func (t *Tags) Get(key uint32) ([]byte, bool) {
	v, ok := t.kv[key]
	return v, ok
}

// Len returns the number of tags present.
func (t *Tags) Len() int { return len(t.kv) }

// Each calls fn for every tag in ascending key order (tags must be written
// in ascending order on the wire).
func (t *Tags) Each(fn func(uint32, []byte)) {
	if len(t.kv) == 0 {
		return
	}
	keys := make([]uint32, 0, len(t.kv))
	for k := range t.kv {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		fn(k, t.kv[k])
	}
}
