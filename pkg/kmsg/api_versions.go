package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// ApiVersionsRequest asks a broker which api keys and version ranges it
// supports, per spec.md §4.3 item 3. Version 3 additionally carries client
// software identification (spec.md §4.3 item 4).
type ApiVersionsRequest struct {
	versioned

	ClientSoftwareName    string
	ClientSoftwareVersion string
}

func (*ApiVersionsRequest) Key() ApiKey        { return ApiVersions }
func (*ApiVersionsRequest) MaxVersion() int16   { return SupportedVersions[ApiVersions].Max }
func (r *ApiVersionsRequest) IsFlexible() bool  { return IsFlexibleAt(ApiVersions, r.version) }
func (*ApiVersionsRequest) ResponseKind() Response { return &ApiVersionsResponse{} }

func (r *ApiVersionsRequest) AppendTo(dst []byte) []byte {
	if r.version >= 3 {
		dst = kbin.AppendCompactString(dst, r.ClientSoftwareName)
		dst = kbin.AppendCompactString(dst, r.ClientSoftwareVersion)
		dst = kbin.AppendEmptyTags(dst)
	}
	return dst
}

// ApiVersionsResponseKey is one broker-supported api key and its version
// range.
type ApiVersionsResponseKey struct {
	ApiKey     int16
	MinVersion int16
	MaxVersion int16
}

// ApiVersionsResponse is the broker's reply enumerating every api key it
// supports and, per spec.md §4.5, an optional throttle.
type ApiVersionsResponse struct {
	versioned

	ErrorCode      int16
	ApiKeys        []ApiVersionsResponseKey
	ThrottleMillis int32
}

func (*ApiVersionsResponse) Key() ApiKey { return ApiVersions }

// IsFlexible mirrors the FIRST_TAGGED_FIELD_IN_RESPONSE_VERSION sentinel
// quirk documented in spec.md §9: some brokers never tag the ApiVersions
// response even at v3.
func (r *ApiVersionsResponse) IsFlexible() bool { return ResponseIsFlexibleAt(ApiVersions, r.version) }

func (r *ApiVersionsResponse) Throttle() int32 { return r.ThrottleMillis }

func (r *ApiVersionsResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	r.ErrorCode = b.Int16()
	var n int32
	if r.IsFlexible() {
		n = b.CompactArrayLen()
	} else {
		n = b.ArrayLen()
	}
	if n < 0 {
		n = 0
	}
	r.ApiKeys = make([]ApiVersionsResponseKey, n)
	for i := range r.ApiKeys {
		r.ApiKeys[i].ApiKey = b.Int16()
		r.ApiKeys[i].MinVersion = b.Int16()
		r.ApiKeys[i].MaxVersion = b.Int16()
		if r.IsFlexible() {
			b.SkipTags()
		}
	}
	if r.version >= 1 {
		r.ThrottleMillis = b.Int32()
	}
	if r.IsFlexible() {
		b.SkipTags()
	}
	return b.Complete()
}
