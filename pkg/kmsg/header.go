package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// AppendTags appends a TAGGED_FIELDS section for t to dst. An empty/nil t
// appends the single zero byte meaning "no tagged fields."
func AppendTags(dst []byte, t *Tags) []byte {
	if t == nil || t.Len() == 0 {
		return kbin.AppendEmptyTags(dst)
	}
	dst = kbin.AppendUvarint(dst, uint64(t.Len()))
	t.Each(func(k uint32, v []byte) {
		dst = kbin.AppendUvarint(dst, uint64(k))
		dst = kbin.AppendUvarint(dst, uint64(len(v)))
		dst = append(dst, v...)
	})
	return dst
}

// ReadTags reads a TAGGED_FIELDS section from r, returning the tags found
// (empty if the section is the zero-count sentinel).
func ReadTags(r *kbin.Reader) Tags {
	var t Tags
	n := r.Uvarint()
	for ; n > 0; n-- {
		key := uint32(r.Uvarint())
		l := r.Uvarint()
		t.Set(key, r.Span(int(l)))
	}
	return t
}

// RequestFormatter builds the full wire form of a request: length prefix,
// request header, and body. It is the one place that knows how to choose a
// header version for a given pinned request version, grounded on the
// teacher's RequestFormatter / AppendRequest (see DESIGN.md).
type RequestFormatter struct {
	// ClientID is sent in the request header. A nil ClientID sends the
	// classic -1-length "null" string, matching the teacher's comment
	// that ApiVersions is sent before a broker version is known and
	// thus should never use a compact-encoded client id.
	ClientID *string
}

// AppendRequest appends a full request (i32 length + header + body) for r
// to dst using correlationID, and returns the extended slice.
func (f *RequestFormatter) AppendRequest(dst []byte, r Request, correlationID int32) []byte {
	lenAt := len(dst)
	dst = append(dst, 0, 0, 0, 0) // reserve length, patched below
	dst = kbin.AppendInt16(dst, int16(r.Key()))
	dst = kbin.AppendInt16(dst, r.GetVersion())
	dst = kbin.AppendInt32(dst, correlationID)

	headerVersion := RequestHeaderVersion(r.Key(), r.GetVersion())
	if headerVersion >= 1 {
		dst = kbin.AppendNullableString(dst, f.ClientID)
	}
	if headerVersion >= 2 {
		dst = kbin.AppendEmptyTags(dst)
	}

	dst = r.AppendTo(dst)

	bodyLen := int32(len(dst) - lenAt - 4)
	patchInt32(dst[lenAt:lenAt+4], bodyLen)
	return dst
}

func patchInt32(dst []byte, v int32) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}

// StripResponseHeader removes the response header (correlation id already
// consumed by the caller) from src, skipping tagged fields if the response
// at this version is flexible, per spec.md §4.3 item 2.
func StripResponseHeader(src []byte, key ApiKey, version int16) ([]byte, error) {
	if ResponseHeaderVersion(key, version) == 0 {
		return src, nil
	}
	r := kbin.Reader{Src: src}
	r.SkipTags()
	return r.Src, r.Complete()
}
