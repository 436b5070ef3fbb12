package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// DeleteTopicsRequest deletes one or more topics by name, per spec.md
// §4.6's controller-client operations.
type DeleteTopicsRequest struct {
	versioned

	Topics        []string
	TimeoutMillis int32
}

func (*DeleteTopicsRequest) Key() ApiKey            { return DeleteTopics }
func (*DeleteTopicsRequest) MaxVersion() int16      { return SupportedVersions[DeleteTopics].Max }
func (r *DeleteTopicsRequest) IsFlexible() bool     { return IsFlexibleAt(DeleteTopics, r.version) }
func (*DeleteTopicsRequest) ResponseKind() Response { return &DeleteTopicsResponse{} }

func (r *DeleteTopicsRequest) AppendTo(dst []byte) []byte {
	flex := r.IsFlexible()
	dst = appendArrayLen(dst, len(r.Topics), flex)
	for _, t := range r.Topics {
		dst = appendStr(dst, t, flex)
	}
	dst = kbin.AppendInt32(dst, r.TimeoutMillis)
	if flex {
		dst = kbin.AppendEmptyTags(dst)
	}
	return dst
}

// DeleteTopicsResponseTopic is one topic's deletion result.
type DeleteTopicsResponseTopic struct {
	Topic        string
	ErrorCode    int16
	ErrorMessage *string
}

// DeleteTopicsResponse reports per-topic deletion success or error.
type DeleteTopicsResponse struct {
	versioned

	ThrottleMillis int32
	Topics         []DeleteTopicsResponseTopic
}

func (*DeleteTopicsResponse) Key() ApiKey { return DeleteTopics }
func (r *DeleteTopicsResponse) IsFlexible() bool {
	return ResponseIsFlexibleAt(DeleteTopics, r.version)
}
func (r *DeleteTopicsResponse) Throttle() int32 { return r.ThrottleMillis }

func (r *DeleteTopicsResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	flex := r.IsFlexible()

	if r.version >= 1 {
		r.ThrottleMillis = b.Int32()
	}
	nt := arrayLen(&b, flex)
	r.Topics = make([]DeleteTopicsResponseTopic, nt)
	for i := range r.Topics {
		t := &r.Topics[i]
		t.Topic = readStr(&b, flex)
		t.ErrorCode = b.Int16()
		if r.version >= 5 {
			t.ErrorMessage = readNullableStr(&b, flex)
		}
		if flex {
			b.SkipTags()
		}
	}
	if flex {
		b.SkipTags()
	}
	return b.Complete()
}
