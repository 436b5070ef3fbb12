package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// MetadataRequestTopic names one topic to request metadata for.
type MetadataRequestTopic struct {
	Topic string
}

// MetadataRequest asks for cluster topology and, optionally, per-topic
// partition layout. A nil Topics list is sent as a null array, requesting
// metadata for every topic the broker knows, as used by broker-connector
// bootstrap and by the controller client's controller-id discovery
// (spec.md §4.4, §4.6); a non-nil empty list is sent as an empty array.
type MetadataRequest struct {
	versioned

	Topics []MetadataRequestTopic
	// AllowAutoTopicCreation controls whether naming an absent topic
	// causes the broker to create it (version 4+).
	AllowAutoTopicCreation bool
}

func (*MetadataRequest) Key() ApiKey           { return Metadata }
func (*MetadataRequest) MaxVersion() int16     { return SupportedVersions[Metadata].Max }
func (r *MetadataRequest) IsFlexible() bool    { return IsFlexibleAt(Metadata, r.version) }
func (*MetadataRequest) ResponseKind() Response { return &MetadataResponse{} }

func (r *MetadataRequest) AppendTo(dst []byte) []byte {
	flex := r.IsFlexible()
	if r.Topics == nil {
		if flex {
			dst = kbin.AppendCompactNullableArrayLen(dst, 0, true)
		} else {
			dst = kbin.AppendNullableArrayLen(dst, 0, true)
		}
	} else {
		if flex {
			dst = kbin.AppendCompactArrayLen(dst, len(r.Topics))
		} else {
			dst = kbin.AppendArrayLen(dst, len(r.Topics))
		}
		for _, t := range r.Topics {
			if flex {
				dst = kbin.AppendCompactString(dst, t.Topic)
				dst = kbin.AppendEmptyTags(dst)
			} else {
				dst = kbin.AppendString(dst, t.Topic)
			}
		}
	}
	if r.version >= 4 {
		dst = kbin.AppendBool(dst, r.AllowAutoTopicCreation)
	}
	if flex {
		dst = kbin.AppendEmptyTags(dst)
	}
	return dst
}

// MetadataResponseBroker is one broker entry in a Metadata response.
type MetadataResponseBroker struct {
	NodeID int32
	Host   string
	Port   int32
	Rack   *string
}

// MetadataResponsePartition is one partition's leadership/replica layout.
type MetadataResponsePartition struct {
	ErrorCode       int16
	Partition       int32
	Leader          int32
	LeaderEpoch     int32
	Replicas        []int32
	IsrNodes        []int32
}

// MetadataResponseTopic is one topic's metadata.
type MetadataResponseTopic struct {
	ErrorCode  int16
	Topic      string
	IsInternal bool
	Partitions []MetadataResponsePartition
}

// MetadataResponse is the broker's cluster topology snapshot, per spec.md
// §3 BrokerTopology and §4.4.
type MetadataResponse struct {
	versioned

	ThrottleMillis int32
	Brokers        []MetadataResponseBroker
	ClusterID      *string
	ControllerID   int32
	Topics         []MetadataResponseTopic
}

func (*MetadataResponse) Key() ApiKey        { return Metadata }
func (r *MetadataResponse) IsFlexible() bool { return ResponseIsFlexibleAt(Metadata, r.version) }
func (r *MetadataResponse) Throttle() int32  { return r.ThrottleMillis }

func (r *MetadataResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	flex := r.IsFlexible()

	if r.version >= 3 {
		r.ThrottleMillis = b.Int32()
	}

	nb := arrayLen(&b, flex)
	r.Brokers = make([]MetadataResponseBroker, nb)
	for i := range r.Brokers {
		r.Brokers[i].NodeID = b.Int32()
		r.Brokers[i].Host = readStr(&b, flex)
		r.Brokers[i].Port = b.Int32()
		if r.version >= 1 {
			r.Brokers[i].Rack = readNullableStr(&b, flex)
		}
		if flex {
			b.SkipTags()
		}
	}

	if r.version >= 2 {
		r.ClusterID = readNullableStr(&b, flex)
	}
	if r.version >= 1 {
		r.ControllerID = b.Int32()
	} else {
		r.ControllerID = -1
	}

	nt := arrayLen(&b, flex)
	r.Topics = make([]MetadataResponseTopic, nt)
	for i := range r.Topics {
		t := &r.Topics[i]
		t.ErrorCode = b.Int16()
		t.Topic = readStr(&b, flex)
		if r.version >= 1 {
			t.IsInternal = b.Bool()
		}
		np := arrayLen(&b, flex)
		t.Partitions = make([]MetadataResponsePartition, np)
		for j := range t.Partitions {
			p := &t.Partitions[j]
			p.ErrorCode = b.Int16()
			p.Partition = b.Int32()
			p.Leader = b.Int32()
			if r.version >= 7 {
				p.LeaderEpoch = b.Int32()
			} else {
				p.LeaderEpoch = -1
			}
			p.Replicas = readInt32Array(&b, flex)
			p.IsrNodes = readInt32Array(&b, flex)
			if flex {
				b.SkipTags()
			}
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

// --- shared flexible/classic read helpers used across message types ---

func arrayLen(b *kbin.Reader, flex bool) int32 {
	var n int32
	if flex {
		n = b.CompactArrayLen()
	} else {
		n = b.ArrayLen()
	}
	if n < 0 {
		n = 0
	}
	return n
}

func readStr(b *kbin.Reader, flex bool) string {
	if flex {
		return b.CompactString()
	}
	return b.String()
}

func readNullableStr(b *kbin.Reader, flex bool) *string {
	if flex {
		return b.CompactNullableString()
	}
	return b.NullableString()
}

func readBytesField(b *kbin.Reader, flex bool) []byte {
	if flex {
		return b.CompactNullableBytes()
	}
	return b.NullableBytes()
}

func readInt32Array(b *kbin.Reader, flex bool) []int32 {
	n := arrayLen(b, flex)
	out := make([]int32, n)
	for i := range out {
		out[i] = b.Int32()
	}
	return out
}

func appendStr(dst []byte, s string, flex bool) []byte {
	if flex {
		return kbin.AppendCompactString(dst, s)
	}
	return kbin.AppendString(dst, s)
}

func appendNullableStr(dst []byte, s *string, flex bool) []byte {
	if flex {
		return kbin.AppendCompactNullableString(dst, s)
	}
	return kbin.AppendNullableString(dst, s)
}

func appendBytesField(dst, b []byte, flex bool) []byte {
	if flex {
		return kbin.AppendCompactNullableBytes(dst, b)
	}
	return kbin.AppendNullableBytes(dst, b)
}

func appendArrayLen(dst []byte, n int, flex bool) []byte {
	if flex {
		return kbin.AppendCompactArrayLen(dst, n)
	}
	return kbin.AppendArrayLen(dst, n)
}

func appendInt32Array(dst []byte, vs []int32, flex bool) []byte {
	dst = appendArrayLen(dst, len(vs), flex)
	for _, v := range vs {
		dst = kbin.AppendInt32(dst, v)
	}
	return dst
}
