package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// Well-known ListOffsets timestamps, per spec.md's StartOffsetEarliest /
// StartOffsetLatest supplement (SPEC_FULL.md §12).
const (
	ListOffsetsLatest   int64 = -1
	ListOffsetsEarliest int64 = -2
)

// ListOffsetsRequestPartition asks for the offset nearest a given
// timestamp (or one of the ListOffsetsLatest/ListOffsetsEarliest
// sentinels) on one partition.
type ListOffsetsRequestPartition struct {
	Partition          int32
	CurrentLeaderEpoch int32
	Timestamp          int64
}

// ListOffsetsRequestTopic is one topic's partitions to query.
type ListOffsetsRequestTopic struct {
	Topic      string
	Partitions []ListOffsetsRequestPartition
}

// ListOffsetsRequest resolves earliest/latest/at-timestamp offsets, used by
// the consumer-group client's start-offset selection (spec.md §4.7,
// SPEC_FULL.md §12).
type ListOffsetsRequest struct {
	versioned

	ReplicaID      int32
	IsolationLevel int8
	Topics         []ListOffsetsRequestTopic
}

func (*ListOffsetsRequest) Key() ApiKey            { return ListOffsets }
func (*ListOffsetsRequest) MaxVersion() int16      { return SupportedVersions[ListOffsets].Max }
func (r *ListOffsetsRequest) IsFlexible() bool     { return IsFlexibleAt(ListOffsets, r.version) }
func (*ListOffsetsRequest) ResponseKind() Response { return &ListOffsetsResponse{} }

func (r *ListOffsetsRequest) AppendTo(dst []byte) []byte {
	flex := r.IsFlexible()
	dst = kbin.AppendInt32(dst, r.ReplicaID)
	if r.version >= 2 {
		dst = kbin.AppendInt8(dst, r.IsolationLevel)
	}
	dst = appendArrayLen(dst, len(r.Topics), flex)
	for _, t := range r.Topics {
		dst = appendStr(dst, t.Topic, flex)
		dst = appendArrayLen(dst, len(t.Partitions), flex)
		for _, p := range t.Partitions {
			dst = kbin.AppendInt32(dst, p.Partition)
			if r.version >= 4 {
				dst = kbin.AppendInt32(dst, p.CurrentLeaderEpoch)
			}
			dst = kbin.AppendInt64(dst, p.Timestamp)
			if flex {
				dst = kbin.AppendEmptyTags(dst)
			}
		}
		if flex {
			dst = kbin.AppendEmptyTags(dst)
		}
	}
	if flex {
		dst = kbin.AppendEmptyTags(dst)
	}
	return dst
}

// ListOffsetsResponsePartition is the resolved offset for one partition.
type ListOffsetsResponsePartition struct {
	Partition   int32
	ErrorCode   int16
	Timestamp   int64
	Offset      int64
	LeaderEpoch int32
}

// ListOffsetsResponseTopic is one topic's resolved partition offsets.
type ListOffsetsResponseTopic struct {
	Topic      string
	Partitions []ListOffsetsResponsePartition
}

// ListOffsetsResponse is the broker's reply to ListOffsetsRequest.
type ListOffsetsResponse struct {
	versioned

	ThrottleMillis int32
	Topics         []ListOffsetsResponseTopic
}

func (*ListOffsetsResponse) Key() ApiKey        { return ListOffsets }
func (r *ListOffsetsResponse) IsFlexible() bool { return ResponseIsFlexibleAt(ListOffsets, r.version) }
func (r *ListOffsetsResponse) Throttle() int32  { return r.ThrottleMillis }

func (r *ListOffsetsResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	flex := r.IsFlexible()

	if r.version >= 2 {
		r.ThrottleMillis = b.Int32()
	}
	nt := arrayLen(&b, flex)
	r.Topics = make([]ListOffsetsResponseTopic, nt)
	for i := range r.Topics {
		t := &r.Topics[i]
		t.Topic = readStr(&b, flex)
		np := arrayLen(&b, flex)
		t.Partitions = make([]ListOffsetsResponsePartition, np)
		for j := range t.Partitions {
			p := &t.Partitions[j]
			p.Partition = b.Int32()
			p.ErrorCode = b.Int16()
			if r.version == 0 {
				oldOffsets := arrayLen(&b, flex)
				if oldOffsets > 0 {
					p.Offset = b.Int64()
				}
				for k := int32(1); k < oldOffsets; k++ {
					b.Int64()
				}
			} else {
				p.Timestamp = b.Int64()
				p.Offset = b.Int64()
				if r.version >= 4 {
					p.LeaderEpoch = b.Int32()
				} else {
					p.LeaderEpoch = -1
				}
			}
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
