package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// OffsetFetchRequestTopic names the partitions to fetch committed offsets
// for within one topic. A nil Partitions list is encoded as an empty
// array, not as null; only a nil OffsetFetchRequest.Topics is encoded as a
// null array.
type OffsetFetchRequestTopic struct {
	Topic      string
	Partitions []int32
}

// OffsetFetchRequest retrieves this group's last committed offsets, used
// by the consumer-group client's start-offset selection (max(committed,
// earliest), SPEC_FULL.md §12).
type OffsetFetchRequest struct {
	versioned

	Group          string
	Topics         []OffsetFetchRequestTopic
	RequireStable  bool
}

func (*OffsetFetchRequest) Key() ApiKey            { return OffsetFetch }
func (*OffsetFetchRequest) MaxVersion() int16      { return SupportedVersions[OffsetFetch].Max }
func (r *OffsetFetchRequest) IsFlexible() bool     { return IsFlexibleAt(OffsetFetch, r.version) }
func (*OffsetFetchRequest) ResponseKind() Response { return &OffsetFetchResponse{} }

func (r *OffsetFetchRequest) AppendTo(dst []byte) []byte {
	flex := r.IsFlexible()
	dst = appendStr(dst, r.Group, flex)
	if r.Topics == nil {
		dst = appendArrayLen(dst, -1, flex)
	} else {
		dst = appendArrayLen(dst, len(r.Topics), flex)
		for _, t := range r.Topics {
			dst = appendStr(dst, t.Topic, flex)
			dst = appendInt32Array(dst, t.Partitions, flex)
			if flex {
				dst = kbin.AppendEmptyTags(dst)
			}
		}
	}
	if r.version >= 7 {
		dst = kbin.AppendBool(dst, r.RequireStable)
	}
	if flex {
		dst = kbin.AppendEmptyTags(dst)
	}
	return dst
}

// OffsetFetchResponsePartition is one partition's last committed offset.
type OffsetFetchResponsePartition struct {
	Partition            int32
	Offset               int64
	CommittedLeaderEpoch int32
	Metadata             *string
	ErrorCode            int16
}

// OffsetFetchResponseTopic is one topic's per-partition committed offsets.
type OffsetFetchResponseTopic struct {
	Topic      string
	Partitions []OffsetFetchResponsePartition
}

// OffsetFetchResponse reports committed offsets per requested partition;
// Offset -1 means no commit exists yet for that partition.
type OffsetFetchResponse struct {
	versioned

	ThrottleMillis int32
	Topics         []OffsetFetchResponseTopic
	ErrorCode      int16
}

func (*OffsetFetchResponse) Key() ApiKey        { return OffsetFetch }
func (r *OffsetFetchResponse) IsFlexible() bool { return ResponseIsFlexibleAt(OffsetFetch, r.version) }
func (r *OffsetFetchResponse) Throttle() int32  { return r.ThrottleMillis }

func (r *OffsetFetchResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	flex := r.IsFlexible()

	if r.version >= 3 {
		r.ThrottleMillis = b.Int32()
	}
	nt := arrayLen(&b, flex)
	r.Topics = make([]OffsetFetchResponseTopic, nt)
	for i := range r.Topics {
		t := &r.Topics[i]
		t.Topic = readStr(&b, flex)
		np := arrayLen(&b, flex)
		t.Partitions = make([]OffsetFetchResponsePartition, np)
		for j := range t.Partitions {
			p := &t.Partitions[j]
			p.Partition = b.Int32()
			p.Offset = b.Int64()
			if r.version >= 5 {
				p.CommittedLeaderEpoch = b.Int32()
			} else {
				p.CommittedLeaderEpoch = -1
			}
			p.Metadata = readNullableStr(&b, flex)
			p.ErrorCode = b.Int16()
			if flex {
				b.SkipTags()
			}
		}
		if flex {
			b.SkipTags()
		}
	}
	if r.version >= 2 {
		r.ErrorCode = b.Int16()
	}
	if flex {
		b.SkipTags()
	}
	return b.Complete()
}
