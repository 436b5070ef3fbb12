package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// OffsetCommitRequestPartition is one partition's offset to persist with
// the group coordinator.
type OffsetCommitRequestPartition struct {
	Partition         int32
	Offset            int64
	CommittedLeaderEpoch int32
	Metadata          *string
}

// OffsetCommitRequestTopic is one topic's partitions to commit.
type OffsetCommitRequestTopic struct {
	Topic      string
	Partitions []OffsetCommitRequestPartition
}

// OffsetCommitRequest persists consumed-through offsets with the group
// coordinator (spec.md §4.8's offset-commit worker).
type OffsetCommitRequest struct {
	versioned

	Group           string
	GenerationID    int32
	MemberID        string
	GroupInstanceID *string
	RetentionMillis int64
	Topics          []OffsetCommitRequestTopic
}

func (*OffsetCommitRequest) Key() ApiKey            { return OffsetCommit }
func (*OffsetCommitRequest) MaxVersion() int16      { return SupportedVersions[OffsetCommit].Max }
func (r *OffsetCommitRequest) IsFlexible() bool     { return IsFlexibleAt(OffsetCommit, r.version) }
func (*OffsetCommitRequest) ResponseKind() Response { return &OffsetCommitResponse{} }

func (r *OffsetCommitRequest) AppendTo(dst []byte) []byte {
	flex := r.IsFlexible()
	dst = appendStr(dst, r.Group, flex)
	if r.version >= 1 {
		dst = kbin.AppendInt32(dst, r.GenerationID)
		dst = appendStr(dst, r.MemberID, flex)
	}
	if r.version >= 7 {
		dst = appendNullableStr(dst, r.GroupInstanceID, flex)
	}
	if r.version >= 2 && r.version <= 4 {
		dst = kbin.AppendInt64(dst, r.RetentionMillis)
	}
	dst = appendArrayLen(dst, len(r.Topics), flex)
	for _, t := range r.Topics {
		dst = appendStr(dst, t.Topic, flex)
		dst = appendArrayLen(dst, len(t.Partitions), flex)
		for _, p := range t.Partitions {
			dst = kbin.AppendInt32(dst, p.Partition)
			dst = kbin.AppendInt64(dst, p.Offset)
			if r.version >= 6 {
				dst = kbin.AppendInt32(dst, p.CommittedLeaderEpoch)
			}
			dst = appendNullableStr(dst, p.Metadata, flex)
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

// OffsetCommitResponsePartition is one partition's commit result.
type OffsetCommitResponsePartition struct {
	Partition int32
	ErrorCode int16
}

// OffsetCommitResponseTopic is one topic's per-partition commit results.
type OffsetCommitResponseTopic struct {
	Topic      string
	Partitions []OffsetCommitResponsePartition
}

// OffsetCommitResponse reports per-partition commit success or error.
type OffsetCommitResponse struct {
	versioned

	ThrottleMillis int32
	Topics         []OffsetCommitResponseTopic
}

func (*OffsetCommitResponse) Key() ApiKey { return OffsetCommit }
func (r *OffsetCommitResponse) IsFlexible() bool {
	return ResponseIsFlexibleAt(OffsetCommit, r.version)
}
func (r *OffsetCommitResponse) Throttle() int32 { return r.ThrottleMillis }

func (r *OffsetCommitResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	flex := r.IsFlexible()

	if r.version >= 3 {
		r.ThrottleMillis = b.Int32()
	}
	nt := arrayLen(&b, flex)
	r.Topics = make([]OffsetCommitResponseTopic, nt)
	for i := range r.Topics {
		t := &r.Topics[i]
		t.Topic = readStr(&b, flex)
		np := arrayLen(&b, flex)
		t.Partitions = make([]OffsetCommitResponsePartition, np)
		for j := range t.Partitions {
			t.Partitions[j].Partition = b.Int32()
			t.Partitions[j].ErrorCode = b.Int16()
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
