package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// ProduceRequestPartition is one partition's record batch to append.
type ProduceRequestPartition struct {
	Partition int32
	Records   []byte // a pre-serialized RecordBatch, see RecordBatch.AppendTo
}

// ProduceRequestTopic is one topic's partitions to append to.
type ProduceRequestTopic struct {
	Topic      string
	Partitions []ProduceRequestPartition
}

// ProduceRequest appends records to partitions, per spec.md §4.7.
type ProduceRequest struct {
	versioned

	TransactionalID *string
	Acks            int16
	TimeoutMillis   int32
	Topics          []ProduceRequestTopic
}

func (*ProduceRequest) Key() ApiKey            { return Produce }
func (*ProduceRequest) MaxVersion() int16      { return SupportedVersions[Produce].Max }
func (r *ProduceRequest) IsFlexible() bool     { return IsFlexibleAt(Produce, r.version) }
func (*ProduceRequest) ResponseKind() Response { return &ProduceResponse{} }

func (r *ProduceRequest) AppendTo(dst []byte) []byte {
	flex := r.IsFlexible()
	if r.version >= 3 {
		dst = appendNullableStr(dst, r.TransactionalID, flex)
	}
	dst = kbin.AppendInt16(dst, r.Acks)
	dst = kbin.AppendInt32(dst, r.TimeoutMillis)
	dst = appendArrayLen(dst, len(r.Topics), flex)
	for _, t := range r.Topics {
		dst = appendStr(dst, t.Topic, flex)
		dst = appendArrayLen(dst, len(t.Partitions), flex)
		for _, p := range t.Partitions {
			dst = kbin.AppendInt32(dst, p.Partition)
			dst = appendBytesField(dst, p.Records, flex)
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

// ProduceResponsePartition is one partition's append result.
type ProduceResponsePartition struct {
	Partition       int32
	ErrorCode       int16
	BaseOffset      int64
	LogAppendTime   int64
	LogStartOffset  int64
}

// ProduceResponseTopic is one topic's per-partition results.
type ProduceResponseTopic struct {
	Topic      string
	Partitions []ProduceResponsePartition
}

// ProduceResponse is the broker's reply, carrying the assigned base offset
// per partition (spec.md §4.7) and an optional throttle (spec.md §4.5).
type ProduceResponse struct {
	versioned

	Topics         []ProduceResponseTopic
	ThrottleMillis int32
}

func (*ProduceResponse) Key() ApiKey        { return Produce }
func (r *ProduceResponse) IsFlexible() bool { return ResponseIsFlexibleAt(Produce, r.version) }
func (r *ProduceResponse) Throttle() int32  { return r.ThrottleMillis }

func (r *ProduceResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	flex := r.IsFlexible()

	nt := arrayLen(&b, flex)
	r.Topics = make([]ProduceResponseTopic, nt)
	for i := range r.Topics {
		t := &r.Topics[i]
		t.Topic = readStr(&b, flex)
		np := arrayLen(&b, flex)
		t.Partitions = make([]ProduceResponsePartition, np)
		for j := range t.Partitions {
			p := &t.Partitions[j]
			p.Partition = b.Int32()
			p.ErrorCode = b.Int16()
			p.BaseOffset = b.Int64()
			if r.version >= 2 {
				p.LogAppendTime = b.Int64()
			} else {
				p.LogAppendTime = -1
			}
			if r.version >= 5 {
				p.LogStartOffset = b.Int64()
			}
			if flex {
				b.SkipTags()
			}
		}
		if flex {
			b.SkipTags()
		}
	}
	if r.version >= 1 {
		r.ThrottleMillis = b.Int32()
	}
	if flex {
		b.SkipTags()
	}
	return b.Complete()
}
