package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// FetchRequestPartition asks to fetch from one partition starting at
// FetchOffset, per spec.md §4.7.
type FetchRequestPartition struct {
	Partition          int32
	CurrentLeaderEpoch int32
	FetchOffset        int64
	LastFetchedEpoch   int32
	LogStartOffset     int64
	PartitionMaxBytes  int32
}

// FetchRequestTopic is one topic's partitions to fetch.
type FetchRequestTopic struct {
	Topic      string
	Partitions []FetchRequestPartition
}

// FetchRequest reads records from one or more partitions.
type FetchRequest struct {
	versioned

	ReplicaID      int32
	MaxWaitMillis  int32
	MinBytes       int32
	MaxBytes       int32
	IsolationLevel int8
	SessionID      int32
	SessionEpoch   int32
	Topics         []FetchRequestTopic
}

func (*FetchRequest) Key() ApiKey            { return Fetch }
func (*FetchRequest) MaxVersion() int16      { return SupportedVersions[Fetch].Max }
func (r *FetchRequest) IsFlexible() bool     { return IsFlexibleAt(Fetch, r.version) }
func (*FetchRequest) ResponseKind() Response { return &FetchResponse{} }

func (r *FetchRequest) AppendTo(dst []byte) []byte {
	flex := r.IsFlexible()
	dst = kbin.AppendInt32(dst, r.ReplicaID)
	dst = kbin.AppendInt32(dst, r.MaxWaitMillis)
	dst = kbin.AppendInt32(dst, r.MinBytes)
	if r.version >= 3 {
		dst = kbin.AppendInt32(dst, r.MaxBytes)
	}
	if r.version >= 4 {
		dst = kbin.AppendInt8(dst, r.IsolationLevel)
	}
	if r.version >= 7 {
		dst = kbin.AppendInt32(dst, r.SessionID)
		dst = kbin.AppendInt32(dst, r.SessionEpoch)
	}
	dst = appendArrayLen(dst, len(r.Topics), flex)
	for _, t := range r.Topics {
		dst = appendStr(dst, t.Topic, flex)
		dst = appendArrayLen(dst, len(t.Partitions), flex)
		for _, p := range t.Partitions {
			dst = kbin.AppendInt32(dst, p.Partition)
			if r.version >= 9 {
				dst = kbin.AppendInt32(dst, p.CurrentLeaderEpoch)
			}
			dst = kbin.AppendInt64(dst, p.FetchOffset)
			if r.version >= 12 {
				dst = kbin.AppendInt32(dst, p.LastFetchedEpoch)
			}
			if r.version >= 5 {
				dst = kbin.AppendInt64(dst, p.LogStartOffset)
			}
			dst = kbin.AppendInt32(dst, p.PartitionMaxBytes)
			if flex {
				dst = kbin.AppendEmptyTags(dst)
			}
		}
		if flex {
			dst = kbin.AppendEmptyTags(dst)
		}
	}
	if r.version >= 7 {
		dst = appendArrayLen(dst, 0, flex) // forgotten topics: never used by this client
	}
	if flex {
		dst = kbin.AppendEmptyTags(dst)
	}
	return dst
}

// FetchResponsePartition is one partition's fetched records and metadata.
type FetchResponsePartition struct {
	Partition            int32
	ErrorCode            int16
	HighWatermark        int64
	LastStableOffset     int64
	LogStartOffset       int64
	RecordBatches        []byte
}

// FetchResponseTopic is one topic's per-partition fetch results.
type FetchResponseTopic struct {
	Topic      string
	Partitions []FetchResponsePartition
}

// FetchResponse carries fetched record batches plus the high watermark and
// log-start offset needed by the partition client's fetch loop, per
// spec.md §4.7.
type FetchResponse struct {
	versioned

	ThrottleMillis int32
	ErrorCode      int16
	SessionID      int32
	Topics         []FetchResponseTopic
}

func (*FetchResponse) Key() ApiKey        { return Fetch }
func (r *FetchResponse) IsFlexible() bool { return ResponseIsFlexibleAt(Fetch, r.version) }
func (r *FetchResponse) Throttle() int32  { return r.ThrottleMillis }

func (r *FetchResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	flex := r.IsFlexible()

	if r.version >= 1 {
		r.ThrottleMillis = b.Int32()
	}
	if r.version >= 7 {
		r.ErrorCode = b.Int16()
		r.SessionID = b.Int32()
	}

	nt := arrayLen(&b, flex)
	r.Topics = make([]FetchResponseTopic, nt)
	for i := range r.Topics {
		t := &r.Topics[i]
		t.Topic = readStr(&b, flex)
		np := arrayLen(&b, flex)
		t.Partitions = make([]FetchResponsePartition, np)
		for j := range t.Partitions {
			p := &t.Partitions[j]
			p.Partition = b.Int32()
			p.ErrorCode = b.Int16()
			p.HighWatermark = b.Int64()
			if r.version >= 4 {
				p.LastStableOffset = b.Int64()
			}
			if r.version >= 5 {
				p.LogStartOffset = b.Int64()
			}
			if r.version >= 4 {
				// aborted transactions list: this client never runs in
				// read_committed isolation, so this is consumed and dropped
				na := arrayLen(&b, flex)
				for k := int32(0); k < na; k++ {
					b.Int64() // producer id
					b.Int64() // first offset
					if flex {
						b.SkipTags()
					}
				}
			}
			if r.version >= 11 {
				b.Int32() // preferred read replica
			}
			p.RecordBatches = readBytesField(&b, flex)
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
