package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// CreateTopicsRequestReplicaAssignment manually pins a partition's replica
// set instead of letting the broker compute placement.
type CreateTopicsRequestReplicaAssignment struct {
	Partition int32
	Replicas  []int32
}

// CreateTopicsRequestConfig is one topic-level config override.
type CreateTopicsRequestConfig struct {
	Name  string
	Value *string
}

// CreateTopicsRequestTopic describes one topic to create.
type CreateTopicsRequestTopic struct {
	Topic             string
	NumPartitions     int32
	ReplicationFactor int16
	Assignments       []CreateTopicsRequestReplicaAssignment
	Configs           []CreateTopicsRequestConfig
}

// CreateTopicsRequest creates one or more topics, per spec.md §4.6's
// controller-client operations.
type CreateTopicsRequest struct {
	versioned

	Topics       []CreateTopicsRequestTopic
	TimeoutMillis int32
	ValidateOnly bool
}

func (*CreateTopicsRequest) Key() ApiKey            { return CreateTopics }
func (*CreateTopicsRequest) MaxVersion() int16      { return SupportedVersions[CreateTopics].Max }
func (r *CreateTopicsRequest) IsFlexible() bool     { return IsFlexibleAt(CreateTopics, r.version) }
func (*CreateTopicsRequest) ResponseKind() Response { return &CreateTopicsResponse{} }

func (r *CreateTopicsRequest) AppendTo(dst []byte) []byte {
	flex := r.IsFlexible()
	dst = appendArrayLen(dst, len(r.Topics), flex)
	for _, t := range r.Topics {
		dst = appendStr(dst, t.Topic, flex)
		dst = kbin.AppendInt32(dst, t.NumPartitions)
		dst = kbin.AppendInt16(dst, t.ReplicationFactor)
		dst = appendArrayLen(dst, len(t.Assignments), flex)
		for _, a := range t.Assignments {
			dst = kbin.AppendInt32(dst, a.Partition)
			dst = appendInt32Array(dst, a.Replicas, flex)
			if flex {
				dst = kbin.AppendEmptyTags(dst)
			}
		}
		dst = appendArrayLen(dst, len(t.Configs), flex)
		for _, c := range t.Configs {
			dst = appendStr(dst, c.Name, flex)
			dst = appendNullableStr(dst, c.Value, flex)
			if flex {
				dst = kbin.AppendEmptyTags(dst)
			}
		}
		if flex {
			dst = kbin.AppendEmptyTags(dst)
		}
	}
	dst = kbin.AppendInt32(dst, r.TimeoutMillis)
	if r.version >= 1 {
		dst = kbin.AppendBool(dst, r.ValidateOnly)
	}
	if flex {
		dst = kbin.AppendEmptyTags(dst)
	}
	return dst
}

// CreateTopicsResponseTopic is one topic's creation result.
type CreateTopicsResponseTopic struct {
	Topic             string
	ErrorCode         int16
	ErrorMessage      *string
	NumPartitions     int32
	ReplicationFactor int16
}

// CreateTopicsResponse reports per-topic creation success or error.
type CreateTopicsResponse struct {
	versioned

	ThrottleMillis int32
	Topics         []CreateTopicsResponseTopic
}

func (*CreateTopicsResponse) Key() ApiKey { return CreateTopics }
func (r *CreateTopicsResponse) IsFlexible() bool {
	return ResponseIsFlexibleAt(CreateTopics, r.version)
}
func (r *CreateTopicsResponse) Throttle() int32 { return r.ThrottleMillis }

func (r *CreateTopicsResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	flex := r.IsFlexible()

	if r.version >= 2 {
		r.ThrottleMillis = b.Int32()
	}
	nt := arrayLen(&b, flex)
	r.Topics = make([]CreateTopicsResponseTopic, nt)
	for i := range r.Topics {
		t := &r.Topics[i]
		t.Topic = readStr(&b, flex)
		t.ErrorCode = b.Int16()
		if r.version >= 1 {
			t.ErrorMessage = readNullableStr(&b, flex)
		}
		if r.version >= 5 {
			t.NumPartitions = b.Int32()
			t.ReplicationFactor = b.Int16()
			// The effective topic configs, consumed and dropped: this
			// client surfaces creation results, not config snapshots.
			nc := arrayLen(&b, flex)
			for k := int32(0); k < nc; k++ {
				readStr(&b, flex)         // name
				readNullableStr(&b, flex) // value
				b.Bool()                  // read only
				b.Int8()                  // config source
				b.Bool()                  // is sensitive
				if flex {
					b.SkipTags()
				}
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
