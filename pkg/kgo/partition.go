package kgo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/kgocore/pkg/kerr"
	"github.com/twmb/kgocore/pkg/kmsg"
)

// UnknownTopicHandling governs what Client.Partition does when the named
// topic is not yet visible in cluster metadata, per spec.md §4.7.
type UnknownTopicHandling int8

const (
	// UnknownTopicHandlingError fails construction immediately if the
	// topic is not currently known to the cluster.
	UnknownTopicHandlingError UnknownTopicHandling = iota
	// UnknownTopicHandlingRetry blocks, refreshing metadata on backoff,
	// until the topic appears or ctx is done.
	UnknownTopicHandlingRetry
)

// PartitionClient is a handle scoped to one (topic, partition). It caches
// that partition's current leader broker and serves Produce, FetchRecords,
// and GetOffset against it, per spec.md §4.7. Acks=0 "fire and forget"
// produces are not supported: every request made through a messenger
// awaits a matching response, by design (spec.md §3).
type PartitionClient struct {
	cl        *Client
	topic     string
	partition int32
	codec     kmsg.Codec

	leaderMu  sync.Mutex
	leaderID  int32
	leaderGen int64
}

func newPartitionClient(ctx context.Context, cl *Client, topic string, partition int32, handling UnknownTopicHandling) (*PartitionClient, error) {
	pc := &PartitionClient{
		cl:        cl,
		topic:     topic,
		partition: partition,
		codec:     kmsg.Codec{GzipLevel: cl.cfg.gzipLevel},
		leaderID:  unknownBrokerID,
	}

	backoff := cl.cfg.retryBackoffMin
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	mode := MetadataModeCachedArbitraryBroker
	for {
		leader, err := pc.lookupLeader(ctx, mode)
		if err == nil {
			pc.leaderID = leader
			return pc, nil
		}
		if handling == UnknownTopicHandlingError {
			return nil, err
		}
		mode = MetadataModeArbitraryBroker
		if !sleepCtx(ctx, backoff) {
			return nil, ctx.Err()
		}
		backoff *= 2
		if cl.cfg.retryBackoffMax > 0 && backoff > cl.cfg.retryBackoffMax {
			backoff = cl.cfg.retryBackoffMax
		}
	}
}

// lookupLeader resolves this partition's current leader broker id from
// cluster metadata.
func (pc *PartitionClient) lookupLeader(ctx context.Context, mode MetadataMode) (int32, error) {
	resp, _, err := pc.cl.RequestMetadata(ctx, mode, []string{pc.topic})
	if err != nil {
		return 0, err
	}
	for _, t := range resp.Topics {
		if t.Topic != pc.topic {
			continue
		}
		if err := kerr.ErrorForCode(t.ErrorCode); err != nil {
			return 0, err
		}
		for _, p := range t.Partitions {
			if p.Partition != pc.partition {
				continue
			}
			if p.Leader < 0 {
				return 0, kerr.LeaderNotAvailable
			}
			return p.Leader, nil
		}
		return 0, kerr.UnknownTopicOrPartition
	}
	return 0, kerr.UnknownTopicOrPartition
}

// leader returns a connection to the current cached leader, refreshing
// metadata first if the cache is cold.
func (pc *PartitionClient) leader(ctx context.Context) (*messenger, int64, error) {
	pc.leaderMu.Lock()
	id, gen := pc.leaderID, pc.leaderGen
	pc.leaderMu.Unlock()

	if id == unknownBrokerID {
		newID, err := pc.lookupLeader(ctx, MetadataModeArbitraryBroker)
		if err != nil {
			return nil, gen, err
		}
		pc.leaderMu.Lock()
		pc.leaderID = newID
		pc.leaderGen++
		id, gen = pc.leaderID, pc.leaderGen
		pc.leaderMu.Unlock()
	}

	m, err := pc.cl.connect(ctx, id)
	return m, gen, err
}

// invalidateLeader drops the cached leader if generation is still
// current, forcing the next call to refresh metadata. Installed as the
// Retry driver's invalidate callback for every operation below, so
// NotLeaderOrFollower, LeaderNotAvailable, UnknownTopicOrPartition, and
// FencedLeaderEpoch (classified as redirects by isRedirect) all trigger
// this, per spec.md §4.7.
func (pc *PartitionClient) invalidateLeader(reason string, generation int64) {
	pc.leaderMu.Lock()
	if generation != pc.leaderGen {
		pc.leaderMu.Unlock()
		return
	}
	pc.leaderID = unknownBrokerID
	pc.leaderGen++
	pc.leaderMu.Unlock()
	pc.cl.cfg.logger.Log(LogLevelDebug, "invalidating cached partition leader", "topic", pc.topic, "partition", pc.partition, "reason", reason, "generation", generation)
}

// ProduceResult is the broker's acknowledgement of an appended batch.
type ProduceResult struct {
	BaseOffset     int64
	LogAppendTime  int64
	LogStartOffset int64
}

// Produce appends records as a single record batch to this partition,
// compressed with the client's configured preferred codec, falling back to
// the next configured codec if compressing with one fails, per spec.md
// §4.7.
func (pc *PartitionClient) Produce(ctx context.Context, records []kmsg.Record, acks int16) (ProduceResult, error) {
	codecs := pc.cl.cfg.compressPreference
	if len(codecs) == 0 {
		codecs = []kmsg.Compression{kmsg.CompressionNone}
	}

	now := time.Now().UnixMilli()
	for i := range records {
		records[i].OffsetDelta = int32(i)
		records[i].TimestampDelta = 0
	}

	batch := kmsg.RecordBatch{
		FirstTimestamp: now,
		MaxTimestamp:   now,
		ProducerID:     -1,
		ProducerEpoch:  -1,
		BaseSequence:   -1,
		Records:        records,
	}
	var raw []byte
	var err error
	for _, codec := range codecs {
		batch.SetCompression(codec)
		if raw, err = batch.AppendTo(nil, pc.codec); err == nil {
			break
		}
	}
	if err != nil {
		return ProduceResult{}, err
	}

	policy := pc.cl.retryPolicy()
	return Retry(ctx, policy, pc.invalidateLeader, func(ctx context.Context) Attempt[ProduceResult] {
		m, gen, err := pc.leader(ctx)
		if err != nil {
			return Attempt[ProduceResult]{Generation: gen, Err: err}
		}

		req := &kmsg.ProduceRequest{
			Acks:          acks,
			TimeoutMillis: pc.cl.requestTimeoutMillis(),
			Topics: []kmsg.ProduceRequestTopic{{
				Topic: pc.topic,
				Partitions: []kmsg.ProduceRequestPartition{{
					Partition: pc.partition,
					Records:   raw,
				}},
			}},
		}
		req.SetVersion(kmsg.SupportedVersions[kmsg.Produce].Max)

		respRaw, err := m.waitResp(ctx, req)
		if err != nil {
			return Attempt[ProduceResult]{Generation: gen, Err: err}
		}
		resp := respRaw.(*kmsg.ProduceResponse)
		for _, t := range resp.Topics {
			if t.Topic != pc.topic {
				continue
			}
			for _, p := range t.Partitions {
				if p.Partition != pc.partition {
					continue
				}
				if err := kerr.ErrorForCode(p.ErrorCode); err != nil {
					return Attempt[ProduceResult]{Generation: gen, Err: err}
				}
				return Attempt[ProduceResult]{Value: ProduceResult{
					BaseOffset:     p.BaseOffset,
					LogAppendTime:  p.LogAppendTime,
					LogStartOffset: p.LogStartOffset,
				}}
			}
		}
		return Attempt[ProduceResult]{Generation: gen, Err: fmt.Errorf("kgo: produce response missing partition %d", pc.partition)}
	})
}

// FetchedRecord pairs a decoded record with its absolute log offset,
// recovered from its batch's BaseOffset plus the record's OffsetDelta.
type FetchedRecord struct {
	Offset int64
	Record kmsg.Record
}

// FetchResult is one fetch's decoded records, the partition's current high
// watermark, and the offset to resume fetching from.
type FetchResult struct {
	Records       []FetchedRecord
	HighWatermark int64
	NextOffset    int64
}

// FetchRecords fetches starting at offset, waiting up to maxWait for the
// broker to accumulate data, and decodes as many whole record batches as
// were returned. A partially-truncated trailing batch (the broker's
// max_bytes enforcement cutting a batch mid-record) is tolerated via
// kmsg.ReadBatches rather than treated as an error, per spec.md §9.
func (pc *PartitionClient) FetchRecords(ctx context.Context, offset int64, maxBytes int32, maxWait time.Duration) (FetchResult, error) {
	policy := pc.cl.retryPolicy()
	return Retry(ctx, policy, pc.invalidateLeader, func(ctx context.Context) Attempt[FetchResult] {
		m, gen, err := pc.leader(ctx)
		if err != nil {
			return Attempt[FetchResult]{Generation: gen, Err: err}
		}

		req := &kmsg.FetchRequest{
			ReplicaID:     -1,
			MaxWaitMillis: int32(maxWait / time.Millisecond),
			MinBytes:      1,
			MaxBytes:      maxBytes,
			Topics: []kmsg.FetchRequestTopic{{
				Topic: pc.topic,
				Partitions: []kmsg.FetchRequestPartition{{
					Partition:          pc.partition,
					CurrentLeaderEpoch: -1,
					FetchOffset:        offset,
					LastFetchedEpoch:   -1,
					PartitionMaxBytes:  maxBytes,
				}},
			}},
		}
		req.SetVersion(kmsg.SupportedVersions[kmsg.Fetch].Max)

		respRaw, err := m.waitResp(ctx, req)
		if err != nil {
			return Attempt[FetchResult]{Generation: gen, Err: err}
		}
		resp := respRaw.(*kmsg.FetchResponse)
		if err := kerr.ErrorForCode(resp.ErrorCode); err != nil {
			return Attempt[FetchResult]{Generation: gen, Err: err}
		}

		for _, t := range resp.Topics {
			if t.Topic != pc.topic {
				continue
			}
			for _, p := range t.Partitions {
				if p.Partition != pc.partition {
					continue
				}
				if err := kerr.ErrorForCode(p.ErrorCode); err != nil {
					return Attempt[FetchResult]{Generation: gen, Err: err}
				}

				batches, err := kmsg.ReadBatches(p.RecordBatches, pc.codec)
				if err != nil {
					return Attempt[FetchResult]{Generation: gen, Err: err}
				}
				if len(batches) > 0 && batches[0].BaseOffset > offset {
					return Attempt[FetchResult]{Generation: gen, Err: ErrDataLoss}
				}

				var records []FetchedRecord
				next := offset
				for _, b := range batches {
					end := b.BaseOffset + int64(b.LastOffsetDelta) + 1
					if end <= offset {
						continue
					}
					if !b.IsControl() {
						for _, rec := range b.Records {
							abs := b.BaseOffset + int64(rec.OffsetDelta)
							if abs < offset {
								continue
							}
							records = append(records, FetchedRecord{Offset: abs, Record: rec})
						}
					}
					next = end
				}

				return Attempt[FetchResult]{Value: FetchResult{
					Records:       records,
					HighWatermark: p.HighWatermark,
					NextOffset:    next,
				}}
			}
		}
		return Attempt[FetchResult]{Generation: gen, Err: fmt.Errorf("kgo: fetch response missing partition %d", pc.partition)}
	})
}

// GetOffset resolves this partition's offset nearest timestamp (or one of
// kmsg.ListOffsetsEarliest/kmsg.ListOffsetsLatest), per spec.md §4.7. Also
// used by the consumer-group client's start-offset selection
// (SPEC_FULL.md §12).
func (pc *PartitionClient) GetOffset(ctx context.Context, timestamp int64) (int64, error) {
	policy := pc.cl.retryPolicy()
	return Retry(ctx, policy, pc.invalidateLeader, func(ctx context.Context) Attempt[int64] {
		m, gen, err := pc.leader(ctx)
		if err != nil {
			return Attempt[int64]{Generation: gen, Err: err}
		}

		req := &kmsg.ListOffsetsRequest{
			ReplicaID: -1,
			Topics: []kmsg.ListOffsetsRequestTopic{{
				Topic: pc.topic,
				Partitions: []kmsg.ListOffsetsRequestPartition{{
					Partition:          pc.partition,
					CurrentLeaderEpoch: -1,
					Timestamp:          timestamp,
				}},
			}},
		}
		req.SetVersion(kmsg.SupportedVersions[kmsg.ListOffsets].Max)

		respRaw, err := m.waitResp(ctx, req)
		if err != nil {
			return Attempt[int64]{Generation: gen, Err: err}
		}
		resp := respRaw.(*kmsg.ListOffsetsResponse)
		for _, t := range resp.Topics {
			if t.Topic != pc.topic {
				continue
			}
			for _, p := range t.Partitions {
				if p.Partition != pc.partition {
					continue
				}
				if err := kerr.ErrorForCode(p.ErrorCode); err != nil {
					return Attempt[int64]{Generation: gen, Err: err}
				}
				return Attempt[int64]{Value: p.Offset}
			}
		}
		return Attempt[int64]{Generation: gen, Err: fmt.Errorf("kgo: list offsets response missing partition %d", pc.partition)}
	})
}
