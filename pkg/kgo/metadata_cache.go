package kgo

import (
	"context"

	"github.com/twmb/kgocore/pkg/kerr"
	"github.com/twmb/kgocore/pkg/kmsg"
)

// metadataCacheEntry is the last-known-good (MetadataResponse, generation)
// pair described in spec.md §3's MetadataCache, one per distinct topic
// set.
type metadataCacheEntry struct {
	resp       *kmsg.MetadataResponse
	generation int64
}

// metadataCall coalesces concurrent cache misses for the same topic set
// onto a single in-flight fetch, per spec.md §4.4.
type metadataCall struct {
	done chan struct{}
	resp *kmsg.MetadataResponse
	err  error
}

// MetadataMode selects how Client.RequestMetadata resolves a topic set,
// mirroring spec.md §4.4's three modes.
type MetadataMode int8

const (
	// MetadataModeCachedArbitraryBroker returns any current cache entry
	// if present, fetching only on a miss.
	MetadataModeCachedArbitraryBroker MetadataMode = iota
	// MetadataModeArbitraryBroker bypasses the cache, always fetches from
	// any live broker, then updates the cache.
	MetadataModeArbitraryBroker
	// MetadataModeSpecificBroker fetches from one named broker id, then
	// updates the cache. Use RequestMetadataFromBroker for this mode.
	MetadataModeSpecificBroker
)

// RequestMetadata implements spec.md §4.4's CachedArbitraryBroker and
// ArbitraryBroker modes. SpecificBroker is served by
// RequestMetadataFromBroker since it additionally needs a broker id.
func (cl *Client) RequestMetadata(ctx context.Context, mode MetadataMode, topics []string) (*kmsg.MetadataResponse, int64, error) {
	key := topicSetKey(topics)

	if mode == MetadataModeCachedArbitraryBroker {
		cl.metaMu.Lock()
		entry, ok := cl.metaCache[key]
		cl.metaMu.Unlock()
		if ok {
			return entry.resp, entry.generation, nil
		}
	}

	resp, err := cl.coalescedFetch(ctx, key, func() (*kmsg.MetadataResponse, error) {
		return cl.fetchMetadata(ctx, topics)
	})
	if err != nil {
		return nil, 0, err
	}

	gen := cl.storeMetadata(key, resp)
	return resp, gen, nil
}

// RequestMetadataFromBroker implements spec.md §4.4's SpecificBroker mode.
func (cl *Client) RequestMetadataFromBroker(ctx context.Context, brokerID int32, topics []string) (*kmsg.MetadataResponse, int64, error) {
	key := topicSetKey(topics)
	resp, err := cl.coalescedFetch(ctx, key, func() (*kmsg.MetadataResponse, error) {
		m, err := cl.connect(ctx, brokerID)
		if err != nil {
			return nil, err
		}
		return cl.doMetadata(ctx, m, topics)
	})
	if err != nil {
		return nil, 0, err
	}
	gen := cl.storeMetadata(key, resp)
	return resp, gen, nil
}

// coalescedFetch runs fetch for key, sharing the result with any other
// caller already fetching the same key (spec.md §4.4: "concurrent cache
// misses for the same topic-set coalesce onto a single in-flight fetch").
func (cl *Client) coalescedFetch(ctx context.Context, key string, fetch func() (*kmsg.MetadataResponse, error)) (*kmsg.MetadataResponse, error) {
	cl.metaMu.Lock()
	if call, ok := cl.metaCalls[key]; ok {
		cl.metaMu.Unlock()
		<-call.done
		return call.resp, call.err
	}
	call := &metadataCall{done: make(chan struct{})}
	cl.metaCalls[key] = call
	cl.metaMu.Unlock()

	call.resp, call.err = fetch()

	cl.metaMu.Lock()
	delete(cl.metaCalls, key)
	cl.metaMu.Unlock()
	close(call.done)

	return call.resp, call.err
}

func (cl *Client) fetchMetadata(ctx context.Context, topics []string) (*kmsg.MetadataResponse, error) {
	m, _, err := cl.get(ctx)
	if err != nil {
		return nil, err
	}
	return cl.doMetadata(ctx, m, topics)
}

func (cl *Client) doMetadata(ctx context.Context, m *messenger, topics []string) (*kmsg.MetadataResponse, error) {
	req := &kmsg.MetadataRequest{}
	if topics != nil {
		req.Topics = make([]kmsg.MetadataRequestTopic, len(topics))
		for i, t := range topics {
			req.Topics[i] = kmsg.MetadataRequestTopic{Topic: t}
		}
	}
	req.SetVersion(kmsg.SupportedVersions[kmsg.Metadata].Max)
	raw, err := m.waitResp(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := raw.(*kmsg.MetadataResponse)
	for _, t := range resp.Topics {
		if err := kerr.ErrorForCode(t.ErrorCode); err != nil && !errorIsPerTopicBenign(err) {
			cl.cfg.logger.Log(LogLevelWarn, "metadata reported topic error", "topic", t.Topic, "err", err)
		}
	}
	cl.applyMetadata(resp)
	return resp, nil
}

// errorIsPerTopicBenign reports whether a per-topic metadata error code is
// expected application-level feedback (e.g. the topic truly does not
// exist) rather than something to log loudly about.
func errorIsPerTopicBenign(err error) bool {
	return err == kerr.UnknownTopicOrPartition
}

func (cl *Client) storeMetadata(key string, resp *kmsg.MetadataResponse) int64 {
	cl.metaMu.Lock()
	defer cl.metaMu.Unlock()
	gen := int64(1)
	if existing, ok := cl.metaCache[key]; ok {
		gen = existing.generation + 1
	}
	cl.metaCache[key] = &metadataCacheEntry{resp: resp, generation: gen}
	return gen
}

// invalidateMetadata drops a cached topic-set entry if its generation is
// still current, mirroring the arbitrary-broker cache's generation
// discipline (spec.md §3).
func (cl *Client) invalidateMetadata(topics []string, generation int64) {
	key := topicSetKey(topics)
	cl.metaMu.Lock()
	defer cl.metaMu.Unlock()
	if entry, ok := cl.metaCache[key]; ok && entry.generation == generation {
		delete(cl.metaCache, key)
	}
}
