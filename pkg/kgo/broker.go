package kgo

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/twmb/kgocore/pkg/kmsg"
)

// Topic describes one topic's partition layout, per spec.md §3's
// "Partition / Topic" data model.
type Topic struct {
	Name       string
	Partitions map[int32]PartitionMetadata
}

// PartitionMetadata is one partition's leadership and replica layout.
type PartitionMetadata struct {
	Leader   int32
	Replicas []int32
	ISR      []int32
}

func topicsFromResponse(resp *kmsg.MetadataResponse) []Topic {
	out := make([]Topic, 0, len(resp.Topics))
	for _, t := range resp.Topics {
		topic := Topic{Name: t.Topic, Partitions: make(map[int32]PartitionMetadata, len(t.Partitions))}
		for _, p := range t.Partitions {
			topic.Partitions[p.Partition] = PartitionMetadata{
				Leader:   p.Leader,
				Replicas: p.Replicas,
				ISR:      p.IsrNodes,
			}
		}
		out = append(out, topic)
	}
	return out
}

// refreshMetadata is the bootstrap + ongoing discovery path described in
// spec.md §4.4: it iterates the seed list until one address answers a
// no-topic-filter Metadata request, then populates the topology from the
// reply. Every later metadata fetch (cached or not), including the
// refresh after a topic mutation, goes through RequestMetadata instead;
// this method is called only by NewClient, for the "before the connector
// is usable" bootstrap step.
func (cl *Client) refreshMetadata(ctx context.Context) error {
	resp, m, err := cl.bootstrapMetadata(ctx)
	if err != nil {
		return err
	}
	cl.applyMetadata(resp)

	// Keep the bootstrap connection as the arbitrary-broker slot rather
	// than dropping a perfectly good live messenger.
	cl.arbitraryMu.Lock()
	if cl.arbitrary == nil || cl.arbitrary.isDead() {
		cl.arbitrary = m
		cl.generation++
		cl.arbitraryMu.Unlock()
	} else {
		cl.arbitraryMu.Unlock()
		m.die()
	}
	return nil
}

// bootstrapMetadata dials down the seed list until one succeeds, per
// spec.md's end-to-end scenario 1 ("Bootstrap with stale address"). It
// does not touch the broker-id cache (no id is known for a seed yet); it
// only needs *a* live connection to ask Metadata.
func (cl *Client) bootstrapMetadata(ctx context.Context) (*kmsg.MetadataResponse, *messenger, error) {
	var lastErr error
	failedDials := 0
	for _, addr := range cl.cfg.seedAddrs {
		conn, err := cl.cfg.dialFn(ctx, "tcp", addr)
		if err != nil {
			failedDials++
			lastErr = err
			cl.cfg.logger.Log(LogLevelWarn, "unable to dial seed broker", "addr", addr, "err", err)
			continue
		}
		m := newMessenger(cl, addr, conn)
		if err := m.init(ctx); err != nil {
			failedDials++
			lastErr = err
			m.die()
			cl.cfg.logger.Log(LogLevelWarn, "seed broker init failed", "addr", addr, "err", err)
			continue
		}

		req := &kmsg.MetadataRequest{}
		req.SetVersion(kmsg.SupportedVersions[kmsg.Metadata].Max)
		raw, err := m.waitResp(ctx, req)
		if err != nil {
			failedDials++
			lastErr = err
			m.die()
			continue
		}
		resp := raw.(*kmsg.MetadataResponse)
		cl.cfg.logger.Log(LogLevelDebug, "bootstrap metadata succeeded", "addr", addr, "failed_dials", failedDials)
		return resp, m, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("kgo: no seed broker addresses configured")
	}
	return nil, nil, fmt.Errorf("kgo: unable to reach any seed broker: %w", lastErr)
}

// applyMetadata updates the topology (and, opportunistically, the
// arbitrary-broker slot) from a Metadata response.
func (cl *Client) applyMetadata(resp *kmsg.MetadataResponse) {
	brokers := make([]Broker, 0, len(resp.Brokers))
	for _, b := range resp.Brokers {
		brokers = append(brokers, Broker{ID: b.NodeID, Host: b.Host, Port: b.Port})
	}
	cl.topology.Update(brokers)
}

// connect resolves broker-id to a live messenger, per spec.md §4.4
// "connect by id." If id is unknown to the topology, the caller is
// expected to refresh-metadata and retry (ErrUnknownBroker signals this).
// Concurrent connects for the same id coalesce onto one dial.
func (cl *Client) connect(ctx context.Context, id int32) (*messenger, error) {
	b, ok := cl.topology.Get(id)
	if !ok {
		return nil, &ErrUnknownBroker{ID: id}
	}

	cl.connMu.Lock()
	if m, ok := cl.conns[id]; ok && !m.isDead() {
		cl.connMu.Unlock()
		return m, nil
	}
	if call, ok := cl.inflight[id]; ok {
		cl.connMu.Unlock()
		<-call.done
		return call.m, call.err
	}
	call := &connectCall{done: make(chan struct{})}
	cl.inflight[id] = call
	cl.connMu.Unlock()

	m, err := cl.dialBroker(ctx, b)

	cl.connMu.Lock()
	delete(cl.inflight, id)
	if err == nil {
		cl.conns[id] = m
	}
	cl.connMu.Unlock()

	call.m, call.err = m, err
	close(call.done)
	return m, err
}

func (cl *Client) dialBroker(ctx context.Context, b Broker) (*messenger, error) {
	addr := net.JoinHostPort(b.Host, strconv.Itoa(int(b.Port)))
	conn, err := cl.cfg.dialFn(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoDial, err)
	}
	m := newMessenger(cl, addr, conn)
	if err := m.init(ctx); err != nil {
		m.die()
		return nil, err
	}
	return m, nil
}

// get returns any live cached connection, preferring whichever last
// succeeded, along with its generation, per spec.md §4.4 "Arbitrary
// broker." If nothing is cached yet, it dials through the topology (or,
// if the topology is itself empty, re-bootstraps from the seed list).
func (cl *Client) get(ctx context.Context) (*messenger, int64, error) {
	cl.arbitraryMu.Lock()
	if cl.arbitrary != nil && !cl.arbitrary.isDead() {
		m, gen := cl.arbitrary, cl.generation
		cl.arbitraryMu.Unlock()
		return m, gen, nil
	}
	cl.arbitraryMu.Unlock()

	m, err := cl.dialAnyKnownBroker(ctx)
	if err != nil {
		return nil, 0, err
	}

	cl.arbitraryMu.Lock()
	cl.arbitrary = m
	cl.generation++
	gen := cl.generation
	cl.arbitraryMu.Unlock()
	return m, gen, nil
}

func (cl *Client) dialAnyKnownBroker(ctx context.Context) (*messenger, error) {
	brokers := cl.topology.List()
	var lastErr error
	for _, b := range brokers {
		m, err := cl.dialBroker(ctx, b)
		if err == nil {
			return m, nil
		}
		lastErr = err
	}
	// Topology empty or every known broker unreachable: fall back to the
	// seed list, same as initial bootstrap.
	_, m, err := cl.bootstrapMetadata(ctx)
	if err != nil {
		if lastErr != nil {
			return nil, fmt.Errorf("kgo: no broker reachable: %w (last: %w)", err, lastErr)
		}
		return nil, err
	}
	return m, nil
}

// invalidate evicts the cached arbitrary-broker connection if generation
// still matches the current one; a stale (older) generation is a no-op,
// per spec.md §3's cache-generation invariant and §4.4's Invalidate.
func (cl *Client) invalidate(reason string, generation int64) {
	cl.arbitraryMu.Lock()
	if generation != cl.generation {
		cl.arbitraryMu.Unlock()
		return
	}
	m := cl.arbitrary
	cl.arbitrary = nil
	cl.generation++
	cl.arbitraryMu.Unlock()

	if m != nil {
		cl.cfg.logger.Log(LogLevelDebug, "invalidating cached broker connection", "reason", reason, "generation", generation)
		m.die()
	}
}

// invalidateBrokerID drops a broker-id-keyed cached connection, used when
// a leader/coordinator lookup turns out stale (spec.md §4.7's leader-cache
// invalidation on NotLeaderOrFollower et al).
func (cl *Client) invalidateBrokerID(id int32) {
	cl.connMu.Lock()
	m := cl.conns[id]
	delete(cl.conns, id)
	cl.connMu.Unlock()
	if m != nil {
		m.die()
	}
}

// topicSetKey canonicalizes a topic list into a stable cache key,
// independent of caller-supplied ordering.
func topicSetKey(topics []string) string {
	if len(topics) == 0 {
		return ""
	}
	sorted := append([]string(nil), topics...)
	sort.Strings(sorted)
	key := sorted[0]
	for _, t := range sorted[1:] {
		key += "\x00" + t
	}
	return key
}
