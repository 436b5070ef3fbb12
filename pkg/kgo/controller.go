package kgo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/kgocore/pkg/kerr"
	"github.com/twmb/kgocore/pkg/kmsg"
)

// ControllerClient groups the cluster-scoped operations that must be
// routed to the controller broker, a group's coordinator, or fanned out
// across every broker, per spec.md §4.6.
type ControllerClient struct {
	cl *Client
}

// controller resolves and caches the current controller broker's
// messenger. Discovery is an uncached Metadata request; spec.md §4.6 notes
// this deliberately reuses the broker connector's metadata path rather
// than a dedicated request type.
func (c *ControllerClient) controller(ctx context.Context) (*messenger, int64, error) {
	cl := c.cl

	cl.controllerMu.Lock()
	if cl.controller != nil && !cl.controller.isDead() {
		m, gen := cl.controller, cl.controllerGen
		cl.controllerMu.Unlock()
		return m, gen, nil
	}
	cl.controllerMu.Unlock()

	resp, _, err := cl.RequestMetadata(ctx, MetadataModeArbitraryBroker, nil)
	if err != nil {
		return nil, 0, err
	}
	if resp.ControllerID < 0 {
		return nil, 0, fmt.Errorf("kgo: cluster reports no controller")
	}

	m, err := cl.connect(ctx, resp.ControllerID)
	if err != nil {
		return nil, 0, err
	}

	cl.controllerMu.Lock()
	cl.controller = m
	cl.controllerID = resp.ControllerID
	cl.controllerGen++
	gen := cl.controllerGen
	cl.controllerMu.Unlock()
	return m, gen, nil
}

// invalidateController drops the cached controller connection if
// generation is still current, so the next call rediscovers it (spec.md
// §3's generation-gated invalidation, applied to the controller cache the
// same way it's applied to the arbitrary-broker cache).
func (cl *Client) invalidateController(reason string, generation int64) {
	cl.controllerMu.Lock()
	if generation != cl.controllerGen {
		cl.controllerMu.Unlock()
		return
	}
	m := cl.controller
	cl.controller = nil
	cl.controllerID = unknownBrokerID
	cl.controllerGen++
	cl.controllerMu.Unlock()
	if m != nil {
		cl.cfg.logger.Log(LogLevelDebug, "invalidating cached controller connection", "reason", reason, "generation", generation)
	}
}

func (cl *Client) requestTimeoutMillis() int32 {
	return int32(cl.cfg.requestTimeout / time.Millisecond)
}

// TopicSpec describes one topic to create via CreateTopics.
type TopicSpec struct {
	Topic             string
	NumPartitions     int32
	ReplicationFactor int16
	Configs           map[string]string
}

// CreateTopics creates the given topics on the controller broker, per
// spec.md §4.6.
func (c *ControllerClient) CreateTopics(ctx context.Context, specs ...TopicSpec) error {
	policy := c.cl.retryPolicy()
	_, err := Retry(ctx, policy, c.cl.invalidateController, func(ctx context.Context) Attempt[struct{}] {
		m, gen, err := c.controller(ctx)
		if err != nil {
			return Attempt[struct{}]{Generation: gen, Err: err}
		}

		req := &kmsg.CreateTopicsRequest{TimeoutMillis: c.cl.requestTimeoutMillis()}
		for _, s := range specs {
			t := kmsg.CreateTopicsRequestTopic{
				Topic:             s.Topic,
				NumPartitions:     s.NumPartitions,
				ReplicationFactor: s.ReplicationFactor,
			}
			for name, value := range s.Configs {
				value := value
				t.Configs = append(t.Configs, kmsg.CreateTopicsRequestConfig{Name: name, Value: &value})
			}
			req.Topics = append(req.Topics, t)
		}
		req.SetVersion(kmsg.SupportedVersions[kmsg.CreateTopics].Max)

		raw, err := m.waitResp(ctx, req)
		if err != nil {
			return Attempt[struct{}]{Generation: gen, Err: err}
		}
		resp := raw.(*kmsg.CreateTopicsResponse)
		for _, t := range resp.Topics {
			if err := kerr.ErrorForCode(t.ErrorCode); err != nil {
				return Attempt[struct{}]{Generation: gen, Err: fmt.Errorf("create topic %q: %w", t.Topic, err)}
			}
		}
		return Attempt[struct{}]{}
	})
	if err == nil {
		c.cl.refreshAfterTopicMutation(ctx)
	}
	return err
}

// refreshAfterTopicMutation opportunistically refetches cluster metadata
// after a topic create/delete succeeds so a follow-up list reflects the
// change (spec.md §4.4). Best effort: a failure only means the next read
// repopulates the cache itself.
func (cl *Client) refreshAfterTopicMutation(ctx context.Context) {
	if _, _, err := cl.RequestMetadata(ctx, MetadataModeArbitraryBroker, nil); err != nil {
		cl.cfg.logger.Log(LogLevelDebug, "post-mutation metadata refresh failed", "err", err)
	}
}

// DeleteTopics deletes the named topics via the controller broker, per
// spec.md §4.6.
func (c *ControllerClient) DeleteTopics(ctx context.Context, topics ...string) error {
	policy := c.cl.retryPolicy()
	_, err := Retry(ctx, policy, c.cl.invalidateController, func(ctx context.Context) Attempt[struct{}] {
		m, gen, err := c.controller(ctx)
		if err != nil {
			return Attempt[struct{}]{Generation: gen, Err: err}
		}

		req := &kmsg.DeleteTopicsRequest{Topics: topics, TimeoutMillis: c.cl.requestTimeoutMillis()}
		req.SetVersion(kmsg.SupportedVersions[kmsg.DeleteTopics].Max)

		raw, err := m.waitResp(ctx, req)
		if err != nil {
			return Attempt[struct{}]{Generation: gen, Err: err}
		}
		resp := raw.(*kmsg.DeleteTopicsResponse)
		for _, t := range resp.Topics {
			if err := kerr.ErrorForCode(t.ErrorCode); err != nil {
				return Attempt[struct{}]{Generation: gen, Err: fmt.Errorf("delete topic %q: %w", t.Topic, err)}
			}
		}
		return Attempt[struct{}]{}
	})
	if err == nil {
		c.cl.refreshAfterTopicMutation(ctx)
	}
	return err
}

// GroupListing is one group entry returned by ListGroups.
type GroupListing struct {
	Broker       int32
	Group        string
	ProtocolType string
	State        string
}

// ListGroups fans a ListGroups request out across every broker currently
// in the topology cache, in parallel, and unions the results. A failure
// talking to any one broker is logged and excluded rather than failing
// the whole call, per spec.md §4.6's "best-effort cluster-wide listing."
func (c *ControllerClient) ListGroups(ctx context.Context) ([]GroupListing, error) {
	cl := c.cl
	brokers := cl.topology.List()
	if len(brokers) == 0 {
		if _, _, err := cl.RequestMetadata(ctx, MetadataModeArbitraryBroker, nil); err != nil {
			return nil, err
		}
		brokers = cl.topology.List()
	}

	type result struct {
		listings []GroupListing
		err      error
		brokerID int32
	}
	results := make(chan result, len(brokers))
	var wg sync.WaitGroup
	for _, b := range brokers {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			listings, err := c.listGroupsOnBroker(ctx, b.ID)
			results <- result{listings, err, b.ID}
		}()
	}
	go func() { wg.Wait(); close(results) }()

	var out []GroupListing
	for r := range results {
		if r.err != nil {
			cl.cfg.logger.Log(LogLevelWarn, "list groups failed on broker", "broker", r.brokerID, "err", r.err)
			continue
		}
		out = append(out, r.listings...)
	}
	return out, nil
}

func (c *ControllerClient) listGroupsOnBroker(ctx context.Context, brokerID int32) ([]GroupListing, error) {
	m, err := c.cl.connect(ctx, brokerID)
	if err != nil {
		return nil, err
	}
	req := &kmsg.ListGroupsRequest{}
	req.SetVersion(kmsg.SupportedVersions[kmsg.ListGroups].Max)
	raw, err := m.waitResp(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := raw.(*kmsg.ListGroupsResponse)
	if err := kerr.ErrorForCode(resp.ErrorCode); err != nil {
		return nil, err
	}
	out := make([]GroupListing, len(resp.Groups))
	for i, g := range resp.Groups {
		out[i] = GroupListing{Broker: brokerID, Group: g.Group, ProtocolType: g.ProtocolType, State: g.GroupState}
	}
	return out, nil
}

// GroupMember is one member's bookkeeping within a described group.
type GroupMember struct {
	MemberID        string
	GroupInstanceID *string
	ClientID        string
	ClientHost      string
	Metadata        []byte
	Assignment      []byte
}

// GroupDescription is a group's state and membership, per
// DescribeGroups.
type GroupDescription struct {
	Group        string
	State        string
	ProtocolType string
	Protocol     string
	Members      []GroupMember
}

// DescribeGroups describes the named groups, routing through each group's
// coordinator and batching groups that share a coordinator into a single
// request. Variadic per SPEC_FULL.md §12's supplement over the
// distilled spec's single-group description.
func (c *ControllerClient) DescribeGroups(ctx context.Context, groups ...string) ([]GroupDescription, error) {
	byCoord := make(map[int32][]string)
	for _, g := range groups {
		coordID, err := c.FindCoordinator(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("find coordinator for group %q: %w", g, err)
		}
		byCoord[coordID] = append(byCoord[coordID], g)
	}

	var out []GroupDescription
	for coordID, gs := range byCoord {
		m, err := c.cl.connect(ctx, coordID)
		if err != nil {
			return nil, err
		}
		req := &kmsg.DescribeGroupsRequest{Groups: gs}
		req.SetVersion(kmsg.SupportedVersions[kmsg.DescribeGroups].Max)
		raw, err := m.waitResp(ctx, req)
		if err != nil {
			return nil, err
		}
		resp := raw.(*kmsg.DescribeGroupsResponse)
		for _, g := range resp.Groups {
			if err := kerr.ErrorForCode(g.ErrorCode); err != nil {
				return nil, fmt.Errorf("describe group %q: %w", g.Group, err)
			}
			desc := GroupDescription{Group: g.Group, State: g.State, ProtocolType: g.ProtocolType, Protocol: g.Protocol}
			for _, gm := range g.Members {
				desc.Members = append(desc.Members, GroupMember{
					MemberID:        gm.MemberID,
					GroupInstanceID: gm.GroupInstanceID,
					ClientID:        gm.ClientID,
					ClientHost:      gm.ClientHost,
					Metadata:        gm.MemberMetadata,
					Assignment:      gm.MemberAssignment,
				})
			}
			out = append(out, desc)
		}
	}
	return out, nil
}

// DeleteGroups deletes the named (empty) groups, routing through each
// group's coordinator.
func (c *ControllerClient) DeleteGroups(ctx context.Context, groups ...string) error {
	byCoord := make(map[int32][]string)
	for _, g := range groups {
		coordID, err := c.FindCoordinator(ctx, g)
		if err != nil {
			return fmt.Errorf("find coordinator for group %q: %w", g, err)
		}
		byCoord[coordID] = append(byCoord[coordID], g)
	}

	for coordID, gs := range byCoord {
		m, err := c.cl.connect(ctx, coordID)
		if err != nil {
			return err
		}
		req := &kmsg.DeleteGroupsRequest{Groups: gs}
		req.SetVersion(kmsg.SupportedVersions[kmsg.DeleteGroups].Max)
		raw, err := m.waitResp(ctx, req)
		if err != nil {
			return err
		}
		resp := raw.(*kmsg.DeleteGroupsResponse)
		for _, g := range resp.Groups {
			if err := kerr.ErrorForCode(g.ErrorCode); err != nil {
				return fmt.Errorf("delete group %q: %w", g.Group, err)
			}
		}
	}
	return nil
}

// CommittedOffset is one partition's server-side committed offset for a
// group; Offset -1 means no commit exists.
type CommittedOffset struct {
	Topic     string
	Partition int32
	Offset    int64
	Metadata  *string
}

// FetchOffsets reads a group's committed offsets for the named partitions
// (a topic with nil partitions is sent with an empty partition list, not
// as a request for all of its partitions), routed through the group's
// coordinator, per spec.md §4.6.
func (c *ControllerClient) FetchOffsets(ctx context.Context, group string, topics map[string][]int32) ([]CommittedOffset, error) {
	coordID, err := c.FindCoordinator(ctx, group)
	if err != nil {
		return nil, err
	}
	m, err := c.cl.connect(ctx, coordID)
	if err != nil {
		return nil, err
	}

	req := &kmsg.OffsetFetchRequest{Group: group}
	for topic, partitions := range topics {
		req.Topics = append(req.Topics, kmsg.OffsetFetchRequestTopic{Topic: topic, Partitions: partitions})
	}
	req.SetVersion(kmsg.SupportedVersions[kmsg.OffsetFetch].Max)

	raw, err := m.waitResp(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := raw.(*kmsg.OffsetFetchResponse)
	if err := kerr.ErrorForCode(resp.ErrorCode); err != nil {
		return nil, err
	}
	var out []CommittedOffset
	for _, t := range resp.Topics {
		for _, p := range t.Partitions {
			if err := kerr.ErrorForCode(p.ErrorCode); err != nil {
				return nil, fmt.Errorf("offset fetch %s/%d: %w", t.Topic, p.Partition, err)
			}
			out = append(out, CommittedOffset{
				Topic:     t.Topic,
				Partition: p.Partition,
				Offset:    p.Offset,
				Metadata:  p.Metadata,
			})
		}
	}
	return out, nil
}

// FindCoordinator locates the coordinator broker for a consumer group,
// registers it in the topology cache, and returns its broker id.
func (c *ControllerClient) FindCoordinator(ctx context.Context, group string) (int32, error) {
	m, _, err := c.cl.get(ctx)
	if err != nil {
		return 0, err
	}
	req := &kmsg.FindCoordinatorRequest{CoordinatorKey: group, CoordinatorType: kmsg.CoordinatorKeyGroup}
	req.SetVersion(kmsg.SupportedVersions[kmsg.FindCoordinator].Max)
	raw, err := m.waitResp(ctx, req)
	if err != nil {
		return 0, err
	}
	resp := raw.(*kmsg.FindCoordinatorResponse)
	if err := kerr.ErrorForCode(resp.ErrorCode); err != nil {
		return 0, err
	}
	c.cl.topology.Update([]Broker{{ID: resp.NodeID, Host: resp.Host, Port: resp.Port}})
	return resp.NodeID, nil
}
