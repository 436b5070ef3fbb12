package kgo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/kgocore/pkg/kerr"
	"github.com/twmb/kgocore/pkg/kmsg"
)

// RecordHandler receives one partition's freshly fetched records. The
// handler runs on that partition's worker; returning an error tears the
// whole session down and surfaces the error from Run.
type RecordHandler func(ctx context.Context, topic string, partition int32, records []FetchedRecord) error

// ConsumerGroupClient drives coordinator-side group membership for one
// (group, topic set): join, sync, heartbeat, offset commit, and leave,
// per spec.md §4.8's state machine. One session spans Unjoined through
// Stable; a rebalance or fence ends the session and Run establishes a new
// one.
type ConsumerGroupClient struct {
	cl     *Client
	group  string
	topics []string

	balancer GroupBalancer

	memberMu sync.Mutex
	memberID string

	coordMu  sync.Mutex
	coordID  int32
	coord    *messenger
	coordGen int64
}

func newConsumerGroupClient(cl *Client, group string, topics []string) (*ConsumerGroupClient, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("kgo: consumer group %q needs at least one topic", group)
	}
	b := cl.cfg.group.balancer
	if b == nil {
		b = RoundRobinBalancer()
	}
	return &ConsumerGroupClient{
		cl:       cl,
		group:    group,
		topics:   append([]string(nil), topics...),
		balancer: b,
		coordID:  unknownBrokerID,
	}, nil
}

// coordinator resolves and caches a connection to this group's
// coordinator broker. The cache carries its own generation so that
// NotCoordinator-style invalidation follows the same discipline as every
// other broker cache (spec.md §3).
func (g *ConsumerGroupClient) coordinator(ctx context.Context) (*messenger, int64, error) {
	g.coordMu.Lock()
	if g.coord != nil && !g.coord.isDead() {
		m, gen := g.coord, g.coordGen
		g.coordMu.Unlock()
		return m, gen, nil
	}
	g.coordMu.Unlock()

	id, err := (&ControllerClient{cl: g.cl}).FindCoordinator(ctx, g.group)
	if err != nil {
		return nil, 0, err
	}
	m, err := g.cl.connect(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	g.coordMu.Lock()
	g.coord = m
	g.coordID = id
	g.coordGen++
	gen := g.coordGen
	g.coordMu.Unlock()
	return m, gen, nil
}

func (g *ConsumerGroupClient) invalidateCoordinator(reason string, generation int64) {
	g.coordMu.Lock()
	if generation != g.coordGen {
		g.coordMu.Unlock()
		return
	}
	g.coord = nil
	g.coordID = unknownBrokerID
	g.coordGen++
	g.coordMu.Unlock()
	g.cl.cfg.logger.Log(LogLevelDebug, "invalidating cached group coordinator", "group", g.group, "reason", reason, "generation", generation)
}

func (g *ConsumerGroupClient) getMemberID() string {
	g.memberMu.Lock()
	defer g.memberMu.Unlock()
	return g.memberID
}

func (g *ConsumerGroupClient) setMemberID(id string) {
	g.memberMu.Lock()
	g.memberID = id
	g.memberMu.Unlock()
}

// clearMemberID forgets this member's coordinator-assigned id, forcing the
// next join to start from scratch. Called when the coordinator fences us
// out (UnknownMemberID, IllegalGeneration, FencedInstanceID).
func (g *ConsumerGroupClient) clearMemberID() {
	g.setMemberID("")
}

// isSessionFence reports whether err means this member's session is dead
// and its member id must be discarded before rejoining (spec.md §4.8's
// heartbeat-loop classification).
func isSessionFence(err error) bool {
	return errors.Is(err, kerr.UnknownMemberID) ||
		errors.Is(err, kerr.IllegalGeneration) ||
		errors.Is(err, kerr.FencedInstanceID)
}

// Run joins the group and consumes until ctx is cancelled or handler
// returns an error. Rebalances and fences are absorbed: the session is
// torn down and re-established, per spec.md §4.8. On graceful shutdown a
// best-effort LeaveGroup is sent.
func (g *ConsumerGroupClient) Run(ctx context.Context, handler RecordHandler) error {
	defer g.leave()

	backoff := g.cl.cfg.retryBackoffMin
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := g.runSession(ctx, handler)
		var he *handlerError
		switch {
		case err == nil:
			// Rebalance: rejoin immediately with the member id intact.
			backoff = g.cl.cfg.retryBackoffMin
		case ctx.Err() != nil:
			return ctx.Err()
		case isSessionFence(err):
			g.clearMemberID()
			g.cl.cfg.logger.Log(LogLevelInfo, "group session fenced, rejoining from scratch", "group", g.group, "err", err)
			backoff = g.cl.cfg.retryBackoffMin
		case errors.As(err, &he):
			return he.err
		default:
			g.cl.cfg.logger.Log(LogLevelWarn, "group session failed, retrying", "group", g.group, "err", err)
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff *= 2
			if max := g.cl.cfg.retryBackoffMax; max > 0 && backoff > max {
				backoff = max
			}
		}
	}
}

// handlerError marks an error returned by the caller's RecordHandler,
// which must end Run rather than be absorbed as a session failure.
type handlerError struct{ err error }

func (h *handlerError) Error() string { return h.err.Error() }
func (h *handlerError) Unwrap() error { return h.err }

// groupSession is one Joined-through-Stable incarnation of membership:
// a generation, an assignment, and the workers consuming it. All workers
// share cancel as the single teardown signal (spec.md §4.8, §5).
type groupSession struct {
	g *ConsumerGroupClient

	generation int32
	memberID   string
	assignment map[string][]int32

	// partitionCounts snapshots each subscribed topic's partition count
	// at join time; the surveillance loop compares against it.
	partitionCounts map[string]int32

	ctx    context.Context
	cancel context.CancelFunc

	offsets *offsetTracker

	errMu sync.Mutex
	err   error
}

// fail records the session's first fatal error and signals teardown.
func (s *groupSession) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.cancel()
}

func (s *groupSession) firstErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (g *ConsumerGroupClient) runSession(ctx context.Context, handler RecordHandler) error {
	sess, err := g.establish(ctx)
	if err != nil {
		return err
	}
	defer sess.cancel()

	log := g.cl.cfg.logger
	log.Log(LogLevelInfo, "group session established",
		"group", g.group, "member", sess.memberID, "generation", sess.generation, "assignment", fmt.Sprint(sess.assignment))

	committed, err := g.fetchCommittedOffsets(ctx, sess.assignment)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for topic, partitions := range sess.assignment {
		for _, partition := range partitions {
			topic, partition := topic, partition
			start := int64(-1)
			if m, ok := committed[topic]; ok {
				if o, ok := m[partition]; ok {
					start = o
				}
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				sess.consumePartition(handler, topic, partition, start)
			}()
		}
	}

	wg.Add(3)
	go func() { defer wg.Done(); sess.heartbeatLoop() }()
	go func() { defer wg.Done(); sess.commitLoop() }()
	go func() { defer wg.Done(); sess.surveilTopics() }()

	wg.Wait()

	// Final best-effort commit so a clean rebalance hands partitions off
	// with up-to-date offsets. The session ctx is already closed; use a
	// short detached deadline.
	commitCtx, commitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	sess.commitOnce(commitCtx)
	commitCancel()

	if err := sess.firstErr(); err != nil {
		return err
	}
	return nil
}

// establish walks Unjoined -> Joining -> Synced: JoinGroup (handling the
// coordinator's member-id-required dance), leader-side assignment, and
// SyncGroup's barrier, returning a session ready for its workers.
func (g *ConsumerGroupClient) establish(ctx context.Context) (*groupSession, error) {
	joinResp, err := g.joinGroup(ctx)
	if err != nil {
		return nil, err
	}
	g.setMemberID(joinResp.MemberID)

	var assignments []kmsg.SyncGroupRequestAssignment
	var counts map[string]int32
	if joinResp.IsLeader() {
		assignments, counts, err = g.leaderAssign(ctx, joinResp)
		if err != nil {
			return nil, err
		}
	} else {
		// Followers still need the partition counts for surveillance.
		counts, err = g.partitionCounts(ctx)
		if err != nil {
			return nil, err
		}
	}

	myAssignment, err := g.syncGroup(ctx, joinResp, assignments)
	if err != nil {
		return nil, err
	}

	sessCtx, cancel := context.WithCancel(ctx)
	return &groupSession{
		g:               g,
		generation:      joinResp.GenerationID,
		memberID:        joinResp.MemberID,
		assignment:      myAssignment,
		partitionCounts: counts,
		ctx:             sessCtx,
		cancel:          cancel,
		offsets:         newOffsetTracker(),
	}, nil
}

func (g *ConsumerGroupClient) joinGroup(ctx context.Context) (*kmsg.JoinGroupResponse, error) {
	meta := kmsg.ConsumerMemberMetadata{Topics: g.topics}
	metaBytes := meta.AppendTo(nil)

	gc := g.cl.cfg.group
	for {
		resp, err := Retry(ctx, g.cl.retryPolicy(), g.invalidateCoordinator, func(ctx context.Context) Attempt[*kmsg.JoinGroupResponse] {
			m, gen, err := g.coordinator(ctx)
			if err != nil {
				return Attempt[*kmsg.JoinGroupResponse]{Generation: gen, Err: err}
			}

			req := &kmsg.JoinGroupRequest{
				Group:                  g.group,
				SessionTimeoutMillis:   int32(gc.sessionTimeout / time.Millisecond),
				RebalanceTimeoutMillis: int32(gc.rebalanceTimeout / time.Millisecond),
				MemberID:               g.getMemberID(),
				GroupInstanceID:        gc.instanceID,
				ProtocolType:           "consumer",
				Protocols: []kmsg.JoinGroupRequestProtocol{{
					Name:     g.balancer.Name(),
					Metadata: metaBytes,
				}},
			}
			req.SetVersion(kmsg.SupportedVersions[kmsg.JoinGroup].Max)

			raw, err := m.waitResp(ctx, req)
			if err != nil {
				return Attempt[*kmsg.JoinGroupResponse]{Generation: gen, Err: err}
			}
			resp := raw.(*kmsg.JoinGroupResponse)
			if err := kerr.ErrorForCode(resp.ErrorCode); err != nil {
				// MemberIDRequired still carries our assigned id; surface
				// the response so the outer loop can adopt it and rejoin.
				if errors.Is(err, kerr.MemberIDRequired) {
					return Attempt[*kmsg.JoinGroupResponse]{Value: resp}
				}
				return Attempt[*kmsg.JoinGroupResponse]{Generation: gen, Err: err}
			}
			return Attempt[*kmsg.JoinGroupResponse]{Value: resp}
		})
		if err != nil {
			if errors.Is(err, kerr.CoordinatorLoadInProgress) {
				if !sleepCtx(ctx, g.cl.cfg.retryBackoffMin) {
					return nil, ctx.Err()
				}
				continue
			}
			return nil, err
		}
		if resp.ErrorCode != 0 {
			// Only MemberIDRequired reaches here with a non-zero code.
			g.setMemberID(resp.MemberID)
			g.cl.cfg.logger.Log(LogLevelDebug, "coordinator assigned member id, rejoining", "group", g.group, "member", resp.MemberID)
			continue
		}
		return resp, nil
	}
}

// leaderAssign decodes every member's subscription, snapshots partition
// counts for the union of subscribed topics, and runs the balancer
// (spec.md §4.8 item 2: non-leaders skip this entirely).
func (g *ConsumerGroupClient) leaderAssign(ctx context.Context, joinResp *kmsg.JoinGroupResponse) ([]kmsg.SyncGroupRequestAssignment, map[string]int32, error) {
	members := make([]GroupMemberSubscription, 0, len(joinResp.Members))
	topicSet := make(map[string]bool)
	for _, m := range joinResp.Members {
		var meta kmsg.ConsumerMemberMetadata
		if err := meta.ReadFrom(m.Metadata); err != nil {
			return nil, nil, fmt.Errorf("kgo: member %q sent undecodable subscription metadata: %w", m.MemberID, err)
		}
		members = append(members, GroupMemberSubscription{MemberID: m.MemberID, Topics: meta.Topics})
		for _, t := range meta.Topics {
			topicSet[t] = true
		}
	}

	topics := make([]string, 0, len(topicSet))
	for t := range topicSet {
		topics = append(topics, t)
	}
	counts, err := g.partitionCountsFor(ctx, topics)
	if err != nil {
		return nil, nil, err
	}

	plan := g.balancer.Balance(members, counts)

	out := make([]kmsg.SyncGroupRequestAssignment, 0, len(plan))
	for memberID, byTopic := range plan {
		assignment := kmsg.ConsumerMemberAssignment{}
		for topic, partitions := range byTopic {
			assignment.Topics = append(assignment.Topics, kmsg.ConsumerMemberAssignmentTopic{
				Topic:      topic,
				Partitions: partitions,
			})
		}
		out = append(out, kmsg.SyncGroupRequestAssignment{
			MemberID:   memberID,
			Assignment: assignment.AppendTo(nil),
		})
	}
	return out, counts, nil
}

func (g *ConsumerGroupClient) partitionCounts(ctx context.Context) (map[string]int32, error) {
	return g.partitionCountsFor(ctx, g.topics)
}

func (g *ConsumerGroupClient) partitionCountsFor(ctx context.Context, topics []string) (map[string]int32, error) {
	resp, _, err := g.cl.RequestMetadata(ctx, MetadataModeArbitraryBroker, topics)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int32, len(topics))
	for _, t := range resp.Topics {
		if err := kerr.ErrorForCode(t.ErrorCode); err != nil {
			return nil, fmt.Errorf("kgo: metadata for subscribed topic %q: %w", t.Topic, err)
		}
		counts[t.Topic] = int32(len(t.Partitions))
	}
	return counts, nil
}

// syncGroup submits the leader's plan (or nothing, as a follower) and
// blocks on the coordinator's barrier until this member's slice of the
// assignment comes back (spec.md §4.8 item 3).
func (g *ConsumerGroupClient) syncGroup(ctx context.Context, joinResp *kmsg.JoinGroupResponse, assignments []kmsg.SyncGroupRequestAssignment) (map[string][]int32, error) {
	return Retry(ctx, g.cl.retryPolicy(), g.invalidateCoordinator, func(ctx context.Context) Attempt[map[string][]int32] {
		m, gen, err := g.coordinator(ctx)
		if err != nil {
			return Attempt[map[string][]int32]{Generation: gen, Err: err}
		}

		req := &kmsg.SyncGroupRequest{
			Group:           g.group,
			GenerationID:    joinResp.GenerationID,
			MemberID:        joinResp.MemberID,
			GroupInstanceID: g.cl.cfg.group.instanceID,
			ProtocolType:    joinResp.ProtocolType,
			ProtocolName:    joinResp.ProtocolName,
			Assignments:     assignments,
		}
		req.SetVersion(kmsg.SupportedVersions[kmsg.SyncGroup].Max)

		raw, err := m.waitResp(ctx, req)
		if err != nil {
			return Attempt[map[string][]int32]{Generation: gen, Err: err}
		}
		resp := raw.(*kmsg.SyncGroupResponse)
		if err := kerr.ErrorForCode(resp.ErrorCode); err != nil {
			return Attempt[map[string][]int32]{Generation: gen, Err: err}
		}

		var assignment kmsg.ConsumerMemberAssignment
		if err := assignment.ReadFrom(resp.Assignment); err != nil {
			return Attempt[map[string][]int32]{Generation: gen, Err: fmt.Errorf("kgo: undecodable sync assignment: %w", err)}
		}
		out := make(map[string][]int32, len(assignment.Topics))
		for _, t := range assignment.Topics {
			out[t.Topic] = t.Partitions
		}
		return Attempt[map[string][]int32]{Value: out}
	})
}

// fetchCommittedOffsets asks the coordinator for the group's committed
// offsets of every assigned partition. Offset -1 means no commit exists.
func (g *ConsumerGroupClient) fetchCommittedOffsets(ctx context.Context, assignment map[string][]int32) (map[string]map[int32]int64, error) {
	if len(assignment) == 0 {
		return nil, nil
	}
	return Retry(ctx, g.cl.retryPolicy(), g.invalidateCoordinator, func(ctx context.Context) Attempt[map[string]map[int32]int64] {
		m, gen, err := g.coordinator(ctx)
		if err != nil {
			return Attempt[map[string]map[int32]int64]{Generation: gen, Err: err}
		}

		req := &kmsg.OffsetFetchRequest{Group: g.group}
		for topic, partitions := range assignment {
			req.Topics = append(req.Topics, kmsg.OffsetFetchRequestTopic{
				Topic:      topic,
				Partitions: partitions,
			})
		}
		req.SetVersion(kmsg.SupportedVersions[kmsg.OffsetFetch].Max)

		raw, err := m.waitResp(ctx, req)
		if err != nil {
			return Attempt[map[string]map[int32]int64]{Generation: gen, Err: err}
		}
		resp := raw.(*kmsg.OffsetFetchResponse)
		if err := kerr.ErrorForCode(resp.ErrorCode); err != nil {
			return Attempt[map[string]map[int32]int64]{Generation: gen, Err: err}
		}

		out := make(map[string]map[int32]int64, len(resp.Topics))
		for _, t := range resp.Topics {
			byPartition := make(map[int32]int64, len(t.Partitions))
			for _, p := range t.Partitions {
				if err := kerr.ErrorForCode(p.ErrorCode); err != nil {
					return Attempt[map[string]map[int32]int64]{Generation: gen, Err: fmt.Errorf("kgo: offset fetch %s/%d: %w", t.Topic, p.Partition, err)}
				}
				byPartition[p.Partition] = p.Offset
			}
			out[t.Topic] = byPartition
		}
		return Attempt[map[string]map[int32]int64]{Value: out}
	})
}

// resolveStartOffset picks where a worker begins fetching given the
// group's committed offset (-1 if none) and the partition's current
// earliest offset: max(committed, earliest), defending against
// retention-driven truncation between commit and resume (spec.md §4.8).
func resolveStartOffset(committed, earliest int64) int64 {
	if committed < earliest {
		return earliest
	}
	return committed
}

// consumePartition is one assigned partition's worker: resolve the start
// offset, then fetch until the session's shared signal closes, publishing
// the advancing next-to-commit offset for the commit loop.
func (s *groupSession) consumePartition(handler RecordHandler, topic string, partition int32, committed int64) {
	g := s.g
	pc, err := g.cl.Partition(s.ctx, topic, partition, UnknownTopicHandlingRetry)
	if err != nil {
		if s.ctx.Err() == nil {
			s.fail(err)
		}
		return
	}

	offset, err := s.startOffset(pc, committed)
	if err != nil {
		if s.ctx.Err() == nil {
			s.fail(err)
		}
		return
	}

	for s.ctx.Err() == nil {
		res, err := pc.FetchRecords(s.ctx, offset, 50<<20, time.Second)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, kerr.OffsetOutOfRange) {
				// The log was truncated under us; snap forward to the
				// new earliest rather than dying.
				earliest, gerr := pc.GetOffset(s.ctx, kmsg.ListOffsetsEarliest)
				if gerr == nil {
					offset = earliest
					continue
				}
				err = gerr
			}
			s.fail(err)
			return
		}
		if len(res.Records) > 0 {
			if herr := handler(s.ctx, topic, partition, res.Records); herr != nil {
				s.fail(&handlerError{err: herr})
				return
			}
		}
		offset = res.NextOffset
		s.offsets.advance(topic, partition, offset)
	}
}

func (s *groupSession) startOffset(pc *PartitionClient, committed int64) (int64, error) {
	switch s.g.cl.cfg.group.startOffset {
	case startOffsetEarliest:
		return pc.GetOffset(s.ctx, kmsg.ListOffsetsEarliest)
	case startOffsetLatest:
		return pc.GetOffset(s.ctx, kmsg.ListOffsetsLatest)
	}
	if committed < 0 {
		return pc.GetOffset(s.ctx, kmsg.ListOffsetsLatest)
	}
	earliest, err := pc.GetOffset(s.ctx, kmsg.ListOffsetsEarliest)
	if err != nil {
		return 0, err
	}
	return resolveStartOffset(committed, earliest), nil
}

// heartbeatLoop keeps the coordinator convinced this member is alive, at
// an interval strictly under the session timeout. RebalanceInProgress
// ends the session cleanly (rejoin with the same member id); fences end
// it fatally for this incarnation (spec.md §4.8 item 4).
func (s *groupSession) heartbeatLoop() {
	gc := s.g.cl.cfg.group
	interval := gc.heartbeatEvery
	if maxInterval := gc.sessionTimeout / 3; interval <= 0 || interval > maxInterval {
		interval = maxInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		err := s.heartbeatOnce()
		switch {
		case err == nil:
		case errors.Is(err, kerr.RebalanceInProgress):
			s.g.cl.cfg.logger.Log(LogLevelInfo, "group rebalancing, ending session", "group", s.g.group, "member", s.memberID)
			s.cancel()
			return
		case isSessionFence(err):
			s.fail(err)
			return
		default:
			// Transport failure or coordinator movement: the session
			// cannot prove it is alive, so treat it as lost.
			s.fail(err)
			return
		}
	}
}

func (s *groupSession) heartbeatOnce() error {
	m, gen, err := s.g.coordinator(s.ctx)
	if err != nil {
		return err
	}
	req := &kmsg.HeartbeatRequest{
		Group:           s.g.group,
		GenerationID:    s.generation,
		MemberID:        s.memberID,
		GroupInstanceID: s.g.cl.cfg.group.instanceID,
	}
	req.SetVersion(kmsg.SupportedVersions[kmsg.Heartbeat].Max)
	raw, err := m.waitResp(s.ctx, req)
	if err != nil {
		s.g.invalidateCoordinator("heartbeat transport failure", gen)
		return err
	}
	resp := raw.(*kmsg.HeartbeatResponse)
	return kerr.ErrorForCode(resp.ErrorCode)
}

// commitLoop periodically flushes consumed-through offsets. Commit
// failures do not end the session; they surface in the log and the same
// offsets are retried next cycle (spec.md §4.8 item 5).
func (s *groupSession) commitLoop() {
	interval := s.g.cl.cfg.group.commitEvery
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		s.commitOnce(s.ctx)
	}
}

func (s *groupSession) commitOnce(ctx context.Context) {
	topics := s.offsets.uncommitted()
	if len(topics) == 0 {
		return
	}

	m, gen, err := s.g.coordinator(ctx)
	if err != nil {
		s.g.cl.cfg.logger.Log(LogLevelWarn, "offset commit skipped, no coordinator", "group", s.g.group, "err", err)
		return
	}

	req := &kmsg.OffsetCommitRequest{
		Group:           s.g.group,
		GenerationID:    s.generation,
		MemberID:        s.memberID,
		GroupInstanceID: s.g.cl.cfg.group.instanceID,
		RetentionMillis: -1,
		Topics:          topics,
	}
	req.SetVersion(kmsg.SupportedVersions[kmsg.OffsetCommit].Max)

	raw, err := m.waitResp(ctx, req)
	if err != nil {
		s.g.invalidateCoordinator("offset commit transport failure", gen)
		s.g.cl.cfg.logger.Log(LogLevelWarn, "offset commit failed", "group", s.g.group, "err", err)
		return
	}
	resp := raw.(*kmsg.OffsetCommitResponse)
	for _, t := range resp.Topics {
		for _, p := range t.Partitions {
			if err := kerr.ErrorForCode(p.ErrorCode); err != nil {
				// Commit failures never terminate the session — not even
				// fences or an in-progress rebalance. The heartbeat loop
				// is the authority on membership; here the rejection is
				// surfaced and the same offsets retry next cycle.
				s.g.cl.cfg.logger.Log(LogLevelWarn, "offset commit rejected", "group", s.g.group, "topic", t.Topic, "partition", p.Partition, "err", err)
				continue
			}
			s.offsets.markCommitted(t.Topic, p.Partition)
		}
	}
}

// surveilTopics periodically re-lists the subscribed topics' partition
// counts and triggers a rebalance (by ending this session) when the set
// changes, per spec.md §4.8's topic-set surveillance.
func (s *groupSession) surveilTopics() {
	interval := s.g.cl.cfg.group.surveilEvery
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		counts, err := s.g.partitionCounts(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.g.cl.cfg.logger.Log(LogLevelWarn, "topic surveillance failed", "group", s.g.group, "err", err)
			continue
		}
		if !samePartitionCounts(counts, s.partitionCounts) {
			s.g.cl.cfg.logger.Log(LogLevelInfo, "subscribed topic layout changed, triggering rebalance", "group", s.g.group)
			s.cancel()
			return
		}
	}
}

func samePartitionCounts(a, b map[string]int32) bool {
	if len(a) != len(b) {
		return false
	}
	for t, n := range a {
		if b[t] != n {
			return false
		}
	}
	return true
}

// leave sends a best-effort LeaveGroup on graceful shutdown. Failures are
// logged, not retried: the coordinator times the member out anyway once
// heartbeats stop.
func (g *ConsumerGroupClient) leave() {
	memberID := g.getMemberID()
	if memberID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m, _, err := g.coordinator(ctx)
	if err != nil {
		g.cl.cfg.logger.Log(LogLevelWarn, "leave group skipped, no coordinator", "group", g.group, "err", err)
		return
	}

	req := &kmsg.LeaveGroupRequest{
		Group:    g.group,
		MemberID: memberID,
		Members: []kmsg.LeaveGroupRequestMember{{
			MemberID:        memberID,
			GroupInstanceID: g.cl.cfg.group.instanceID,
		}},
	}
	req.SetVersion(kmsg.SupportedVersions[kmsg.LeaveGroup].Max)

	if _, err := m.waitResp(ctx, req); err != nil {
		g.cl.cfg.logger.Log(LogLevelWarn, "leave group failed", "group", g.group, "err", err)
		return
	}
	g.clearMemberID()
}

// offsetTracker is the shared structure the partition workers publish
// their monotonically advancing next-to-commit offsets into, read by the
// commit loop (spec.md §4.8 "Concurrency of a session").
type offsetTracker struct {
	mu        sync.Mutex
	next      map[string]map[int32]int64
	committed map[string]map[int32]int64
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{
		next:      make(map[string]map[int32]int64),
		committed: make(map[string]map[int32]int64),
	}
}

// advance publishes that everything below next on (topic, partition) has
// been handled. Offsets only move forward.
func (t *offsetTracker) advance(topic string, partition int32, next int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byPartition := t.next[topic]
	if byPartition == nil {
		byPartition = make(map[int32]int64)
		t.next[topic] = byPartition
	}
	if cur, ok := byPartition[partition]; !ok || next > cur {
		byPartition[partition] = next
	}
}

// uncommitted returns the partitions whose published offset is ahead of
// the last acknowledged commit, shaped for an OffsetCommitRequest.
func (t *offsetTracker) uncommitted() []kmsg.OffsetCommitRequestTopic {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []kmsg.OffsetCommitRequestTopic
	for topic, byPartition := range t.next {
		var partitions []kmsg.OffsetCommitRequestPartition
		for partition, next := range byPartition {
			if c, ok := t.committed[topic][partition]; ok && c >= next {
				continue
			}
			partitions = append(partitions, kmsg.OffsetCommitRequestPartition{
				Partition:            partition,
				Offset:               next,
				CommittedLeaderEpoch: -1,
			})
		}
		if len(partitions) > 0 {
			out = append(out, kmsg.OffsetCommitRequestTopic{Topic: topic, Partitions: partitions})
		}
	}
	return out
}

// markCommitted records that (topic, partition)'s published offset was
// acknowledged by the coordinator.
func (t *offsetTracker) markCommitted(topic string, partition int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next, ok := t.next[topic][partition]
	if !ok {
		return
	}
	byPartition := t.committed[topic]
	if byPartition == nil {
		byPartition = make(map[int32]int64)
		t.committed[topic] = byPartition
	}
	byPartition[partition] = next
}
