package kgo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/twmb/kgocore/pkg/kerr"
)

// checkAssignmentComplete verifies the core balancer property: every
// partition of every topic is claimed by exactly one member.
func checkAssignmentComplete(t *testing.T, plan map[string]map[string][]int32, topicPartitions map[string]int32) {
	t.Helper()
	claimed := make(map[string]map[int32]string)
	for member, byTopic := range plan {
		for topic, partitions := range byTopic {
			for _, p := range partitions {
				if prev, ok := claimed[topic][p]; ok {
					t.Fatalf("%s/%d claimed by both %s and %s", topic, p, prev, member)
				}
				if claimed[topic] == nil {
					claimed[topic] = make(map[int32]string)
				}
				claimed[topic][p] = member
			}
		}
	}
	for topic, n := range topicPartitions {
		for p := int32(0); p < n; p++ {
			if _, ok := claimed[topic][p]; !ok {
				t.Fatalf("%s/%d unclaimed", topic, p)
			}
		}
	}
}

func membersAll(n int, topics ...string) []GroupMemberSubscription {
	out := make([]GroupMemberSubscription, n)
	for i := range out {
		out[i] = GroupMemberSubscription{MemberID: fmt.Sprintf("m-%02d", i), Topics: topics}
	}
	return out
}

func TestRoundRobinBalancerCoversEveryPartition(t *testing.T) {
	topicPartitions := map[string]int32{"a": 5, "b": 3, "c": 1}
	members := membersAll(3, "a", "b", "c")

	plan := RoundRobinBalancer().Balance(members, topicPartitions)
	checkAssignmentComplete(t, plan, topicPartitions)

	// members <= partitions: every member claims at least one.
	for member, byTopic := range plan {
		total := 0
		for _, ps := range byTopic {
			total += len(ps)
		}
		if total == 0 {
			t.Fatalf("member %s got nothing with 9 partitions for 3 members", member)
		}
	}
}

func TestRoundRobinBalancerEvenSpread(t *testing.T) {
	topicPartitions := map[string]int32{"t": 6}
	plan := RoundRobinBalancer().Balance(membersAll(2, "t"), topicPartitions)
	checkAssignmentComplete(t, plan, topicPartitions)
	for member, byTopic := range plan {
		if len(byTopic["t"]) != 3 {
			t.Fatalf("member %s got %d partitions, want 3", member, len(byTopic["t"]))
		}
	}
}

// TestRoundRobinBalancerTwoPlusOneSplit mirrors spec.md §8's heartbeat-
// rebalance scenario: 2 members over 3 partitions split 2+1; a single
// surviving member owns all three.
func TestRoundRobinBalancerTwoPlusOneSplit(t *testing.T) {
	topicPartitions := map[string]int32{"t": 3}

	plan := RoundRobinBalancer().Balance(membersAll(2, "t"), topicPartitions)
	checkAssignmentComplete(t, plan, topicPartitions)
	sizes := []int{len(plan["m-00"]["t"]), len(plan["m-01"]["t"])}
	if !(sizes[0]+sizes[1] == 3 && sizes[0] >= 1 && sizes[1] >= 1) {
		t.Fatalf("expected a 2+1 split, got %v", sizes)
	}

	solo := RoundRobinBalancer().Balance(membersAll(1, "t"), topicPartitions)
	if diff := cmp.Diff([]int32{0, 1, 2}, solo["m-00"]["t"]); diff != "" {
		t.Fatalf("surviving member should own everything:\n%s", diff)
	}
}

func TestRoundRobinBalancerHonorsSubscriptions(t *testing.T) {
	members := []GroupMemberSubscription{
		{MemberID: "only-a", Topics: []string{"a"}},
		{MemberID: "only-b", Topics: []string{"b"}},
	}
	topicPartitions := map[string]int32{"a": 2, "b": 2}
	plan := RoundRobinBalancer().Balance(members, topicPartitions)
	checkAssignmentComplete(t, plan, topicPartitions)
	if len(plan["only-a"]["b"]) != 0 || len(plan["only-b"]["a"]) != 0 {
		t.Fatalf("partition assigned outside subscription: %v", plan)
	}
}

func TestRangeBalancerContiguousChunks(t *testing.T) {
	topicPartitions := map[string]int32{"t": 7}
	plan := RangeBalancer().Balance(membersAll(3, "t"), topicPartitions)
	checkAssignmentComplete(t, plan, topicPartitions)

	// 7 over 3 in member-id order: 3, 2, 2 contiguous.
	if diff := cmp.Diff([]int32{0, 1, 2}, plan["m-00"]["t"]); diff != "" {
		t.Fatalf("first chunk:\n%s", diff)
	}
	if diff := cmp.Diff([]int32{3, 4}, plan["m-01"]["t"]); diff != "" {
		t.Fatalf("second chunk:\n%s", diff)
	}
	if diff := cmp.Diff([]int32{5, 6}, plan["m-02"]["t"]); diff != "" {
		t.Fatalf("third chunk:\n%s", diff)
	}
}

// TestResolveStartOffset covers spec.md §8's offset-out-of-range recovery
// scenario: committed 10 against earliest 50 starts at 50.
func TestResolveStartOffset(t *testing.T) {
	tests := []struct {
		committed, earliest, want int64
	}{
		{10, 50, 50},
		{50, 10, 50},
		{10, 10, 10},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := resolveStartOffset(tt.committed, tt.earliest); got != tt.want {
			t.Errorf("resolveStartOffset(%d, %d) = %d, want %d", tt.committed, tt.earliest, got, tt.want)
		}
	}
}

func TestOffsetTrackerAdvanceAndCommit(t *testing.T) {
	tr := newOffsetTracker()

	if got := tr.uncommitted(); len(got) != 0 {
		t.Fatalf("fresh tracker has uncommitted offsets: %v", got)
	}

	tr.advance("t", 0, 5)
	tr.advance("t", 1, 3)
	tr.advance("t", 0, 2) // stale publish: must not move backwards

	out := tr.uncommitted()
	if len(out) != 1 || out[0].Topic != "t" || len(out[0].Partitions) != 2 {
		t.Fatalf("uncommitted: %+v", out)
	}
	for _, p := range out[0].Partitions {
		want := map[int32]int64{0: 5, 1: 3}[p.Partition]
		if p.Offset != want {
			t.Fatalf("partition %d offset %d, want %d", p.Partition, p.Offset, want)
		}
	}

	tr.markCommitted("t", 0)
	tr.markCommitted("t", 1)
	if got := tr.uncommitted(); len(got) != 0 {
		t.Fatalf("everything committed but still dirty: %v", got)
	}

	tr.advance("t", 0, 6)
	out = tr.uncommitted()
	if len(out) != 1 || len(out[0].Partitions) != 1 || out[0].Partitions[0].Offset != 6 {
		t.Fatalf("post-commit advance: %+v", out)
	}
}

// TestSessionFenceClassification pins the fence set from spec.md §4.8:
// these errors must discard the member id; a rebalance must not.
func TestSessionFenceClassification(t *testing.T) {
	for _, err := range []error{kerr.UnknownMemberID, kerr.IllegalGeneration, kerr.FencedInstanceID} {
		if !isSessionFence(err) {
			t.Errorf("%v should fence the session", err)
		}
	}
	for _, err := range []error{kerr.RebalanceInProgress, kerr.NotCoordinator, errors.New("io")} {
		if isSessionFence(err) {
			t.Errorf("%v should not fence the session", err)
		}
	}
}

func TestHandlerErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	var he *handlerError = &handlerError{err: cause}
	if !errors.Is(he, cause) {
		t.Fatal("handlerError should unwrap to its cause")
	}
}
