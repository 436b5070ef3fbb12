package kgo

import "sort"

// GroupMemberSubscription is one joined member and the topics it
// subscribed to, as decoded from the leader's JoinGroup member list.
type GroupMemberSubscription struct {
	MemberID string
	Topics   []string
}

// GroupBalancer computes a partition assignment for a group. Balance is a
// pure function of the member list and the cluster's partition counts; it
// runs only on the elected leader. The returned map is
// member id -> topic -> partitions.
type GroupBalancer interface {
	// Name is the protocol name advertised in JoinGroup ("roundrobin",
	// "range", ...). Members of one group must agree on at least one
	// protocol or the coordinator rejects the join.
	Name() string
	Balance(members []GroupMemberSubscription, topicPartitions map[string]int32) map[string]map[string][]int32
}

// RoundRobinBalancer assigns partitions one at a time across members,
// walking topics alphabetically and partitions in ascending order. With
// members <= partitions every member receives at least one partition.
func RoundRobinBalancer() GroupBalancer { return roundRobinBalancer{} }

type roundRobinBalancer struct{}

func (roundRobinBalancer) Name() string { return "roundrobin" }

func (roundRobinBalancer) Balance(members []GroupMemberSubscription, topicPartitions map[string]int32) map[string]map[string][]int32 {
	sorted := sortedMembers(members)
	subs := subscriptionIndex(members)

	plan := make(map[string]map[string][]int32, len(members))
	for _, m := range sorted {
		plan[m] = make(map[string][]int32)
	}

	topics := sortedTopics(topicPartitions)
	i := 0
	for _, topic := range topics {
		for p := int32(0); p < topicPartitions[topic]; p++ {
			// Skip members not subscribed to this topic; if nobody is,
			// the partition is left unassigned.
			for tries := 0; tries < len(sorted); tries++ {
				m := sorted[i%len(sorted)]
				i++
				if subs[m][topic] {
					plan[m][topic] = append(plan[m][topic], p)
					break
				}
			}
		}
	}
	return plan
}

// RangeBalancer divides each topic's partitions into contiguous chunks,
// one chunk per subscribed member in member-id order, with the first
// members absorbing any remainder.
func RangeBalancer() GroupBalancer { return rangeBalancer{} }

type rangeBalancer struct{}

func (rangeBalancer) Name() string { return "range" }

func (rangeBalancer) Balance(members []GroupMemberSubscription, topicPartitions map[string]int32) map[string]map[string][]int32 {
	subs := subscriptionIndex(members)
	plan := make(map[string]map[string][]int32, len(members))
	for _, m := range members {
		plan[m.MemberID] = make(map[string][]int32)
	}

	for _, topic := range sortedTopics(topicPartitions) {
		var interested []string
		for _, m := range sortedMembers(members) {
			if subs[m][topic] {
				interested = append(interested, m)
			}
		}
		if len(interested) == 0 {
			continue
		}
		numPartitions := topicPartitions[topic]
		per := numPartitions / int32(len(interested))
		extra := numPartitions % int32(len(interested))
		var next int32
		for i, m := range interested {
			n := per
			if int32(i) < extra {
				n++
			}
			for p := next; p < next+n; p++ {
				plan[m][topic] = append(plan[m][topic], p)
			}
			next += n
		}
	}
	return plan
}

func sortedMembers(members []GroupMemberSubscription) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.MemberID
	}
	sort.Strings(out)
	return out
}

func sortedTopics(topicPartitions map[string]int32) []string {
	out := make([]string, 0, len(topicPartitions))
	for t := range topicPartitions {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func subscriptionIndex(members []GroupMemberSubscription) map[string]map[string]bool {
	idx := make(map[string]map[string]bool, len(members))
	for _, m := range members {
		set := make(map[string]bool, len(m.Topics))
		for _, t := range m.Topics {
			set[t] = true
		}
		idx[m.MemberID] = set
	}
	return idx
}
