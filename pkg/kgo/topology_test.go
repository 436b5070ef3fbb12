package kgo

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTopologyUpdateAndList(t *testing.T) {
	topo := newBrokerTopology()
	topo.Update([]Broker{
		{ID: 3, Host: "c", Port: 9092},
		{ID: 1, Host: "a", Port: 9092},
		{ID: 2, Host: "b", Port: 9092},
	})

	want := []Broker{
		{ID: 1, Host: "a", Port: 9092},
		{ID: 2, Host: "b", Port: 9092},
		{ID: 3, Host: "c", Port: 9092},
	}
	if diff := cmp.Diff(want, topo.List()); diff != "" {
		t.Fatalf("list not in ascending id order (-want +got):\n%s", diff)
	}

	if b, ok := topo.Get(2); !ok || b.Host != "b" {
		t.Fatalf("get(2) = %v, %v", b, ok)
	}
	if _, ok := topo.Get(9); ok {
		t.Fatal("get(9) should miss")
	}
}

// TestTopologyReplaceInPlace covers spec.md §3: a broker whose host/port
// changed is replaced under its id; brokers absent from an update linger.
func TestTopologyReplaceInPlace(t *testing.T) {
	topo := newBrokerTopology()
	topo.Update([]Broker{
		{ID: 1, Host: "old", Port: 9092},
		{ID: 2, Host: "b", Port: 9092},
	})
	topo.Update([]Broker{
		{ID: 1, Host: "new", Port: 9093},
	})

	if b, _ := topo.Get(1); b.Host != "new" || b.Port != 9093 {
		t.Fatalf("broker 1 not replaced: %v", b)
	}
	if _, ok := topo.Get(2); !ok {
		t.Fatal("broker 2 should linger after disappearing from metadata")
	}
	if topo.Len() != 2 {
		t.Fatalf("len = %d", topo.Len())
	}
	// The ordered index must not contain the stale entry.
	if got := topo.List(); len(got) != 2 {
		t.Fatalf("list = %v", got)
	}
}

func TestTopicSetKeyCanonicalizes(t *testing.T) {
	if topicSetKey([]string{"b", "a"}) != topicSetKey([]string{"a", "b"}) {
		t.Fatal("key should be order independent")
	}
	if topicSetKey(nil) != "" {
		t.Fatal("nil topic set should key to empty")
	}
	if topicSetKey([]string{"a"}) == topicSetKey([]string{"a", "b"}) {
		t.Fatal("distinct sets must not collide")
	}
}
