package kgo

import (
	"testing"

	"github.com/twmb/kgocore/pkg/kmsg"
)

func newTestClient() *Client {
	return &Client{
		cfg:          defaultCfg(),
		bufPool:      newBufPool(),
		topology:     newBrokerTopology(),
		conns:        make(map[int32]*messenger),
		inflight:     make(map[int32]*connectCall),
		arbitraryID:  unknownBrokerID,
		metaCache:    make(map[string]*metadataCacheEntry),
		metaCalls:    make(map[string]*metadataCall),
		controllerID: unknownBrokerID,
	}
}

func TestMetadataCacheGenerationMonotonic(t *testing.T) {
	cl := newTestClient()
	g1 := cl.storeMetadata("t", &kmsg.MetadataResponse{})
	g2 := cl.storeMetadata("t", &kmsg.MetadataResponse{})
	g3 := cl.storeMetadata("t", &kmsg.MetadataResponse{})
	if !(g1 < g2 && g2 < g3) {
		t.Fatalf("generations not strictly increasing: %d %d %d", g1, g2, g3)
	}
	// Distinct topic sets have independent generation streams.
	if g := cl.storeMetadata("other", &kmsg.MetadataResponse{}); g != 1 {
		t.Fatalf("fresh key should start at generation 1, got %d", g)
	}
}

// TestMetadataCacheStaleInvalidationIsNoOp covers spec.md §3's invariant:
// invalidation at an older generation must not evict a fresher entry.
func TestMetadataCacheStaleInvalidationIsNoOp(t *testing.T) {
	cl := newTestClient()
	topics := []string{"t"}
	key := topicSetKey(topics)

	gOld := cl.storeMetadata(key, &kmsg.MetadataResponse{})
	gNew := cl.storeMetadata(key, &kmsg.MetadataResponse{})

	cl.invalidateMetadata(topics, gOld)
	if _, ok := cl.metaCache[key]; !ok {
		t.Fatal("stale invalidation evicted a fresher entry")
	}

	cl.invalidateMetadata(topics, gNew)
	if _, ok := cl.metaCache[key]; ok {
		t.Fatal("current-generation invalidation did not evict")
	}
}

func TestArbitraryBrokerInvalidation(t *testing.T) {
	cl := newTestClient()
	cl.generation = 5

	// Stale generation: no-op.
	cl.invalidate("test", 4)
	if cl.generation != 5 {
		t.Fatalf("stale invalidation bumped generation to %d", cl.generation)
	}

	// Current generation: evicts and bumps.
	cl.invalidate("test", 5)
	if cl.generation != 6 {
		t.Fatalf("generation after eviction: %d", cl.generation)
	}
	if cl.arbitrary != nil {
		t.Fatal("arbitrary slot should be empty after eviction")
	}
}

func TestControllerInvalidation(t *testing.T) {
	cl := newTestClient()
	cl.controllerGen = 2
	cl.controllerID = 7

	cl.invalidateController("test", 1)
	if cl.controllerID != 7 {
		t.Fatal("stale controller invalidation should be a no-op")
	}

	cl.invalidateController("test", 2)
	if cl.controllerID != unknownBrokerID {
		t.Fatal("current-generation controller invalidation should evict")
	}
	if cl.controllerGen != 3 {
		t.Fatalf("controller generation: %d", cl.controllerGen)
	}
}
