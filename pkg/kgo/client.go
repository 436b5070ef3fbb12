package kgo

import (
	"context"
	"fmt"
	"sync"

	"github.com/twmb/kgocore/pkg/kmsg"
)

// Client is the top-level handle callers build once per cluster, per
// spec.md §6's library surface: "a builder ... yielding a top-level
// client. From it: a controller client, per-partition clients ..., and a
// consumer-group client."
type Client struct {
	cfg cfg

	ctx    context.Context
	cancel context.CancelFunc

	bufPool      bufPool
	reqFormatter kmsg.RequestFormatter

	topology *BrokerTopology

	connMu sync.Mutex
	conns  map[int32]*messenger
	// inflight coalesces concurrent connect(id) calls onto one dial, per
	// spec.md §4.4 "a second concurrent request for the same id coalesces
	// onto the first."
	inflight map[int32]*connectCall

	arbitraryMu  sync.Mutex
	arbitrary    *messenger
	arbitraryID  int32
	generation   int64

	metaMu    sync.Mutex
	metaCache map[string]*metadataCacheEntry
	metaCalls map[string]*metadataCall

	controllerMu  sync.Mutex
	controller    *messenger
	controllerID  int32
	controllerGen int64
}

// connectCall is an in-flight dial shared by every caller racing to
// connect to the same broker id.
type connectCall struct {
	done chan struct{}
	m    *messenger
	err  error
}

// NewClient bootstraps a Client from the given options. The connector is
// not usable until a metadata refresh has succeeded (spec.md §4.4), so the
// builder calls refreshMetadata exactly once before returning.
func NewClient(opts ...Opt) (*Client, error) {
	c := defaultCfg()
	for _, o := range opts {
		o.apply(&c)
	}
	if len(c.seedAddrs) == 0 {
		return nil, fmt.Errorf("kgo: at least one seed broker address is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cl := &Client{
		cfg:          c,
		ctx:          ctx,
		cancel:       cancel,
		bufPool:      newBufPool(),
		reqFormatter: kmsg.RequestFormatter{ClientID: c.clientID},
		topology:     newBrokerTopology(),
		conns:        make(map[int32]*messenger),
		inflight:     make(map[int32]*connectCall),
		arbitraryID:  unknownBrokerID,
		metaCache:    make(map[string]*metadataCacheEntry),
		metaCalls:    make(map[string]*metadataCall),
		controllerID: unknownBrokerID,
	}

	if err := cl.refreshMetadata(ctx); err != nil {
		cancel()
		return nil, err
	}
	return cl, nil
}

// unknownBrokerID marks "no broker currently cached," distinct from any
// real (non-negative) broker id.
const unknownBrokerID = -1

// bufPool reuses request-serialization buffers across writes, grounded on
// the teacher's identically-named bufPool in broker.go.
type bufPool struct{ p *sync.Pool }

func newBufPool() bufPool {
	return bufPool{p: &sync.Pool{New: func() interface{} { b := make([]byte, 1<<10); return &b }}}
}

func (p bufPool) get() []byte  { return (*p.p.Get().(*[]byte))[:0] }
func (p bufPool) put(b []byte) { p.p.Put(&b) }

// Close tears down every live connection and stops background work. A
// Client is not usable after Close.
func (cl *Client) Close() {
	cl.cancel()

	cl.connMu.Lock()
	conns := make([]*messenger, 0, len(cl.conns))
	for _, m := range cl.conns {
		conns = append(conns, m)
	}
	cl.conns = make(map[int32]*messenger)
	cl.connMu.Unlock()
	for _, m := range conns {
		m.die()
	}

	cl.arbitraryMu.Lock()
	arb := cl.arbitrary
	cl.arbitrary = nil
	cl.arbitraryMu.Unlock()
	if arb != nil {
		arb.die()
	}

	cl.controllerMu.Lock()
	ctl := cl.controller
	cl.controller = nil
	cl.controllerMu.Unlock()
	if ctl != nil {
		ctl.die()
	}
}

// ListBrokers returns every broker currently known to the topology cache,
// in ascending id order (spec.md §6: "Listing topics and listing brokers
// are top-level operations").
func (cl *Client) ListBrokers() []Broker {
	return cl.topology.List()
}

// ListTopics returns the topics known to the cluster via a fresh,
// uncached Metadata request.
func (cl *Client) ListTopics(ctx context.Context) ([]Topic, error) {
	resp, _, err := cl.RequestMetadata(ctx, MetadataModeArbitraryBroker, nil)
	if err != nil {
		return nil, err
	}
	return topicsFromResponse(resp), nil
}

// Controller returns a ControllerClient for cluster-scoped operations
// (spec.md §4.6).
func (cl *Client) Controller() *ControllerClient {
	return &ControllerClient{cl: cl}
}

// Partition returns a PartitionClient scoped to one (topic, partition),
// per spec.md §4.7. unknownTopicHandling governs what happens if topic is
// not yet visible in cluster metadata.
func (cl *Client) Partition(ctx context.Context, topic string, partition int32, handling UnknownTopicHandling) (*PartitionClient, error) {
	return newPartitionClient(ctx, cl, topic, partition, handling)
}

// ConsumerGroup returns a ConsumerGroupClient scoped to (group, topics),
// per spec.md §4.8. The group id comes from the ConsumerGroup Opt.
func (cl *Client) ConsumerGroup(topics ...string) (*ConsumerGroupClient, error) {
	if cl.cfg.group.id == "" {
		return nil, fmt.Errorf("kgo: ConsumerGroup Opt must be set to use group operations")
	}
	return newConsumerGroupClient(cl, cl.cfg.group.id, topics)
}
