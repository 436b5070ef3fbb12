package kgo

import (
	"context"
	"net"
	"time"

	"github.com/twmb/kgocore/pkg/kmsg"
	"github.com/twmb/kgocore/pkg/sasl"
)

// DialFn dials one broker address, matching net.Dialer.DialContext's
// shape so a caller can drop in a *net.Dialer, a tls.Dialer, or a
// SOCKS5-proxying dialer.
type DialFn func(ctx context.Context, network, addr string) (net.Conn, error)

type cfg struct {
	seedAddrs []string
	clientID  *string

	softwareName    string
	softwareVersion string

	dialFn DialFn

	sasls []sasl.Mechanism

	logger Logger

	maxBrokerReadBytes int32
	requestTimeout     time.Duration
	connIdleTimeout    time.Duration

	compressPreference []kmsg.Compression
	gzipLevel           int

	retryBackoffMin time.Duration
	retryBackoffMax time.Duration
	retryMaxTries   int

	group groupCfg
}

type groupCfg struct {
	id               string
	instanceID       *string
	sessionTimeout   time.Duration
	rebalanceTimeout time.Duration
	heartbeatEvery   time.Duration
	commitEvery      time.Duration
	surveilEvery     time.Duration
	startOffset      startOffsetPolicy
	balancer         GroupBalancer
}

// startOffsetPolicy governs where a consumer-group member starts
// consuming a partition, per the StartOffsetEarliest / StartOffsetLatest
// supplement in SPEC_FULL.md §12. The zero value starts from
// max(committed, earliest) when a committed offset exists and from the
// latest offset otherwise; the two overrides ignore any committed offset.
type startOffsetPolicy int8

const (
	startOffsetDefault startOffsetPolicy = iota
	startOffsetEarliest
	startOffsetLatest
)

func defaultCfg() cfg {
	return cfg{
		softwareName:       "kgocore",
		softwareVersion:    "0.1.0",
		dialFn:             (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		logger:             nopLogger{},
		maxBrokerReadBytes: 100 << 20,
		requestTimeout:     30 * time.Second,
		connIdleTimeout:    5 * time.Minute,
		compressPreference: []kmsg.Compression{kmsg.CompressionNone},
		retryBackoffMin:    100 * time.Millisecond,
		retryBackoffMax:    10 * time.Second,
		retryMaxTries:      20,
		group: groupCfg{
			sessionTimeout:   30 * time.Second,
			rebalanceTimeout: 60 * time.Second,
			heartbeatEvery:   3 * time.Second,
			commitEvery:      5 * time.Second,
			surveilEvery:     30 * time.Second,
		},
	}
}

// Opt configures a Client. Options apply in order, matching the teacher's
// functional-options builder.
type Opt interface {
	apply(*cfg)
}

type optFn func(*cfg)

func (fn optFn) apply(c *cfg) { fn(c) }

// SeedBrokers sets the bootstrap addresses ("host:port") the broker
// connector uses to discover the rest of the cluster topology
// (spec.md §3, topology bootstrap).
func SeedBrokers(addrs ...string) Opt {
	return optFn(func(c *cfg) { c.seedAddrs = append([]string(nil), addrs...) })
}

// ClientID sets the client id sent with every request header at header
// version 1+.
func ClientID(id string) Opt {
	return optFn(func(c *cfg) { c.clientID = &id })
}

// WithLogger installs a Logger.
func WithLogger(l Logger) Opt {
	return optFn(func(c *cfg) { c.logger = l })
}

// WithDialFn overrides how the client dials brokers, used to wire in a
// TLS-wrapping dialer or a SOCKS5Proxy (SPEC_FULL.md §12).
func WithDialFn(fn DialFn) Opt {
	return optFn(func(c *cfg) { c.dialFn = fn })
}

// SASL installs SASL mechanisms for new connections (spec.md §4.3.5). Only
// the first installed mechanism is used: every new connection
// authenticates with it, and later mechanisms are not tried if the broker
// rejects it.
func SASL(mechanisms ...sasl.Mechanism) Opt {
	return optFn(func(c *cfg) { c.sasls = append(c.sasls, mechanisms...) })
}

// MaxBrokerReadBytes bounds how large a single response body the
// messenger will allocate for, per spec.md §9's decoder-safety
// requirement.
func MaxBrokerReadBytes(n int32) Opt {
	return optFn(func(c *cfg) { c.maxBrokerReadBytes = n })
}

// RequestTimeout sets, when the caller's context has no deadline, the
// write deadline for each request and the read deadline for the
// connection-setup exchanges (ApiVersions and SASL); it is also the
// timeout sent inside Produce, CreateTopics and DeleteTopics requests. It
// does not bound how long a caller waits for a response once its request
// has been written.
func RequestTimeout(d time.Duration) Opt {
	return optFn(func(c *cfg) { c.requestTimeout = d })
}

// ProduceCompression sets the compression codec used for produced record
// batches; the first entry is preferred, later entries are fallbacks the
// partition client can use if compressing with an earlier one errors.
func ProduceCompression(codecs ...kmsg.Compression) Opt {
	return optFn(func(c *cfg) { c.compressPreference = codecs })
}

// RetryBackoff configures the retry/throttle controller's exponential
// backoff bounds (spec.md §4.5).
func RetryBackoff(min, max time.Duration) Opt {
	return optFn(func(c *cfg) { c.retryBackoffMin, c.retryBackoffMax = min, max })
}

// RetryMaxTries bounds the retry controller's iteration count, per
// spec.md §4.5's "bounded iterations" requirement.
func RetryMaxTries(n int) Opt {
	return optFn(func(c *cfg) { c.retryMaxTries = n })
}

// ConsumerGroup puts the client's group operations into group id.
func ConsumerGroup(id string) Opt {
	return optFn(func(c *cfg) { c.group.id = id })
}

// GroupInstanceID sets a static group instance id for this member,
// enabling the "static membership" KIP-345 fast-rejoin path rather than
// a fresh member id on every restart.
func GroupInstanceID(id string) Opt {
	return optFn(func(c *cfg) { c.group.instanceID = &id })
}

// GroupSessionTimeout sets how long the coordinator waits for a
// heartbeat before considering a member dead.
func GroupSessionTimeout(d time.Duration) Opt {
	return optFn(func(c *cfg) { c.group.sessionTimeout = d })
}

// GroupRebalanceTimeout sets how long the coordinator waits for every
// member to rejoin during a rebalance.
func GroupRebalanceTimeout(d time.Duration) Opt {
	return optFn(func(c *cfg) { c.group.rebalanceTimeout = d })
}

// GroupHeartbeatInterval sets how often a group member heartbeats the
// coordinator. It is clamped to a third of the session timeout.
func GroupHeartbeatInterval(d time.Duration) Opt {
	return optFn(func(c *cfg) { c.group.heartbeatEvery = d })
}

// AutoCommitInterval sets how often a group session's commit loop flushes
// consumed-through offsets to the coordinator.
func AutoCommitInterval(d time.Duration) Opt {
	return optFn(func(c *cfg) { c.group.commitEvery = d })
}

// GroupBalancerOpt installs the partition-assignment strategy the group
// leader runs. The default is RoundRobinBalancer.
func GroupBalancerOpt(b GroupBalancer) Opt {
	return optFn(func(c *cfg) { c.group.balancer = b })
}

// StartOffsetEarliest makes every partition start from the earliest
// available offset, ignoring any committed offset, instead of the default
// described on startOffsetPolicy (SPEC_FULL.md §12).
func StartOffsetEarliest() Opt {
	return optFn(func(c *cfg) { c.group.startOffset = startOffsetEarliest })
}

// StartOffsetLatest makes every partition start from the latest offset,
// ignoring any committed offset (SPEC_FULL.md §12).
func StartOffsetLatest() Opt {
	return optFn(func(c *cfg) { c.group.startOffset = startOffsetLatest })
}
