package kgo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/twmb/kgocore/pkg/kbin"
	"github.com/twmb/kgocore/pkg/kmsg"
)

// fakeBroker is an in-process scripted broker: it accepts connections,
// decodes request headers, and answers through per-api-key handlers. Each
// handler returns a response body; the broker frames it with the right
// response header for the negotiated version. By default it answers
// ApiVersions with this client's own declared maxima and Metadata with a
// one-broker, one-topic cluster pointing back at itself.
type fakeBroker struct {
	t  *testing.T
	ln net.Listener

	mu       sync.Mutex
	handlers map[kmsg.ApiKey]func(version int16, body *kbin.Reader) []byte
	// corruptNextCorrID makes the next response carry a wrong
	// correlation id, for poisoning tests.
	corruptNextCorrID bool
	// respDelay, if set, delays each response by the returned duration
	// and lets later responses overtake earlier ones on the wire, for
	// out-of-order dispatch tests (spec.md §8's "configurable response
	// ordering and delays").
	respDelay func(key kmsg.ApiKey, corrID int32) time.Duration

	wg sync.WaitGroup
}

func newFakeBroker(t *testing.T) *fakeBroker {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	fb := &fakeBroker{
		t:        t,
		ln:       ln,
		handlers: make(map[kmsg.ApiKey]func(int16, *kbin.Reader) []byte),
	}
	fb.handlers[kmsg.ApiVersions] = fb.apiVersionsBody
	fb.handlers[kmsg.Metadata] = func(version int16, body *kbin.Reader) []byte {
		return fb.metadataBody(version, "t", 1)
	}
	t.Cleanup(fb.close)

	fb.wg.Add(1)
	go fb.accept()
	return fb
}

func (fb *fakeBroker) addr() string { return fb.ln.Addr().String() }

func (fb *fakeBroker) port() int32 {
	return int32(fb.ln.Addr().(*net.TCPAddr).Port)
}

func (fb *fakeBroker) close() {
	fb.ln.Close()
	fb.wg.Wait()
}

func (fb *fakeBroker) handle(key kmsg.ApiKey, fn func(version int16, body *kbin.Reader) []byte) {
	fb.mu.Lock()
	fb.handlers[key] = fn
	fb.mu.Unlock()
}

func (fb *fakeBroker) accept() {
	defer fb.wg.Done()
	for {
		conn, err := fb.ln.Accept()
		if err != nil {
			return
		}
		fb.wg.Add(1)
		go func() {
			defer fb.wg.Done()
			defer conn.Close()
			fb.serve(conn)
		}()
	}
}

func (fb *fakeBroker) serve(conn net.Conn) {
	var connWriteMu sync.Mutex
	for {
		sizeBuf := make([]byte, 4)
		if _, err := io.ReadFull(conn, sizeBuf); err != nil {
			return
		}
		frame := make([]byte, binary.BigEndian.Uint32(sizeBuf))
		if _, err := io.ReadFull(conn, frame); err != nil {
			return
		}

		b := kbin.Reader{Src: frame}
		key := kmsg.ApiKey(b.Int16())
		version := b.Int16()
		corrID := b.Int32()
		headerVersion := kmsg.RequestHeaderVersion(key, version)
		if headerVersion >= 1 {
			b.NullableString() // client id
		}
		if headerVersion >= 2 {
			b.SkipTags()
		}
		if err := b.Err(); err != nil {
			fb.t.Errorf("fake broker: bad request header: %v", err)
			return
		}

		fb.mu.Lock()
		handler := fb.handlers[key]
		corrupt := fb.corruptNextCorrID
		fb.corruptNextCorrID = false
		delayFn := fb.respDelay
		fb.mu.Unlock()
		if handler == nil {
			fb.t.Errorf("fake broker: no handler for %s", key)
			return
		}
		body := handler(version, &b)

		respCorrID := corrID
		if corrupt {
			respCorrID = corrID + 1000
		}
		var resp []byte
		resp = kbin.AppendInt32(resp, respCorrID)
		if kmsg.ResponseHeaderVersion(key, version) >= 1 {
			resp = kbin.AppendEmptyTags(resp)
		}
		resp = append(resp, body...)

		out := kbin.AppendInt32(nil, int32(len(resp)))
		out = append(out, resp...)

		if delayFn != nil {
			// Write asynchronously after the delay so a slower response
			// is overtaken by faster ones sent after it.
			fb.wg.Add(1)
			go func(out []byte, d time.Duration) {
				defer fb.wg.Done()
				time.Sleep(d)
				connWriteMu.Lock()
				defer connWriteMu.Unlock()
				conn.Write(out)
			}(out, delayFn(key, corrID))
			continue
		}
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

func (fb *fakeBroker) apiVersionsBody(version int16, _ *kbin.Reader) []byte {
	var body []byte
	body = kbin.AppendInt16(body, 0) // error code
	body = kbin.AppendArrayLen(body, len(kmsg.SupportedVersions))
	for key, r := range kmsg.SupportedVersions {
		body = kbin.AppendInt16(body, int16(key))
		body = kbin.AppendInt16(body, r.Min)
		body = kbin.AppendInt16(body, r.Max)
	}
	if version >= 1 {
		body = kbin.AppendInt32(body, 0) // throttle
	}
	return body
}

// advertiseMax replaces the ApiVersions handler with one advertising only
// the given per-key maxima, for tests that need to pin a negotiated
// version below this client's declared one.
func (fb *fakeBroker) advertiseMax(maxima map[kmsg.ApiKey]int16) {
	fb.handle(kmsg.ApiVersions, func(version int16, _ *kbin.Reader) []byte {
		var body []byte
		body = kbin.AppendInt16(body, 0)
		body = kbin.AppendArrayLen(body, len(maxima))
		for key, max := range maxima {
			body = kbin.AppendInt16(body, int16(key))
			body = kbin.AppendInt16(body, 0)
			body = kbin.AppendInt16(body, max)
		}
		if version >= 1 {
			body = kbin.AppendInt32(body, 0)
		}
		return body
	})
}

// metadataBody builds a v4 Metadata response for a single-broker cluster
// (node 1 = this fake broker) with one topic of numPartitions partitions
// all led by node 1.
func (fb *fakeBroker) metadataBody(version int16, topic string, numPartitions int32) []byte {
	var body []byte
	body = kbin.AppendInt32(body, 0) // throttle
	body = kbin.AppendArrayLen(body, 1)
	body = kbin.AppendInt32(body, 1)
	body = kbin.AppendString(body, "127.0.0.1")
	body = kbin.AppendInt32(body, fb.port())
	body = kbin.AppendNullableString(body, nil) // rack
	body = kbin.AppendNullableString(body, nil) // cluster id
	body = kbin.AppendInt32(body, 1)            // controller
	body = kbin.AppendArrayLen(body, 1)
	body = kbin.AppendInt16(body, 0) // topic error
	body = kbin.AppendString(body, topic)
	body = kbin.AppendBool(body, false)
	body = kbin.AppendArrayLen(body, int(numPartitions))
	for p := int32(0); p < numPartitions; p++ {
		body = kbin.AppendInt16(body, 0) // partition error
		body = kbin.AppendInt32(body, p)
		body = kbin.AppendInt32(body, 1) // leader
		body = kbin.AppendArrayLen(body, 1)
		body = kbin.AppendInt32(body, 1)
		body = kbin.AppendArrayLen(body, 1)
		body = kbin.AppendInt32(body, 1)
	}
	return body
}

// dialMessenger connects a bare messenger to the fake broker and runs its
// init (version negotiation + reader loop).
func dialMessenger(t *testing.T, fb *fakeBroker) *messenger {
	cl := newTestClient()
	conn, err := net.Dial("tcp", fb.addr())
	if err != nil {
		t.Fatal(err)
	}
	m := newMessenger(cl, fb.addr(), conn)
	if err := m.init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.die)
	return m
}

// TestClientBootstrapWithStaleSeed is spec.md §8 scenario 1: a dead seed
// first in the list must not prevent bootstrap through the live one.
func TestClientBootstrapWithStaleSeed(t *testing.T) {
	fb := newFakeBroker(t)

	// A listener we close immediately: connecting to it fails fast.
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	deadAddr := dead.Addr().String()
	dead.Close()

	cl, err := NewClient(
		SeedBrokers(deadAddr, fb.addr()),
		RetryBackoff(time.Millisecond, 10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	defer cl.Close()

	brokers := cl.ListBrokers()
	if len(brokers) != 1 || brokers[0].ID != 1 || brokers[0].Port != fb.port() {
		t.Fatalf("topology after bootstrap: %v", brokers)
	}
}

// TestMessengerConcurrentCorrelation is spec.md §8's messenger property:
// N concurrent requests each receive exactly their own response. Every
// request names a distinct topic and the fake broker echoes it back.
func TestMessengerConcurrentCorrelation(t *testing.T) {
	fb := newFakeBroker(t)
	fb.handle(kmsg.Metadata, func(version int16, body *kbin.Reader) []byte {
		n := body.ArrayLen()
		if n != 1 {
			fb.t.Errorf("expected a one-topic metadata request, got %d", n)
			return nil
		}
		topic := body.String()
		return fb.metadataBody(version, topic, 1)
	})

	m := dialMessenger(t, fb)

	const concurrent = 32
	var wg sync.WaitGroup
	errs := make(chan error, concurrent)
	for i := 0; i < concurrent; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			topic := fmt.Sprintf("topic-%03d", i)
			req := &kmsg.MetadataRequest{Topics: []kmsg.MetadataRequestTopic{{Topic: topic}}}
			req.SetVersion(kmsg.SupportedVersions[kmsg.Metadata].Max)
			raw, err := m.waitResp(context.Background(), req)
			if err != nil {
				errs <- err
				return
			}
			resp := raw.(*kmsg.MetadataResponse)
			if len(resp.Topics) != 1 || resp.Topics[0].Topic != topic {
				errs <- fmt.Errorf("caller %d got someone else's response: %+v", i, resp.Topics)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// TestMessengerPoisonedOnCorrelationMismatch: a response whose correlation
// id matches no expected request is fatal — the pending request fails and
// every future request fails with the recorded cause,
// ErrCorrelationIDMismatch.
func TestMessengerPoisonedOnCorrelationMismatch(t *testing.T) {
	fb := newFakeBroker(t)
	m := dialMessenger(t, fb)

	fb.mu.Lock()
	fb.corruptNextCorrID = true
	fb.mu.Unlock()

	req := &kmsg.MetadataRequest{}
	req.SetVersion(kmsg.SupportedVersions[kmsg.Metadata].Max)
	if _, err := m.waitResp(context.Background(), req); !errors.Is(err, ErrCorrelationIDMismatch) {
		t.Fatalf("expected correlation mismatch, got %v", err)
	}

	select {
	case <-m.deadCh:
	case <-time.After(time.Second):
		t.Fatal("messenger should be poisoned after a framing fault")
	}
	if !m.isDead() {
		t.Fatal("messenger fatal flag not set")
	}
	// Future requests fail with the recorded fatal cause.
	req2 := &kmsg.MetadataRequest{}
	req2.SetVersion(kmsg.SupportedVersions[kmsg.Metadata].Max)
	if _, err := m.waitResp(context.Background(), req2); !errors.Is(err, ErrCorrelationIDMismatch) {
		t.Fatalf("poisoned messenger must fail future requests with the recorded cause, got %v", err)
	}
}

// TestMessengerOutOfOrderResponses is spec.md §8's messenger property
// under genuine reordering: the broker delays every even-correlation-id
// response long enough that later odd-id responses overtake it on the
// wire, and every caller must still receive exactly its own response.
func TestMessengerOutOfOrderResponses(t *testing.T) {
	fb := newFakeBroker(t)
	fb.handle(kmsg.Metadata, func(version int16, body *kbin.Reader) []byte {
		body.ArrayLen()
		topic := body.String()
		return fb.metadataBody(version, topic, 1)
	})
	fb.mu.Lock()
	fb.respDelay = func(key kmsg.ApiKey, corrID int32) time.Duration {
		if corrID%2 == 0 {
			return 40 * time.Millisecond
		}
		return 0
	}
	fb.mu.Unlock()

	m := dialMessenger(t, fb)

	const concurrent = 16
	var wg sync.WaitGroup
	errs := make(chan error, concurrent)
	for i := 0; i < concurrent; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			topic := fmt.Sprintf("shuffled-%03d", i)
			req := &kmsg.MetadataRequest{Topics: []kmsg.MetadataRequestTopic{{Topic: topic}}}
			req.SetVersion(kmsg.SupportedVersions[kmsg.Metadata].Max)
			raw, err := m.waitResp(context.Background(), req)
			if err != nil {
				errs <- err
				return
			}
			resp := raw.(*kmsg.MetadataResponse)
			if len(resp.Topics) != 1 || resp.Topics[0].Topic != topic {
				errs <- fmt.Errorf("caller %d got someone else's response: %+v", i, resp.Topics)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// TestMessengerNegotiatesDownToBrokerMax: a broker advertising a lower max
// version than ours must be spoken to at its version.
func TestMessengerNegotiatesDownToBrokerMax(t *testing.T) {
	fb := newFakeBroker(t)
	fb.handle(kmsg.ApiVersions, func(version int16, _ *kbin.Reader) []byte {
		var body []byte
		body = kbin.AppendInt16(body, 0)
		body = kbin.AppendArrayLen(body, 1)
		body = kbin.AppendInt16(body, int16(kmsg.Metadata))
		body = kbin.AppendInt16(body, 0)
		body = kbin.AppendInt16(body, 2) // broker tops out at Metadata v2
		if version >= 1 {
			body = kbin.AppendInt32(body, 0)
		}
		return body
	})
	var gotVersion int16
	var mu sync.Mutex
	fb.handle(kmsg.Metadata, func(version int16, body *kbin.Reader) []byte {
		mu.Lock()
		gotVersion = version
		mu.Unlock()
		// v2 body: brokers, cluster id, controller, topics.
		var out []byte
		out = kbin.AppendArrayLen(out, 0)
		out = kbin.AppendNullableString(out, nil)
		out = kbin.AppendInt32(out, -1)
		out = kbin.AppendArrayLen(out, 0)
		return out
	})

	m := dialMessenger(t, fb)
	req := &kmsg.MetadataRequest{}
	if _, err := m.waitResp(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotVersion != 2 {
		t.Fatalf("negotiated Metadata v%d, want the broker max v2", gotVersion)
	}
}

// TestProduceThrottleCompliance is spec.md §8 scenario 6: a broker
// throttling 100ms on each of three produces pushes total wall time over
// 300ms.
func TestProduceThrottleCompliance(t *testing.T) {
	fb := newFakeBroker(t)
	// Pin Produce below its first flexible version so the scripted bodies
	// stay classic-encoded.
	fb.advertiseMax(map[kmsg.ApiKey]int16{kmsg.Produce: 8, kmsg.Metadata: 4})
	var produces int
	fb.handle(kmsg.Produce, func(version int16, _ *kbin.Reader) []byte {
		fb.mu.Lock()
		produces++
		offset := int64(produces - 1)
		fb.mu.Unlock()
		var body []byte
		body = kbin.AppendArrayLen(body, 1)
		body = kbin.AppendString(body, "t")
		body = kbin.AppendArrayLen(body, 1)
		body = kbin.AppendInt32(body, 0)        // partition
		body = kbin.AppendInt16(body, 0)        // error
		body = kbin.AppendInt64(body, offset)   // base offset
		body = kbin.AppendInt64(body, -1)       // log append time
		body = kbin.AppendInt64(body, 0)        // log start offset
		body = kbin.AppendInt32(body, 100)      // throttle ms
		return body
	})

	cl, err := NewClient(SeedBrokers(fb.addr()), RetryBackoff(time.Millisecond, 10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Close()

	pc, err := cl.Partition(context.Background(), "t", 0, UnknownTopicHandlingError)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	for i := int64(0); i < 3; i++ {
		res, err := pc.Produce(context.Background(), []kmsg.Record{{Value: []byte("x")}}, -1)
		if err != nil {
			t.Fatal(err)
		}
		if res.BaseOffset != i {
			t.Fatalf("produce %d: base offset %d", i, res.BaseOffset)
		}
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Fatalf("three 100ms-throttled produces took only %v", elapsed)
	}
}
