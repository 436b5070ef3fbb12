package kgo

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/kgocore/pkg/kbin"
	"github.com/twmb/kgocore/pkg/kerr"
	"github.com/twmb/kgocore/pkg/kmsg"
	"github.com/twmb/kgocore/pkg/sasl"
)

// messenger owns exactly one TCP connection to one broker and multiplexes
// every request sent down that connection, adapted from the teacher's
// brokerCxn. Every in-flight request registers a one-shot delivery slot in
// a correlation-id-keyed map; the single receiver loop resolves each
// response by looking its id up there, so responses may arrive in any
// order relative to their sends (spec.md §3, §5). An id with no slot means
// the stream's framing can no longer be trusted and poisons the messenger.
type messenger struct {
	cl   *Client
	addr string

	conn net.Conn

	versions [kmsg.MaxKey + 1]int16 // broker's max version per key; -1 means not advertised

	mechanism sasl.Mechanism
	reauthAt  time.Time

	throttleUntil int64 // atomic unix nanos

	// writeMu serializes request writes so the framing of one message
	// never interleaves with another on the wire. The correlation-id
	// counter advances under it.
	writeMu sync.Mutex
	corrID  int32

	// pendingMu guards pending and fatalErr. A slot stays registered
	// until its response arrives or the connection dies — abandoned
	// requests included, so an id is never reused while its response is
	// outstanding (spec.md §4.3 item 7).
	pendingMu sync.Mutex
	pending   map[int32]*pendingResp
	fatalErr  error

	dead   int32
	deadCh chan struct{}
}

// pendingResp is one request's delivery slot, registered under its
// correlation id. The api key and version are recorded at send time so the
// receiver knows how to strip the response header and decode the body.
type pendingResp struct {
	key            kmsg.ApiKey
	version        int16
	flexibleHeader bool
	resp           kmsg.Response
	promise        func(kmsg.Response, error)
}

func newMessenger(cl *Client, addr string, conn net.Conn) *messenger {
	m := &messenger{
		cl:      cl,
		addr:    addr,
		conn:    conn,
		pending: make(map[int32]*pendingResp),
		deadCh:  make(chan struct{}),
	}
	for i := range m.versions {
		m.versions[i] = -1
	}
	return m
}

// init negotiates api versions and runs sasl, then starts the response
// reader loop. This mirrors brokerCxn.init.
func (m *messenger) init(ctx context.Context) error {
	if err := m.negotiateVersions(ctx); err != nil {
		return err
	}
	if err := m.authenticate(ctx); err != nil {
		return err
	}
	go m.handleResps()
	return nil
}

// negotiateVersions issues ApiVersions at version 0 (no client info) and
// records the broker's maximum version per key (spec.md §4.3.3). If the
// broker itself supports ApiVersions v3, a second call identifies this
// client's software name and version; that call is advisory and its
// failure is not fatal (spec.md §4.3.4).
func (m *messenger) negotiateVersions(ctx context.Context) error {
	if _, err := m.apiVersionsOnce(ctx, 0); err != nil {
		return err
	}
	if m.versions[kmsg.ApiVersions] >= 3 {
		if _, err := m.apiVersionsOnce(ctx, 3); err != nil {
			m.cl.cfg.logger.Log(LogLevelDebug, "client software identification rejected", "addr", m.addr, "err", err)
		}
	}
	m.cl.cfg.logger.Log(LogLevelDebug, "negotiated api versions", "addr", m.addr)
	return nil
}

func (m *messenger) apiVersionsOnce(ctx context.Context, version int16) (*kmsg.ApiVersionsResponse, error) {
	req := &kmsg.ApiVersionsRequest{
		ClientSoftwareName:    m.cl.cfg.softwareName,
		ClientSoftwareVersion: m.cl.cfg.softwareVersion,
	}
	req.SetVersion(version)

	corrID, err := m.writeRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	// ApiVersions' response header is never flexible, even when the body
	// is; see kmsg.FirstTaggedFieldInResponseVersion's documented quirk.
	raw, err := m.readRaw(ctx, req.Key(), corrID, false)
	if err != nil {
		return nil, err
	}
	resp := &kmsg.ApiVersionsResponse{}
	resp.SetVersion(req.GetVersion())
	if err := resp.ReadFrom(raw); err != nil {
		return nil, err
	}
	if err := kerr.ErrorForCode(resp.ErrorCode); err != nil {
		return nil, err
	}
	for _, k := range resp.ApiKeys {
		if k.ApiKey < 0 || k.ApiKey > kmsg.MaxKey {
			continue
		}
		m.versions[k.ApiKey] = k.MaxVersion
	}
	return resp, nil
}

// authenticate runs the configured SASL mechanisms' handshake and
// challenge/response loop, adapted from brokerCxn.sasl/doSasl.
func (m *messenger) authenticate(ctx context.Context) error {
	if len(m.cl.cfg.sasls) == 0 {
		return nil
	}
	mech := m.cl.cfg.sasls[0]

	hs := &kmsg.SaslHandshakeRequest{Mechanism: mech.Name()}
	hs.SetVersion(kmsg.SupportedVersions[kmsg.SaslHandshake].Max)
	corrID, err := m.writeRequest(ctx, hs)
	if err != nil {
		return err
	}
	raw, err := m.readRaw(ctx, hs.Key(), corrID, false)
	if err != nil {
		return err
	}
	hsResp := &kmsg.SaslHandshakeResponse{}
	hsResp.SetVersion(hs.GetVersion())
	if err := hsResp.ReadFrom(raw); err != nil {
		return err
	}
	if err := kerr.ErrorForCode(hsResp.ErrorCode); err != nil {
		return fmt.Errorf("sasl handshake rejected (broker supports %v): %w", hsResp.Mechanisms, err)
	}

	m.mechanism = mech
	session, clientWrite, err := mech.Authenticate(ctx, m.addr)
	if err != nil {
		return err
	}

	for {
		authReq := &kmsg.SaslAuthenticateRequest{AuthBytes: clientWrite}
		authReq.SetVersion(kmsg.SupportedVersions[kmsg.SaslAuthenticate].Max)
		corrID, err := m.writeRequest(ctx, authReq)
		if err != nil {
			return err
		}
		raw, err := m.readRaw(ctx, authReq.Key(), corrID, authReq.IsFlexible())
		if err != nil {
			return err
		}
		authResp := &kmsg.SaslAuthenticateResponse{}
		authResp.SetVersion(authReq.GetVersion())
		if err := authResp.ReadFrom(raw); err != nil {
			return err
		}
		if err := kerr.ErrorForCode(authResp.ErrorCode); err != nil {
			if authResp.ErrorMessage != nil {
				return fmt.Errorf("%s: %w", *authResp.ErrorMessage, err)
			}
			return err
		}

		done, next, err := session.Challenge(authResp.AuthBytes)
		if err != nil {
			return err
		}
		if done {
			if authResp.SessionLifetimeMillis > 0 {
				m.reauthAt = time.Now().Add(time.Duration(authResp.SessionLifetimeMillis)*time.Millisecond - time.Second)
			}
			return nil
		}
		clientWrite = next
	}
}

// do issues req asynchronously, invoking promise once a response (or a
// fatal error) is available. It mirrors broker.do/brokerCxn.waitResp
// fused into a single connection-scoped call since a messenger owns just
// one connection.
func (m *messenger) do(ctx context.Context, req kmsg.Request, promise func(kmsg.Response, error)) {
	if atomic.LoadInt32(&m.dead) == 1 {
		promise(nil, m.fatalCause())
		return
	}

	version := m.negotiatedVersion(req)
	req.SetVersion(version)

	// SASL sessions expire; the reader loop owns the connection's read
	// side once running, so we cannot re-run the authenticate exchange
	// in place. Kill the connection instead and let the connector redial
	// (the fresh connection re-authenticates during init).
	if !m.reauthAt.IsZero() && time.Now().After(m.reauthAt) {
		promise(nil, ErrConnDead)
		m.die()
		return
	}

	// Honor any standing broker throttle before touching the wire. Bailing
	// out here is clean: nothing has been written, so the connection stays
	// healthy for other callers.
	if err := m.awaitThrottle(ctx); err != nil {
		promise(nil, err)
		return
	}

	pr := &pendingResp{
		key:            req.Key(),
		version:        version,
		flexibleHeader: kmsg.ResponseHeaderVersion(req.Key(), version) >= 1,
		resp:           req.ResponseKind(),
		promise:        promise,
	}

	// Register the slot before the request bytes can hit the wire, so a
	// fast response never finds its id unclaimed. If the messenger died
	// in the meantime, die's drain may already be done, so fail the slot
	// ourselves after deregistering it.
	m.writeMu.Lock()
	corrID := m.corrID

	m.pendingMu.Lock()
	if m.fatalErr != nil {
		cause := m.fatalErr
		m.pendingMu.Unlock()
		m.writeMu.Unlock()
		promise(nil, cause)
		return
	}
	m.pending[corrID] = pr
	m.pendingMu.Unlock()

	if _, err := m.writeRequest(ctx, req); err != nil {
		m.writeMu.Unlock()
		// A concurrent die may have drained (and failed) the slot
		// already; only settle it ourselves if it is still registered.
		m.pendingMu.Lock()
		_, stillOurs := m.pending[corrID]
		delete(m.pending, corrID)
		m.pendingMu.Unlock()
		if stillOurs {
			promise(nil, ErrConnDead)
		}
		m.die()
		return
	}
	m.writeMu.Unlock()
}

// isDead reports whether this messenger's fatal flag has been set, per
// spec.md §3's "messenger whose fatal flag is set never again emits a
// successful response."
func (m *messenger) isDead() bool { return atomic.LoadInt32(&m.dead) == 1 }

// waitResp is the synchronous convenience wrapper used by the controller,
// partition, and group clients. A broker-returned throttle suspends this
// caller for exactly the stated duration before the response is returned
// (spec.md §5's broker-authoritative backpressure); other callers on the
// same messenger are gated separately by awaitThrottle in do.
func (m *messenger) waitResp(ctx context.Context, req kmsg.Request) (kmsg.Response, error) {
	var resp kmsg.Response
	var err error
	done := make(chan struct{})
	m.do(ctx, req, func(r kmsg.Response, e error) {
		resp, err = r, e
		close(done)
	})
	select {
	case <-done:
	case <-ctx.Done():
		// Abandoning the wait leaves the delivery slot registered; the
		// receiver consumes and discards the eventual response, and the
		// correlation id is never reused while it is outstanding
		// (spec.md §4.3 item 7).
		return nil, ctx.Err()
	}
	if err == nil {
		if t, ok := resp.(kmsg.ThrottleResponse); ok {
			if millis := t.Throttle(); millis > 0 {
				sleepCtx(ctx, time.Duration(millis)*time.Millisecond)
			}
		}
	}
	return resp, err
}

// negotiatedVersion returns the lower of the client's and the broker's
// maximum version for req. A key the broker did not advertise is sent at
// the client's maximum, and neither side's minimum version is checked, so
// a key with no version in common is not rejected here.
func (m *messenger) negotiatedVersion(req kmsg.Request) int16 {
	ourMax := req.MaxVersion()
	brokerMax := m.versions[req.Key()]
	if brokerMax >= 0 && brokerMax < ourMax {
		return brokerMax
	}
	return ourMax
}

// awaitThrottle blocks until any broker-imposed throttle window has
// passed, the context is done, or the connection dies.
func (m *messenger) awaitThrottle(ctx context.Context) error {
	sleep := time.Until(time.Unix(0, atomic.LoadInt64(&m.throttleUntil)))
	if sleep <= 0 {
		return nil
	}
	t := time.NewTimer(sleep)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.deadCh:
		return ErrConnDead
	}
}

func (m *messenger) writeRequest(ctx context.Context, req kmsg.Request) (int32, error) {
	buf := m.cl.bufPool.get()
	defer m.cl.bufPool.put(buf)
	buf = m.cl.reqFormatter.AppendRequest(buf[:0], req, m.corrID)

	if err := m.writeConn(ctx, buf); err != nil {
		return 0, err
	}
	id := m.corrID
	m.corrID++
	return id, nil
}

func (m *messenger) writeConn(ctx context.Context, buf []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		m.conn.SetWriteDeadline(dl)
	} else if m.cl.cfg.requestTimeout > 0 {
		m.conn.SetWriteDeadline(time.Now().Add(m.cl.cfg.requestTimeout))
	}
	defer m.conn.SetWriteDeadline(time.Time{})
	_, err := m.conn.Write(buf)
	return err
}

// readRaw is used during connection setup (version negotiation, sasl)
// before the async handleResps loop is running, so it reads synchronously.
func (m *messenger) readRaw(ctx context.Context, key kmsg.ApiKey, corrID int32, flexibleHeader bool) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		m.conn.SetReadDeadline(dl)
	} else if m.cl.cfg.requestTimeout > 0 {
		m.conn.SetReadDeadline(time.Now().Add(m.cl.cfg.requestTimeout))
	}
	defer m.conn.SetReadDeadline(time.Time{})

	buf, err := m.readFramed()
	if err != nil {
		return nil, err
	}
	return m.stripHeader(buf, corrID, flexibleHeader)
}

func (m *messenger) readFramed() ([]byte, error) {
	sizeBuf := make([]byte, 4)
	if _, err := io.ReadFull(m.conn, sizeBuf); err != nil {
		return nil, ErrConnDead
	}
	size := int32(binary.BigEndian.Uint32(sizeBuf))
	if size < 0 {
		return nil, ErrInvalidRespSize
	}
	if size > m.cl.cfg.maxBrokerReadBytes {
		return nil, &ErrLargeRespSize{Size: size, Limit: m.cl.cfg.maxBrokerReadBytes}
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(m.conn, buf); err != nil {
		return nil, ErrConnDead
	}
	return buf, nil
}

func (m *messenger) stripHeader(buf []byte, wantCorrID int32, flexibleHeader bool) ([]byte, error) {
	if len(buf) < 4 {
		return nil, kbin.ErrNotEnoughData
	}
	gotID := int32(binary.BigEndian.Uint32(buf))
	if gotID != wantCorrID {
		return nil, ErrCorrelationIDMismatch
	}
	body := buf[4:]
	if flexibleHeader {
		b := kbin.Reader{Src: body}
		b.SkipTags()
		return b.Src, b.Err()
	}
	return body, nil
}

// handleResps is the sole reader of the connection: it reads framed
// responses until the connection dies, resolving each one to its delivery
// slot by correlation id (spec.md §4.3 item 2). A framing error, a header
// decode error, or an unknown correlation id is fatal: the messenger is
// poisoned with that cause and every pending slot drains with it.
func (m *messenger) handleResps() {
	for {
		buf, err := m.readFramed()
		if err != nil {
			m.dieWith(err)
			return
		}
		if len(buf) < 4 {
			m.dieWith(kbin.ErrNotEnoughData)
			return
		}
		corrID := int32(binary.BigEndian.Uint32(buf))

		m.pendingMu.Lock()
		pr, ok := m.pending[corrID]
		delete(m.pending, corrID)
		m.pendingMu.Unlock()
		if !ok {
			m.cl.cfg.logger.Log(LogLevelError, "response for unknown correlation id, poisoning connection", "addr", m.addr, "corr_id", corrID)
			m.dieWith(ErrCorrelationIDMismatch)
			return
		}

		body := buf[4:]
		if pr.flexibleHeader {
			b := kbin.Reader{Src: body}
			b.SkipTags()
			if err := b.Err(); err != nil {
				pr.promise(nil, err)
				m.dieWith(err)
				return
			}
			body = b.Src
		}

		pr.resp.SetVersion(pr.version)
		readErr := pr.resp.ReadFrom(body)
		if readErr == nil {
			if t, ok := pr.resp.(kmsg.ThrottleResponse); ok {
				if millis := t.Throttle(); millis > 0 {
					until := time.Now().Add(time.Duration(millis) * time.Millisecond).UnixNano()
					if until > atomic.LoadInt64(&m.throttleUntil) {
						atomic.StoreInt64(&m.throttleUntil, until)
					}
				}
			}
		}
		pr.promise(pr.resp, readErr)
	}
}

// die tears down the connection and fails every pending request with the
// generic connection-dead error. Safe to call more than once or
// concurrently.
func (m *messenger) die() { m.dieWith(ErrConnDead) }

// dieWith records cause as the messenger's fatal error, closes the
// connection, and drains every pending slot with the cause; all future
// requests fail with it too (spec.md §3's fatal flag).
func (m *messenger) dieWith(cause error) {
	if atomic.SwapInt32(&m.dead, 1) == 1 {
		return
	}

	m.pendingMu.Lock()
	m.fatalErr = cause
	drained := make([]*pendingResp, 0, len(m.pending))
	for id, pr := range m.pending {
		drained = append(drained, pr)
		delete(m.pending, id)
	}
	m.pendingMu.Unlock()

	m.conn.Close()
	close(m.deadCh)

	for _, pr := range drained {
		pr.promise(nil, cause)
	}
}

// fatalCause returns the recorded fatal error, or the generic
// connection-dead error if the messenger died without one.
func (m *messenger) fatalCause() error {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if m.fatalErr != nil {
		return m.fatalErr
	}
	return ErrConnDead
}
