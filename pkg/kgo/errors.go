package kgo

import "fmt"

// Sentinel errors returned by the messenger and broker connector, named
// after the equivalent variables in the teacher's broker.go.
var (
	// ErrBrokerDead means a broker is closed. The retry controller
	// classifies it as connection-broken; no code in this package returns
	// it.
	ErrBrokerDead = fmt.Errorf("broker is closed")

	// ErrConnDead is returned when a connection's read or write loop hit
	// an unrecoverable error; the connection is torn down and all pending
	// promises are failed with this error.
	ErrConnDead = fmt.Errorf("connection is dead")

	// ErrCorrelationIDMismatch means a response carried a correlation id
	// that matches no outstanding request (during connection setup: not
	// the id of the request just sent), meaning the connection's framing
	// is no longer trustworthy.
	ErrCorrelationIDMismatch = fmt.Errorf("correlation ID mismatch")

	// ErrUnknownRequestKey names a request whose api key this client build
	// does not know about. No code in this package returns it.
	ErrUnknownRequestKey = fmt.Errorf("unknown request key")

	// ErrBrokerTooOld means the broker supports no version of the requested
	// api that this client can speak. The messenger's version selection
	// does not return it; see negotiatedVersion.
	ErrBrokerTooOld = fmt.Errorf("broker is too old for request")

	// ErrNoDial is returned when the configured DialFn itself failed to
	// reach the broker (DNS, refused connection, etc).
	ErrNoDial = fmt.Errorf("unable to dial broker")

	// ErrInvalidRespSize means the 4-byte length prefix on a response was
	// negative.
	ErrInvalidRespSize = fmt.Errorf("invalid response size")

	// ErrDataLoss reports that a fetch response's recorded offset skipped
	// ahead of what was requested, meaning records between the two were
	// lost (retention, compaction, or a broker bug).
	ErrDataLoss = fmt.Errorf("data loss detected: fetched offset is ahead of requested offset")
)

// ErrLargeRespSize is returned when a broker claims a response body larger
// than the configured MaxBrokerReadBytes, guarding the messenger against
// allocating unbounded memory for a malformed or hostile length prefix.
type ErrLargeRespSize struct {
	Size  int32
	Limit int32
}

func (e *ErrLargeRespSize) Error() string {
	return fmt.Sprintf("response size %d exceeds limit %d", e.Size, e.Limit)
}

// ErrGroupFenced means this member's generation was superseded by a
// rebalance. The consumer-group client does not return this type; it
// recognizes fencing errors through isSessionFence instead.
type ErrGroupFenced struct {
	Group string
}

func (e *ErrGroupFenced) Error() string {
	return fmt.Sprintf("consumer group %q fenced this member out of its generation", e.Group)
}

// ErrUnknownBroker is returned by Client.connect when the topology cache
// has no entry for a broker id; per spec.md §4.4 the caller is expected to
// refresh metadata and retry.
type ErrUnknownBroker struct {
	ID int32
}

func (e *ErrUnknownBroker) Error() string {
	return fmt.Sprintf("broker id %d is not present in the topology cache", e.ID)
}

// ErrRetriesExhausted is returned by the retry controller when
// RetryPolicy.MaxTries attempts have failed, wrapping the last underlying
// cause (a cancelled or expired context returns ctx.Err() instead), per
// spec.md §7's "Retry exhausted" error kind.
type ErrRetriesExhausted struct {
	Tries int
	Last  error
}

func (e *ErrRetriesExhausted) Error() string {
	return fmt.Sprintf("kgo: retries exhausted after %d attempts: %v", e.Tries, e.Last)
}

func (e *ErrRetriesExhausted) Unwrap() error { return e.Last }
