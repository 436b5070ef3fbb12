// Package kerr contains the Kafka broker error code registry: the mapping
// from a response's int16 error code to a typed Error, plus retriability
// classification used by the retry controller in pkg/kgo.
//
// This mirrors the sibling kerr package referenced from the teacher's
// broker.go and consumer.go (kerr.ErrorForCode, kerr.IsRetriable).
package kerr

import "fmt"

// Error is a Kafka broker protocol error. Two Errors are equal if their
// Code fields are equal; use errors.Is or == comparison against the
// package-level sentinels below.
type Error struct {
	Message   string
	Code      int16
	Retriable bool
}

func (e *Error) Error() string { return e.Message }

// Is reports whether target is a *Error with the same Code, so that
// errors.Is(err, kerr.UnknownTopicOrPartition) works even if err has been
// wrapped with fmt.Errorf("%w", ...).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Code == e.Code
}

var code2err = map[int16]*Error{}

func register(code int16, msg string, retriable bool) *Error {
	e := &Error{Message: msg, Code: code, Retriable: retriable}
	code2err[code] = e
	return e
}

// The subset of the Kafka error registry this client's operations can
// encounter, per spec.md §7's error taxonomy. Unknown codes decode to a
// generic *Error via ErrorForCode.
var (
	UnknownServerError            = register(-1, "UNKNOWN_SERVER_ERROR", false)
	NoError                       = register(0, "NONE", false)
	OffsetOutOfRange              = register(1, "OFFSET_OUT_OF_RANGE", false)
	CorruptMessage                = register(2, "CORRUPT_MESSAGE", true)
	UnknownTopicOrPartition       = register(3, "UNKNOWN_TOPIC_OR_PARTITION", true)
	InvalidFetchSize              = register(4, "INVALID_FETCH_SIZE", false)
	LeaderNotAvailable            = register(5, "LEADER_NOT_AVAILABLE", true)
	NotLeaderOrFollower           = register(6, "NOT_LEADER_OR_FOLLOWER", true)
	RequestTimedOut               = register(7, "REQUEST_TIMED_OUT", true)
	BrokerNotAvailable            = register(8, "BROKER_NOT_AVAILABLE", false)
	ReplicaNotAvailable           = register(9, "REPLICA_NOT_AVAILABLE", true)
	MessageTooLarge               = register(10, "MESSAGE_TOO_LARGE", false)
	StaleControllerEpoch          = register(11, "STALE_CONTROLLER_EPOCH", false)
	OffsetMetadataTooLarge        = register(12, "OFFSET_METADATA_TOO_LARGE", false)
	NetworkException               = register(13, "NETWORK_EXCEPTION", true)
	CoordinatorLoadInProgress     = register(14, "COORDINATOR_LOAD_IN_PROGRESS", true)
	CoordinatorNotAvailable       = register(15, "COORDINATOR_NOT_AVAILABLE", true)
	NotCoordinator                = register(16, "NOT_COORDINATOR", true)
	InvalidTopicException         = register(17, "INVALID_TOPIC_EXCEPTION", false)
	RecordListTooLarge            = register(18, "RECORD_LIST_TOO_LARGE", false)
	NotEnoughReplicas              = register(19, "NOT_ENOUGH_REPLICAS", true)
	NotEnoughReplicasAfterAppend  = register(20, "NOT_ENOUGH_REPLICAS_AFTER_APPEND", true)
	InvalidRequiredAcks            = register(21, "INVALID_REQUIRED_ACKS", false)
	IllegalGeneration              = register(22, "ILLEGAL_GENERATION", false)
	InconsistentGroupProtocol      = register(23, "INCONSISTENT_GROUP_PROTOCOL", false)
	InvalidGroupID                 = register(24, "INVALID_GROUP_ID", false)
	UnknownMemberID                = register(25, "UNKNOWN_MEMBER_ID", false)
	InvalidSessionTimeout          = register(26, "INVALID_SESSION_TIMEOUT", false)
	RebalanceInProgress            = register(27, "REBALANCE_IN_PROGRESS", false)
	InvalidCommitOffsetSize        = register(28, "INVALID_COMMIT_OFFSET_SIZE", false)
	TopicAuthorizationFailed       = register(29, "TOPIC_AUTHORIZATION_FAILED", false)
	GroupAuthorizationFailed       = register(30, "GROUP_AUTHORIZATION_FAILED", false)
	ClusterAuthorizationFailed     = register(31, "CLUSTER_AUTHORIZATION_FAILED", false)
	InvalidTimestamp               = register(32, "INVALID_TIMESTAMP", false)
	UnsupportedSaslMechanism       = register(33, "UNSUPPORTED_SASL_MECHANISM", false)
	IllegalSaslState               = register(34, "ILLEGAL_SASL_STATE", false)
	UnsupportedVersion             = register(35, "UNSUPPORTED_VERSION", false)
	TopicAlreadyExists              = register(36, "TOPIC_ALREADY_EXISTS", false)
	InvalidPartitions               = register(37, "INVALID_PARTITIONS", false)
	InvalidReplicationFactor         = register(38, "INVALID_REPLICATION_FACTOR", false)
	InvalidReplicaAssignment         = register(39, "INVALID_REPLICA_ASSIGNMENT", false)
	InvalidConfig                    = register(40, "INVALID_CONFIG", false)
	NotController                   = register(41, "NOT_CONTROLLER", true)
	InvalidRequest                  = register(42, "INVALID_REQUEST", false)
	UnsupportedForMessageFormat      = register(43, "UNSUPPORTED_FOR_MESSAGE_FORMAT", false)
	PolicyViolation                 = register(44, "POLICY_VIOLATION", false)
	FencedLeaderEpoch                = register(74, "FENCED_LEADER_EPOCH", true)
	UnknownLeaderEpoch               = register(75, "UNKNOWN_LEADER_EPOCH", true)
	UnknownTopicID                   = register(100, "UNKNOWN_TOPIC_ID", true)
	MemberIDRequired                 = register(79, "MEMBER_ID_REQUIRED", false)
	FencedInstanceID                 = register(82, "FENCED_INSTANCE_ID", false)
	GroupIDNotFound                  = register(69, "GROUP_ID_NOT_FOUND", false)
)

// ErrorForCode returns the *Error registered for code, or a generic
// *Error wrapping the raw code if it is unregistered. A code of 0 (no
// error) returns nil.
func ErrorForCode(code int16) error {
	if code == 0 {
		return nil
	}
	if e, ok := code2err[code]; ok {
		return e
	}
	return &Error{
		Message:   fmt.Sprintf("UNKNOWN_ERROR_CODE_%d", code),
		Code:      code,
		Retriable: false,
	}
}

// IsRetriable reports whether err is a *Error marked retriable by the
// broker's error registry. Non-kerr errors are not retriable by this
// function's judgment; the retry controller in pkg/kgo separately
// classifies transport/connection errors.
func IsRetriable(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Retriable
}

// TypedErrorForCode is like ErrorForCode but returns the concrete *Error
// type rather than the error interface, for code sites that want it. Code 0
// (no error) returns nil.
func TypedErrorForCode(code int16) *Error {
	if code == 0 {
		return nil
	}
	if e, ok := code2err[code]; ok {
		return e
	}
	return &Error{
		Message:   fmt.Sprintf("UNKNOWN_ERROR_CODE_%d", code),
		Code:      code,
		Retriable: false,
	}
}
