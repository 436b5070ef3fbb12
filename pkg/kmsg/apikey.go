package kmsg

// ApiKey identifies a Kafka request/response message type. Values outside
// the declared enumeration round-trip through Unknown, preserving the raw
// code rather than rejecting it, per spec.md §3.
type ApiKey int16

const (
	Produce          ApiKey = 0
	Fetch            ApiKey = 1
	ListOffsets      ApiKey = 2
	Metadata         ApiKey = 3
	OffsetCommit     ApiKey = 8
	OffsetFetch      ApiKey = 9
	FindCoordinator  ApiKey = 10
	JoinGroup        ApiKey = 11
	Heartbeat        ApiKey = 12
	LeaveGroup       ApiKey = 13
	SyncGroup        ApiKey = 14
	DescribeGroups   ApiKey = 15
	ListGroups       ApiKey = 16
	SaslHandshake    ApiKey = 17
	ApiVersions      ApiKey = 18
	CreateTopics     ApiKey = 19
	DeleteTopics     ApiKey = 20
	DeleteGroups     ApiKey = 42
	SaslAuthenticate ApiKey = 36
)

// MaxKey is the largest ApiKey this client knows about; it sizes the
// per-connection negotiated-version array in the messenger.
const MaxKey = int16(DeleteGroups)

var names = map[ApiKey]string{
	Produce:          "Produce",
	Fetch:            "Fetch",
	ListOffsets:      "ListOffsets",
	Metadata:         "Metadata",
	OffsetCommit:     "OffsetCommit",
	OffsetFetch:      "OffsetFetch",
	FindCoordinator:  "FindCoordinator",
	JoinGroup:        "JoinGroup",
	Heartbeat:        "Heartbeat",
	LeaveGroup:       "LeaveGroup",
	SyncGroup:        "SyncGroup",
	DescribeGroups:   "DescribeGroups",
	ListGroups:       "ListGroups",
	SaslHandshake:    "SaslHandshake",
	ApiVersions:      "ApiVersions",
	CreateTopics:     "CreateTopics",
	DeleteTopics:     "DeleteTopics",
	DeleteGroups:     "DeleteGroups",
	SaslAuthenticate: "SaslAuthenticate",
}

// String returns the human name of a known key, or "Unknown(n)" for an
// unrecognized code.
func (k ApiKey) String() string {
	if name, ok := names[k]; ok {
		return name
	}
	return "Unknown(" + itoa(int16(k)) + ")"
}

func itoa(i int16) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	u := uint16(i)
	if neg {
		u = uint16(-i)
	}
	var buf [6]byte
	p := len(buf)
	for u > 0 {
		p--
		buf[p] = byte('0' + u%10)
		u /= 10
	}
	if neg {
		p--
		buf[p] = '-'
	}
	return string(buf[p:])
}

// ApiVersionRange is an inclusive [Min,Max] supported version range for one
// ApiKey.
type ApiVersionRange struct {
	Min int16
	Max int16
}

// Intersect returns the inclusive overlap of two ranges and whether any
// overlap exists. An empty intersection means "unsupported for this
// connection," per spec.md §4.3.3.
func (r ApiVersionRange) Intersect(other ApiVersionRange) (ApiVersionRange, bool) {
	min := r.Min
	if other.Min > min {
		min = other.Min
	}
	max := r.Max
	if other.Max < max {
		max = other.Max
	}
	if min > max {
		return ApiVersionRange{}, false
	}
	return ApiVersionRange{Min: min, Max: max}, true
}

// SupportedVersions is the declared, inclusive version range every request
// type in this package supports, taken from spec.md §6.
var SupportedVersions = map[ApiKey]ApiVersionRange{
	Produce:          {Min: 0, Max: 9},
	Fetch:            {Min: 4, Max: 4},
	ListOffsets:      {Min: 0, Max: 3},
	Metadata:         {Min: 0, Max: 4},
	OffsetCommit:     {Min: 0, Max: 7},
	OffsetFetch:      {Min: 0, Max: 5},
	FindCoordinator:  {Min: 1, Max: 3},
	JoinGroup:        {Min: 0, Max: 5},
	Heartbeat:        {Min: 0, Max: 3},
	LeaveGroup:       {Min: 0, Max: 5},
	SyncGroup:        {Min: 0, Max: 5},
	DescribeGroups:   {Min: 0, Max: 4},
	ListGroups:       {Min: 0, Max: 0},
	SaslHandshake:    {Min: 1, Max: 1},
	ApiVersions:      {Min: 0, Max: 3},
	CreateTopics:     {Min: 0, Max: 5},
	DeleteTopics:     {Min: 0, Max: 5},
	DeleteGroups:     {Min: 0, Max: 2},
	SaslAuthenticate: {Min: 0, Max: 2},
}

// FirstTaggedFieldInRequestVersion is, per key, the minimum request version
// at which the request header and body use tagged fields (KIP-482
// "flexible" versions).
var FirstTaggedFieldInRequestVersion = map[ApiKey]int16{
	Produce:          9,
	Fetch:            12,
	ListOffsets:      6,
	Metadata:         9,
	OffsetCommit:     8,
	OffsetFetch:      6,
	FindCoordinator:  3,
	JoinGroup:        6,
	Heartbeat:        4,
	LeaveGroup:       4,
	SyncGroup:        4,
	DescribeGroups:   5,
	ListGroups:       3,
	SaslHandshake:    32767, // never flexible
	ApiVersions:      3,
	CreateTopics:     5,
	DeleteTopics:     4,
	DeleteGroups:     2,
	SaslAuthenticate: 2,
}

// sentinelNeverFlexible is FIRST_TAGGED_FIELD_IN_RESPONSE_VERSION = i16::MAX
// from spec.md §9's open question on ApiVersions v3: some brokers omit
// response tagged fields even though the protocol document says v3 is
// flexible. We mirror the quirk here rather than guess.
const sentinelNeverFlexible = int16(32767)

// FirstTaggedFieldInResponseVersion mirrors FirstTaggedFieldInRequestVersion
// for responses. ApiVersions is pinned to the sentinel per the above quirk.
var FirstTaggedFieldInResponseVersion = map[ApiKey]int16{
	Produce:          9,
	Fetch:            12,
	ListOffsets:      6,
	Metadata:         9,
	OffsetCommit:     8,
	OffsetFetch:      6,
	FindCoordinator:  3,
	JoinGroup:        6,
	Heartbeat:        4,
	LeaveGroup:       4,
	SyncGroup:        4,
	DescribeGroups:   5,
	ListGroups:       3,
	SaslHandshake:    32767,
	ApiVersions:      sentinelNeverFlexible,
	CreateTopics:     5,
	DeleteTopics:     4,
	DeleteGroups:     2,
	SaslAuthenticate: 2,
}

// IsFlexibleAt reports whether version v of key uses tagged-field request
// encoding.
func IsFlexibleAt(key ApiKey, v int16) bool {
	first, ok := FirstTaggedFieldInRequestVersion[key]
	return ok && v >= first
}

// ResponseIsFlexibleAt reports whether version v of key uses tagged-field
// response encoding.
func ResponseIsFlexibleAt(key ApiKey, v int16) bool {
	first, ok := FirstTaggedFieldInResponseVersion[key]
	return ok && first != sentinelNeverFlexible && v >= first
}
