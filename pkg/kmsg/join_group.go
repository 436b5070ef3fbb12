package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// JoinGroupRequestProtocol is one candidate assignment protocol this member
// offers, with its serialized subscription metadata.
type JoinGroupRequestProtocol struct {
	Name     string
	Metadata []byte
}

// JoinGroupRequest begins or rejoins a consumer group, per spec.md §4.8 and
// the Joining state of the group session state machine.
type JoinGroupRequest struct {
	versioned

	Group                  string
	SessionTimeoutMillis   int32
	RebalanceTimeoutMillis int32
	MemberID               string
	GroupInstanceID        *string
	ProtocolType           string
	Protocols              []JoinGroupRequestProtocol
}

func (*JoinGroupRequest) Key() ApiKey            { return JoinGroup }
func (*JoinGroupRequest) MaxVersion() int16      { return SupportedVersions[JoinGroup].Max }
func (r *JoinGroupRequest) IsFlexible() bool     { return IsFlexibleAt(JoinGroup, r.version) }
func (*JoinGroupRequest) ResponseKind() Response { return &JoinGroupResponse{} }

func (r *JoinGroupRequest) AppendTo(dst []byte) []byte {
	flex := r.IsFlexible()
	dst = appendStr(dst, r.Group, flex)
	dst = kbin.AppendInt32(dst, r.SessionTimeoutMillis)
	if r.version >= 1 {
		dst = kbin.AppendInt32(dst, r.RebalanceTimeoutMillis)
	}
	dst = appendStr(dst, r.MemberID, flex)
	if r.version >= 5 {
		dst = appendNullableStr(dst, r.GroupInstanceID, flex)
	}
	dst = appendStr(dst, r.ProtocolType, flex)
	dst = appendArrayLen(dst, len(r.Protocols), flex)
	for _, p := range r.Protocols {
		dst = appendStr(dst, p.Name, flex)
		dst = appendBytesField(dst, p.Metadata, flex)
		if flex {
			dst = kbin.AppendEmptyTags(dst)
		}
	}
	if flex {
		dst = kbin.AppendEmptyTags(dst)
	}
	return dst
}

// JoinGroupResponseMember is one group member and its subscription
// metadata, present only in the leader's response (spec.md §4.8).
type JoinGroupResponseMember struct {
	MemberID        string
	GroupInstanceID *string
	Metadata        []byte
}

// JoinGroupResponse reports the group generation, chosen protocol, leader,
// this member's assigned id, and, if this member is the leader, every
// member's metadata for partition assignment.
type JoinGroupResponse struct {
	versioned

	ThrottleMillis int32
	ErrorCode      int16
	GenerationID   int32
	ProtocolType   *string
	ProtocolName   *string
	Leader         string
	MemberID       string
	Members        []JoinGroupResponseMember
}

func (*JoinGroupResponse) Key() ApiKey        { return JoinGroup }
func (r *JoinGroupResponse) IsFlexible() bool { return ResponseIsFlexibleAt(JoinGroup, r.version) }
func (r *JoinGroupResponse) Throttle() int32  { return r.ThrottleMillis }

// IsLeader reports whether this member was elected group leader and must
// therefore compute and submit assignments via SyncGroup.
func (r *JoinGroupResponse) IsLeader() bool { return r.MemberID == r.Leader }

func (r *JoinGroupResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	flex := r.IsFlexible()

	if r.version >= 2 {
		r.ThrottleMillis = b.Int32()
	}
	r.ErrorCode = b.Int16()
	r.GenerationID = b.Int32()
	if r.version >= 7 {
		r.ProtocolType = readNullableStr(&b, flex)
	}
	if r.version >= 7 {
		r.ProtocolName = readNullableStr(&b, flex)
	} else {
		name := readStr(&b, flex)
		r.ProtocolName = &name
	}
	r.Leader = readStr(&b, flex)
	r.MemberID = readStr(&b, flex)
	nm := arrayLen(&b, flex)
	r.Members = make([]JoinGroupResponseMember, nm)
	for i := range r.Members {
		m := &r.Members[i]
		m.MemberID = readStr(&b, flex)
		if r.version >= 5 {
			m.GroupInstanceID = readNullableStr(&b, flex)
		}
		m.Metadata = readBytesField(&b, flex)
		if flex {
			b.SkipTags()
		}
	}
	if flex {
		b.SkipTags()
	}
	return b.Complete()
}
