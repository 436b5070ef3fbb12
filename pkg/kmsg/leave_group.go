package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// LeaveGroupRequestMember is one member to remove from the group. Versions
// before 3 only support leaving as the single calling member; this client
// always sends exactly one entry, matching the decided best-effort,
// non-retried semantics of a graceful group departure.
type LeaveGroupRequestMember struct {
	MemberID        string
	GroupInstanceID *string
}

// LeaveGroupRequest departs a consumer group, the Left transition of the
// group session state machine (spec.md §4.8).
type LeaveGroupRequest struct {
	versioned

	Group    string
	MemberID string
	Members  []LeaveGroupRequestMember
}

func (*LeaveGroupRequest) Key() ApiKey            { return LeaveGroup }
func (*LeaveGroupRequest) MaxVersion() int16      { return SupportedVersions[LeaveGroup].Max }
func (r *LeaveGroupRequest) IsFlexible() bool     { return IsFlexibleAt(LeaveGroup, r.version) }
func (*LeaveGroupRequest) ResponseKind() Response { return &LeaveGroupResponse{} }

func (r *LeaveGroupRequest) AppendTo(dst []byte) []byte {
	flex := r.IsFlexible()
	dst = appendStr(dst, r.Group, flex)
	if r.version < 3 {
		dst = appendStr(dst, r.MemberID, flex)
	} else {
		dst = appendArrayLen(dst, len(r.Members), flex)
		for _, m := range r.Members {
			dst = appendStr(dst, m.MemberID, flex)
			dst = appendNullableStr(dst, m.GroupInstanceID, flex)
			if flex {
				dst = kbin.AppendEmptyTags(dst)
			}
		}
	}
	if flex {
		dst = kbin.AppendEmptyTags(dst)
	}
	return dst
}

// LeaveGroupResponseMember is one member's departure result (v3+).
type LeaveGroupResponseMember struct {
	MemberID        string
	GroupInstanceID *string
	ErrorCode       int16
}

// LeaveGroupResponse confirms group departure.
type LeaveGroupResponse struct {
	versioned

	ThrottleMillis int32
	ErrorCode      int16
	Members        []LeaveGroupResponseMember
}

func (*LeaveGroupResponse) Key() ApiKey        { return LeaveGroup }
func (r *LeaveGroupResponse) IsFlexible() bool { return ResponseIsFlexibleAt(LeaveGroup, r.version) }
func (r *LeaveGroupResponse) Throttle() int32  { return r.ThrottleMillis }

func (r *LeaveGroupResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	flex := r.IsFlexible()

	if r.version >= 1 {
		r.ThrottleMillis = b.Int32()
	}
	r.ErrorCode = b.Int16()
	if r.version >= 3 {
		nm := arrayLen(&b, flex)
		r.Members = make([]LeaveGroupResponseMember, nm)
		for i := range r.Members {
			m := &r.Members[i]
			m.MemberID = readStr(&b, flex)
			m.GroupInstanceID = readNullableStr(&b, flex)
			m.ErrorCode = b.Int16()
			if flex {
				b.SkipTags()
			}
		}
	}
	if flex {
		b.SkipTags()
	}
	return b.Complete()
}
