package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// SyncGroupRequestAssignment is one member's computed partition assignment,
// submitted only by the group leader.
type SyncGroupRequestAssignment struct {
	MemberID   string
	Assignment []byte
}

// SyncGroupRequest submits (leader) or fetches (follower) the group's
// partition assignment for the current generation, completing the Joining
// to Synced transition (spec.md §4.8).
type SyncGroupRequest struct {
	versioned

	Group           string
	GenerationID    int32
	MemberID        string
	GroupInstanceID *string
	ProtocolType    *string
	ProtocolName    *string
	Assignments     []SyncGroupRequestAssignment
}

func (*SyncGroupRequest) Key() ApiKey            { return SyncGroup }
func (*SyncGroupRequest) MaxVersion() int16      { return SupportedVersions[SyncGroup].Max }
func (r *SyncGroupRequest) IsFlexible() bool     { return IsFlexibleAt(SyncGroup, r.version) }
func (*SyncGroupRequest) ResponseKind() Response { return &SyncGroupResponse{} }

func (r *SyncGroupRequest) AppendTo(dst []byte) []byte {
	flex := r.IsFlexible()
	dst = appendStr(dst, r.Group, flex)
	dst = kbin.AppendInt32(dst, r.GenerationID)
	dst = appendStr(dst, r.MemberID, flex)
	if r.version >= 5 {
		dst = appendNullableStr(dst, r.GroupInstanceID, flex)
	}
	if r.version >= 5 {
		dst = appendNullableStr(dst, r.ProtocolType, flex)
		dst = appendNullableStr(dst, r.ProtocolName, flex)
	}
	dst = appendArrayLen(dst, len(r.Assignments), flex)
	for _, a := range r.Assignments {
		dst = appendStr(dst, a.MemberID, flex)
		dst = appendBytesField(dst, a.Assignment, flex)
		if flex {
			dst = kbin.AppendEmptyTags(dst)
		}
	}
	if flex {
		dst = kbin.AppendEmptyTags(dst)
	}
	return dst
}

// SyncGroupResponse carries this member's resolved partition assignment.
type SyncGroupResponse struct {
	versioned

	ThrottleMillis int32
	ErrorCode      int16
	ProtocolType   *string
	ProtocolName   *string
	Assignment     []byte
}

func (*SyncGroupResponse) Key() ApiKey        { return SyncGroup }
func (r *SyncGroupResponse) IsFlexible() bool { return ResponseIsFlexibleAt(SyncGroup, r.version) }
func (r *SyncGroupResponse) Throttle() int32  { return r.ThrottleMillis }

func (r *SyncGroupResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	flex := r.IsFlexible()

	if r.version >= 1 {
		r.ThrottleMillis = b.Int32()
	}
	r.ErrorCode = b.Int16()
	if r.version >= 5 {
		r.ProtocolType = readNullableStr(&b, flex)
		r.ProtocolName = readNullableStr(&b, flex)
	}
	r.Assignment = readBytesField(&b, flex)
	if flex {
		b.SkipTags()
	}
	return b.Complete()
}
