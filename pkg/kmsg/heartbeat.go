package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// HeartbeatRequest keeps a member's group session alive between poll/sync
// cycles, per spec.md §4.8's Stable-state heartbeat loop.
type HeartbeatRequest struct {
	versioned

	Group           string
	GenerationID    int32
	MemberID        string
	GroupInstanceID *string
}

func (*HeartbeatRequest) Key() ApiKey            { return Heartbeat }
func (*HeartbeatRequest) MaxVersion() int16      { return SupportedVersions[Heartbeat].Max }
func (r *HeartbeatRequest) IsFlexible() bool     { return IsFlexibleAt(Heartbeat, r.version) }
func (*HeartbeatRequest) ResponseKind() Response { return &HeartbeatResponse{} }

func (r *HeartbeatRequest) AppendTo(dst []byte) []byte {
	flex := r.IsFlexible()
	dst = appendStr(dst, r.Group, flex)
	dst = kbin.AppendInt32(dst, r.GenerationID)
	dst = appendStr(dst, r.MemberID, flex)
	if r.version >= 3 {
		dst = appendNullableStr(dst, r.GroupInstanceID, flex)
	}
	if flex {
		dst = kbin.AppendEmptyTags(dst)
	}
	return dst
}

// HeartbeatResponse reports whether the member is still a valid part of
// the group; ErrorCode RebalanceInProgress (27) signals that the caller
// must rejoin (spec.md §4.8 Rebalancing transition).
type HeartbeatResponse struct {
	versioned

	ThrottleMillis int32
	ErrorCode      int16
}

func (*HeartbeatResponse) Key() ApiKey        { return Heartbeat }
func (r *HeartbeatResponse) IsFlexible() bool { return ResponseIsFlexibleAt(Heartbeat, r.version) }
func (r *HeartbeatResponse) Throttle() int32  { return r.ThrottleMillis }

func (r *HeartbeatResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	flex := r.IsFlexible()

	if r.version >= 1 {
		r.ThrottleMillis = b.Int32()
	}
	r.ErrorCode = b.Int16()
	if flex {
		b.SkipTags()
	}
	return b.Complete()
}
