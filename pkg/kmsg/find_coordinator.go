package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// Coordinator key types, per spec.md §4.6.
const (
	CoordinatorKeyGroup int8 = 0
	CoordinatorKeyTxn   int8 = 1
)

// FindCoordinatorRequest locates the group (or transaction) coordinator
// broker for a given key, per spec.md §4.6.
type FindCoordinatorRequest struct {
	versioned

	CoordinatorKey  string
	CoordinatorType int8
}

func (*FindCoordinatorRequest) Key() ApiKey            { return FindCoordinator }
func (*FindCoordinatorRequest) MaxVersion() int16      { return SupportedVersions[FindCoordinator].Max }
func (r *FindCoordinatorRequest) IsFlexible() bool     { return IsFlexibleAt(FindCoordinator, r.version) }
func (*FindCoordinatorRequest) ResponseKind() Response { return &FindCoordinatorResponse{} }

func (r *FindCoordinatorRequest) AppendTo(dst []byte) []byte {
	flex := r.IsFlexible()
	dst = appendStr(dst, r.CoordinatorKey, flex)
	if r.version >= 1 {
		dst = kbin.AppendInt8(dst, r.CoordinatorType)
	}
	if flex {
		dst = kbin.AppendEmptyTags(dst)
	}
	return dst
}

// FindCoordinatorResponse names the coordinator broker for the requested
// key.
type FindCoordinatorResponse struct {
	versioned

	ThrottleMillis int32
	ErrorCode      int16
	ErrorMessage   *string
	NodeID         int32
	Host           string
	Port           int32
}

func (*FindCoordinatorResponse) Key() ApiKey { return FindCoordinator }
func (r *FindCoordinatorResponse) IsFlexible() bool {
	return ResponseIsFlexibleAt(FindCoordinator, r.version)
}
func (r *FindCoordinatorResponse) Throttle() int32 { return r.ThrottleMillis }

func (r *FindCoordinatorResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	flex := r.IsFlexible()

	if r.version >= 1 {
		r.ThrottleMillis = b.Int32()
	}
	r.ErrorCode = b.Int16()
	if r.version >= 1 {
		r.ErrorMessage = readNullableStr(&b, flex)
	}
	r.NodeID = b.Int32()
	r.Host = readStr(&b, flex)
	r.Port = b.Int32()
	if flex {
		b.SkipTags()
	}
	return b.Complete()
}
