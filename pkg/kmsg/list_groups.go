package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// ListGroupsRequest enumerates every group known to one broker. The
// controller client fans this out in parallel across every broker in the
// cached topology and merges the results, degrading per-broker failures
// rather than failing the whole call (SPEC_FULL.md §12).
type ListGroupsRequest struct {
	versioned

	StatesFilter []string
}

func (*ListGroupsRequest) Key() ApiKey            { return ListGroups }
func (*ListGroupsRequest) MaxVersion() int16      { return SupportedVersions[ListGroups].Max }
func (r *ListGroupsRequest) IsFlexible() bool     { return IsFlexibleAt(ListGroups, r.version) }
func (*ListGroupsRequest) ResponseKind() Response { return &ListGroupsResponse{} }

func (r *ListGroupsRequest) AppendTo(dst []byte) []byte {
	flex := r.IsFlexible()
	if r.version >= 4 {
		dst = appendArrayLen(dst, len(r.StatesFilter), flex)
		for _, s := range r.StatesFilter {
			dst = appendStr(dst, s, flex)
		}
	}
	if flex {
		dst = kbin.AppendEmptyTags(dst)
	}
	return dst
}

// ListGroupsResponseGroup is one group's id and protocol type.
type ListGroupsResponseGroup struct {
	Group        string
	ProtocolType string
	GroupState   string
}

// ListGroupsResponse enumerates the groups known to one broker.
type ListGroupsResponse struct {
	versioned

	ThrottleMillis int32
	ErrorCode      int16
	Groups         []ListGroupsResponseGroup
}

func (*ListGroupsResponse) Key() ApiKey        { return ListGroups }
func (r *ListGroupsResponse) IsFlexible() bool { return ResponseIsFlexibleAt(ListGroups, r.version) }
func (r *ListGroupsResponse) Throttle() int32  { return r.ThrottleMillis }

func (r *ListGroupsResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	flex := r.IsFlexible()

	if r.version >= 1 {
		r.ThrottleMillis = b.Int32()
	}
	r.ErrorCode = b.Int16()
	ng := arrayLen(&b, flex)
	r.Groups = make([]ListGroupsResponseGroup, ng)
	for i := range r.Groups {
		g := &r.Groups[i]
		g.Group = readStr(&b, flex)
		g.ProtocolType = readStr(&b, flex)
		if r.version >= 4 {
			g.GroupState = readStr(&b, flex)
		}
		if flex {
			b.SkipTags()
		}
	}
	if flex {
		b.SkipTags()
	}
	return b.Complete()
}
