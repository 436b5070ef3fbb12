package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// DescribeGroupsRequest describes one or more consumer groups' state and
// membership, per spec.md §4.6's controller client operations and the
// variadic DescribeGroups(...string) supplement (SPEC_FULL.md §12).
type DescribeGroupsRequest struct {
	versioned

	Groups                    []string
	IncludeAuthorizedOperations bool
}

func (*DescribeGroupsRequest) Key() ApiKey            { return DescribeGroups }
func (*DescribeGroupsRequest) MaxVersion() int16      { return SupportedVersions[DescribeGroups].Max }
func (r *DescribeGroupsRequest) IsFlexible() bool     { return IsFlexibleAt(DescribeGroups, r.version) }
func (*DescribeGroupsRequest) ResponseKind() Response { return &DescribeGroupsResponse{} }

func (r *DescribeGroupsRequest) AppendTo(dst []byte) []byte {
	flex := r.IsFlexible()
	dst = appendArrayLen(dst, len(r.Groups), flex)
	for _, g := range r.Groups {
		dst = appendStr(dst, g, flex)
	}
	if r.version >= 3 {
		dst = kbin.AppendBool(dst, r.IncludeAuthorizedOperations)
	}
	if flex {
		dst = kbin.AppendEmptyTags(dst)
	}
	return dst
}

// DescribeGroupsResponseMember is one member's current assignment within a
// described group.
type DescribeGroupsResponseMember struct {
	MemberID         string
	GroupInstanceID  *string
	ClientID         string
	ClientHost       string
	MemberMetadata   []byte
	MemberAssignment []byte
}

// DescribeGroupsResponseGroup is one group's full description.
type DescribeGroupsResponseGroup struct {
	ErrorCode    int16
	Group        string
	State        string
	ProtocolType string
	Protocol     string
	Members      []DescribeGroupsResponseMember
}

// DescribeGroupsResponse reports the state and membership of each
// requested group.
type DescribeGroupsResponse struct {
	versioned

	ThrottleMillis int32
	Groups         []DescribeGroupsResponseGroup
}

func (*DescribeGroupsResponse) Key() ApiKey { return DescribeGroups }
func (r *DescribeGroupsResponse) IsFlexible() bool {
	return ResponseIsFlexibleAt(DescribeGroups, r.version)
}
func (r *DescribeGroupsResponse) Throttle() int32 { return r.ThrottleMillis }

func (r *DescribeGroupsResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	flex := r.IsFlexible()

	if r.version >= 1 {
		r.ThrottleMillis = b.Int32()
	}
	ng := arrayLen(&b, flex)
	r.Groups = make([]DescribeGroupsResponseGroup, ng)
	for i := range r.Groups {
		g := &r.Groups[i]
		g.ErrorCode = b.Int16()
		g.Group = readStr(&b, flex)
		g.State = readStr(&b, flex)
		g.ProtocolType = readStr(&b, flex)
		g.Protocol = readStr(&b, flex)
		nm := arrayLen(&b, flex)
		g.Members = make([]DescribeGroupsResponseMember, nm)
		for j := range g.Members {
			m := &g.Members[j]
			m.MemberID = readStr(&b, flex)
			if r.version >= 4 {
				m.GroupInstanceID = readNullableStr(&b, flex)
			}
			m.ClientID = readStr(&b, flex)
			m.ClientHost = readStr(&b, flex)
			m.MemberMetadata = readBytesField(&b, flex)
			m.MemberAssignment = readBytesField(&b, flex)
			if flex {
				b.SkipTags()
			}
		}
		if r.version >= 3 {
			b.Int32() // authorized operations bitfield, unused by this client
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
