package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// DeleteGroupsRequest deletes one or more empty consumer groups.
type DeleteGroupsRequest struct {
	versioned

	Groups []string
}

func (*DeleteGroupsRequest) Key() ApiKey            { return DeleteGroups }
func (*DeleteGroupsRequest) MaxVersion() int16      { return SupportedVersions[DeleteGroups].Max }
func (r *DeleteGroupsRequest) IsFlexible() bool     { return IsFlexibleAt(DeleteGroups, r.version) }
func (*DeleteGroupsRequest) ResponseKind() Response { return &DeleteGroupsResponse{} }

func (r *DeleteGroupsRequest) AppendTo(dst []byte) []byte {
	flex := r.IsFlexible()
	dst = appendArrayLen(dst, len(r.Groups), flex)
	for _, g := range r.Groups {
		dst = appendStr(dst, g, flex)
	}
	if flex {
		dst = kbin.AppendEmptyTags(dst)
	}
	return dst
}

// DeleteGroupsResponseGroup is one group's deletion result.
type DeleteGroupsResponseGroup struct {
	Group     string
	ErrorCode int16
}

// DeleteGroupsResponse reports per-group deletion success or error.
type DeleteGroupsResponse struct {
	versioned

	ThrottleMillis int32
	Groups         []DeleteGroupsResponseGroup
}

func (*DeleteGroupsResponse) Key() ApiKey { return DeleteGroups }
func (r *DeleteGroupsResponse) IsFlexible() bool {
	return ResponseIsFlexibleAt(DeleteGroups, r.version)
}
func (r *DeleteGroupsResponse) Throttle() int32 { return r.ThrottleMillis }

func (r *DeleteGroupsResponse) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	flex := r.IsFlexible()

	r.ThrottleMillis = b.Int32()
	ng := arrayLen(&b, flex)
	r.Groups = make([]DeleteGroupsResponseGroup, ng)
	for i := range r.Groups {
		r.Groups[i].Group = readStr(&b, flex)
		r.Groups[i].ErrorCode = b.Int16()
		if flex {
			b.SkipTags()
		}
	}
	if flex {
		b.SkipTags()
	}
	return b.Complete()
}
