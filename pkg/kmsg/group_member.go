package kmsg

import "github.com/twmb/kgocore/pkg/kbin"

// The "consumer" protocol type's embedded formats. These ride inside
// JoinGroup protocol metadata and SyncGroup assignments as opaque bytes;
// the coordinator never inspects them. They always use the classic
// (non-compact) encoding regardless of the carrying request's version.

// ConsumerMemberMetadata is what a group member advertises when joining:
// the topics it wants and optional opaque user data.
type ConsumerMemberMetadata struct {
	Version  int16
	Topics   []string
	UserData []byte
}

// AppendTo appends m in wire form to dst and returns the extended slice.
func (m *ConsumerMemberMetadata) AppendTo(dst []byte) []byte {
	dst = kbin.AppendInt16(dst, m.Version)
	dst = kbin.AppendArrayLen(dst, len(m.Topics))
	for _, t := range m.Topics {
		dst = kbin.AppendString(dst, t)
	}
	dst = kbin.AppendNullableBytes(dst, m.UserData)
	return dst
}

// ReadFrom decodes src into m.
func (m *ConsumerMemberMetadata) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	m.Version = b.Int16()
	n := b.ArrayLen()
	if n > 0 {
		m.Topics = make([]string, n)
		for i := range m.Topics {
			m.Topics[i] = b.String()
		}
	}
	m.UserData = b.NullableBytes()
	return b.Complete()
}

// ConsumerMemberAssignmentTopic is one topic's partitions assigned to a
// member.
type ConsumerMemberAssignmentTopic struct {
	Topic      string
	Partitions []int32
}

// ConsumerMemberAssignment is the per-member slice of the leader's
// computed assignment, delivered back through SyncGroup.
type ConsumerMemberAssignment struct {
	Version  int16
	Topics   []ConsumerMemberAssignmentTopic
	UserData []byte
}

// AppendTo appends a in wire form to dst and returns the extended slice.
func (a *ConsumerMemberAssignment) AppendTo(dst []byte) []byte {
	dst = kbin.AppendInt16(dst, a.Version)
	dst = kbin.AppendArrayLen(dst, len(a.Topics))
	for _, t := range a.Topics {
		dst = kbin.AppendString(dst, t.Topic)
		dst = kbin.AppendArrayLen(dst, len(t.Partitions))
		for _, p := range t.Partitions {
			dst = kbin.AppendInt32(dst, p)
		}
	}
	dst = kbin.AppendNullableBytes(dst, a.UserData)
	return dst
}

// ReadFrom decodes src into a.
func (a *ConsumerMemberAssignment) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	a.Version = b.Int16()
	nt := b.ArrayLen()
	if nt > 0 {
		a.Topics = make([]ConsumerMemberAssignmentTopic, nt)
		for i := range a.Topics {
			t := &a.Topics[i]
			t.Topic = b.String()
			np := b.ArrayLen()
			if np > 0 {
				t.Partitions = make([]int32, np)
				for j := range t.Partitions {
					t.Partitions[j] = b.Int32()
				}
			}
		}
	}
	a.UserData = b.NullableBytes()
	return b.Complete()
}
