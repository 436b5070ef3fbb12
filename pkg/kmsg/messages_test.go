package kmsg

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/twmb/kgocore/pkg/kbin"
)

func TestConsumerMemberMetadataRoundTrip(t *testing.T) {
	in := ConsumerMemberMetadata{
		Topics:   []string{"orders", "payments"},
		UserData: []byte("opaque"),
	}
	var out ConsumerMemberMetadata
	if err := out.ReadFrom(in.AppendTo(nil)); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestConsumerMemberAssignmentRoundTrip(t *testing.T) {
	in := ConsumerMemberAssignment{
		Version: 1,
		Topics: []ConsumerMemberAssignmentTopic{
			{Topic: "orders", Partitions: []int32{0, 2, 4}},
			{Topic: "payments", Partitions: []int32{1}},
		},
	}
	var out ConsumerMemberAssignment
	if err := out.ReadFrom(in.AppendTo(nil)); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	// Writing what was read must be byte-identical (idempotent
	// normalization).
	a, b := in.AppendTo(nil), out.AppendTo(nil)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("re-encode not byte identical:\n%s", diff)
	}
}

func TestJoinGroupResponseDecode(t *testing.T) {
	// JoinGroup v5: throttle, error, generation, protocol name, leader,
	// member id, members (id, instance id, metadata).
	instance := "inst-1"
	var src []byte
	src = kbin.AppendInt32(src, 25)  // throttle
	src = kbin.AppendInt16(src, 0)   // error
	src = kbin.AppendInt32(src, 7)   // generation
	src = kbin.AppendString(src, "roundrobin")
	src = kbin.AppendString(src, "m-leader")
	src = kbin.AppendString(src, "m-leader")
	src = kbin.AppendArrayLen(src, 1)
	src = kbin.AppendString(src, "m-leader")
	src = kbin.AppendNullableString(src, &instance)
	src = kbin.AppendNullableBytes(src, []byte("meta"))

	resp := &JoinGroupResponse{}
	resp.SetVersion(5)
	if err := resp.ReadFrom(src); err != nil {
		t.Fatal(err)
	}
	if resp.GenerationID != 7 || resp.Leader != "m-leader" || !resp.IsLeader() {
		t.Fatalf("decoded response wrong: %+v", resp)
	}
	if resp.ProtocolName == nil || *resp.ProtocolName != "roundrobin" {
		t.Fatalf("protocol name: %v", resp.ProtocolName)
	}
	if len(resp.Members) != 1 || string(resp.Members[0].Metadata) != "meta" {
		t.Fatalf("members: %+v", resp.Members)
	}
	if resp.Throttle() != 25 {
		t.Fatalf("throttle: %d", resp.Throttle())
	}
}

func TestSyncGroupRequestEncode(t *testing.T) {
	req := &SyncGroupRequest{
		Group:        "g",
		GenerationID: 3,
		MemberID:     "m",
		Assignments: []SyncGroupRequestAssignment{
			{MemberID: "m", Assignment: []byte{1, 2}},
		},
	}
	req.SetVersion(3) // pre-instance-id, non-flexible

	b := kbin.Reader{Src: req.AppendTo(nil)}
	if got := b.String(); got != "g" {
		t.Fatalf("group: %q", got)
	}
	if got := b.Int32(); got != 3 {
		t.Fatalf("generation: %d", got)
	}
	if got := b.String(); got != "m" {
		t.Fatalf("member: %q", got)
	}
	if got := b.ArrayLen(); got != 1 {
		t.Fatalf("assignments len: %d", got)
	}
	if got := b.String(); got != "m" {
		t.Fatalf("assignment member: %q", got)
	}
	if got := b.NullableBytes(); len(got) != 2 {
		t.Fatalf("assignment bytes: %v", got)
	}
	if err := b.Complete(); err != nil {
		t.Fatal(err)
	}
}

func TestMetadataResponseDecodeV4(t *testing.T) {
	cluster := "c1"
	var src []byte
	src = kbin.AppendInt32(src, 0) // throttle (v3+)
	src = kbin.AppendArrayLen(src, 1)
	src = kbin.AppendInt32(src, 1) // node id
	src = kbin.AppendString(src, "broker-1")
	src = kbin.AppendInt32(src, 9092)
	src = kbin.AppendNullableString(src, nil) // rack
	src = kbin.AppendNullableString(src, &cluster)
	src = kbin.AppendInt32(src, 1) // controller
	src = kbin.AppendArrayLen(src, 1)
	src = kbin.AppendInt16(src, 0) // topic error
	src = kbin.AppendString(src, "t")
	src = kbin.AppendBool(src, false) // internal
	src = kbin.AppendArrayLen(src, 1)
	src = kbin.AppendInt16(src, 0) // partition error
	src = kbin.AppendInt32(src, 0) // partition
	src = kbin.AppendInt32(src, 1) // leader
	src = kbin.AppendArrayLen(src, 1)
	src = kbin.AppendInt32(src, 1) // replica
	src = kbin.AppendArrayLen(src, 1)
	src = kbin.AppendInt32(src, 1) // isr

	resp := &MetadataResponse{}
	resp.SetVersion(4)
	if err := resp.ReadFrom(src); err != nil {
		t.Fatal(err)
	}
	want := &MetadataResponse{
		Brokers:      []MetadataResponseBroker{{NodeID: 1, Host: "broker-1", Port: 9092}},
		ClusterID:    &cluster,
		ControllerID: 1,
		Topics: []MetadataResponseTopic{{
			Topic: "t",
			Partitions: []MetadataResponsePartition{{
				Partition: 0, Leader: 1, LeaderEpoch: -1,
				Replicas: []int32{1}, IsrNodes: []int32{1},
			}},
		}},
	}
	want.SetVersion(4)
	if diff := cmp.Diff(want, resp, cmp.AllowUnexported(versioned{}, MetadataResponse{})); diff != "" {
		t.Fatalf("decode mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestFormatterHeaderVersions(t *testing.T) {
	clientID := "test-client"
	f := &RequestFormatter{ClientID: &clientID}

	// Metadata v4 is not flexible: header v1 (no tag section).
	md := &MetadataRequest{}
	md.SetVersion(4)
	wire := f.AppendRequest(nil, md, 42)

	b := kbin.Reader{Src: wire}
	if size := b.Int32(); int(size) != len(wire)-4 {
		t.Fatalf("length prefix %d does not cover %d body bytes", size, len(wire)-4)
	}
	if key := b.Int16(); key != int16(Metadata) {
		t.Fatalf("api key: %d", key)
	}
	if v := b.Int16(); v != 4 {
		t.Fatalf("version: %d", v)
	}
	if id := b.Int32(); id != 42 {
		t.Fatalf("correlation id: %d", id)
	}
	if got := b.NullableString(); got == nil || *got != clientID {
		t.Fatalf("client id: %v", got)
	}

	// FindCoordinator v3 is flexible: header v2 appends a tag section
	// after the client id.
	fc := &FindCoordinatorRequest{CoordinatorKey: "g", CoordinatorType: CoordinatorKeyGroup}
	fc.SetVersion(3)
	wire = f.AppendRequest(nil, fc, 7)
	b = kbin.Reader{Src: wire}
	b.Int32()
	b.Int16()
	b.Int16()
	b.Int32()
	if got := b.NullableString(); got == nil || *got != clientID {
		t.Fatalf("client id: %v", got)
	}
	b.SkipTags()
	// The rest is the flexible body: compact string key then key type.
	if got := b.CompactString(); got != "g" {
		t.Fatalf("flexible body key: %q", got)
	}
	if err := b.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestApiVersionRangeIntersect(t *testing.T) {
	tests := []struct {
		a, b    ApiVersionRange
		want    ApiVersionRange
		overlap bool
	}{
		{ApiVersionRange{0, 5}, ApiVersionRange{3, 9}, ApiVersionRange{3, 5}, true},
		{ApiVersionRange{0, 5}, ApiVersionRange{0, 5}, ApiVersionRange{0, 5}, true},
		{ApiVersionRange{0, 2}, ApiVersionRange{3, 4}, ApiVersionRange{}, false},
	}
	for _, tt := range tests {
		got, ok := tt.a.Intersect(tt.b)
		if ok != tt.overlap || got != tt.want {
			t.Errorf("%v ∩ %v = %v,%v; want %v,%v", tt.a, tt.b, got, ok, tt.want, tt.overlap)
		}
	}
}

// TestApiVersionsResponseNeverFlexible pins the broker quirk: the
// ApiVersions v3 request body is flexible but its response header and
// body are decoded classic.
func TestApiVersionsResponseNeverFlexible(t *testing.T) {
	if !IsFlexibleAt(ApiVersions, 3) {
		t.Fatal("ApiVersions v3 request should be flexible")
	}
	if ResponseIsFlexibleAt(ApiVersions, 3) {
		t.Fatal("ApiVersions v3 response must not be treated as flexible")
	}
	if ResponseHeaderVersion(ApiVersions, 3) != 0 {
		t.Fatal("ApiVersions v3 response header must stay at version 0")
	}
}

func TestApiKeyString(t *testing.T) {
	if JoinGroup.String() != "JoinGroup" {
		t.Fatalf("got %q", JoinGroup.String())
	}
	if got := ApiKey(99).String(); got != "Unknown(99)" {
		t.Fatalf("got %q", got)
	}
	if got := ApiKey(-3).String(); got != "Unknown(-3)" {
		t.Fatalf("got %q", got)
	}
}
