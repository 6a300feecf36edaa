package wire

import (
	"bytes"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("hello frame")
	if err := WriteFrame(&buf, body); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("got %q, want %q", got, body)
	}
}

func TestSyscallRoundTrip(t *testing.T) {
	s := &Syscall{
		Kind:     SyscallFsWrite,
		Path:     ":gh_repo:yue:mydata.txt",
		Data:     []byte("payload"),
		Fd:       42,
		ToBlob:   true,
	}
	data := s.Marshal()
	got, err := UnmarshalSyscall(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Kind != s.Kind || got.Path != s.Path || !bytes.Equal(got.Data, s.Data) || got.Fd != s.Fd || got.ToBlob != s.ToBlob {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, s)
	}
}

func TestSyscallZeroValuesElided(t *testing.T) {
	s := &Syscall{Kind: SyscallGetCurrentLabel}
	data := s.Marshal()
	got, err := UnmarshalSyscall(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Kind != SyscallGetCurrentLabel || got.Path != "" || got.Fd != 0 || got.ToBlob {
		t.Fatalf("unexpected non-zero fields: %+v", got)
	}
}

func TestResponseRoundTripWithNames(t *testing.T) {
	r := &Response{Success: true, Names: []string{"a", "b", "c"}, Label: "T , T"}
	data := r.Marshal()
	got, err := UnmarshalResponse(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Success || got.Label != r.Label || len(got.Names) != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	for i, n := range r.Names {
		if got.Names[i] != n {
			t.Fatalf("names[%d] = %q, want %q", i, got.Names[i], n)
		}
	}
}

func TestTaskReturnRoundTrip(t *testing.T) {
	tr := &TaskReturn{Code: CodeQueueFull, Payload: []byte("x")}
	data := tr.Marshal()
	got, err := UnmarshalTaskReturn(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Code != CodeQueueFull || !bytes.Equal(got.Payload, tr.Payload) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestNodeInfoHeartbeatStaleness(t *testing.T) {
	n := &NodeInfo{
		NodeID:        "worker-1",
		FreeMemMiB:    4096,
		CachedFns:     []string{"fn-a", "fn-b"},
		LastHeartbeat: timestamppb.Now(),
	}
	data := n.Marshal()
	got, err := UnmarshalNodeInfo(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.NodeID != n.NodeID || got.FreeMemMiB != n.FreeMemMiB || len(got.CachedFns) != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Stale(time.Hour) {
		t.Fatalf("fresh heartbeat reported stale")
	}
	old := &NodeInfo{LastHeartbeat: timestamppb.New(time.Now().Add(-time.Hour))}
	if !old.Stale(time.Minute) {
		t.Fatalf("old heartbeat not reported stale")
	}
	var zero NodeInfo
	if !zero.Stale(time.Hour) {
		t.Fatalf("missing heartbeat should be stale")
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	if _, err := UnmarshalSyscall([]byte{0xff}); err != ErrMalformed {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}
