package syscallproc

import (
	"io"
	"testing"

	"faasten/internal/blobstore"
	"faasten/internal/githubapi"
	"faasten/internal/kv"
	"faasten/internal/kv/memstore"
	"faasten/internal/label"
	"faasten/internal/objstore"
	"faasten/internal/wire"
)

// fakeStream feeds a scripted sequence of guest Syscall frames to a
// Processor and records every Response it sends back.
type fakeStream struct {
	reqs      []*wire.Syscall
	idx       int
	responses []*wire.Response
}

func (f *fakeStream) RecvFrame() ([]byte, error) {
	if f.idx >= len(f.reqs) {
		return nil, io.EOF
	}
	sc := f.reqs[f.idx]
	f.idx++
	return sc.Marshal(), nil
}

func (f *fakeStream) SendFrame(body []byte) error {
	resp, err := wire.UnmarshalResponse(body)
	if err != nil {
		return err
	}
	f.responses = append(f.responses, resp)
	return nil
}

type stubInvoker struct {
	fn func(function string, payload []byte) ([]byte, error)
}

func (s stubInvoker) Invoke(function string, payload []byte, _ label.Buckle, _ label.Component, _ label.Buckle) ([]byte, error) {
	return s.fn(function, payload)
}

func newFixture(t *testing.T, priv label.Component) (*Processor, *fakeStream, kv.Store) {
	t.Helper()
	store := memstore.New()
	graph := objstore.New(store)
	if err := graph.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	base := t.TempDir()
	blobs, err := blobstore.New(base+"/blobs", base+"/tmp")
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	stream := &fakeStream{}
	invoker := stubInvoker{fn: func(string, []byte) ([]byte, error) { return nil, nil }}
	proc := New(stream, graph, store, blobs, githubapi.NewClient(), invoker, label.Public(), priv, label.Top())
	return proc, stream, store
}

func finish(reqs ...*wire.Syscall) []*wire.Syscall {
	return append(reqs, &wire.Syscall{Kind: wire.SyscallResponse, Payload: []byte("done")})
}

func TestFsCreateWriteReadListRoundTrip(t *testing.T) {
	proc, stream, _ := newFixture(t, label.True())
	stream.reqs = finish(
		&wire.Syscall{Kind: wire.SyscallFsCreateDir, Path: "foo"},
		&wire.Syscall{Kind: wire.SyscallFsCreateFile, Path: "foo:bar"},
		&wire.Syscall{Kind: wire.SyscallFsWrite, Path: "foo:bar", Data: []byte("hello")},
		&wire.Syscall{Kind: wire.SyscallFsRead, Path: "foo:bar"},
		&wire.Syscall{Kind: wire.SyscallFsList, Path: "foo"},
	)
	final, err := proc.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(final) != "done" {
		t.Fatalf("final payload = %q", final)
	}
	for i, r := range stream.responses {
		if !r.Success {
			t.Fatalf("response %d failed: %s", i, r.Message)
		}
	}
	if string(stream.responses[3].Payload) != "hello" {
		t.Fatalf("read payload = %q, want hello", stream.responses[3].Payload)
	}
	if len(stream.responses[4].Names) != 1 || stream.responses[4].Names[0] != "bar" {
		t.Fatalf("list names = %v, want [bar]", stream.responses[4].Names)
	}
}

func TestFsDeleteRemovesEntry(t *testing.T) {
	proc, stream, _ := newFixture(t, label.True())
	stream.reqs = finish(
		&wire.Syscall{Kind: wire.SyscallFsCreateDir, Path: "todelete"},
		&wire.Syscall{Kind: wire.SyscallFsDelete, Path: "todelete"},
		&wire.Syscall{Kind: wire.SyscallFsList, Path: ""},
	)
	if _, err := proc.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, r := range stream.responses[:2] {
		if !r.Success {
			t.Fatalf("response %d failed: %s", i, r.Message)
		}
	}
	for _, name := range stream.responses[2].Names {
		if name == "todelete" {
			t.Fatalf("deleted entry still listed")
		}
	}
}

func TestLabelArithmeticRoundTrip(t *testing.T) {
	alicePriv := label.NewFormula(label.Clause{{"alice"}})
	proc, stream, _ := newFixture(t, alicePriv)
	stream.reqs = finish(
		&wire.Syscall{Kind: wire.SyscallGetCurrentLabel},
		&wire.Syscall{Kind: wire.SyscallTaintWithLabel, Label: "alice , T"},
		&wire.Syscall{Kind: wire.SyscallDeclassify, Label: "alice , T"},
		&wire.Syscall{Kind: wire.SyscallSubPrivilege, Label: "alice , T"},
		&wire.Syscall{Kind: wire.SyscallBuckleParse, Label: "alice , T"},
	)
	if _, err := proc.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stream.responses[0].Label != label.Public().String() {
		t.Fatalf("initial label = %q", stream.responses[0].Label)
	}
	if !stream.responses[1].Success {
		t.Fatalf("taint failed: %s", stream.responses[1].Message)
	}
	if !stream.responses[2].Success {
		t.Fatalf("declassify failed: %s", stream.responses[2].Message)
	}
	if stream.responses[2].Message != "" {
		t.Fatalf("declassify returned unexpected message %q", stream.responses[2].Message)
	}
	if !proc.task.CurrentLabel.Equal(label.Public()) {
		t.Fatalf("declassify with full privilege should restore Public(), got %s", proc.task.CurrentLabel)
	}
	if !stream.responses[3].Success || stream.responses[3].Label != componentString(alicePriv) {
		t.Fatalf("sub_privilege response = %+v", stream.responses[3])
	}
	if !stream.responses[4].Success || stream.responses[4].Label != "alice , T" {
		t.Fatalf("buckle_parse response = %+v", stream.responses[4])
	}
}

func TestSubPrivilegeRejectsEscalation(t *testing.T) {
	proc, stream, _ := newFixture(t, label.NewFormula(label.Clause{{"alice"}}))
	stream.reqs = finish(
		&wire.Syscall{Kind: wire.SyscallSubPrivilege, Label: "bob , T"},
	)
	if _, err := proc.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stream.responses[0].Success {
		t.Fatalf("sub_privilege should have rejected escalation to an unheld principal")
	}
}

func TestInvokeGateDispatchesResolvedFunction(t *testing.T) {
	store := memstore.New()
	graph := objstore.New(store)
	graph.Bootstrap()
	blobDir := t.TempDir()
	blobs, _ := blobstore.New(blobDir+"/blobs", blobDir+"/tmp")
	var gotFn string
	var gotPayload []byte
	invoker := stubInvoker{fn: func(fn string, payload []byte) ([]byte, error) {
		gotFn, gotPayload = fn, payload
		return []byte("result"), nil
	}}
	stream := &fakeStream{}
	proc := New(stream, graph, store, blobs, githubapi.NewClient(), invoker, label.Public(), label.True(), label.Top())
	stream.reqs = finish(
		&wire.Syscall{Kind: wire.SyscallFsCreateGate, Path: "echo", Name: "echo-fn"},
		&wire.Syscall{Kind: wire.SyscallInvokeGate, Path: "echo", Payload: []byte("ping")},
	)
	if _, err := proc.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !stream.responses[0].Success {
		t.Fatalf("create gate failed: %s", stream.responses[0].Message)
	}
	if !stream.responses[1].Success {
		t.Fatalf("invoke gate failed: %s", stream.responses[1].Message)
	}
	if gotFn != "echo-fn" {
		t.Fatalf("invoked function = %q, want echo-fn", gotFn)
	}
	if string(gotPayload) != "ping" {
		t.Fatalf("invoked payload = %q, want ping", gotPayload)
	}
	if string(stream.responses[1].Payload) != "result" {
		t.Fatalf("invoke gate payload = %q, want result", stream.responses[1].Payload)
	}
}

func TestBlobWriteFinalizeOpenReadCloseRoundTrip(t *testing.T) {
	proc, stream, _ := newFixture(t, label.True())
	stream.reqs = finish(
		&wire.Syscall{Kind: wire.SyscallCreateBlob},
	)
	if _, err := proc.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	fd := stream.responses[0].Fd
	if fd == 0 {
		t.Fatalf("create_blob returned zero fd")
	}

	stream.idx = 0
	stream.responses = nil
	stream.reqs = finish(
		&wire.Syscall{Kind: wire.SyscallWriteBlob, Fd: fd, Data: []byte("blob payload")},
		&wire.Syscall{Kind: wire.SyscallFinalizeBlob, Fd: fd},
	)
	if _, err := proc.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !stream.responses[0].Success {
		t.Fatalf("write_blob failed: %s", stream.responses[0].Message)
	}
	if !stream.responses[1].Success {
		t.Fatalf("finalize_blob failed: %s", stream.responses[1].Message)
	}
	name := stream.responses[1].Message
	if name == "" {
		t.Fatalf("finalize_blob returned no digest name")
	}

	stream.idx = 0
	stream.responses = nil
	stream.reqs = finish(
		&wire.Syscall{Kind: wire.SyscallOpenBlob, BlobName: name},
	)
	if _, err := proc.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	readFd := stream.responses[0].Fd

	stream.idx = 0
	stream.responses = nil
	stream.reqs = finish(
		&wire.Syscall{Kind: wire.SyscallReadBlob, Fd: readFd},
		&wire.Syscall{Kind: wire.SyscallCloseBlob, Fd: readFd},
		&wire.Syscall{Kind: wire.SyscallCloseBlob, Fd: readFd},
	)
	if _, err := proc.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(stream.responses[0].Payload) != "blob payload" {
		t.Fatalf("read_blob payload = %q", stream.responses[0].Payload)
	}
	if !stream.responses[1].Success {
		t.Fatalf("first close_blob failed: %s", stream.responses[1].Message)
	}
	if stream.responses[2].Success {
		t.Fatalf("double close_blob on the same fd should fail")
	}
}

func TestRawKvSyscallsRequirePrivilege(t *testing.T) {
	proc, stream, _ := newFixture(t, label.True())
	stream.reqs = finish(
		&wire.Syscall{Kind: wire.SyscallWriteKey, Path: "reserved/key", Data: []byte("v")},
	)
	if _, err := proc.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stream.responses[0].Success {
		t.Fatalf("write_key without root privilege should be rejected")
	}
}

func TestRawKvSyscallsSucceedWithPrivilege(t *testing.T) {
	proc, stream, store := newFixture(t, rootPrivilege)
	stream.reqs = finish(
		&wire.Syscall{Kind: wire.SyscallWriteKey, Path: "reserved/key", Data: []byte("v")},
		&wire.Syscall{Kind: wire.SyscallReadKey, Path: "reserved/key"},
	)
	if _, err := proc.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !stream.responses[0].Success {
		t.Fatalf("write_key failed: %s", stream.responses[0].Message)
	}
	if !stream.responses[1].Success || string(stream.responses[1].Payload) != "v" {
		t.Fatalf("read_key response = %+v", stream.responses[1])
	}
	raw, err := store.Get([]byte("reserved/key"))
	if err != nil || string(raw) != "v" {
		t.Fatalf("store.Get = %q, %v", raw, err)
	}
}
