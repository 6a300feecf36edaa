package blobstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	s, err := New(base+"/blobs", base+"/tmp")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSaveNamesBlobByItsDigest(t *testing.T) {
	s := newTestStore(t)
	nb, err := s.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	payload := []byte("hello, faasten")
	if _, err := nb.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	blob, err := s.Save(nb)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	defer blob.Close()

	want := sha256.Sum256(payload)
	if blob.Name != hex.EncodeToString(want[:]) {
		t.Fatalf("blob.Name = %q, want %q", blob.Name, hex.EncodeToString(want[:]))
	}
}

func TestSavedBlobIsReadOnlyAndShardedOnDisk(t *testing.T) {
	s := newTestStore(t)
	nb, _ := s.Create()
	nb.Write([]byte("sharded"))
	blob, err := s.Save(nb)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	defer blob.Close()

	path, err := s.LocalPath(blob.Name)
	if err != nil {
		t.Fatalf("LocalPath: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat saved blob: %v", err)
	}
	if info.Mode().Perm()&0o222 != 0 {
		t.Fatalf("saved blob is writable: mode %v", info.Mode())
	}
}

func TestOpenReadsBackSavedContent(t *testing.T) {
	s := newTestStore(t)
	nb, _ := s.Create()
	payload := []byte("round trip me")
	nb.Write(payload)
	saved, err := s.Save(nb)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	saved.Close()

	blob, err := s.Open(saved.Name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer blob.Close()

	buf := make([]byte, len(payload))
	n, err := blob.ReadAt(buf, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Fatalf("read back %q, want %q", buf[:n], payload)
	}
}

func TestOpenUnknownNameFails(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Open(hex.EncodeToString(make([]byte, 32))); err == nil {
		t.Fatalf("Open of nonexistent blob should fail")
	}
}

func TestOpenMalformedNameFails(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Open("a"); err == nil {
		t.Fatalf("Open of malformed name should fail")
	}
}

func TestWriteIncrementalChunksMatchSingleShotDigest(t *testing.T) {
	s := newTestStore(t)
	nb, _ := s.Create()
	chunks := [][]byte{[]byte("chunk-one-"), []byte("chunk-two-"), []byte("chunk-three")}
	var all []byte
	for _, c := range chunks {
		nb.Write(c)
		all = append(all, c...)
	}
	blob, err := s.Save(nb)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	defer blob.Close()

	want := sha256.Sum256(all)
	if blob.Name != hex.EncodeToString(want[:]) {
		t.Fatalf("blob.Name = %q, want %q", blob.Name, hex.EncodeToString(want[:]))
	}
}
