package shadercache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	a := Hash("source", "main", "spirv_1_3", 0)
	b := Hash("source", "main", "spirv_1_3", 0)
	if a != b {
		t.Fatalf("expected identical hashes, got %#x and %#x", a, b)
	}
}

func TestHashComponents(t *testing.T) {
	base := Hash("source", "main", "spirv_1_3", 0)
	tests := []struct {
		name string
		hash uint32
	}{
		{"source", Hash("source2", "main", "spirv_1_3", 0)},
		{"entry", Hash("source", "main2", "spirv_1_3", 0)},
		{"profile", Hash("source", "main", "hlsl_5_1", 0)},
		{"flags", Hash("source", "main", "spirv_1_3", 1)},
	}
	for _, tt := range tests {
		if tt.hash == base {
			t.Errorf("changing %s did not change the hash %#x", tt.name, base)
		}
	}
}

func TestHashSeparatesComponents(t *testing.T) {
	// Without separators these two would collide byte-for-byte.
	a := Hash("ab", "c", "p", 0)
	b := Hash("a", "bc", "p", 0)
	if a == b {
		t.Fatalf("expected distinct hashes for shifted component boundary, got %#x", a)
	}
}

func TestLookupAndInsert(t *testing.T) {
	c := New()
	h := Hash("src", "main", "spirv_1_3", 0)

	if _, ok := c.Lookup(h); ok {
		t.Fatal("expected miss on empty cache")
	}
	if c.Dirty() {
		t.Fatal("expected clean cache after a miss")
	}

	c.Insert(h, []byte{1, 2, 3})
	if !c.Dirty() {
		t.Fatal("expected dirty cache after insert")
	}

	blob, ok := c.Lookup(h)
	if !ok {
		t.Fatal("expected hit after insert")
	}
	if !bytes.Equal(blob, []byte{1, 2, 3}) {
		t.Fatalf("expected blob [1 2 3], got %v", blob)
	}

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got %d and %d", hits, misses)
	}
}

func TestInsertCopiesBlob(t *testing.T) {
	c := New()
	src := []byte{1, 2, 3}
	c.Insert(7, src)
	src[0] = 99

	blob, _ := c.Lookup(7)
	if blob[0] != 1 {
		t.Fatalf("expected cached blob unaffected by caller mutation, got %v", blob)
	}
}

func TestReferenceCounts(t *testing.T) {
	c := New()
	c.Insert(7, []byte{1})
	if refs := c.Refs(7); refs != 1 {
		t.Fatalf("expected 1 ref after insert, got %d", refs)
	}

	c.Lookup(7)
	c.Insert(7, []byte{1})
	if refs := c.Refs(7); refs != 3 {
		t.Fatalf("expected 3 refs after lookup and re-insert, got %d", refs)
	}

	c.Release(7)
	if refs := c.Refs(7); refs != 2 {
		t.Fatalf("expected 2 refs after release, got %d", refs)
	}
}

func TestSaveCleanWritesNothing(t *testing.T) {
	c := New()
	path := filepath.Join(t.TempDir(), "shaders.cache")
	if err := c.Save(path); err != nil {
		t.Fatalf("save of clean cache failed: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expected no file written for a clean cache")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shaders.cache")

	c := New()
	h1 := Hash("one", "main", "spirv_1_3", 0)
	h2 := Hash("two", "main", "hlsl_5_1", 2)
	c.Insert(h1, []byte{0xAA, 0xBB})
	c.Insert(h2, []byte{0xCC})

	if err := c.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if c.Dirty() {
		t.Fatal("expected clean cache after save")
	}

	loaded := New()
	if err := loaded.Load(path); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Dirty() {
		t.Fatal("expected loaded cache to start clean")
	}
	if loaded.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", loaded.Len())
	}

	blob, ok := loaded.Lookup(h1)
	if !ok || !bytes.Equal(blob, []byte{0xAA, 0xBB}) {
		t.Fatalf("expected entry %#x to round-trip, got %v (hit=%v)", h1, blob, ok)
	}
	blob, ok = loaded.Lookup(h2)
	if !ok || !bytes.Equal(blob, []byte{0xCC}) {
		t.Fatalf("expected entry %#x to round-trip, got %v (hit=%v)", h2, blob, ok)
	}
}

func TestLoadMissingFile(t *testing.T) {
	c := New()
	if err := c.Load(filepath.Join(t.TempDir(), "absent.cache")); err != nil {
		t.Fatalf("expected missing file to load as empty, got %v", err)
	}
	if c.Len() != 0 || c.Dirty() {
		t.Fatalf("expected empty clean cache, got %d entries dirty=%v", c.Len(), c.Dirty())
	}
}

func TestLoadWrongMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cache")
	if err := os.WriteFile(path, []byte("not a cache file"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New()
	err := c.Load(path)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if !c.Dirty() {
		t.Fatal("expected corrupt load to mark the cache dirty")
	}
}

func TestLoadTruncatedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trunc.cache")

	var buf bytes.Buffer
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], fileMagic)
	binary.LittleEndian.PutUint32(header[4:8], fileVersion)
	buf.Write(header[:])

	// One intact record.
	var rec [8]byte
	binary.LittleEndian.PutUint32(rec[0:4], 42)
	binary.LittleEndian.PutUint32(rec[4:8], 2)
	buf.Write(rec[:])
	buf.Write([]byte{1, 2})

	// One record claiming more bytes than remain.
	binary.LittleEndian.PutUint32(rec[0:4], 43)
	binary.LittleEndian.PutUint32(rec[4:8], 100)
	buf.Write(rec[:])
	buf.Write([]byte{9})

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New()
	err := c.Load(path)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if blob, ok := c.Lookup(42); !ok || !bytes.Equal(blob, []byte{1, 2}) {
		t.Fatalf("expected intact record to survive, got %v (hit=%v)", blob, ok)
	}
	if _, ok := c.Lookup(43); ok {
		t.Fatal("expected truncated record to be dropped")
	}
}

func TestClose(t *testing.T) {
	c := New()
	c.Insert(7, []byte{1})
	c.Close()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after close, got %d entries", c.Len())
	}
	if _, ok := c.Lookup(7); ok {
		t.Fatal("expected miss after close")
	}
}
