// Package shadercache is a content-addressed store for compiled shader
// programs, persisted to a binary file between sessions.
//
// Keys are 32-bit rolling hashes over program identity (source text, entry
// symbol, target profile, compile flags). Hash collisions are treated as
// identical programs; this is an accepted approximation for a diagnostic
// tool, not a cryptographic guarantee. Entries are reference counted and the
// file is rewritten at shutdown only when the session added new entries.
package shadercache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"sync"
)

const (
	// fileMagic identifies a cache file ("GGBC").
	fileMagic = 0x47474243

	// fileVersion is bumped whenever the record layout changes.
	fileVersion = 1
)

// ErrCorrupt reports a cache file that did not parse past its header. The
// cache keeps whatever entries were read before the corruption and marks
// itself dirty so a clean file is written at shutdown.
var ErrCorrupt = errors.New("shadercache: corrupt cache file")

// Hash folds a program's identity into its cache key. The four components
// are chained through one FNV-1a stream with zero-byte separators so that
// ("ab","c") and ("a","bc") key differently; the flag bits are folded in
// last.
func Hash(source, entry, profile string, flags uint32) uint32 {
	h := fnv.New32a()
	_, _ = io.WriteString(h, source) // fnv.Write never returns an error
	_, _ = h.Write([]byte{0})
	_, _ = io.WriteString(h, entry)
	_, _ = h.Write([]byte{0})
	_, _ = io.WriteString(h, profile)
	_, _ = h.Write([]byte{0})
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], flags)
	_, _ = h.Write(b[:])
	return h.Sum32()
}

type entry struct {
	blob []byte
	refs int
}

// Cache maps program hashes to compiled binaries.
type Cache struct {
	mu      sync.Mutex
	entries map[uint32]*entry
	dirty   bool
	hits    uint64
	misses  uint64
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[uint32]*entry)}
}

// Load reads a persisted cache file into the cache. A missing file is not an
// error; the cache simply starts empty. A file with a wrong magic, wrong
// version or a truncated record returns an error wrapping ErrCorrupt, keeps
// the records read so far and marks the cache dirty.
func (c *Cache) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("shadercache: open %s: %w", path, err)
	}
	defer f.Close()

	var header [8]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return c.corrupt("header", err)
	}
	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != fileMagic {
		return c.corrupt(fmt.Sprintf("magic %#x", magic), nil)
	}
	if version := binary.LittleEndian.Uint32(header[4:8]); version != fileVersion {
		return c.corrupt(fmt.Sprintf("version %d", version), nil)
	}

	for {
		var rec [8]byte
		_, err := io.ReadFull(f, rec[:])
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return c.corrupt("record header", err)
		}
		hash := binary.LittleEndian.Uint32(rec[0:4])
		size := binary.LittleEndian.Uint32(rec[4:8])
		blob := make([]byte, size)
		if _, err := io.ReadFull(f, blob); err != nil {
			return c.corrupt(fmt.Sprintf("record %#x body", hash), err)
		}
		c.mu.Lock()
		c.entries[hash] = &entry{blob: blob, refs: 1}
		c.mu.Unlock()
	}
}

func (c *Cache) corrupt(what string, err error) error {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, what, err)
	}
	return fmt.Errorf("%w: %s", ErrCorrupt, what)
}

// Lookup returns the cached binary for a hash. A hit takes a new reference
// on the entry; the returned slice is shared and must not be modified.
func (c *Cache) Lookup(hash uint32) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok {
		c.misses++
		return nil, false
	}
	e.refs++
	c.hits++
	return e.blob, true
}

// Insert stores a compiled binary under its hash and marks the cache dirty.
// The blob is copied. Inserting an existing hash only takes a reference;
// identical hashes are identical programs by contract.
func (c *Cache) Insert(hash uint32, blob []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[hash]; ok {
		e.refs++
		return
	}
	owned := make([]byte, len(blob))
	copy(owned, blob)
	c.entries[hash] = &entry{blob: owned, refs: 1}
	c.dirty = true
}

// Release drops one reference from an entry. The entry stays resident until
// Close; releasing tracks lifetime for diagnostics only.
func (c *Cache) Release(hash uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[hash]; ok && e.refs > 0 {
		e.refs--
	}
}

// Refs returns the reference count of an entry, or 0 if absent.
func (c *Cache) Refs(hash uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[hash]; ok {
		return e.refs
	}
	return 0
}

// Dirty reports whether the session added entries not yet saved.
func (c *Cache) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the hit and miss counts since construction.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Save writes the cache to path if it is dirty, then clears the dirty flag.
// A clean cache writes nothing and returns nil.
func (c *Cache) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("shadercache: create %s: %w", path, err)
	}

	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], fileMagic)
	binary.LittleEndian.PutUint32(header[4:8], fileVersion)
	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		return fmt.Errorf("shadercache: write %s: %w", path, err)
	}

	for hash, e := range c.entries {
		var rec [8]byte
		binary.LittleEndian.PutUint32(rec[0:4], hash)
		binary.LittleEndian.PutUint32(rec[4:8], uint32(len(e.blob)))
		if _, err := f.Write(rec[:]); err != nil {
			f.Close()
			return fmt.Errorf("shadercache: write %s: %w", path, err)
		}
		if _, err := f.Write(e.blob); err != nil {
			f.Close()
			return fmt.Errorf("shadercache: write %s: %w", path, err)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("shadercache: close %s: %w", path, err)
	}
	c.dirty = false
	return nil
}

// Close releases every entry and empties the cache.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint32]*entry)
	c.dirty = false
}
