// Package cache implements the on-disk and in-process caches for built root
// programs (spec.md §4.9, "serialized roots may be cached across process
// restarts"), adapted from the teacher's internal/compilationcache: the same
// Cache interface and sha256-Key type, but keyed on a root's serialized
// bytes rather than a compiled Wasm binary, plus an in-process LRU layer
// (internal/compilationcache had none) for the common case of re-running the
// same root many times within one process without re-deserializing it.
package cache

import (
	"crypto/sha256"
	"io"
)

// Cache is the interface for on-disk root-program caches. A Cache stores the
// serialized bytes produced by internal/serialize.Serialize, keyed by their
// content hash, so a process that rebuilds the same root repeatedly (e.g. a
// CLI invoked once per input file) can skip rebuilding it from source.
//
// Implementations must be Goroutine-safe.
type Cache interface {
	// Get returns the cached content for key, or ok=false if absent.
	// content.Close() is called by the caller once done reading.
	Get(key Key) (content io.ReadCloser, ok bool, err error)
	// Add stores content under key, overwriting any existing entry.
	Add(key Key, content io.Reader) (err error)
	// Delete removes the entry for key. It is not an error for key to be
	// absent.
	Delete(key Key) (err error)
}

// Key is the 256-bit content hash identifying one cached serialized root.
type Key = [sha256.Size]byte

// KeyOf hashes serialized root bytes into a Key.
func KeyOf(serialized []byte) Key {
	return sha256.Sum256(serialized)
}
