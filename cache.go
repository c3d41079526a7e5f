package optree

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/optree-lang/optree/internal/cache"
	"github.com/optree-lang/optree/internal/constpool"
	"github.com/optree-lang/optree/internal/interpreter"
	"github.com/optree-lang/optree/internal/serialize"
)

// Cache persists and recalls serialized RootPrograms across process
// restarts (spec.md §4.9, "serialized roots may be cached across process
// restarts"), backed by internal/cache's on-disk Cache plus an in-process
// LRU so repeated lookups of the same root within one process skip
// re-deserializing it.
type Cache struct {
	disk   cache.Cache
	memory *cache.MemoryCache[serialize.Snapshot]
}

// NewCache returns a Cache with no on-disk backing (in-process only). Use
// NewFileCache to additionally persist to disk.
func NewCache() *Cache {
	return &Cache{memory: cache.NewMemoryCache[serialize.Snapshot](256)}
}

// FileCachePathKey is the context.Context value key a caller sets to the
// cache directory path before calling NewFileCache.
type FileCachePathKey = cache.FileCachePathKey

// NewFileCache returns a Cache persisting entries under the directory found
// in ctx via FileCachePathKey, in addition to the in-process LRU. Returns a
// Cache with no disk backing if ctx carries no FileCachePathKey value.
func NewFileCache(ctx context.Context) *Cache {
	return &Cache{
		disk:   cache.NewFileCache(ctx),
		memory: cache.NewMemoryCache[serialize.Snapshot](256),
	}
}

func snapshotOf(bd *Builder, numLocals int) serialize.Snapshot {
	return serialize.Snapshot{
		Words:          bd.b.Buffer().Words(),
		Constants:      bd.pool.Values(),
		Handlers:       bd.b.Buffer().Handlers(),
		MaxStackHeight: bd.b.MaxStackHeight(),
		NumLocals:      numLocals,
	}
}

// Store serializes a built root (via its Builder, before Build consumes it)
// and saves it under its content hash, returning that hash as the key to
// pass to Load later.
func (c *Cache) Store(bd *Builder, numLocals int, objects []any) (cache.Key, error) {
	snap := snapshotOf(bd, numLocals)
	data, err := serialize.Serialize(snap, objects)
	if err != nil {
		return cache.Key{}, err
	}
	key := cache.KeyOf(data)
	c.memory.Add(key, snap)
	if c.disk != nil {
		if err := c.disk.Add(key, bytesReader(data)); err != nil {
			return cache.Key{}, err
		}
	}
	return key, nil
}

// Load recalls a previously Stored root by its content-hash key, rebuilding
// a RootProgram ready for Execute. name is used only for diagnostics.
func (c *Cache) Load(name string, table Table, key cache.Key, cfg *InterpreterConfig) (*RootProgram, error) {
	if snap, ok := c.memory.Get(key); ok {
		return buildFromSnapshot(name, table, snap, cfg), nil
	}
	if c.disk == nil {
		return nil, fmt.Errorf("optree: no cached root for key %x", key)
	}
	r, ok, err := c.disk.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("optree: no cached root for key %x", key)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	snap, err := serialize.Deserialize(data, nil)
	if err != nil {
		return nil, err
	}
	c.memory.Add(key, snap)
	return buildFromSnapshot(name, table, snap, cfg), nil
}

func bytesReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}

// buildFromSnapshot rehydrates a RootProgram from a Snapshot's frozen
// fields, re-interning its constants into a fresh Pool in their original
// (already-deduped) order so indices line up exactly as recorded.
func buildFromSnapshot(name string, table Table, snap serialize.Snapshot, cfg *InterpreterConfig) *RootProgram {
	pool := constpool.New()
	for _, c := range snap.Constants {
		pool.Add(c)
	}
	pool.Freeze()
	if cfg == nil {
		cfg = NewInterpreterConfig()
	}
	prog := interpreter.NewProgram(table, snap.Words, pool, snap.Handlers, snap.MaxStackHeight, snap.NumLocals)
	prog.Name = name
	prog.WithTierThresholds(cfg.uncachedThreshold, cfg.instrumentedThreshold)
	prog.OSRBackEdgeHook = cfg.osrBackEdgeHook
	prog.Natives = cfg.natives
	prog.Families = cfg.families
	prog.InstrumentProbe = cfg.instrumentProbe
	return &RootProgram{name: name, prog: prog}
}
