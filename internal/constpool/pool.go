// Package constpool implements the deduplicating constant pool (spec.md
// §4.2, C2): addConstant is idempotent, insertion order defines index
// assignment, and the pool becomes read-only after endRoot.
package constpool

import "reflect"

// Pool deduplicates constants added during building and assigns each a
// dense, stable index. Not safe for concurrent writers (spec.md §5: the
// builder is single-threaded per root); safe for concurrent readers once
// Freeze has been called.
type Pool struct {
	values []any

	// comparable constants dedupe via a plain map, giving exact O(1)
	// lookups for the common case (ints, strings, pointers).
	comparable map[any]int

	// non-comparable constants (slices, maps, funcs) can't be map keys, so
	// they're bucketed by reflect.DeepEqual under a cheap structural key
	// (type + length) and compared linearly within the bucket. Buckets are
	// small in practice (distinct non-comparable constants of the same
	// shape are rare), so this stays exact without needing a hash function
	// supplied by the caller.
	buckets map[bucketKey][]int

	frozen bool
}

type bucketKey struct {
	typ reflect.Type
	len int
}

// New creates an empty Pool.
func New() *Pool {
	return &Pool{
		comparable: map[any]int{},
		buckets:    map[bucketKey][]int{},
	}
}

// Add interns v, returning its dense index. Equal values (by == for
// comparable types, by reflect.DeepEqual otherwise) return the same index
// every time (spec.md §4.2: "addConstant(obj) → index is idempotent").
func (p *Pool) Add(v any) int {
	if p.frozen {
		panic("constpool: Add called on a frozen pool")
	}
	if isComparable(v) {
		if idx, ok := p.comparable[v]; ok {
			return idx
		}
		idx := len(p.values)
		p.values = append(p.values, v)
		p.comparable[v] = idx
		return idx
	}

	key := bucketKey{typ: reflect.TypeOf(v), len: structuralLen(v)}
	for _, idx := range p.buckets[key] {
		if reflect.DeepEqual(p.values[idx], v) {
			return idx
		}
	}
	idx := len(p.values)
	p.values = append(p.values, v)
	p.buckets[key] = append(p.buckets[key], idx)
	return idx
}

// Get returns the constant previously interned at idx.
func (p *Pool) Get(idx int) any {
	return p.values[idx]
}

// Len returns the number of distinct constants interned so far.
func (p *Pool) Len() int {
	return len(p.values)
}

// Values returns the pool's dense constant array, ready to become
// RootProgram.constants (spec.md §3).
func (p *Pool) Values() []any {
	return p.values
}

// Freeze marks the pool read-only, matching "the pool becomes read-only
// after endRoot" (spec.md §4.2).
func (p *Pool) Freeze() {
	p.frozen = true
}

func isComparable(v any) bool {
	if v == nil {
		return true
	}
	return reflect.TypeOf(v).Comparable()
}

func structuralLen(v any) int {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.String:
		return rv.Len()
	default:
		return 0
	}
}
