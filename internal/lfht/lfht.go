// Package lfht provides a lock-free hash trie keyed by entry name. It is the
// index behind the mark registry and the per-name duration states: inserts
// and lookups never block recording, and iteration observes a consistent
// prefix of the inserts. There is no delete; callers that need removal store
// a clearable cell as the value.
package lfht

import (
	"math/bits"
	"sync/atomic"
	"unsafe"

	"github.com/zeebo/xxh3"
)

// https://repositorio.inesctec.pt/bitstream/123456789/5465/1/P-00F-YAG.pdf

const (
	_width    = 3
	_entries  = 1 << _width
	_mask     = _entries - 1
	_bits     = bits.UintSize
	_depth    = 3
	_maxLevel = _bits / _width
)

type ptr = unsafe.Pointer

func cas(addr *ptr, old, new ptr) bool { return atomic.CompareAndSwapPointer(addr, old, new) }
func load(addr *ptr) ptr               { return atomic.LoadPointer(addr) }
func store(addr *ptr, val ptr)         { atomic.StorePointer(addr, val) }

// the low bit of a chain pointer distinguishes a child table from a node.
func tag(b *Table) ptr   { return ptr(uintptr(ptr(b)) + 1) }
func tagged(p ptr) bool  { return uintptr(p)&1 > 0 }
func untag(p ptr) *Table { return (*Table)(ptr(uintptr(p) - 1)) }

func hash(x string) uintptr { return uintptr(xxh3.HashString(x)) }

// occupied tracks which buckets of a table hold anything, so that iteration
// can skip empty buckets without loading them.
type occupied [2]uint64

func (o *occupied) clone() occupied {
	return occupied{atomic.LoadUint64(&o[0]), atomic.LoadUint64(&o[1])}
}

func (o *occupied) set(idx uint) {
	atomic.AddUint64(&o[(idx>>6)&1], 1<<(idx&63))
}

// next pops the lowest set bit, returning its index.
func (o *occupied) next() (idx uint, ok bool) {
	u := o[0]
	c := u & (u - 1)
	idx = uint(bits.Len64(u ^ c))
	o[0] = c
	if u > 0 {
		return (idx - 1) % 128, true
	}

	u = o[1]
	c = u & (u - 1)
	idx = 63 + uint(bits.Len64(u^c))
	o[1] = c
	return idx % 128, u > 0
}

type lazyValue struct {
	value ptr
	fn    func() ptr
}

func (lv *lazyValue) get() ptr {
	if lv.value == nil {
		lv.value = lv.fn()
	}
	return lv.value
}

type hashedKey struct {
	key  string
	hash uintptr
}

type tableHeader struct {
	level uint
	prev  *Table
	occ   occupied
}

// tableHeaderSize mirrors tableHeader's layout with prev as an untyped
// pointer: go1.19+ rejects unsafe.Sizeof(tableHeader{}) in Table's padding
// array length because tableHeader refers back to Table.
type tableHeaderSize struct {
	level uint
	prev  unsafe.Pointer
	occ   occupied
}

// Table is a lock-free hash trie mapping names to pointers. The zero value
// is an empty table ready for use.
type Table struct {
	tableHeader
	_       [64 - unsafe.Sizeof(tableHeaderSize{})]byte // pad to cache line
	buckets [_entries]ptr
}

func (t *Table) getHashBucket(hash uintptr) (*ptr, uint) {
	idx := uint(hash>>((t.level*_width)&(_bits-1))) & _mask
	return &t.buckets[idx], idx
}

type node struct {
	key   string
	value ptr
	next  ptr
}

func (n *node) getNextRef() *ptr { return &n.next }

// Upsert returns the value stored for k, calling vf to create it if no value
// is present. vf may be called and its result discarded when another
// inserter wins the race.
func (t *Table) Upsert(k string, vf func() unsafe.Pointer) unsafe.Pointer {
	return t.upsert(hashedKey{key: k, hash: hash(k)}, lazyValue{fn: vf}).value
}

func (t *Table) upsert(key hashedKey, value lazyValue) *node {
	bucket, idx := t.getHashBucket(key.hash)
	entryRef := load(bucket)
	if entryRef == nil {
		newNode := &node{key: key.key, value: value.get(), next: tag(t)}
		if cas(bucket, nil, ptr(newNode)) {
			t.occ.set(idx)
			return newNode
		}
		entryRef = load(bucket)
	}

	if tagged(entryRef) {
		return untag(entryRef).upsert(key, value)
	}
	return (*node)(entryRef).upsert(key, value, t, 1)
}

func (n *node) upsert(key hashedKey, value lazyValue, t *Table, count int) *node {
	if n.key == key.key {
		return n
	}

	next := n.getNextRef()
	nextRef := load(next)
	if nextRef == tag(t) {
		if count == _depth && t.level+1 < _maxLevel {
			newTable := &Table{tableHeader: tableHeader{
				level: t.level + 1,
				prev:  t,
			}}
			if cas(next, tag(t), tag(newTable)) {
				bucket, _ := t.getHashBucket(key.hash)
				adjustChainNodes((*node)(load(bucket)), newTable)
				store(bucket, tag(newTable))
				return newTable.upsert(key, value)
			}
		} else {
			newNode := &node{key: key.key, value: value.get(), next: tag(t)}
			if cas(next, tag(t), ptr(newNode)) {
				return newNode
			}
		}
		nextRef = load(next)
	}

	if tagged(nextRef) {
		prevTable := untag(nextRef)
		for prevTable.prev != nil && prevTable.prev != t {
			prevTable = prevTable.prev
		}
		return prevTable.upsert(key, value)
	}
	return (*node)(nextRef).upsert(key, value, t, count+1)
}

func adjustChainNodes(r *node, t *Table) {
	next := r.getNextRef()
	nextRef := load(next)
	if nextRef != tag(t) {
		adjustChainNodes((*node)(nextRef), t)
	}
	t.adjustNode(r)
}

func (t *Table) adjustNode(n *node) {
	next := n.getNextRef()
	store(next, tag(t))

	bucket, idx := t.getHashBucket(hash(n.key))
	entryRef := load(bucket)
	if entryRef == nil {
		if cas(bucket, nil, ptr(n)) {
			t.occ.set(idx)
			return
		}
		entryRef = load(bucket)
	}

	if tagged(entryRef) {
		untag(entryRef).adjustNode(n)
		return
	}
	n.adjustNode(t, (*node)(entryRef), 1)
}

func (n *node) adjustNode(t *Table, r *node, count int) {
	next := r.getNextRef()
	nextRef := load(next)
	if nextRef == tag(t) {
		if count == _depth && t.level+1 < _maxLevel {
			newTable := &Table{tableHeader: tableHeader{
				level: t.level + 1,
				prev:  t,
			}}
			if cas(next, tag(t), tag(newTable)) {
				bucket, _ := t.getHashBucket(hash(n.key))
				adjustChainNodes((*node)(load(bucket)), newTable)
				store(bucket, tag(newTable))
				newTable.adjustNode(n)
				return
			}
		} else if cas(next, tag(t), ptr(n)) {
			return
		}
		nextRef = load(next)
	}

	if tagged(nextRef) {
		prevTable := untag(nextRef)
		for prevTable.prev != nil && prevTable.prev != t {
			prevTable = prevTable.prev
		}
		prevTable.adjustNode(n)
		return
	}
	n.adjustNode(t, (*node)(nextRef), count+1)
}

// Lookup returns the value stored for k, or nil when no value is present.
func (t *Table) Lookup(k string) unsafe.Pointer {
	return t.lookup(hashedKey{key: k, hash: hash(k)})
}

func (t *Table) lookup(key hashedKey) ptr {
	// if lookup misses are frequent, it may be worthwhile to check
	// the occupied bits to avoid a cache miss loading the bucket.
	bucket, _ := t.getHashBucket(key.hash)
	entryRef := load(bucket)
	if entryRef == nil {
		return nil
	}
	if tagged(entryRef) {
		return untag(entryRef).lookup(key)
	}
	return (*node)(entryRef).lookup(key, t)
}

func (n *node) lookup(key hashedKey, t *Table) ptr {
	if n.key == key.key {
		return n.value
	}

	next := n.getNextRef()
	nextRef := load(next)
	if tagged(nextRef) {
		prevTable := untag(nextRef)
		for prevTable.prev != nil && prevTable.prev != t {
			prevTable = prevTable.prev
		}
		return prevTable.lookup(key)
	}
	return (*node)(nextRef).lookup(key, t)
}

// Iterator walks the entries of a table. Entries inserted while iterating
// may or may not be observed.
type Iterator struct {
	n     *node
	top   int
	stack [_maxLevel]struct {
		table *Table
		pos   occupied
	}
}

// Iterator returns an iterator over the table.
func (t *Table) Iterator() (itr Iterator) {
	itr.stack[0].table = t
	itr.stack[0].pos = t.occ.clone()
	return itr
}

// Next advances the iterator, reporting whether an entry is available.
func (i *Iterator) Next() bool {
next:
	// if the stack is empty, we're done
	if i.top < 0 {
		return false
	}
	is := &i.stack[i.top]

	// if we don't have a node, load it from the top of the stack
	var nextTable *Table
	if i.n == nil {
		idx, ok := is.pos.next()
		if !ok {
			// if we've walked the whole table, pop it and try again
			i.top--
			goto next
		}

		bucket := &is.table.buckets[idx&127]
		entryRef := load(bucket)

		// if it's a node, set it and continue
		if !tagged(entryRef) {
			i.n = (*node)(entryRef)
			return true
		}

		// otherwise, we need to walk to a new table.
		nextTable = untag(entryRef)
	} else {
		// if we have a node, try to walk to the next entry.
		nextRef := load(i.n.getNextRef())

		// if it's a node, set it and continue
		if !tagged(nextRef) {
			i.n = (*node)(nextRef)
			return true
		}

		// otherwise, we need to walk to a new table
		nextTable = untag(nextRef)
	}

	// if we're on the same table, just go to the next entry
	if nextTable == is.table {
		i.n = nil
		goto next
	}

	// walk nextTable backwards as much as possible.
	for nextTable.prev != nil && nextTable.prev != is.table {
		nextTable = nextTable.prev
	}

	// if it's a different table, push it on to the stack.
	if nextTable != is.table {
		i.top++
		i.stack[i.top].table = nextTable
		i.stack[i.top].pos = nextTable.occ.clone()
	}

	// walk to the next entry in the top of the stack table
	i.n = nil
	goto next
}

// Key returns the key of the current entry.
func (i *Iterator) Key() string { return i.n.key }

// Value returns the value of the current entry.
func (i *Iterator) Value() unsafe.Pointer { return i.n.value }
