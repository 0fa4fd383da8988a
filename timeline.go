package perf

import (
	"sort"
	"sync"
)

// timeline is the ordered store of recorded entries. Entries are kept sorted
// by start time on insert: a measure's start is its start mark's timestamp,
// which can precede entries that were recorded after the mark.
type timeline struct {
	mu      sync.Mutex
	entries []Entry
}

// add inserts the entry keeping the slice sorted by Start. Equal starts keep
// record order.
func (tl *timeline) add(ent Entry) {
	tl.mu.Lock()

	es := tl.entries
	i := sort.Search(len(es), func(i int) bool { return es[i].Start > ent.Start })
	es = append(es, Entry{})
	copy(es[i+1:], es[i:])
	es[i] = ent
	tl.entries = es

	tl.mu.Unlock()
}

// all returns a copy of every entry.
func (tl *timeline) all() []Entry {
	tl.mu.Lock()
	out := append([]Entry(nil), tl.entries...)
	tl.mu.Unlock()
	return out
}

// filter returns a copy of the entries matching keep.
func (tl *timeline) filter(keep func(*Entry) bool) []Entry {
	var out []Entry
	tl.mu.Lock()
	for i := range tl.entries {
		if keep(&tl.entries[i]) {
			out = append(out, tl.entries[i])
		}
	}
	tl.mu.Unlock()
	return out
}

// remove drops every entry matching match, preserving the order of the rest.
func (tl *timeline) remove(match func(*Entry) bool) {
	tl.mu.Lock()
	kept := tl.entries[:0]
	for i := range tl.entries {
		if !match(&tl.entries[i]) {
			kept = append(kept, tl.entries[i])
		}
	}
	tl.entries = kept
	tl.mu.Unlock()
}

// matchKind builds a match predicate for clear operations: entries of the
// type, restricted to the given names when any are passed.
func matchKind(t Type, names []string) func(*Entry) bool {
	if len(names) == 0 {
		return func(ent *Entry) bool { return ent.Type == t }
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return func(ent *Entry) bool {
		if ent.Type != t {
			return false
		}
		_, ok := set[ent.Name]
		return ok
	}
}
