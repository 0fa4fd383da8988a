// Package perf implements an in-process performance timeline: user defined
// marks and measures, function timing, garbage collection entries and
// runtime bootstrap milestones, queryable as a chronological sequence of
// entries and aggregated per name into histograms.
package perf

import (
	"sort"
	"sync/atomic"
	"unsafe"

	"github.com/zeebo/errs"
	"github.com/zeebo/perf/internal/lfht"
)

// Performance is a performance timeline. The zero value is ready for use,
// but most callers want the process-wide Default instance through the
// package level functions.
type Performance struct {
	tl     timeline
	marks  lfht.Table // name -> *markRef
	states lfht.Table // name -> *State
	obs    observers
	rt     milestones
	gc     gcWatcher
}

// New returns an independent Performance timeline.
func New() *Performance { return new(Performance) }

// Default is the process-wide timeline used by the package level functions.
var Default = New()

// markRef holds the timestamp of the latest mark recorded under a name. The
// cell stays in the index forever; clearing a mark empties the cell.
type markRef struct {
	p unsafe.Pointer // *int64, nil when cleared
}

func newMarkRef() unsafe.Pointer { return unsafe.Pointer(new(markRef)) }

func (m *markRef) set(start int64) { atomic.StorePointer(&m.p, unsafe.Pointer(&start)) }
func (m *markRef) clear()          { atomic.StorePointer(&m.p, nil) }

func (m *markRef) get() (int64, bool) {
	if p := (*int64)(atomic.LoadPointer(&m.p)); p != nil {
		return *p, true
	}
	return 0, false
}

// Mark records a zero-duration mark entry at the current time and returns it.
func (p *Performance) Mark(name string) Entry {
	ent := Entry{Name: name, Type: TypeMark, Start: Now()}
	(*markRef)(p.marks.Upsert(name, newMarkRef)).set(ent.Start)
	p.push(ent)
	return ent
}

// Measure records a measure entry spanning from startMark to endMark and
// returns it. The end mark must name an existing mark or a runtime
// milestone; a start mark that resolves to nothing silently falls back to
// the time origin.
func (p *Performance) Measure(name, startMark, endMark string) (Entry, error) {
	end, ok := p.resolve(endMark)
	if !ok {
		return Entry{}, errs.New("measure %q: unknown end mark %q", name, endMark)
	}

	start, ok := p.resolve(startMark)
	if !ok {
		start = 0
	}

	ent := Entry{Name: name, Type: TypeMeasure, Start: start, Duration: end - start}
	p.state(name).observe(ent.Duration)
	p.push(ent)
	return ent, nil
}

// resolve maps a mark or milestone name to its timestamp.
func (p *Performance) resolve(name string) (int64, bool) {
	if ref := (*markRef)(p.marks.Lookup(name)); ref != nil {
		if start, ok := ref.get(); ok {
			return start, true
		}
	}
	return p.rt.resolve(name)
}

// push records the entry on the timeline and notifies observers.
func (p *Performance) push(ent Entry) {
	p.tl.add(ent)
	p.obs.dispatch(ent)
}

// Entries returns every recorded entry in non-decreasing start time order,
// including the live runtime milestone entry.
func (p *Performance) Entries() []Entry {
	return insertSorted(p.tl.all(), p.RuntimeTiming().Entry)
}

// EntriesByName returns the entries with the given name, optionally
// restricted to the given types, in non-decreasing start time order.
func (p *Performance) EntriesByName(name string, types ...Type) []Entry {
	out := p.tl.filter(func(ent *Entry) bool {
		return ent.Name == name && (len(types) == 0 || containsType(types, ent.Type))
	})
	if rt := p.RuntimeTiming().Entry; rt.Name == name && (len(types) == 0 || containsType(types, rt.Type)) {
		out = insertSorted(out, rt)
	}
	return out
}

// insertSorted places ent into the already sorted es.
func insertSorted(es []Entry, ent Entry) []Entry {
	i := sort.Search(len(es), func(i int) bool { return es[i].Start > ent.Start })
	es = append(es, Entry{})
	copy(es[i+1:], es[i:])
	es[i] = ent
	return es
}

// EntriesByType returns the entries of the given type in non-decreasing
// start time order.
func (p *Performance) EntriesByType(t Type) []Entry {
	if t == TypeNode {
		return []Entry{p.RuntimeTiming().Entry}
	}
	return p.tl.filter(func(ent *Entry) bool { return ent.Type == t })
}

func containsType(types []Type, t Type) bool {
	for _, c := range types {
		if c == t {
			return true
		}
	}
	return false
}

// ClearMarks removes mark entries from the timeline, all of them or only
// those with the given names, and makes the removed names unresolvable by
// future measures.
func (p *Performance) ClearMarks(names ...string) {
	p.tl.remove(matchKind(TypeMark, names))

	if len(names) == 0 {
		for iter := p.marks.Iterator(); iter.Next(); {
			(*markRef)(iter.Value()).clear()
		}
		return
	}
	for _, name := range names {
		if ref := (*markRef)(p.marks.Lookup(name)); ref != nil {
			ref.clear()
		}
	}
}

// ClearMeasures removes measure entries from the timeline, all of them or
// only those with the given names.
func (p *Performance) ClearMeasures(names ...string) {
	p.tl.remove(matchKind(TypeMeasure, names))
}

// ClearFunctions removes function timing entries from the timeline, all of
// them or only those with the given names.
func (p *Performance) ClearFunctions(names ...string) {
	p.tl.remove(matchKind(TypeFunction, names))
}

//
// package level forwarding to the Default timeline
//

// Mark records a zero-duration mark entry on the Default timeline.
func Mark(name string) Entry { return Default.Mark(name) }

// Measure records a measure entry on the Default timeline.
func Measure(name, startMark, endMark string) (Entry, error) {
	return Default.Measure(name, startMark, endMark)
}

// Entries returns every entry on the Default timeline.
func Entries() []Entry { return Default.Entries() }

// EntriesByName returns the Default timeline entries with the given name.
func EntriesByName(name string, types ...Type) []Entry {
	return Default.EntriesByName(name, types...)
}

// EntriesByType returns the Default timeline entries of the given type.
func EntriesByType(t Type) []Entry { return Default.EntriesByType(t) }

// ClearMarks removes mark entries from the Default timeline.
func ClearMarks(names ...string) { Default.ClearMarks(names...) }

// ClearMeasures removes measure entries from the Default timeline.
func ClearMeasures(names ...string) { Default.ClearMeasures(names...) }

// ClearFunctions removes function entries from the Default timeline.
func ClearFunctions(names ...string) { Default.ClearFunctions(names...) }

// Stats returns the aggregated durations for a name on the Default timeline.
func Stats(name string) *State { return Default.Stats(name) }

// States iterates the aggregated names on the Default timeline.
func States(cb func(name string, st *State) bool) { Default.States(cb) }
