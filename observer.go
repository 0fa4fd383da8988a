package perf

import (
	"sync"
	"sync/atomic"
)

// Observer delivers recorded entries to a callback. Function and gc entries
// are captured only while at least one observer watches their type, so
// registering an observer is what turns that instrumentation on.
type Observer struct {
	o            *observers
	p            *Performance
	cb           func([]Entry)
	types        [numTypes]bool
	disconnected uint32
}

// Observe registers a callback for entries of the given types, or for every
// type when none are given. The callback runs on the goroutine that records
// the entry and must not block.
func (p *Performance) Observe(cb func([]Entry), types ...Type) *Observer {
	obs := &Observer{o: &p.obs, p: p, cb: cb}
	if len(types) == 0 {
		for i := range obs.types {
			obs.types[i] = true
		}
	} else {
		for _, t := range types {
			obs.types[t] = true
		}
	}

	p.obs.add(obs)
	if obs.types[TypeGC] {
		p.gc.add(p)
	}
	return obs
}

// Observe registers a callback on the Default timeline.
func Observe(cb func([]Entry), types ...Type) *Observer {
	return Default.Observe(cb, types...)
}

// Disconnect unregisters the observer. It is idempotent.
func (obs *Observer) Disconnect() {
	if !atomic.CompareAndSwapUint32(&obs.disconnected, 0, 1) {
		return
	}
	obs.o.remove(obs)
	if obs.types[TypeGC] {
		obs.p.gc.done()
	}
}

// observers is a copy-on-write set of registered observers with per-type
// watch counts so that the recording paths can check for an audience with a
// single atomic load.
type observers struct {
	mu    sync.Mutex
	set   atomic.Value // []*Observer
	watch [numTypes]int32
}

func (o *observers) add(obs *Observer) {
	o.mu.Lock()

	cur, _ := o.set.Load().([]*Observer)
	next := make([]*Observer, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, obs)
	o.set.Store(next)

	for t := range obs.types {
		if obs.types[t] {
			atomic.AddInt32(&o.watch[t], 1)
		}
	}

	o.mu.Unlock()
}

func (o *observers) remove(obs *Observer) {
	o.mu.Lock()

	cur, _ := o.set.Load().([]*Observer)
	next := make([]*Observer, 0, len(cur))
	for _, other := range cur {
		if other != obs {
			next = append(next, other)
		}
	}
	o.set.Store(next)

	for t := range obs.types {
		if obs.types[t] {
			atomic.AddInt32(&o.watch[t], -1)
		}
	}

	o.mu.Unlock()
}

// watching reports whether any observer is registered for the type.
func (o *observers) watching(t Type) bool {
	return atomic.LoadInt32(&o.watch[t]) > 0
}

// dispatch delivers the entry to every observer watching its type.
func (o *observers) dispatch(ent Entry) {
	set, _ := o.set.Load().([]*Observer)
	if len(set) == 0 {
		return
	}

	batch := []Entry{ent}
	for _, obs := range set {
		if obs.types[ent.Type] {
			obs.cb(batch)
		}
	}
}
