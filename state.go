package perf

import (
	"sync/atomic"
	"unsafe"
)

func newState() unsafe.Pointer { return unsafe.Pointer(new(State)) }

// State aggregates the durations recorded under one name by measures and
// timerified functions. Aggregation is independent of the timeline: clearing
// entries does not reset the state for their name.
type State struct {
	current int64
	his     Histogram
}

// state returns the state for a name, allocating it if necessary.
func (p *Performance) state(name string) *State {
	return (*State)(p.states.Upsert(name, newState))
}

// Stats returns the aggregated durations for a name, or nil when nothing has
// been recorded under it.
func (p *Performance) Stats(name string) *State {
	return (*State)(p.states.Lookup(name))
}

// States calls the callback with every name that has aggregated durations,
// until it returns false.
func (p *Performance) States(cb func(name string, st *State) bool) {
	for iter := p.states.Iterator(); iter.Next(); {
		if !cb(iter.Key(), (*State)(iter.Value())) {
			return
		}
	}
}

// start informs the state that a timed region has begun.
func (s *State) start() { atomic.AddInt64(&s.current, 1) }

// done informs the state that a timed region completed in the given amount
// of nanoseconds.
func (s *State) done(v int64) {
	atomic.AddInt64(&s.current, -1)
	s.his.Observe(v)
}

// observe records a duration without an active-region pairing.
func (s *State) observe(v int64) { s.his.Observe(v) }

// Histogram returns the histogram associated with the state.
func (s *State) Histogram() *Histogram { return &s.his }

// Current returns the number of active timed regions.
func (s *State) Current() int64 { return atomic.LoadInt64(&s.current) }

// Total returns the number of recorded durations.
func (s *State) Total() int64 { return s.his.Total() }

// Quantile returns an estimation of the qth quantile in [0, 1].
func (s *State) Quantile(q float64) int64 { return s.his.Quantile(q) }

// Sum returns an estimation of the summed durations.
func (s *State) Sum() float64 { return s.his.Sum() }

// Average returns an estimation of the average duration.
func (s *State) Average() float64 { return s.his.Average() }

// Variance returns an estimation of the average and variance.
func (s *State) Variance() (float64, float64) { return s.his.Variance() }
