package perf

import (
	"reflect"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/zeebo/this"
)

// Timerify returns a function that behaves exactly like fn (returns and
// panics pass through) and additionally times every invocation under fn's
// name. A function entry reaches the timeline only while an observer
// watches TypeFunction; the per-name state aggregates regardless.
func (p *Performance) Timerify(fn func()) func() {
	name := funcName(fn)
	return func() {
		defer p.StartFunction(name).Stop()
		fn()
	}
}

// TimerifyErr is Timerify for functions returning an error.
func (p *Performance) TimerifyErr(fn func() error) func() error {
	name := funcName(fn)
	return func() error {
		defer p.StartFunction(name).Stop()
		return fn()
	}
}

// TimerifyNamed is Timerify with an explicit entry name.
func (p *Performance) TimerifyNamed(name string, fn func()) func() {
	return func() {
		defer p.StartFunction(name).Stop()
		fn()
	}
}

// FuncTimer tracks one active timed region.
type FuncTimer struct {
	p     *Performance
	name  string
	state *State
	start int64
}

// StartFunction begins timing a region that Stop ends. It covers call
// shapes the Timerify wrappers don't.
func (p *Performance) StartFunction(name string) FuncTimer {
	st := p.state(name)
	st.start()
	return FuncTimer{p: p, name: name, state: st, start: Now()}
}

// Stop records the timing info. The timeline entry is emitted only if an
// observer is watching function entries.
func (t FuncTimer) Stop() {
	dur := Now() - t.start
	t.state.done(dur)

	if t.p.obs.watching(TypeFunction) {
		t.p.push(Entry{Name: t.name, Type: TypeFunction, Start: t.start, Duration: dur})
	}
}

// Thunk is a type that allows one to get the benefits of StartFunction
// without having to compute the caller every time it's called. Zero values
// are valid. Don't use the same Thunk from different functions/methods.
type Thunk struct {
	val atomic.Value
}

// Start returns a FuncTimer on the Default timeline, naming it after the
// calling function the first time Start runs.
func (t *Thunk) Start() FuncTimer {
	if t.val.Load() == nil {
		t.val.Store(this.ThisN(1))
	}
	return Default.StartFunction(t.val.Load().(string))
}

// Timerify wraps fn on the Default timeline.
func Timerify(fn func()) func() { return Default.TimerifyNamed(funcName(fn), fn) }

// TimerifyErr wraps fn on the Default timeline.
func TimerifyErr(fn func() error) func() error {
	name := funcName(fn)
	return func() error {
		defer Default.StartFunction(name).Stop()
		return fn()
	}
}

// StartFunction begins a timed region on the Default timeline.
func StartFunction(name string) FuncTimer { return Default.StartFunction(name) }

// funcName resolves the name of a function value, falling back to the
// caller when the runtime has nothing for it.
func funcName(fn interface{}) string {
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		return strings.TrimSuffix(f.Name(), "-fm")
	}
	return this.ThisN(2)
}
