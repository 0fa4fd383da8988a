package perf

import (
	"testing"

	"github.com/zeebo/assert"
	"github.com/zeebo/errs"
)

func TestTimerify(t *testing.T) {
	t.Run("Transparent", func(t *testing.T) {
		p := New()

		calls := 0
		wrapped := p.Timerify(func() { calls++ })

		wrapped()
		wrapped()
		assert.Equal(t, calls, 2)
	})

	t.Run("TransparentErr", func(t *testing.T) {
		p := New()

		boom := errs.New("boom")
		wrapped := p.TimerifyErr(func() error { return boom })

		assert.Equal(t, wrapped(), boom)
	})

	t.Run("TransparentPanic", func(t *testing.T) {
		p := New()
		obs := p.Observe(func([]Entry) {}, TypeFunction)
		defer obs.Disconnect()

		wrapped := p.TimerifyNamed("panics", func() { panic("boom") })

		func() {
			defer func() { assert.Equal(t, recover(), "boom") }()
			wrapped()
		}()

		// the entry is still recorded when fn panics
		assert.Equal(t, len(p.EntriesByName("panics", TypeFunction)), 1)
	})

	t.Run("GatedByObserver", func(t *testing.T) {
		p := New()
		wrapped := p.TimerifyNamed("gated", func() {})

		wrapped()
		assert.Equal(t, len(p.EntriesByType(TypeFunction)), 0)

		obs := p.Observe(func([]Entry) {}, TypeFunction)
		wrapped()
		assert.Equal(t, len(p.EntriesByType(TypeFunction)), 1)

		obs.Disconnect()
		wrapped()
		assert.Equal(t, len(p.EntriesByType(TypeFunction)), 1)
	})

	t.Run("StatsAlwaysAggregate", func(t *testing.T) {
		p := New()
		wrapped := p.TimerifyNamed("counted", func() {})

		wrapped()
		wrapped()

		st := p.Stats("counted")
		assert.NotNil(t, st)
		assert.Equal(t, st.Total(), 2)
		assert.Equal(t, st.Current(), 0)
	})

	t.Run("ClearFunctions", func(t *testing.T) {
		p := New()
		obs := p.Observe(func([]Entry) {}, TypeFunction)
		defer obs.Disconnect()

		p.TimerifyNamed("a", func() {})()
		p.TimerifyNamed("b", func() {})()

		p.ClearFunctions("a")
		got := p.EntriesByType(TypeFunction)
		assert.Equal(t, len(got), 1)
		assert.Equal(t, got[0].Name, "b")

		p.ClearFunctions()
		assert.Equal(t, len(p.EntriesByType(TypeFunction)), 0)
	})
}

func TestStartFunction(t *testing.T) {
	p := New()

	timer := p.StartFunction("region")
	assert.Equal(t, p.Stats("region").Current(), 1)
	timer.Stop()

	st := p.Stats("region")
	assert.Equal(t, st.Current(), 0)
	assert.Equal(t, st.Total(), 1)
}

func TestFuncName(t *testing.T) {
	assert.Equal(t, funcName(TestFuncName),
		"github.com/zeebo/perf.TestFuncName")
}

func BenchmarkTimerify(b *testing.B) {
	b.Run("Unobserved", func(b *testing.B) {
		p := New()
		wrapped := p.TimerifyNamed("bench", func() {})
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			wrapped()
		}
	})

	b.Run("NoDefer", func(b *testing.B) {
		p := New()
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			timer := p.StartFunction("bench")
			timer.Stop()
		}
	})

	b.Run("ThunkNoDefer", func(b *testing.B) {
		var thunk Thunk
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			timer := thunk.Start()
			timer.Stop()
		}
	})
}
