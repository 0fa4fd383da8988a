package perf

import (
	"fmt"
	"testing"

	"github.com/zeebo/assert"
	"github.com/zeebo/pcg"
)

func TestNow(t *testing.T) {
	prev := Now()
	for i := 0; i < 1000; i++ {
		cur := Now()
		assert.That(t, cur >= prev)
		prev = cur
	}
}

func TestMark(t *testing.T) {
	p := New()

	before := Now()
	ent := p.Mark("boot")
	after := Now()

	assert.Equal(t, ent.Type, TypeMark)
	assert.Equal(t, ent.Name, "boot")
	assert.Equal(t, ent.Duration, 0)
	assert.That(t, before <= ent.Start && ent.Start <= after)

	got := p.EntriesByType(TypeMark)
	assert.Equal(t, len(got), 1)
	assert.Equal(t, got[0], ent)
}

func TestMeasure(t *testing.T) {
	t.Run("Basic", func(t *testing.T) {
		p := New()

		start := p.Mark("start")
		end := p.Mark("end")

		ent, err := p.Measure("span", "start", "end")
		assert.NoError(t, err)
		assert.Equal(t, ent.Type, TypeMeasure)
		assert.Equal(t, ent.Start, start.Start)
		assert.Equal(t, ent.Duration, end.Start-start.Start)
	})

	t.Run("UnknownEnd", func(t *testing.T) {
		p := New()
		p.Mark("start")

		_, err := p.Measure("span", "start", "missing")
		assert.That(t, err != nil)
		assert.Equal(t, len(p.EntriesByType(TypeMeasure)), 0)
	})

	t.Run("UnknownStartFallsBackToOrigin", func(t *testing.T) {
		p := New()
		end := p.Mark("end")

		ent, err := p.Measure("span", "missing", "end")
		assert.NoError(t, err)
		assert.Equal(t, ent.Start, 0)
		assert.Equal(t, ent.Duration, end.Start)
	})

	t.Run("LatestMarkWins", func(t *testing.T) {
		p := New()

		p.Mark("m")
		latest := p.Mark("m")
		end := p.Mark("end")

		ent, err := p.Measure("span", "m", "end")
		assert.NoError(t, err)
		assert.Equal(t, ent.Start, latest.Start)
		assert.Equal(t, ent.Duration, end.Start-latest.Start)
	})

	t.Run("MilestoneEnd", func(t *testing.T) {
		p := New()
		p.MarkBootstrap()

		ent, err := p.Measure("startup", "runtimeStart", "bootstrap")
		assert.NoError(t, err)
		assert.Equal(t, ent.Start, 0)
		assert.That(t, ent.Duration > 0)
	})

	t.Run("ClearedMarkDoesNotResolve", func(t *testing.T) {
		p := New()
		p.Mark("start")
		p.Mark("end")
		p.ClearMarks("end")

		_, err := p.Measure("span", "start", "end")
		assert.That(t, err != nil)
	})

	t.Run("FeedsStats", func(t *testing.T) {
		p := New()
		p.Mark("end")

		_, err := p.Measure("span", "", "end")
		assert.NoError(t, err)

		st := p.Stats("span")
		assert.NotNil(t, st)
		assert.Equal(t, st.Total(), 1)
	})
}

func TestEntriesOrdered(t *testing.T) {
	p := New()
	rng := pcg.New(0)

	// measures against random earlier marks land out of record order.
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("mark-%d", i)
		p.Mark(name)

		if i > 0 {
			against := fmt.Sprintf("mark-%d", rng.Uint32n(uint32(i)))
			_, err := p.Measure(fmt.Sprintf("measure-%d", i), against, name)
			assert.NoError(t, err)
		}
	}

	entries := p.Entries()
	assert.That(t, len(entries) >= 199)
	for i := 1; i < len(entries); i++ {
		assert.That(t, entries[i-1].Start <= entries[i].Start)
	}
}

func TestEntriesByName(t *testing.T) {
	p := New()

	p.Mark("a")
	p.Mark("b")
	p.Mark("a")
	_, err := p.Measure("a", "b", "a")
	assert.NoError(t, err)

	all := p.Entries()
	var expect []Entry
	for _, ent := range all {
		if ent.Name == "a" {
			expect = append(expect, ent)
		}
	}

	assert.DeepEqual(t, p.EntriesByName("a"), expect)
	assert.Equal(t, len(p.EntriesByName("a", TypeMark)), 2)
	assert.Equal(t, len(p.EntriesByName("a", TypeMeasure)), 1)
	assert.Equal(t, len(p.EntriesByName("missing")), 0)
}

func TestEntriesByType(t *testing.T) {
	p := New()

	p.Mark("a")
	p.Mark("b")
	_, err := p.Measure("span", "a", "b")
	assert.NoError(t, err)

	all := p.Entries()
	var expect []Entry
	for _, ent := range all {
		if ent.Type == TypeMark {
			expect = append(expect, ent)
		}
	}

	assert.DeepEqual(t, p.EntriesByType(TypeMark), expect)
	assert.Equal(t, len(p.EntriesByType(TypeMeasure)), 1)
	assert.Equal(t, len(p.EntriesByType(TypeFunction)), 0)
}

func TestClear(t *testing.T) {
	build := func(t *testing.T) *Performance {
		p := New()
		p.Mark("a")
		p.Mark("b")
		_, err := p.Measure("m1", "a", "b")
		assert.NoError(t, err)
		_, err = p.Measure("m2", "b", "b")
		assert.NoError(t, err)
		return p
	}

	t.Run("AllMarks", func(t *testing.T) {
		p := build(t)
		p.ClearMarks()

		assert.Equal(t, len(p.EntriesByType(TypeMark)), 0)
		assert.Equal(t, len(p.EntriesByType(TypeMeasure)), 2)
	})

	t.Run("NamedMarks", func(t *testing.T) {
		p := build(t)
		p.ClearMarks("a")

		marks := p.EntriesByType(TypeMark)
		assert.Equal(t, len(marks), 1)
		assert.Equal(t, marks[0].Name, "b")
	})

	t.Run("AllMeasures", func(t *testing.T) {
		p := build(t)
		p.ClearMeasures()

		assert.Equal(t, len(p.EntriesByType(TypeMeasure)), 0)
		assert.Equal(t, len(p.EntriesByType(TypeMark)), 2)
	})

	t.Run("NamedMeasures", func(t *testing.T) {
		p := build(t)
		p.ClearMeasures("m1")

		measures := p.EntriesByType(TypeMeasure)
		assert.Equal(t, len(measures), 1)
		assert.Equal(t, measures[0].Name, "m2")
	})

	t.Run("MissingNameIsNoop", func(t *testing.T) {
		p := build(t)
		p.ClearMarks("zzz")
		p.ClearMeasures("zzz")
		p.ClearFunctions("zzz")

		assert.Equal(t, len(p.EntriesByType(TypeMark)), 2)
		assert.Equal(t, len(p.EntriesByType(TypeMeasure)), 2)
	})
}

func BenchmarkMark(b *testing.B) {
	p := New()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		p.Mark("bench")
	}
}

func BenchmarkMeasure(b *testing.B) {
	p := New()
	p.Mark("end")
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, _ = p.Measure("bench", "end", "end")
	}
}

func BenchmarkNow(b *testing.B) {
	b.ReportAllocs()

	var sink int64
	for i := 0; i < b.N; i++ {
		sink = Now()
	}
	_ = sink
}
