package perf

import (
	"testing"
	"time"

	"github.com/zeebo/assert"
	"github.com/zeebo/pcg"
)

func TestHistogram(t *testing.T) {
	t.Run("Boundaries", func(t *testing.T) {
		h := new(Histogram)

		h.Observe(0)
		assert.Equal(t, h.Total(), 1)

		// negative durations are dropped
		h.Observe(-1)
		assert.Equal(t, h.Total(), 1)

		// values past the largest bucket are dropped
		h.Observe(1<<63 - 1 - histEntries)
		assert.Equal(t, h.Total(), 1)

		h.Observe(int64(time.Hour))
		assert.Equal(t, h.Total(), 2)
	})

	t.Run("Quantile", func(t *testing.T) {
		h := new(Histogram)
		for i := int64(0); i < 1000; i++ {
			h.Observe(i)
		}

		assert.Equal(t, h.Quantile(0), 0)
		assert.Equal(t, h.Quantile(.25), 248)
		assert.Equal(t, h.Quantile(.5), 496)
		assert.Equal(t, h.Quantile(1), 992)
	})

	t.Run("Average", func(t *testing.T) {
		h := new(Histogram)
		for i := int64(0); i < 1000; i++ {
			h.Observe(i)
		}

		avg := h.Average()
		assert.That(t, 450 < avg && avg < 550)
	})

	t.Run("Percentiles", func(t *testing.T) {
		h := new(Histogram)
		for i := int64(0); i < 1000; i++ {
			h.Observe(i)
		}

		prev, seen := int64(-1), int64(0)
		h.Percentiles(func(value, count, total int64) {
			assert.Equal(t, total, 1000)
			assert.That(t, value > prev)
			assert.That(t, count > seen)
			prev, seen = value, count
		})
		assert.Equal(t, seen, 1000)
	})

	t.Run("Random", func(t *testing.T) {
		h := new(Histogram)
		rng := pcg.New(0)

		for i := 0; i < 10000; i++ {
			h.Observe(int64(rng.Uint32n(1e6)))
		}
		assert.Equal(t, h.Total(), 10000)
	})
}

func BenchmarkHistogram(b *testing.B) {
	b.Run("Observe", func(b *testing.B) {
		h := new(Histogram)
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			h.Observe(1)
		}
	})

	b.Run("Quantile", func(b *testing.B) {
		h := new(Histogram)
		for i := int64(0); i < 1000000; i++ {
			h.Observe(i)
		}
		b.ReportAllocs()
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			h.Quantile(0.95)
		}
	})
}
