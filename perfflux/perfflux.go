// Package perfflux exports a performance timeline as influxdb line protocol.
package perfflux

import (
	"fmt"
	"io"
	"math"

	"github.com/zeebo/perf"
)

// Collector writes the per-name duration stats and the timeline entry
// counts of a Performance.
type Collector struct {
	// Perf is the timeline to export. The Default timeline when nil.
	Perf *perf.Performance

	// Measurement prefixes every line when set.
	Measurement string

	// ExcludeHistograms skips the percentile series.
	ExcludeHistograms bool
}

func (c Collector) timeline() *perf.Performance {
	if c.Perf != nil {
		return c.Perf
	}
	return perf.Default
}

// Write emits the collected lines to w.
func (c Collector) Write(w io.Writer) error {
	ew := &errWriter{w: w}
	p := c.timeline()

	counts := make(map[perf.Type]int)
	for _, ent := range p.Entries() {
		counts[ent.Type]++
	}
	for typ, count := range counts {
		if c.Measurement != "" {
			fmt.Fprintf(ew, "%q,type=%q count=%di\n", c.Measurement, typ, count)
		} else {
			fmt.Fprintf(ew, "entries,type=%q count=%di\n", typ, count)
		}
	}

	p.States(func(name string, state *perf.State) bool {
		var m string
		if c.Measurement != "" {
			m = fmt.Sprintf("%q,name=%q", c.Measurement, name)
		} else {
			m = fmt.Sprintf("%q", name)
		}

		current, total := state.Current(), state.Total()
		fmt.Fprintf(ew, "%s current=%di\n", m, current)
		fmt.Fprintf(ew, "%s total=%di\n", m, total)

		if average := state.Average(); !math.IsNaN(average) {
			fmt.Fprintf(ew, "%s average=%v\n", m, average/1e9)

			if !c.ExcludeHistograms {
				his := state.Histogram()
				outputq := func(q float64) {
					value := float64(his.Quantile(q)) / 1e9
					fmt.Fprintf(ew, "%s,percentile=%v value=%v\n", m, q, value)
				}

				outputq(0)
				outputq(0.5)
				for i, p := int64(10), float64(0.1); i/2 < total; i, p = i*10, p/10 {
					outputq(1 - p)
				}
				outputq(1)
			}
		}

		return ew.err == nil
	})
	return ew.err
}

// Write emits the Default timeline to w.
func Write(w io.Writer) error { return Collector{}.Write(w) }

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	var n int
	n, e.err = e.w.Write(p)
	return n, e.err
}
