package perf

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// gcWatcher reference counts the observers interested in gc entries and
// runs the watch loop while there are any.
type gcWatcher struct {
	mu   sync.Mutex
	refs int
	stop chan struct{}
}

func (g *gcWatcher) add(p *Performance) {
	g.mu.Lock()
	g.refs++
	if g.refs == 1 {
		g.stop = make(chan struct{})
		go p.watchGC(g.stop)
	}
	g.mu.Unlock()
}

func (g *gcWatcher) done() {
	g.mu.Lock()
	g.refs--
	if g.refs == 0 {
		close(g.stop)
	}
	g.mu.Unlock()
}

// armGCTrigger registers a finalizer whose only job is to signal that a
// collection cycle has completed. The sentinel is garbage immediately, so
// the finalizer runs after the next cycle.
func armGCTrigger(ch chan struct{}) {
	runtime.SetFinalizer(new(byte), func(*byte) {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
}

// watchGC records one gc entry per completed collection cycle until stop is
// closed. Cycles in a batch that included a forced collection are tagged
// major; everything else the Go collector runs is tagged minor.
func (p *Performance) watchGC(stop chan struct{}) {
	var stats debug.GCStats
	var mem runtime.MemStats

	debug.ReadGCStats(&stats)
	runtime.ReadMemStats(&mem)
	seen, forced := stats.NumGC, mem.NumForcedGC

	trigger := make(chan struct{}, 1)
	armGCTrigger(trigger)

	for {
		select {
		case <-stop:
			return
		case <-trigger:
		}

		debug.ReadGCStats(&stats)
		runtime.ReadMemStats(&mem)

		kind := GCKindMinor
		if mem.NumForcedGC > forced {
			kind = GCKindMajor
		}
		forced = mem.NumForcedGC

		// Pause and PauseEnd hold the most recent cycles first. Cycles
		// that fell out of the buffers are dropped.
		for i := stats.NumGC - seen; i > 0; i-- {
			if int(i) > len(stats.Pause) || int(i) > len(stats.PauseEnd) {
				continue
			}
			pause := stats.Pause[i-1]
			end := stats.PauseEnd[i-1]

			start := end.Sub(originWall) - pause
			p.push(Entry{
				Name:     "gc",
				Type:     TypeGC,
				Kind:     kind,
				Start:    int64(start),
				Duration: int64(pause),
			})
		}
		seen = stats.NumGC

		armGCTrigger(trigger)
	}
}
