package perf

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/process"
)

// milestone names resolvable as measure endpoints.
const (
	milestoneProcessStart = "processStart"
	milestoneRuntimeStart = "runtimeStart"
	milestoneBootstrap    = "bootstrap"
	milestoneLoopStart    = "loopStart"
	milestoneLoopExit     = "loopExit"
)

// RuntimeEntry is the timeline entry describing runtime bootstrap
// milestones. All fields are nanoseconds relative to the time origin, -1
// when the milestone has not been reached or cannot be determined.
type RuntimeEntry struct {
	Entry

	ProcessStart int64 `json:"processStart"`
	RuntimeStart int64 `json:"runtimeStart"`
	Bootstrap    int64 `json:"bootstrap"`
	LoopStart    int64 `json:"loopStart"`
	LoopExit     int64 `json:"loopExit"`
}

// milestones holds set-once timestamps for the host application's lifecycle.
// A zero slot means the milestone has not been marked.
type milestones struct {
	bootstrap int64
	loopStart int64
	loopExit  int64
}

func setOnce(addr *int64, v int64) {
	if v == 0 {
		v = 1 // keep zero meaning unset
	}
	atomic.CompareAndSwapInt64(addr, 0, v)
}

// MarkBootstrap records that the host application finished initializing.
// Only the first call has an effect.
func (p *Performance) MarkBootstrap() { setOnce(&p.rt.bootstrap, Now()) }

// MarkLoopStart records that the host application's main loop began.
func (p *Performance) MarkLoopStart() { setOnce(&p.rt.loopStart, Now()) }

// MarkLoopExit records that the host application's main loop ended.
func (p *Performance) MarkLoopExit() { setOnce(&p.rt.loopExit, Now()) }

// MarkBootstrap records the bootstrap milestone on the Default timeline.
func MarkBootstrap() { Default.MarkBootstrap() }

// MarkLoopStart records the loop start milestone on the Default timeline.
func MarkLoopStart() { Default.MarkLoopStart() }

// MarkLoopExit records the loop exit milestone on the Default timeline.
func MarkLoopExit() { Default.MarkLoopExit() }

// resolve maps a milestone name to its timestamp. Unmarked milestones do
// not resolve.
func (m *milestones) resolve(name string) (int64, bool) {
	switch name {
	case milestoneProcessStart:
		if ps := processStart(); ps != -1 {
			return ps, true
		}
	case milestoneRuntimeStart:
		return 0, true
	case milestoneBootstrap:
		if v := atomic.LoadInt64(&m.bootstrap); v != 0 {
			return v, true
		}
	case milestoneLoopStart:
		if v := atomic.LoadInt64(&m.loopStart); v != 0 {
			return v, true
		}
	case milestoneLoopExit:
		if v := atomic.LoadInt64(&m.loopExit); v != 0 {
			return v, true
		}
	}
	return 0, false
}

func milestoneValue(addr *int64) int64 {
	if v := atomic.LoadInt64(addr); v != 0 {
		return v
	}
	return -1
}

// RuntimeTiming returns a snapshot of the runtime milestone entry. Its
// duration is the uptime of the timeline at the call.
func (p *Performance) RuntimeTiming() RuntimeEntry {
	return RuntimeEntry{
		Entry: Entry{
			Name:     "runtime",
			Type:     TypeNode,
			Start:    0,
			Duration: Now(),
		},
		ProcessStart: processStart(),
		RuntimeStart: 0,
		Bootstrap:    milestoneValue(&p.rt.bootstrap),
		LoopStart:    milestoneValue(&p.rt.loopStart),
		LoopExit:     milestoneValue(&p.rt.loopExit),
	}
}

// RuntimeTiming returns the runtime milestone entry of the Default timeline.
func RuntimeTiming() RuntimeEntry { return Default.RuntimeTiming() }

var processStartOnce struct {
	sync.Once
	val int64
}

// processStart returns the process creation time relative to the time
// origin, usually negative since the process exists before this package
// initializes. It returns -1 when the platform cannot say.
func processStart() int64 {
	processStartOnce.Do(func() {
		processStartOnce.val = -1

		proc, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return
		}
		created, err := proc.CreateTime() // milliseconds since the unix epoch
		if err != nil {
			return
		}

		createdWall := time.Unix(created/1e3, created%1e3*int64(time.Millisecond))
		processStartOnce.val = int64(createdWall.Sub(originWall))
	})
	return processStartOnce.val
}
