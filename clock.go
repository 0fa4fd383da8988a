package perf

import (
	"time"
	_ "unsafe"
)

//go:linkname nanotime runtime.nanotime
func nanotime() (mono int64)

// the time origin is captured once at package init. all timestamps in the
// package are monotonic nanoseconds relative to it.
var (
	originTicks = nanotime()
	originWall  = time.Now()
)

// Now returns the number of monotonic nanoseconds elapsed since the
// time origin.
func Now() int64 { return nanotime() - originTicks }

// TimeOrigin returns the wall clock instant that Now measures from.
func TimeOrigin() time.Time { return originWall }
