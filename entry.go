package perf

import "github.com/zeebo/errs"

// Type tags an Entry with what produced it.
type Type int8

const (
	// TypeOther tags entries of a kind this package does not know about.
	TypeOther Type = iota
	// TypeNode tags the runtime milestone entry.
	TypeNode
	// TypeMark tags zero-duration entries created by Mark.
	TypeMark
	// TypeMeasure tags entries created by Measure.
	TypeMeasure
	// TypeGC tags entries recorded for garbage collection cycles.
	TypeGC
	// TypeFunction tags entries recorded by timerified functions.
	TypeFunction

	numTypes = 6
)

func (t Type) String() string {
	switch t {
	case TypeNode:
		return "node"
	case TypeMark:
		return "mark"
	case TypeMeasure:
		return "measure"
	case TypeGC:
		return "gc"
	case TypeFunction:
		return "function"
	default:
		return "other"
	}
}

// ParseType is the inverse of String. Unknown strings parse to TypeOther so
// that entries from newer producers remain representable.
func ParseType(s string) Type {
	switch s {
	case "node":
		return TypeNode
	case "mark":
		return TypeMark
	case "measure":
		return TypeMeasure
	case "gc":
		return TypeGC
	case "function":
		return TypeFunction
	default:
		return TypeOther
	}
}

// MarshalJSON encodes the type as its string tag.
func (t Type) MarshalJSON() ([]byte, error) { return []byte(`"` + t.String() + `"`), nil }

// UnmarshalJSON decodes a string tag, mapping unknown tags to TypeOther.
func (t *Type) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errs.New("invalid entry type: %s", data)
	}
	*t = ParseType(string(data[1 : len(data)-1]))
	return nil
}

// GCKind classifies a garbage collection cycle.
type GCKind int8

const (
	// GCKindNone is the zero kind carried by entries that are not gc entries.
	GCKindNone GCKind = iota
	// GCKindMajor tags forced, full collections.
	GCKindMajor
	// GCKindMinor tags ordinary background collections.
	GCKindMinor
	// GCKindIncremental tags partial collection steps.
	GCKindIncremental
	// GCKindWeakCB tags weak callback processing phases.
	GCKindWeakCB
)

func (k GCKind) String() string {
	switch k {
	case GCKindMajor:
		return "major"
	case GCKindMinor:
		return "minor"
	case GCKindIncremental:
		return "incremental"
	case GCKindWeakCB:
		return "weakcb"
	default:
		return "none"
	}
}

// ParseGCKind is the inverse of String. Unknown strings parse to GCKindNone.
func ParseGCKind(s string) GCKind {
	switch s {
	case "major":
		return GCKindMajor
	case "minor":
		return GCKindMinor
	case "incremental":
		return GCKindIncremental
	case "weakcb":
		return GCKindWeakCB
	default:
		return GCKindNone
	}
}

// MarshalJSON encodes the kind as its string tag.
func (k GCKind) MarshalJSON() ([]byte, error) { return []byte(`"` + k.String() + `"`), nil }

// UnmarshalJSON decodes a string tag, mapping unknown tags to GCKindNone.
func (k *GCKind) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errs.New("invalid gc kind: %s", data)
	}
	*k = ParseGCKind(string(data[1 : len(data)-1]))
	return nil
}

// Entry is a single record on the timeline. Start and Duration are monotonic
// nanoseconds relative to the time origin.
type Entry struct {
	Name     string `json:"name"`
	Type     Type   `json:"entryType"`
	Kind     GCKind `json:"kind,omitempty"`
	Start    int64  `json:"startTime"`
	Duration int64  `json:"duration"`
}
