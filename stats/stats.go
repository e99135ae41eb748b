package stats

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

type Type int

const (
	Traversed Type = iota
	Matched
	Formatted
	Changed
	Errored
	Skipped
)

func (t Type) String() string {
	switch t {
	case Traversed:
		return "traversed"
	case Matched:
		return "matched"
	case Formatted:
		return "formatted"
	case Changed:
		return "changed"
	case Errored:
		return "errored"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Stats records counters for a single run. It is safe for concurrent use.
type Stats struct {
	start    time.Time
	counters map[Type]*atomic.Int64
}

func (s *Stats) Add(t Type, delta int) int {
	return int(s.counters[t].Add(int64(delta)))
}

func (s *Stats) Value(t Type) int {
	return int(s.counters[t].Load())
}

func (s *Stats) Elapsed() time.Duration {
	return time.Since(s.start)
}

// Log writes a one line summary of the run at info level.
func (s *Stats) Log() {
	log.Info(
		"summary",
		"traversed", s.Value(Traversed),
		"matched", s.Value(Matched),
		"formatted", s.Value(Formatted),
		"changed", s.Value(Changed),
		"errored", s.Value(Errored),
		"skipped", s.Value(Skipped),
		"duration", s.Elapsed().Round(time.Millisecond),
	)
}

func New() Stats {
	counters := make(map[Type]*atomic.Int64)
	for _, t := range []Type{Traversed, Matched, Formatted, Changed, Errored, Skipped} {
		counters[t] = &atomic.Int64{}
	}

	return Stats{
		start:    time.Now(),
		counters: counters,
	}
}
