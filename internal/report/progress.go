// Package report carries progress events, store statistics snapshots and
// run summaries between the cleanup engines and their callers.
package report

import (
	"github.com/bardlex/poolclean/pkg/log"
)

// EventKind classifies a progress event.
type EventKind int

const (
	// EventPhase marks the start of a table scan or sweep phase.
	EventPhase EventKind = iota
	// EventFound is emitted as matching records accumulate.
	EventFound
	// EventSkipped is emitted for a record that failed to decode.
	EventSkipped
	// EventDeleted is emitted for a single notable deletion or sweep candidate.
	EventDeleted
)

func (k EventKind) String() string {
	switch k {
	case EventPhase:
		return "phase"
	case EventFound:
		return "found"
	case EventSkipped:
		return "skipped"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is one progress notification.
type Event struct {
	Table  string
	Kind   EventKind
	Count  int
	Detail string
	Err    error
}

// Progress receives events. A nil Progress drops them.
type Progress func(Event)

// Emit delivers e if p is set.
func (p Progress) Emit(e Event) {
	if p != nil {
		p(e)
	}
}

// LogProgress writes events through logger. Verbose runs log at info level,
// otherwise events go to debug. Skipped records always log a warning.
func LogProgress(logger *log.Logger, verbose bool) Progress {
	logger = logger.WithComponent("progress")
	return func(e Event) {
		l := logger.WithTable(e.Table)
		if e.Kind == EventSkipped {
			l.WithError(e.Err).Warn("could not parse record", "detail", e.Detail)
			return
		}

		args := []any{"event", e.Kind.String()}
		if e.Count > 0 {
			args = append(args, "count", e.Count)
		}
		if e.Detail != "" {
			args = append(args, "detail", e.Detail)
		}
		if verbose {
			l.Info("progress", args...)
		} else {
			l.Debug("progress", args...)
		}
	}
}
