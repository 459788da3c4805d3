package bot

import (
	"fmt"

	"github.com/roach88/botsync/internal/record"
)

// State is the lifecycle of an update cycle.
type State int

const (
	NotStarted State = iota
	Running
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// OutcomeKind classifies the result of updating one identifier.
type OutcomeKind int

const (
	// OutcomeOK means the record was fetched and persisted.
	OutcomeOK OutcomeKind = iota
	// OutcomeSkip means the source returned nothing for the identifier.
	OutcomeSkip
	// OutcomeAbort means an operational condition ended the cycle.
	OutcomeAbort
)

// Outcome is the result of updating one identifier within a cycle.
type Outcome struct {
	Kind   OutcomeKind
	Record record.Record
	Reason error
}

// RunSummary reports one cycle. Updated counts identifiers persisted before
// any abort; Output carries the abort reason.
type RunSummary struct {
	Updated    int    `json:"updated"`
	Discovered int    `json:"discovered,omitempty"`
	Output     string `json:"output,omitempty"`
	State      State  `json:"-"`
}

func (s RunSummary) String() string {
	out := fmt.Sprintf("updated %d", s.Updated)
	if s.Discovered > 0 {
		out += fmt.Sprintf(", discovered %d", s.Discovered)
	}
	if s.Output != "" {
		out += ": " + s.Output
	}
	return out
}
