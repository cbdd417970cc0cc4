package model

import "time"

// State is the processing state of one selected item.
type State string

const (
	StateQueued       State = "Queued"
	StateFetching     State = "Fetching"
	StateTranscribing State = "Transcribing"
	StateSummarizing  State = "Summarizing"
	StateDone         State = "Done"
	StateFailed       State = "Failed"
)

// String returns the string representation of State
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true for Done and Failed.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// IsActive returns true while an external call may be outstanding.
func (s State) IsActive() bool {
	return s == StateFetching || s == StateTranscribing || s == StateSummarizing
}

var forward = map[State]State{
	StateQueued:       StateFetching,
	StateFetching:     StateTranscribing,
	StateTranscribing: StateSummarizing,
	StateSummarizing:  StateDone,
}

// CanTransition reports whether from -> to is a legal move. Any non-terminal
// state may fail; Queued items fail only through cancellation or batch abort.
func (s State) CanTransition(to State) bool {
	if s.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return forward[s] == to
}

// Event is one state transition of one item within a batch.
type Event struct {
	BatchID string
	ItemID  string
	From    State
	To      State
	Reason  string // set when To is Failed
	Cached  bool   // the stage was served from the session cache
	At      time.Time
}
