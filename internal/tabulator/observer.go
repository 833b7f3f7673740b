package tabulator

import "github.com/openrcv/tally/internal/decimal"

// EventKind identifies a structured tabulation event.
type EventKind string

const (
	EventRoundStarted        EventKind = "round_started"
	EventTallyComputed       EventKind = "tally_computed"
	EventThresholdSet        EventKind = "threshold_set"
	EventCandidateWon        EventKind = "candidate_won"
	EventCandidateEliminated EventKind = "candidate_eliminated"
	EventSurplusTransferred  EventKind = "surplus_transferred"
	EventTieBreakResolved    EventKind = "tie_break_resolved"
	EventBallotExhausted     EventKind = "ballot_exhausted"
	EventTabulationComplete  EventKind = "tabulation_complete"
)

// Event is one structured tabulation event. The engine never formats
// user-facing text; observers render events however they need to.
type Event struct {
	Kind      EventKind                  `json:"kind"`
	Round     int                        `json:"round,omitempty"`
	Candidate string                     `json:"candidate,omitempty"`
	BallotID  string                     `json:"ballot_id,omitempty"`
	Reason    string                     `json:"reason,omitempty"`
	// Value carries the tally, threshold, surplus fraction or ballot value
	// relevant to the event kind, as an exact decimal string.
	Value       string                     `json:"value,omitempty"`
	Tally       map[string]decimal.Decimal `json:"tally,omitempty"`
	Explanation string                     `json:"explanation,omitempty"`
}

// Observer receives structured events as tabulation progresses. Calls are
// made synchronously from the engine's single goroutine, in a
// deterministic order.
type Observer interface {
	OnEvent(ev Event)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) OnEvent(Event) {}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// multiObserver fans events out to several observers in order.
type multiObserver []Observer

func (m multiObserver) OnEvent(ev Event) {
	for _, observer := range m {
		observer.OnEvent(ev)
	}
}

// Observers combines observers into one; nil entries are skipped.
func Observers(observers ...Observer) Observer {
	var combined multiObserver
	for _, observer := range observers {
		if observer != nil {
			combined = append(combined, observer)
		}
	}
	if len(combined) == 1 {
		return combined[0]
	}
	return combined
}

// TieBreakRequest describes a tie the engine cannot resolve on its own
// under the interactive tie-break modes.
type TieBreakRequest struct {
	Round          int
	TiedCandidates []string
	// SelectingWinner is true when the resolution elects a candidate and
	// false when it eliminates one.
	SelectingWinner bool
	// Tally is the vote count shared by all tied candidates.
	Tally decimal.Decimal
}

// TieBreakResolver supplies resolutions for interactive tie-breaks. The
// engine suspends on Resolve; the collaborator decides and the engine
// resumes with the choice. Returning an error aborts tabulation.
type TieBreakResolver interface {
	Resolve(req TieBreakRequest) (string, error)
}
