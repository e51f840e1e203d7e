// Package pagination drives repeated extraction across pages or across a
// growing infinite-scroll listing.
package pagination

// Phase is the position of a run in the pagination state machine.
type Phase int

const (
	Init Phase = iota
	Fetching
	MaxReached
	NoMorePages
)

func (p Phase) String() string {
	switch p {
	case Init:
		return "INIT"
	case Fetching:
		return "FETCHING"
	case MaxReached:
		return "MAX_REACHED"
	case NoMorePages:
		return "NO_MORE_PAGES"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further pages will be fetched.
func (p Phase) Terminal() bool {
	return p == MaxReached || p == NoMorePages
}

// State is the bookkeeping of one pagination run. Transitions are pure: each
// returns a new State. Caps of zero or less are unset.
type State struct {
	Phase             Phase
	CurrentPage       int
	ScrapedContainers int
	Loads             int

	MaxPages      int
	MaxContainers int
}

// NewState returns the initial state for the given caps.
func NewState(maxPages, maxContainers int) State {
	return State{
		Phase:         Init,
		MaxPages:      maxPages,
		MaxContainers: maxContainers,
	}
}

// First reports whether no page has been fetched yet.
func (s State) First() bool {
	return s.CurrentPage == 0
}

// CapReached reports whether either cap is met. The caps are independent;
// whichever is hit first stops the run.
func (s State) CapReached() bool {
	if s.MaxContainers > 0 && s.ScrapedContainers >= s.MaxContainers {
		return true
	}
	return s.MaxPages > 0 && s.CurrentPage >= s.MaxPages
}

// Guard moves to MaxReached when a cap is met and reports whether the run
// may continue.
func (s State) Guard() (State, bool) {
	if s.CapReached() {
		s.Phase = MaxReached
		return s, false
	}
	return s, true
}

// Advance records that a new page is available.
func (s State) Advance() State {
	s.CurrentPage++
	s.Phase = Fetching
	return s
}

// Exhaust records that the listing has no more pages.
func (s State) Exhaust() State {
	s.Phase = NoMorePages
	return s
}

// Reach records that a cap stopped the run.
func (s State) Reach() State {
	s.Phase = MaxReached
	return s
}

// Loaded records one successful "load more" activation.
func (s State) Loaded() State {
	s.Loads++
	s.Phase = Fetching
	return s
}

// Accept accounts for n newly found containers. It returns the new state
// and how many of the n may be kept so the total never exceeds the
// container cap.
func (s State) Accept(n int) (State, int) {
	keep := n
	if s.MaxContainers > 0 {
		if room := s.MaxContainers - s.ScrapedContainers; keep > room {
			keep = max(room, 0)
		}
	}
	s.ScrapedContainers += keep
	return s, keep
}
