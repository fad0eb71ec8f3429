package manager

import (
	"github.com/kingrea/lattice-org/internal/agents/kit"
)

// MaxRevisions is how many revisions a task may go through before the
// manager approves whatever was last submitted.
const MaxRevisions = 3

// State is a manager's private record.
type State struct {
	EmployeeID     string `json:"employeeId"`
	Name           string `json:"name"`
	HRAddress      string `json:"hrAddress,omitempty"`
	MeetingAddress string `json:"meetingAddress,omitempty"`
	// Reports are the manager's ICs in the order they were introduced.
	Reports []kit.Participant `json:"reports"`
	// Load counts tasks open per IC.
	Load map[string]int `json:"load"`
	// Open maps task IDs to the IC working on them.
	Open map[string]string `json:"open"`
	// Queue holds task IDs waiting for an IC.
	Queue         []string `json:"queue"`
	Approved      int      `json:"approved"`
	LastFeedback  string   `json:"lastFeedback,omitempty"`
	PingsAnswered int      `json:"pingsAnswered"`
	Replies       int      `json:"replies"`
	Meetings      int      `json:"meetings"`
}

// NewState returns an empty manager record.
func NewState() State {
	return State{Load: map[string]int{}, Open: map[string]string{}}
}

func (s *State) ensure() {
	if s.Load == nil {
		s.Load = map[string]int{}
	}
	if s.Open == nil {
		s.Open = map[string]string{}
	}
}

func (s State) report(id string) (kit.Participant, bool) {
	for _, r := range s.Reports {
		if r.ID == id {
			return r, true
		}
	}
	return kit.Participant{}, false
}

// leastLoaded picks the IC with the fewest open tasks, earliest first on ties.
func (s State) leastLoaded() (kit.Participant, bool) {
	var best kit.Participant
	found := false
	bestLoad := 0
	for _, r := range s.Reports {
		if load := s.Load[r.ID]; !found || load < bestLoad {
			best, bestLoad, found = r, load, true
		}
	}
	return best, found
}
