package hr

import (
	"sort"

	"github.com/kingrea/lattice-org/internal/agents/kit"
)

// State is HR's roster and task routing table.
type State struct {
	OrgID          string `json:"orgId"`
	MeetingAddress string `json:"meetingAddress,omitempty"`
	CEOID          string `json:"ceoId,omitempty"`
	CEOAddress     string `json:"ceoAddress,omitempty"`
	// Employees holds every hire by employee ID.
	Employees map[string]Hire `json:"employees"`
	// Managers lists manager IDs in hire order; ties in load go to the earliest.
	Managers []string `json:"managers"`
	// Load counts open tasks routed to each manager.
	Load map[string]int `json:"load"`
	// Routed maps task IDs to the manager they went to.
	Routed map[string]string `json:"routed"`
	// Pending holds task IDs received while no manager was available.
	Pending   []string `json:"pending"`
	Completed int      `json:"completed"`
}

// Hire is one roster entry.
type Hire struct {
	kit.Participant
	Role      string `json:"role"`
	ManagerID string `json:"managerId,omitempty"`
}

// NewState returns an empty roster.
func NewState() State {
	return State{
		Employees: map[string]Hire{},
		Load:      map[string]int{},
		Routed:    map[string]string{},
	}
}

func (s *State) ensure() {
	if s.Employees == nil {
		s.Employees = map[string]Hire{}
	}
	if s.Load == nil {
		s.Load = map[string]int{}
	}
	if s.Routed == nil {
		s.Routed = map[string]string{}
	}
}

// leastLoaded returns the manager with the fewest open tasks.
func (s State) leastLoaded() (Hire, bool) {
	var best Hire
	found := false
	bestLoad := 0
	for _, id := range s.Managers {
		m, ok := s.Employees[id]
		if !ok || m.Address == "" {
			continue
		}
		if load := s.Load[id]; !found || load < bestLoad {
			best, bestLoad, found = m, load, true
		}
	}
	return best, found
}

// Status summarizes HR for logs.
type Status struct {
	Headcount map[string]int `json:"headcount"`
	Load      map[string]int `json:"load"`
	Pending   int            `json:"pending"`
	Completed int            `json:"completed"`
}

// Summary builds the status view.
func (s State) Summary() Status {
	st := Status{Headcount: map[string]int{}, Load: map[string]int{}, Pending: len(s.Pending), Completed: s.Completed}
	for _, e := range s.Employees {
		st.Headcount[e.Role]++
	}
	for id, n := range s.Load {
		st.Load[id] = n
	}
	return st
}

func (s Status) managers() []string {
	ids := make([]string, 0, len(s.Load))
	for id := range s.Load {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
