package meeting

import (
	"sort"
	"time"

	"github.com/kingrea/lattice-org/internal/agents/protocol"
)

// State is the orchestrator's private record.
type State struct {
	OrgID         string                `json:"orgId"`
	Scheduled     []Scheduled           `json:"scheduled"`
	ActivePings   map[string]ActivePing `json:"activePings"`
	PingSeq       int64                 `json:"pingSeq"`
	PingsResolved int                   `json:"pingsResolved"`
	MeetingsHeld  int                   `json:"meetingsHeld"`
	LastMeetingID string                `json:"lastMeetingId,omitempty"`
}

// NewState returns the default orchestrator record.
func NewState() State {
	return State{ActivePings: map[string]ActivePing{}}
}

func (s *State) pings() map[string]ActivePing {
	if s.ActivePings == nil {
		s.ActivePings = map[string]ActivePing{}
	}
	return s.ActivePings
}

// mostRecentPing returns the latest outstanding ping by creation order. The
// wall clock is not consulted since it may step backwards.
func (s *State) mostRecentPing() (ActivePing, bool) {
	var latest ActivePing
	found := false
	for _, p := range s.ActivePings {
		if !found || p.Seq > latest.Seq {
			latest, found = p, true
		}
	}
	return latest, found
}

// Scheduled is one entry of the meeting schedule. Entries are never removed;
// one-shot entries keep their LastRun and stop matching.
type Scheduled struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	ScheduledTime time.Time  `json:"scheduledTime"`
	Participants  []string   `json:"participants"`
	OrganizerID   string     `json:"organizerId,omitempty"`
	Frequency     string     `json:"frequency"`
	Topic         string     `json:"topic,omitempty"`
	Message       string     `json:"message,omitempty"`
	LastRun       *time.Time `json:"lastRun,omitempty"`
}

// Period returns the recurrence period of freq. Bi-weekly is accepted but has
// no evaluated period, so such entries fire once like one-shot entries.
func Period(freq string) (time.Duration, bool) {
	switch freq {
	case protocol.FrequencyDaily:
		return 24 * time.Hour, true
	case protocol.FrequencyWeekly:
		return 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Due reports whether the entry should fire at now.
func (s Scheduled) Due(now time.Time) bool {
	if s.ScheduledTime.After(now) {
		return false
	}
	if s.LastRun == nil {
		return true
	}
	period, ok := Period(s.Frequency)
	if !ok {
		return false
	}
	return now.Sub(*s.LastRun) >= period
}

// ActivePing is an outstanding ping awaiting a response.
type ActivePing struct {
	PingID    string    `json:"pingId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   string    `json:"replyTo,omitempty"`
	Seq       int64     `json:"seq"`
}

// Status summarizes the orchestrator for logs and the bridge.
type Status struct {
	Scheduled    int      `json:"scheduled"`
	Recurring    int      `json:"recurring"`
	ActivePings  []string `json:"activePings"`
	MeetingsHeld int      `json:"meetingsHeld"`
}

// Summary builds the status view.
func (s State) Summary() Status {
	st := Status{Scheduled: len(s.Scheduled), MeetingsHeld: s.MeetingsHeld, ActivePings: []string{}}
	for _, item := range s.Scheduled {
		if _, ok := Period(item.Frequency); ok {
			st.Recurring++
		}
	}
	for id := range s.ActivePings {
		st.ActivePings = append(st.ActivePings, id)
	}
	sort.Strings(st.ActivePings)
	return st
}
