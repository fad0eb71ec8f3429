// Package entity is the store of business facts shared by every actor:
// employees, tasks, deliverables, memories, meetings and costs.
package entity

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no entity has the requested ID.
	ErrNotFound = errors.New("entity: not found")
	// ErrDuplicate is returned when inserting an ID that already exists.
	ErrDuplicate = errors.New("entity: duplicate id")
)

// Employee roles.
const (
	RoleCEO     = "ceo"
	RoleManager = "manager"
	RoleIC      = "ic"
	RoleHR      = "hr"
)

// Task statuses mirror the task lifecycle.
const (
	TaskPending    = "pending"
	TaskAssigned   = "assigned"
	TaskInProgress = "in_progress"
	TaskReview     = "review"
	TaskRevision   = "revision"
	TaskCompleted  = "completed"
)

// Deliverable statuses.
const (
	DeliverableSubmitted = "submitted"
	DeliverableApproved  = "approved"
	DeliverableRevision  = "revision"
)

// Memory kinds.
const (
	MemoryMeeting      = "meeting"
	MemoryPingSent     = "ping_sent"
	MemoryPingReceived = "ping_received"
	MemoryPingReply    = "ping_reply"
	MemoryPingAnswered = "ping_answered"
	MemoryFeedback     = "feedback"
	MemoryTask         = "task"
)

// Employee is a hired agent.
type Employee struct {
	ID        string    `json:"id" toml:"id"`
	Name      string    `json:"name" toml:"name"`
	Role      string    `json:"role" toml:"role"`
	Title     string    `json:"title,omitempty" toml:"title,omitempty"`
	ManagerID string    `json:"managerId,omitempty" toml:"manager_id,omitempty"`
	Address   string    `json:"address,omitempty" toml:"address,omitempty"`
	Skills    []string  `json:"skills,omitempty" toml:"skills,omitempty"`
	Status    string    `json:"status" toml:"status"`
	HiredAt   time.Time `json:"hiredAt" toml:"hired_at"`
}

func (e Employee) key() string { return e.ID }

// Task is a unit of work flowing from the CEO to an IC.
type Task struct {
	ID          string    `json:"id" toml:"id"`
	Title       string    `json:"title" toml:"title"`
	Description string    `json:"description,omitempty" toml:"description,omitempty"`
	Priority    string    `json:"priority,omitempty" toml:"priority,omitempty"`
	Status      string    `json:"status" toml:"status"`
	AssigneeID  string    `json:"assigneeId,omitempty" toml:"assignee_id,omitempty"`
	ManagerID   string    `json:"managerId,omitempty" toml:"manager_id,omitempty"`
	CreatedBy   string    `json:"createdBy,omitempty" toml:"created_by,omitempty"`
	MeetingID   string    `json:"meetingId,omitempty" toml:"meeting_id,omitempty"`
	Revisions   int       `json:"revisions,omitempty" toml:"revisions,omitempty"`
	Feedback    string    `json:"feedback,omitempty" toml:"feedback,omitempty"`
	CreatedAt   time.Time `json:"createdAt" toml:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" toml:"updated_at"`
}

func (t Task) key() string { return t.ID }

// Deliverable is one submitted version of a task's output.
type Deliverable struct {
	ID         string    `json:"id" toml:"id"`
	TaskID     string    `json:"taskId" toml:"task_id"`
	EmployeeID string    `json:"employeeId" toml:"employee_id"`
	Version    int       `json:"version" toml:"version"`
	Content    string    `json:"content" toml:"content"`
	Status     string    `json:"status" toml:"status"`
	Feedback   string    `json:"feedback,omitempty" toml:"feedback,omitempty"`
	CreatedAt  time.Time `json:"createdAt" toml:"created_at"`
}

func (d Deliverable) key() string { return d.ID }

// Memory is something an employee remembers.
type Memory struct {
	ID            string    `json:"id" toml:"id"`
	EmployeeID    string    `json:"employeeId" toml:"employee_id"`
	Kind          string    `json:"kind" toml:"kind"`
	Content       string    `json:"content" toml:"content"`
	MeetingID     string    `json:"meetingId,omitempty" toml:"meeting_id,omitempty"`
	PingID        string    `json:"pingId,omitempty" toml:"ping_id,omitempty"`
	CounterpartID string    `json:"counterpartId,omitempty" toml:"counterpart_id,omitempty"`
	CreatedAt     time.Time `json:"createdAt" toml:"created_at"`
}

func (m Memory) key() string { return m.ID }

// Meeting is the record of a meeting that took place.
type Meeting struct {
	ID           string    `json:"id" toml:"id"`
	Type         string    `json:"type" toml:"type"`
	ScheduleID   string    `json:"scheduleId,omitempty" toml:"schedule_id,omitempty"`
	OrganizerID  string    `json:"organizerId,omitempty" toml:"organizer_id,omitempty"`
	Participants []string  `json:"participants" toml:"participants"`
	Transcript   string    `json:"transcript" toml:"transcript"`
	StartedAt    time.Time `json:"startedAt" toml:"started_at"`
}

func (m Meeting) key() string { return m.ID }

// Cost records the size of one generation call.
type Cost struct {
	ID          string    `json:"id" toml:"id"`
	EmployeeID  string    `json:"employeeId,omitempty" toml:"employee_id,omitempty"`
	Purpose     string    `json:"purpose" toml:"purpose"`
	Model       string    `json:"model,omitempty" toml:"model,omitempty"`
	PromptChars int       `json:"promptChars" toml:"prompt_chars"`
	OutputChars int       `json:"outputChars" toml:"output_chars"`
	CreatedAt   time.Time `json:"createdAt" toml:"created_at"`
}

func (c Cost) key() string { return c.ID }

// EmployeeFilter selects employees; empty fields match everything.
type EmployeeFilter struct {
	Role      string
	ManagerID string
	Status    string
}

func (f EmployeeFilter) match(e Employee) bool {
	return matches(f.Role, e.Role) && matches(f.ManagerID, e.ManagerID) && matches(f.Status, e.Status)
}

// TaskFilter selects tasks.
type TaskFilter struct {
	AssigneeID    string
	ManagerID     string
	Status        string
	MeetingID     string
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

func (f TaskFilter) match(t Task) bool {
	return matches(f.AssigneeID, t.AssigneeID) &&
		matches(f.ManagerID, t.ManagerID) &&
		matches(f.Status, t.Status) &&
		matches(f.MeetingID, t.MeetingID) &&
		within(t.CreatedAt, f.CreatedAfter, f.CreatedBefore)
}

// DeliverableFilter selects deliverables.
type DeliverableFilter struct {
	TaskID     string
	EmployeeID string
}

func (f DeliverableFilter) match(d Deliverable) bool {
	return matches(f.TaskID, d.TaskID) && matches(f.EmployeeID, d.EmployeeID)
}

// MemoryFilter selects memories.
type MemoryFilter struct {
	EmployeeID string
	Kind       string
	MeetingID  string
	PingID     string
	Since      time.Time
}

func (f MemoryFilter) match(m Memory) bool {
	return matches(f.EmployeeID, m.EmployeeID) &&
		matches(f.Kind, m.Kind) &&
		matches(f.MeetingID, m.MeetingID) &&
		matches(f.PingID, m.PingID) &&
		within(m.CreatedAt, f.Since, time.Time{})
}

// MeetingFilter selects meetings.
type MeetingFilter struct {
	Type        string
	OrganizerID string
	ScheduleID  string
	Since       time.Time
}

func (f MeetingFilter) match(m Meeting) bool {
	return matches(f.Type, m.Type) &&
		matches(f.OrganizerID, m.OrganizerID) &&
		matches(f.ScheduleID, m.ScheduleID) &&
		within(m.StartedAt, f.Since, time.Time{})
}

// CostFilter selects cost records.
type CostFilter struct {
	EmployeeID string
	Purpose    string
	Since      time.Time
	Until      time.Time
}

func (f CostFilter) match(c Cost) bool {
	return matches(f.EmployeeID, c.EmployeeID) &&
		matches(f.Purpose, c.Purpose) &&
		within(c.CreatedAt, f.Since, f.Until)
}

func matches(want, got string) bool {
	return want == "" || want == got
}

// within treats zero bounds as open; from is inclusive, until exclusive.
func within(at, from, until time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !until.IsZero() && !at.Before(until) {
		return false
	}
	return true
}
