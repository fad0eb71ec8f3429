package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/lattice-org/internal/mailbox"
)

// Meeting types.
const (
	MeetingStandup = "standup"
	MeetingSync    = "sync"
	MeetingPing    = "ping"
)

// Recurrence values. Only daily and weekly have an evaluated period.
const (
	FrequencyNone     = "none"
	FrequencyDaily    = "daily"
	FrequencyWeekly   = "weekly"
	FrequencyBiWeekly = "bi-weekly"
)

// Priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// ScheduleMeeting adds an item to the orchestrator's schedule.
type ScheduleMeeting struct {
	ID            string    `json:"id,omitempty"`
	Type          string    `json:"type"`
	ScheduledTime time.Time `json:"scheduledTime"`
	Participants  []string  `json:"participants"`
	OrganizerID   string    `json:"organizerId,omitempty"`
	Frequency     string    `json:"frequency,omitempty"`
	Topic         string    `json:"topic,omitempty"`
	Message       string    `json:"message,omitempty"`
}

func (p ScheduleMeeting) Validate() error {
	switch p.Type {
	case MeetingStandup, MeetingSync, MeetingPing:
	default:
		return fmt.Errorf("unknown meeting type %q", p.Type)
	}
	switch p.Frequency {
	case "", FrequencyNone, FrequencyDaily, FrequencyWeekly, FrequencyBiWeekly:
	default:
		return fmt.Errorf("unknown frequency %q", p.Frequency)
	}
	if p.ScheduledTime.IsZero() {
		return errors.New("scheduledTime is required")
	}
	if len(p.Participants) == 0 {
		return errors.New("at least one participant is required")
	}
	if p.Type == MeetingPing && p.OrganizerID == "" {
		return errors.New("ping meetings need an organizerId")
	}
	return nil
}

// RunMeeting starts a standup or sync immediately.
type RunMeeting struct {
	OrganizerID  string   `json:"organizerId,omitempty"`
	Participants []string `json:"participants"`
	Topic        string   `json:"topic,omitempty"`
	ScheduleID   string   `json:"scheduleId,omitempty"`
}

func (p RunMeeting) Validate() error {
	if len(p.Participants) == 0 {
		return errors.New("at least one participant is required")
	}
	return nil
}

// SendPing asks the orchestrator to deliver a ping.
type SendPing struct {
	PingID  string `json:"pingId,omitempty"`
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
	// ReplyTo receives a pingReply once the recipient answers.
	ReplyTo string `json:"replyTo,omitempty"`
}

func (p SendPing) Validate() error {
	if strings.TrimSpace(p.From) == "" || strings.TrimSpace(p.To) == "" {
		return errors.New("from and to are required")
	}
	if p.ReplyTo != "" {
		if _, err := mailbox.ParseAddress(p.ReplyTo); err != nil {
			return err
		}
	}
	return nil
}

// PingResponse answers a ping. An unknown PingID resolves the most recent
// outstanding ping.
type PingResponse struct {
	PingID  string `json:"pingId,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Message string `json:"message"`
}

// GetStatus requests a status summary in the log.
type GetStatus struct{}

// Ping is delivered to a participant's ping channel.
type Ping struct {
	PingID  string `json:"pingId"`
	From    string `json:"from"`
	Message string `json:"message"`
}

func (p Ping) Validate() error {
	if p.PingID == "" {
		return errors.New("pingId is required")
	}
	return nil
}

// PingReply forwards an answer back to the original sender.
type PingReply struct {
	PingID  string `json:"pingId"`
	From    string `json:"from"`
	Message string `json:"message"`
}

// MeetingNotice tells a participant a meeting is starting.
type MeetingNotice struct {
	MeetingType  string   `json:"meetingType"`
	ScheduleID   string   `json:"scheduleId,omitempty"`
	OrganizerID  string   `json:"organizerId,omitempty"`
	Participants []string `json:"participants"`
	Topic        string   `json:"topic,omitempty"`
}

// HireEmployee asks HR to hire and start a new actor.
type HireEmployee struct {
	EmployeeID string   `json:"employeeId,omitempty"`
	Name       string   `json:"name"`
	Role       string   `json:"role"`
	Title      string   `json:"title,omitempty"`
	ManagerID  string   `json:"managerId,omitempty"`
	Skills     []string `json:"skills,omitempty"`
}

func (p HireEmployee) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name is required")
	}
	switch p.Role {
	case RoleCEO, RoleManager, RoleIC:
	default:
		return fmt.Errorf("cannot hire role %q", p.Role)
	}
	return nil
}

// NewTask hands a task to HR (which routes it to a manager) or to a manager
// (which assigns it to an IC). Either TaskID or Title must be set.
type NewTask struct {
	TaskID      string `json:"taskId,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	CreatedBy   string `json:"createdBy,omitempty"`
}

func (p NewTask) Validate() error {
	if p.TaskID == "" && strings.TrimSpace(p.Title) == "" {
		return errors.New("taskId or title is required")
	}
	return nil
}

// TaskCompleted tells HR a manager approved a task.
type TaskCompleted struct {
	TaskID    string `json:"taskId"`
	ManagerID string `json:"managerId,omitempty"`
}

func (p TaskCompleted) Validate() error {
	if p.TaskID == "" {
		return errors.New("taskId is required")
	}
	return nil
}

// TaskSpec describes one task derived from a goal.
type TaskSpec struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// SetGoal gives the CEO a goal to break into tasks.
type SetGoal struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Tasks       []TaskSpec `json:"tasks,omitempty"`
}

func (p SetGoal) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("title is required")
	}
	for i, task := range p.Tasks {
		if strings.TrimSpace(task.Title) == "" {
			return fmt.Errorf("task %d has no title", i)
		}
	}
	return nil
}

// Introduction names an actor and where to reach it. It is the payload of
// registerManager and addReport.
type Introduction struct {
	EmployeeID string `json:"employeeId"`
	Name       string `json:"name"`
	Address    string `json:"address"`
}

func (p Introduction) Validate() error {
	if p.EmployeeID == "" {
		return errors.New("employeeId is required")
	}
	_, err := mailbox.ParseAddress(p.Address)
	return err
}

// RequestReports asks the CEO to collect reports from every manager.
type RequestReports struct{}

// ManagerReport carries a manager's report to the CEO.
type ManagerReport struct {
	ManagerID string `json:"managerId"`
	Name      string `json:"name,omitempty"`
	Address   string `json:"address,omitempty"`
	Report    string `json:"report"`
}

func (p ManagerReport) Validate() error {
	if p.ManagerID == "" {
		return errors.New("managerId is required")
	}
	return nil
}

// DeliverableSubmitted is sent by an IC when a task is ready for review.
type DeliverableSubmitted struct {
	TaskID        string `json:"taskId"`
	DeliverableID string `json:"deliverableId,omitempty"`
	EmployeeID    string `json:"employeeId"`
	Version       int    `json:"version"`
	Content       string `json:"content"`
}

func (p DeliverableSubmitted) Validate() error {
	if p.TaskID == "" || p.EmployeeID == "" {
		return errors.New("taskId and employeeId are required")
	}
	return nil
}

// GenerateReport asks a manager for a report, sent to ReplyTo when set.
type GenerateReport struct {
	ReplyTo string `json:"replyTo,omitempty"`
}

// ReportFeedback is the CEO's answer to a report.
type ReportFeedback struct {
	Feedback string `json:"feedback"`
	From     string `json:"from,omitempty"`
}

// AssignTask gives an IC a task.
type AssignTask struct {
	TaskID      string `json:"taskId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

func (p AssignTask) Validate() error {
	if p.TaskID == "" || strings.TrimSpace(p.Title) == "" {
		return errors.New("taskId and title are required")
	}
	return nil
}

// RequestRevision sends a deliverable back to its IC.
type RequestRevision struct {
	TaskID   string `json:"taskId"`
	Feedback string `json:"feedback"`
}

func (p RequestRevision) Validate() error {
	if p.TaskID == "" {
		return errors.New("taskId is required")
	}
	return nil
}

// TaskApproved closes a task for its IC.
type TaskApproved struct {
	TaskID   string `json:"taskId"`
	Feedback string `json:"feedback,omitempty"`
}

func (p TaskApproved) Validate() error {
	if p.TaskID == "" {
		return errors.New("taskId is required")
	}
	return nil
}

// Seed is the initial state HR passes when it starts an employee actor. Each
// role decodes the fields it uses.
type Seed struct {
	OrgID          string `json:"orgId,omitempty"`
	EmployeeID     string `json:"employeeId"`
	Name           string `json:"name"`
	ManagerID      string `json:"managerId,omitempty"`
	ManagerAddress string `json:"managerAddress,omitempty"`
	HRAddress      string `json:"hrAddress,omitempty"`
	MeetingAddress string `json:"meetingAddress,omitempty"`
}
