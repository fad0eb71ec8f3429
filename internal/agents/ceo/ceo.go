// Package ceo implements the CEO actor: it turns goals into tasks for HR,
// collects manager reports and answers them with feedback.
package ceo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kingrea/lattice-org/internal/actor"
	"github.com/kingrea/lattice-org/internal/agents/kit"
	"github.com/kingrea/lattice-org/internal/agents/protocol"
	"github.com/kingrea/lattice-org/internal/entity"
	"github.com/kingrea/lattice-org/internal/llm"
	"github.com/kingrea/lattice-org/internal/logging"
	"github.com/kingrea/lattice-org/internal/mailbox"
	"github.com/kingrea/lattice-org/internal/resume"
)

// State is the CEO's private record.
type State struct {
	OrgID          string                     `json:"orgId"`
	EmployeeID     string                     `json:"employeeId"`
	Name           string                     `json:"name"`
	HRAddress      string                     `json:"hrAddress,omitempty"`
	MeetingAddress string                     `json:"meetingAddress,omitempty"`
	Managers       map[string]kit.Participant `json:"managers"`
	Goals          []Goal                     `json:"goals"`
	// Threads is the report conversation with each manager.
	Threads        map[string]Thread `json:"threads"`
	ReportRequests int               `json:"reportRequests"`
}

// Goal is a goal and the tasks created for it.
type Goal struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	TaskIDs     []string  `json:"taskIds"`
	SetAt       time.Time `json:"setAt"`
}

// Thread tracks the latest report exchange with one manager.
type Thread struct {
	ManagerID    string    `json:"managerId"`
	Reports      int       `json:"reports"`
	LastReport   string    `json:"lastReport"`
	LastFeedback string    `json:"lastFeedback"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewState returns an empty CEO record.
func NewState() State {
	return State{Managers: map[string]kit.Participant{}, Threads: map[string]Thread{}}
}

func (s *State) ensure() {
	if s.Managers == nil {
		s.Managers = map[string]kit.Participant{}
	}
	if s.Threads == nil {
		s.Threads = map[string]Thread{}
	}
}

// Definition registers the CEO role, one per organization.
func Definition(deps kit.Deps) actor.Definition {
	return actor.Definition{
		Role:        protocol.RoleCEO,
		Description: "sets goals and reviews manager reports",
		Channels:    protocol.CEOChannels.Names(),
		Identity:    kit.OrgIdentity,
		Validate:    protocol.CEOChannels.Validate,
		New: func(env actor.Env, initial json.RawMessage) (actor.Process, error) {
			c := New(env, deps)
			return kit.Build[State](env, initial, NewState, seed, c, nil)
		},
	}
}

func seed(s *State) error {
	if s.OrgID == "" {
		s.OrgID = kit.DefaultOrg
	}
	if s.EmployeeID == "" {
		s.EmployeeID = protocol.RoleCEO
	}
	return nil
}

// CEO handles CEO events.
type CEO struct {
	env    actor.Env
	deps   kit.Deps
	retry  *resume.Client
	logger logging.Printer
}

// New builds the CEO handler for env.
func New(env actor.Env, deps kit.Deps) *CEO {
	return &CEO{env: env, deps: deps, retry: deps.Retry(env), logger: kit.Logger(env)}
}

// Handle implements actor.Handler.
func (c *CEO) Handle(ctx context.Context, state State, msg mailbox.Message) (State, error) {
	state.ensure()
	switch msg.Type {
	case protocol.EventSetGoal:
		p, err := protocol.Decode[protocol.SetGoal](msg)
		if err != nil {
			return state, err
		}
		return state, c.setGoal(ctx, &state, p)
	case protocol.EventRegisterManager:
		p, err := protocol.Decode[protocol.Introduction](msg)
		if err != nil {
			return state, err
		}
		state.Managers[p.EmployeeID] = kit.Participant{ID: p.EmployeeID, Name: p.Name, Address: p.Address}
		c.logger.Printf("%s: manager %s registered at %s", c.env.Address, p.EmployeeID, p.Address)
		return state, nil
	case protocol.EventRequestReports:
		c.requestReports(ctx, &state)
		return state, nil
	case protocol.EventManagerReport:
		p, err := protocol.Decode[protocol.ManagerReport](msg)
		if err != nil {
			return state, err
		}
		return state, c.managerReport(ctx, &state, p)
	case protocol.EventGetStatus:
		c.logger.Printf("%s: status managers=%d goals=%d threads=%d", c.env.Address, len(state.Managers), len(state.Goals), len(state.Threads))
		return state, nil
	default:
		return state, actor.Invalid("ceo: unknown event %q", msg.Type)
	}
}

// setGoal creates one task per listed task, or one for the goal itself, and
// hands each to HR. The goal is recorded with the tasks that were created
// before any is sent; it fails only when no task could be created.
func (c *CEO) setGoal(ctx context.Context, state *State, p protocol.SetGoal) error {
	if state.HRAddress == "" {
		return actor.Invalid("no HR address to hand goal %q to", p.Title)
	}
	specs := p.Tasks
	if len(specs) == 0 {
		specs = []protocol.TaskSpec{{Title: p.Title, Description: p.Description, Priority: protocol.PriorityMedium}}
	}
	goal := Goal{Title: p.Title, Description: p.Description, SetAt: c.env.Now().UTC()}
	for _, spec := range specs {
		task, err := c.deps.Entities.InsertTask(ctx, entity.Task{
			Title:       spec.Title,
			Description: spec.Description,
			Priority:    spec.Priority,
			CreatedBy:   state.EmployeeID,
		})
		if err != nil {
			if len(goal.TaskIDs) == 0 {
				return fmt.Errorf("goal %q: create task %q: %w", p.Title, spec.Title, err)
			}
			c.logger.Printf("%s: goal %q: create task %q: %v (kept %d of %d)", c.env.Address, p.Title, spec.Title, err, len(goal.TaskIDs), len(specs))
			break
		}
		goal.TaskIDs = append(goal.TaskIDs, task.ID)
	}
	state.Goals = append(state.Goals, goal)
	for _, id := range goal.TaskIDs {
		msg := protocol.Message(protocol.EventNewTask, protocol.NewTask{TaskID: id, CreatedBy: state.EmployeeID}, c.env.Address)
		kit.Tell(ctx, c.env, c.retry, state.HRAddress, msg)
	}
	c.logger.Printf("%s: goal %q set with %d task(s)", c.env.Address, p.Title, len(goal.TaskIDs))
	return nil
}

func (c *CEO) requestReports(ctx context.Context, state *State) {
	state.ReportRequests++
	req := protocol.GenerateReport{ReplyTo: c.env.Address.String()}
	for _, m := range state.Managers {
		kit.Tell(ctx, c.env, c.retry, m.Address, protocol.Message(protocol.EventGenerateReport, req, c.env.Address))
	}
	c.logger.Printf("%s: requested reports from %d manager(s)", c.env.Address, len(state.Managers))
}

func (c *CEO) managerReport(ctx context.Context, state *State, p protocol.ManagerReport) error {
	manager, known := state.Managers[p.ManagerID]
	if !known {
		manager = kit.Resolve(ctx, c.deps.Entities, p.ManagerID)
	}
	if p.Address != "" {
		manager.Address = p.Address
	}
	if p.Name != "" {
		manager.Name = p.Name
	}
	feedback, err := c.deps.Generator.Generate(ctx, llm.Prompt{
		Purpose:    llm.PurposeFeedback,
		System:     "You are the CEO. Respond to a manager's status report with brief, actionable feedback.",
		User:       p.Report,
		EmployeeID: state.EmployeeID,
		Subjects:   []string{manager.Name},
	})
	if err != nil {
		return fmt.Errorf("feedback for %s: %w", p.ManagerID, err)
	}
	kit.Tell(ctx, c.env, c.retry, manager.Address,
		protocol.Message(protocol.EventReportFeedback, protocol.ReportFeedback{Feedback: feedback, From: state.EmployeeID}, c.env.Address))

	thread := state.Threads[p.ManagerID]
	thread.ManagerID = p.ManagerID
	thread.Reports++
	thread.LastReport = p.Report
	thread.LastFeedback = feedback
	thread.UpdatedAt = c.env.Now().UTC()
	state.Threads[p.ManagerID] = thread

	kit.Remember(ctx, c.env, c.deps.Entities, entity.Memory{
		EmployeeID:    state.EmployeeID,
		Kind:          entity.MemoryFeedback,
		CounterpartID: p.ManagerID,
		Content:       fmt.Sprintf("Report from %s: %s\nFeedback: %s", manager.Name, p.Report, feedback),
	})
	return nil
}
