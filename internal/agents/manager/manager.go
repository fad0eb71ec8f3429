// Package manager implements the manager actor. A manager assigns tasks to
// its ICs, reviews their deliverables and reports to the CEO.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kingrea/lattice-org/internal/actor"
	"github.com/kingrea/lattice-org/internal/agents/kit"
	"github.com/kingrea/lattice-org/internal/agents/protocol"
	"github.com/kingrea/lattice-org/internal/agents/tasks"
	"github.com/kingrea/lattice-org/internal/entity"
	"github.com/kingrea/lattice-org/internal/llm"
	"github.com/kingrea/lattice-org/internal/logging"
	"github.com/kingrea/lattice-org/internal/mailbox"
	"github.com/kingrea/lattice-org/internal/resume"
)

// Definition registers the manager role, one actor per manager employee.
func Definition(deps kit.Deps) actor.Definition {
	return actor.Definition{
		Role:        protocol.RoleManager,
		Description: "assigns and reviews tasks for a team of ICs",
		Channels:    protocol.ManagerChannels.Names(),
		Identity:    kit.EmployeeIdentity,
		Validate:    protocol.ManagerChannels.Validate,
		New: func(env actor.Env, initial json.RawMessage) (actor.Process, error) {
			m := New(env, deps)
			return kit.Build[State](env, initial, NewState, nil, m, nil)
		},
	}
}

// Manager handles manager events on the primary, ping and meeting inboxes.
type Manager struct {
	env    actor.Env
	deps   kit.Deps
	retry  *resume.Client
	logger logging.Printer
}

// New builds the manager handler for env.
func New(env actor.Env, deps kit.Deps) *Manager {
	return &Manager{env: env, deps: deps, retry: deps.Retry(env), logger: kit.Logger(env)}
}

// Handle implements actor.Handler.
func (m *Manager) Handle(ctx context.Context, state State, msg mailbox.Message) (State, error) {
	state.ensure()
	switch msg.Type {
	case protocol.EventAddReport:
		p, err := protocol.Decode[protocol.Introduction](msg)
		if err != nil {
			return state, err
		}
		m.addReport(ctx, &state, p)
		return state, nil
	case protocol.EventNewTask:
		p, err := protocol.Decode[protocol.NewTask](msg)
		if err != nil {
			return state, err
		}
		return state, m.newTask(ctx, &state, p)
	case protocol.EventDeliverableSubmitted:
		p, err := protocol.Decode[protocol.DeliverableSubmitted](msg)
		if err != nil {
			return state, err
		}
		return state, m.review(ctx, &state, p)
	case protocol.EventGenerateReport:
		p, err := protocol.Decode[protocol.GenerateReport](msg)
		if err != nil {
			return state, err
		}
		return state, m.generateReport(ctx, state, p)
	case protocol.EventReportFeedback:
		p, err := protocol.Decode[protocol.ReportFeedback](msg)
		if err != nil {
			return state, err
		}
		state.LastFeedback = p.Feedback
		kit.Remember(ctx, m.env, m.deps.Entities, entity.Memory{
			EmployeeID:    state.EmployeeID,
			Kind:          entity.MemoryFeedback,
			CounterpartID: p.From,
			Content:       p.Feedback,
		})
		return state, nil
	case protocol.EventPing:
		p, err := protocol.Decode[protocol.Ping](msg)
		if err != nil {
			return state, err
		}
		answer := fmt.Sprintf("%s here: %d open task(s), %d waiting for an IC.", state.Name, len(state.Open), len(state.Queue))
		if kit.AnswerPing(ctx, m.env, m.retry, state.MeetingAddress, state.EmployeeID, p.PingID, answer) {
			state.PingsAnswered++
		}
		return state, nil
	case protocol.EventPingReply:
		p, err := protocol.Decode[protocol.PingReply](msg)
		if err != nil {
			return state, err
		}
		state.Replies++
		m.logger.Printf("%s: %s replied to ping %s: %s", m.env.Address, p.From, p.PingID, p.Message)
		return state, nil
	case protocol.EventMeetingNotice:
		p, err := protocol.Decode[protocol.MeetingNotice](msg)
		if err != nil {
			return state, err
		}
		state.Meetings++
		m.logger.Printf("%s: joining %s organized by %s", m.env.Address, p.MeetingType, p.OrganizerID)
		return state, nil
	case protocol.EventGetStatus:
		m.logger.Printf("%s: status reports=%d open=%d queued=%d approved=%d", m.env.Address, len(state.Reports), len(state.Open), len(state.Queue), state.Approved)
		return state, nil
	default:
		return state, actor.Invalid("manager: unknown event %q", msg.Type)
	}
}

func (m *Manager) addReport(ctx context.Context, state *State, p protocol.Introduction) {
	report := kit.Participant{ID: p.EmployeeID, Name: p.Name, Address: p.Address}
	replaced := false
	for i, r := range state.Reports {
		if r.ID == p.EmployeeID {
			state.Reports[i] = report
			replaced = true
		}
	}
	if !replaced {
		state.Reports = append(state.Reports, report)
	}
	m.logger.Printf("%s: %s (%s) now reports here", m.env.Address, p.Name, p.EmployeeID)

	queued := state.Queue
	state.Queue = nil
	for _, id := range queued {
		task, err := m.deps.Entities.GetTask(ctx, id)
		if err != nil {
			m.logger.Printf("%s: queued task %s dropped: %v", m.env.Address, id, err)
			continue
		}
		if err := m.assign(ctx, state, task); err != nil {
			m.logger.Printf("%s: assign queued task %s failed: %v", m.env.Address, id, err)
		}
	}
}

func (m *Manager) newTask(ctx context.Context, state *State, p protocol.NewTask) error {
	task, err := kit.TaskFor(ctx, m.deps.Entities, p, state.EmployeeID)
	if err != nil {
		return err
	}
	if _, open := state.Open[task.ID]; open {
		m.logger.Printf("%s: task %s already assigned, ignored", m.env.Address, task.ID)
		return nil
	}
	return m.assign(ctx, state, task)
}

// assign gives task to the IC it names when that IC reports here, otherwise
// to the least loaded report. With no reports the task waits in the queue.
func (m *Manager) assign(ctx context.Context, state *State, task entity.Task) error {
	ic, ok := state.report(task.AssigneeID)
	if !ok {
		ic, ok = state.leastLoaded()
	}
	if !ok {
		for _, id := range state.Queue {
			if id == task.ID {
				return nil
			}
		}
		state.Queue = append(state.Queue, task.ID)
		m.logger.Printf("%s: no IC available, task %s queued", m.env.Address, task.ID)
		return nil
	}
	if !tasks.Can(task.Status, tasks.EventAssign) {
		return actor.Invalid("task %s is %s and cannot be assigned", task.ID, task.Status)
	}
	assigned, err := tasks.Advance(ctx, m.deps.Entities, task.ID, tasks.EventAssign, func(t *entity.Task) {
		t.AssigneeID = ic.ID
		t.ManagerID = state.EmployeeID
	})
	if err != nil {
		return fmt.Errorf("assign %s: %w", task.ID, err)
	}
	task = assigned
	state.Load[ic.ID]++
	state.Open[task.ID] = ic.ID
	msg := protocol.Message(protocol.EventAssignTask, protocol.AssignTask{
		TaskID:      task.ID,
		Title:       task.Title,
		Description: task.Description,
		Priority:    task.Priority,
	}, m.env.Address)
	kit.Tell(ctx, m.env, m.retry, ic.Address, msg)
	m.logger.Printf("%s: assigned task %s to %s", m.env.Address, task.ID, ic.ID)
	return nil
}

// review evaluates a submitted deliverable and either approves the task or
// sends it back. After MaxRevisions revisions the task is approved as is.
func (m *Manager) review(ctx context.Context, state *State, p protocol.DeliverableSubmitted) error {
	task, err := m.deps.Entities.GetTask(ctx, p.TaskID)
	if errors.Is(err, entity.ErrNotFound) {
		return actor.Invalid("deliverable for unknown task %s", p.TaskID)
	}
	if err != nil {
		return fmt.Errorf("load task %s: %w", p.TaskID, err)
	}
	if task.Status != entity.TaskReview {
		return actor.Invalid("task %s is %s, not in review", task.ID, task.Status)
	}
	ic, ok := state.report(p.EmployeeID)
	if !ok {
		ic = kit.Resolve(ctx, m.deps.Entities, p.EmployeeID)
	}

	eval := m.evaluate(ctx, state, task, p)
	approve := eval.Approved
	feedback := eval.Feedback
	if !approve && task.Revisions >= MaxRevisions {
		approve = true
		feedback = fmt.Sprintf("Accepted after %d revisions. Outstanding notes: %s", task.Revisions, feedback)
	}

	if approve {
		if _, err := tasks.Advance(ctx, m.deps.Entities, task.ID, tasks.EventApprove, func(t *entity.Task) {
			t.Feedback = feedback
		}); err != nil {
			return fmt.Errorf("approve %s: %w", task.ID, err)
		}
		m.markDeliverable(ctx, p, entity.DeliverableApproved, feedback)
		kit.Tell(ctx, m.env, m.retry, ic.Address,
			protocol.Message(protocol.EventTaskApproved, protocol.TaskApproved{TaskID: task.ID, Feedback: feedback}, m.env.Address))
		kit.Tell(ctx, m.env, m.retry, state.HRAddress,
			protocol.Message(protocol.EventTaskCompleted, protocol.TaskCompleted{TaskID: task.ID, ManagerID: state.EmployeeID}, m.env.Address))
		if state.Load[ic.ID] > 0 {
			state.Load[ic.ID]--
		}
		delete(state.Open, task.ID)
		state.Approved++
		m.logger.Printf("%s: approved task %s (version %d)", m.env.Address, task.ID, p.Version)
		return nil
	}

	if _, err := tasks.Advance(ctx, m.deps.Entities, task.ID, tasks.EventRevise, func(t *entity.Task) {
		t.Revisions++
		t.Feedback = feedback
	}); err != nil {
		return fmt.Errorf("revise %s: %w", task.ID, err)
	}
	m.markDeliverable(ctx, p, entity.DeliverableRevision, feedback)
	kit.Tell(ctx, m.env, m.retry, ic.Address,
		protocol.Message(protocol.EventRequestRevision, protocol.RequestRevision{TaskID: task.ID, Feedback: feedback}, m.env.Address))
	m.logger.Printf("%s: requested revision %d of task %s", m.env.Address, task.Revisions+1, task.ID)
	return nil
}

// evaluate asks the generator for a verdict. An unusable verdict becomes a
// revision request so the task keeps moving.
func (m *Manager) evaluate(ctx context.Context, state *State, task entity.Task, p protocol.DeliverableSubmitted) llm.Evaluation {
	raw, err := m.deps.Generator.Generate(ctx, llm.Prompt{
		Purpose:    llm.PurposeEvaluation,
		System:     "You review deliverables. Answer with JSON {\"approved\": bool, \"feedback\": string}.",
		User:       fmt.Sprintf("Task: %s\n%s\n\nDeliverable v%d:\n%s", task.Title, task.Description, p.Version, p.Content),
		EmployeeID: state.EmployeeID,
		Subjects:   []string{p.Content},
	})
	if err == nil {
		var eval llm.Evaluation
		if eval, err = llm.ParseEvaluation(raw); err == nil {
			return eval
		}
	}
	m.logger.Printf("%s: evaluation of task %s unavailable: %v", m.env.Address, task.ID, err)
	return llm.Evaluation{Feedback: "The review could not be completed. Please tighten the deliverable and resubmit."}
}

func (m *Manager) markDeliverable(ctx context.Context, p protocol.DeliverableSubmitted, status, feedback string) {
	if p.DeliverableID == "" {
		return
	}
	list, err := m.deps.Entities.ListDeliverables(ctx, entity.DeliverableFilter{TaskID: p.TaskID})
	if err != nil {
		m.logger.Printf("%s: load deliverables of %s failed: %v", m.env.Address, p.TaskID, err)
		return
	}
	for _, d := range list {
		if d.ID != p.DeliverableID {
			continue
		}
		d.Status = status
		d.Feedback = feedback
		if err := m.deps.Entities.UpdateDeliverable(ctx, d); err != nil {
			m.logger.Printf("%s: update deliverable %s failed: %v", m.env.Address, d.ID, err)
		}
		return
	}
}

func (m *Manager) generateReport(ctx context.Context, state State, p protocol.GenerateReport) error {
	owned, err := m.deps.Entities.ListTasks(ctx, entity.TaskFilter{ManagerID: state.EmployeeID})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	subjects := make([]string, 0, len(owned))
	for _, t := range owned {
		subjects = append(subjects, fmt.Sprintf("%s (%s)", t.Title, t.Status))
	}
	report, err := m.deps.Generator.Generate(ctx, llm.Prompt{
		Purpose:    llm.PurposeReport,
		System:     "You are a manager writing a short status report for the CEO.",
		User:       fmt.Sprintf("Team of %d. Tasks:\n%s", len(state.Reports), strings.Join(subjects, "\n")),
		EmployeeID: state.EmployeeID,
		Subjects:   subjects,
	})
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if p.ReplyTo == "" {
		m.logger.Printf("%s: report with no recipient: %s", m.env.Address, report)
		return nil
	}
	kit.Tell(ctx, m.env, m.retry, p.ReplyTo, protocol.Message(protocol.EventManagerReport, protocol.ManagerReport{
		ManagerID: state.EmployeeID,
		Name:      state.Name,
		Address:   m.env.Address.String(),
		Report:    report,
	}, m.env.Address))
	return nil
}
