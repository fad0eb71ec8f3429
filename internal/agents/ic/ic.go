// Package ic implements the individual-contributor actor. An IC works its
// queue one task per tick: it writes a deliverable and submits it to its
// manager for review.
package ic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

// State is an IC's private record.
type State struct {
	EmployeeID     string `json:"employeeId"`
	Name           string `json:"name"`
	ManagerID      string `json:"managerId,omitempty"`
	ManagerAddress string `json:"managerAddress,omitempty"`
	MeetingAddress string `json:"meetingAddress,omitempty"`
	// Queue is worked front to back, one item per tick.
	Queue     []Work   `json:"queue"`
	Submitted []string `json:"submitted"`
	Completed int      `json:"completed"`
	Pings     int      `json:"pings"`
	Meetings  int      `json:"meetings"`
}

// Work is a queued assignment or revision.
type Work struct {
	TaskID      string `json:"taskId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Feedback    string `json:"feedback,omitempty"`
}

// NewState returns an idle IC record.
func NewState() State {
	return State{}
}

func (s State) queued(taskID string) bool {
	for _, w := range s.Queue {
		if w.TaskID == taskID {
			return true
		}
	}
	return false
}

func (s *State) unsubmit(taskID string) {
	kept := s.Submitted[:0]
	for _, id := range s.Submitted {
		if id != taskID {
			kept = append(kept, id)
		}
	}
	s.Submitted = kept
}

// Definition registers the IC role, one actor per IC employee.
func Definition(deps kit.Deps) actor.Definition {
	return actor.Definition{
		Role:        protocol.RoleIC,
		Description: "works assigned tasks and submits deliverables",
		Channels:    protocol.ICChannels.Names(),
		Identity:    kit.EmployeeIdentity,
		Validate:    protocol.ICChannels.Validate,
		New: func(env actor.Env, initial json.RawMessage) (actor.Process, error) {
			w := New(env, deps)
			return kit.Build[State](env, initial, NewState, nil, w, w)
		},
	}
}

// Worker handles IC events and works the queue on every scan.
type Worker struct {
	env    actor.Env
	deps   kit.Deps
	retry  *resume.Client
	logger logging.Printer
}

// New builds the IC handler for env.
func New(env actor.Env, deps kit.Deps) *Worker {
	return &Worker{env: env, deps: deps, retry: deps.Retry(env), logger: kit.Logger(env)}
}

// Handle implements actor.Handler.
func (w *Worker) Handle(ctx context.Context, state State, msg mailbox.Message) (State, error) {
	switch msg.Type {
	case protocol.EventAssignTask:
		p, err := protocol.Decode[protocol.AssignTask](msg)
		if err != nil {
			return state, err
		}
		if !state.queued(p.TaskID) {
			state.Queue = append(state.Queue, Work{TaskID: p.TaskID, Title: p.Title, Description: p.Description, Priority: p.Priority})
		}
		w.logger.Printf("%s: accepted task %s (%d queued)", w.env.Address, p.TaskID, len(state.Queue))
		return state, nil
	case protocol.EventRequestRevision:
		p, err := protocol.Decode[protocol.RequestRevision](msg)
		if err != nil {
			return state, err
		}
		state.unsubmit(p.TaskID)
		if state.queued(p.TaskID) {
			return state, nil
		}
		work := Work{TaskID: p.TaskID, Feedback: p.Feedback}
		if task, err := w.deps.Entities.GetTask(ctx, p.TaskID); err == nil {
			work.Title, work.Description, work.Priority = task.Title, task.Description, task.Priority
		}
		state.Queue = append(state.Queue, work)
		return state, nil
	case protocol.EventTaskApproved:
		p, err := protocol.Decode[protocol.TaskApproved](msg)
		if err != nil {
			return state, err
		}
		state.unsubmit(p.TaskID)
		state.Completed++
		kit.Remember(ctx, w.env, w.deps.Entities, entity.Memory{
			EmployeeID:    state.EmployeeID,
			Kind:          entity.MemoryTask,
			CounterpartID: state.ManagerID,
			Content:       fmt.Sprintf("Task %s approved. %s", p.TaskID, p.Feedback),
		})
		return state, nil
	case protocol.EventPing:
		p, err := protocol.Decode[protocol.Ping](msg)
		if err != nil {
			return state, err
		}
		answer := fmt.Sprintf("%s here: %d task(s) queued, %d awaiting review.", state.Name, len(state.Queue), len(state.Submitted))
		if kit.AnswerPing(ctx, w.env, w.retry, state.MeetingAddress, state.EmployeeID, p.PingID, answer) {
			state.Pings++
		}
		return state, nil
	case protocol.EventPingReply:
		p, err := protocol.Decode[protocol.PingReply](msg)
		if err != nil {
			return state, err
		}
		w.logger.Printf("%s: %s replied to ping %s: %s", w.env.Address, p.From, p.PingID, p.Message)
		return state, nil
	case protocol.EventMeetingNotice:
		p, err := protocol.Decode[protocol.MeetingNotice](msg)
		if err != nil {
			return state, err
		}
		state.Meetings++
		w.logger.Printf("%s: joining %s organized by %s", w.env.Address, p.MeetingType, p.OrganizerID)
		return state, nil
	case protocol.EventGetStatus:
		w.logger.Printf("%s: status queued=%d submitted=%d completed=%d", w.env.Address, len(state.Queue), len(state.Submitted), state.Completed)
		return state, nil
	default:
		return state, actor.Invalid("ic: unknown event %q", msg.Type)
	}
}

// Scan works the first queued item. A failure leaves it queued for the next
// tick; tasks that no longer exist are dropped.
func (w *Worker) Scan(ctx context.Context, state State) (State, error) {
	if len(state.Queue) == 0 {
		return state, nil
	}
	work := state.Queue[0]
	task, err := w.deps.Entities.GetTask(ctx, work.TaskID)
	if errors.Is(err, entity.ErrNotFound) {
		w.logger.Printf("%s: task %s no longer exists, dropped", w.env.Address, work.TaskID)
		state.Queue = state.Queue[1:]
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("load task %s: %w", work.TaskID, err)
	}

	switch {
	case tasks.Can(task.Status, tasks.EventStart):
		if task, err = tasks.Advance(ctx, w.deps.Entities, task.ID, tasks.EventStart, nil); err != nil {
			return state, fmt.Errorf("start %s: %w", work.TaskID, err)
		}
	case task.Status == entity.TaskInProgress:
		// Resumed after a failed attempt.
	default:
		w.logger.Printf("%s: task %s is %s, nothing to do", w.env.Address, task.ID, task.Status)
		state.Queue = state.Queue[1:]
		return state, nil
	}

	version := task.Revisions + 1
	deliverable, found, err := w.existingDeliverable(ctx, task.ID, state.EmployeeID, version)
	if err != nil {
		return state, err
	}
	if !found {
		if deliverable, err = w.produce(ctx, state, task, work, version); err != nil {
			return state, err
		}
	}
	if _, err := tasks.Advance(ctx, w.deps.Entities, task.ID, tasks.EventSubmit, nil); err != nil {
		return state, fmt.Errorf("submit %s: %w", task.ID, err)
	}
	state.Queue = state.Queue[1:]
	state.Submitted = append(state.Submitted, task.ID)

	msg := protocol.Message(protocol.EventDeliverableSubmitted, protocol.DeliverableSubmitted{
		TaskID:        task.ID,
		DeliverableID: deliverable.ID,
		EmployeeID:    state.EmployeeID,
		Version:       version,
		Content:       deliverable.Content,
	}, w.env.Address)
	if state.ManagerAddress == "" && state.ManagerID != "" {
		state.ManagerAddress = kit.Resolve(ctx, w.deps.Entities, state.ManagerID).Address
	}
	kit.Tell(ctx, w.env, w.retry, state.ManagerAddress, msg)
	w.logger.Printf("%s: submitted task %s version %d", w.env.Address, task.ID, version)
	return state, nil
}

// existingDeliverable finds a deliverable already stored for this version of
// the task, left behind by a scan that failed after storing it.
func (w *Worker) existingDeliverable(ctx context.Context, taskID, employeeID string, version int) (entity.Deliverable, bool, error) {
	stored, err := w.deps.Entities.ListDeliverables(ctx, entity.DeliverableFilter{TaskID: taskID, EmployeeID: employeeID})
	if err != nil {
		return entity.Deliverable{}, false, fmt.Errorf("list deliverables for %s: %w", taskID, err)
	}
	for _, d := range stored {
		if d.Version == version {
			return d, true, nil
		}
	}
	return entity.Deliverable{}, false, nil
}

func (w *Worker) produce(ctx context.Context, state State, task entity.Task, work Work, version int) (entity.Deliverable, error) {
	user := task.Description
	if work.Feedback != "" {
		user += "\n\nReviewer feedback to address:\n" + work.Feedback
	}
	content, err := w.deps.Generator.Generate(ctx, llm.Prompt{
		Purpose:    llm.PurposeDeliverable,
		System:     "You are an individual contributor. Produce the deliverable for the task.",
		User:       user,
		EmployeeID: state.EmployeeID,
		Subjects:   []string{task.Title},
	})
	if err != nil {
		return entity.Deliverable{}, fmt.Errorf("deliverable for %s: %w", task.ID, err)
	}
	deliverable, err := w.deps.Entities.InsertDeliverable(ctx, entity.Deliverable{
		TaskID:     task.ID,
		EmployeeID: state.EmployeeID,
		Version:    version,
		Content:    content,
		Status:     entity.DeliverableSubmitted,
	})
	if err != nil {
		return entity.Deliverable{}, fmt.Errorf("store deliverable for %s: %w", task.ID, err)
	}
	return deliverable, nil
}
