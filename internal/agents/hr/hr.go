// Package hr implements the HR actor. HR hires employees, starts their
// actors, introduces them to each other and routes incoming tasks to the
// least loaded manager.
package hr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kingrea/lattice-org/internal/actor"
	"github.com/kingrea/lattice-org/internal/agents/kit"
	"github.com/kingrea/lattice-org/internal/agents/protocol"
	"github.com/kingrea/lattice-org/internal/entity"
	"github.com/kingrea/lattice-org/internal/logging"
	"github.com/kingrea/lattice-org/internal/mailbox"
	"github.com/kingrea/lattice-org/internal/resume"
)

// Definition registers the HR role, one per organization.
func Definition(deps kit.Deps) actor.Definition {
	return actor.Definition{
		Role:        protocol.RoleHR,
		Description: "hires employees and routes tasks to managers",
		Channels:    protocol.HRChannels.Names(),
		Identity:    kit.OrgIdentity,
		Validate:    protocol.HRChannels.Validate,
		New: func(env actor.Env, initial json.RawMessage) (actor.Process, error) {
			h := New(env, deps)
			return kit.Build[State](env, initial, NewState, seed, h, nil)
		},
	}
}

func seed(s *State) error {
	if s.OrgID == "" {
		s.OrgID = kit.DefaultOrg
	}
	if s.MeetingAddress != "" {
		if _, err := mailbox.ParseAddress(s.MeetingAddress); err != nil {
			return actor.Invalid("meetingAddress: %v", err)
		}
	}
	return nil
}

// HR handles HR events.
type HR struct {
	env    actor.Env
	deps   kit.Deps
	retry  *resume.Client
	logger logging.Printer
}

// New builds the HR handler for env.
func New(env actor.Env, deps kit.Deps) *HR {
	return &HR{env: env, deps: deps, retry: deps.Retry(env), logger: kit.Logger(env)}
}

// Handle implements actor.Handler.
func (h *HR) Handle(ctx context.Context, state State, msg mailbox.Message) (State, error) {
	state.ensure()
	switch msg.Type {
	case protocol.EventHireEmployee:
		p, err := protocol.Decode[protocol.HireEmployee](msg)
		if err != nil {
			return state, err
		}
		return state, h.hire(ctx, &state, p)
	case protocol.EventNewTask:
		p, err := protocol.Decode[protocol.NewTask](msg)
		if err != nil {
			return state, err
		}
		return state, h.newTask(ctx, &state, p)
	case protocol.EventTaskCompleted:
		p, err := protocol.Decode[protocol.TaskCompleted](msg)
		if err != nil {
			return state, err
		}
		h.taskCompleted(&state, p)
		return state, nil
	case protocol.EventGetStatus:
		st := state.Summary()
		h.logger.Printf("%s: status headcount=%v pending=%d completed=%d", h.env.Address, st.Headcount, st.Pending, st.Completed)
		for _, id := range st.managers() {
			h.logger.Printf("%s: manager %s has %d open task(s)", h.env.Address, id, st.Load[id])
		}
		return state, nil
	default:
		return state, actor.Invalid("hr: unknown event %q", msg.Type)
	}
}

func (h *HR) hire(ctx context.Context, state *State, p protocol.HireEmployee) error {
	if p.EmployeeID == "" {
		p.EmployeeID = uuid.NewString()
	}
	if existing, ok := state.Employees[p.EmployeeID]; ok && existing.Address != "" {
		return actor.Invalid("employee %s is already hired as %s", p.EmployeeID, existing.Address)
	}
	if p.Role == protocol.RoleIC && p.ManagerID != "" {
		if m, ok := state.Employees[p.ManagerID]; ok && m.Role != protocol.RoleManager {
			return actor.Invalid("%s is a %s, not a manager", p.ManagerID, m.Role)
		}
	}
	if p.Role == protocol.RoleCEO && state.CEOAddress != "" {
		return actor.Invalid("organization %s already has a CEO (%s)", state.OrgID, state.CEOID)
	}

	emp, err := h.deps.Entities.InsertEmployee(ctx, entity.Employee{
		ID:        p.EmployeeID,
		Name:      p.Name,
		Role:      p.Role,
		Title:     p.Title,
		ManagerID: p.ManagerID,
		Skills:    p.Skills,
		HiredAt:   h.env.Now().UTC(),
	})
	if errors.Is(err, entity.ErrDuplicate) {
		// A hire interrupted before the actor started; pick up the stored record.
		emp, err = h.deps.Entities.GetEmployee(ctx, p.EmployeeID)
	}
	if err != nil {
		return fmt.Errorf("hire %s: %w", p.EmployeeID, err)
	}

	managerAddress := ""
	if p.ManagerID != "" {
		managerAddress = kit.Resolve(ctx, h.deps.Entities, p.ManagerID).Address
	}
	runID, err := h.env.Host.Start(ctx, p.Role, protocol.Initial(protocol.Seed{
		OrgID:          state.OrgID,
		EmployeeID:     emp.ID,
		Name:           emp.Name,
		ManagerID:      emp.ManagerID,
		ManagerAddress: managerAddress,
		HRAddress:      h.env.Address.String(),
		MeetingAddress: state.MeetingAddress,
	}))
	if err != nil && !errors.Is(err, actor.ErrAlreadyActive) {
		return fmt.Errorf("start %s actor for %s: %w", p.Role, emp.ID, err)
	}
	address := mailbox.NewAddress(p.Role, runID).String()
	emp.Address = address
	if err := h.deps.Entities.UpdateEmployee(ctx, emp); err != nil {
		h.logger.Printf("%s: record address of %s failed: %v", h.env.Address, emp.ID, err)
	}

	hired := Hire{
		Participant: kit.Participant{ID: emp.ID, Name: emp.Name, Address: address},
		Role:        p.Role,
		ManagerID:   emp.ManagerID,
	}
	state.Employees[emp.ID] = hired
	h.logger.Printf("%s: hired %s (%s) as %s at %s", h.env.Address, emp.Name, emp.ID, p.Role, address)

	switch p.Role {
	case protocol.RoleCEO:
		state.CEOID, state.CEOAddress = emp.ID, address
		for _, id := range state.Managers {
			h.introduceManager(ctx, state, state.Employees[id])
		}
	case protocol.RoleManager:
		state.Managers = append(state.Managers, emp.ID)
		state.Load[emp.ID] = 0
		h.introduceManager(ctx, state, hired)
		h.flush(ctx, state)
	case protocol.RoleIC:
		if managerAddress == "" {
			h.logger.Printf("%s: %s has no reachable manager, no introduction sent", h.env.Address, emp.ID)
			break
		}
		intro := protocol.Introduction{EmployeeID: emp.ID, Name: emp.Name, Address: address}
		kit.Tell(ctx, h.env, h.retry, managerAddress, protocol.Message(protocol.EventAddReport, intro, h.env.Address))
	}
	return nil
}

func (h *HR) introduceManager(ctx context.Context, state *State, m Hire) {
	if state.CEOAddress == "" {
		return
	}
	intro := protocol.Introduction{EmployeeID: m.ID, Name: m.Name, Address: m.Address}
	kit.Tell(ctx, h.env, h.retry, state.CEOAddress, protocol.Message(protocol.EventRegisterManager, intro, h.env.Address))
}

// newTask stores the task when it arrives as a description, then routes it.
func (h *HR) newTask(ctx context.Context, state *State, p protocol.NewTask) error {
	task, err := kit.TaskFor(ctx, h.deps.Entities, p, h.env.Address.String())
	if err != nil {
		return err
	}
	if _, routed := state.Routed[task.ID]; routed {
		h.logger.Printf("%s: task %s already routed, ignored", h.env.Address, task.ID)
		return nil
	}
	if !h.route(ctx, state, task) {
		for _, id := range state.Pending {
			if id == task.ID {
				return nil
			}
		}
		state.Pending = append(state.Pending, task.ID)
		h.logger.Printf("%s: no manager available, task %s queued (%d pending)", h.env.Address, task.ID, len(state.Pending))
	}
	return nil
}

// route hands task to the least loaded manager. It reports false when no
// manager accepted it.
func (h *HR) route(ctx context.Context, state *State, task entity.Task) bool {
	manager, ok := state.leastLoaded()
	if !ok {
		return false
	}
	task.ManagerID = manager.ID
	if err := h.deps.Entities.UpdateTask(ctx, task); err != nil {
		h.logger.Printf("%s: record manager of task %s failed: %v", h.env.Address, task.ID, err)
	}
	msg := protocol.Message(protocol.EventNewTask, protocol.NewTask{TaskID: task.ID, CreatedBy: task.CreatedBy}, h.env.Address)
	if !kit.Tell(ctx, h.env, h.retry, manager.Address, msg) {
		return false
	}
	state.Load[manager.ID]++
	state.Routed[task.ID] = manager.ID
	h.logger.Printf("%s: routed task %s to %s (load %d)", h.env.Address, task.ID, manager.ID, state.Load[manager.ID])
	return true
}

func (h *HR) flush(ctx context.Context, state *State) {
	if len(state.Pending) == 0 {
		return
	}
	queued := state.Pending
	state.Pending = nil
	for i, id := range queued {
		task, err := h.deps.Entities.GetTask(ctx, id)
		if err != nil {
			h.logger.Printf("%s: queued task %s dropped: %v", h.env.Address, id, err)
			continue
		}
		if !h.route(ctx, state, task) {
			state.Pending = append(state.Pending, queued[i:]...)
			return
		}
	}
}

func (h *HR) taskCompleted(state *State, p protocol.TaskCompleted) {
	managerID, ok := state.Routed[p.TaskID]
	if !ok {
		managerID = p.ManagerID
	}
	if managerID != "" && state.Load[managerID] > 0 {
		state.Load[managerID]--
	}
	delete(state.Routed, p.TaskID)
	state.Completed++
	h.logger.Printf("%s: task %s completed by %s", h.env.Address, p.TaskID, managerID)
}
