package hr

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-org/internal/actor"
	"github.com/kingrea/lattice-org/internal/agents/kit/kittest"
	"github.com/kingrea/lattice-org/internal/agents/protocol"
	"github.com/kingrea/lattice-org/internal/entity"
	"github.com/kingrea/lattice-org/internal/mailbox"
)

type fixture struct {
	ctx   context.Context
	store *entity.Repository
	host  *kittest.Host
	hr    *HR
	state State
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), store: entity.NewMemory(), host: kittest.NewHost()}
	clock := kittest.NewClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	f.hr = New(kittest.Env(protocol.RoleHR, f.host, clock.Now, nil), kittest.Deps(f.store, nil))
	f.state = NewState()
	f.state.OrgID = "acme"
	f.state.MeetingAddress = "meeting:m1"
	return f
}

func (f *fixture) send(t *testing.T, kind string, payload any) error {
	t.Helper()
	next, err := f.hr.Handle(f.ctx, f.state, mailbox.MustMessage(kind, payload))
	if err == nil {
		f.state = next
	}
	return err
}

func (f *fixture) hire(t *testing.T, id, name, role, managerID string) string {
	t.Helper()
	require.NoError(t, f.send(t, protocol.EventHireEmployee, protocol.HireEmployee{EmployeeID: id, Name: name, Role: role, ManagerID: managerID}))
	return f.state.Employees[id].Address
}

func TestHireStartsActorAndRecordsAddress(t *testing.T) {
	f := newFixture(t)
	addr := f.hire(t, "mgr1", "Mia", protocol.RoleManager, "")
	assert.Equal(t, "manager:run-1", addr)

	started := f.host.Started()
	require.Len(t, started, 1)
	assert.Equal(t, protocol.RoleManager, started[0].Role)
	var seed protocol.Seed
	require.NoError(t, json.Unmarshal(started[0].Initial, &seed))
	assert.Equal(t, "mgr1", seed.EmployeeID)
	assert.Equal(t, "hr:test", seed.HRAddress)
	assert.Equal(t, "meeting:m1", seed.MeetingAddress)
	assert.Equal(t, "acme", seed.OrgID)

	emp, err := f.store.GetEmployee(f.ctx, "mgr1")
	require.NoError(t, err)
	assert.Equal(t, addr, emp.Address)
	assert.Equal(t, []string{"mgr1"}, f.state.Managers)
}

func TestHireIntroducesReportsAndManagers(t *testing.T) {
	f := newFixture(t)
	mgr := f.hire(t, "mgr1", "Mia", protocol.RoleManager, "")
	f.hire(t, "ic1", "Ada", protocol.RoleIC, "mgr1")

	intros := f.host.Sent(protocol.EventAddReport)
	require.Len(t, intros, 1)
	assert.Equal(t, mgr, intros[0].Address)
	var intro protocol.Introduction
	require.NoError(t, intros[0].Message.Decode(&intro))
	assert.Equal(t, "ic1", intro.EmployeeID)

	var seed protocol.Seed
	require.NoError(t, json.Unmarshal(f.host.Started()[1].Initial, &seed))
	assert.Equal(t, mgr, seed.ManagerAddress)

	// The CEO arrives after the manager and is told about it.
	ceo := f.hire(t, "boss", "Cy", protocol.RoleCEO, "")
	regs := f.host.Sent(protocol.EventRegisterManager)
	require.Len(t, regs, 1)
	assert.Equal(t, ceo, regs[0].Address)

	f.hire(t, "mgr2", "Max", protocol.RoleManager, "")
	assert.Len(t, f.host.Sent(protocol.EventRegisterManager), 2)
}

func TestHireRejectsSecondCEOAndNonManagerBoss(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "boss", "Cy", protocol.RoleCEO, "")
	err := f.send(t, protocol.EventHireEmployee, protocol.HireEmployee{Name: "Other", Role: protocol.RoleCEO})
	assert.True(t, actor.IsValidation(err))

	f.hire(t, "ic1", "Ada", protocol.RoleIC, "")
	err = f.send(t, protocol.EventHireEmployee, protocol.HireEmployee{Name: "Bo", Role: protocol.RoleIC, ManagerID: "ic1"})
	assert.True(t, actor.IsValidation(err))
}

func TestNewTaskQueuedUntilManagerHired(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.send(t, protocol.EventNewTask, protocol.NewTask{Title: "Write launch plan"}))
	require.Len(t, f.state.Pending, 1)
	assert.Empty(t, f.host.Sent(protocol.EventNewTask))

	f.hire(t, "mgr1", "Mia", protocol.RoleManager, "")
	assert.Empty(t, f.state.Pending)
	routed := f.host.Sent(protocol.EventNewTask)
	require.Len(t, routed, 1)
	assert.Equal(t, "manager:run-1", routed[0].Address)
	assert.Equal(t, 1, f.state.Load["mgr1"])

	require.Len(t, f.state.Routed, 1)
	var taskID string
	for id := range f.state.Routed {
		taskID = id
	}
	task, err := f.store.GetTask(f.ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, "mgr1", task.ManagerID)
}

func TestNewTaskGoesToLeastLoadedManager(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "mgr1", "Mia", protocol.RoleManager, "")
	f.hire(t, "mgr2", "Max", protocol.RoleManager, "")

	for _, title := range []string{"a", "b", "c"} {
		require.NoError(t, f.send(t, protocol.EventNewTask, protocol.NewTask{Title: title}))
	}
	assert.Equal(t, 2, f.state.Load["mgr1"])
	assert.Equal(t, 1, f.state.Load["mgr2"])

	var first string
	for id, m := range f.state.Routed {
		if m == "mgr1" {
			first = id
			break
		}
	}
	require.NoError(t, f.send(t, protocol.EventTaskCompleted, protocol.TaskCompleted{TaskID: first}))
	assert.Equal(t, 1, f.state.Load["mgr1"])
	assert.Equal(t, 1, f.state.Completed)

	require.NoError(t, f.send(t, protocol.EventNewTask, protocol.NewTask{Title: "d"}))
	assert.Equal(t, 2, f.state.Load["mgr1"], "ties go to the earliest hire")
}

func TestNewTaskForMissingTaskID(t *testing.T) {
	f := newFixture(t)
	err := f.send(t, protocol.EventNewTask, protocol.NewTask{TaskID: "nope"})
	assert.True(t, actor.IsValidation(err))
}

func TestRejectedRouteStaysQueued(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "mgr1", "Mia", protocol.RoleManager, "")
	f.host.Reject("manager:run-1")

	require.NoError(t, f.send(t, protocol.EventNewTask, protocol.NewTask{Title: "stuck"}))
	assert.Len(t, f.state.Pending, 1)
	assert.Equal(t, 0, f.state.Load["mgr1"])
}

func TestStatusSummary(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "mgr1", "Mia", protocol.RoleManager, "")
	f.hire(t, "ic1", "Ada", protocol.RoleIC, "mgr1")
	require.NoError(t, f.send(t, protocol.EventGetStatus, nil))
	st := f.state.Summary()
	assert.Equal(t, map[string]int{protocol.RoleManager: 1, protocol.RoleIC: 1}, st.Headcount)
}
