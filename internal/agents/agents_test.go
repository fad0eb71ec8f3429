package agents

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-org/internal/actor"
	"github.com/kingrea/lattice-org/internal/agents/kit/kittest"
	"github.com/kingrea/lattice-org/internal/agents/manager"
	"github.com/kingrea/lattice-org/internal/agents/protocol"
	"github.com/kingrea/lattice-org/internal/cache"
	"github.com/kingrea/lattice-org/internal/entity"
	"github.com/kingrea/lattice-org/internal/mailbox"
)

const wait = 5 * time.Second

type org struct {
	ctx   context.Context
	rt    *actor.Runtime
	store *entity.Repository
	org   Org
}

func startOrg(t *testing.T) *org {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	store := entity.NewMemory()
	defs := actor.NewRegistry()
	require.NoError(t, RegisterBuiltins(defs, kittest.Deps(store, nil)))
	rt, err := actor.NewRuntime(ctx, defs, actor.WithCache(cache.NewMemory()), actor.WithTick(10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		_ = rt.Wait()
	})
	o, err := Bootstrap(ctx, rt, BootstrapOptions{OrgID: "acme", CEOName: "Cy", CEOID: "boss"})
	require.NoError(t, err)
	return &org{ctx: ctx, rt: rt, store: store, org: o}
}

func (o *org) send(t *testing.T, address, kind string, payload any) {
	t.Helper()
	ok, err := o.rt.Send(o.ctx, address, mailbox.MustMessage(kind, payload))
	require.NoError(t, err)
	require.True(t, ok, "%s not accepted by %s", kind, address)
}

func (o *org) hire(t *testing.T, id, name, role, managerID string) string {
	t.Helper()
	o.send(t, o.org.HR, protocol.EventHireEmployee, protocol.HireEmployee{EmployeeID: id, Name: name, Role: role, ManagerID: managerID})
	return o.address(t, id)
}

// address waits until HR has recorded where employee id runs.
func (o *org) address(t *testing.T, id string) string {
	t.Helper()
	var address string
	require.Eventually(t, func() bool {
		emp, err := o.store.GetEmployee(o.ctx, id)
		address = emp.Address
		return err == nil && address != ""
	}, wait, 10*time.Millisecond)
	return address
}

// managerState reads a manager's committed state; it is called from
// Eventually conditions, so failures read as a zero state.
func (o *org) managerState(address string) manager.State {
	var s manager.State
	raw, err := o.rt.State(address)
	if err == nil {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

func TestRegisterBuiltinsNeedsDeps(t *testing.T) {
	assert.Error(t, RegisterBuiltins(actor.NewRegistry(), kittest.Deps(nil, nil)))

	defs := actor.NewRegistry()
	require.NoError(t, RegisterBuiltins(defs, kittest.Deps(entity.NewMemory(), nil)))
	assert.ElementsMatch(t, []string{"meeting", "hr", "ceo", "manager", "ic"}, defs.Roles())
}

func TestBootstrapIsIdempotent(t *testing.T) {
	o := startOrg(t)
	again, err := Bootstrap(o.ctx, o.rt, BootstrapOptions{OrgID: "acme", CEOName: "Cy", CEOID: "boss"})
	require.NoError(t, err)
	assert.True(t, again.Resumed)
	assert.Equal(t, o.org.HR, again.HR)
	assert.Equal(t, o.org.Meeting, again.Meeting)
}

func TestGoalFlowsToCompletion(t *testing.T) {
	o := startOrg(t)
	ceoAddr := o.address(t, "boss")
	mgrAddr := o.hire(t, "mgr", "Mia", protocol.RoleManager, "")
	o.hire(t, "ada", "Ada", protocol.RoleIC, "mgr")

	o.send(t, ceoAddr, protocol.EventSetGoal, protocol.SetGoal{
		Title: "Launch",
		Tasks: []protocol.TaskSpec{{Title: "Landing page", Description: "Write the landing page copy"}},
	})

	require.Eventually(t, func() bool {
		list, err := o.store.ListTasks(o.ctx, entity.TaskFilter{Status: entity.TaskCompleted})
		return err == nil && len(list) == 1
	}, wait, 20*time.Millisecond)

	task, err := o.store.ListTasks(o.ctx, entity.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, task, 1)
	assert.Equal(t, "ada", task[0].AssigneeID)
	assert.Equal(t, "mgr", task[0].ManagerID)
	assert.Eventually(t, func() bool { return o.managerState(mgrAddr).Approved == 1 }, wait, 20*time.Millisecond)
}

func TestStandupAndPingThroughRuntime(t *testing.T) {
	o := startOrg(t)
	mgrAddr := o.hire(t, "mgr", "Mia", protocol.RoleManager, "")
	o.hire(t, "ada", "Ada", protocol.RoleIC, "mgr")

	o.send(t, o.org.Meeting, protocol.EventRunStandup, protocol.RunMeeting{OrganizerID: "mgr", Participants: []string{"mgr", "ada"}})
	require.Eventually(t, func() bool {
		list, err := o.store.ListMeetings(o.ctx, entity.MeetingFilter{})
		return err == nil && len(list) == 1
	}, wait, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return o.managerState(mgrAddr).Meetings == 1 }, wait, 20*time.Millisecond)

	o.send(t, o.org.Meeting, protocol.EventSendPing, protocol.SendPing{From: "mgr", To: "ada", Message: "status?", ReplyTo: mgrAddr + ":ping"})
	assert.Eventually(t, func() bool { return o.managerState(mgrAddr).Replies == 1 }, wait, 20*time.Millisecond)

	memories, err := o.store.ListMemories(o.ctx, entity.MemoryFilter{EmployeeID: "ada", Kind: entity.MemoryPingAnswered})
	require.NoError(t, err)
	assert.Len(t, memories, 1)
}
