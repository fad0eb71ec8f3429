package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-org/internal/actor"
	"github.com/kingrea/lattice-org/internal/agents/kit/kittest"
	"github.com/kingrea/lattice-org/internal/agents/protocol"
	"github.com/kingrea/lattice-org/internal/entity"
	"github.com/kingrea/lattice-org/internal/llm"
	"github.com/kingrea/lattice-org/internal/mailbox"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ctx   context.Context
	store *entity.Repository
	host  *kittest.Host
	clock *kittest.Clock
	orch  *Orchestrator
}

func newFixture(t *testing.T, gen llm.Generator) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: entity.NewMemory(),
		host:  kittest.NewHost(),
		clock: kittest.NewClock(epoch),
	}
	env := kittest.Env(protocol.RoleMeeting, f.host, f.clock.Now, nil)
	f.orch = New(env, kittest.Deps(f.store, gen))
	return f
}

func (f *fixture) hire(t *testing.T, id, name, address string) {
	t.Helper()
	_, err := f.store.InsertEmployee(f.ctx, entity.Employee{ID: id, Name: name, Role: entity.RoleIC, Address: address})
	require.NoError(t, err)
}

func (f *fixture) handle(t *testing.T, state State, kind string, payload any) (State, error) {
	t.Helper()
	return f.orch.Handle(f.ctx, state, mailbox.MustMessage(kind, payload))
}

func (f *fixture) schedule(t *testing.T, state State, p protocol.ScheduleMeeting) State {
	t.Helper()
	next, err := f.handle(t, state, protocol.EventScheduleMeeting, p)
	require.NoError(t, err)
	return next
}

func (f *fixture) meetings(t *testing.T) []entity.Meeting {
	t.Helper()
	list, err := f.store.ListMeetings(f.ctx, entity.MeetingFilter{})
	require.NoError(t, err)
	return list
}

func (f *fixture) memories(t *testing.T, filter entity.MemoryFilter) []entity.Memory {
	t.Helper()
	list, err := f.store.ListMemories(f.ctx, filter)
	require.NoError(t, err)
	return list
}

func TestOneShotMeetingFiresOnce(t *testing.T) {
	f := newFixture(t, nil)
	state := f.schedule(t, NewState(), protocol.ScheduleMeeting{
		ID: "m1", Type: protocol.MeetingStandup, ScheduledTime: epoch, Participants: []string{"p1"},
	})

	state, err := f.orch.Scan(f.ctx, state)
	require.NoError(t, err)
	require.Len(t, f.meetings(t), 1)
	require.NotNil(t, state.Scheduled[0].LastRun)

	f.clock.Advance(48 * time.Hour)
	state, err = f.orch.Scan(f.ctx, state)
	require.NoError(t, err)
	assert.Len(t, f.meetings(t), 1)
	assert.Len(t, state.Scheduled, 1, "entries are kept after firing")
}

func TestFutureMeetingWaits(t *testing.T) {
	f := newFixture(t, nil)
	state := f.schedule(t, NewState(), protocol.ScheduleMeeting{
		ID: "m1", Type: protocol.MeetingSync, ScheduledTime: epoch.Add(time.Hour), Participants: []string{"p1"},
	})
	state, err := f.orch.Scan(f.ctx, state)
	require.NoError(t, err)
	assert.Empty(t, f.meetings(t))
	assert.Nil(t, state.Scheduled[0].LastRun)
}

func TestDailyMeetingRespectsPeriod(t *testing.T) {
	f := newFixture(t, nil)
	state := f.schedule(t, NewState(), protocol.ScheduleMeeting{
		ID: "daily", Type: protocol.MeetingStandup, ScheduledTime: epoch,
		Participants: []string{"p1"}, Frequency: protocol.FrequencyDaily,
	})
	state, err := f.orch.Scan(f.ctx, state)
	require.NoError(t, err)
	require.Len(t, f.meetings(t), 1)

	f.clock.Advance(23 * time.Hour)
	state, err = f.orch.Scan(f.ctx, state)
	require.NoError(t, err)
	assert.Len(t, f.meetings(t), 1, "23h after the last run is too early")

	f.clock.Advance(2 * time.Hour)
	_, err = f.orch.Scan(f.ctx, state)
	require.NoError(t, err)
	assert.Len(t, f.meetings(t), 2)
}

func TestWeeklyAndBiWeeklyRecurrence(t *testing.T) {
	f := newFixture(t, nil)
	state := f.schedule(t, NewState(), protocol.ScheduleMeeting{
		ID: "weekly", Type: protocol.MeetingSync, ScheduledTime: epoch,
		Participants: []string{"p1"}, Frequency: protocol.FrequencyWeekly,
	})
	state = f.schedule(t, state, protocol.ScheduleMeeting{
		ID: "biweekly", Type: protocol.MeetingSync, ScheduledTime: epoch,
		Participants: []string{"p2"}, Frequency: protocol.FrequencyBiWeekly,
	})

	state, err := f.orch.Scan(f.ctx, state)
	require.NoError(t, err)
	require.Len(t, f.meetings(t), 2)

	f.clock.Advance(6 * 24 * time.Hour)
	state, err = f.orch.Scan(f.ctx, state)
	require.NoError(t, err)
	assert.Len(t, f.meetings(t), 2)

	f.clock.Advance(15 * 24 * time.Hour)
	_, err = f.orch.Scan(f.ctx, state)
	require.NoError(t, err)
	list, err := f.store.ListMeetings(f.ctx, entity.MeetingFilter{ScheduleID: "biweekly"})
	require.NoError(t, err)
	assert.Len(t, list, 1, "bi-weekly has no evaluated period")
	list, err = f.store.ListMeetings(f.ctx, entity.MeetingFilter{ScheduleID: "weekly"})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestScheduleRejectsDuplicateAndDedupesParticipants(t *testing.T) {
	f := newFixture(t, nil)
	state := f.schedule(t, NewState(), protocol.ScheduleMeeting{
		ID: "m1", Type: protocol.MeetingStandup, ScheduledTime: epoch, Participants: []string{"p1", "p2", "p1", " "},
	})
	assert.Equal(t, []string{"p1", "p2"}, state.Scheduled[0].Participants)
	assert.Equal(t, protocol.FrequencyNone, state.Scheduled[0].Frequency)

	_, err := f.handle(t, state, protocol.EventScheduleMeeting, protocol.ScheduleMeeting{
		ID: "m1", Type: protocol.MeetingSync, ScheduledTime: epoch, Participants: []string{"p3"},
	})
	require.Error(t, err)
	assert.True(t, actor.IsValidation(err))
}

func TestStandupRecordsMeetingMemoriesAndFollowUps(t *testing.T) {
	f := newFixture(t, nil)
	f.hire(t, "p1", "Ada", "ic:p1")
	f.hire(t, "p2", "Grace", "ic:p2")
	_, err := f.store.InsertEmployee(f.ctx, entity.Employee{ID: "mgr", Name: "Mia", Role: entity.RoleManager, Address: "manager:mgr"})
	require.NoError(t, err)

	state, err := f.handle(t, NewState(), protocol.EventRunStandup, protocol.RunMeeting{
		OrganizerID: "mgr", Participants: []string{"p1", "p2"}, Topic: "launch",
	})
	require.NoError(t, err)

	meetings := f.meetings(t)
	require.Len(t, meetings, 1)
	assert.Equal(t, protocol.MeetingStandup, meetings[0].Type)
	assert.Equal(t, []string{"p1", "p2"}, meetings[0].Participants)
	assert.Contains(t, meetings[0].Transcript, "Ada")
	assert.Equal(t, 1, state.MeetingsHeld)
	assert.Equal(t, meetings[0].ID, state.LastMeetingID)

	memories := f.memories(t, entity.MemoryFilter{Kind: entity.MemoryMeeting})
	require.Len(t, memories, 2)
	assert.Equal(t, "p1", memories[0].EmployeeID)
	assert.Equal(t, "p2", memories[1].EmployeeID)

	notices := f.host.Sent(protocol.EventMeetingNotice)
	require.Len(t, notices, 2)
	assert.Equal(t, "ic:p1:meeting", notices[0].Address)
	assert.Equal(t, "ic:p2:meeting", notices[1].Address)

	tasks, err := f.store.ListTasks(f.ctx, entity.TaskFilter{MeetingID: meetings[0].ID})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, entity.TaskPending, tasks[0].Status)
	assert.Equal(t, "p1", tasks[0].AssigneeID)
	assert.Len(t, f.host.Sent(protocol.EventNewTask), 2)
	assert.Equal(t, "manager:mgr", f.host.Sent(protocol.EventNewTask)[0].Address)
}

func TestMeetingNoticeFailureDoesNotStopMeeting(t *testing.T) {
	f := newFixture(t, nil)
	f.hire(t, "p1", "Ada", "ic:p1")
	f.host.Reject("ic:p1:meeting")

	_, err := f.handle(t, NewState(), protocol.EventRunSync, protocol.RunMeeting{Participants: []string{"p1", "p9"}})
	require.NoError(t, err)
	assert.Len(t, f.meetings(t), 1)
	assert.Empty(t, f.host.Sent(protocol.EventMeetingNotice))
}

func TestMalformedActionItemsKeepMeeting(t *testing.T) {
	gen := llm.GeneratorFunc(func(ctx context.Context, p llm.Prompt) (string, error) {
		if p.Purpose == llm.PurposeActionItems {
			return "no json here", nil
		}
		return llm.Offline{}.Generate(ctx, p)
	})
	f := newFixture(t, gen)

	_, err := f.handle(t, NewState(), protocol.EventRunStandup, protocol.RunMeeting{Participants: []string{"p1"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrMalformedOutput))
	assert.Len(t, f.meetings(t), 1)
	tasks, err := f.store.ListTasks(f.ctx, entity.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestPingRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	f.hire(t, "a", "Ada", "ic:a")
	f.hire(t, "b", "Bo", "ic:b")

	state, err := f.handle(t, NewState(), protocol.EventSendPing, protocol.SendPing{
		PingID: "ping-1", From: "a", To: "b", Message: "status?", ReplyTo: "ic:a:ping",
	})
	require.NoError(t, err)
	require.Contains(t, state.ActivePings, "ping-1")

	delivered := f.host.Sent(protocol.EventPing)
	require.Len(t, delivered, 1)
	assert.Equal(t, "ic:b:ping", delivered[0].Address)
	assert.Len(t, f.memories(t, entity.MemoryFilter{PingID: "ping-1"}), 2)

	state, err = f.handle(t, state, protocol.EventPingResponse, protocol.PingResponse{PingID: "ping-1", From: "b", Message: "on track"})
	require.NoError(t, err)
	assert.Empty(t, state.ActivePings)
	assert.Equal(t, 1, state.PingsResolved)

	memories := f.memories(t, entity.MemoryFilter{PingID: "ping-1"})
	require.Len(t, memories, 4)
	assert.Len(t, f.memories(t, entity.MemoryFilter{EmployeeID: "a", Kind: entity.MemoryPingReply}), 1)
	assert.Len(t, f.memories(t, entity.MemoryFilter{EmployeeID: "b", Kind: entity.MemoryPingAnswered}), 1)

	replies := f.host.Sent(protocol.EventPingReply)
	require.Len(t, replies, 1)
	assert.Equal(t, "ic:a:ping", replies[0].Address)
}

func TestUnknownPingResolvesMostRecent(t *testing.T) {
	f := newFixture(t, nil)
	state, err := f.handle(t, NewState(), protocol.EventSendPing, protocol.SendPing{PingID: "old", From: "a", To: "b", Message: "one"})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	state, err = f.handle(t, state, protocol.EventSendPing, protocol.SendPing{PingID: "new", From: "a", To: "c", Message: "two"})
	require.NoError(t, err)

	state, err = f.handle(t, state, protocol.EventPingResponse, protocol.PingResponse{PingID: "missing", Message: "done"})
	require.NoError(t, err)
	assert.Contains(t, state.ActivePings, "old")
	assert.NotContains(t, state.ActivePings, "new")
}

func TestUnknownPingIgnoresClockStepBack(t *testing.T) {
	f := newFixture(t, nil)
	state, err := f.handle(t, NewState(), protocol.EventSendPing, protocol.SendPing{PingID: "first", From: "a", To: "b", Message: "one"})
	require.NoError(t, err)
	f.clock.Advance(-time.Minute)
	state, err = f.handle(t, state, protocol.EventSendPing, protocol.SendPing{PingID: "second", From: "a", To: "c", Message: "two"})
	require.NoError(t, err)
	require.True(t, state.ActivePings["second"].Timestamp.Before(state.ActivePings["first"].Timestamp))

	state, err = f.handle(t, state, protocol.EventPingResponse, protocol.PingResponse{PingID: "missing", Message: "done"})
	require.NoError(t, err)
	assert.Contains(t, state.ActivePings, "first")
	assert.NotContains(t, state.ActivePings, "second")
}

func TestPingResponseWithNoActivePings(t *testing.T) {
	f := newFixture(t, nil)
	state, err := f.handle(t, NewState(), protocol.EventPingResponse, protocol.PingResponse{PingID: "x", Message: "late"})
	require.NoError(t, err)
	assert.Empty(t, state.ActivePings)
	assert.Empty(t, f.memories(t, entity.MemoryFilter{}))
}

func TestScheduledPingMeetingPingsParticipants(t *testing.T) {
	f := newFixture(t, nil)
	f.hire(t, "lead", "Lee", "manager:lead")
	f.hire(t, "a", "Ada", "ic:a")
	f.hire(t, "b", "Bo", "ic:b")

	state := f.schedule(t, NewState(), protocol.ScheduleMeeting{
		ID: "check", Type: protocol.MeetingPing, ScheduledTime: epoch,
		OrganizerID: "lead", Participants: []string{"lead", "a", "b"}, Topic: "release",
	})
	state, err := f.orch.Scan(f.ctx, state)
	require.NoError(t, err)

	assert.Len(t, state.ActivePings, 2)
	pings := f.host.Sent(protocol.EventPing)
	require.Len(t, pings, 2)
	for _, p := range state.ActivePings {
		assert.Equal(t, "lead", p.From)
		assert.Equal(t, "manager:lead:ping", p.ReplyTo)
		assert.Contains(t, p.Message, "release")
	}
}

func TestUnknownEventIsValidationError(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.handle(t, NewState(), "dance", nil)
	assert.True(t, actor.IsValidation(err))
}

func TestDefinitionValidatesAndBuilds(t *testing.T) {
	def := Definition(kittest.Deps(entity.NewMemory(), nil))
	id, err := def.Identity(nil)
	require.NoError(t, err)
	assert.Equal(t, "default", id)
	id, err = def.Identity(json.RawMessage(`{"orgId":"acme"}`))
	require.NoError(t, err)
	assert.Equal(t, "acme", id)

	assert.Error(t, def.Validate("", mailbox.MustMessage(protocol.EventSendPing, protocol.SendPing{From: "a"})))
	assert.NoError(t, def.Validate("", mailbox.MustMessage(protocol.EventGetStatus, nil)))
	assert.Error(t, def.Validate("ping", mailbox.MustMessage(protocol.EventGetStatus, nil)))
}
