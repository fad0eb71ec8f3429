package ic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-org/internal/agents/kit/kittest"
	"github.com/kingrea/lattice-org/internal/agents/protocol"
	"github.com/kingrea/lattice-org/internal/entity"
	"github.com/kingrea/lattice-org/internal/llm"
	"github.com/kingrea/lattice-org/internal/mailbox"
)

type fixture struct {
	ctx   context.Context
	store *entity.Repository
	host  *kittest.Host
	ic    *Worker
	state State
}

func newFixture(t *testing.T, gen llm.Generator) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), store: entity.NewMemory(), host: kittest.NewHost()}
	clock := kittest.NewClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	f.ic = New(kittest.Env(protocol.RoleIC, f.host, clock.Now, nil), kittest.Deps(f.store, gen))
	f.state = State{EmployeeID: "ada", Name: "Ada", ManagerID: "mgr1", ManagerAddress: "manager:m1", MeetingAddress: "meeting:o1"}
	return f
}

func (f *fixture) send(t *testing.T, kind string, payload any) {
	t.Helper()
	next, err := f.ic.Handle(f.ctx, f.state, mailbox.MustMessage(kind, payload))
	require.NoError(t, err)
	f.state = next
}

func (f *fixture) scan(t *testing.T) error {
	t.Helper()
	next, err := f.ic.Scan(f.ctx, f.state)
	if err == nil {
		f.state = next
	}
	return err
}

func (f *fixture) assigned(t *testing.T, id string) {
	t.Helper()
	_, err := f.store.InsertTask(f.ctx, entity.Task{ID: id, Title: "Task " + id, Status: entity.TaskAssigned, AssigneeID: "ada"})
	require.NoError(t, err)
	f.send(t, protocol.EventAssignTask, protocol.AssignTask{TaskID: id, Title: "Task " + id})
}

func TestScanWorksOneTaskPerTick(t *testing.T) {
	f := newFixture(t, nil)
	f.assigned(t, "t1")
	f.assigned(t, "t2")
	f.send(t, protocol.EventAssignTask, protocol.AssignTask{TaskID: "t1", Title: "Task t1"})
	require.Len(t, f.state.Queue, 2)

	require.NoError(t, f.scan(t))
	assert.Len(t, f.state.Queue, 1)
	assert.Equal(t, []string{"t1"}, f.state.Submitted)

	task, err := f.store.GetTask(f.ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, entity.TaskReview, task.Status)

	deliverables, err := f.store.ListDeliverables(f.ctx, entity.DeliverableFilter{TaskID: "t1"})
	require.NoError(t, err)
	require.Len(t, deliverables, 1)
	assert.Equal(t, 1, deliverables[0].Version)
	assert.Equal(t, entity.DeliverableSubmitted, deliverables[0].Status)

	sent := f.host.Sent(protocol.EventDeliverableSubmitted)
	require.Len(t, sent, 1)
	assert.Equal(t, "manager:m1", sent[0].Address)
	var p protocol.DeliverableSubmitted
	require.NoError(t, sent[0].Message.Decode(&p))
	assert.Equal(t, deliverables[0].ID, p.DeliverableID)
}

func TestRevisionRequeuesWithFeedback(t *testing.T) {
	var prompts []llm.Prompt
	gen := llm.GeneratorFunc(func(ctx context.Context, p llm.Prompt) (string, error) {
		prompts = append(prompts, p)
		return llm.Offline{}.Generate(ctx, p)
	})
	f := newFixture(t, gen)
	f.assigned(t, "t1")
	require.NoError(t, f.scan(t))

	task, err := f.store.GetTask(f.ctx, "t1")
	require.NoError(t, err)
	task.Status = entity.TaskRevision
	task.Revisions = 1
	require.NoError(t, f.store.UpdateTask(f.ctx, task))

	f.send(t, protocol.EventRequestRevision, protocol.RequestRevision{TaskID: "t1", Feedback: "Add numbers"})
	require.Len(t, f.state.Queue, 1)
	assert.Equal(t, "Task t1", f.state.Queue[0].Title)
	assert.Empty(t, f.state.Submitted)

	require.NoError(t, f.scan(t))
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1].User, "Add numbers")
	deliverables, err := f.store.ListDeliverables(f.ctx, entity.DeliverableFilter{TaskID: "t1"})
	require.NoError(t, err)
	require.Len(t, deliverables, 2)
	assert.Equal(t, 2, deliverables[1].Version)
}

func TestFailedGenerationKeepsWorkQueued(t *testing.T) {
	fail := true
	gen := llm.GeneratorFunc(func(ctx context.Context, p llm.Prompt) (string, error) {
		if fail {
			return "", errors.New("model unavailable")
		}
		return llm.Offline{}.Generate(ctx, p)
	})
	f := newFixture(t, gen)
	f.assigned(t, "t1")

	require.Error(t, f.scan(t))
	assert.Len(t, f.state.Queue, 1)
	task, err := f.store.GetTask(f.ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, entity.TaskInProgress, task.Status)

	fail = false
	require.NoError(t, f.scan(t))
	assert.Empty(t, f.state.Queue)
	assert.Len(t, f.host.Sent(protocol.EventDeliverableSubmitted), 1)
}

// failingSubmit rejects the first task update that moves a task to review.
type failingSubmit struct {
	*entity.Repository
	failed bool
}

func (f *failingSubmit) UpdateTask(ctx context.Context, t entity.Task) error {
	if t.Status == entity.TaskReview && !f.failed {
		f.failed = true
		return errors.New("store unavailable")
	}
	return f.Repository.UpdateTask(ctx, t)
}

func TestFailedSubmitReusesStoredDeliverable(t *testing.T) {
	calls := 0
	gen := llm.GeneratorFunc(func(ctx context.Context, p llm.Prompt) (string, error) {
		calls++
		return llm.Offline{}.Generate(ctx, p)
	})
	f := newFixture(t, gen)
	f.ic = New(kittest.Env(protocol.RoleIC, f.host, time.Now, nil), kittest.Deps(&failingSubmit{Repository: f.store}, gen))
	f.assigned(t, "t1")

	require.Error(t, f.scan(t))
	assert.Len(t, f.state.Queue, 1)
	require.NoError(t, f.scan(t))
	assert.Empty(t, f.state.Queue)
	assert.Equal(t, 1, calls)

	deliverables, err := f.store.ListDeliverables(f.ctx, entity.DeliverableFilter{TaskID: "t1"})
	require.NoError(t, err)
	require.Len(t, deliverables, 1)

	sent := f.host.Sent(protocol.EventDeliverableSubmitted)
	require.Len(t, sent, 1)
	var p protocol.DeliverableSubmitted
	require.NoError(t, sent[0].Message.Decode(&p))
	assert.Equal(t, deliverables[0].ID, p.DeliverableID)
	assert.Equal(t, deliverables[0].Content, p.Content)
}

func TestMissingTaskIsDropped(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t, protocol.EventAssignTask, protocol.AssignTask{TaskID: "ghost", Title: "Ghost"})
	require.NoError(t, f.scan(t))
	assert.Empty(t, f.state.Queue)
	assert.Empty(t, f.host.Sent())
}

func TestApprovalIsRemembered(t *testing.T) {
	f := newFixture(t, nil)
	f.assigned(t, "t1")
	require.NoError(t, f.scan(t))
	f.send(t, protocol.EventTaskApproved, protocol.TaskApproved{TaskID: "t1", Feedback: "Great"})
	assert.Equal(t, 1, f.state.Completed)
	assert.Empty(t, f.state.Submitted)

	memories, err := f.store.ListMemories(f.ctx, entity.MemoryFilter{EmployeeID: "ada", Kind: entity.MemoryTask})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Contains(t, memories[0].Content, "Great")
}

func TestPingAndMeetingNotice(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t, protocol.EventPing, protocol.Ping{PingID: "p9", From: "mgr1", Message: "status?"})
	responses := f.host.Sent(protocol.EventPingResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, "meeting:o1", responses[0].Address)
	assert.Equal(t, 1, f.state.Pings)

	f.send(t, protocol.EventMeetingNotice, protocol.MeetingNotice{MeetingType: protocol.MeetingSync})
	assert.Equal(t, 1, f.state.Meetings)
}
