package entity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestRepositoryCRUDAndFilters(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	repo := NewMemory(WithClock(fixedClock(now)))

	mgr, err := repo.InsertEmployee(ctx, Employee{Name: "Mara", Role: RoleManager})
	require.NoError(t, err)
	require.NotEmpty(t, mgr.ID)
	assert.Equal(t, now, mgr.HiredAt)
	assert.Equal(t, "active", mgr.Status)

	_, err = repo.InsertEmployee(ctx, Employee{ID: "ic-1", Name: "Ivo", Role: RoleIC, ManagerID: mgr.ID})
	require.NoError(t, err)
	_, err = repo.InsertEmployee(ctx, Employee{ID: "ic-1", Name: "Dup", Role: RoleIC})
	require.ErrorIs(t, err, ErrDuplicate)

	reports, err := repo.ListEmployees(ctx, EmployeeFilter{ManagerID: mgr.ID})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "Ivo", reports[0].Name)

	task, err := repo.InsertTask(ctx, Task{Title: "Write docs", AssigneeID: "ic-1"})
	require.NoError(t, err)
	assert.Equal(t, TaskPending, task.Status)
	task.Status = TaskReview
	require.NoError(t, repo.UpdateTask(ctx, task))
	got, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskReview, got.Status)

	_, err = repo.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.UpdateTask(ctx, Task{ID: "missing"}), ErrNotFound)

	inReview, err := repo.ListTasks(ctx, TaskFilter{Status: TaskReview, CreatedAfter: now})
	require.NoError(t, err)
	assert.Len(t, inReview, 1)
	later, err := repo.ListTasks(ctx, TaskFilter{CreatedAfter: now.Add(time.Second)})
	require.NoError(t, err)
	assert.Empty(t, later)
}

func TestRepositoryCostRanges(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := repo.InsertCost(ctx, Cost{Purpose: "transcript", CreatedAt: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}
	costs, err := repo.ListCosts(ctx, CostFilter{Since: base.Add(time.Hour), Until: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, costs, 1)
	assert.Equal(t, base.Add(time.Hour), costs[0].CreatedAt)
}

func TestRepositoryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemory().InsertMemory(ctx, Memory{EmployeeID: "a"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTOMLRepositoryPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "entities.toml")

	repo, err := OpenTOML(path)
	require.NoError(t, err)
	meeting, err := repo.InsertMeeting(ctx, Meeting{Type: "standup", Participants: []string{"p1", "p2"}, Transcript: "hello"})
	require.NoError(t, err)
	_, err = repo.InsertMemory(ctx, Memory{EmployeeID: "p1", Kind: MemoryMeeting, MeetingID: meeting.ID, Content: "standup"})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")

	reopened, err := OpenTOML(path)
	require.NoError(t, err)
	got, err := reopened.GetMeeting(ctx, meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, got.Participants)
	memories, err := reopened.ListMemories(ctx, MemoryFilter{MeetingID: meeting.ID})
	require.NoError(t, err)
	assert.Len(t, memories, 1)
}

func TestTOMLRepositoryRejectsFutureSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entities.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = 9\n"), 0o600))
	_, err := OpenTOML(path)
	assert.Error(t, err)
}
