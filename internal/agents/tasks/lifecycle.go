// Package tasks drives the task lifecycle:
//
//	pending -> assigned -> in_progress -> review -> completed
//	                            ^            |
//	                            +- revision <+
package tasks

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/kingrea/lattice-org/internal/entity"
)

// Lifecycle events.
const (
	EventAssign  = "assign"
	EventStart   = "start"
	EventSubmit  = "submit"
	EventApprove = "approve"
	EventRevise  = "revise"
)

var events = fsm.Events{
	{Name: EventAssign, Src: []string{entity.TaskPending}, Dst: entity.TaskAssigned},
	{Name: EventStart, Src: []string{entity.TaskAssigned, entity.TaskRevision}, Dst: entity.TaskInProgress},
	{Name: EventSubmit, Src: []string{entity.TaskInProgress}, Dst: entity.TaskReview},
	{Name: EventApprove, Src: []string{entity.TaskReview}, Dst: entity.TaskCompleted},
	{Name: EventRevise, Src: []string{entity.TaskReview}, Dst: entity.TaskRevision},
}

func machine(status string) *fsm.FSM {
	if status == "" {
		status = entity.TaskPending
	}
	return fsm.NewFSM(status, events, fsm.Callbacks{})
}

// Can reports whether event is allowed from status.
func Can(status, event string) bool {
	return machine(status).Can(event)
}

// Next returns the status reached by applying event to status.
func Next(ctx context.Context, status, event string) (string, error) {
	m := machine(status)
	if err := m.Event(ctx, event); err != nil {
		return status, fmt.Errorf("tasks: %s from %s: %w", event, status, err)
	}
	return m.Current(), nil
}

// Advance loads the task, applies event, lets mutate adjust other fields and
// stores the result.
func Advance(ctx context.Context, store entity.Store, taskID, event string, mutate func(*entity.Task)) (entity.Task, error) {
	task, err := store.GetTask(ctx, taskID)
	if err != nil {
		return entity.Task{}, err
	}
	next, err := Next(ctx, task.Status, event)
	if err != nil {
		return task, err
	}
	task.Status = next
	if mutate != nil {
		mutate(&task)
	}
	if err := store.UpdateTask(ctx, task); err != nil {
		return task, err
	}
	return task, nil
}
