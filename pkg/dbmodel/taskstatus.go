package dbmodel

import (
	"fmt"

	"github.com/erprx/datastore/pkg/errs"
)

// TaskStatus is the Task lifecycle state, serialized as a small integer
// in the task_<flowtype> tables.
type TaskStatus int

const (
	TaskStatusDraft TaskStatus = iota
	TaskStatusReady
	TaskStatusInProgress
	TaskStatusCompleted
	TaskStatusCancelled
)

func (s TaskStatus) String() string {
	switch s {
	case TaskStatusDraft:
		return "draft"
	case TaskStatusReady:
		return "ready"
	case TaskStatusInProgress:
		return "in-progress"
	case TaskStatusCompleted:
		return "completed"
	case TaskStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// transitions is the strict DAG from spec.md §4.5/"Lifecycles": draft ->
// ready on activation, ready -> in-progress on pharmacy accept,
// in-progress -> completed on dispense-and-receipt, and cancellation
// reachable from any non-terminal state.
var transitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusDraft:      {TaskStatusReady: true, TaskStatusCancelled: true},
	TaskStatusReady:      {TaskStatusInProgress: true, TaskStatusCancelled: true},
	TaskStatusInProgress: {TaskStatusCompleted: true, TaskStatusCancelled: true},
	TaskStatusCompleted:  {},
	TaskStatusCancelled:  {},
}

// CanTransition reports whether moving from s to next is a legal step in
// the Task status DAG.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	return transitions[s][next]
}

// RequireTransition returns a LogicError unless the move is legal; the
// storage layer calls this immediately before persisting any status
// change so an illegal transition never reaches the database.
func (s TaskStatus) RequireTransition(next TaskStatus) error {
	if !s.CanTransition(next) {
		return errs.New(errs.LogicError, "TaskStatus.RequireTransition", fmt.Errorf("illegal task status transition %s -> %s", s, next))
	}
	return nil
}

// ParseTaskStatus maps a status name back to its TaskStatus, for the
// query translator's TaskStatus search parameter.
func ParseTaskStatus(name string) (TaskStatus, bool) {
	switch name {
	case "draft":
		return TaskStatusDraft, true
	case "ready":
		return TaskStatusReady, true
	case "in-progress":
		return TaskStatusInProgress, true
	case "completed":
		return TaskStatusCompleted, true
	case "cancelled":
		return TaskStatusCancelled, true
	default:
		return 0, false
	}
}

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}
