package board

import (
	"fmt"
	"sort"
	"time"

	"github.com/jmigdelacruz/dlcmeals/domain"
)

// Move describes a resolved drag-and-drop: the dragged task, the weekday
// column it was dropped into and the index within that column as the user
// sees it.
type Move struct {
	TaskID   string `json:"taskId"`
	ToStatus string `json:"toStatus"`
	ToIndex  int    `json:"toIndex"`
}

// Update pairs a task id with the partial fields a move changes on it.
type Update struct {
	ID     string
	Fields domain.TaskUpdate
}

// PlanMove translates a drop into the minimal set of partial updates. The
// drop index refers to the column the user is looking at, so the insertion
// point is resolved against the tasks visible under the given week window
// and view; tasks from other weeks or views keep their ranks untouched.
// Columns sort per window, so re-ranking only the visible partition cannot
// collide with hidden tasks. The input slice is never touched; an invalid
// move yields no updates at all.
func PlanMove(tasks []domain.Task, mv Move, start time.Time, view string) ([]Update, error) {
	if !domain.IsWeekday(mv.ToStatus) {
		return nil, fmt.Errorf("%w: unknown column %q", domain.ErrInvalidTask, mv.ToStatus)
	}
	var moved *domain.Task
	column := []domain.Task{}
	for i := range tasks {
		t := tasks[i]
		if t.ID == mv.TaskID {
			moved = &t
			continue
		}
		if t.Status != mv.ToStatus || !domain.InWindow(t, start) {
			continue
		}
		if view != "" && t.View != view {
			continue
		}
		column = append(column, t)
	}
	if moved == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, mv.TaskID)
	}

	sort.SliceStable(column, func(i, j int) bool {
		if column[i].Order != column[j].Order {
			return column[i].Order < column[j].Order
		}
		return column[i].CreatedAt > column[j].CreatedAt
	})

	idx := mv.ToIndex
	if idx < 0 {
		idx = 0
	}
	if idx > len(column) {
		idx = len(column)
	}
	column = append(column[:idx], append([]domain.Task{*moved}, column[idx:]...)...)

	updates := []Update{}
	for rank, t := range column {
		fields := domain.TaskUpdate{}
		if t.Order != rank {
			r := rank
			fields.Order = &r
		}
		if t.ID == mv.TaskID && t.Status != mv.ToStatus {
			s := mv.ToStatus
			fields.Status = &s
		}
		if fields.IsZero() {
			continue
		}
		updates = append(updates, Update{ID: t.ID, Fields: fields})
	}
	return updates, nil
}
