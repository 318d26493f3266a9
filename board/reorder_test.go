package board

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jmigdelacruz/dlcmeals/domain"
)

func planWeek(t *testing.T) time.Time {
	t.Helper()
	return domain.WeekStart(time.Date(2024, 3, 20, 12, 0, 0, 0, time.Local))
}

func TestPlanMoveAcrossColumns(t *testing.T) {
	start := planWeek(t)
	tasks := []domain.Task{
		{ID: "a", Status: domain.Monday, MealDate: "2024-03-18", Order: 0},
		{ID: "b", Status: domain.Tuesday, MealDate: "2024-03-19", Order: 0},
		{ID: "c", Status: domain.Tuesday, MealDate: "2024-03-19", Order: 1},
	}
	updates, err := PlanMove(tasks, Move{TaskID: "a", ToStatus: domain.Tuesday, ToIndex: 1}, start, "")
	if err != nil {
		t.Fatalf("plan move: %v", err)
	}

	byID := map[string]domain.TaskUpdate{}
	for _, u := range updates {
		byID[u.ID] = u.Fields
	}
	moved, ok := byID["a"]
	if !ok || moved.Status == nil || *moved.Status != domain.Tuesday {
		t.Fatalf("expected moved task to change status, got %#v", updates)
	}
	if moved.Order == nil || *moved.Order != 1 {
		t.Fatalf("expected moved task at rank 1, got %#v", moved)
	}
	displaced, ok := byID["c"]
	if !ok || displaced.Order == nil || *displaced.Order != 2 {
		t.Fatalf("expected c re-ranked to 2, got %#v", updates)
	}
	if _, ok := byID["b"]; ok {
		t.Fatalf("task b kept its rank and must not be updated")
	}
}

func TestPlanMoveSameColumnReRanks(t *testing.T) {
	start := planWeek(t)
	tasks := []domain.Task{
		{ID: "a", Status: domain.Friday, MealDate: "2024-03-22", Order: 0},
		{ID: "b", Status: domain.Friday, MealDate: "2024-03-22", Order: 1},
		{ID: "c", Status: domain.Friday, MealDate: "2024-03-22", Order: 2},
	}
	updates, err := PlanMove(tasks, Move{TaskID: "c", ToStatus: domain.Friday, ToIndex: 0}, start, "")
	if err != nil {
		t.Fatalf("plan move: %v", err)
	}

	byID := map[string]domain.TaskUpdate{}
	for _, u := range updates {
		if u.Fields.Status != nil {
			t.Fatalf("same-column move must not touch status: %#v", u)
		}
		byID[u.ID] = u.Fields
	}
	for id, want := range map[string]int{"c": 0, "a": 1, "b": 2} {
		got, ok := byID[id]
		if !ok || got.Order == nil || *got.Order != want {
			t.Fatalf("expected %s at rank %d, got %#v", id, want, updates)
		}
	}
}

// A column normally accumulates meals from past weeks. The drop index counts
// only the tasks the user can see, so those must not shift the insertion
// point or be re-ranked.
func TestPlanMoveIgnoresOtherWeeks(t *testing.T) {
	start := planWeek(t)
	tasks := []domain.Task{
		{ID: "old1", Status: domain.Monday, MealDate: "2024-03-11", Order: 0},
		{ID: "old2", Status: domain.Monday, MealDate: "2024-03-12", Order: 1},
		{ID: "vis1", Status: domain.Monday, MealDate: "2024-03-18", Order: 2},
		{ID: "vis2", Status: domain.Monday, MealDate: "2024-03-18", Order: 3},
		{ID: "moved", Status: domain.Tuesday, MealDate: "2024-03-19", Order: 0},
	}
	updates, err := PlanMove(tasks, Move{TaskID: "moved", ToStatus: domain.Monday, ToIndex: 1}, start, "")
	if err != nil {
		t.Fatalf("plan move: %v", err)
	}

	applied := applyUpdates(tasks, updates)
	column := domain.TasksFor(applied, start, domain.Monday)
	var ids []string
	for _, c := range column {
		ids = append(ids, c.ID)
	}
	want := []string{"vis1", "moved", "vis2"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("expected visible column %v, got %v", want, ids)
	}
	for _, u := range updates {
		if u.ID == "old1" || u.ID == "old2" {
			t.Fatalf("tasks from other weeks must keep their ranks, got update for %s", u.ID)
		}
	}
}

func TestPlanMoveIgnoresOtherViews(t *testing.T) {
	start := planWeek(t)
	tasks := []domain.Task{
		{ID: "hidden", Status: domain.Monday, MealDate: "2024-03-18", View: "family", Order: 0},
		{ID: "vis1", Status: domain.Monday, MealDate: "2024-03-18", View: "daddy", Order: 1},
		{ID: "moved", Status: domain.Tuesday, MealDate: "2024-03-19", View: "daddy", Order: 0},
	}
	updates, err := PlanMove(tasks, Move{TaskID: "moved", ToStatus: domain.Monday, ToIndex: 0}, start, "daddy")
	if err != nil {
		t.Fatalf("plan move: %v", err)
	}

	applied := applyUpdates(tasks, updates)
	column := domain.TasksFor(domain.FilterView(applied, "daddy"), start, domain.Monday)
	if len(column) != 2 || column[0].ID != "moved" || column[1].ID != "vis1" {
		t.Fatalf("expected [moved vis1] in the daddy view, got %#v", column)
	}
	for _, u := range updates {
		if u.ID == "hidden" {
			t.Fatal("tasks outside the active view must keep their ranks")
		}
	}
}

func TestPlanMoveClampsIndex(t *testing.T) {
	start := planWeek(t)
	tasks := []domain.Task{
		{ID: "a", Status: domain.Monday, MealDate: "2024-03-18", Order: 0},
		{ID: "b", Status: domain.Monday, MealDate: "2024-03-18", Order: 1},
	}
	updates, err := PlanMove(tasks, Move{TaskID: "a", ToStatus: domain.Monday, ToIndex: 99}, start, "")
	if err != nil {
		t.Fatalf("plan move: %v", err)
	}
	byID := map[string]domain.TaskUpdate{}
	for _, u := range updates {
		byID[u.ID] = u.Fields
	}
	if got := byID["a"]; got.Order == nil || *got.Order != 1 {
		t.Fatalf("expected a clamped to the end of the column, got %#v", updates)
	}
}

func TestPlanMoveInvalidLeavesSourceUntouched(t *testing.T) {
	start := planWeek(t)
	tasks := []domain.Task{
		{ID: "a", Status: domain.Monday, MealDate: "2024-03-18", Order: 0},
		{ID: "b", Status: domain.Monday, MealDate: "2024-03-18", Order: 1},
	}
	snapshot := append([]domain.Task{}, tasks...)

	if _, err := PlanMove(tasks, Move{TaskID: "a", ToStatus: "trash", ToIndex: 0}, start, ""); !errors.Is(err, domain.ErrInvalidTask) {
		t.Fatalf("expected invalid column error, got %v", err)
	}
	if _, err := PlanMove(tasks, Move{TaskID: "ghost", ToStatus: domain.Monday, ToIndex: 0}, start, ""); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if !reflect.DeepEqual(tasks, snapshot) {
		t.Fatalf("cancelled move mutated the source: %#v", tasks)
	}
}

func TestPlanMoveNoopProducesNoUpdates(t *testing.T) {
	start := planWeek(t)
	tasks := []domain.Task{
		{ID: "a", Status: domain.Monday, MealDate: "2024-03-18", Order: 0},
		{ID: "b", Status: domain.Monday, MealDate: "2024-03-18", Order: 1},
	}
	updates, err := PlanMove(tasks, Move{TaskID: "b", ToStatus: domain.Monday, ToIndex: 1}, start, "")
	if err != nil {
		t.Fatalf("plan move: %v", err)
	}
	if len(updates) != 0 {
		t.Fatalf("dropping a card back in place must change nothing, got %#v", updates)
	}
}

func applyUpdates(tasks []domain.Task, updates []Update) []domain.Task {
	applied := append([]domain.Task{}, tasks...)
	for _, u := range updates {
		for i := range applied {
			if applied[i].ID != u.ID {
				continue
			}
			if u.Fields.Status != nil {
				applied[i].Status = *u.Fields.Status
			}
			if u.Fields.Order != nil {
				applied[i].Order = *u.Fields.Order
			}
		}
	}
	return applied
}
