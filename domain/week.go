package domain

import (
	"sort"
	"time"
)

// DateLayout is the wire format for meal dates.
const DateLayout = "2006-01-02"

// WeekDuration is the exact width of one board window. Week stepping adds or
// subtracts this fixed duration rather than walking the calendar, so the
// cursor round-trips exactly.
const WeekDuration = 7 * 24 * time.Hour

// WeekStart normalizes t to the Monday of its week at local midnight.
func WeekStart(t time.Time) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	back := (int(midnight.Weekday()) + 6) % 7
	return midnight.AddDate(0, 0, -back)
}

// NextWeek advances the window cursor by exactly seven days.
func NextWeek(w time.Time) time.Time { return w.Add(WeekDuration) }

// PrevWeek retreats the window cursor by exactly seven days.
func PrevWeek(w time.Time) time.Time { return w.Add(-WeekDuration) }

// InWindow reports whether the task's meal date falls inside
// [start, start+7d). Tasks without a meal date belong to no week.
func InWindow(t Task, start time.Time) bool {
	if t.MealDate == "" {
		return false
	}
	d, err := time.ParseInLocation(DateLayout, t.MealDate, start.Location())
	if err != nil {
		return false
	}
	return !d.Before(start) && d.Before(start.Add(WeekDuration))
}

// TasksFor returns the tasks shown in the weekday column of the window
// starting at start. The result is a fresh slice ordered by column rank and
// never aliases or reorders the input.
func TasksFor(tasks []Task, start time.Time, weekday string) []Task {
	out := []Task{}
	for _, t := range tasks {
		if t.Status == weekday && InWindow(t, start) {
			out = append(out, t)
		}
	}
	sortColumn(out)
	return out
}

// Buckets maps every weekday tag to its visible column for the window
// starting at start, in a single pass over tasks.
func Buckets(tasks []Task, start time.Time) map[string][]Task {
	out := make(map[string][]Task, len(Weekdays))
	for _, d := range Weekdays {
		out[d] = []Task{}
	}
	for _, t := range tasks {
		if !IsWeekday(t.Status) || !InWindow(t, start) {
			continue
		}
		out[t.Status] = append(out[t.Status], t)
	}
	for d := range out {
		sortColumn(out[d])
	}
	return out
}

// FilterView keeps only tasks belonging to the named board partition. An
// empty view keeps everything. Filtering is idempotent.
func FilterView(tasks []Task, view string) []Task {
	if view == "" {
		return append([]Task{}, tasks...)
	}
	out := []Task{}
	for _, t := range tasks {
		if t.View == view {
			out = append(out, t)
		}
	}
	return out
}

// sortColumn orders a column by explicit rank, newest first among ties.
func sortColumn(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Order != tasks[j].Order {
			return tasks[i].Order < tasks[j].Order
		}
		return tasks[i].CreatedAt > tasks[j].CreatedAt
	})
}
