package domain

import (
	"fmt"
	"time"
)

// Weekday tags. A task's status doubles as its column on the board.
const (
	Monday    = "monday"
	Tuesday   = "tuesday"
	Wednesday = "wednesday"
	Thursday  = "thursday"
	Friday    = "friday"
	Saturday  = "saturday"
	Sunday    = "sunday"
)

// Weekdays lists the column tags in board order.
var Weekdays = []string{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// Meal types.
const (
	Breakfast = "breakfast"
	Lunch     = "lunch"
	Dinner    = "dinner"
	Snack     = "snack"
)

var mealTypes = map[string]struct{}{
	Breakfast: {},
	Lunch:     {},
	Dinner:    {},
	Snack:     {},
}

var weekdayIndex = func() map[string]int {
	m := make(map[string]int, len(Weekdays))
	for i, d := range Weekdays {
		m[d] = i
	}
	return m
}()

// IsWeekday reports whether tag is one of the seven recognized column tags.
func IsWeekday(tag string) bool {
	_, ok := weekdayIndex[tag]
	return ok
}

// IsMealType reports whether mt is a recognized meal type.
func IsMealType(mt string) bool {
	_, ok := mealTypes[mt]
	return ok
}

// Image references an uploaded picture attached to a task.
type Image struct {
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Task represents a single planned meal on the board.
type Task struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Notes     string  `json:"notes,omitempty"`
	Status    string  `json:"status"`
	MealType  string  `json:"mealType,omitempty"`
	Calories  int     `json:"calories,omitempty"`
	MealDate  string  `json:"mealDate,omitempty"`
	Images    []Image `json:"images,omitempty"`
	View      string  `json:"view,omitempty"`
	Order     int     `json:"order"`
	CreatedAt int64   `json:"createdAt,omitempty"`
}

// TaskUpdate carries partial field changes for an existing task. Nil fields
// are left untouched by the store.
type TaskUpdate struct {
	Title    *string  `json:"title,omitempty"`
	Notes    *string  `json:"notes,omitempty"`
	Status   *string  `json:"status,omitempty"`
	MealType *string  `json:"mealType,omitempty"`
	Calories *int     `json:"calories,omitempty"`
	MealDate *string  `json:"mealDate,omitempty"`
	Images   *[]Image `json:"images,omitempty"`
	View     *string  `json:"view,omitempty"`
	Order    *int     `json:"order,omitempty"`
}

// IsZero reports whether the update changes nothing.
func (u TaskUpdate) IsZero() bool {
	return u.Title == nil && u.Notes == nil && u.Status == nil && u.MealType == nil &&
		u.Calories == nil && u.MealDate == nil && u.Images == nil && u.View == nil && u.Order == nil
}

// Validate checks the closed record shape enforced at the store boundary.
func (t Task) Validate() error {
	if t.Title == "" {
		return fmt.Errorf("%w: missing title", ErrInvalidTask)
	}
	if !IsWeekday(t.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTask, t.Status)
	}
	if t.MealType != "" && !IsMealType(t.MealType) {
		return fmt.Errorf("%w: unknown meal type %q", ErrInvalidTask, t.MealType)
	}
	if t.Calories < 0 {
		return fmt.Errorf("%w: negative calories", ErrInvalidTask)
	}
	if t.MealDate != "" {
		if _, err := time.Parse(DateLayout, t.MealDate); err != nil {
			return fmt.Errorf("%w: bad meal date %q", ErrInvalidTask, t.MealDate)
		}
	}
	return nil
}

// Validate checks the fields an update is allowed to carry.
func (u TaskUpdate) Validate() error {
	if u.IsZero() {
		return fmt.Errorf("%w: update has no fields", ErrInvalidTask)
	}
	if u.Title != nil && *u.Title == "" {
		return fmt.Errorf("%w: missing title", ErrInvalidTask)
	}
	if u.Status != nil && !IsWeekday(*u.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTask, *u.Status)
	}
	if u.MealType != nil && *u.MealType != "" && !IsMealType(*u.MealType) {
		return fmt.Errorf("%w: unknown meal type %q", ErrInvalidTask, *u.MealType)
	}
	if u.Calories != nil && *u.Calories < 0 {
		return fmt.Errorf("%w: negative calories", ErrInvalidTask)
	}
	if u.MealDate != nil && *u.MealDate != "" {
		if _, err := time.Parse(DateLayout, *u.MealDate); err != nil {
			return fmt.Errorf("%w: bad meal date %q", ErrInvalidTask, *u.MealDate)
		}
	}
	return nil
}
