package board

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jmigdelacruz/dlcmeals/domain"
)

// TaskStore abstracts the document collection holding tasks.
type TaskStore interface {
	FetchTasks(ctx context.Context, userID string) ([]domain.Task, error)
	CreateTask(ctx context.Context, userID string, t domain.Task) (string, error)
	UpdateTask(ctx context.Context, userID, id string, upd domain.TaskUpdate) error
	DeleteTask(ctx context.Context, userID, id string) error
}

// Subscriber delivers change notifications for a user's task set. The
// returned handle tears the subscription down; it must be safe to call once.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string, onChange func(), onError func(error)) (func(), error)
}

// Board is the per-user view model: it owns the live subscription, the
// in-memory task set, the week cursor, the active view and the editor
// selection. The store is the source of truth; every change notification
// triggers a full refetch and a full replacement of the local set.
type Board struct {
	store  TaskStore
	feed   Subscriber
	userID string
	logger *log.Logger

	mu         sync.Mutex
	tasks      []domain.Task
	weekStart  time.Time
	activeView string
	selected   *domain.Task
	editorOpen bool

	watchers map[chan struct{}]struct{}

	unsubscribe func()
	closeOnce   sync.Once
}

// New creates a board for userID with the cursor on the current week.
func New(store TaskStore, feed Subscriber, userID, defaultView string, logger *log.Logger) *Board {
	return &Board{
		store:      store,
		feed:       feed,
		userID:     userID,
		logger:     logger,
		weekStart:  domain.WeekStart(time.Now()),
		activeView: defaultView,
		watchers:   make(map[chan struct{}]struct{}),
	}
}

// Watch registers for a wakeup whenever a snapshot replaces the task set.
// The returned cancel must be called when the watcher goes away.
func (b *Board) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.watchers[ch] = struct{}{}
	b.mu.Unlock()
	cancel := func() {
		b.mu.Lock()
		delete(b.watchers, ch)
		b.mu.Unlock()
	}
	return ch, cancel
}

// Start loads the initial snapshot and acquires the live subscription. The
// subscription is owned exclusively by this board until Close releases it.
func (b *Board) Start(ctx context.Context) error {
	tasks, err := b.store.FetchTasks(ctx, b.userID)
	if err != nil {
		return err
	}
	b.applySnapshot(tasks)

	unsubscribe, err := b.feed.Subscribe(ctx, b.userID,
		func() { b.refresh(ctx) },
		func(err error) {
			b.logger.WithField("user", b.userID).Errorf("task subscription: %v", err)
		},
	)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.unsubscribe = unsubscribe
	b.mu.Unlock()
	return nil
}

// Close releases the subscription exactly once. Safe to call repeatedly.
func (b *Board) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		unsubscribe := b.unsubscribe
		b.unsubscribe = nil
		b.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
	})
}

func (b *Board) refresh(ctx context.Context) {
	tasks, err := b.store.FetchTasks(ctx, b.userID)
	if err != nil {
		b.logger.WithField("user", b.userID).Errorf("refresh tasks: %v", err)
		return
	}
	b.applySnapshot(tasks)
}

// applySnapshot replaces the local task set wholesale. Optimistic edits are
// provisional and any arriving snapshot invalidates them.
func (b *Board) applySnapshot(tasks []domain.Task) {
	b.mu.Lock()
	b.tasks = append([]domain.Task{}, tasks...)
	for ch := range b.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

// Tasks returns a copy of the current task set, ignoring the week window.
func (b *Board) Tasks() []domain.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Task{}, b.tasks...)
}

// WeekStart returns the current window cursor.
func (b *Board) WeekStart() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.weekStart
}

// AdvanceWeek moves the cursor forward by exactly seven days. No I/O.
func (b *Board) AdvanceWeek() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.weekStart = domain.NextWeek(b.weekStart)
	return b.weekStart
}

// RetreatWeek moves the cursor back by exactly seven days. No I/O.
func (b *Board) RetreatWeek() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.weekStart = domain.PrevWeek(b.weekStart)
	return b.weekStart
}

// SetWeekStart pins the cursor to the week containing t.
func (b *Board) SetWeekStart(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.weekStart = domain.WeekStart(t)
}

// ActiveView returns the current board partition.
func (b *Board) ActiveView() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeView
}

// SetActiveView switches the board partition. Purely a client-side
// re-filter of the already-subscribed set; no fetch happens.
func (b *Board) SetActiveView(view string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeView = view
}

// TasksFor returns the visible column for the given weekday under the
// current window and view.
func (b *Board) TasksFor(weekday string) []domain.Task {
	b.mu.Lock()
	tasks := append([]domain.Task{}, b.tasks...)
	start := b.weekStart
	view := b.activeView
	b.mu.Unlock()
	return domain.TasksFor(domain.FilterView(tasks, view), start, weekday)
}

// Buckets returns every visible column keyed by weekday.
func (b *Board) Buckets() map[string][]domain.Task {
	b.mu.Lock()
	tasks := append([]domain.Task{}, b.tasks...)
	start := b.weekStart
	view := b.activeView
	b.mu.Unlock()
	return domain.Buckets(domain.FilterView(tasks, view), start)
}

// OpenEditor opens the modal. A nil task means create mode with an empty
// selection; otherwise the task's current data is selected for editing.
func (b *Board) OpenEditor(t *domain.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.editorOpen = true
	if t == nil {
		b.selected = nil
		return
	}
	copied := *t
	b.selected = &copied
}

// CloseEditor hides the modal and clears the selection. It does not cancel
// an in-flight save; once issued the request completes on its own.
func (b *Board) CloseEditor() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.editorOpen = false
	b.selected = nil
}

// EditorOpen reports whether the modal is visible.
func (b *Board) EditorOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.editorOpen
}

// Selected returns a copy of the task selected in the editor, or nil in
// create mode.
func (b *Board) Selected() *domain.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.selected == nil {
		return nil
	}
	copied := *b.selected
	return &copied
}

// SaveTask routes an editor submit: a draft without an id becomes a create,
// anything else an update carrying only the fields that changed. On failure
// the editor stays open so the user can retry; on success it closes without
// waiting for the next snapshot.
func (b *Board) SaveTask(ctx context.Context, input domain.Task) (string, error) {
	if err := input.Validate(); err != nil {
		return "", err
	}
	if input.ID == "" {
		id, err := b.store.CreateTask(ctx, b.userID, input)
		if err != nil {
			return "", err
		}
		b.CloseEditor()
		return id, nil
	}

	upd := b.diff(input)
	if upd.IsZero() {
		b.CloseEditor()
		return input.ID, nil
	}
	if err := b.store.UpdateTask(ctx, b.userID, input.ID, upd); err != nil {
		return "", err
	}
	b.CloseEditor()
	return input.ID, nil
}

// diff computes the partial update between the in-memory copy of the task
// and the edited draft. Unknown ids fall back to a full-field update.
func (b *Board) diff(input domain.Task) domain.TaskUpdate {
	b.mu.Lock()
	var current *domain.Task
	for i := range b.tasks {
		if b.tasks[i].ID == input.ID {
			current = &b.tasks[i]
			break
		}
	}
	var base domain.Task
	if current != nil {
		base = *current
	}
	b.mu.Unlock()

	upd := domain.TaskUpdate{}
	if current == nil || base.Title != input.Title {
		v := input.Title
		upd.Title = &v
	}
	if current == nil || base.Notes != input.Notes {
		v := input.Notes
		upd.Notes = &v
	}
	if current == nil || base.Status != input.Status {
		v := input.Status
		upd.Status = &v
	}
	if current == nil || base.MealType != input.MealType {
		v := input.MealType
		upd.MealType = &v
	}
	if current == nil || base.Calories != input.Calories {
		v := input.Calories
		upd.Calories = &v
	}
	if current == nil || base.MealDate != input.MealDate {
		v := input.MealDate
		upd.MealDate = &v
	}
	if current == nil || base.View != input.View {
		v := input.View
		upd.View = &v
	}
	if current == nil || !imagesEqual(base.Images, input.Images) {
		v := append([]domain.Image{}, input.Images...)
		upd.Images = &v
	}
	return upd
}

func imagesEqual(a, b []domain.Image) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// UpdateTask applies a partial update to an existing task.
func (b *Board) UpdateTask(ctx context.Context, id string, upd domain.TaskUpdate) error {
	return b.store.UpdateTask(ctx, b.userID, id, upd)
}

// DeleteTask issues exactly one delete and removes the task from the local
// set immediately so the UI never waits on the round trip. If the delete
// fails the error is surfaced and the next snapshot restores the task.
func (b *Board) DeleteTask(ctx context.Context, id string) error {
	b.mu.Lock()
	kept := b.tasks[:0:0]
	for _, t := range b.tasks {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	b.tasks = kept
	if b.selected != nil && b.selected.ID == id {
		b.selected = nil
		b.editorOpen = false
	}
	b.mu.Unlock()

	return b.store.DeleteTask(ctx, b.userID, id)
}

// MoveTask persists a drag-and-drop. The local set is left untouched; only
// the subscription's next snapshot reflects the move, keeping snapshot and
// optimistic-delete the only two writers of the task array.
func (b *Board) MoveTask(ctx context.Context, mv Move) error {
	b.mu.Lock()
	tasks := append([]domain.Task{}, b.tasks...)
	start := b.weekStart
	view := b.activeView
	b.mu.Unlock()

	updates, err := PlanMove(tasks, mv, start, view)
	if err != nil {
		return err
	}
	for _, u := range updates {
		if err := b.store.UpdateTask(ctx, b.userID, u.ID, u.Fields); err != nil {
			return err
		}
	}
	return nil
}
