package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/jmigdelacruz/dlcmeals/domain"
)

type stubBackend struct {
	fetchFn  func(ctx context.Context, userID string) ([]domain.Task, error)
	createFn func(ctx context.Context, userID string, t domain.Task) (string, error)
	updateFn func(ctx context.Context, userID, id string, upd domain.TaskUpdate) error
	deleteFn func(ctx context.Context, userID, id string) error
}

func (s *stubBackend) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if s.fetchFn == nil {
		return nil, errors.New("unexpected FetchTasks call")
	}
	return s.fetchFn(ctx, userID)
}

func (s *stubBackend) CreateTask(ctx context.Context, userID string, t domain.Task) (string, error) {
	if s.createFn == nil {
		return "", errors.New("unexpected CreateTask call")
	}
	return s.createFn(ctx, userID, t)
}

func (s *stubBackend) UpdateTask(ctx context.Context, userID, id string, upd domain.TaskUpdate) error {
	if s.updateFn == nil {
		return errors.New("unexpected UpdateTask call")
	}
	return s.updateFn(ctx, userID, id, upd)
}

func (s *stubBackend) DeleteTask(ctx context.Context, userID, id string) error {
	if s.deleteFn == nil {
		return errors.New("unexpected DeleteTask call")
	}
	return s.deleteFn(ctx, userID, id)
}

func newCacheClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheFetchTasksMissThenHit(t *testing.T) {
	mr, client := newCacheClient(t)

	ctx := context.Background()
	userID := "user-1"
	expected := []domain.Task{{ID: "t1", Title: "Pasta", Status: domain.Monday}}

	var calls int
	cache := NewCache(&stubBackend{
		fetchFn: func(ctx context.Context, uid string) ([]domain.Task, error) {
			calls++
			if uid != userID {
				t.Fatalf("unexpected user id: %s", uid)
			}
			return append([]domain.Task(nil), expected...), nil
		},
	}, client, time.Minute, nil, nil)

	tasks, err := cache.FetchTasks(ctx, userID)
	if err != nil {
		t.Fatalf("fetch tasks: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", calls)
	}
	if ttl := mr.TTL(tasksCacheKey(userID)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.FetchTasks(ctx, userID)
	if err != nil {
		t.Fatalf("fetch cached tasks: %v", err)
	}
	if !reflect.DeepEqual(cached, expected) {
		t.Fatalf("unexpected cached tasks: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", calls)
	}
}

func TestCacheMutationsEvict(t *testing.T) {
	mr, client := newCacheClient(t)
	ctx := context.Background()
	userID := "user-1"

	backend := &stubBackend{
		fetchFn: func(ctx context.Context, uid string) ([]domain.Task, error) {
			return []domain.Task{}, nil
		},
		createFn: func(ctx context.Context, uid string, task domain.Task) (string, error) {
			return "id-1", nil
		},
		updateFn: func(ctx context.Context, uid, id string, upd domain.TaskUpdate) error {
			return nil
		},
		deleteFn: func(ctx context.Context, uid, id string) error {
			return nil
		},
	}
	cache := NewCache(backend, client, time.Minute, nil, nil)

	prime := func() {
		if _, err := cache.FetchTasks(ctx, userID); err != nil {
			t.Fatalf("prime cache: %v", err)
		}
		if !mr.Exists(tasksCacheKey(userID)) {
			t.Fatalf("expected cache key after fetch")
		}
	}

	prime()
	if _, err := cache.CreateTask(ctx, userID, domain.Task{Title: "x", Status: domain.Monday}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if mr.Exists(tasksCacheKey(userID)) {
		t.Fatalf("create must evict the cached set")
	}

	prime()
	title := "y"
	if err := cache.UpdateTask(ctx, userID, "id-1", domain.TaskUpdate{Title: &title}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if mr.Exists(tasksCacheKey(userID)) {
		t.Fatalf("update must evict the cached set")
	}

	prime()
	if err := cache.DeleteTask(ctx, userID, "id-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists(tasksCacheKey(userID)) {
		t.Fatalf("delete must evict the cached set")
	}
}

func TestCacheFailedMutationKeepsCache(t *testing.T) {
	mr, client := newCacheClient(t)
	ctx := context.Background()
	userID := "user-1"

	backend := &stubBackend{
		fetchFn: func(ctx context.Context, uid string) ([]domain.Task, error) {
			return []domain.Task{}, nil
		},
		deleteFn: func(ctx context.Context, uid, id string) error {
			return errors.New("storage down")
		},
	}
	cache := NewCache(backend, client, time.Minute, nil, nil)

	if _, err := cache.FetchTasks(ctx, userID); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if err := cache.DeleteTask(ctx, userID, "id-1"); err == nil {
		t.Fatalf("expected delete failure")
	}
	if !mr.Exists(tasksCacheKey(userID)) {
		t.Fatalf("failed mutation must not evict")
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	mr, client := newCacheClient(t)
	ctx := context.Background()
	userID := "user-1"

	mr.Set(tasksCacheKey(userID), "{not json")
	var calls int
	cache := NewCache(&stubBackend{
		fetchFn: func(ctx context.Context, uid string) ([]domain.Task, error) {
			calls++
			return []domain.Task{{ID: "t1", Title: "A", Status: domain.Monday}}, nil
		},
	}, client, time.Minute, nil, nil)

	tasks, err := cache.FetchTasks(ctx, userID)
	if err != nil {
		t.Fatalf("fetch tasks: %v", err)
	}
	if calls != 1 || len(tasks) != 1 {
		t.Fatalf("expected fallback to backend, calls=%d tasks=%#v", calls, tasks)
	}
}

type capturingFeed struct {
	fn    func(ctx context.Context, userID string) error
	calls int
}

func (f *capturingFeed) Publish(ctx context.Context, userID string) error {
	f.calls++
	if f.fn != nil {
		return f.fn(ctx, userID)
	}
	return nil
}

// A subscriber woken by the publish refetches through this cache. The evict
// must therefore land before the publish, otherwise the wakeup reads the
// stale set and nothing later corrects it.
func TestCacheEvictsBeforePublish(t *testing.T) {
	_, client := newCacheClient(t)
	ctx := context.Background()
	userID := "user-1"

	old := []domain.Task{{ID: "t1", Title: "Old", Status: domain.Monday}}
	fresh := []domain.Task{
		{ID: "t1", Title: "Old", Status: domain.Monday},
		{ID: "t2", Title: "New", Status: domain.Tuesday},
	}
	state := old
	backend := &stubBackend{
		fetchFn: func(ctx context.Context, uid string) ([]domain.Task, error) {
			return append([]domain.Task(nil), state...), nil
		},
		createFn: func(ctx context.Context, uid string, task domain.Task) (string, error) {
			state = fresh
			return "t2", nil
		},
	}

	feed := &capturingFeed{}
	cache := NewCache(backend, client, time.Minute, feed, nil)
	var seen []domain.Task
	feed.fn = func(ctx context.Context, uid string) error {
		tasks, err := cache.FetchTasks(ctx, uid)
		seen = tasks
		return err
	}

	if _, err := cache.FetchTasks(ctx, userID); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if _, err := cache.CreateTask(ctx, userID, domain.Task{Title: "New", Status: domain.Tuesday}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if feed.calls != 1 {
		t.Fatalf("expected one publish per mutation, got %d", feed.calls)
	}
	if !reflect.DeepEqual(seen, fresh) {
		t.Fatalf("refetch at publish time saw the stale set: %#v", seen)
	}
}

func TestCacheFailedMutationDoesNotPublish(t *testing.T) {
	_, client := newCacheClient(t)
	ctx := context.Background()

	backend := &stubBackend{
		deleteFn: func(ctx context.Context, uid, id string) error {
			return errors.New("storage down")
		},
	}
	feed := &capturingFeed{}
	cache := NewCache(backend, client, time.Minute, feed, nil)

	if err := cache.DeleteTask(ctx, "user-1", "id-1"); err == nil {
		t.Fatalf("expected delete failure")
	}
	if feed.calls != 0 {
		t.Fatalf("failed mutation must not announce a change, got %d publishes", feed.calls)
	}
}
