package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/jmigdelacruz/dlcmeals/domain"
)

// Publisher announces that a user's task set changed.
type Publisher interface {
	Publish(ctx context.Context, userID string) error
}

type backend interface {
	FetchTasks(ctx context.Context, userID string) ([]domain.Task, error)
	CreateTask(ctx context.Context, userID string, t domain.Task) (string, error)
	UpdateTask(ctx context.Context, userID, id string, upd domain.TaskUpdate) error
	DeleteTask(ctx context.Context, userID, id string) error
}

// Cache wraps a Storage instance with Redis-backed caching of task reads.
// The cache owns the change-feed announcement: every mutation evicts the
// user's cached set first and publishes second, so a subscriber woken by the
// publish can never refetch the stale cached set.
type Cache struct {
	base   backend
	redis  *redis.Client
	ttl    time.Duration
	feed   Publisher
	logger *log.Logger
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// Mutations are announced on feed after eviction; a nil feed disables the
// announcements.
func NewCache(base backend, client *redis.Client, ttl time.Duration, feed Publisher, logger *log.Logger) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl, feed: feed, logger: logger}
}

func (c *Cache) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if tasks, ok := c.loadFromCache(ctx, userID); ok {
		return tasks, nil
	}

	tasks, err := c.base.FetchTasks(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, userID, tasks)
	return tasks, nil
}

func (c *Cache) CreateTask(ctx context.Context, userID string, t domain.Task) (string, error) {
	id, err := c.base.CreateTask(ctx, userID, t)
	if err != nil {
		return "", err
	}
	c.evict(ctx, userID)
	c.publish(ctx, userID)
	return id, nil
}

func (c *Cache) UpdateTask(ctx context.Context, userID, id string, upd domain.TaskUpdate) error {
	if err := c.base.UpdateTask(ctx, userID, id, upd); err != nil {
		return err
	}
	c.evict(ctx, userID)
	c.publish(ctx, userID)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, userID, id string) error {
	if err := c.base.DeleteTask(ctx, userID, id); err != nil {
		return err
	}
	c.evict(ctx, userID)
	c.publish(ctx, userID)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context, userID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) store(ctx context.Context, userID string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(userID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, tasksCacheKey(userID)).Result()
}

func (c *Cache) publish(ctx context.Context, userID string) {
	if c.feed == nil {
		return
	}
	if err := c.feed.Publish(ctx, userID); err != nil && c.logger != nil {
		c.logger.Errorf("publish task change for %s: %v", userID, err)
	}
}

func tasksCacheKey(userID string) string {
	return "tasks:" + userID
}
