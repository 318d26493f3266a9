package storage

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Feed is the task change feed: every committed mutation publishes the
// affected user to a Redis channel, and subscribers get a wakeup per change.
// Subscribers refetch and fully replace their local set, so a dropped or
// coalesced wakeup only ever delays, never corrupts.
type Feed struct {
	redis   *redis.Client
	channel string
	logger  *log.Logger
}

type changeEvent struct {
	UserID string `json:"userId"`
}

// NewFeed creates a Feed over the given Redis client and channel.
func NewFeed(client *redis.Client, channel string, logger *log.Logger) *Feed {
	return &Feed{redis: client, channel: channel, logger: logger}
}

// Publish announces that userID's task set changed.
func (f *Feed) Publish(ctx context.Context, userID string) error {
	payload, err := json.Marshal(changeEvent{UserID: userID})
	if err != nil {
		return err
	}
	return f.redis.Publish(ctx, f.channel, payload).Err()
}

// Subscribe delivers a wakeup to onChange for every published change that
// concerns userID. Errors on the subscription go to onError; the feed keeps
// listening until the returned handle is called or ctx is cancelled.
func (f *Feed) Subscribe(ctx context.Context, userID string, onChange func(), onError func(error)) (func(), error) {
	sub := f.redis.Subscribe(ctx, f.channel)
	// Fail fast when Redis is unreachable instead of silently never waking.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					if subCtx.Err() == nil {
						f.logger.WithField("user", userID).Warn("change feed channel closed")
						onError(redis.ErrClosed)
					}
					return
				}
				var ev changeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					onError(err)
					continue
				}
				if ev.UserID != userID {
					continue
				}
				onChange()
			}
		}
	}()

	return cancel, nil
}
