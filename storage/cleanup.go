package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

type cleanupMessage struct {
	URL string `json:"url"`
}

// ImageDeleter removes a stored image by reference.
type ImageDeleter interface {
	Delete(ctx context.Context, ref string) error
}

// CleanupWorker drains the image cleanup queue and deletes the referenced
// blobs. Deletion is best effort: transient failures leave the message on
// the queue for redelivery, malformed references are dropped and logged.
type CleanupWorker struct {
	queue    *azqueue.QueueClient
	images   ImageDeleter
	logger   *log.Logger
	interval time.Duration
}

// NewCleanupWorker creates a worker polling the queue at the given interval.
func NewCleanupWorker(queue *azqueue.QueueClient, images ImageDeleter, interval time.Duration, logger *log.Logger) *CleanupWorker {
	if interval <= 0 {
		interval = time.Second
	}
	return &CleanupWorker{queue: queue, images: images, logger: logger, interval: interval}
}

// Run polls the queue until ctx is cancelled.
func (w *CleanupWorker) Run(ctx context.Context) {
	for {
		drained := w.drainOne(ctx)
		if ctx.Err() != nil {
			return
		}
		if drained {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.interval):
		}
	}
}

// drainOne handles at most one queue message and reports whether it found
// one.
func (w *CleanupWorker) drainOne(ctx context.Context) bool {
	resp, err := w.queue.DequeueMessage(ctx, nil)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Errorf("dequeue image cleanup: %v", err)
		}
		return false
	}
	if len(resp.Messages) == 0 {
		return false
	}
	msg := resp.Messages[0]
	if msg.MessageText == nil || msg.MessageID == nil || msg.PopReceipt == nil {
		return true
	}

	var m cleanupMessage
	if err := json.Unmarshal([]byte(*msg.MessageText), &m); err != nil {
		w.logger.Errorf("bad image cleanup message: %v", err)
		w.deleteMessage(ctx, *msg.MessageID, *msg.PopReceipt)
		return true
	}

	if err := w.images.Delete(ctx, m.URL); err != nil {
		if errors.Is(err, ErrInvalidImageRef) {
			w.logger.Warnf("dropping unparseable image reference %q", m.URL)
			w.deleteMessage(ctx, *msg.MessageID, *msg.PopReceipt)
			return true
		}
		// Leave the message for redelivery after the visibility timeout.
		w.logger.Errorf("delete image %q: %v", m.URL, err)
		return true
	}
	w.deleteMessage(ctx, *msg.MessageID, *msg.PopReceipt)
	return true
}

func (w *CleanupWorker) deleteMessage(ctx context.Context, id, popReceipt string) {
	if _, err := w.queue.DeleteMessage(ctx, id, popReceipt, nil); err != nil {
		w.logger.Errorf("delete cleanup message %s: %v", id, err)
	}
}
