package board

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Manager hands out at most one live Board per user. Boards are refcounted:
// the first Acquire starts the subscription, the last Release closes it, so
// the live listener can never leak past its holders.
type Manager struct {
	store       TaskStore
	feed        Subscriber
	defaultView string
	logger      *log.Logger

	mu      sync.Mutex
	entries map[string]*entry
	// cursors keeps each user's week cursor and view across board
	// lifetimes, so a REST client's stepped week survives the release of
	// the last holder.
	cursors map[string]cursor
}

type cursor struct {
	weekStart time.Time
	view      string
}

type entry struct {
	board  *Board
	refs   int
	cancel context.CancelFunc

	// ready is closed once Start has finished; startErr is only read after.
	ready    chan struct{}
	startErr error
}

// NewManager creates a Manager backed by the given store and change feed.
func NewManager(store TaskStore, feed Subscriber, defaultView string, logger *log.Logger) *Manager {
	return &Manager{
		store:       store,
		feed:        feed,
		defaultView: defaultView,
		logger:      logger,
		entries:     make(map[string]*entry),
		cursors:     make(map[string]cursor),
	}
}

// Acquire returns the user's board, starting it on first use. The release
// function must be called when the caller is done; calling it more than once
// is harmless.
func (m *Manager) Acquire(ctx context.Context, userID string) (*Board, func(), error) {
	m.mu.Lock()
	e, ok := m.entries[userID]
	if ok {
		e.refs++
		m.mu.Unlock()
		// The first acquirer may still be inside Start; a half-started board
		// must never be handed out.
		<-e.ready
		if e.startErr != nil {
			return nil, nil, e.startErr
		}
		return e.board, m.releaseFunc(userID, e), nil
	}

	// The board outlives the acquiring request, so its subscription runs on
	// its own context tied to the entry's lifetime.
	boardCtx, cancel := context.WithCancel(context.Background())
	b := New(m.store, m.feed, userID, m.defaultView, m.logger)
	if c, ok := m.cursors[userID]; ok {
		b.SetWeekStart(c.weekStart)
		b.SetActiveView(c.view)
	}
	e = &entry{board: b, refs: 1, cancel: cancel, ready: make(chan struct{})}
	m.entries[userID] = e
	m.mu.Unlock()

	if err := b.Start(boardCtx); err != nil {
		m.mu.Lock()
		delete(m.entries, userID)
		m.mu.Unlock()
		cancel()
		e.startErr = err
		close(e.ready)
		return nil, nil, err
	}
	close(e.ready)
	return b, m.releaseFunc(userID, e), nil
}

func (m *Manager) releaseFunc(userID string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			e.refs--
			last := e.refs == 0
			if last {
				delete(m.entries, userID)
				m.cursors[userID] = cursor{
					weekStart: e.board.WeekStart(),
					view:      e.board.ActiveView(),
				}
			}
			m.mu.Unlock()
			if last {
				e.board.Close()
				e.cancel()
			}
		})
	}
}

// Active reports how many boards are currently live. Used by health checks
// and tests.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
