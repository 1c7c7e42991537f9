package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Notifier wraps the LISTEN/NOTIFY mechanism in PostgreSQL.  Notify is
// called after a summary is updated; Run listens on the channel and fans
// the session IDs out to SSE subscribers.
type Notifier struct {
	DB      *sql.DB
	DSN     string
	Channel string
	Logger  *zap.Logger

	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

// NewNotifier constructs a new Notifier.  The channel should match the
// POSTGRES_NOTIFY_CHANNEL environment variable.
func NewNotifier(db *sql.DB, dsn, channel string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		DB:      db,
		DSN:     dsn,
		Channel: channel,
		Logger:  logger,
		subs:    make(map[string]map[chan struct{}]struct{}),
	}
}

// Notify sends a notification to the channel with the session ID.
func (n *Notifier) Notify(ctx context.Context, sessionID string) error {
	if _, err := n.DB.ExecContext(ctx, `SELECT pg_notify($1, $2)`, n.Channel, sessionID); err != nil {
		return fmt.Errorf("notify %s: %w", n.Channel, err)
	}
	return nil
}

// Subscribe registers interest in updates for one session.  The returned
// channel receives a value (coalesced) for each update; cancel must be
// called to release it.
func (n *Notifier) Subscribe(sessionID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	if n.subs[sessionID] == nil {
		n.subs[sessionID] = make(map[chan struct{}]struct{})
	}
	n.subs[sessionID][ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs[sessionID], ch)
			if len(n.subs[sessionID]) == 0 {
				delete(n.subs, sessionID)
			}
			n.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish wakes every subscriber of sessionID without blocking.
func (n *Notifier) Publish(sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs[sessionID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Run listens on the channel until ctx is cancelled, publishing every
// received session ID.
func (n *Notifier) Run(ctx context.Context) error {
	listener := pq.NewListener(n.DSN, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.Logger.Warn("notify listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	defer listener.Close()

	if err := listener.Listen(n.Channel); err != nil {
		return fmt.Errorf("listen %s: %w", n.Channel, err)
	}
	n.Logger.Info("listening for summary updates", zap.String("channel", n.Channel))

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case note := <-listener.Notify:
			// nil after a reconnect; updates may have been missed but
			// subscribers re-read on their next event.
			if note != nil {
				n.Publish(note.Extra)
			}
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				n.Logger.Warn("notify listener ping failed", zap.Error(err))
			}
		}
	}
}
