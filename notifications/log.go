// Package notifications implements the ordered, append-only log of sidechain
// lifecycle notifications written by the registry and read by external indexers.
package notifications

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/sidechain-registry/interfaces"
)

// DefaultPageLimit bounds Since when the caller passes a non-positive limit.
const DefaultPageLimit = 1000

// Log is an append-only notification log. Sequence numbers start at 1 and
// increase by one per appended notification.
type Log struct {
	mu          sync.RWMutex
	entries     []interfaces.Notification
	subscribers map[uuid.UUID]chan interfaces.Notification
	now         func() time.Time
	log         *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// NewLog creates an empty log.
func NewLog(log *slog.Logger, opts ...Option) *Log {
	if log == nil {
		log = slog.Default()
	}
	l := &Log{
		subscribers: make(map[uuid.UUID]chan interfaces.Notification),
		now:         time.Now,
		log:         log,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RestoreLog rebuilds a log from exported entries. Sequences must start at 1 and be contiguous.
func RestoreLog(entries []interfaces.Notification, log *slog.Logger, opts ...Option) (*Log, error) {
	for i, n := range entries {
		if n.Sequence != uint64(i)+1 {
			return nil, fmt.Errorf("%w: notification %d has sequence %d", interfaces.ErrInvalidSnapshot, i, n.Sequence)
		}
		if n.Kind != interfaces.SideChainOpened && n.Kind != interfaces.SideChainClosed {
			return nil, fmt.Errorf("%w: unknown notification kind %q", interfaces.ErrInvalidSnapshot, n.Kind)
		}
	}

	l := NewLog(log, opts...)
	l.entries = append(l.entries, entries...)
	return l, nil
}

// Append records a notification and fans it out to subscribers.
// Subscribers with a full buffer miss the live copy and must catch up through Since.
func (l *Log) Append(kind interfaces.NotificationKind, sidechain interfaces.Identity, marketplaceID interfaces.MarketplaceID) interfaces.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := interfaces.Notification{
		Sequence:      uint64(len(l.entries)) + 1,
		Kind:          kind,
		Sidechain:     sidechain,
		MarketplaceID: marketplaceID,
		Time:          l.now().UTC(),
	}
	l.entries = append(l.entries, n)

	for id, ch := range l.subscribers {
		select {
		case ch <- n:
		default:
			l.log.Warn("Subscriber lagging, dropping live notification",
				"subscription", id.String(),
				"sequence", n.Sequence)
		}
	}

	return n
}

// Since returns up to limit notifications with sequence strictly greater than since.
func (l *Log) Since(since uint64, limit int) []interfaces.Notification {
	if limit <= 0 || limit > DefaultPageLimit {
		limit = DefaultPageLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if since >= uint64(len(l.entries)) {
		return []interfaces.Notification{}
	}

	end := since + uint64(limit)
	if end > uint64(len(l.entries)) {
		end = uint64(len(l.entries))
	}

	page := make([]interfaces.Notification, end-since)
	copy(page, l.entries[since:end])
	return page
}

// Head returns the sequence of the last appended notification, zero when empty.
func (l *Log) Head() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.entries))
}

// Export returns a copy of every notification.
func (l *Log) Export() []interfaces.Notification {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]interfaces.Notification, len(l.entries))
	copy(entries, l.entries)
	return entries
}

// Subscribe registers a live subscriber with the given buffer size.
func (l *Log) Subscribe(buffer int) (uuid.UUID, <-chan interfaces.Notification) {
	if buffer < 1 {
		buffer = 1
	}
	id := uuid.New()
	ch := make(chan interfaces.Notification, buffer)

	l.mu.Lock()
	l.subscribers[id] = ch
	l.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (l *Log) Unsubscribe(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ch, ok := l.subscribers[id]; ok {
		delete(l.subscribers, id)
		close(ch)
	}
}
