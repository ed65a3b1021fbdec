package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/sidechain-registry/codec"
	"github.com/ruteri/sidechain-registry/interfaces"
)

// NotificationArchive is a contiguous segment of the notification log.
type NotificationArchive struct {
	From          uint64                    `cbor:"1,keyasint" json:"from"`
	To            uint64                    `cbor:"2,keyasint" json:"to"`
	Notifications []interfaces.Notification `cbor:"3,keyasint" json:"notifications"`
}

func newNotificationArchive(entries []interfaces.Notification) (*NotificationArchive, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty notification segment", interfaces.ErrInvalidArgument)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Sequence <= entries[i-1].Sequence {
			return nil, fmt.Errorf("%w: notification sequences not increasing at %d", interfaces.ErrInvalidArgument, entries[i].Sequence)
		}
	}
	return &NotificationArchive{
		From:          entries[0].Sequence,
		To:            entries[len(entries)-1].Sequence,
		Notifications: entries,
	}, nil
}

// Archive stores a segment of notifications and returns its content id.
func (c *Checkpointer) Archive(ctx context.Context, entries []interfaces.Notification) (interfaces.ContentID, error) {
	archive, err := newNotificationArchive(entries)
	if err != nil {
		return interfaces.ContentID{}, err
	}

	data, err := codec.Marshal(archive)
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("could not encode notification archive: %w", err)
	}

	id, err := c.backend.Store(ctx, data, interfaces.NotificationArchiveType)
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("could not store notification archive in %s: %w", c.backend.Name(), err)
	}

	c.log.Info("Notification archive stored",
		slog.String("content_id", id.String()),
		slog.Uint64("from", archive.From),
		slog.Uint64("to", archive.To))
	return id, nil
}

// LoadArchive fetches the notification segment with the given content id.
func (c *Checkpointer) LoadArchive(ctx context.Context, id interfaces.ContentID) (*NotificationArchive, error) {
	data, err := c.backend.Fetch(ctx, id, interfaces.NotificationArchiveType)
	if err != nil {
		return nil, fmt.Errorf("could not fetch notification archive %s: %w", id, err)
	}
	if interfaces.ComputeID(data) != id {
		return nil, fmt.Errorf("%w: content hash mismatch for %s", interfaces.ErrInvalidSnapshot, id)
	}

	var archive NotificationArchive
	if err := codec.Unmarshal(data, &archive); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidSnapshot, err)
	}
	if _, err := newNotificationArchive(archive.Notifications); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidSnapshot, err)
	}
	return &archive, nil
}

// Archiver follows the notification log of a registry and stores it in
// segments of SegmentSize notifications.
type Archiver struct {
	registry     *Registry
	checkpointer *Checkpointer
	segmentSize  int
	observe      func(interfaces.Notification)
	log          *slog.Logger
}

// NewArchiver creates an archiver. A segmentSize of zero disables archiving,
// in which case Run only reports notifications to observe.
func NewArchiver(r *Registry, c *Checkpointer, segmentSize int, observe func(interfaces.Notification), log *slog.Logger) *Archiver {
	if log == nil {
		log = slog.Default()
	}
	if observe == nil {
		observe = func(interfaces.Notification) {}
	}
	return &Archiver{registry: r, checkpointer: c, segmentSize: segmentSize, observe: observe, log: log}
}

// Run follows the log until ctx is done, then archives everything appended
// so far that is not yet archived. Notifications appended before Run are not
// archived. ready is closed once the subscription is registered.
func (a *Archiver) Run(ctx context.Context, ready chan<- struct{}) {
	log := a.registry.NotificationLog()
	cursor := log.Head()
	id, wake := log.Subscribe(64)
	defer log.Unsubscribe(id)
	if ready != nil {
		close(ready)
	}

	var pending []interfaces.Notification
	// The live copy may be dropped for a slow subscriber, so read through Since.
	catchUp := func() {
		for page := log.Since(cursor, 0); len(page) > 0; page = log.Since(cursor, 0) {
			for _, n := range page {
				a.observe(n)
				cursor = n.Sequence
				if a.segmentSize > 0 && a.checkpointer != nil {
					pending = append(pending, n)
				}
			}
		}
	}
	flushFull := func(ctx context.Context) {
		for a.segmentSize > 0 && len(pending) >= a.segmentSize {
			if !a.flush(ctx, pending[:a.segmentSize]) {
				return
			}
			pending = pending[a.segmentSize:]
		}
	}

	for {
		select {
		case <-wake:
			catchUp()
			flushFull(ctx)
		case <-ctx.Done():
			final := context.WithoutCancel(ctx)
			catchUp()
			flushFull(final)
			if len(pending) > 0 {
				a.flush(final, pending)
			}
			return
		}
	}
}

func (a *Archiver) flush(ctx context.Context, segment []interfaces.Notification) bool {
	if _, err := a.checkpointer.Archive(ctx, segment); err != nil {
		a.log.Error("Failed to archive notifications", "err", err, "from", segment[0].Sequence)
		return false
	}
	return true
}
