package registry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/sidechain-registry/codec"
	"github.com/ruteri/sidechain-registry/interfaces"
	"github.com/ruteri/sidechain-registry/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileCheckpointer(t *testing.T) *Checkpointer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend, err := storage.NewFileBackend(t.TempDir(), logger)
	require.NoError(t, err)
	return NewCheckpointer(backend, logger)
}

func TestCheckpointer_Archive(t *testing.T) {
	ctx := context.Background()
	checkpointer := newFileCheckpointer(t)
	r := populatedRegistry(t)

	entries := r.Notifications(1, 0)
	id, err := checkpointer.Archive(ctx, entries)
	require.NoError(t, err)

	archive, err := checkpointer.LoadArchive(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), archive.From)
	assert.Equal(t, uint64(3), archive.To)
	assert.Equal(t, entries, archive.Notifications)

	_, err = checkpointer.Archive(ctx, nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = checkpointer.Archive(ctx, []interfaces.Notification{entries[1], entries[0]})
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = checkpointer.LoadArchive(ctx, interfaces.ComputeID([]byte("nothing")))
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestArchiver(t *testing.T) {
	checkpointer := newFileCheckpointer(t)
	r := newTestRegistry(t)
	require.NoError(t, r.UpdateChangeAgent(owner, agent, true))

	var (
		mu       sync.Mutex
		observed []uint64
	)
	observe := func(n interfaces.Notification) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, n.Sequence)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan struct{})
	archiver := NewArchiver(r, checkpointer, 2, observe, nil)
	go func() {
		archiver.Run(ctx, ready)
		close(done)
	}()
	<-ready

	require.NoError(t, r.AddSidechain(agent, sidechainX, 7))
	require.NoError(t, r.AddSidechain(agent, sidechainY, 9))
	_, err := r.RemoveSidechain(agent, sidechainY)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(observed) == 3
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	assert.Equal(t, []uint64{1, 2, 3}, observed)
	mu.Unlock()

	// The full segment [1,2] was stored while running and [3] on shutdown.
	first, err := checkpointer.LoadArchive(context.Background(), contentIDOf(t, r.Notifications(0, 2)))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.From)
	assert.Equal(t, uint64(2), first.To)

	rest, err := checkpointer.LoadArchive(context.Background(), contentIDOf(t, r.Notifications(2, 0)))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rest.From)
}

func contentIDOf(t *testing.T, entries []interfaces.Notification) interfaces.ContentID {
	t.Helper()
	archive, err := newNotificationArchive(entries)
	require.NoError(t, err)
	data, err := codec.Marshal(archive)
	require.NoError(t, err)
	return interfaces.ComputeID(data)
}

func TestArchiver_ShutdownArchivesUnseenNotifications(t *testing.T) {
	checkpointer := newFileCheckpointer(t)
	r := newTestRegistry(t)
	require.NoError(t, r.UpdateChangeAgent(owner, agent, true))

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan struct{})
	archiver := NewArchiver(r, checkpointer, 10, nil, nil)
	go func() {
		archiver.Run(ctx, ready)
		close(done)
	}()
	<-ready

	require.NoError(t, r.AddSidechain(agent, sidechainX, 7))
	require.NoError(t, r.AddSidechain(agent, sidechainY, 9))
	_, err := r.RemoveSidechain(agent, sidechainY)
	require.NoError(t, err)

	// Cancel without waiting for the archiver to see the notifications.
	cancel()
	<-done

	archive, err := checkpointer.LoadArchive(context.Background(), contentIDOf(t, r.Notifications(0, 0)))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), archive.From)
	assert.Equal(t, uint64(3), archive.To)
}
