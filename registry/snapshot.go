package registry

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ruteri/sidechain-registry/access"
	"github.com/ruteri/sidechain-registry/codec"
	"github.com/ruteri/sidechain-registry/interfaces"
	"github.com/ruteri/sidechain-registry/notifications"
)

// SnapshotVersion is the current snapshot format.
const SnapshotVersion = 1

// PermissionRecord is a single non-zero permission grant.
type PermissionRecord struct {
	Identity interfaces.Identity    `cbor:"1,keyasint" json:"identity"`
	Bits     interfaces.Permissions `cbor:"2,keyasint" json:"bits"`
}

// Snapshot is a complete, self-consistent copy of a registry.
type Snapshot struct {
	Version       uint8                        `cbor:"1,keyasint" json:"version"`
	Owner         interfaces.Identity          `cbor:"2,keyasint" json:"owner"`
	ChangeAgents  []interfaces.Identity        `cbor:"3,keyasint" json:"change_agents"`
	Permissions   []PermissionRecord           `cbor:"4,keyasint" json:"permissions"`
	Sidechains    []interfaces.SidechainRecord `cbor:"5,keyasint" json:"sidechains"`
	Notifications []interfaces.Notification    `cbor:"6,keyasint" json:"notifications"`
}

// Snapshot exports the registry state. Mutations are blocked while it is taken.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state := r.access.Export()
	permissions := make([]PermissionRecord, 0, len(state.Permissions))
	for id, bits := range state.Permissions {
		permissions = append(permissions, PermissionRecord{Identity: id, Bits: bits})
	}
	sort.Slice(permissions, func(i, j int) bool {
		return bytes.Compare(permissions[i].Identity[:], permissions[j].Identity[:]) < 0
	})

	return &Snapshot{
		Version:       SnapshotVersion,
		Owner:         state.Owner,
		ChangeAgents:  state.ChangeAgents,
		Permissions:   permissions,
		Sidechains:    r.recordsLocked(),
		Notifications: r.notifications.Export(),
	}
}

// Validate checks the snapshot against the registry invariants.
func (s *Snapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", interfaces.ErrInvalidSnapshot, s.Version)
	}
	if s.Owner.IsZero() {
		return fmt.Errorf("%w: zero owner", interfaces.ErrInvalidSnapshot)
	}

	seen := make(map[interfaces.Identity]bool, len(s.Sidechains))
	for _, record := range s.Sidechains {
		if record.Sidechain.IsZero() {
			return fmt.Errorf("%w: zero sidechain", interfaces.ErrInvalidSnapshot)
		}
		if !record.Active || record.MarketplaceID == 0 {
			return fmt.Errorf("%w: sidechain %s is not active with a marketplace", interfaces.ErrInvalidSnapshot, record.Sidechain)
		}
		if seen[record.Sidechain] {
			return fmt.Errorf("%w: duplicate sidechain %s", interfaces.ErrInvalidSnapshot, record.Sidechain)
		}
		seen[record.Sidechain] = true
	}

	granted := make(map[interfaces.Identity]bool, len(s.Permissions))
	for _, p := range s.Permissions {
		if granted[p.Identity] {
			return fmt.Errorf("%w: duplicate permissions for %s", interfaces.ErrInvalidSnapshot, p.Identity)
		}
		granted[p.Identity] = true
	}
	return nil
}

// Restore rebuilds a registry from a snapshot.
func Restore(s *Snapshot, log *slog.Logger, opts ...Option) (*Registry, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil snapshot", interfaces.ErrInvalidSnapshot)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	o := buildOptions(opts)

	permissions := make(map[interfaces.Identity]interfaces.Permissions, len(s.Permissions))
	for _, p := range s.Permissions {
		permissions[p.Identity] = p.Bits
	}
	controller, err := access.RestoreController(access.State{
		Owner:        s.Owner,
		ChangeAgents: s.ChangeAgents,
		Permissions:  permissions,
	}, log.With("component", "access"))
	if err != nil {
		return nil, err
	}

	notificationLog, err := notifications.RestoreLog(s.Notifications, log.With("component", "notifications"), notifications.WithClock(o.now))
	if err != nil {
		return nil, err
	}

	entries := make(map[interfaces.Identity]interfaces.SidechainEntry, len(s.Sidechains))
	for _, record := range s.Sidechains {
		entries[record.Sidechain] = interfaces.SidechainEntry{MarketplaceID: record.MarketplaceID, Active: true}
	}

	return &Registry{
		access:        controller,
		entries:       entries,
		notifications: notificationLog,
		log:           log,
	}, nil
}

// EncodeSnapshot serializes a snapshot with the deterministic CBOR codec.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	return codec.Marshal(s)
}

// DecodeSnapshot parses and validates an encoded snapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := codec.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidSnapshot, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Checkpointer stores registry snapshots in a content-addressed storage backend.
type Checkpointer struct {
	backend interfaces.StorageBackend
	log     *slog.Logger
}

// NewCheckpointer creates a checkpointer writing to backend.
func NewCheckpointer(backend interfaces.StorageBackend, log *slog.Logger) *Checkpointer {
	if log == nil {
		log = slog.Default()
	}
	return &Checkpointer{backend: backend, log: log}
}

// Checkpoint stores a snapshot of r and returns its content id.
func (c *Checkpointer) Checkpoint(ctx context.Context, r *Registry) (interfaces.ContentID, error) {
	start := time.Now()
	snapshot := r.Snapshot()

	data, err := EncodeSnapshot(snapshot)
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("could not encode snapshot: %w", err)
	}

	id, err := c.backend.Store(ctx, data, interfaces.SnapshotType)
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("could not store snapshot in %s: %w", c.backend.Name(), err)
	}

	c.log.Info("Registry checkpoint stored",
		slog.String("content_id", id.String()),
		slog.String("backend", c.backend.Name()),
		slog.Int("sidechains", len(snapshot.Sidechains)),
		slog.Int("notifications", len(snapshot.Notifications)),
		slog.Duration("duration", time.Since(start)))
	return id, nil
}

// Load fetches and decodes the snapshot with the given content id.
func (c *Checkpointer) Load(ctx context.Context, id interfaces.ContentID) (*Snapshot, error) {
	data, err := c.backend.Fetch(ctx, id, interfaces.SnapshotType)
	if err != nil {
		return nil, fmt.Errorf("could not fetch snapshot %s: %w", id, err)
	}
	if interfaces.ComputeID(data) != id {
		return nil, fmt.Errorf("%w: content hash mismatch for %s", interfaces.ErrInvalidSnapshot, id)
	}
	return DecodeSnapshot(data)
}
