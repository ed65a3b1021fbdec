package registry

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ruteri/sidechain-registry/access"
	"github.com/ruteri/sidechain-registry/interfaces"
	"github.com/ruteri/sidechain-registry/notifications"
)

var _ interfaces.SidechainRegistry = (*Registry)(nil)

// Registry implements interfaces.SidechainRegistry.
type Registry struct {
	mu            sync.RWMutex
	access        *access.Controller
	entries       map[interfaces.Identity]interfaces.SidechainEntry
	notifications *notifications.Log
	log           *slog.Logger
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used to timestamp notifications.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New creates an empty registry owned by owner.
func New(owner interfaces.Identity, log *slog.Logger, opts ...Option) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	o := buildOptions(opts)

	controller, err := access.NewController(owner, log.With("component", "access"))
	if err != nil {
		return nil, err
	}

	return &Registry{
		access:        controller,
		entries:       make(map[interfaces.Identity]interfaces.SidechainEntry),
		notifications: notifications.NewLog(log.With("component", "notifications"), notifications.WithClock(o.now)),
		log:           log,
	}, nil
}

// NotificationLog returns the underlying notification log, e.g. to subscribe.
func (r *Registry) NotificationLog() *notifications.Log {
	return r.notifications
}

// Owner returns the registry owner.
func (r *Registry) Owner() interfaces.Identity {
	return r.access.Owner()
}

// SetPermission overwrites the permission bitmask of target. Owner only.
func (r *Registry) SetPermission(caller, target interfaces.Identity, bits interfaces.Permissions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.access.SetPermission(caller, target, bits)
}

// UpdateChangeAgent grants or revokes change-agent status. Owner only.
func (r *Registry) UpdateChangeAgent(caller, target interfaces.Identity, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.access.UpdateChangeAgent(caller, target, enabled)
}

// IsChangeAgent reports change-agent membership.
func (r *Registry) IsChangeAgent(id interfaces.Identity) bool {
	return r.access.IsChangeAgent(id)
}

// PermissionsOf returns the permission bitmask of id.
func (r *Registry) PermissionsOf(id interfaces.Identity) interfaces.Permissions {
	return r.access.PermissionsOf(id)
}

// ChangeAgents lists change agents ordered by address.
func (r *Registry) ChangeAgents() []interfaces.Identity {
	return r.access.ChangeAgents()
}

// AddSidechain activates sidechain under marketplaceID.
//
// Checks run in order and the first failing one is returned: the caller must be
// a change agent, sidechain must not be zero, marketplaceID must not be zero and
// the sidechain must not already be active.
func (r *Registry) AddSidechain(caller, sidechain interfaces.Identity, marketplaceID interfaces.MarketplaceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.validateAdd(caller, sidechain, marketplaceID); err != nil {
		r.log.Debug("addSidechain rejected",
			"caller", caller,
			"sidechain", sidechain,
			"marketplaceId", uint64(marketplaceID),
			"err", err)
		return err
	}

	r.entries[sidechain] = interfaces.SidechainEntry{MarketplaceID: marketplaceID, Active: true}
	n := r.notifications.Append(interfaces.SideChainOpened, sidechain, marketplaceID)

	r.log.Info("Sidechain opened",
		"caller", caller,
		"sidechain", sidechain,
		"marketplaceId", uint64(marketplaceID),
		"sequence", n.Sequence)
	return nil
}

func (r *Registry) validateAdd(caller, sidechain interfaces.Identity, marketplaceID interfaces.MarketplaceID) error {
	if err := r.access.AuthorizeChangeAgent(caller); err != nil {
		return err
	}
	if sidechain.IsZero() {
		return fmt.Errorf("sidechain: %w", interfaces.ErrInvalidIdentity)
	}
	if marketplaceID == 0 {
		return fmt.Errorf("%w: marketplace id must be positive", interfaces.ErrInvalidArgument)
	}
	if r.entryOf(sidechain).Active {
		return fmt.Errorf("%w: %s", interfaces.ErrAlreadyActive, sidechain)
	}
	return nil
}

// RemoveSidechain deactivates sidechain. The caller must be a change agent and
// sidechain must not be zero. Removing a sidechain that is not active succeeds
// with closed == false and appends no notification.
func (r *Registry) RemoveSidechain(caller, sidechain interfaces.Identity) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.access.AuthorizeChangeAgent(caller); err != nil {
		r.log.Debug("removeSidechain rejected", "caller", caller, "sidechain", sidechain, "err", err)
		return false, err
	}
	if sidechain.IsZero() {
		err := fmt.Errorf("sidechain: %w", interfaces.ErrInvalidIdentity)
		r.log.Debug("removeSidechain rejected", "caller", caller, "sidechain", sidechain, "err", err)
		return false, err
	}

	previous := r.entryOf(sidechain)
	delete(r.entries, sidechain)
	if !previous.Active {
		r.log.Debug("removeSidechain on inactive sidechain", "caller", caller, "sidechain", sidechain)
		return false, nil
	}

	n := r.notifications.Append(interfaces.SideChainClosed, sidechain, previous.MarketplaceID)

	r.log.Info("Sidechain closed",
		"caller", caller,
		"sidechain", sidechain,
		"marketplaceId", uint64(previous.MarketplaceID),
		"sequence", n.Sequence)
	return true, nil
}

// StatusOf reports whether sidechain is active.
func (r *Registry) StatusOf(sidechain interfaces.Identity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entryOf(sidechain).Active
}

// MarketplaceIDOf returns the marketplace sidechain is bound to, zero if not active.
func (r *Registry) MarketplaceIDOf(sidechain interfaces.Identity) interfaces.MarketplaceID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entryOf(sidechain).MarketplaceID
}

// Sidechains lists active sidechains ordered by address.
func (r *Registry) Sidechains() []interfaces.SidechainRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recordsLocked()
}

// Notifications returns up to limit notifications with sequence greater than since.
func (r *Registry) Notifications(since uint64, limit int) []interfaces.Notification {
	return r.notifications.Since(since, limit)
}

// entryOf returns the entry for sidechain, the zero entry when absent.
func (r *Registry) entryOf(sidechain interfaces.Identity) interfaces.SidechainEntry {
	entry, ok := r.entries[sidechain]
	if !ok {
		return interfaces.SidechainEntry{}
	}
	return entry
}

func (r *Registry) recordsLocked() []interfaces.SidechainRecord {
	records := make([]interfaces.SidechainRecord, 0, len(r.entries))
	for sidechain, entry := range r.entries {
		if !entry.Active {
			continue
		}
		records = append(records, interfaces.SidechainRecord{
			Sidechain:     sidechain,
			MarketplaceID: entry.MarketplaceID,
			Active:        entry.Active,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return bytes.Compare(records[i].Sidechain[:], records[j].Sidechain[:]) < 0
	})
	return records
}
