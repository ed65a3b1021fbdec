// Package access implements the owner / change-agent / permission-bitmask
// authorization layer that gates mutation of the sidechain registry.
package access

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ruteri/sidechain-registry/interfaces"
)

// Controller holds the owner identity, the change-agent set and the permission map.
// It is safe for concurrent use; mutations are serialized.
type Controller struct {
	mu           sync.RWMutex
	owner        interfaces.Identity
	changeAgents map[interfaces.Identity]bool
	permissions  map[interfaces.Identity]interfaces.Permissions
	log          *slog.Logger
}

// NewController creates a controller owned by owner. The owner starts as the sole
// change agent with DefaultOwnerPermissions.
func NewController(owner interfaces.Identity, log *slog.Logger) (*Controller, error) {
	if owner.IsZero() {
		return nil, fmt.Errorf("owner: %w", interfaces.ErrInvalidIdentity)
	}
	if log == nil {
		log = slog.Default()
	}

	return &Controller{
		owner:        owner,
		changeAgents: map[interfaces.Identity]bool{owner: true},
		permissions:  map[interfaces.Identity]interfaces.Permissions{owner: interfaces.DefaultOwnerPermissions},
		log:          log,
	}, nil
}

// State is a copy of the controller contents, used for snapshots.
type State struct {
	Owner        interfaces.Identity
	ChangeAgents []interfaces.Identity
	Permissions  map[interfaces.Identity]interfaces.Permissions
}

// RestoreController rebuilds a controller from a previously exported State.
// The owner is not implicitly re-granted anything: the state is taken as is.
func RestoreController(state State, log *slog.Logger) (*Controller, error) {
	if state.Owner.IsZero() {
		return nil, fmt.Errorf("%w: zero owner", interfaces.ErrInvalidSnapshot)
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Controller{
		owner:        state.Owner,
		changeAgents: make(map[interfaces.Identity]bool, len(state.ChangeAgents)),
		permissions:  make(map[interfaces.Identity]interfaces.Permissions, len(state.Permissions)),
		log:          log,
	}
	for _, agent := range state.ChangeAgents {
		if agent.IsZero() {
			return nil, fmt.Errorf("%w: zero change agent", interfaces.ErrInvalidSnapshot)
		}
		c.changeAgents[agent] = true
	}
	for id, bits := range state.Permissions {
		if id.IsZero() {
			return nil, fmt.Errorf("%w: permissions for zero identity", interfaces.ErrInvalidSnapshot)
		}
		if bits != 0 {
			c.permissions[id] = bits
		}
	}
	return c, nil
}

// Export returns a deep copy of the controller state.
func (c *Controller) Export() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	permissions := make(map[interfaces.Identity]interfaces.Permissions, len(c.permissions))
	for id, bits := range c.permissions {
		permissions[id] = bits
	}
	return State{
		Owner:        c.owner,
		ChangeAgents: c.changeAgentsLocked(),
		Permissions:  permissions,
	}
}

// Owner returns the identity fixed at construction.
func (c *Controller) Owner() interfaces.Identity {
	return c.owner
}

// SetPermission overwrites the permission bitmask of target.
// Only the owner may call it and target must not be the zero identity.
func (c *Controller) SetPermission(caller, target interfaces.Identity, bits interfaces.Permissions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOwner(caller, target); err != nil {
		c.log.Debug("setPermission rejected", "caller", caller, "target", target, "err", err)
		return err
	}

	if bits == 0 {
		delete(c.permissions, target)
	} else {
		c.permissions[target] = bits
	}

	c.log.Info("Permission set", "target", target, "bits", uint64(bits))
	return nil
}

// UpdateChangeAgent adds or removes target from the change-agent set.
// Only the owner may call it and target must not be the zero identity.
func (c *Controller) UpdateChangeAgent(caller, target interfaces.Identity, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOwner(caller, target); err != nil {
		c.log.Debug("updateChangeAgent rejected", "caller", caller, "target", target, "err", err)
		return err
	}

	if enabled {
		c.changeAgents[target] = true
	} else {
		delete(c.changeAgents, target)
	}

	c.log.Info("Change agent updated", "target", target, "enabled", enabled)
	return nil
}

// IsChangeAgent reports change-agent membership.
func (c *Controller) IsChangeAgent(id interfaces.Identity) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changeAgents[id]
}

// PermissionsOf returns the bitmask of id, zero when none was set.
func (c *Controller) PermissionsOf(id interfaces.Identity) interfaces.Permissions {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bits, ok := c.permissions[id]
	if !ok {
		return 0
	}
	return bits
}

// ChangeAgents lists the change agents ordered by address.
func (c *Controller) ChangeAgents() []interfaces.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changeAgentsLocked()
}

// AuthorizeChangeAgent returns ErrUnauthorized unless caller is a change agent.
func (c *Controller) AuthorizeChangeAgent(caller interfaces.Identity) error {
	if !c.IsChangeAgent(caller) {
		return fmt.Errorf("%w: %s is not a change agent", interfaces.ErrUnauthorized, caller)
	}
	return nil
}

// AuthorizeOwner returns ErrUnauthorized unless caller is the owner.
func (c *Controller) AuthorizeOwner(caller interfaces.Identity) error {
	if caller != c.owner {
		return fmt.Errorf("%w: %s is not the owner", interfaces.ErrUnauthorized, caller)
	}
	return nil
}

func (c *Controller) checkOwner(caller, target interfaces.Identity) error {
	if err := c.AuthorizeOwner(caller); err != nil {
		return err
	}
	if target.IsZero() {
		return fmt.Errorf("target: %w", interfaces.ErrInvalidIdentity)
	}
	return nil
}

func (c *Controller) changeAgentsLocked() []interfaces.Identity {
	agents := make([]interfaces.Identity, 0, len(c.changeAgents))
	for id := range c.changeAgents {
		agents = append(agents, id)
	}
	sort.Slice(agents, func(i, j int) bool {
		return bytes.Compare(agents[i][:], agents[j][:]) < 0
	})
	return agents
}
