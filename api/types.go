package api

import (
	"github.com/ruteri/sidechain-registry/interfaces"
)

// OwnerResponse is returned by GET /api/v1/owner.
type OwnerResponse struct {
	Owner interfaces.Identity `json:"owner"`
}

// PermissionsResponse is returned by GET and PUT /api/v1/permissions/{address}.
type PermissionsResponse struct {
	Address interfaces.Identity    `json:"address"`
	Bits    interfaces.Permissions `json:"bits"`
}

// SetPermissionRequest is the body of PUT /api/v1/permissions/{address}.
// Bits is a pointer so that a missing field is distinguishable from zero.
type SetPermissionRequest struct {
	Bits *interfaces.Permissions `json:"bits"`
}

// ChangeAgentResponse is returned by GET and PUT /api/v1/change-agents/{address}.
type ChangeAgentResponse struct {
	Address interfaces.Identity `json:"address"`
	Enabled bool                `json:"enabled"`
}

// UpdateChangeAgentRequest is the body of PUT /api/v1/change-agents/{address}.
type UpdateChangeAgentRequest struct {
	Enabled *bool `json:"enabled"`
}

// ChangeAgentsResponse is returned by GET /api/v1/change-agents.
type ChangeAgentsResponse struct {
	ChangeAgents []interfaces.Identity `json:"change_agents"`
}

// SidechainResponse describes a single sidechain. Unknown sidechains are
// reported inactive with marketplace id 0.
type SidechainResponse struct {
	Sidechain     interfaces.Identity      `json:"sidechain"`
	Active        bool                     `json:"active"`
	MarketplaceID interfaces.MarketplaceID `json:"marketplace_id"`
}

// SidechainsResponse is returned by GET /api/v1/sidechains.
type SidechainsResponse struct {
	Sidechains []interfaces.SidechainRecord `json:"sidechains"`
}

// AddSidechainRequest is the body of POST /api/v1/sidechains/{address}.
type AddSidechainRequest struct {
	MarketplaceID interfaces.MarketplaceID `json:"marketplace_id"`
}

// RemoveSidechainResponse is returned by DELETE /api/v1/sidechains/{address}.
// Closed is false when the sidechain was not active.
type RemoveSidechainResponse struct {
	Sidechain interfaces.Identity `json:"sidechain"`
	Closed    bool                `json:"closed"`
}

// NotificationsResponse is returned by GET /api/v1/notifications.
// Next is the value to pass as since to continue paging.
type NotificationsResponse struct {
	Notifications []interfaces.Notification `json:"notifications"`
	Next          uint64                    `json:"next"`
}

// CheckpointResponse is returned by POST /api/admin/checkpoint.
type CheckpointResponse struct {
	ContentID string `json:"content_id"`
}
