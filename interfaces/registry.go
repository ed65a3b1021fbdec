package interfaces

// AccessControl gates which caller identities may invoke privileged operations.
type AccessControl interface {
	// Owner returns the identity fixed at construction.
	Owner() Identity

	// SetPermission overwrites the permission bitmask of target. Owner only.
	SetPermission(caller, target Identity, bits Permissions) error

	// UpdateChangeAgent adds or removes target from the change-agent set. Owner only.
	UpdateChangeAgent(caller, target Identity, enabled bool) error

	// IsChangeAgent reports change-agent membership, false for unknown identities.
	IsChangeAgent(id Identity) bool

	// PermissionsOf returns the bitmask of id, zero for unknown identities.
	PermissionsOf(id Identity) Permissions
}

// SidechainRegistry tracks sidechains bound to marketplaces.
type SidechainRegistry interface {
	AccessControl

	// AddSidechain activates sidechain under marketplaceID. Change agents only.
	AddSidechain(caller, sidechain Identity, marketplaceID MarketplaceID) error

	// RemoveSidechain deactivates sidechain. Change agents only.
	// closed is false when the sidechain was not active, in which case nothing is logged.
	RemoveSidechain(caller, sidechain Identity) (closed bool, err error)

	// StatusOf reports whether sidechain is active.
	StatusOf(sidechain Identity) bool

	// MarketplaceIDOf returns the marketplace of sidechain, zero if not active.
	MarketplaceIDOf(sidechain Identity) MarketplaceID

	// Sidechains lists active sidechains ordered by address.
	Sidechains() []SidechainRecord

	// ChangeAgents lists change agents ordered by address.
	ChangeAgents() []Identity

	// Notifications returns up to limit notifications with sequence greater than since.
	Notifications(since uint64, limit int) []Notification
}
