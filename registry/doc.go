// Package registry implements the sidechain registry state machine.
//
// A Registry tracks which sidechains are active and the marketplace each one is
// bound to. It composes an access.Controller: sidechain mutations require the
// caller to be a change agent, while permission and change-agent management
// require the owner.
//
// Per sidechain the registry moves between two states:
//
//	UNREGISTERED --AddSidechain--> ACTIVE --RemoveSidechain--> UNREGISTERED
//
// Adding an active sidechain fails with interfaces.ErrAlreadyActive. Removing a
// sidechain that is not active succeeds without logging anything.
//
// # Notifications
//
// Every successful AddSidechain appends exactly one SideChainOpened notification
// and every RemoveSidechain of an active sidechain appends exactly one
// SideChainClosed notification carrying the marketplace id the sidechain had
// before removal. Rejected calls append nothing.
//
// # Concurrency
//
// All mutations of a Registry are serialized by a single writer lock. Reads
// observe the latest committed state. Validation happens before any write, so
// a rejected call leaves the state unchanged.
//
// # Persistence
//
// Snapshot exports the complete state. Restore rebuilds a registry from a
// snapshot after validating it, and Checkpointer stores CBOR encoded snapshots
// in any interfaces.StorageBackend. An Archiver follows the notification log
// and stores it in fixed-size segments next to the snapshots.
//
// # Usage Example
//
//	reg, err := registry.New(owner, logger)
//	if err != nil {
//	    return err
//	}
//
//	if err := reg.UpdateChangeAgent(owner, agent, true); err != nil {
//	    return err
//	}
//
//	if err := reg.AddSidechain(agent, sidechain, 7); err != nil {
//	    return err
//	}
//
//	reg.StatusOf(sidechain)        // true
//	reg.MarketplaceIDOf(sidechain) // 7
package registry
