// Package interfaces defines the core interfaces and types for the sidechain registry.
//
// This package provides the contracts between different components of the system
// without including implementation details, so that the HTTP layer, the storage
// layer and the registry state machine can be tested against mocks.
//
// # Registry Interfaces
//
//   - AccessControl: owner identity, change-agent set and permission bitmasks
//   - SidechainRegistry: the sidechain table composed with an AccessControl
//
// # Storage Interfaces
//
//   - StorageBackend: content-addressed storage for registry snapshots
//   - StorageBackendFactory: creates storage backends from URI strings
//
// # Type Definitions
//
//   - Identity: a 20-byte address; ZeroIdentity is reserved
//   - Permissions: per-identity bitmask, DefaultOwnerPermissions for the owner
//   - MarketplaceID: positive marketplace tag, zero means not registered
//   - Notification: an entry of the append-only lifecycle log
//   - ContentID / ContentType: content addressing for the storage layer
//
// # Error Types
//
// Registry operations return one of:
//
//   - ErrUnauthorized: the caller lacks the required role
//   - ErrInvalidIdentity: the zero identity was supplied
//   - ErrInvalidArgument: e.g. a zero marketplace id
//   - ErrAlreadyActive: the sidechain is already registered
//
// Storage operations return ErrContentNotFound, ErrBackendUnavailable or
// ErrInvalidLocationURI. All errors are wrapped with %w; match them with errors.Is.
package interfaces
