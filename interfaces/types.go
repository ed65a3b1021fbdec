// Package interfaces defines the core interfaces and types for the sidechain registry.
// It provides the contract between different components without implementation details.
package interfaces

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is an opaque 20-byte address naming a caller or a sidechain.
type Identity [20]byte

// ZeroIdentity is reserved and never a valid subject or target of registry operations.
var ZeroIdentity Identity

// NewIdentityFromHex parses a 40-character hex address, with or without 0x prefix.
func NewIdentityFromHex(addr string) (Identity, error) {
	clean := strings.TrimSpace(addr)
	if !strings.HasPrefix(clean, "0x") && !strings.HasPrefix(clean, "0X") {
		clean = "0x" + clean
	}
	if !common.IsHexAddress(clean) {
		return Identity{}, fmt.Errorf("invalid address %q: must be 40 hex characters", addr)
	}

	return Identity(common.HexToAddress(clean)), nil
}

// IdentityFromAddress converts a go-ethereum address.
func IdentityFromAddress(addr common.Address) Identity {
	return Identity(addr)
}

// Address returns the go-ethereum representation.
func (id Identity) Address() common.Address {
	return common.Address(id)
}

// String returns the EIP-55 checksummed hex representation.
func (id Identity) String() string {
	return common.Address(id).Hex()
}

// Bytes returns the raw 20-byte address.
func (id Identity) Bytes() []byte {
	return id[:]
}

// IsZero reports whether id is the reserved zero identity.
func (id Identity) IsZero() bool {
	return id == ZeroIdentity
}

// MarshalText implements encoding.TextMarshaler so identities serialize as hex in JSON.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := NewIdentityFromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Permissions is a per-identity bitmask. Zero means no permissions.
type Permissions uint64

// DefaultOwnerPermissions is granted to the owner at construction.
const DefaultOwnerPermissions Permissions = 5

// Has reports whether all bits of mask are set.
func (p Permissions) Has(mask Permissions) bool {
	return p&mask == mask
}

// MarketplaceID tags the marketplace a sidechain is bound to. Zero means not registered.
type MarketplaceID uint64

// SidechainEntry is the state of a single sidechain key.
// Active is true iff MarketplaceID is non-zero.
type SidechainEntry struct {
	MarketplaceID MarketplaceID `json:"marketplace_id" cbor:"1,keyasint"`
	Active        bool          `json:"active" cbor:"2,keyasint"`
}

// SidechainRecord pairs a sidechain address with its entry.
type SidechainRecord struct {
	Sidechain     Identity      `json:"sidechain" cbor:"1,keyasint"`
	MarketplaceID MarketplaceID `json:"marketplace_id" cbor:"2,keyasint"`
	Active        bool          `json:"active" cbor:"3,keyasint"`
}

// NotificationKind names the lifecycle notification emitted by the registry.
type NotificationKind string

const (
	// SideChainOpened is appended on every successful AddSidechain.
	SideChainOpened NotificationKind = "SideChainOpened"
	// SideChainClosed is appended when RemoveSidechain deactivates an active entry.
	SideChainClosed NotificationKind = "SideChainClosed"
)

// Notification is a single entry of the append-only registry log.
type Notification struct {
	Sequence      uint64           `json:"sequence" cbor:"1,keyasint"`
	Kind          NotificationKind `json:"kind" cbor:"2,keyasint"`
	Sidechain     Identity         `json:"sidechain" cbor:"3,keyasint"`
	MarketplaceID MarketplaceID    `json:"marketplace_id" cbor:"4,keyasint"`
	Time          time.Time        `json:"time" cbor:"5,keyasint"`
}
