package registry

import (
	"github.com/ruteri/sidechain-registry/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockRegistry mocks the SidechainRegistry interface
type MockRegistry struct {
	mock.Mock
}

// Owner mocks the Owner method
func (m *MockRegistry) Owner() interfaces.Identity {
	args := m.Called()
	return args.Get(0).(interfaces.Identity)
}

// SetPermission mocks the SetPermission method
func (m *MockRegistry) SetPermission(caller, target interfaces.Identity, bits interfaces.Permissions) error {
	args := m.Called(caller, target, bits)
	return args.Error(0)
}

// UpdateChangeAgent mocks the UpdateChangeAgent method
func (m *MockRegistry) UpdateChangeAgent(caller, target interfaces.Identity, enabled bool) error {
	args := m.Called(caller, target, enabled)
	return args.Error(0)
}

// IsChangeAgent mocks the IsChangeAgent method
func (m *MockRegistry) IsChangeAgent(id interfaces.Identity) bool {
	args := m.Called(id)
	return args.Bool(0)
}

// PermissionsOf mocks the PermissionsOf method
func (m *MockRegistry) PermissionsOf(id interfaces.Identity) interfaces.Permissions {
	args := m.Called(id)
	return args.Get(0).(interfaces.Permissions)
}

// AddSidechain mocks the AddSidechain method
func (m *MockRegistry) AddSidechain(caller, sidechain interfaces.Identity, marketplaceID interfaces.MarketplaceID) error {
	args := m.Called(caller, sidechain, marketplaceID)
	return args.Error(0)
}

// RemoveSidechain mocks the RemoveSidechain method
func (m *MockRegistry) RemoveSidechain(caller, sidechain interfaces.Identity) (bool, error) {
	args := m.Called(caller, sidechain)
	return args.Bool(0), args.Error(1)
}

// StatusOf mocks the StatusOf method
func (m *MockRegistry) StatusOf(sidechain interfaces.Identity) bool {
	args := m.Called(sidechain)
	return args.Bool(0)
}

// MarketplaceIDOf mocks the MarketplaceIDOf method
func (m *MockRegistry) MarketplaceIDOf(sidechain interfaces.Identity) interfaces.MarketplaceID {
	args := m.Called(sidechain)
	return args.Get(0).(interfaces.MarketplaceID)
}

// Sidechains mocks the Sidechains method
func (m *MockRegistry) Sidechains() []interfaces.SidechainRecord {
	args := m.Called()
	return args.Get(0).([]interfaces.SidechainRecord)
}

// ChangeAgents mocks the ChangeAgents method
func (m *MockRegistry) ChangeAgents() []interfaces.Identity {
	args := m.Called()
	return args.Get(0).([]interfaces.Identity)
}

// Notifications mocks the Notifications method
func (m *MockRegistry) Notifications(since uint64, limit int) []interfaces.Notification {
	args := m.Called(since, limit)
	return args.Get(0).([]interfaces.Notification)
}
