package interfaces

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdentityFromHex(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "with prefix", input: "0x0123456789abcdef0123456789abcdef01234567"},
		{name: "without prefix", input: "0123456789abcdef0123456789abcdef01234567"},
		{name: "checksummed", input: "0x52908400098527886E0F7030069857D2E4169EE7"},
		{name: "too short", input: "0x0123", wantErr: true},
		{name: "not hex", input: "0xzz23456789abcdef0123456789abcdef01234567", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := NewIdentityFromHex(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, common.HexToAddress(tt.input), id.Address())
		})
	}
}

func TestIdentity_ZeroAndText(t *testing.T) {
	assert.True(t, ZeroIdentity.IsZero())

	id := Identity(common.HexToAddress("0x52908400098527886E0F7030069857D2E4169EE7"))
	assert.False(t, id.IsZero())
	assert.Equal(t, "0x52908400098527886E0F7030069857D2E4169EE7", id.String())

	encoded, err := json.Marshal(map[string]Identity{"id": id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"0x52908400098527886E0F7030069857D2E4169EE7"}`, string(encoded))

	var decoded map[string]Identity
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, id, decoded["id"])
}

func TestPermissions_Has(t *testing.T) {
	assert.True(t, DefaultOwnerPermissions.Has(1))
	assert.True(t, DefaultOwnerPermissions.Has(4))
	assert.True(t, DefaultOwnerPermissions.Has(5))
	assert.False(t, DefaultOwnerPermissions.Has(2))
	assert.True(t, Permissions(0).Has(0))
}
