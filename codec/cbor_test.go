package codec

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/sidechain-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Owner  interfaces.Identity   `cbor:"1,keyasint"`
	Agents []interfaces.Identity `cbor:"2,keyasint"`
	Labels map[string]uint64     `cbor:"3,keyasint"`
}

func TestMarshal_Deterministic(t *testing.T) {
	a := interfaces.Identity(common.HexToAddress("0x1000000000000000000000000000000000000001"))
	b := interfaces.Identity(common.HexToAddress("0x2000000000000000000000000000000000000002"))

	first, err := Marshal(sample{Owner: a, Agents: []interfaces.Identity{a, b}, Labels: map[string]uint64{"x": 1, "y": 2, "z": 3}})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Marshal(sample{Owner: a, Agents: []interfaces.Identity{a, b}, Labels: map[string]uint64{"z": 3, "y": 2, "x": 1}})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestIdentityEncodedAsText(t *testing.T) {
	a := interfaces.Identity(common.HexToAddress("0x52908400098527886E0F7030069857D2E4169EE7"))

	encoded, err := Marshal(sample{Owner: a, Agents: []interfaces.Identity{a}})
	require.NoError(t, err)
	assert.Contains(t, string(encoded), a.String())

	var decoded sample
	require.NoError(t, Unmarshal(encoded, &decoded))
	assert.Equal(t, a, decoded.Owner)
	assert.Equal(t, []interfaces.Identity{a}, decoded.Agents)
}
