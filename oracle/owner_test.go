package oracle_test

import (
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/jefdiesel/appchain-ens/oracle"
)

func TestNormalizeOwnerCaseInsensitive(t *testing.T) {
	// Owner addresses are not case sensitive; any casing of the same hex
	// string must normalize to the same address.
	mixed := oracle.NormalizeOwner("0xAbCdEf0123456789aBcDeF0123456789abcdef01")
	lower := oracle.NormalizeOwner("0xabcdef0123456789abcdef0123456789abcdef01")
	upper := oracle.NormalizeOwner("0xABCDEF0123456789ABCDEF0123456789ABCDEF01")

	require.Equal(t, mixed, lower)
	require.Equal(t, mixed, upper)
}

func TestOwnerIsSet(t *testing.T) {
	require.False(t, oracle.OwnerIsSet(ethCommon.Address{}))
	require.False(t, oracle.OwnerIsSet(oracle.NormalizeOwner("0x0000000000000000000000000000000000000000")))
	require.True(t, oracle.OwnerIsSet(oracle.NormalizeOwner("0x0000000000000000000000000000000000000001")))
}
