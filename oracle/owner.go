package oracle

import (
	ethCommon "github.com/ethereum/go-ethereum/common"
)

// DiffEntry is a single correction to be applied to the on-chain registry:
// the tracked name and the owner the registry should record for it.
type DiffEntry struct {
	Name  string
	Owner ethCommon.Address
}

// NormalizeOwner parses an owner address string into its canonical binary
// form. All owner comparisons in the engine go through parsed addresses, so
// differing hex casing between the indexer and the registry can never mask
// or fabricate a diff.
func NormalizeOwner(s string) ethCommon.Address {
	return ethCommon.HexToAddress(s)
}

// OwnerIsSet reports whether the address is a real owner rather than the
// registry's zero-address "unset" sentinel.
func OwnerIsSet(addr ethCommon.Address) bool {
	return addr != (ethCommon.Address{})
}
