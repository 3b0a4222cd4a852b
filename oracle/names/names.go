// Package names implements the tracked-name set and the derivation of
// content identifiers from names.
package names

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// dataURIPrefix is the canonical encoding prefix of a name's content record.
// The indexer keys records by the digest of this encoding.
const dataURIPrefix = "data:,"

// Derive returns the content identifier for a name: the SHA-256 digest of
// the name's canonical data-URI encoding. Identical names always derive
// identical identifiers.
func Derive(name string) ethCommon.Hash {
	return ethCommon.Hash(sha256.Sum256([]byte(dataURIPrefix + name)))
}

// Load reads the tracked-name set from a flat JSON array of strings.
// Empty and duplicate entries are configuration errors.
func Load(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tracked names %s: %w", path, err)
	}

	var tracked []string
	if err := json.Unmarshal(raw, &tracked); err != nil {
		return nil, fmt.Errorf("parsing tracked names %s: %w", path, err)
	}
	if len(tracked) == 0 {
		return nil, fmt.Errorf("tracked names %s: empty set", path)
	}

	seen := make(map[string]struct{}, len(tracked))
	for _, name := range tracked {
		if name == "" {
			return nil, fmt.Errorf("tracked names %s: empty name", path)
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("tracked names %s: duplicate name %q", path, name)
		}
		seen[name] = struct{}{}
	}

	return tracked, nil
}
