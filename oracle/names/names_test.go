package names_test

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/jefdiesel/appchain-ens/oracle/names"
)

func TestDeriveDeterministic(t *testing.T) {
	first := names.Derive("alice")
	for i := 0; i < 10; i++ {
		require.Equal(t, first, names.Derive("alice"))
	}
	require.NotEqual(t, first, names.Derive("bob"))
	require.NotEqual(t, first, names.Derive("Alice"))
}

func TestDeriveCanonicalEncoding(t *testing.T) {
	expected := ethCommon.Hash(sha256.Sum256([]byte("data:,alice")))
	require.Equal(t, expected, names.Derive("alice"))
	require.Len(t, names.Derive("alice").Bytes(), 32)
}

func writeNamesFile(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "names.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tracked, err := names.Load(writeNamesFile(t, `["alice", "bob", "carol"]`))
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob", "carol"}, tracked)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := names.Load(filepath.Join(t.TempDir(), "nonexistent.json"))
	require.Error(t, err)
}

func TestLoadMalformed(t *testing.T) {
	for _, contents := range []string{
		`{"names": ["alice"]}`,
		`not json`,
		`[]`,
		`["alice", ""]`,
		`["alice", "alice"]`,
	} {
		_, err := names.Load(writeNamesFile(t, contents))
		require.Error(t, err, "contents: %s", contents)
	}
}
