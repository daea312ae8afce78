package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextIsUniqueAndStable(t *testing.T) {
	f := New("inline", RandomKey())

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := f.Next()
		require.Falsef(t, seen[id], "duplicate id %q after %d draws", id, i)
		seen[id] = true
	}
}

func TestNextCarriesPrefix(t *testing.T) {
	f := New("remote", RandomKey())
	id := f.Next()
	require.True(t, strings.HasPrefix(id, "remote:"), "expected id to start with prefix, got %q", id)
}

func TestDistinctFactoriesDiffer(t *testing.T) {
	a := New("inline", RandomKey())
	b := New("inline", RandomKey())
	require.NotEqual(t, a.Next(), b.Next(), "expected distinct factories to mint distinct first ids")
}

func TestEncodeBase58RequiresEightBytes(t *testing.T) {
	defer func() {
		require.NotNil(t, recover(), "expected panic for wrong-length input")
	}()
	encodeBase58([]byte{1, 2, 3})
}
