package uuid

import (
	"slices"
	"testing"

	googleuuid "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorIDsSortByCreation(t *testing.T) {
	t.Parallel()

	gen := New()
	ids := make([]string, 0, 16)
	for range 16 {
		id, err := gen.NewID()
		require.NoError(t, err)

		parsed, err := googleuuid.Parse(id)
		require.NoError(t, err)
		require.Equal(t, googleuuid.Version(7), parsed.Version())
		ids = append(ids, id)
	}

	require.True(t, slices.IsSorted(ids))
	require.Len(t, slices.Compact(slices.Clone(ids)), len(ids))
}
