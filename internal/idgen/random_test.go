package idgen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestString_Length(t *testing.T) {
	s, err := String(16)
	require.NoError(t, err)
	require.Len(t, s, 16)
}

func TestString_RejectsNonPositive(t *testing.T) {
	_, err := String(0)
	require.Error(t, err)
}

func TestJitterMillis_Bounded(t *testing.T) {
	for i := 0; i < 50; i++ {
		j := JitterMillis(100)
		require.GreaterOrEqual(t, j, int64(0))
		require.Less(t, j, int64(100))
	}
}
