package connector

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDedup_Seen(t *testing.T) {
	d, err := NewDedup(16)
	require.NoError(t, err)

	require.False(t, d.Seen("SALE-1"))
	require.True(t, d.Seen("SALE-1"))
	require.False(t, d.Seen("SALE-2"))
	require.Equal(t, 2, d.Len())
}

func TestDedup_BoundedEviction(t *testing.T) {
	d, err := NewDedup(4)
	require.NoError(t, err)

	require.False(t, d.Seen("SALE-old"))
	for i := 0; i < 4; i++ {
		d.Seen(fmt.Sprintf("SALE-%d", i))
	}

	// The oldest key aged out of the window; it is re-admitted as new.
	require.False(t, d.Seen("SALE-old"))
	require.LessOrEqual(t, d.Len(), 4)
}

func TestDedup_DefaultSize(t *testing.T) {
	d, err := NewDedup(0)
	require.NoError(t, err)
	require.False(t, d.Seen("SALE-1"))
	require.True(t, d.Seen("SALE-1"))
}
