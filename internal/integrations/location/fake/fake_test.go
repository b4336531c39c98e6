package fake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProvider_LastLocation_Walks(t *testing.T) {
	p := New(10.0, 106.0)

	first, ok, err := p.LastLocation(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 10.0, first.Latitude)
	require.False(t, first.SampledAt.IsZero())

	second, ok, err := p.LastLocation(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Greater(t, second.Latitude, first.Latitude)
	require.Greater(t, second.Longitude, first.Longitude)
	require.Equal(t, 2, p.Reads())
}

func TestProvider_LastLocation_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := New(0, 0).LastLocation(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, ok)
}
