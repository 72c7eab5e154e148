package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryProviderExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mem := NewMemoryProvider()
	mem.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, mem.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	stored, err := mem.SetNX(ctx, "k", []byte("other"), time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)

	now = now.Add(time.Minute)
	_, err = mem.Get(ctx, "k")
	require.ErrorIs(t, err, ErrCacheMiss)

	stored, err = mem.SetNX(ctx, "k", []byte("fresh"), 0)
	require.NoError(t, err)
	assert.True(t, stored)

	require.NoError(t, mem.Set(ctx, "k", []byte("repaired"), 0))
	got, err = mem.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("repaired"), got)
}

func TestMemoryProviderCopiesValues(t *testing.T) {
	mem := NewMemoryProvider()
	ctx := context.Background()
	value := []byte("abc")
	require.NoError(t, mem.Set(ctx, "k", value, 0))
	value[0] = 'x'

	got, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestNoopProviderAlwaysMisses(t *testing.T) {
	var p Provider = NoopProvider{}
	ctx := context.Background()
	require.NoError(t, p.Set(ctx, "k", []byte("v"), time.Second))
	stored, err := p.SetNX(ctx, "k", []byte("v"), time.Second)
	require.NoError(t, err)
	assert.False(t, stored)
	_, err = p.Get(ctx, "k")
	require.ErrorIs(t, err, ErrCacheMiss)
}

func TestValkeyProviderRequiresAddr(t *testing.T) {
	_, err := NewValkeyProvider(ValkeyConfig{})
	require.Error(t, err)
}
