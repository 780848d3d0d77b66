package objectstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresignCacheHitsAvoidRepeatedCalls(t *testing.T) {
	fake := NewFake()
	fake.PutRaw("auxtel/2024-05-01/monitor/000001/x.jpg", "h1", []byte("data"))

	cache, err := NewPresignCache(fake, 16, time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	url1, err := cache.PresignGet(ctx, "auxtel/2024-05-01/monitor/000001/x.jpg", time.Minute)
	require.NoError(t, err)

	url2, err := cache.PresignGet(ctx, "auxtel/2024-05-01/monitor/000001/x.jpg", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, url1, url2)
	assert.Equal(t, 1, fake.PresignCalls())
}

func TestPresignCacheMissOnExpiry(t *testing.T) {
	fake := NewFake()
	fake.PutRaw("auxtel/2024-05-01/monitor/000001/x.jpg", "h1", []byte("data"))

	cache, err := NewPresignCache(fake, 16, time.Millisecond)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cache.PresignGet(ctx, "auxtel/2024-05-01/monitor/000001/x.jpg", time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = cache.PresignGet(ctx, "auxtel/2024-05-01/monitor/000001/x.jpg", time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, 2, fake.PresignCalls())
}

func TestPresignCacheNotFoundPropagates(t *testing.T) {
	fake := NewFake()
	cache, err := NewPresignCache(fake, 16, time.Minute)
	require.NoError(t, err)

	_, err = cache.PresignGet(context.Background(), "missing/key.jpg", time.Minute)
	require.Error(t, err)
}
