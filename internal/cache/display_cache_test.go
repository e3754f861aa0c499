package cache_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raj3104/SwasthyaSanket/internal/cache"
	"github.com/raj3104/SwasthyaSanket/internal/models"
)

func sampleDisplay() models.DisplayRecord {
	return models.DisplayRecord{
		WorkerID: "w-1",
		Version:  3,
		Name:     models.DisplayField{Text: "Asha", State: models.StateValue},
		Risks: []models.RiskDisplay{
			{Disease: models.DiseaseCOPD, Fraction: 0.4, Percent: 40, Tier: models.RiskTierMedium, Text: "COPD: 40%", State: models.StateValue},
		},
	}
}

func TestDisplayCache_Publish_WritesJSON(t *testing.T) {
	kv := newFakeKVStore()
	c := cache.NewDisplayCache(kv, time.Minute, zap.NewNop())

	require.NoError(t, c.Publish(context.Background(), sampleDisplay()))

	raw, err := kv.Get(context.Background(), "swasthya:worker:w-1:display")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, kv.data["swasthya:worker:w-1:display"].ttl)

	var decoded models.DisplayRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, "Asha", decoded.Name.Text)
	assert.Equal(t, models.StateValue, decoded.Name.State)
	assert.Equal(t, models.RiskTierMedium, decoded.Risks[0].Tier)
}

func TestDisplayCache_Get(t *testing.T) {
	kv := newFakeKVStore()
	c := cache.NewDisplayCache(kv, 0, zap.NewNop())

	_, err := c.Get(context.Background(), "w-1")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	require.NoError(t, c.Publish(context.Background(), sampleDisplay()))
	rec, err := c.Get(context.Background(), "w-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rec.Version)
	assert.Equal(t, cache.DefaultTTL, kv.data[cache.DisplayKey("w-1")].ttl)
}

func TestDisplayCache_Invalidate(t *testing.T) {
	kv := newFakeKVStore()
	c := cache.NewDisplayCache(kv, time.Minute, zap.NewNop())

	require.NoError(t, c.Publish(context.Background(), sampleDisplay()))
	require.NoError(t, c.Invalidate(context.Background(), "w-1"))

	_, err := c.Get(context.Background(), "w-1")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestDisplayCache_Publish_KVError(t *testing.T) {
	kv := newFakeKVStore()
	kv.err = errors.New("readonly")
	c := cache.NewDisplayCache(kv, time.Minute, zap.NewNop())

	err := c.Publish(context.Background(), sampleDisplay())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "readonly")
}

func TestRedisKVStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	kv := cache.NewRedisKVStore(client)
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	require.NoError(t, kv.Set(ctx, "k", "v", time.Second))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	mr.FastForward(2 * time.Second)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	require.NoError(t, kv.Set(ctx, "k2", "v2", 0))
	require.NoError(t, kv.Del(ctx, "k2"))
	assert.False(t, mr.Exists("k2"))
}
