package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "swasthya", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, 2*time.Second, cfg.Store.PostgresPollInterval)
	assert.Equal(t, time.Second, cfg.Store.RedisBlockTimeout)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.False(t, cfg.Publisher.MQTTEnabled)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "swasthya/workers", cfg.MQTT.TopicPrefix)
	assert.Equal(t, "en-US", cfg.Display.Locale)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DOCSTORE_BACKEND", "Postgres")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("POSTGRES_POLL_INTERVAL", "500ms")
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("MQTT_ENABLED", "true")
	t.Setenv("MQTT_QOS", "2")
	t.Setenv("DISPLAY_LOCALE", "en-IN")
	t.Setenv("DISPLAY_TIMEZONE", "Asia/Kolkata")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("METRICS_ADDR", ":9100")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 500*time.Millisecond, cfg.Store.PostgresPollInterval)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.True(t, cfg.Publisher.MQTTEnabled)
	assert.Equal(t, byte(2), cfg.MQTT.QoS)
	assert.Equal(t, "en-IN", cfg.Display.Locale)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", loc.String())
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("DOCSTORE_BACKEND", "mongo")
	_, err := Load()
	assert.ErrorContains(t, err, "DOCSTORE_BACKEND")

	t.Setenv("DOCSTORE_BACKEND", "firestore")
	_, err = Load()
	assert.ErrorContains(t, err, "FIRESTORE_PROJECT_ID")

	t.Setenv("FIRESTORE_PROJECT_ID", "demo")
	t.Setenv("FIRESTORE_POLL_INTERVAL", "5s")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Firestore.PollInterval)

	t.Setenv("DISPLAY_TIMEZONE", "Mars/Olympus")
	_, err = Load()
	assert.ErrorContains(t, err, "DISPLAY_TIMEZONE")
}

func TestLoadDotEnv(t *testing.T) {
	os.Unsetenv("DISPLAY_LOCALE")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DISPLAY_LOCALE=en-GB\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("DISPLAY_LOCALE") })

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "en-GB", cfg.Display.Locale)
}
