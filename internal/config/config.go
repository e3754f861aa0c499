package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // DISPLAY_TIMEZONE 在无 zoneinfo 的容器中也可解析

	"github.com/joho/godotenv"

	"github.com/raj3104/SwasthyaSanket/common/config"
)

// 文档库后端
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

// Config 同步服务配置
type Config struct {
	Database  config.DatabaseConfig
	Redis     config.RedisConfig
	MQTT      config.MQTTConfig
	Firestore config.FirestoreConfig

	Store struct {
		// 后端：memory / redis / postgres / firestore
		Backend              string
		PostgresPollInterval time.Duration
		RedisBlockTimeout    time.Duration
	}

	Cache struct {
		Enabled bool
		TTL     time.Duration
	}

	Publisher struct {
		MQTTEnabled bool
	}

	Display struct {
		Locale   string // en-US / en-GB / en-IN
		Timezone string // IANA 时区名
	}

	Log struct {
		Level  string
		Format string
	}

	Metrics struct {
		Addr string // 为空时不启动 /metrics
	}
}

// LoadDotEnv 加载 .env（文件不存在时忽略）
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "swasthya")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 2
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.QoS = 1
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "swasthya/workers")
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Firestore.LoadFromEnv("FIRESTORE")

	cfg.Store.Backend = strings.ToLower(getEnv("DOCSTORE_BACKEND", BackendRedis))
	cfg.Store.PostgresPollInterval = getDuration("POSTGRES_POLL_INTERVAL", 2*time.Second)
	cfg.Store.RedisBlockTimeout = getDuration("REDIS_BLOCK_TIMEOUT", time.Second)

	cfg.Cache.Enabled = getBool("CACHE_ENABLED", true)
	cfg.Cache.TTL = getDuration("CACHE_TTL", 10*time.Minute)

	cfg.Publisher.MQTTEnabled = getBool("MQTT_ENABLED", false)

	cfg.Display.Locale = getEnv("DISPLAY_LOCALE", "en-US")
	cfg.Display.Timezone = getEnv("DISPLAY_TIMEZONE", "UTC")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Metrics.Addr = getEnv("METRICS_ADDR", "")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	case BackendFirestore:
		if c.Firestore.ProjectID == "" {
			return fmt.Errorf("FIRESTORE_PROJECT_ID is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown DOCSTORE_BACKEND %q", c.Store.Backend)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location 显示时区
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Display.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid DISPLAY_TIMEZONE %q: %w", c.Display.Timezone, err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, "")); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
