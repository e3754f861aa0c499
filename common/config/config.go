package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int           // 0 使用 go-redis 默认值
	DialTimeout time.Duration // 0 使用 go-redis 默认值
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	QoS         byte
	TopicPrefix string // 发布显示记录的主题前缀，如 "swasthya/workers"
}

// FirestoreConfig Firestore REST 配置
type FirestoreConfig struct {
	BaseURL      string // 默认 https://firestore.googleapis.com/v1
	ProjectID    string
	DatabaseID   string // 默认 "(default)"
	AccessToken  string // OAuth2 Bearer token，可为空（模拟器）
	APIKey       string
	PollInterval time.Duration
	Timeout      time.Duration
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv 从 {prefix}_HOST / _PORT / _USER / _PASSWORD / _NAME / _SSLMODE 覆盖
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	envString(&c.Host, prefix+"_HOST")
	envInt(&c.Port, prefix+"_PORT")
	envString(&c.User, prefix+"_USER")
	envString(&c.Password, prefix+"_PASSWORD")
	envString(&c.Database, prefix+"_NAME")
	envString(&c.SSLMode, prefix+"_SSLMODE")
	envInt(&c.MaxConns, prefix+"_MAX_CONNS")
	envInt(&c.MaxIdle, prefix+"_MAX_IDLE")
}

// LoadFromEnv 从 {prefix}_ADDR / _PASSWORD / _DB / _POOL_SIZE 覆盖
func (c *RedisConfig) LoadFromEnv(prefix string) {
	envString(&c.Addr, prefix+"_ADDR")
	envString(&c.Password, prefix+"_PASSWORD")
	envInt(&c.DB, prefix+"_DB")
	envInt(&c.PoolSize, prefix+"_POOL_SIZE")
	envDuration(&c.DialTimeout, prefix+"_DIAL_TIMEOUT")
}

// LoadFromEnv MQTT 配置；QoS 只接受 0-2
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	envString(&c.Broker, prefix+"_BROKER")
	envString(&c.ClientID, prefix+"_CLIENT_ID")
	envString(&c.Username, prefix+"_USERNAME")
	envString(&c.Password, prefix+"_PASSWORD")
	envString(&c.TopicPrefix, prefix+"_TOPIC_PREFIX")

	var qos int
	if envInt(&qos, prefix+"_QOS") && qos >= 0 && qos <= 2 {
		c.QoS = byte(qos)
	}
}

// LoadFromEnv Firestore 配置
func (c *FirestoreConfig) LoadFromEnv(prefix string) {
	envString(&c.BaseURL, prefix+"_BASE_URL")
	envString(&c.ProjectID, prefix+"_PROJECT_ID")
	envString(&c.DatabaseID, prefix+"_DATABASE_ID")
	envString(&c.AccessToken, prefix+"_ACCESS_TOKEN")
	envString(&c.APIKey, prefix+"_API_KEY")
	envDuration(&c.PollInterval, prefix+"_POLL_INTERVAL")
	envDuration(&c.Timeout, prefix+"_TIMEOUT")
}

func envString(dst *string, key string) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	*dst = v
	return true
}

func envInt(dst *int, key string) bool {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return false
	}
	*dst = v
	return true
}

// envDuration 非正数忽略
func envDuration(dst *time.Duration, key string) bool {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return false
	}
	*dst = d
	return true
}
