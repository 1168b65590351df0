package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Backend  BackendConfig  `yaml:"backend"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	TopicPrefix   string `yaml:"topic_prefix"`
	ConsumerGroup string `yaml:"consumer_group"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// BackendConfig selects where rows live. Mode is one of "postgres", "rest" or "memory".
type BackendConfig struct {
	Mode       string `yaml:"mode"`
	RESTURL    string `yaml:"rest_url"`
	AnonKey    string `yaml:"anon_key"`
	ServiceKey string `yaml:"service_key"`
}

type DispatchConfig struct {
	HTTPAddr      string `yaml:"http_addr"`
	RelayHTTPAddr string `yaml:"relay_http_addr"`
	LogLevel      string `yaml:"log_level"`

	// Feed is where the API reads the changefeed from: "postgres" (LISTEN/NOTIFY),
	// "kafka" (topics written by dispatch-relay) or "memory".
	Feed string `yaml:"feed"`

	ResyncIntervalSeconds int `yaml:"resync_interval_seconds"`
	NameCacheTTLSeconds   int `yaml:"name_cache_ttl_seconds"`

	WriteRateLimitPerMinute int `yaml:"write_rate_limit_per_minute"`

	// RelayMaxAttempts bounds how often dispatch-relay retries one change before dropping it.
	RelayMaxAttempts int `yaml:"relay_max_attempts"`

	DefaultDriverPassword string   `yaml:"default_driver_password"`
	PushURLs              []string `yaml:"push_urls"`
	PushTimeoutSeconds    int      `yaml:"push_timeout_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}

// PostgresDSN builds the pgx connection string, defaulting sslmode to disable.
func (c DatabaseConfig) PostgresDSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.DBName, sslMode)
}

func (c KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", c.Host, c.Port)}
}

func (c RedisConfig) Addr() string {
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
