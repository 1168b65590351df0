package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  topic_prefix: "dispatch"
redis:
  host: "localhost"
  port: 6379
backend:
  mode: "rest"
  rest_url: "https://example.supabase.co"
dispatch:
  http_addr: ":8080"
  feed: "kafka"
  resync_interval_seconds: 300
  push_urls:
    - "generic://hooks.example.com/dispatch"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "dispatch", cfg.Kafka.TopicPrefix)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, "rest", cfg.Backend.Mode)
	require.Equal(t, ":8080", cfg.Dispatch.HTTPAddr)
	require.Equal(t, 300, cfg.Dispatch.ResyncIntervalSeconds)
	require.Len(t, cfg.Dispatch.PushURLs, 1)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestConfigHelpers(t *testing.T) {
	db := DatabaseConfig{Host: "h", Port: 5432, Username: "u", Password: "p", DBName: "d"}
	require.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", db.PostgresDSN())

	require.Equal(t, []string{"k:9092"}, KafkaConfig{Host: "k", Port: 9092}.Brokers())
	require.Equal(t, "r:6379", RedisConfig{Host: "r", Port: 6379}.Addr())
	require.Equal(t, "", RedisConfig{}.Addr())
}

func TestLoadConfig_Example(t *testing.T) {
	cfg, err := LoadConfig("config.example.yaml")
	require.NoError(t, err)
	require.Equal(t, "postgres", cfg.Backend.Mode)
	require.Equal(t, ":8082", cfg.Dispatch.RelayHTTPAddr)
	require.Equal(t, 5, cfg.Dispatch.RelayMaxAttempts)
	require.Empty(t, cfg.Dispatch.PushURLs)
}
