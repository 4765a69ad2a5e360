package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("loads a full config", func(t *testing.T) {
		path := writeConfig(t, `
[mongo]
uri = "mongodb://localhost:27017"
database = "grouphub"
connect_timeout = 5

[redis]
host = "127.0.0.1"
port = 6379
db = 2
pool_size = 20
min_idle_conns = 4

[kafka]
brokers = ["localhost:9092"]
topic = "group-events"

[logging]
level = "debug"
format = "json"
output = "stdout"

[limits]
max_groups_per_user = 10
`)

		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
		assert.Equal(t, "grouphub", cfg.Mongo.Database)
		assert.Equal(t, 5, cfg.Mongo.ConnectTimeout)
		assert.Equal(t, 6379, cfg.Redis.Port)
		assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
		assert.Equal(t, "group-events", cfg.Kafka.Topic)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.EqualValues(t, 10, cfg.Limits.MaxGroupsPerUser)
	})

	t.Run("zero limit disables the quota", func(t *testing.T) {
		path := writeConfig(t, `
[mongo]
uri = "mongodb://localhost:27017"
database = "grouphub"
`)

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Zero(t, cfg.Limits.MaxGroupsPerUser)
	})

	t.Run("fails on a missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})
}
