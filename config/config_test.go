package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Storage:  StorageConfig{Driver: StorageMemory},
		Token:    TokenConfig{Secret: "s", TTL: time.Hour},
		Lock:     LockConfig{Backend: LockLocal, TTL: time.Second, RetryInterval: time.Millisecond},
		Election: ElectionConfig{Timezone: "UTC", DefaultDuration: time.Hour},
	}
}

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("ELECTVOTE_TOKEN_SECRET", "from-env")
	t.Setenv("ELECTVOTE_STORAGE_DRIVER", StorageMemory)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Token.Secret)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 14*24*time.Hour, cfg.Election.DefaultDuration)
	assert.Equal(t, 24*time.Hour, cfg.Token.TTL)
	assert.Equal(t, LockLocal, cfg.Lock.Backend)
	assert.Equal(t, "/graphql", cfg.GraphQL.Path)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
storage:
  driver: memory
token:
  secret: file-secret
  ttl: 2h
election:
  timezone: Africa/Lagos
  default_duration: 72h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "file-secret", cfg.Token.Secret)
	assert.Equal(t, 2*time.Hour, cfg.Token.TTL)
	assert.Equal(t, 72*time.Hour, cfg.Election.DefaultDuration)

	loc, err := cfg.Election.Location()
	require.NoError(t, err)
	assert.Equal(t, "Africa/Lagos", loc.String())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := map[string]func(c *Config){
		"missing secret":        func(c *Config) { c.Token.Secret = "" },
		"unknown driver":        func(c *Config) { c.Storage.Driver = "sqlite" },
		"mysql without dsn":     func(c *Config) { c.Storage.Driver = StorageMySQL },
		"redlock without hosts": func(c *Config) { c.Lock.Backend = LockRedis },
		"unknown lock":          func(c *Config) { c.Lock.Backend = "zookeeper" },
		"zero retry interval":   func(c *Config) { c.Lock.RetryInterval = 0 },
		"bad timezone":          func(c *Config) { c.Election.Timezone = "Mars/Olympus" },
		"kafka without brokers": func(c *Config) { c.Kafka.Enabled = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}
