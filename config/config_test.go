package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	c := Default()

	assert.Equal(t, ":9000", c.ListenAddr)
	assert.Equal(t, BackendMemory, c.KeyStore)
	assert.Equal(t, BackendNone, c.Events)
	assert.Equal(t, BackendMemory, c.Storage)
	assert.Equal(t, 100, c.HistoryLimit)
	assert.Equal(t, 5*time.Minute, c.TokenTTL)
	assert.NoError(t, c.Validate())
	assert.False(t, c.UsesRedis())
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	err := c.ApplyEnv(env(map[string]string{
		"REDIS_URL":             "redis://legacy:6379/0",
		"MURMUR_KEY_STORE":      "file",
		"MURMUR_KEY_PASSPHRASE": "hunter2",
		"MURMUR_CHAIN_RPC":      "mumbai=https://rpc.example/mumbai, sepolia=https://rpc.example/sepolia",
		"MURMUR_HISTORY_LIMIT":  "25",
		"MURMUR_TOKEN_TTL":      "90s",
		"MURMUR_LOG_FORMAT":     "json",
	}))
	require.NoError(t, err)

	assert.Equal(t, "redis://legacy:6379/0", c.RedisURL)
	assert.Equal(t, BackendFile, c.KeyStore)
	assert.Equal(t, "hunter2", c.KeyPassphrase)
	assert.Equal(t, []string{"mumbai", "sepolia"}, c.Chains())
	assert.Equal(t, "https://rpc.example/sepolia", c.ChainRPC["sepolia"])
	assert.Equal(t, 25, c.HistoryLimit)
	assert.Equal(t, 90*time.Second, c.TokenTTL)
	assert.Equal(t, "json", c.LogFormat)
	assert.NoError(t, c.Validate())
}

func TestApplyEnvPrefersMurmurRedisURL(t *testing.T) {
	c := Default()
	require.NoError(t, c.ApplyEnv(env(map[string]string{
		"REDIS_URL":        "redis://legacy:6379/0",
		"MURMUR_REDIS_URL": "redis://murmur:6379/1",
	})))
	assert.Equal(t, "redis://murmur:6379/1", c.RedisURL)
}

func TestApplyEnvErrors(t *testing.T) {
	tests := map[string]map[string]string{
		"history": {"MURMUR_HISTORY_LIMIT": "many"},
		"ttl":     {"MURMUR_TOKEN_TTL": "soon"},
		"rpc":     {"MURMUR_CHAIN_RPC": "mumbai"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, Default().ApplyEnv(env(vars)))
		})
	}
}

func TestBindFlagsOverrideEnv(t *testing.T) {
	c := Default()
	require.NoError(t, c.ApplyEnv(env(map[string]string{"MURMUR_LISTEN_ADDR": ":7000"})))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--listen", ":8000", "--events", "redis", "--chain-rpc", "mumbai=http://localhost:8545"}))

	assert.Equal(t, ":8000", c.ListenAddr)
	assert.Equal(t, BackendRedis, c.Events)
	assert.Equal(t, "http://localhost:8545", c.ChainRPC["mumbai"])
	assert.True(t, c.UsesRedis())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown key store", func(c *Config) { c.KeyStore = "etcd" }},
		{"file store without passphrase", func(c *Config) { c.KeyStore = BackendFile }},
		{"unknown events", func(c *Config) { c.Events = "kafka" }},
		{"unknown storage", func(c *Config) { c.Storage = "ipfs" }},
		{"s3 without bucket", func(c *Config) { c.Storage = BackendS3; c.S3Bucket = "" }},
		{"negative history", func(c *Config) { c.HistoryLimit = -1 }},
		{"zero ttl", func(c *Config) { c.TokenTTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			assert.Error(t, c.Validate())
		})
	}
}
