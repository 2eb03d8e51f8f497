package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withEnv(t *testing.T, kv map[string]string, fn func()) {
	t.Helper()
	for k, v := range kv {
		old, had := os.LookupEnv(k)
		require.NoError(t, os.Setenv(k, v))
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			} else {
				os.Unsetenv(k)
			}
		})
	}
	fn()
}

func TestLoadFromEnvDefaults(t *testing.T) {
	withEnv(t, map[string]string{
		"TXBTREE_DATA_DIR":         "",
		"TXBTREE_IN_MEMORY":       "",
		"TXBTREE_SYNC_WRITES":     "",
		"TXBTREE_BLOCK_CACHE_SIZE": "",
	}, func() {
		cfg := LoadFromEnv()
		assert.Equal(t, "./data", cfg.DataDir)
		assert.False(t, cfg.InMemory)
		assert.False(t, cfg.SyncWrites)
		assert.Equal(t, 4096, cfg.BlockCacheSize)
		require.NoError(t, cfg.Validate())
	})
}

func TestLoadFromEnvOverrides(t *testing.T) {
	withEnv(t, map[string]string{
		"TXBTREE_DATA_DIR":         "/tmp/txbtree",
		"TXBTREE_IN_MEMORY":        "true",
		"TXBTREE_SYNC_WRITES":      "yes",
		"TXBTREE_BLOCK_CACHE_SIZE": "128",
	}, func() {
		cfg := LoadFromEnv()
		assert.Equal(t, "/tmp/txbtree", cfg.DataDir)
		assert.True(t, cfg.InMemory)
		assert.True(t, cfg.SyncWrites)
		assert.Equal(t, 128, cfg.BlockCacheSize)
	})
}

func TestValidateRejectsBadCacheSize(t *testing.T) {
	cfg := &Config{DataDir: "./data", BlockCacheSize: 0}
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresDataDirUnlessInMemory(t *testing.T) {
	cfg := &Config{DataDir: "", InMemory: false, BlockCacheSize: 10}
	assert.Error(t, cfg.Validate())

	cfg.InMemory = true
	assert.NoError(t, cfg.Validate())
}
