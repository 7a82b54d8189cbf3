package pool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsldankers/fruitbak/pool"
)

func TestConfigValidateRejectsNonPositiveWorkerAndQueueSettings(t *testing.T) {
	cases := map[string]func(*pool.Config){
		"max_workers":         func(c *pool.Config) { c.MaxWorkers = 0 },
		"max_queue_depth":     func(c *pool.Config) { c.MaxQueueDepth = -1 },
		"pool_max_readaheads": func(c *pool.Config) { c.PoolMaxReadaheads = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := pool.DefaultConfig()
			mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, pool.ErrConfiguration)
		})
	}
}

func TestFromMapRejectsUnparseableInt(t *testing.T) {
	_, err := pool.FromMap(map[string]string{"chunk_size": "not-a-number"})
	require.Error(t, err)
	assert.ErrorIs(t, err, pool.ErrConfiguration)
}

func TestFromMapDecodesStringFields(t *testing.T) {
	cfg, err := pool.FromMap(map[string]string{
		"hash_algo":           "sha256",
		"pooldir":             "custom-pool",
		"pool_encryption_key": "base64keyvalue",
	})
	require.NoError(t, err)
	assert.Equal(t, "sha256", cfg.HashAlgo)
	assert.Equal(t, "custom-pool", cfg.PoolDir)
	assert.Equal(t, "base64keyvalue", cfg.PoolEncryptionKey)
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, pool.DefaultConfig().Validate())
}
