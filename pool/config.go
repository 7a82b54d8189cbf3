package pool

import (
	"reflect"
	"strconv"

	"github.com/pkg/errors"
)

// Config holds the knobs the core consumes from the outer, opaque
// configuration map (spec §6). Decoded from a map[string]string with
// FromMap, following the `config:"..."` struct-tag convention rclone's
// configstruct.Set uses to decode its own backend Options structs.
type Config struct {
	// ChunkSize is the maximum length of a chunk; must be a power of two.
	ChunkSize int `config:"chunk_size"`

	// HashAlgo names the digest used to fingerprint chunks.
	HashAlgo string `config:"hash_algo"`

	// MaxWorkers is the size of each backend's I/O worker pool.
	MaxWorkers int `config:"max_workers"`

	// MaxQueueDepth bounds pool-wide concurrent backend operations.
	MaxQueueDepth int `config:"max_queue_depth"`

	// PoolMaxReadaheads bounds per-agent concurrent prefetch.
	PoolMaxReadaheads int `config:"pool_max_readaheads"`

	// PoolDir is the filesystem backend's pool directory, relative to the
	// configured root.
	PoolDir string `config:"pooldir"`

	// PoolEncryptionKey is a base64-encoded 32-byte symmetric key. Mutually
	// exclusive with PoolEncryptionPassphrase.
	PoolEncryptionKey string `config:"pool_encryption_key"`

	// PoolEncryptionPassphrase derives the 32-byte key via scrypt when no
	// raw key is configured (supplemental feature, see SPEC_FULL.md §3).
	PoolEncryptionPassphrase string `config:"pool_encryption_passphrase"`
}

// DefaultConfig returns the configuration defaults named in spec §6.
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:         2 << 20, // 2 MiB
		HashAlgo:          "sha256",
		MaxWorkers:        32,
		MaxQueueDepth:     32,
		PoolMaxReadaheads: 32,
		PoolDir:           "pool",
	}
}

// FromMap decodes a Config from an opaque string-keyed configuration map,
// applying DefaultConfig's values for any key that is absent. This mirrors
// rclone's configstruct.Set(m, opt), which this module re-derives from the
// `config:"..."` tag convention visible on backend Options structs (the
// concrete configstruct/configmap packages were not present as source in
// the retrieval pack — see DESIGN.md).
func FromMap(m map[string]string) (*Config, error) {
	cfg := DefaultConfig()
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("config")
		if tag == "" {
			continue
		}
		raw, ok := m[tag]
		if !ok {
			continue
		}
		fv := v.Field(i)
		switch fv.Kind() {
		case reflect.String:
			fv.SetString(raw)
		case reflect.Int, reflect.Int64:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, Configuration("config key %q: %v", tag, err)
			}
			fv.SetInt(n)
		case reflect.Bool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, Configuration("config key %q: %v", tag, err)
			}
			fv.SetBool(b)
		default:
			return nil, errors.Errorf("config: unsupported field kind %s for key %q", fv.Kind(), tag)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants spec §7 calls out as synchronous
// Configuration errors: chunk size must be a positive power of two.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 || c.ChunkSize&(c.ChunkSize-1) != 0 {
		return Configuration("chunk_size %d is not a power of two", c.ChunkSize)
	}
	if c.MaxWorkers <= 0 {
		return Configuration("max_workers must be positive, got %d", c.MaxWorkers)
	}
	if c.MaxQueueDepth <= 0 {
		return Configuration("max_queue_depth must be positive, got %d", c.MaxQueueDepth)
	}
	if c.PoolMaxReadaheads <= 0 {
		return Configuration("pool_max_readaheads must be positive, got %d", c.PoolMaxReadaheads)
	}
	if c.PoolEncryptionKey != "" && c.PoolEncryptionPassphrase != "" {
		return Configuration("pool_encryption_key and pool_encryption_passphrase are mutually exclusive")
	}
	return nil
}
