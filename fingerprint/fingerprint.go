// Package fingerprint computes the content address of a chunk: a fixed
// width digest, deterministic for any given byte string (spec.md §3).
package fingerprint

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
)

// Func computes the fingerprint of a chunk's content.
type Func func(data []byte) Fingerprint

// Lister is a pull-based cursor over a fingerprint listing: Next returns
// ok == false exactly once, when the listing is exhausted, and a non-nil
// error on any call is terminal (further calls return the same error).
// pool.Lister, backend.Lister, and filter.Lister are all aliases of this
// single type rather than independently-declared lookalikes, so that a
// Filesystem/Bolt/LevelDB backend's List method — and a Compressor's or
// Encryptor's wrapping List method — satisfy pool.Handler/filter.Subordinate
// without those packages importing one another: Go only treats two
// interface methods as identical when their named return types are
// literally the same type, not merely structurally equivalent, so without
// this shared alias the "structural typing avoids an import cycle" idea
// this module otherwise relies on would silently fail to compile.
type Lister interface {
	Next() (fp Fingerprint, ok bool, err error)
	Close() error
}

// Fingerprint is a chunk's content address: a fixed-width byte string whose
// length is determined by the configured hash function (default 32 bytes,
// SHA-256). Collisions are assumed impossible in practice.
type Fingerprint []byte

// String renders the fingerprint the way the filesystem backend encodes it
// on disk: URL-safe base64 without padding, using the `+_` alphabet spec.md
// §6 specifies (`[A-Za-z0-9+_]`).
func (fp Fingerprint) String() string {
	return base64.NewEncoding(b64Alphabet).WithPadding(base64.NoPadding).EncodeToString(fp)
}

// b64Alphabet is the alphabet spec.md §6 names for on-disk fingerprint
// encoding: standard base64 with '/' swapped for '_', matching the
// original fruitbak filesystem backend's `b64bytes = b'+_'` substitution.
const b64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+_"

// Encoding is the shared base64 codec for fingerprint<->path conversion.
var Encoding = base64.NewEncoding(b64Alphabet).WithPadding(base64.NoPadding)

// New returns the Func for the named hash algorithm. Only "sha256" (the
// spec's default) is implemented; the registry is a single switch rather
// than a plugin map because spec.md explicitly forbids hot reconfiguration
// of the hash function after pool creation, so there is no benefit to
// indirection here.
func New(algo string) (Func, int, error) {
	switch algo {
	case "", "sha256":
		return func(data []byte) Fingerprint {
			sum := sha256.Sum256(data)
			return Fingerprint(sum[:])
		}, sha256.Size, nil
	default:
		return nil, 0, fmt.Errorf("fingerprint: unsupported hash_algo %q", algo)
	}
}

// NewHasher returns a fresh, resettable hash.Hash for algo, for callers
// (e.g. streaming chunkers) that want to feed data incrementally instead
// of hashing a single byte slice.
func NewHasher(algo string) (hash.Hash, error) {
	switch algo {
	case "", "sha256":
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("fingerprint: unsupported hash_algo %q", algo)
	}
}

// IsPowerOfTwo reports whether n is a positive power of two, the
// constraint spec.md §3 places on chunk_size.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
