//go:build !linux

package backend

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// putViaTemp writes value to a randomly-named file in bucketDir (O_EXCL,
// so a name collision is essentially impossible), fsyncs it, hard-links
// it into its final name, and always removes the temporary name
// afterwards — the portable fallback
// `original_source/fruitbak/pool/storage/filesystem.py`'s base
// `Filesystem.NamedTemporaryFile` uses on platforms without O_TMPFILE.
// EEXIST on the final link is swallowed: another writer already produced
// the same chunk, which is the expected idempotent-put outcome.
func (f *Filesystem) putViaTemp(bucketDir, full string, value []byte) error {
	var suffix [16]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return err
	}
	tmpPath := filepath.Join(bucketDir, fmt.Sprintf("tmp-%d-%s", os.Getpid(), hex.EncodeToString(suffix[:])))

	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o440)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)
	defer tmp.Close()

	if _, err := tmp.Write(value); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := os.Link(tmpPath, full); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}
