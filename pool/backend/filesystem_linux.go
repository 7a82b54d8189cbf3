//go:build linux

package backend

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// putViaTemp writes value into an anonymous, unlinked file created with
// O_TMPFILE inside bucketDir, then gives it its final name by linking
// through /proc/self/fd — the fast path `LinuxFilesystem.tmpfile`/
// `put_chunk` use in `original_source/fruitbak/pool/storage/filesystem.py`
// to avoid ever exposing a half-written file under a discoverable name.
// EEXIST on the final link is swallowed: another writer already produced
// the same chunk, which is the expected idempotent-put outcome.
func (f *Filesystem) putViaTemp(bucketDir, full string, value []byte) error {
	fd, err := unix.Open(bucketDir, unix.O_TMPFILE|unix.O_WRONLY, 0o440)
	if err != nil {
		return err
	}
	file := os.NewFile(uintptr(fd), bucketDir)
	defer file.Close()

	if _, err := file.Write(value); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		return err
	}

	procPath := fmt.Sprintf("/proc/self/fd/%d", fd)
	if err := unix.Linkat(unix.AT_FDCWD, procPath, unix.AT_FDCWD, full, unix.AT_SYMLINK_FOLLOW); err != nil {
		if err == unix.EEXIST {
			return nil
		}
		return err
	}
	return nil
}
