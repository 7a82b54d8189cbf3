package backend

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/wsldankers/fruitbak/fingerprint"
)

var fsLog = log.WithField("component", "filesystem")

// Filesystem is a Backend storing one chunk per file, named and bucketed
// by its fingerprint's base64 encoding (spec.md §4.1.1,
// `original_source/fruitbak/pool/storage/filesystem.py`). Every
// fingerprint F is split into a two-character directory prefix and a
// remainder file name; FS.MkdirAll(prefix) happens lazily, on first write
// into a not-yet-existing bucket.
type Filesystem struct {
	root    string
	workers *WorkerPool

	dirNameRE  *regexp.Regexp
	fileNameRE *regexp.Regexp
}

var _ interface {
	Has(fingerprint.Fingerprint, func(bool, error))
	Get(fingerprint.Fingerprint, func([]byte, error))
	Put(fingerprint.Fingerprint, []byte, func(error))
	Del(fingerprint.Fingerprint, func(error))
} = (*Filesystem)(nil)

// NewFilesystem opens (creating if necessary) a Filesystem backend rooted
// at dir, using workers worker goroutines for blocking file I/O.
func NewFilesystem(dir string, workers int) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "creating pool directory")
	}
	// [A-Za-z0-9+_]: the URL-safe-with-underscore alphabet spec.md §6 names.
	return &Filesystem{
		root:       dir,
		workers:    NewWorkerPool(workers),
		dirNameRE:  regexp.MustCompile(`^[A-Za-z0-9+_]{2}$`),
		fileNameRE: regexp.MustCompile(`^[A-Za-z0-9+_]+$`),
	}, nil
}

// path splits fp's base64 rendering into a two-char bucket directory and
// the remainder file name.
func (f *Filesystem) path(fp fingerprint.Fingerprint) (dir, name, full string) {
	b64 := fp.String()
	if len(b64) <= 2 {
		dir, name = "", b64
	} else {
		dir, name = b64[:2], b64[2:]
	}
	return dir, name, filepath.Join(f.root, dir, name)
}

func (f *Filesystem) Has(fp fingerprint.Fingerprint, callback func(found bool, err error)) {
	_, _, full := f.path(fp)
	f.workers.Submit(func() {
		_, err := os.Stat(full)
		switch {
		case err == nil:
			callback(true, nil)
		case os.IsNotExist(err):
			callback(false, nil)
		default:
			callback(false, IOError("has", fp, err))
		}
	})
}

func (f *Filesystem) Get(fp fingerprint.Fingerprint, callback func(value []byte, err error)) {
	_, _, full := f.path(fp)
	f.workers.Submit(func() {
		data, err := os.ReadFile(full)
		if err != nil {
			if os.IsNotExist(err) {
				callback(nil, ErrNotFound(fp))
				return
			}
			callback(nil, IOError("get", fp, err))
			return
		}
		callback(data, nil)
	})
}

func (f *Filesystem) Put(fp fingerprint.Fingerprint, value []byte, callback func(err error)) {
	dir, _, full := f.path(fp)
	f.workers.Submit(func() {
		if _, err := os.Stat(full); err == nil {
			callback(nil)
			return
		}
		bucketDir := filepath.Join(f.root, dir)
		err := f.putViaTemp(bucketDir, full, value)
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(bucketDir, 0o750); mkErr != nil {
				callback(IOError("put", fp, mkErr))
				return
			}
			err = f.putViaTemp(bucketDir, full, value)
		}
		if err != nil {
			callback(IOError("put", fp, err))
			return
		}
		logIfEnabled(fsLog, logrus.DebugLevel, "linked chunk", logrus.Fields{"fp": fp.String()})
		callback(nil)
	})
}

func (f *Filesystem) Del(fp fingerprint.Fingerprint, callback func(err error)) {
	_, _, full := f.path(fp)
	f.workers.Submit(func() {
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			callback(IOError("del", fp, err))
			return
		}
		callback(nil)
	})
}

// List enumerates every stored fingerprint, lexicographically by decoded
// bucket directory then file name, the order spec.md §4.1.1 calls for.
// Unlike the Python original's per-directory lazy cursor, this
// implementation gathers the directory listing synchronously (directory
// entries are assumed to fit comfortably in memory for any pool this
// package is sized for) and only defers the per-bucket file scan.
func (f *Filesystem) List() Lister {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return &filesystemLister{err: errors.Wrap(err, "listing pool directory")}
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && f.dirNameRE.MatchString(e.Name()) {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Slice(dirs, func(i, j int) bool {
		// Pad each two-character name to a whole base64 quantum so it
		// decodes to bytes that compare in fingerprint order.
		a, _ := fingerprint.Encoding.DecodeString(dirs[i] + "AA")
		b, _ := fingerprint.Encoding.DecodeString(dirs[j] + "AA")
		return bytes.Compare(a, b) < 0
	})
	return &filesystemLister{fs: f, dirs: dirs}
}

type filesystemLister struct {
	fs   *Filesystem
	dirs []string

	dirIdx int
	files  []string
	fileI  int

	err error
}

func (l *filesystemLister) Next() (fingerprint.Fingerprint, bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	for {
		if l.fileI < len(l.files) {
			name := l.files[l.fileI]
			l.fileI++
			fp, err := fingerprint.Encoding.DecodeString(l.dirs[l.dirIdx-1] + name)
			if err != nil {
				l.err = errors.Wrap(err, "decoding fingerprint")
				return nil, false, l.err
			}
			return fingerprint.Fingerprint(fp), true, nil
		}
		if l.dirIdx >= len(l.dirs) {
			return nil, false, nil
		}
		dir := l.dirs[l.dirIdx]
		l.dirIdx++
		entries, err := os.ReadDir(filepath.Join(l.fs.root, dir))
		if err != nil {
			if os.IsNotExist(err) {
				l.files, l.fileI = nil, 0
				continue
			}
			l.err = errors.Wrapf(err, "listing bucket %s", dir)
			return nil, false, l.err
		}
		l.files = l.files[:0]
		l.fileI = 0
		for _, e := range entries {
			if !e.IsDir() && l.fs.fileNameRE.MatchString(e.Name()) {
				l.files = append(l.files, e.Name())
			}
		}
		sort.Strings(l.files)
	}
}

func (l *filesystemLister) Close() error { return nil }
