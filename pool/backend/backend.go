// Package backend implements the terminal storage layer of the chunk
// pool: concrete Handlers with nothing further to delegate to (spec.md
// §4.1). Every backend in this package is asynchronous, running its
// actual I/O on a worker pool and reporting back through a callback, the
// same contract pool.Handler describes.
package backend

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/wsldankers/fruitbak/fingerprint"
)

// log is the package's base entry; each concrete backend derives its own
// component-tagged entry from it (see filesystem.go/bolt.go/leveldb.go).
var log = logrus.WithField("component", "backend")

// logIfEnabled emits msg at level on entry, skipping the logrus.Fields
// construction entirely unless that level is actually enabled for entry's
// logger — the "lazy field evaluation" idiom SPEC_FULL.md's ambient-logging
// section calls for, so that per-chunk backend logging costs nothing when
// the configured level doesn't want it.
func logIfEnabled(entry *logrus.Entry, level logrus.Level, msg string, fields logrus.Fields) {
	if !entry.Logger.IsLevelEnabled(level) {
		return
	}
	entry.WithFields(fields).Log(level, msg)
}

// Lister is the same type as pool.Lister and filter.Lister (a type alias
// over fingerprint.Lister, not an independently-declared lookalike) so
// that every concrete backend's List method satisfies pool.Handler without
// this package importing pool (see IOError's comment below for why it
// doesn't; see fingerprint.Lister for why the alias, not a fresh
// interface, is required).
type Lister = fingerprint.Lister

// Backend is the asynchronous contract every backend in this package
// implements, the same method set as pool.Handler.
type Backend interface {
	Has(fp fingerprint.Fingerprint, callback func(found bool, err error))
	Get(fp fingerprint.Fingerprint, callback func(value []byte, err error))
	Put(fp fingerprint.Fingerprint, value []byte, callback func(err error))
	Del(fp fingerprint.Fingerprint, callback func(err error))
	List() Lister
}

// IOError wraps cause with enough context to identify which backend
// operation failed, for the caller's callback argument. Categorisation as
// pool.ErrBackendIO happens one layer up, in pool/errors.go, since this
// package intentionally doesn't import pool (pool imports backend, not
// the other way around; see pool/handler.go).
func IOError(op string, fp fingerprint.Fingerprint, cause error) error {
	return errors.Wrapf(cause, "%s %s", op, fp.String())
}

// notFoundError marks cause as a "missing chunk" condition so that
// pool/errors.go's wrapper can recognise it and produce pool.ErrNotFound
// without this package needing to import pool.
type notFoundError struct{ fp fingerprint.Fingerprint }

func (e *notFoundError) Error() string { return "chunk not found: " + e.fp.String() }

// NotFound implements the structural interface pool/errors.go checks for,
// so the pool layer can categorize this error as ErrNotFound without
// importing this package.
func (e *notFoundError) NotFound() bool { return true }

// NotFound reports whether err signals a missing chunk, regardless of how
// many times it has been wrapped.
func NotFound(err error) bool {
	_, ok := errors.Cause(err).(*notFoundError)
	return ok
}

// ErrNotFound constructs the sentinel error Get reports for a missing
// fingerprint.
func ErrNotFound(fp fingerprint.Fingerprint) error {
	return &notFoundError{fp: fp}
}
