package pool

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/wsldankers/fruitbak/fingerprint"
)

// Error kinds surfaced by the storage engine. Callers test category
// membership with errors.Is(err, pool.ErrNotFound) etc; the human-readable
// chain produced by Wrap still carries the concrete backend/filter detail.
var (
	// ErrNotFound is returned by Get when the fingerprint has never been stored.
	ErrNotFound = errors.New("fruitbak/pool: chunk not found")

	// ErrBackendIO wraps a terminal storage failure (disk full, permission
	// denied, transaction abort, ...).
	ErrBackendIO = errors.New("fruitbak/pool: backend I/O failure")

	// ErrFilterError is the category Filter tags a compression/encryption/
	// decryption failure with. The pool's own dispatch does not apply it: a
	// failure a filter reports through its callback, tampered ciphertext
	// included, is categorised as ErrBackendIO by categorize.
	ErrFilterError = errors.New("fruitbak/pool: filter failure")

	// ErrConfiguration is raised synchronously by Config.Validate, FromMap
	// and New: chunk size not a power of two, a non-positive worker,
	// queue-depth or readahead setting, both an encryption key and a
	// passphrase set, an unparseable value or an unknown hash algorithm.
	// filter.NewEncryptor's key and fingerprint-size errors are plain errors
	// and do not carry this category.
	ErrConfiguration = errors.New("fruitbak/pool: invalid configuration")

	// ErrUsage is returned by PutChunk/DelChunk for a write attempted while
	// a sticky error is pending. Queuing several direct ops from one agent
	// is allowed and is not reported as an error.
	ErrUsage = errors.New("fruitbak/pool: usage error")
)

// wrappedError pairs a sentinel category with the concrete cause so that
// errors.Is(err, category) keeps working after the error has travelled
// through Agent.Sync or a filter chain.
type wrappedError struct {
	category error
	cause    error
}

func (e *wrappedError) Error() string {
	if e.cause == nil {
		return e.category.Error()
	}
	return fmt.Sprintf("%s: %s", e.category.Error(), e.cause.Error())
}

func (e *wrappedError) Unwrap() error { return e.category }

// Cause lets github.com/pkg/errors.Cause() reach through to the underlying
// backend/filter error for logging.
func (e *wrappedError) Cause() error {
	if e.cause != nil {
		return e.cause
	}
	return e.category
}

// wrapError tags err with category so errors.Is(result, category) succeeds.
// A nil err yields a nil result, matching ordinary error-wrapping idiom.
func wrapError(category error, err error) error {
	if err == nil {
		return nil
	}
	return &wrappedError{category: category, cause: err}
}

// notFoundSignal lets a backend or filter mark an error as a missing-chunk
// condition without this package needing to import backend or filter
// (those packages intentionally don't import pool, to avoid a cycle;
// backend.notFoundError implements this structurally instead).
type notFoundSignal interface{ NotFound() bool }

// categorize wraps the raw error a Handler callback reported into one of
// the sentinel categories above, so errors.Is(result, pool.ErrNotFound) /
// errors.Is(result, pool.ErrBackendIO) work regardless of which concrete
// backend or filter produced it. Assumes err is non-nil.
func categorize(op string, fp fingerprint.Fingerprint, err error) error {
	if ns, ok := errors.Cause(err).(notFoundSignal); ok && ns.NotFound() {
		return wrapError(ErrNotFound, errors.Wrapf(err, "%s %s", op, fp.String()))
	}
	return wrapError(ErrBackendIO, errors.Wrapf(err, "%s %s", op, fp.String()))
}

// Filter wraps a compression/encryption failure raised by a filter.
func Filter(op string, err error) error {
	return wrapError(ErrFilterError, errors.Wrap(err, op))
}

// Configuration wraps a configuration-time validation failure.
func Configuration(msg string, args ...interface{}) error {
	return wrapError(ErrConfiguration, errors.Errorf(msg, args...))
}

// Usage wraps a caller-misuse condition.
func Usage(msg string, args ...interface{}) error {
	return wrapError(ErrUsage, errors.Errorf(msg, args...))
}
