// Package filter implements Fruitbak's filter chain: transforms that sit
// between a PoolAgent's operations and a terminal backend, each wrapping
// the same five-operation contract it delegates to (spec.md §4.2). A
// Filter is, structurally, itself a Handler — the Go rendition of
// `fruitbak/pool/handler.py`'s `Filter` base class, which subclasses
// `Handler` and forwards every call to `self.subordinate` by default.
package filter

import (
	"github.com/sirupsen/logrus"

	"github.com/wsldankers/fruitbak/fingerprint"
)

// log is the package's base entry; each concrete filter derives its own
// component-tagged entry from it (see compress.go/crypt.go).
var log = logrus.WithField("component", "filter")

// logIfEnabled emits msg at level on entry, skipping the logrus.Fields
// construction entirely unless that level is actually enabled for entry's
// logger — the "lazy field evaluation" idiom SPEC_FULL.md's ambient-logging
// section calls for, so that per-chunk filter logging costs nothing when
// the configured level doesn't want it.
func logIfEnabled(entry *logrus.Entry, level logrus.Level, msg string, fields logrus.Fields) {
	if !entry.Logger.IsLevelEnabled(level) {
		return
	}
	entry.WithFields(fields).Log(level, msg)
}

// Subordinate is the narrow handler contract a Filter wraps. It is
// identical in shape to pool.Handler; filter does not import pool (to
// avoid a pool <-> filter <-> backend import cycle) and instead relies on
// Go's structural typing — any pool.Handler satisfies Subordinate and
// vice versa.
type Subordinate interface {
	Has(fp fingerprint.Fingerprint, callback func(found bool, err error))
	Get(fp fingerprint.Fingerprint, callback func(value []byte, err error))
	Put(fp fingerprint.Fingerprint, value []byte, callback func(err error))
	Del(fp fingerprint.Fingerprint, callback func(err error))
	List() Lister
}

// Lister is the same type as pool.Lister and backend.Lister — see
// fingerprint.Lister for why this must be a type alias rather than a
// separately-declared interface with an identical method set.
type Lister = fingerprint.Lister

// Chain composes filters (innermost first) in front of a terminal
// Subordinate (typically a backend.Backend), returning the single
// Subordinate a Pool should be constructed with. Each wrap[i] receives the
// previous stage as its subordinate, so the last one listed is outermost
// and a Put passes through the filters in reverse listing order:
// `filter.Chain(terminal, encryptor, compressor)` compresses, then
// encrypts, then stores.
func Chain(terminal Subordinate, wrap ...func(Subordinate) Subordinate) Subordinate {
	h := terminal
	for _, w := range wrap {
		h = w(h)
	}
	return h
}
