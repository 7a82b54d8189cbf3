package pool

import "github.com/wsldankers/fruitbak/fingerprint"

// Handler is the narrow, asynchronous contract both terminal backends
// (pool/backend) and filters (pool/filter) implement — the Go rendition of
// fruitbak/pool/handler.py's Handler/Filter base classes. A FilterChain is
// simply a Handler built by wrapping another Handler; a Backend is a
// Handler with nothing further to delegate to. The Pool holds exactly one
// Handler (its "root") and never cares whether it's a bare backend or a
// stack of filters over one.
//
// Every method is asynchronous: it returns immediately having arranged for
// callback to run exactly once, on some goroutine, when the operation
// completes. This mirrors spec.md §4.1's backend contract and lets the
// Pool multiplex many in-flight operations without one goroutine per
// operation blocking on I/O.
type Handler interface {
	Has(fp fingerprint.Fingerprint, callback func(found bool, err error))
	Get(fp fingerprint.Fingerprint, callback func(value []byte, err error))
	Put(fp fingerprint.Fingerprint, value []byte, callback func(err error))
	Del(fp fingerprint.Fingerprint, callback func(err error))

	// List returns a Lister that enumerates every fingerprint currently
	// stored, in whatever order the terminal backend finds cheapest to
	// produce (spec.md §4.1).
	List() Lister
}

// Lister is a pull-based cursor over a backend's fingerprint listing. Next
// returns ok == false exactly once, when the listing is exhausted; a
// non-nil error on any call is terminal and further calls return the
// same error.
//
// This is a type alias, not a new interface, so that backend.Lister and
// filter.Lister (declared the same way in their own packages, to avoid an
// import of pool) are the exact same type as this one — required for a
// Backend's or Filter's List method to satisfy Handler's, since Go compares
// named return types for identity, not structural equivalence.
type Lister = fingerprint.Lister
