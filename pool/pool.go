// Package pool implements Fruitbak's chunked, content-addressed storage
// pool: the admission-control and fair-sharing layer described in
// spec.md §4.3, together with the PoolAgent/Readahead scheduler built on
// top of it (§4.4, §4.5).
package pool

import (
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/wsldankers/fruitbak/fingerprint"
)

// defaultChunkRegistryCapacity bounds the number of chunks the Pool keeps
// cached by fingerprint. Not a spec.md §6 knob; a supplemental tuning
// parameter backing the "weak chunk registry" (invariant 5) — see
// DESIGN.md, Open Question 2, for why this is an LRU bound rather than a
// true weak reference.
const defaultChunkRegistryCapacity = 1024

// Pool is the admission-control and fair-sharing layer mediating every
// chunk operation. It owns the filter chain (as an opaque Handler), a
// bounded in-flight queue, a priority heap of ready agents, and a weak
// (LRU-bounded) chunk cache keyed by fingerprint (spec.md §3, §4.3).
//
// Lock discipline: a single mutex (mu) guards the Pool and every one of its
// agents' and readaheads' mutable state (spec.md §5). Go's sync.Mutex is
// not re-entrant, unlike the Python original's RLock, so every call site
// that needs the lock takes it exactly once, at the outermost entry, via
// runLocked: the closure passed to runLocked runs with the lock held and
// may freely call any *Locked helper (which assumes the lock is already
// held and never takes it itself); anything that must happen without the
// lock — actual backend I/O, completion callbacks — is appended to
// p.deferred and run only after runLocked has released the lock.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	root   Handler
	config *Config
	hash   fingerprint.Func

	chunkRegistry *lru.Cache

	agents *heapMap[*PoolAgent, int]

	queueDepth int

	// deferred work queued while mu is held, to run once it's released.
	deferred []func()
}

// New constructs a Pool over root (typically a filter chain terminated by
// a backend). cfg must already be validated (FromMap/Config.Validate do
// this); New re-checks chunk-size/hash-func compatibility once more
// because it is the point at which those become load-bearing.
func New(root Handler, cfg *Config) (*Pool, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hashFunc, _, err := fingerprint.New(cfg.HashAlgo)
	if err != nil {
		return nil, Configuration("%v", err)
	}

	p := &Pool{
		root:          root,
		config:        cfg,
		hash:          hashFunc,
		chunkRegistry: lru.New(defaultChunkRegistryCapacity),
		agents:        newHeapMap[*PoolAgent, int](func(a, b int) bool { return a < b }),
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// Config returns the pool's configuration.
func (p *Pool) Config() *Config { return p.config }

// HashFunc returns the pool's fingerprinting function.
func (p *Pool) HashFunc() fingerprint.Func { return p.hash }

// runLocked runs f with p.mu held, then runs whatever work f deferred
// (via p.deferLocked) after releasing the lock. f, and anything it calls
// transitively, must never call runLocked again on the same goroutine —
// there is exactly one lock acquisition per call to runLocked.
func (p *Pool) runLocked(f func()) {
	p.mu.Lock()
	f()
	todo := p.deferred
	p.deferred = nil
	p.mu.Unlock()
	for _, job := range todo {
		job()
	}
}

// deferLocked schedules job to run once the current runLocked's lock has
// been released. Caller must already hold p.mu (i.e. be inside a
// runLocked closure).
func (p *Pool) deferLocked(job func()) {
	p.deferred = append(p.deferred, job)
}

// Agent creates and returns a new PoolAgent, retained by the caller for the
// rest of its working session (spec.md §4.4).
func (p *Pool) Agent() *PoolAgent {
	a := &PoolAgent{
		pool:          p,
		cond:          p.cond,
		pendingWrites: newHeapMap[*Action, uint64](func(a, b uint64) bool { return a < b }),
		readaheads:    newHeapMap[*Readahead, readaheadKey](lessReadaheadKey),
		maxReadaheads: p.config.PoolMaxReadaheads,
	}
	return a
}

// registerAgentLocked inserts or refreshes agent's position in the
// scheduling heap, keyed by (avarice, insertion-serial) per spec.md §4.3.
func (p *Pool) registerAgentLocked(a *PoolAgent) {
	p.agents.Set(a, a.avarice())
}

// unregisterAgentLocked removes agent from the scheduling heap, if present.
func (p *Pool) unregisterAgentLocked(a *PoolAgent) {
	p.agents.Delete(a)
}

// replenishQueueLocked dispatches queued agent work while there is queue
// depth to spare, round-robining among agents of equal avarice
// (spec.md §4.3).
func (p *Pool) replenishQueueLocked() {
	for p.agents.Len() > 0 && p.queueDepth < p.config.MaxQueueDepth {
		a, _, ok := p.agents.PeekItem()
		if !ok {
			break
		}
		a.dequeueLocked()
	}
}

// chunkKey renders a fingerprint into the string key the LRU cache uses.
func chunkKey(fp fingerprint.Fingerprint) string { return string(fp) }

// afterBackendOpLocked is the bookkeeping every one of the four backend
// operations performs on completion: decrement queueDepth, try to dispatch
// more queued work, and wake anyone waiting on the shared condition
// variable (agents polling their mailhook, Agent.Sync waiting on a write
// serial).
func (p *Pool) afterBackendOpLocked() {
	p.queueDepth--
	p.replenishQueueLocked()
	p.cond.Broadcast()
}

// getChunkLocked dispatches a read through the root Handler, short
// circuiting via the weak chunk registry on a hit (spec.md §4.3: "before
// dispatching a read, the Pool looks up the fingerprint in its weak chunk
// registry"). Assumes p.mu held; callback always runs after the lock is
// released, whether the answer came from cache or from the backend.
func (p *Pool) getChunkLocked(fp fingerprint.Fingerprint, callback func(value []byte, err error)) {
	if cached, ok := p.chunkRegistry.Get(chunkKey(fp)); ok {
		value := cached.([]byte)
		p.deferLocked(func() { callback(value, nil) })
		return
	}

	p.queueDepth++
	p.deferLocked(func() {
		p.root.Get(fp, func(value []byte, err error) {
			p.runLocked(func() {
				p.afterBackendOpLocked()
				if err == nil {
					p.chunkRegistry.Add(chunkKey(fp), value)
				}
			})
			if err != nil {
				err = categorize("get", fp, err)
			}
			callback(value, err)
		})
	})
}

// putChunkLocked dispatches a write through the root Handler. Assumes p.mu held.
func (p *Pool) putChunkLocked(fp fingerprint.Fingerprint, value []byte, callback func(err error)) {
	p.queueDepth++
	p.deferLocked(func() {
		p.root.Put(fp, value, func(err error) {
			p.runLocked(func() { p.afterBackendOpLocked() })
			if err != nil {
				err = categorize("put", fp, err)
			}
			callback(err)
		})
	})
}

// delChunkLocked dispatches a delete through the root Handler. Assumes p.mu held.
func (p *Pool) delChunkLocked(fp fingerprint.Fingerprint, callback func(err error)) {
	p.chunkRegistry.Remove(chunkKey(fp))
	p.queueDepth++
	p.deferLocked(func() {
		p.root.Del(fp, func(err error) {
			p.runLocked(func() { p.afterBackendOpLocked() })
			if err != nil {
				err = categorize("del", fp, err)
			}
			callback(err)
		})
	})
}

// hasChunkLocked dispatches an existence check through the root Handler.
// Assumes p.mu held.
func (p *Pool) hasChunkLocked(fp fingerprint.Fingerprint, callback func(found bool, err error)) {
	if _, ok := p.chunkRegistry.Get(chunkKey(fp)); ok {
		p.deferLocked(func() { callback(true, nil) })
		return
	}

	p.queueDepth++
	p.deferLocked(func() {
		p.root.Has(fp, func(found bool, err error) {
			p.runLocked(func() { p.afterBackendOpLocked() })
			if err != nil {
				err = categorize("has", fp, err)
			}
			callback(found, err)
		})
	})
}

// QueueDepth returns the current number of in-flight backend operations
// (for tests/observability; invariant 2 of spec.md §3).
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queueDepth
}
