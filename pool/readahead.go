package pool

import "github.com/wsldankers/fruitbak/fingerprint"

// Iterator yields the sequence of fingerprints a Readahead prefetches, one
// call at a time. It must not block on I/O or take any lock of its own —
// it runs on the Pool's goroutine while the Pool's mutex is held (spec.md
// §4.5: readahead is driven off an already-resident manifest chunk list,
// so producing the next fingerprint is expected to be pure bookkeeping).
// ok == false with a nil error signals a clean end of sequence; a non-nil
// error is terminal and is surfaced to the agent as its sticky exception.
type Iterator func() (fp fingerprint.Fingerprint, ok bool, err error)

// readaheadKey is a Readahead's sort key within its owning agent's
// scheduling heap: not-yet-exhausted readaheads sort before exhausted
// ones, and among those, the one with the fewest outstanding (queued but
// unconsumed) items goes first — the Go rendition of the (spent, length)
// tuple PoolReadahead stores in agent.py's MinHeapMap.
type readaheadKey struct {
	spent  bool
	length int
}

func lessReadaheadKey(a, b readaheadKey) bool {
	if a.spent != b.spent {
		return !a.spent
	}
	return a.length < b.length
}

// Readahead is a single prefetch stream: an Iterator plus a FIFO window of
// in-flight/completed Actions bounded by its owning agent's
// PoolMaxReadaheads (spec.md §4.5). Call Next to consume items in order;
// the Pool advances the iterator on its own schedule, interleaved fairly
// with the agent's direct operations and its other readaheads.
type Readahead struct {
	agent    *PoolAgent
	iterator Iterator

	queue []*Action // FIFO of dispatched-but-not-yet-consumed actions
	spent bool      // iterator exhausted (or failed)
	err   error      // sticky iterator error, surfaced once queue drains
}

func (r *Readahead) key() readaheadKey {
	return readaheadKey{spent: r.spent, length: len(r.queue)}
}

// dequeueLocked advances the iterator by one step and, if it yielded a
// fingerprint, dispatches a prefetch read for it. Called only from
// PoolAgent.dequeueLocked, which already holds the pool's lock.
func (r *Readahead) dequeueLocked() {
	a := r.agent
	p := a.pool

	fp, ok, err := r.iterator()
	if err != nil {
		r.err = err
		a.exception = err
		r.spent = true
		a.registerReadaheadLocked(r)
		return
	}
	if !ok {
		r.spent = true
		a.registerReadaheadLocked(r)
		return
	}

	action := newAction(KindGet, fp)
	r.queue = append(r.queue, action)
	a.totalReadaheads++
	a.pendingReadaheads++
	a.registerReadaheadLocked(r)

	p.getChunkLocked(fp, func(value []byte, err error) {
		p.runLocked(func() {
			a.pendingReadaheads--
			if err != nil {
				a.exception = err
			}
			action.complete(value, false, err)
			a.registerReadaheadLocked(r)
			a.cond.Broadcast()
		})
	})
}

// Next blocks until the next prefetched chunk is available (or the stream
// is exhausted) and returns it. ok is false exactly once, at end of
// stream; err carries whatever the Iterator or a failed backend read
// reported.
func (r *Readahead) Next() (fp fingerprint.Fingerprint, value []byte, ok bool, err error) {
	a := r.agent
	p := a.pool

	var action *Action
	p.runLocked(func() {
		for len(r.queue) == 0 && !r.spent {
			a.cond.Wait()
		}
		if len(r.queue) == 0 {
			return
		}
		action = r.queue[0]
		r.queue = r.queue[1:]
		a.totalReadaheads--
		ok = true
		a.registerReadaheadLocked(r)
	})
	if !ok {
		return nil, nil, false, r.err
	}
	waitErr := action.Wait()
	return action.Fingerprint, action.Value, true, waitErr
}

// Close abandons the readahead stream: no further prefetches are issued
// and the stream stops competing for its agent's scheduling slot. Reads
// already dispatched to the backend are not cancelled, only untracked.
func (r *Readahead) Close() {
	a := r.agent
	a.pool.runLocked(func() {
		r.spent = true
		r.queue = nil
		a.unregisterReadaheadLocked(r)
	})
}
