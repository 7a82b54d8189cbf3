package pool

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/wsldankers/fruitbak/fingerprint"
)

// mailboxEntry is one direct operation an agent has handed off to the
// scheduler but which has not yet been dispatched. Agents may queue more
// than one — submitting a direct op never blocks the caller waiting for a
// previous one to drain — so the mailhook is a small FIFO of these, not a
// single slot (see DESIGN.md, supplemented from the authoritative
// original_source/fruitbak/pool/agent.py).
type mailboxEntry struct {
	invoke func()
}

func containsEntry(list []*mailboxEntry, e *mailboxEntry) bool {
	for _, x := range list {
		if x == e {
			return true
		}
	}
	return false
}

// PoolAgent is a session's handle onto the Pool: direct chunk operations
// (Has/Get/Put/Del) and any number of Readahead streams are all submitted
// through one PoolAgent, which the Pool uses as its unit of fair
// scheduling (spec.md §4.4). A PoolAgent is not safe for discarding
// mid-flight: call Sync before dropping the last reference if any writes
// are outstanding and their errors matter.
type PoolAgent struct {
	pool *Pool
	cond *sync.Cond

	pendingReads  int
	pendingWrites *heapMap[*Action, uint64]
	mailhook      []*mailboxEntry

	readaheads        *heapMap[*Readahead, readaheadKey]
	totalReadaheads   int
	pendingReadaheads int
	maxReadaheads     int

	nextActionSerial uint64

	// exception is the sticky error most recently observed by any operation
	// this agent has dispatched since the last Sync; Sync drains it.
	exception error
}

// avarice is the agent's current scheduling weight: the smaller it is,
// the sooner the Pool services this agent relative to its peers
// (spec.md §4.3). It is recomputed every time the agent is (re)registered
// rather than cached, since every input to it changes the moment any of
// the agent's operations start or finish.
func (a *PoolAgent) avarice() int {
	if len(a.mailhook) > 0 || a.pendingWrites.Len() > 0 || a.pendingReads > 0 {
		return a.pendingWrites.Len() + a.pendingReads + a.pendingReadaheads
	}

	_, key, ok := a.readaheads.PeekItem()
	if !ok {
		return a.pendingReadaheads
	}
	if key.spent && key.length == 0 {
		return a.pendingReadaheads
	}
	if key.length > 0 || a.totalReadaheads < a.maxReadaheads {
		return max(a.totalReadaheads, a.pendingReadaheads)
	}
	return a.pendingReadaheads
}

// eligibleReadaheadLocked returns the readahead the Pool should advance
// next on this agent's behalf, or nil if none is eligible right now:
// either the agent has no readaheads, its best one is already exhausted,
// or its best one still has items queued and the agent's prefetch window
// is already full (spec.md §4.5).
func (a *PoolAgent) eligibleReadaheadLocked() *Readahead {
	r, key, ok := a.readaheads.PeekItem()
	if !ok {
		return nil
	}
	if key.spent {
		return nil
	}
	if key.length > 0 && a.totalReadaheads >= a.maxReadaheads {
		return nil
	}
	return r
}

// registerAgentLocked (re)inserts the agent into the Pool's scheduling
// heap with its current avarice. Assumes the pool's lock is held.
func (a *PoolAgent) registerAgentLocked() {
	a.pool.registerAgentLocked(a)
}

// registerReadaheadLocked (re)positions r in the agent's own readahead
// heap, or drops it once it is fully spent and drained, then refreshes
// the agent's own registration with the Pool — advancing or draining a
// readahead always changes the agent's avarice. Assumes the lock is held.
func (a *PoolAgent) registerReadaheadLocked(r *Readahead) {
	if r.spent && len(r.queue) == 0 {
		a.unregisterReadaheadLocked(r)
	} else {
		a.readaheads.Set(r, r.key())
	}
	a.updateRegistrationLocked()
}

func (a *PoolAgent) unregisterReadaheadLocked(r *Readahead) {
	a.readaheads.Delete(r)
}

// updateRegistrationLocked re-derives whether this agent belongs in the
// Pool's scheduling heap at all: an agent with queued direct work always
// stays registered; one with operations in flight steps aside until they
// finish; otherwise it stays registered only as long as it has an
// eligible readahead to advance (spec.md §4.4).
func (a *PoolAgent) updateRegistrationLocked() {
	p := a.pool
	switch {
	case len(a.mailhook) > 0:
		p.registerAgentLocked(a)
		logScheduleDecision(logrus.DebugLevel, "agent registered", logrus.Fields{"reason": "mailhook pending"})
	case a.pendingReads > 0 || a.pendingWrites.Len() > 0:
		p.unregisterAgentLocked(a)
		logScheduleDecision(logrus.DebugLevel, "agent unregistered", logrus.Fields{"reason": "operations in flight"})
	case a.eligibleReadaheadLocked() == nil:
		p.unregisterAgentLocked(a)
		logScheduleDecision(logrus.DebugLevel, "agent unregistered", logrus.Fields{"reason": "no eligible readahead"})
	default:
		p.registerAgentLocked(a)
		logScheduleDecision(logrus.DebugLevel, "agent registered", logrus.Fields{"reason": "eligible readahead"})
	}
	p.replenishQueueLocked()
}

// dequeueLocked is the Pool's entry point for giving this agent its turn:
// drain one queued direct operation if there is one, step aside while
// operations it already dispatched are in flight, or else advance its
// best eligible readahead. Called only from Pool.replenishQueueLocked,
// which holds the lock throughout — including while entry.invoke() and
// Readahead.dequeueLocked() run, both of which only ever mutate state or
// hand work to Pool.deferLocked, never block or re-take the lock.
func (a *PoolAgent) dequeueLocked() {
	p := a.pool

	if len(a.mailhook) > 0 {
		entry := a.mailhook[0]
		a.mailhook = a.mailhook[1:]
		a.cond.Broadcast()
		logScheduleDecision(logrus.TraceLevel, "dispatching direct operation", logrus.Fields{"mailhook_depth": len(a.mailhook)})
		entry.invoke()
		return
	}

	if a.pendingWrites.Len() > 0 || a.pendingReads > 0 {
		p.unregisterAgentLocked(a)
		logScheduleDecision(logrus.TraceLevel, "stepping aside, operations already in flight", logrus.Fields{
			"pending_writes": a.pendingWrites.Len(),
			"pending_reads":  a.pendingReads,
		})
		return
	}

	r := a.eligibleReadaheadLocked()
	if r == nil {
		p.unregisterAgentLocked(a)
		logScheduleDecision(logrus.TraceLevel, "no eligible readahead", nil)
		return
	}
	logScheduleDecision(logrus.TraceLevel, "advancing readahead", nil)
	r.dequeueLocked()
}

// submitDirect hands a direct operation off to the scheduler and waits
// for it to be dispatched; if wait is true it additionally blocks until
// the operation itself completes. invoke runs with the pool's lock held,
// once the scheduler picks this entry off the mailhook.
func (a *PoolAgent) submitDirect(kind Kind, fp fingerprint.Fingerprint, invoke func(action *Action), wait bool) (*Action, error) {
	action := newAction(kind, fp)
	entry := &mailboxEntry{}
	entry.invoke = func() { invoke(action) }

	p := a.pool
	p.runLocked(func() {
		a.mailhook = append(a.mailhook, entry)
		a.registerAgentLocked()
		p.replenishQueueLocked()
	})

	p.mu.Lock()
	for containsEntry(a.mailhook, entry) {
		a.cond.Wait()
	}
	p.mu.Unlock()

	if !wait {
		return action, nil
	}
	err := action.Wait()
	return action, err
}

// checkSticky reports (and does not clear) the agent's sticky exception,
// if any, tagged as ErrUsage — Put and Del refuse to submit further writes
// once any operation on this agent has failed, mirroring agent.py's guard
// at the top of put_chunk/del_chunk.
func (a *PoolAgent) checkSticky() error {
	var err error
	a.pool.runLocked(func() { err = a.exception })
	return wrapError(ErrUsage, err)
}

// HasChunk reports whether fp is present in the pool. If wait is false
// the returned Action is still in flight; call action.WaitFound to block
// for its result later.
func (a *PoolAgent) HasChunk(fp fingerprint.Fingerprint, wait bool) (*Action, error) {
	return a.submitDirect(KindHas, fp, func(action *Action) {
		a.pendingReads++
		a.pool.hasChunkLocked(fp, func(found bool, err error) {
			a.pool.runLocked(func() {
				a.pendingReads--
				a.updateRegistrationLocked()
				if err != nil {
					a.exception = err
				}
				action.complete(nil, found, err)
				a.cond.Broadcast()
			})
		})
	}, wait)
}

// GetChunk retrieves the value stored for fp. If wait is false the
// returned Action is still in flight; call action.WaitValue to block for
// its result later.
func (a *PoolAgent) GetChunk(fp fingerprint.Fingerprint, wait bool) (*Action, error) {
	return a.submitDirect(KindGet, fp, func(action *Action) {
		a.pendingReads++
		a.pool.getChunkLocked(fp, func(value []byte, err error) {
			a.pool.runLocked(func() {
				a.pendingReads--
				a.updateRegistrationLocked()
				if err != nil {
					a.exception = err
				}
				action.complete(value, false, err)
				a.cond.Broadcast()
			})
		})
	}, wait)
}

// PutChunk stores value under fp, deduplicating if the pool already has
// it (spec.md §3). Fails immediately, without submitting, if an earlier
// operation on this agent has already failed and not yet been synced away.
func (a *PoolAgent) PutChunk(fp fingerprint.Fingerprint, value []byte, wait bool) (*Action, error) {
	if err := a.checkSticky(); err != nil {
		return nil, err
	}
	return a.submitDirect(KindPut, fp, func(action *Action) {
		a.nextActionSerial++
		a.pendingWrites.Set(action, a.nextActionSerial)
		a.pool.putChunkLocked(fp, value, func(err error) {
			a.pool.runLocked(func() {
				a.pendingWrites.Delete(action)
				a.updateRegistrationLocked()
				if err != nil {
					a.exception = err
				}
				action.complete(nil, false, err)
				a.cond.Broadcast()
			})
		})
	}, wait)
}

// DelChunk removes fp from the pool. Fails immediately, without
// submitting, if an earlier operation on this agent has already failed and
// not yet been synced away.
func (a *PoolAgent) DelChunk(fp fingerprint.Fingerprint, wait bool) (*Action, error) {
	if err := a.checkSticky(); err != nil {
		return nil, err
	}
	return a.submitDirect(KindDel, fp, func(action *Action) {
		a.nextActionSerial++
		a.pendingWrites.Set(action, a.nextActionSerial)
		a.pool.delChunkLocked(fp, func(err error) {
			a.pool.runLocked(func() {
				a.pendingWrites.Delete(action)
				a.updateRegistrationLocked()
				if err != nil {
					a.exception = err
				}
				action.complete(nil, false, err)
				a.cond.Broadcast()
			})
		})
	}, wait)
}

// Readahead starts a new prefetch stream driven by it, scheduled
// alongside this agent's other work (spec.md §4.5).
func (a *PoolAgent) Readahead(it Iterator) *Readahead {
	r := &Readahead{agent: a, iterator: it}
	a.pool.runLocked(func() {
		a.registerReadaheadLocked(r)
	})
	return r
}

// Lister enumerates every fingerprint currently stored. Listing bypasses
// the scheduler entirely: it is metadata-only and does not compete with
// chunk reads/writes for queue depth.
func (a *PoolAgent) Lister() Lister {
	return a.pool.root.List()
}

// Sync blocks until every write this agent has submitted so far has
// completed, then returns (and clears) the agent's sticky exception, if
// any — the barrier operation spec.md §4.4 calls for before an agent can
// trust that its writes are durable.
func (a *PoolAgent) Sync() error {
	p := a.pool

	var target uint64
	p.runLocked(func() {
		target = a.nextActionSerial
	})

	if target > 0 {
		p.runLocked(func() {
			for {
				serial, ok := a.pendingWrites.Peek()
				if !ok || serial > target {
					return
				}
				a.cond.Wait()
			}
		})
	}

	var err error
	p.runLocked(func() {
		err = a.exception
		a.exception = nil
	})
	return err
}
