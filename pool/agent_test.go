package pool

import (
	"testing"

	"github.com/wsldankers/fruitbak/internal/kvtest"
)

// newTestPool builds a real Pool (not newBareAgent's bare struct) for tests
// that need updateRegistrationLocked's interaction with the Pool's own
// scheduling heap, not just avarice()'s arithmetic.
func newTestPool(t *testing.T) *Pool {
	t.Helper()
	cfg := DefaultConfig()
	p, err := New(kvtest.New(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// newBareAgent builds a PoolAgent without going through Pool.Agent, so
// these tests can drive its internal counters directly without any
// backend or goroutine involved.
func newBareAgent() *PoolAgent {
	return &PoolAgent{
		pendingWrites: newHeapMap[*Action, uint64](func(a, b uint64) bool { return a < b }),
		readaheads:    newHeapMap[*Readahead, readaheadKey](lessReadaheadKey),
		maxReadaheads: 4,
	}
}

// These tests pin spec.md §4.3's four-case avarice formula, one test per
// branch of avarice() (Case2 and Case3 are the two triggers of the
// formula's second case), per SPEC_FULL.md §4's explicit instruction.

func TestAvariceCase1_DirectWorkDominates(t *testing.T) {
	a := newBareAgent()
	a.pendingReads = 2
	a.pendingReadaheads = 3
	a.pendingWrites.Set(&Action{}, 1)

	got := a.avarice()
	want := a.pendingWrites.Len() + a.pendingReads + a.pendingReadaheads
	if got != want {
		t.Fatalf("avarice() = %d, want %d", got, want)
	}
}

func TestAvariceCase1_TriggeredByMailhookAlone(t *testing.T) {
	a := newBareAgent()
	a.mailhook = append(a.mailhook, &mailboxEntry{invoke: func() {}})
	a.pendingReadaheads = 5

	got := a.avarice()
	if got != 5 {
		t.Fatalf("avarice() = %d, want 5 (pendingWrites=0 + pendingReads=0 + pendingReadaheads=5)", got)
	}
}

func TestAvariceCase2_NoReadaheadsAtAll(t *testing.T) {
	a := newBareAgent()
	a.pendingReadaheads = 7 // stale counter, no readahead registered

	got := a.avarice()
	if got != 7 {
		t.Fatalf("avarice() = %d, want pendingReadaheads (7) when readaheads is empty", got)
	}
}

func TestAvariceCase3_HeadReadaheadSpentAndEmpty(t *testing.T) {
	a := newBareAgent()
	r := &Readahead{agent: a, spent: true}
	a.readaheads.Set(r, r.key())
	a.pendingReadaheads = 2

	got := a.avarice()
	if got != 2 {
		t.Fatalf("avarice() = %d, want pendingReadaheads (2) when head readahead is spent+empty", got)
	}
}

func TestAvariceCase4_QueuedItemsUnderCapWindow(t *testing.T) {
	a := newBareAgent()
	r := &Readahead{agent: a, queue: []*Action{{}, {}}} // length > 0
	a.readaheads.Set(r, r.key())
	a.totalReadaheads = 3
	a.pendingReadaheads = 1

	got := a.avarice()
	want := max(a.totalReadaheads, a.pendingReadaheads)
	if got != want {
		t.Fatalf("avarice() = %d, want max(totalReadaheads, pendingReadaheads) = %d", got, want)
	}
}

func TestAvariceCase4_UnderCapWithEmptyQueueStillCounts(t *testing.T) {
	a := newBareAgent()
	r := &Readahead{agent: a} // not spent, empty queue
	a.readaheads.Set(r, r.key())
	a.totalReadaheads = 1 // under maxReadaheads (4)
	a.pendingReadaheads = 0

	got := a.avarice()
	want := max(a.totalReadaheads, a.pendingReadaheads)
	if got != want {
		t.Fatalf("avarice() = %d, want %d", got, want)
	}
}

func TestAvariceCase5_WindowFullAndQueueEmpty(t *testing.T) {
	a := newBareAgent()
	r := &Readahead{agent: a} // not spent, empty queue
	a.readaheads.Set(r, r.key())
	a.totalReadaheads = a.maxReadaheads // window full
	a.pendingReadaheads = 3

	got := a.avarice()
	if got != 3 {
		t.Fatalf("avarice() = %d, want pendingReadaheads (3) once the prefetch window is full and nothing is queued", got)
	}
}

func TestEligibleReadaheadLocked(t *testing.T) {
	t.Run("no readaheads", func(t *testing.T) {
		a := newBareAgent()
		if a.eligibleReadaheadLocked() != nil {
			t.Fatalf("expected nil with no readaheads registered")
		}
	})

	t.Run("head spent", func(t *testing.T) {
		a := newBareAgent()
		r := &Readahead{agent: a, spent: true}
		a.readaheads.Set(r, r.key())
		if a.eligibleReadaheadLocked() != nil {
			t.Fatalf("expected nil when the head readahead is spent")
		}
	})

	t.Run("queued items but window full", func(t *testing.T) {
		a := newBareAgent()
		r := &Readahead{agent: a, queue: []*Action{{}}}
		a.readaheads.Set(r, r.key())
		a.totalReadaheads = a.maxReadaheads
		if a.eligibleReadaheadLocked() != nil {
			t.Fatalf("expected nil when queue non-empty and window is at capacity")
		}
	})

	t.Run("eligible", func(t *testing.T) {
		a := newBareAgent()
		r := &Readahead{agent: a}
		a.readaheads.Set(r, r.key())
		if a.eligibleReadaheadLocked() != r {
			t.Fatalf("expected r to be eligible")
		}
	})
}

// TestReadCompletionReregistersAgentForReadahead pins the fix where
// HasChunk/GetChunk's completion callbacks must call
// updateRegistrationLocked, the same as PutChunk/DelChunk's do: an agent
// lazily unregistered from the Pool's scheduling heap while a direct read
// was in flight must be re-registered once that read completes, if it has
// an eligible readahead waiting — otherwise it stays parked forever.
func TestReadCompletionReregistersAgentForReadahead(t *testing.T) {
	p := newTestPool(t)
	a := p.Agent()

	r := &Readahead{agent: a}
	p.runLocked(func() {
		a.readaheads.Set(r, r.key())
		// simulate dequeueLocked's lazy-unregister branch: a direct read is
		// in flight, so the agent has already been taken out of the
		// scheduling heap even though it has an eligible readahead.
		a.pendingReads = 1
		p.unregisterAgentLocked(a)
		// hold the Pool's queue full so that re-registering the agent leaves
		// it waiting in the heap rather than being dequeued at once.
		p.queueDepth = p.config.MaxQueueDepth
	})

	if p.agents.Has(a) {
		t.Fatalf("agent should not be registered while a direct read is in flight")
	}

	// the read completes: pendingReads drops to zero and the completion
	// callback must reconsider the agent's registration.
	p.runLocked(func() {
		a.pendingReads--
		a.updateRegistrationLocked()
	})

	if !p.agents.Has(a) {
		t.Fatalf("agent should be re-registered after its read completed, since it has an eligible readahead")
	}
}

func TestContainsEntry(t *testing.T) {
	e1 := &mailboxEntry{}
	e2 := &mailboxEntry{}
	list := []*mailboxEntry{e1}

	if !containsEntry(list, e1) {
		t.Fatalf("expected list to contain e1")
	}
	if containsEntry(list, e2) {
		t.Fatalf("expected list not to contain e2")
	}
}
