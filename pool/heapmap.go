package pool

import "container/heap"

// heapMap is an indexed min-heap: a priority queue that also supports O(1)
// key lookup and O(log n) re-priority-on-reassignment, the Go rendition of
// fruitbak/util/heapmap.py's MinHeapMap (see DESIGN.md). Ties in the
// caller-supplied ordering are broken by insertion order: every call to Set
// — including one that merely updates an existing key's value — assigns a
// fresh internal serial, so repeatedly re-registering an already-present
// key moves it to the back of its priority class. That single behaviour is
// what gives the scheduler both "smallest avarice wins" and "round-robin
// among equally needy agents" (spec.md §4.3) without the pool needing to
// track a serial by hand.
//
// The "weak" flavour of the Python original (MinWeakHeapMap, used for the
// agent-scheduling heap and the chunk registry) has no equivalent here:
// idiomatic Go has no usable public weak-reference/weak-map API, so
// membership is instead managed explicitly by Register/Unregister calls
// rather than by garbage collection. See DESIGN.md, Open Question 2.
type heapMap[K comparable, V any] struct {
	items []*heapMapNode[K, V]
	index map[K]int
	less  func(a, b V) bool
	next  uint64
}

type heapMapNode[K comparable, V any] struct {
	key    K
	value  V
	serial uint64
}

func newHeapMap[K comparable, V any](less func(a, b V) bool) *heapMap[K, V] {
	return &heapMap[K, V]{
		index: make(map[K]int),
		less:  less,
	}
}

// heapMapSlice adapts heapMap to container/heap.Interface.
type heapMapSlice[K comparable, V any] struct{ m *heapMap[K, V] }

func (s heapMapSlice[K, V]) Len() int { return len(s.m.items) }

func (s heapMapSlice[K, V]) Less(i, j int) bool {
	a, b := s.m.items[i], s.m.items[j]
	if s.m.less(a.value, b.value) {
		return true
	}
	if s.m.less(b.value, a.value) {
		return false
	}
	return a.serial < b.serial
}

func (s heapMapSlice[K, V]) Swap(i, j int) {
	s.m.items[i], s.m.items[j] = s.m.items[j], s.m.items[i]
	s.m.index[s.m.items[i].key] = i
	s.m.index[s.m.items[j].key] = j
}

func (s heapMapSlice[K, V]) Push(x any) {
	n := x.(*heapMapNode[K, V])
	s.m.index[n.key] = len(s.m.items)
	s.m.items = append(s.m.items, n)
}

func (s heapMapSlice[K, V]) Pop() any {
	old := s.m.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	s.m.items = old[:n-1]
	delete(s.m.index, item.key)
	return item
}

func (m *heapMap[K, V]) iface() heap.Interface { return heapMapSlice[K, V]{m} }

// Set inserts key with value, or updates its value if key is already
// present; either way it gets a fresh tie-break serial, which is what
// reproduces the "reinsert with a new insertion-serial" scheduling rule
// (spec.md §4.3) used by Pool.register_agent and PoolReadahead registration.
func (m *heapMap[K, V]) Set(key K, value V) {
	m.next++
	if i, ok := m.index[key]; ok {
		m.items[i].value = value
		m.items[i].serial = m.next
		heap.Fix(m.iface(), i)
		return
	}
	heap.Push(m.iface(), &heapMapNode[K, V]{key: key, value: value, serial: m.next})
}

// Delete removes key if present; it is a no-op otherwise (mirroring
// unregister_agent/unregister_readahead's KeyError-swallowing behaviour).
func (m *heapMap[K, V]) Delete(key K) {
	i, ok := m.index[key]
	if !ok {
		return
	}
	heap.Remove(m.iface(), i)
}

// Get returns the value stored for key.
func (m *heapMap[K, V]) Get(key K) (V, bool) {
	i, ok := m.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	return m.items[i].value, true
}

// Has reports whether key is currently registered.
func (m *heapMap[K, V]) Has(key K) bool {
	_, ok := m.index[key]
	return ok
}

// Len returns the number of registered keys.
func (m *heapMap[K, V]) Len() int { return len(m.items) }

// Peek returns the value at the top of the heap without removing it.
func (m *heapMap[K, V]) Peek() (V, bool) {
	if len(m.items) == 0 {
		var zero V
		return zero, false
	}
	return m.items[0].value, true
}

// PeekItem returns the (key, value) pair at the top of the heap without
// removing it — Pool.replenish_queue and PoolAgent.eligible_readahead both
// inspect the top entry and decide whether to act on it rather than
// unconditionally popping it.
func (m *heapMap[K, V]) PeekItem() (K, V, bool) {
	if len(m.items) == 0 {
		var zeroK K
		var zeroV V
		return zeroK, zeroV, false
	}
	return m.items[0].key, m.items[0].value, true
}
