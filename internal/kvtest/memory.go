// Package kvtest provides a tiny in-memory backend satisfying
// pool.Handler/backend.Backend's contract, for use by the pool and filter
// packages' own tests. Every operation runs on its own goroutine, after an
// optional artificial delay — enough to exercise the scheduler's readahead
// ordering and fairness under randomized, out-of-order completion without
// standing up a real filesystem or database.
package kvtest

import (
	"sort"
	"sync"
	"time"

	"github.com/wsldankers/fruitbak/fingerprint"
	"github.com/wsldankers/fruitbak/pool/backend"
)

// Memory is a map-backed Backend. Zero value is ready to use.
type Memory struct {
	mu     sync.Mutex
	values map[string][]byte

	// Delay, if set, is called before every operation completes and
	// returns how long to sleep beforehand — the seeded-latency hook
	// scheduler fairness/readahead-ordering tests rely on.
	Delay func(op string) time.Duration
}

// New returns an empty Memory backend.
func New() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (m *Memory) sleep(op string) {
	if m.Delay == nil {
		return
	}
	if d := m.Delay(op); d > 0 {
		time.Sleep(d)
	}
}

func (m *Memory) Has(fp fingerprint.Fingerprint, callback func(found bool, err error)) {
	go func() {
		m.sleep("has")
		m.mu.Lock()
		_, ok := m.values[fp.String()]
		m.mu.Unlock()
		callback(ok, nil)
	}()
}

func (m *Memory) Get(fp fingerprint.Fingerprint, callback func(value []byte, err error)) {
	go func() {
		m.sleep("get")
		m.mu.Lock()
		value, ok := m.values[fp.String()]
		m.mu.Unlock()
		if !ok {
			callback(nil, backend.ErrNotFound(fp))
			return
		}
		callback(append([]byte(nil), value...), nil)
	}()
}

func (m *Memory) Put(fp fingerprint.Fingerprint, value []byte, callback func(err error)) {
	go func() {
		m.sleep("put")
		m.mu.Lock()
		key := fp.String()
		if m.values == nil {
			m.values = make(map[string][]byte)
		}
		if _, exists := m.values[key]; !exists {
			m.values[key] = append([]byte(nil), value...)
		}
		m.mu.Unlock()
		callback(nil)
	}()
}

func (m *Memory) Del(fp fingerprint.Fingerprint, callback func(err error)) {
	go func() {
		m.sleep("del")
		m.mu.Lock()
		delete(m.values, fp.String())
		m.mu.Unlock()
		callback(nil)
	}()
}

func (m *Memory) List() backend.Lister {
	m.mu.Lock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	sort.Strings(keys)
	return &memoryLister{keys: keys}
}

// Len reports how many chunks are currently stored, for test assertions.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

type memoryLister struct {
	keys []string
	pos  int
}

func (l *memoryLister) Next() (fingerprint.Fingerprint, bool, error) {
	if l.pos >= len(l.keys) {
		return nil, false, nil
	}
	key := l.keys[l.pos]
	l.pos++
	fp, err := fingerprint.Encoding.DecodeString(key)
	if err != nil {
		return nil, false, err
	}
	return fingerprint.Fingerprint(fp), true, nil
}

func (l *memoryLister) Close() error { return nil }
