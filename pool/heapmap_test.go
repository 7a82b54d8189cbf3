package pool

import "testing"

func TestHeapMapOrdersByValueThenInsertion(t *testing.T) {
	m := newHeapMap[string, int](func(a, b int) bool { return a < b })

	m.Set("a", 5)
	m.Set("b", 5)
	m.Set("c", 1)

	// c has the smallest value, so it sorts first regardless of insertion order.
	key, value, ok := m.PeekItem()
	if !ok || key != "c" || value != 1 {
		t.Fatalf("expected (c, 1) at top, got (%v, %v, %v)", key, value, ok)
	}

	m.Delete("c")

	// a and b tie at 5; a was inserted first, so it sorts first.
	key, _, ok = m.PeekItem()
	if !ok || key != "a" {
		t.Fatalf("expected a to win the tie, got %v", key)
	}
}

func TestHeapMapSetBumpsTieBreakSerial(t *testing.T) {
	m := newHeapMap[string, int](func(a, b int) bool { return a < b })

	m.Set("a", 1)
	m.Set("b", 1)

	key, _, _ := m.PeekItem()
	if key != "a" {
		t.Fatalf("expected a first, got %v", key)
	}

	// Re-setting a with the same value moves it to the back of its class.
	m.Set("a", 1)

	key, _, _ = m.PeekItem()
	if key != "b" {
		t.Fatalf("expected b to move ahead after a was re-set, got %v", key)
	}
}

func TestHeapMapDeleteIsNoopWhenAbsent(t *testing.T) {
	m := newHeapMap[string, int](func(a, b int) bool { return a < b })
	m.Delete("nonexistent") // must not panic

	if m.Len() != 0 {
		t.Fatalf("expected empty map, got len %d", m.Len())
	}
	if _, ok := m.Get("nonexistent"); ok {
		t.Fatalf("expected Get to report absent")
	}
}

func TestHeapMapGetAndHas(t *testing.T) {
	m := newHeapMap[string, int](func(a, b int) bool { return a < b })
	m.Set("x", 42)

	if !m.Has("x") {
		t.Fatalf("expected Has(x) to be true")
	}
	v, ok := m.Get("x")
	if !ok || v != 42 {
		t.Fatalf("expected Get(x) = (42, true), got (%v, %v)", v, ok)
	}

	m.Delete("x")
	if m.Has("x") {
		t.Fatalf("expected Has(x) to be false after delete")
	}
}

func TestHeapMapPeekOnEmpty(t *testing.T) {
	m := newHeapMap[string, int](func(a, b int) bool { return a < b })
	if _, ok := m.Peek(); ok {
		t.Fatalf("expected Peek on empty map to report not-ok")
	}
	if _, _, ok := m.PeekItem(); ok {
		t.Fatalf("expected PeekItem on empty map to report not-ok")
	}
}

func TestLessReadaheadKeyOrdering(t *testing.T) {
	cases := []struct {
		name string
		a, b readaheadKey
		want bool
	}{
		{"not-spent beats spent", readaheadKey{spent: false, length: 0}, readaheadKey{spent: true, length: 0}, true},
		{"spent never beats not-spent", readaheadKey{spent: true, length: 0}, readaheadKey{spent: false, length: 0}, false},
		{"shorter queue wins among equals", readaheadKey{spent: false, length: 1}, readaheadKey{spent: false, length: 2}, true},
		{"equal keys are not less", readaheadKey{spent: false, length: 1}, readaheadKey{spent: false, length: 1}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := lessReadaheadKey(c.a, c.b); got != c.want {
				t.Fatalf("lessReadaheadKey(%+v, %+v) = %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}
