package queue

import (
	"slices"
	"sort"
)

// FIFO is an arrival-ordered Store. It accepts every value.
type FIFO[T any] struct {
	items []T
	head  int
}

// NewFIFO creates an empty FIFO store.
func NewFIFO[T any]() *FIFO[T] {
	return &FIFO[T]{}
}

func (f *FIFO[T]) Add(v T) bool {
	f.items = append(f.items, v)
	return true
}

func (f *FIFO[T]) Next() (T, bool) {
	var zero T
	if f.head >= len(f.items) {
		return zero, false
	}
	v := f.items[f.head]
	f.items[f.head] = zero
	f.head++
	if f.head == len(f.items) {
		f.items = f.items[:0]
		f.head = 0
	} else if f.head > 64 && f.head > len(f.items)/2 {
		n := copy(f.items, f.items[f.head:])
		clear(f.items[n:])
		f.items = f.items[:n]
		f.head = 0
	}
	return v, true
}

func (f *FIFO[T]) Len() int { return len(f.items) - f.head }

func (f *FIFO[T]) Drain() []T {
	out := slices.Clone(f.items[f.head:])
	clear(f.items)
	f.items = f.items[:0]
	f.head = 0
	return out
}

// Sorted is an unordered Store that dispatches the minimum value under a
// comparator. Add rejects a value whose key is already stored; Next scans
// every stored value, so both Next and Add-after-Next are O(n).
type Sorted[T any, K comparable] struct {
	items []T
	keys  map[K]struct{}
	less  func(a, b T) bool
	key   func(T) K
}

// NewSorted creates a Sorted store ordered by less and deduplicated by key.
// Next swap-removes the minimum, so values that compare equal come out in an
// order that depends on earlier removals, not on insertion order. Make less a
// total order, for example by breaking ties on a sequence number, when FIFO
// among equals matters.
func NewSorted[T any, K comparable](less func(a, b T) bool, key func(T) K) *Sorted[T, K] {
	return &Sorted[T, K]{
		keys: make(map[K]struct{}),
		less: less,
		key:  key,
	}
}

func (s *Sorted[T, K]) Add(v T) bool {
	k := s.key(v)
	if _, dup := s.keys[k]; dup {
		return false
	}
	s.keys[k] = struct{}{}
	s.items = append(s.items, v)
	return true
}

func (s *Sorted[T, K]) Next() (T, bool) {
	var zero T
	if len(s.items) == 0 {
		return zero, false
	}
	min := 0
	for i := 1; i < len(s.items); i++ {
		if s.less(s.items[i], s.items[min]) {
			min = i
		}
	}
	v := s.items[min]
	last := len(s.items) - 1
	s.items[min] = s.items[last]
	s.items[last] = zero
	s.items = s.items[:last]
	delete(s.keys, s.key(v))
	return v, true
}

func (s *Sorted[T, K]) Len() int { return len(s.items) }

func (s *Sorted[T, K]) Drain() []T {
	out := slices.Clone(s.items)
	sort.SliceStable(out, func(i, j int) bool { return s.less(out[i], out[j]) })
	clear(s.items)
	s.items = s.items[:0]
	clear(s.keys)
	return out
}
