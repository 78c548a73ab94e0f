package handles

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/fathom/memutils"
	"golang.org/x/exp/slices"
)

// Index identifies a value held by a Store. Like Handle it is a weak
// reference carrying a slot index and a generation, but the two fields are
// kept separate rather than bit-packed, and the generation has no retirement
// ceiling- it wraps silently at the top of its range. Two sufficiently
// separated inserts of the same slot could in principle collide after 2^32
// reuses; that is an accepted risk for the tree-node workloads Store serves.
type Index[T any] struct {
	index      uint32
	generation uint32
}

// Store is a simpler sibling of Pool: parallel value and generation slices
// plus an explicit stack of free indices instead of an intrusive free list.
// Stale-reference semantics are identical to Pool's- a mismatched Index is
// "not found", never an error.
//
// Like Pool, a Store is single-goroutine; see Pool for the threading
// discipline.
type Store[T any] struct {
	values      []T
	generations []uint32
	freeIndices []uint32
	maxElements uint32
}

// NewStore creates a Store that may hold at most minSlots values, rounded up
// to the next power of two.
func NewStore[T any](minSlots uint32) *Store[T] {
	return &Store[T]{
		maxElements: memutils.NextPow2(minSlots),
	}
}

// Insert places value into the Store and returns an Index for it. It fails
// with TooManyObjectsError when the Store is full of live values.
func (s *Store[T]) Insert(value T) (Index[T], error) {
	if count := len(s.freeIndices); count > 0 {
		index := s.freeIndices[count-1]
		s.freeIndices = s.freeIndices[:count-1]

		s.values[index] = value
		return Index[T]{index: index, generation: s.generations[index]}, nil
	}

	if uint32(len(s.values)) < s.maxElements {
		index := uint32(len(s.values))
		s.values = append(s.values, value)
		s.generations = append(s.generations, 0)
		return Index[T]{index: index, generation: 0}, nil
	}

	return Index[T]{}, errors.Wrapf(TooManyObjectsError,
		"%d slots allocated, capacity %d", len(s.values), s.maxElements)
}

// Get returns a pointer to the value identified by idx, or nil if idx is
// stale or out of range.
func (s *Store[T]) Get(idx Index[T]) *T {
	if idx.index >= uint32(len(s.values)) {
		return nil
	}
	if s.generations[idx.index] != idx.generation {
		return nil
	}

	return &s.values[idx.index]
}

// Contains reports whether idx currently identifies a live value.
func (s *Store[T]) Contains(idx Index[T]) bool {
	return s.Get(idx) != nil
}

// Remove takes the value identified by idx out of the Store and returns it.
// The second return is false if idx was stale. The vacated slot's generation
// is incremented- wrapping silently- and its index is pushed onto the free
// stack.
func (s *Store[T]) Remove(idx Index[T]) (T, bool) {
	var zero T

	if idx.index >= uint32(len(s.values)) {
		return zero, false
	}
	if s.generations[idx.index] != idx.generation {
		return zero, false
	}

	value := s.values[idx.index]
	s.values[idx.index] = zero
	s.generations[idx.index]++
	s.freeIndices = append(s.freeIndices, idx.index)

	return value, true
}

// Count returns the number of live values in the Store.
func (s *Store[T]) Count() int {
	return len(s.values) - len(s.freeIndices)
}

// RemainingCapacity returns the number of values that could still be
// inserted.
func (s *Store[T]) RemainingCapacity() int {
	return int(s.maxElements) - s.Count()
}

// Statistics reports the Store's slot occupancy.
func (s *Store[T]) Statistics() memutils.SlotStatistics {
	return memutils.SlotStatistics{
		TotalSlots: len(s.values),
		FreeSlots:  len(s.freeIndices),
		Capacity:   int(s.maxElements),
	}
}

// Drain removes every live value from the Store, invoking release for each
// one exactly once. The free stack is sorted so that the walk over the value
// slice can skip freed indices without visiting any slot twice. release may
// be nil.
func (s *Store[T]) Drain(release func(T)) {
	slices.Sort(s.freeIndices)

	// Only the indices that were free when the walk started count as skips;
	// the walk itself appends to the free stack.
	alreadyFree := len(s.freeIndices)
	nextFree := 0
	for i := range s.values {
		if nextFree < alreadyFree && s.freeIndices[nextFree] == uint32(i) {
			nextFree++
			continue
		}

		value := s.values[i]
		var zero T
		s.values[i] = zero
		s.generations[i]++
		s.freeIndices = append(s.freeIndices, uint32(i))

		if release != nil {
			release(value)
		}
	}
}
