package handles

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/fathom/memutils"
)

// Slots are stored as a single slab. A slot's key packs its own index and its
// current generation while the slot is occupied. While the slot is free or
// retired, the index field of the key is repurposed: for a free slot it holds
// the index of the next slot in the intrusive free list, and in both cases it
// deliberately differs from the slot's own position so that no incoming
// Handle can ever compare equal to the key of a slot that holds no value.
type slot[T any] struct {
	key   Handle[T]
	value T
}

// Pool is a generational slot allocator. Values inserted into the Pool are
// identified by opaque Handle weak references; the Pool is the sole owner of
// every value it holds.
//
// A Pool's capacity is fixed at construction: the requested minimum slot
// count is rounded up to the next power of two and the Pool will never
// materialize more slots than that. Keeping the capacity a power of two makes
// the index math a bitmask rather than a hash or a division.
//
// Each slot carries a generation counter that is incremented every time the
// slot's value is removed. A slot whose generation reaches the maximum value
// representable in the Handle's generation bits is retired: it is excluded
// from the free list and will never be reused. Retirement is what guarantees
// that a stale Handle can never alias a newer occupant of the same slot.
//
// A Pool is not safe for concurrent use. Per the renderer's threading
// discipline a single goroutine drives all pool operations; callers that need
// sharing wrap the owning object, not the Pool.
type Pool[T any] struct {
	slots      []slot[T]
	firstFree  uint32
	numFree    uint32
	numRetired uint32

	indexBits     uint32
	maxElements   uint32
	maxGeneration uint32
}

// NewPool creates a Pool whose capacity is minSlots rounded up to the next
// power of two. The slot slab starts empty and grows by appending until the
// capacity is reached; it never grows beyond it.
//
// minSlots may not imply more than 31 index bits- a pool that large could not
// distinguish generations at all. That is a construction-time bug in the
// caller, not a runtime condition, so it panics.
func NewPool[T any](minSlots uint32) *Pool[T] {
	maxElements := memutils.NextPow2(minSlots)
	indexBits := uint32(bits.Len32(maxElements - 1))
	if indexBits > 31 {
		panic("handles: pool capacity leaves no generation bits")
	}

	return newPoolLayout[T](indexBits, 32-indexBits)
}

// newPoolLayout builds a Pool with an explicit index/generation bit split.
// Production pools always give the generation every bit the index does not
// need; tests shrink the generation field to make retirement reachable.
func newPoolLayout[T any](indexBits, generationBits uint32) *Pool[T] {
	return &Pool[T]{
		indexBits:     indexBits,
		maxElements:   1 << indexBits,
		maxGeneration: 1<<generationBits - 1,
	}
}

// PreallocatePool creates a Pool as NewPool does, but reserves the entire
// slot slab up front so that no further allocation growth is ever needed for
// the index arrays- only values move in and out afterwards.
func PreallocatePool[T any](minSlots uint32) *Pool[T] {
	pool := NewPool[T](minSlots)
	pool.slots = make([]slot[T], 0, pool.maxElements)
	return pool
}

// Insert places value into the Pool and returns a fresh Handle for it. The
// free list is consumed first; when it is empty a new slot is materialized at
// generation zero, capacity permitting.
//
// When no slot is available Insert fails with TooManyObjectsError if every
// slot currently holds a live value, or with ExhaustedError if the shortfall
// is due to retired slots- the latter is permanent.
func (p *Pool[T]) Insert(value T) (Handle[T], error) {
	if p.numFree > 0 {
		index := p.firstFree
		s := &p.slots[index]

		p.firstFree = s.key.index(p.indexBits)
		p.numFree--

		// The slot keeps the generation it was left with at remove time
		s.key = packHandle[T](index, s.key.generation(p.indexBits), p.indexBits)
		s.value = value

		memutils.DebugValidate(p)
		return s.key, nil
	}

	if uint32(len(p.slots)) < p.maxElements {
		index := uint32(len(p.slots))
		handle := packHandle[T](index, 0, p.indexBits)
		p.slots = append(p.slots, slot[T]{key: handle, value: value})

		memutils.DebugValidate(p)
		return handle, nil
	}

	if p.Count() == int(p.maxElements) {
		return Handle[T]{}, errors.Wrapf(TooManyObjectsError,
			"%d slots allocated, %d retired, capacity %d",
			len(p.slots), p.numRetired, p.maxElements)
	}

	return Handle[T]{}, errors.Wrapf(ExhaustedError,
		"%d slots allocated, %d retired, capacity %d",
		len(p.slots), p.numRetired, p.maxElements)
}

// Get returns a pointer to the value identified by handle, or nil if the
// handle is stale, foreign, or out of range. A nil return is a routine
// occurrence for weak references, not an error.
func (p *Pool[T]) Get(handle Handle[T]) *T {
	index := handle.index(p.indexBits)
	if index >= uint32(len(p.slots)) {
		return nil
	}

	s := &p.slots[index]
	if s.key != handle {
		return nil
	}

	return &s.value
}

// Contains reports whether handle currently identifies a live value.
func (p *Pool[T]) Contains(handle Handle[T]) bool {
	return p.Get(handle) != nil
}

// Remove takes the value identified by handle out of the Pool and returns it,
// so the caller can release any external resources the value carries at a
// known-safe point. The second return is false if the handle was stale.
//
// The vacated slot rejoins the free list with its generation incremented,
// unless the increment would overflow the generation field- in that case the
// slot is permanently retired.
func (p *Pool[T]) Remove(handle Handle[T]) (T, bool) {
	var zero T

	index := handle.index(p.indexBits)
	if index >= uint32(len(p.slots)) {
		return zero, false
	}

	s := &p.slots[index]
	if s.key != handle {
		return zero, false
	}

	value := s.value
	s.value = zero

	p.recycleSlot(index, s)

	memutils.DebugValidate(p)
	return value, true
}

// recycleSlot links a just-vacated slot back into the free list, or retires
// it when its generation has hit the ceiling. The key's index field must end
// up different from the slot's own position; when the free list is empty the
// next-free field is filled with a neighboring index to preserve that.
func (p *Pool[T]) recycleSlot(index uint32, s *slot[T]) {
	generation := s.key.generation(p.indexBits)
	mask := p.maxElements - 1

	if generation >= p.maxGeneration {
		s.key = packHandle[T]((index+1)&mask, generation, p.indexBits)
		p.numRetired++
		return
	}

	next := p.firstFree
	if p.numFree == 0 {
		next = (index + 1) & mask
	}
	s.key = packHandle[T](next, generation+1, p.indexBits)
	p.firstFree = index
	p.numFree++
}

// Count returns the number of live values in the Pool.
func (p *Pool[T]) Count() int {
	return len(p.slots) - int(p.numFree) - int(p.numRetired)
}

// RemainingCapacity returns the number of values that could still be inserted
// before the Pool reports an error.
func (p *Pool[T]) RemainingCapacity() int {
	return int(p.maxElements) - len(p.slots) + int(p.numFree)
}

// Retired returns the number of slots permanently removed from circulation.
func (p *Pool[T]) Retired() int {
	return int(p.numRetired)
}

// Statistics reports the Pool's slot occupancy.
func (p *Pool[T]) Statistics() memutils.SlotStatistics {
	return memutils.SlotStatistics{
		TotalSlots:   len(p.slots),
		FreeSlots:    int(p.numFree),
		RetiredSlots: int(p.numRetired),
		Capacity:     int(p.maxElements),
	}
}

// Drain removes every live value from the Pool, invoking release for each one
// exactly once. Owners call Drain during teardown so that values carrying GPU
// or OS handles can be destroyed while the device is still available; Go's
// garbage collector cannot do that for us. release may be nil.
func (p *Pool[T]) Drain(release func(T)) {
	for i := range p.slots {
		index := uint32(i)
		s := &p.slots[i]
		if s.key.index(p.indexBits) != index {
			// Free or retired
			continue
		}

		value := s.value
		var zero T
		s.value = zero
		p.recycleSlot(index, s)

		if release != nil {
			release(value)
		}
	}

	memutils.DebugValidate(p)
}

// Validate performs internal consistency checks on the Pool's free list and
// counters. When the Pool is functioning correctly this cannot fail; it
// exists to diagnose implementation bugs via memutils.DebugValidate.
func (p *Pool[T]) Validate() error {
	if p.numFree > 0 && p.firstFree >= uint32(len(p.slots)) {
		return errors.Errorf("free list head %d is out of range (%d slots)", p.firstFree, len(p.slots))
	}

	visited := 0
	current := p.firstFree
	for visited < int(p.numFree) {
		if current >= uint32(len(p.slots)) {
			return errors.Errorf("free list walked out of range at %d", current)
		}
		s := &p.slots[current]
		if s.key.index(p.indexBits) == current {
			return errors.Errorf("free list contains occupied slot %d", current)
		}
		current = s.key.index(p.indexBits)
		visited++
	}

	occupied := 0
	for i := range p.slots {
		if p.slots[i].key.index(p.indexBits) == uint32(i) {
			occupied++
		}
	}
	if occupied != p.Count() {
		return errors.Errorf("%d slots appear occupied but counters claim %d live values", occupied, p.Count())
	}

	return nil
}
