package handles

// Handle is an opaque weak reference to a value owned by a Pool. It packs a
// slot index and a generation counter into a single 32-bit value; the split
// between index bits and generation bits belongs to the Pool that issued the
// Handle and is derived from the Pool's minimum slot count.
//
// Two Handles are equal if and only if their packed values are equal. A
// Handle never owns the value it refers to: after the value is removed from
// its Pool the Handle goes stale, and all Pool accessors treat a stale Handle
// as "not found" rather than as an error.
//
// The type parameter is a phantom tag. A Handle[Texture] and a Handle[Window]
// have the same runtime representation but cannot be confused at compile time,
// even though both are just integers.
type Handle[T any] struct {
	packed uint32
}

// Packed returns the raw 32-bit representation of the Handle. It is useful
// for logging and for storing Handles in untyped containers; a Handle
// reconstructed from a packed value with the wrong Pool is simply stale.
func (h Handle[T]) Packed() uint32 {
	return h.packed
}

// HandleFromPacked reconstructs a Handle from its raw representation.
func HandleFromPacked[T any](packed uint32) Handle[T] {
	return Handle[T]{packed: packed}
}

func packHandle[T any](index, generation, indexBits uint32) Handle[T] {
	return Handle[T]{packed: generation<<indexBits | index}
}

func (h Handle[T]) index(indexBits uint32) uint32 {
	return h.packed & (1<<indexBits - 1)
}

func (h Handle[T]) generation(indexBits uint32) uint32 {
	return h.packed >> indexBits
}
