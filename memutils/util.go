package memutils

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func CheckAlign(value int, alignment uint, name string) error {
	if AlignDown(value, alignment) != value {
		return cerrors.Wrapf(AlignmentError, "%s is %d, alignment is %d", name, value, alignment)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// NextPow2 rounds value up to the nearest power of two. Values below 2 round
// up to 2 so that there is always at least one index bit available when the
// result is used to size an index space.
func NextPow2(value uint32) uint32 {
	if value < 2 {
		return 2
	}
	return 1 << bits.Len32(value-1)
}
