package memutils

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uintptr
}

func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// AlignUpPtr and AlignDownPtr are the address-space versions of AlignUp
func AlignUpPtr(value uintptr, alignment uintptr) uintptr {
	return (value + alignment - 1) &^ (alignment - 1)
}

func AlignDownPtr(value uintptr, alignment uintptr) uintptr {
	return value &^ (alignment - 1)
}

// Order returns the 1-based position of the highest set bit in value, i.e. the number of bits needed
// to represent it. Order(0) is 0.
func Order(value uint) int {
	return bits.UintSize - bits.LeadingZeros(value)
}
