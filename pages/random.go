package pages

import (
	"math/bits"
	"os"
	"runtime"
	"time"
	"unsafe"

	"github.com/vkngwrapper/partalloc/internal/utils"
)

// ranctx is Bob Jenkins' small noncryptographic PRNG. It only needs to make address-space layout hard
// to guess, not to be unpredictable to an attacker with access to the process.
type ranctx struct {
	lock        utils.SpinLock
	initialized bool
	a, b, c, d  uint32
}

func (r *ranctx) next() uint32 {
	e := r.a - bits.RotateLeft32(r.b, 27)
	r.a = r.b ^ bits.RotateLeft32(r.c, 17)
	r.b = r.c + r.d
	r.c = r.d + e
	r.d = e + r.a
	return r.d
}

func (r *ranctx) seed() {
	var stackMarker int
	seed := uint32(time.Now().UnixNano())
	seed ^= uint32(os.Getpid())
	seed ^= uint32(uintptr(unsafe.Pointer(&stackMarker)))

	r.a = 0xf1ea5eed
	r.b = seed
	r.c = seed
	r.d = seed
	for i := 0; i < 20; i++ {
		r.next()
	}
	r.initialized = true
}

func (r *ranctx) Uint32() uint32 {
	r.lock.Lock()
	defer r.lock.Unlock()

	if !r.initialized {
		r.seed()
	}
	return r.next()
}

// RandomPageBase returns a randomized, allocation-granularity aligned address somewhere in the
// portion of the address space user mappings normally live in. It is only ever a hint.
func (s *System) RandomPageBase() uintptr {
	random := uint64(s.random.Uint32())
	if bits.UintSize == 64 {
		random = (random << 32) | uint64(s.random.Uint32())
		random &= randomAddressMask
		random += randomAddressOffset
	} else {
		// 32-bit address spaces are too crowded to spread out, so stay in the region above the
		// usual heap base
		random &= 0x3fffffff
		random += 0x20000000
	}

	return uintptr(random) & AllocationGranularityBaseMask
}

var randomAddressMask, randomAddressOffset = randomAddressRange(runtime.GOOS, runtime.GOARCH)

func randomAddressRange(goos, goarch string) (mask uint64, offset uint64) {
	switch {
	case goos == "windows":
		// Windows 8.1 and below have a 44-bit address space
		return 0x3ffffffffff, 0x10000000000
	case goarch == "arm64":
		// Keep to 38 bits, which every arm64 kernel configuration supports
		return 0x3fffffffff, 0x1000000000
	default:
		return 0x3fffffffffff, 0
	}
}
