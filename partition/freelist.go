package partition

import (
	"math/bits"

	"github.com/vkngwrapper/partalloc/memutils"
	"golang.org/x/sys/cpu"
)

const deepDoubleFreeCheck = memutils.DeepDoubleFreeCheck

// maskFreelistPointer obscures freelist links stored inside free slots. On little endian machines
// the byte swap turns a heap address into a noncanonical one, so a use after free that follows a
// stale link faults instead of landing in live memory.
func maskFreelistPointer(addr uintptr) uintptr {
	if cpu.IsBigEndian {
		return ^addr
	}
	return uintptr(bits.ReverseBytes(uint(addr)))
}

func (p *partitionPage) readFreelistNext(entry uintptr) uintptr {
	next := maskFreelistPointer(*(*uintptr)(p.slotPointer(entry)))
	if next == 0 {
		return 0
	}

	start := p.address()
	if next < start || next >= p.spanEnd() || (next-start)%uintptr(p.bucket.slotSize) != 0 {
		p.root().rt.crashf(ErrCorruption, "freelist entry %#x links to %#x, outside its slot span", entry, next)
	}

	return next
}

func (p *partitionPage) writeFreelistNext(entry, next uintptr) {
	*(*uintptr)(p.slotPointer(entry)) = maskFreelistPointer(next)
}
