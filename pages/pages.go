package pages

import (
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/partalloc/memutils"
	"golang.org/x/exp/slog"
)

const (
	// SystemPageSize is the protection and commit granularity the partition allocator is built around.
	// The layout of partition pages and super pages assumes it is exactly 4KiB.
	SystemPageSize       int     = 4096
	SystemPageOffsetMask uintptr = uintptr(SystemPageSize) - 1
	SystemPageBaseMask   uintptr = ^SystemPageOffsetMask

	AllocationGranularityOffsetMask uintptr = uintptr(AllocationGranularity) - 1
	AllocationGranularityBaseMask   uintptr = ^AllocationGranularityOffsetMask

	// maxAllocRetries bounds the over-allocate-and-trim loop in AllocPages
	maxAllocRetries = 100
	// exactAllocAttempts is the number of randomized, exact-size mappings attempted before falling back
	// to over-allocation
	exactAllocAttempts = 3
)

var (
	// ErrOutOfAddressSpace is returned from AllocPages when the OS refused to map the requested range
	// or no aligned range could be found within the retry budget
	ErrOutOfAddressSpace = errors.New("unable to reserve aligned address space")
	// ErrInvalidArgument is returned when a length, alignment or address is not a multiple of the
	// granularity the operation requires
	ErrInvalidArgument = errors.New("invalid page allocation argument")
)

// Accessibility indicates whether a range of pages can be read and written
type Accessibility int

const (
	PageAccessible Accessibility = iota
	PageInaccessible
)

var accessibilityMapping = map[Accessibility]string{
	PageAccessible:   "PageAccessible",
	PageInaccessible: "PageInaccessible",
}

func (a Accessibility) String() string {
	return accessibilityMapping[a]
}

//go:generate mockgen -source pages.go -destination ./mocks/mock_provider.go -package mocks Provider

// Provider is the operating system boundary of the partition allocator. It reserves, commits,
// protects, decommits and releases virtual memory.
type Provider interface {
	// AllocPages maps length bytes aligned to align. hint is a suggested base address, or 0 to let
	// the provider choose a randomized one. length and align must be multiples of
	// AllocationGranularity, and align must be a power of two.
	AllocPages(hint uintptr, length, align int, access Accessibility) (unsafe.Pointer, error)
	// FreePages releases exactly a range previously returned from AllocPages
	FreePages(addr unsafe.Pointer, length int) error

	SetSystemPagesInaccessible(addr unsafe.Pointer, length int) error
	SetSystemPagesAccessible(addr unsafe.Pointer, length int) error

	// DecommitSystemPages releases the physical backing of a range while keeping the address space
	// reserved. The contents of the range are unspecified after RecommitSystemPages.
	DecommitSystemPages(addr unsafe.Pointer, length int) error
	RecommitSystemPages(addr unsafe.Pointer, length int) error
}

// System is the Provider backed by the host operating system
type System struct {
	logger *slog.Logger
	random ranctx
}

var _ Provider = &System{}

// NewSystem creates a Provider for the host operating system. It fails if the host's page size
// does not match SystemPageSize.
func NewSystem(logger *slog.Logger) (*System, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if pageSize := os.Getpagesize(); pageSize != SystemPageSize {
		return nil, errors.Newf("the host page size is %d bytes, but the partition allocator requires %d byte pages", pageSize, SystemPageSize)
	}

	return &System{logger: logger}, nil
}

func checkSystemPageRange(addr unsafe.Pointer, length int) error {
	if uintptr(addr)&SystemPageOffsetMask != 0 {
		return errors.Wrapf(ErrInvalidArgument, "address %#x is not system page aligned", uintptr(addr))
	}
	if length <= 0 || uintptr(length)&SystemPageOffsetMask != 0 {
		return errors.Wrapf(ErrInvalidArgument, "length %d is not a positive multiple of the system page size", length)
	}

	return nil
}

func (s *System) AllocPages(hint uintptr, length, align int, access Accessibility) (unsafe.Pointer, error) {
	if length < AllocationGranularity || uintptr(length)&AllocationGranularityOffsetMask != 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "length %d is not a positive multiple of the allocation granularity", length)
	}
	if align < AllocationGranularity || uintptr(align)&AllocationGranularityOffsetMask != 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "alignment %d is not a multiple of the allocation granularity", align)
	}
	if err := memutils.CheckPow2(align, "alignment"); err != nil {
		return nil, errors.Mark(err, ErrInvalidArgument)
	}

	alignOffsetMask := uintptr(align) - 1
	alignBaseMask := ^alignOffsetMask
	if hint&alignOffsetMask != 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "hint %#x is not aligned to %d", hint, align)
	}

	if hint == 0 {
		hint = s.RandomPageBase() & alignBaseMask
	}

	// First try to get an exact-size, aligned mapping from a randomized base
	for count := 0; count < exactAllocAttempts; count++ {
		ret, err := systemAllocPages(hint, length, access)
		if err == nil {
			if uintptr(ret)&alignOffsetMask == 0 {
				return ret, nil
			}

			err = systemFreePages(ret, length)
			if err != nil {
				return nil, err
			}
		} else if !hintIsAdvisory && hint == 0 {
			// An unhinted mapping failed, so we are out of memory
			return nil, errors.Mark(err, ErrOutOfAddressSpace)
		}

		hint = s.RandomPageBase() & alignBaseMask
	}

	s.logger.Debug("pages::AllocPages falling back to aligned over-allocation",
		slog.Int("Length", length),
		slog.Int("Alignment", align))

	// Map a larger region so we can carve an aligned range out of it
	tryLen := length + (align - AllocationGranularity)
	if tryLen < length {
		return nil, errors.Wrapf(ErrInvalidArgument, "length %d with alignment %d overflows", length, align)
	}

	var lastErr error
	for count := 0; count < maxAllocRetries; count++ {
		hint = 0
		if hintIsAdvisory {
			hint = s.RandomPageBase() & alignBaseMask
		}

		base, err := systemAllocPages(hint, tryLen, access)
		if err != nil {
			return nil, errors.Mark(err, ErrOutOfAddressSpace)
		}

		ret, err := trimMapping(base, tryLen, length, align, access)
		if err != nil {
			return nil, err
		}
		if ret != nil {
			return ret, nil
		}
		lastErr = errors.Newf("lost the race for an aligned mapping of %d bytes", length)
	}

	return nil, errors.Mark(errors.Wrapf(lastErr, "gave up after %d attempts", maxAllocRetries), ErrOutOfAddressSpace)
}

func (s *System) FreePages(addr unsafe.Pointer, length int) error {
	if uintptr(addr)&AllocationGranularityOffsetMask != 0 || uintptr(length)&AllocationGranularityOffsetMask != 0 {
		return errors.Wrapf(ErrInvalidArgument, "cannot free %d bytes at %#x: range is not granularity aligned", length, uintptr(addr))
	}

	return systemFreePages(addr, length)
}

func (s *System) SetSystemPagesInaccessible(addr unsafe.Pointer, length int) error {
	if err := checkSystemPageRange(addr, length); err != nil {
		return err
	}

	return setSystemPagesInaccessible(addr, length)
}

func (s *System) SetSystemPagesAccessible(addr unsafe.Pointer, length int) error {
	if err := checkSystemPageRange(addr, length); err != nil {
		return err
	}

	return setSystemPagesAccessible(addr, length)
}

func (s *System) DecommitSystemPages(addr unsafe.Pointer, length int) error {
	if err := checkSystemPageRange(addr, length); err != nil {
		return err
	}

	return decommitSystemPages(addr, length)
}

func (s *System) RecommitSystemPages(addr unsafe.Pointer, length int) error {
	if err := checkSystemPageRange(addr, length); err != nil {
		return err
	}

	return recommitSystemPages(addr, length)
}
