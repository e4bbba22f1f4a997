package partition

import "github.com/cockroachdb/errors"

var (
	// ErrOutOfMemory indicates the OS refused to provide memory for a slot span or direct mapping
	ErrOutOfMemory = errors.New("partition allocator out of memory")
	// ErrPartitionFull indicates a root has reserved MaxPartitionSize bytes of super pages
	ErrPartitionFull = errors.New("partition is full")
	// ErrExcessiveAllocationSize indicates a request larger than the root can ever serve
	ErrExcessiveAllocationSize = errors.New("allocation size is too large")
	// ErrDoubleFree indicates a slot was freed while already free
	ErrDoubleFree = errors.New("double free detected")
	// ErrCorruption indicates allocator metadata or slot cookies were overwritten
	ErrCorruption = errors.New("partition metadata corrupted")
	// ErrInvalidPointer indicates a pointer that was not returned from this root
	ErrInvalidPointer = errors.New("pointer does not belong to this partition")
	// ErrLeakDetected is returned from Shutdown when allocations were never freed
	ErrLeakDetected = errors.New("some allocations were not freed before shutdown")
	// ErrBucketFull indicates the full slot span counter of a bucket overflowed
	ErrBucketFull = errors.New("bucket has too many full slot spans")
)
