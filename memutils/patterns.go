package memutils

const (
	// UninitializedByte is written over every freshly allocated slot in debug builds so that reads
	// of uninitialized memory are easy to spot
	UninitializedByte byte = 0xAB
	// FreedByte is written over every freed slot in debug builds to aid use-after-free detection
	FreedByte byte = 0xCD
)
