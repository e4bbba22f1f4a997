package partition

import "strings"

func flagsToString[T ~int32](value T, mapping map[T]string) string {
	if value == 0 {
		return "None"
	}

	var parts []string
	for bit := T(1); bit != 0 && bit <= value; bit <<= 1 {
		if value&bit == 0 {
			continue
		}

		name, ok := mapping[bit]
		if !ok {
			name = "Unknown"
		}
		parts = append(parts, name)
	}

	return strings.Join(parts, "|")
}

// AllocFlags alter the failure behavior of a single allocation
type AllocFlags int32

const (
	// AllocReturnNull causes out of memory and partition full conditions to return an error instead
	// of crashing the process
	AllocReturnNull AllocFlags = 1 << iota
)

var allocFlagsMapping = map[AllocFlags]string{
	AllocReturnNull: "AllocReturnNull",
}

func (f AllocFlags) String() string {
	return flagsToString(f, allocFlagsMapping)
}

// PurgeFlags select which kinds of unused memory PurgeMemory releases
type PurgeFlags int32

const (
	// PurgeDecommitEmptyPages decommits every slot span waiting in the empty page ring
	PurgeDecommitEmptyPages PurgeFlags = 1 << iota
)

var purgeFlagsMapping = map[PurgeFlags]string{
	PurgeDecommitEmptyPages: "PurgeDecommitEmptyPages",
}

func (f PurgeFlags) String() string {
	return flagsToString(f, purgeFlagsMapping)
}
