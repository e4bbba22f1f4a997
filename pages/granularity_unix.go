//go:build !windows

package pages

const (
	// AllocationGranularity is the alignment and size multiple of every mapping created by AllocPages
	AllocationGranularity int = 4096

	// hintIsAdvisory reports whether the OS treats an address hint as a suggestion rather than a demand
	hintIsAdvisory = true
)
