package memutils

// Validatable is implemented by allocator structures that can check their own invariants.
// DebugValidate calls it in debug builds.
type Validatable interface {
	Validate() error
}
