package partition

// CreateFlags indicate specific root behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateExternallySynchronized ensures that a GenericRoot will not take its spin lock. The consumer
	// must guarantee it is used from only one goroutine at a time or is synchronized by some other
	// mechanism.
	CreateExternallySynchronized CreateFlags = 1 << iota
	// CreateSynchronized makes a fixed-bucket Root take a spin lock around every operation. Without
	// it, a Root must only be used from one goroutine at a time.
	CreateSynchronized
)

var createFlagsMapping = map[CreateFlags]string{
	CreateExternallySynchronized: "CreateExternallySynchronized",
	CreateSynchronized:           "CreateSynchronized",
}

func (f CreateFlags) String() string {
	return flagsToString(f, createFlagsMapping)
}

// CreateOptions contains optional settings when creating a root
type CreateOptions struct {
	// Flags indicates specific root behaviors to activate or deactivate
	Flags CreateFlags

	// OOMHook, if provided, is called just before the root crashes because the OS could not
	// provide memory. It is not called when an allocation asked for AllocReturnNull.
	OOMHook func()

	// Name identifies the root in logs, stats dumps, and metrics. It defaults to "partition"
	Name string
}

func (o CreateOptions) name() string {
	if o.Name == "" {
		return "partition"
	}
	return o.Name
}
