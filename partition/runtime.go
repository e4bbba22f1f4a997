package partition

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/partalloc/pages"
	"golang.org/x/exp/slog"
)

// Runtime is the state shared by every root in a process: the page provider, the logger, and the
// sentinels that empty buckets point at. A Runtime may back any number of roots.
type Runtime struct {
	logger   *slog.Logger
	provider pages.Provider

	// seedPage is the active page of every bucket that has never allocated. Its freelist is always
	// empty, so the first allocation from a bucket always takes the slow path.
	seedPage partitionPage
	// pagedBucket is returned by generic size lookups that fall outside the bucketed range. It has no
	// slot spans, which routes those allocations to the direct map.
	pagedBucket Bucket
}

// NewRuntime creates a Runtime that obtains memory from the provided Provider
func NewRuntime(logger *slog.Logger, provider pages.Provider) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}

	rt := &Runtime{
		logger:   logger,
		provider: provider,
	}

	rt.seedPage.state = pageStateSeed
	rt.seedPage.emptyCacheIndex = -1
	rt.pagedBucket.init(rt, 0)

	return rt
}

var (
	defaultRuntimeOnce sync.Once
	defaultRuntime     *Runtime
	defaultRuntimeErr  error
)

// DefaultRuntime returns the process-wide Runtime backed by the host OS and slog.Default(). It is
// created on first use.
func DefaultRuntime() (*Runtime, error) {
	defaultRuntimeOnce.Do(func() {
		system, err := pages.NewSystem(slog.Default())
		if err != nil {
			defaultRuntimeErr = err
			return
		}

		defaultRuntime = NewRuntime(slog.Default(), system)
	})

	return defaultRuntime, defaultRuntimeErr
}

func (rt *Runtime) Logger() *slog.Logger {
	return rt.logger
}

// crash reports an unrecoverable condition. The allocator's state cannot be trusted after it runs,
// so it never returns.
func (rt *Runtime) crash(err error) {
	rt.logger.LogAttrs(context.Background(), slog.LevelError, "partition allocator crashed",
		slog.String("error", err.Error()),
	)
	panic(err)
}

func (rt *Runtime) crashf(sentinel error, format string, args ...any) {
	rt.crash(errors.Wrapf(sentinel, format, args...))
}

func (rt *Runtime) isSeedPage(page *partitionPage) bool {
	return page == &rt.seedPage
}
