package main

import (
	"context"
	"math/rand"
	"sync"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"github.com/vkngwrapper/partalloc/partition"
	"golang.org/x/exp/slog"
)

// WorkloadResult totals the operations performed by every worker
type WorkloadResult struct {
	Allocs   int
	Frees    int
	Reallocs int
	Purges   int
	Elapsed  time.Duration
}

func (r *WorkloadResult) add(other *WorkloadResult) {
	r.Allocs += other.Allocs
	r.Frees += other.Frees
	r.Reallocs += other.Reallocs
	r.Purges += other.Purges
}

type liveAllocation struct {
	ptr     unsafe.Pointer
	size    int
	pattern byte
}

type worker struct {
	root   *partition.GenericRoot
	cfg    *Config
	random *rand.Rand
	live   []liveAllocation
	result WorkloadResult
}

func (w *worker) pickSize() int {
	totalWeight := 0
	for _, class := range w.cfg.Sizes {
		totalWeight += class.Weight
	}

	pick := w.random.Intn(totalWeight)
	for _, class := range w.cfg.Sizes {
		if pick < class.Weight {
			return class.Min + w.random.Intn(class.Max-class.Min+1)
		}
		pick -= class.Weight
	}

	panic(errors.AssertionFailedf("size class weights changed during the workload"))
}

func fill(ptr unsafe.Pointer, size int, pattern byte) {
	data := unsafe.Slice((*byte)(ptr), size)
	for i := range data {
		data[i] = pattern
	}
}

// verify checks the first and last bytes of an allocation, which are the ones neighbors would clobber
func verify(allocation liveAllocation) error {
	data := unsafe.Slice((*byte)(allocation.ptr), allocation.size)
	if data[0] != allocation.pattern || data[len(data)-1] != allocation.pattern {
		return errors.Newf("allocation %p of %d bytes was overwritten", allocation.ptr, allocation.size)
	}

	return nil
}

func (w *worker) alloc() {
	size := w.pickSize()
	ptr := w.root.Alloc(size)
	pattern := byte(w.random.Intn(256))
	fill(ptr, size, pattern)

	w.live = append(w.live, liveAllocation{ptr: ptr, size: size, pattern: pattern})
	w.result.Allocs++
}

func (w *worker) free(index int) error {
	allocation := w.live[index]
	if err := verify(allocation); err != nil {
		return err
	}

	w.root.Free(allocation.ptr)
	w.live[index] = w.live[len(w.live)-1]
	w.live = w.live[:len(w.live)-1]
	w.result.Frees++
	return nil
}

func (w *worker) realloc(index int) error {
	allocation := &w.live[index]
	if err := verify(*allocation); err != nil {
		return err
	}

	newSize := w.pickSize()
	allocation.ptr = w.root.Realloc(allocation.ptr, newSize)

	// The contents were preserved up to the smaller size; repaint the whole allocation
	allocation.size = newSize
	fill(allocation.ptr, newSize, allocation.pattern)
	w.result.Reallocs++
	return nil
}

func (w *worker) run(ctx context.Context) error {
	for i := 0; i < w.cfg.Iterations; i++ {
		if ctx.Err() != nil {
			break
		}

		if w.cfg.PurgeEvery > 0 && i > 0 && i%w.cfg.PurgeEvery == 0 {
			w.root.PurgeMemory(partition.PurgeDecommitEmptyPages)
			w.result.Purges++
		}

		var err error
		switch {
		case len(w.live) > 0 && w.random.Float64() < w.cfg.ReallocRatio:
			err = w.realloc(w.random.Intn(len(w.live)))
		case len(w.live) == w.cfg.MaxLive || (len(w.live) > 0 && w.random.Intn(2) == 0):
			err = w.free(w.random.Intn(len(w.live)))
		default:
			w.alloc()
		}
		if err != nil {
			return err
		}
	}

	for len(w.live) > 0 {
		if err := w.free(len(w.live) - 1); err != nil {
			return err
		}
	}

	return nil
}

// runWorkload drives cfg.Workers concurrent workers against root and waits for all of them. Every
// allocation a worker makes is freed before it returns, so a clean run leaves nothing live.
func runWorkload(ctx context.Context, logger *slog.Logger, root *partition.GenericRoot, cfg Config) (WorkloadResult, error) {
	var total WorkloadResult
	if err := cfg.Validate(); err != nil {
		return total, err
	}

	var lock sync.Mutex
	var errs []error
	report := func(err error) {
		lock.Lock()
		defer lock.Unlock()
		errs = append(errs, err)
	}

	// Allocator crashes surface as panics in a worker; collect them rather than losing the process
	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(v any) {
		if err, ok := v.(error); ok {
			report(errors.Wrap(err, "worker crashed"))
			return
		}
		report(errors.Newf("worker crashed: %v", v))
	}))
	if err != nil {
		return total, errors.Wrap(err, "could not create the worker pool")
	}
	defer pool.Release()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		w := &worker{
			root:   root,
			cfg:    &cfg,
			random: rand.New(rand.NewSource(cfg.Seed + int64(i))),
			live:   make([]liveAllocation, 0, cfg.MaxLive),
		}

		wg.Add(1)
		err = pool.Submit(func() {
			defer wg.Done()

			err := w.run(ctx)

			lock.Lock()
			total.add(&w.result)
			lock.Unlock()

			if err != nil {
				report(err)
			}
		})
		if err != nil {
			wg.Done()
			report(errors.Wrap(err, "could not submit a worker"))
		}
	}
	wg.Wait()
	total.Elapsed = time.Since(start)

	logger.Info("workload complete",
		slog.String("root", root.Name()),
		slog.Int("allocs", total.Allocs),
		slog.Int("frees", total.Frees),
		slog.Int("reallocs", total.Reallocs),
		slog.Int("purges", total.Purges),
		slog.Duration("elapsed", total.Elapsed),
	)

	var combined error
	for _, err := range errs {
		combined = errors.CombineErrors(combined, err)
	}

	return total, combined
}
